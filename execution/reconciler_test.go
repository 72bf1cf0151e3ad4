package execution

import (
	"reflect"
	"testing"

	"github.com/justapithecus/folio/groups"
	"github.com/justapithecus/folio/types"
)

func announced(id int64, lineStart, lineEnd int) *types.Result {
	return &types.Result{
		ID:        id,
		LineStart: lineStart,
		LineEnd:   lineEnd,
		State:     types.StatePending,
	}
}

func finished(id int64, lineStart, lineEnd int, items ...types.OutputItem) *types.Result {
	return &types.Result{
		ID:        id,
		LineStart: lineStart,
		LineEnd:   lineEnd,
		State:     types.StateDone,
		Output: &types.ResultOutput{
			Items:       items,
			IsInvisible: len(items) == 0,
		},
	}
}

func text(s string) types.OutputItem {
	return types.OutputItem{Kind: types.OutputText, Content: s}
}

func expressionsEvent(results ...*types.Result) *Event {
	return &Event{Type: types.KernelEventExpressions, Expressions: results}
}

func doneEvent(res *types.Result) *Event {
	return &Event{Type: types.KernelEventDone, Expression: res}
}

func cancelledEvent(ranges ...types.LineRange) *Event {
	return &Event{Type: types.KernelEventCancelled, Cancelled: ranges}
}

func spansOf(gs []*groups.LineGroup) [][2]int {
	out := make([][2]int, 0, len(gs))
	for _, g := range gs {
		out = append(out, [2]int{g.LineStart, g.LineEnd})
	}
	return out
}

// snapshotFor builds a pre-run snapshot from finished results.
func snapshotFor(results ...*types.Result) Snapshot {
	byKey := make(map[string]*types.Result)
	for _, r := range results {
		byKey[r.Key()] = r
	}
	return Snapshot{
		Groups:  groups.Compute(results),
		Results: byKey,
	}
}

func TestRun_ExpressionsSeedsSlots(t *testing.T) {
	run := NewRun("exec-1", nil, Snapshot{})

	up, err := run.Handle(expressionsEvent(
		announced(1, 1, 2),
		announced(2, 4, 5),
		announced(3, 7, 7),
	))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(up.LineGroups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(up.LineGroups))
	}
	if up.LineGroups[0].State != types.StateExecuting {
		t.Errorf("first slot should be executing, got %s", up.LineGroups[0].State)
	}
	for i, g := range up.LineGroups[1:] {
		if g.State != types.StatePending {
			t.Errorf("slot %d should be pending, got %s", i+1, g.State)
		}
	}
	if len(up.DoneIDs) != 0 {
		t.Errorf("no slots are done yet, got %v", up.DoneIDs)
	}
}

func TestRun_StaleOutputPreservedDuringReexecution(t *testing.T) {
	prior := finished(1, 1, 2, text("cached"))
	run := NewRun("exec-2", nil, snapshotFor(prior))

	up, err := run.Handle(expressionsEvent(announced(10, 1, 2), announced(11, 4, 4)))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	// The 1-2 slot re-executes but its old output stays visible: the
	// group must not flash invisible while in flight.
	g := up.LineGroups[0]
	if g.State != types.StateExecuting {
		t.Fatalf("expected executing, got %s", g.State)
	}
	if g.AllInvisible {
		t.Error("slot with carried-forward output must not be invisible")
	}

	// The 4-4 slot has no prior output and stays empty.
	if !up.LineGroups[1].AllInvisible {
		t.Error("slot without prior output should be invisible while pending")
	}
}

func TestRun_DoneAdvancesExecutingCursor(t *testing.T) {
	run := NewRun("exec-3", nil, Snapshot{})
	if _, err := run.Handle(expressionsEvent(
		announced(1, 1, 1),
		announced(2, 3, 3),
		announced(3, 5, 5),
	)); err != nil {
		t.Fatalf("expressions: %v", err)
	}

	up, err := run.Handle(doneEvent(finished(1, 1, 1, text("ok"))))
	if err != nil {
		t.Fatalf("done: %v", err)
	}

	states := []types.ResultState{}
	for _, g := range up.LineGroups {
		states = append(states, g.State)
	}
	want := []types.ResultState{types.StateDone, types.StateExecuting, types.StatePending}
	if !reflect.DeepEqual(states, want) {
		t.Errorf("expected states %v, got %v", want, states)
	}
	if !reflect.DeepEqual(up.DoneIDs, []int64{1}) {
		t.Errorf("expected doneIds [1], got %v", up.DoneIDs)
	}
}

func TestRun_DoneIDsAccumulate(t *testing.T) {
	run := NewRun("exec-4", nil, Snapshot{})
	if _, err := run.Handle(expressionsEvent(announced(1, 1, 1), announced(2, 3, 3))); err != nil {
		t.Fatalf("expressions: %v", err)
	}
	if _, err := run.Handle(doneEvent(finished(1, 1, 1, text("a")))); err != nil {
		t.Fatalf("done 1: %v", err)
	}
	up, err := run.Handle(doneEvent(finished(2, 3, 3, text("b"))))
	if err != nil {
		t.Fatalf("done 2: %v", err)
	}
	if !reflect.DeepEqual(up.DoneIDs, []int64{1, 2}) {
		t.Errorf("expected doneIds [1 2], got %v", up.DoneIDs)
	}
}

func TestRun_PartialRunMerge(t *testing.T) {
	// Existing groups [1-2],[5-6]; a run over range 3-4 with a new
	// result at 3-4 yields [1-2],[3-4],[5-6] with the outer groups'
	// ids unchanged.
	prior := []*types.Result{
		finished(1, 1, 2, text("a")),
		finished(2, 5, 6, text("b")),
	}
	snap := snapshotFor(prior...)
	outerIDs := []string{snap.Groups[0].ID, snap.Groups[1].ID}

	run := NewRun("exec-5", &types.LineRange{LineStart: 3, LineEnd: 4}, snap)
	if _, err := run.Handle(expressionsEvent(announced(3, 3, 4))); err != nil {
		t.Fatalf("expressions: %v", err)
	}
	up, err := run.Handle(doneEvent(finished(3, 3, 4, text("c"))))
	if err != nil {
		t.Fatalf("done: %v", err)
	}

	if want := [][2]int{{1, 2}, {3, 4}, {5, 6}}; !reflect.DeepEqual(spansOf(up.LineGroups), want) {
		t.Fatalf("expected spans %v, got %v", want, spansOf(up.LineGroups))
	}
	if up.LineGroups[0].ID != outerIDs[0] || up.LineGroups[2].ID != outerIDs[1] {
		t.Error("groups outside the run range must pass through with ids unchanged")
	}
}

func TestRun_PartialRunOverlapRemoval(t *testing.T) {
	// Existing groups [1-2],[3-4],[5-6],[10-11]; a run over 3-6 with one
	// result spanning 3-5 yields [1-2],[3-5],[10-11].
	prior := []*types.Result{
		finished(1, 1, 2, text("a")),
		finished(2, 3, 4, text("b")),
		finished(3, 5, 6, text("c")),
		finished(4, 10, 11, text("d")),
	}
	snap := snapshotFor(prior...)

	run := NewRun("exec-6", &types.LineRange{LineStart: 3, LineEnd: 6}, snap)
	if _, err := run.Handle(expressionsEvent(announced(5, 3, 5))); err != nil {
		t.Fatalf("expressions: %v", err)
	}
	up, err := run.Handle(doneEvent(finished(5, 3, 5, text("e"))))
	if err != nil {
		t.Fatalf("done: %v", err)
	}

	if want := [][2]int{{1, 2}, {3, 5}, {10, 11}}; !reflect.DeepEqual(spansOf(up.LineGroups), want) {
		t.Fatalf("expected spans %v, got %v", want, spansOf(up.LineGroups))
	}
}

func TestRun_CancelledRetainsCompletedSlot(t *testing.T) {
	// A cancelled slot that completed in an earlier run keeps that
	// output and settles to done, as if it simply had not re-run.
	prior := finished(1, 1, 2, text("cached"))
	run := NewRun("exec-7", nil, snapshotFor(prior))
	if _, err := run.Handle(expressionsEvent(announced(10, 1, 2), announced(11, 4, 4))); err != nil {
		t.Fatalf("expressions: %v", err)
	}

	up, err := run.Handle(cancelledEvent(
		types.LineRange{LineStart: 1, LineEnd: 2},
		types.LineRange{LineStart: 4, LineEnd: 4},
	))
	if err != nil {
		t.Fatalf("cancelled: %v", err)
	}

	// Slot 1-2 retained as done; slot 4-4 never produced output, so it
	// disappears entirely.
	if want := [][2]int{{1, 2}}; !reflect.DeepEqual(spansOf(up.LineGroups), want) {
		t.Fatalf("expected spans %v, got %v", want, spansOf(up.LineGroups))
	}
	if up.LineGroups[0].State != types.StateDone {
		t.Errorf("retained cancelled slot must be done, got %s", up.LineGroups[0].State)
	}
	if up.LineGroups[0].AllInvisible {
		t.Error("retained cancelled slot keeps its prior output")
	}

	if !run.Finished() {
		t.Error("run must be torn down after the cancelled event")
	}
	if _, err := run.Handle(doneEvent(finished(12, 4, 4, text("late")))); err != ErrRunFinished {
		t.Errorf("expected ErrRunFinished after teardown, got %v", err)
	}
}

func TestRun_GroupIDStableAcrossEvents(t *testing.T) {
	run := NewRun("exec-8", nil, Snapshot{})
	up1, err := run.Handle(expressionsEvent(announced(1, 1, 2)))
	if err != nil {
		t.Fatalf("expressions: %v", err)
	}
	up2, err := run.Handle(doneEvent(finished(1, 1, 2, text("ok"))))
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	// Within a run the id must hold steady event to event.
	if up1.LineGroups[0].ID != up2.LineGroups[0].ID {
		t.Error("group id changed between events of the same run")
	}

	run2 := NewRun("exec-9", nil, Snapshot{Groups: up2.LineGroups})
	up3, err := run2.Handle(expressionsEvent(announced(2, 1, 2)))
	if err != nil {
		t.Fatalf("expressions: %v", err)
	}
	if up3.LineGroups[0].ID != up2.LineGroups[0].ID {
		t.Error("id must persist across runs for an identical line span")
	}
}

func TestRun_UnannouncedDoneCreatesSlot(t *testing.T) {
	// Kernel convention: an unparseable script collapses to a single
	// whole-document result that was never announced.
	run := NewRun("exec-10", nil, Snapshot{})
	if _, err := run.Handle(expressionsEvent()); err != nil {
		t.Fatalf("expressions: %v", err)
	}

	up, err := run.Handle(doneEvent(finished(1, 1, 30,
		types.OutputItem{Kind: types.OutputError, Content: "syntax error on line 7"})))
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if len(up.LineGroups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(up.LineGroups))
	}
	if !up.LineGroups[0].HasError {
		t.Error("expected hasError on the syntax-error group")
	}
}

func TestRun_DuplicateExpressionsRejected(t *testing.T) {
	run := NewRun("exec-11", nil, Snapshot{})
	if _, err := run.Handle(expressionsEvent(announced(1, 1, 1))); err != nil {
		t.Fatalf("expressions: %v", err)
	}
	if _, err := run.Handle(expressionsEvent(announced(2, 2, 2))); err == nil {
		t.Fatal("second expressions event must be rejected")
	}
}

func TestRun_AbortDiscardsState(t *testing.T) {
	run := NewRun("exec-12", nil, Snapshot{})
	if _, err := run.Handle(expressionsEvent(announced(1, 1, 1))); err != nil {
		t.Fatalf("expressions: %v", err)
	}

	run.Abort()
	if !run.Finished() {
		t.Error("aborted run must be finished")
	}
	if len(run.Results()) != 0 {
		t.Error("aborted run must discard its working map")
	}
	if _, err := run.Handle(doneEvent(finished(1, 1, 1, text("late")))); err != ErrRunFinished {
		t.Errorf("expected ErrRunFinished, got %v", err)
	}
}
