// Package execution implements the per-run reconciler: an event-driven
// state machine that folds the kernel's ordered event stream
// (expressions, done, cancelled) into a fresh group layout, reusing
// group identities from the layout that existed before the run started.
//
// A Run is disposable: create one per execution, feed it events in
// kernel emission order, and discard it once a terminal event arrives.
// The Run never mutates shared state; it only produces candidate
// layouts for the document store's explicit replace operation.
package execution

import (
	"errors"
	"fmt"
	"sort"

	"github.com/justapithecus/folio/groups"
	"github.com/justapithecus/folio/types"
)

// ErrRunFinished is returned when an event arrives after the run was
// torn down by a cancelled event or a stream failure.
var ErrRunFinished = errors.New("execution run already finished")

// Event is one reconciler input, decoded from a kernel frame.
type Event struct {
	Type types.KernelEventType
	// Expressions carries the announced results for an expressions
	// event. All must be pending with no output payload.
	Expressions []*types.Result
	// Expression carries the terminal result for a done event.
	Expression *types.Result
	// Cancelled carries the line ranges the kernel will not run.
	Cancelled []types.LineRange
}

// Update is the reconciler output after one event: the full candidate
// group layout plus the ids of results whose slot state is done, so
// consumers know which groups just settled.
type Update struct {
	LineGroups []*groups.LineGroup
	DoneIDs    []int64
}

// Snapshot is the group layout and result set as they existed
// immediately before the run started. The reconciler always groups
// against this immutable snapshot, never against live external state,
// so concurrent unrelated recomputation cannot race with it.
type Snapshot struct {
	// Groups is the pre-run layout, used for group id reuse and for
	// passing through groups outside a partial run's range.
	Groups []*groups.LineGroup
	// Results maps line-range keys to the latest result for that slot,
	// used to keep stale output visible while re-execution is in flight.
	Results map[string]*types.Result
}

// Run reconciles one execution's event stream.
//
// Slots are keyed by line-range composite and iterated in announcement
// order; the "promote first pending to executing" rule depends on that
// stable ordering.
type Run struct {
	executionID string
	// lineRange restricts a partial run; nil means whole document.
	lineRange *types.LineRange
	snapshot  Snapshot

	order    []string
	slots    map[string]*types.Result
	started  bool
	finished bool

	// lastEmitted is the layout produced by the previous event, used as
	// the id-matching base so group identities stay continuous across
	// the events of one run. The first event matches against the
	// pre-run snapshot.
	lastEmitted []*groups.LineGroup
}

// NewRun creates a reconciler session for one execution.
func NewRun(executionID string, lineRange *types.LineRange, snapshot Snapshot) *Run {
	if snapshot.Results == nil {
		snapshot.Results = make(map[string]*types.Result)
	}
	return &Run{
		executionID: executionID,
		lineRange:   lineRange,
		snapshot:    snapshot,
		slots:       make(map[string]*types.Result),
	}
}

// ExecutionID returns the run's execution id.
func (r *Run) ExecutionID() string {
	return r.executionID
}

// Finished reports whether the run has been torn down.
func (r *Run) Finished() bool {
	return r.finished
}

// Handle consumes one event and returns the resulting layout update.
// Events must arrive in kernel emission order.
func (r *Run) Handle(ev *Event) (*Update, error) {
	if r.finished {
		return nil, ErrRunFinished
	}

	switch ev.Type {
	case types.KernelEventExpressions:
		if r.started {
			return nil, fmt.Errorf("duplicate expressions event for execution %s", r.executionID)
		}
		r.started = true
		r.handleExpressions(ev.Expressions)
	case types.KernelEventDone:
		if ev.Expression == nil {
			return nil, fmt.Errorf("done event without expression for execution %s", r.executionID)
		}
		r.handleDone(ev.Expression)
	case types.KernelEventCancelled:
		r.handleCancelled(ev.Cancelled)
		defer func() { r.finished = true }()
	default:
		return nil, fmt.Errorf("unexpected reconciler event type %q", ev.Type)
	}

	return r.update(), nil
}

// Abort tears the run down after a stream failure: all state is
// discarded as if the run had been cancelled with no completions.
func (r *Run) Abort() {
	r.finished = true
	r.order = nil
	r.slots = make(map[string]*types.Result)
}

// Results returns a copy of the working map, keyed by line range.
// Callers use it to roll finished output forward into the next run's
// snapshot.
func (r *Run) Results() map[string]*types.Result {
	out := make(map[string]*types.Result, len(r.slots))
	for k, v := range r.slots {
		out[k] = v
	}
	return out
}

// handleExpressions seeds the working map: slot 0 executing, the rest
// pending. Slots whose line range exactly matches a slot in the pre-run
// snapshot inherit its output payload, so stale output remains visible
// while re-execution is in flight instead of flashing empty.
func (r *Run) handleExpressions(announced []*types.Result) {
	for i, res := range announced {
		slot := res.Clone()
		if i == 0 {
			slot.State = types.StateExecuting
		} else {
			slot.State = types.StatePending
		}
		if prev, ok := r.snapshot.Results[slot.Key()]; ok && prev.Output != nil {
			slot.Output = prev.Output
		}
		r.insert(slot)
	}
}

// handleDone overwrites the finished slot and advances the executing
// cursor to the first remaining pending slot, in announcement order.
// A done event for an unannounced range (the kernel's whole-document
// fallback for unparseable scripts) creates its slot on the fly.
func (r *Run) handleDone(res *types.Result) {
	terminal := res.Clone()
	terminal.State = types.StateDone
	r.insert(terminal)

	for _, key := range r.order {
		if slot := r.slots[key]; slot != nil && slot.State == types.StatePending {
			next := slot.Clone()
			next.State = types.StateExecuting
			r.slots[key] = next
			break
		}
	}
}

// handleCancelled resolves slots the kernel will not run. A slot that
// completed in an earlier run keeps its output but is forced done, as
// if it simply had not re-run; a slot that never produced output is
// deleted so no placeholder group appears for code that never executed.
func (r *Run) handleCancelled(ranges []types.LineRange) {
	for _, lr := range ranges {
		key := lr.Key()
		slot, ok := r.slots[key]
		if !ok {
			continue
		}
		if slot.Output != nil {
			settled := slot.Clone()
			settled.State = types.StateDone
			r.slots[key] = settled
		} else {
			delete(r.slots, key)
			r.removeFromOrder(key)
		}
	}
}

// update flattens the working map and derives the candidate layout.
func (r *Run) update() *Update {
	results := make([]*types.Result, 0, len(r.order))
	for _, key := range r.order {
		if slot, ok := r.slots[key]; ok {
			results = append(results, slot)
		}
	}

	matchBase := r.lastEmitted
	if matchBase == nil {
		matchBase = r.snapshot.Groups
	}
	fresh := groups.ComputeWithPrevious(results, matchBase)

	merged := fresh
	if r.lineRange != nil {
		// Partial run: snapshot groups entirely before or after the
		// target range pass through untouched; groups inside it are
		// replaced by the fresh layout.
		merged = nil
		for _, g := range r.snapshot.Groups {
			if g.LineEnd < r.lineRange.LineStart || g.LineStart > r.lineRange.LineEnd {
				merged = append(merged, g.Clone())
			}
		}
		merged = append(merged, fresh...)
		sort.Slice(merged, func(i, j int) bool { return merged[i].LineStart < merged[j].LineStart })
	}

	var doneIDs []int64
	for _, res := range results {
		if res.State == types.StateDone {
			doneIDs = append(doneIDs, res.ID)
		}
	}

	r.lastEmitted = merged
	return &Update{LineGroups: merged, DoneIDs: doneIDs}
}

func (r *Run) insert(res *types.Result) {
	key := res.Key()
	if _, ok := r.slots[key]; !ok {
		r.order = append(r.order, key)
	}
	r.slots[key] = res
}

func (r *Run) removeFromOrder(key string) {
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
