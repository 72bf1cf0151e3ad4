package runtime

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/justapithecus/folio/execution"
	"github.com/justapithecus/folio/ipc"
	"github.com/justapithecus/folio/log"
	"github.com/justapithecus/folio/types"
)

func testLogger() *log.Logger {
	return log.NewLogger("test-session", "").WithOutput(io.Discard)
}

func encodeFrames(t *testing.T, frames ...*types.KernelFrame) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	enc := ipc.NewFrameEncoder(&buf)
	for _, f := range frames {
		if err := enc.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	return &buf
}

func frame(execID string, seq int64, typ types.KernelEventType) *types.KernelFrame {
	return &types.KernelFrame{
		ProtocolVersion: types.ProtocolVersion,
		ExecutionID:     execID,
		Seq:             seq,
		Type:            typ,
	}
}

func expressionsFrame(execID string, seq int64, spans ...types.ExpressionSpan) *types.KernelFrame {
	f := frame(execID, seq, types.KernelEventExpressions)
	f.Expressions = spans
	return f
}

func doneFrame(execID string, seq int64, lineStart, lineEnd int, items ...types.OutputItem) *types.KernelFrame {
	f := frame(execID, seq, types.KernelEventDone)
	f.Expression = &types.ExpressionResult{
		LineStart:   lineStart,
		LineEnd:     lineEnd,
		Output:      items,
		IsInvisible: len(items) == 0,
	}
	return f
}

func collectUpdates(updates *[]*execution.Update) UpdateFunc {
	return func(u *execution.Update) {
		*updates = append(*updates, u)
	}
}

func TestIngestion_FullRun(t *testing.T) {
	stream := encodeFrames(t,
		expressionsFrame("exec-1", 1,
			types.ExpressionSpan{NodeIndex: 0, LineStart: 1, LineEnd: 1},
			types.ExpressionSpan{NodeIndex: 1, LineStart: 3, LineEnd: 4},
		),
		doneFrame("exec-1", 2, 1, 1, types.OutputItem{Kind: types.OutputText, Content: "1"}),
		doneFrame("exec-1", 3, 3, 4, types.OutputItem{Kind: types.OutputText, Content: "2"}),
		frame("exec-1", 4, types.KernelEventComplete),
	)

	run := execution.NewRun("exec-1", nil, execution.Snapshot{})
	var updates []*execution.Update
	engine := NewIngestionEngine(stream, run, testLogger(), collectUpdates(&updates))

	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("ingestion failed: %v", err)
	}
	if !engine.HasTerminal() {
		t.Error("expected terminal frame")
	}
	if typ, _ := engine.TerminalType(); typ != types.KernelEventComplete {
		t.Errorf("expected complete terminal, got %s", typ)
	}
	if engine.CurrentSeq() != 4 {
		t.Errorf("expected seq 4, got %d", engine.CurrentSeq())
	}

	// One update per reconciled event; the complete frame produces none.
	if len(updates) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(updates))
	}
	final := updates[2]
	if len(final.LineGroups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(final.LineGroups))
	}
	for _, g := range final.LineGroups {
		if g.State != types.StateDone {
			t.Errorf("expected done group, got %s", g.State)
		}
	}
	if len(final.DoneIDs) != 2 {
		t.Errorf("expected 2 done ids, got %v", final.DoneIDs)
	}
}

func TestIngestion_DoneReusesAnnouncedResultID(t *testing.T) {
	stream := encodeFrames(t,
		expressionsFrame("exec-1", 1, types.ExpressionSpan{LineStart: 1, LineEnd: 2}),
		doneFrame("exec-1", 2, 1, 2, types.OutputItem{Kind: types.OutputText, Content: "x"}),
		frame("exec-1", 3, types.KernelEventComplete),
	)

	run := execution.NewRun("exec-1", nil, execution.Snapshot{})
	var updates []*execution.Update
	engine := NewIngestionEngine(stream, run, testLogger(), collectUpdates(&updates))

	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("ingestion failed: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	announced := updates[0].LineGroups[0].ResultIDs
	finished := updates[1].LineGroups[0].ResultIDs
	if announced[0] != finished[0] {
		t.Errorf("done must reuse announced result id: %d vs %d", announced[0], finished[0])
	}
}

func TestIngestion_CancelledRun(t *testing.T) {
	stream := encodeFrames(t,
		expressionsFrame("exec-1", 1,
			types.ExpressionSpan{LineStart: 1, LineEnd: 1},
			types.ExpressionSpan{LineStart: 3, LineEnd: 3},
		),
		doneFrame("exec-1", 2, 1, 1, types.OutputItem{Kind: types.OutputText, Content: "1"}),
		func() *types.KernelFrame {
			f := frame("exec-1", 3, types.KernelEventCancelled)
			f.CancelledExpressions = []types.LineRange{{LineStart: 3, LineEnd: 3}}
			return f
		}(),
	)

	run := execution.NewRun("exec-1", nil, execution.Snapshot{})
	var updates []*execution.Update
	engine := NewIngestionEngine(stream, run, testLogger(), collectUpdates(&updates))

	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("ingestion failed: %v", err)
	}
	if typ, _ := engine.TerminalType(); typ != types.KernelEventCancelled {
		t.Errorf("expected cancelled terminal, got %s", typ)
	}
	if !run.Finished() {
		t.Error("cancelled frame must finish the run")
	}

	// The never-run slot is gone; only the completed group remains.
	final := updates[len(updates)-1]
	if len(final.LineGroups) != 1 {
		t.Fatalf("expected 1 group after cancel, got %d", len(final.LineGroups))
	}
	if final.LineGroups[0].LineStart != 1 {
		t.Errorf("expected completed group on line 1, got %d", final.LineGroups[0].LineStart)
	}
}

func TestIngestion_SequenceViolation(t *testing.T) {
	stream := encodeFrames(t,
		expressionsFrame("exec-1", 1, types.ExpressionSpan{LineStart: 1, LineEnd: 1}),
		doneFrame("exec-1", 5, 1, 1),
	)

	run := execution.NewRun("exec-1", nil, execution.Snapshot{})
	engine := NewIngestionEngine(stream, run, testLogger(), nil)

	err := engine.Run(context.Background())
	if !IsStreamError(err) {
		t.Fatalf("expected stream error, got %v", err)
	}
	if !run.Finished() {
		t.Error("stream error must abort the run")
	}
}

func TestIngestion_ExecutionIDMismatch(t *testing.T) {
	stream := encodeFrames(t,
		expressionsFrame("other-exec", 1, types.ExpressionSpan{LineStart: 1, LineEnd: 1}),
	)

	run := execution.NewRun("exec-1", nil, execution.Snapshot{})
	engine := NewIngestionEngine(stream, run, testLogger(), nil)

	if err := engine.Run(context.Background()); !IsStreamError(err) {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestIngestion_ProtocolMismatch(t *testing.T) {
	bad := expressionsFrame("exec-1", 1, types.ExpressionSpan{LineStart: 1, LineEnd: 1})
	bad.ProtocolVersion = "9.9.9"
	stream := encodeFrames(t, bad)

	run := execution.NewRun("exec-1", nil, execution.Snapshot{})
	engine := NewIngestionEngine(stream, run, testLogger(), nil)

	if err := engine.Run(context.Background()); !IsStreamError(err) {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestIngestion_EOFWithoutTerminal(t *testing.T) {
	stream := encodeFrames(t,
		expressionsFrame("exec-1", 1, types.ExpressionSpan{LineStart: 1, LineEnd: 1}),
	)

	run := execution.NewRun("exec-1", nil, execution.Snapshot{})
	engine := NewIngestionEngine(stream, run, testLogger(), nil)

	err := engine.Run(context.Background())
	if !IsStreamError(err) {
		t.Fatalf("expected stream error for EOF without terminal, got %v", err)
	}
	if !run.Finished() {
		t.Error("broken stream must abort the run")
	}
}

func TestIngestion_KernelErrorFrame(t *testing.T) {
	bad := frame("exec-1", 2, types.KernelEventError)
	bad.Error = "kernel exploded"
	stream := encodeFrames(t,
		expressionsFrame("exec-1", 1, types.ExpressionSpan{LineStart: 1, LineEnd: 1}),
		bad,
	)

	run := execution.NewRun("exec-1", nil, execution.Snapshot{})
	engine := NewIngestionEngine(stream, run, testLogger(), nil)

	err := engine.Run(context.Background())
	if !IsKernelError(err) {
		t.Fatalf("expected kernel error, got %v", err)
	}
}

func TestIngestion_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := execution.NewRun("exec-1", nil, execution.Snapshot{})
	engine := NewIngestionEngine(bytes.NewReader(nil), run, testLogger(), nil)

	if err := engine.Run(ctx); !IsCanceledError(err) {
		t.Fatalf("expected canceled error, got %v", err)
	}
}
