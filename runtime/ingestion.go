package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/justapithecus/folio/execution"
	"github.com/justapithecus/folio/ipc"
	"github.com/justapithecus/folio/log"
	"github.com/justapithecus/folio/types"
)

// IngestionError classifies ingestion errors for outcome determination.
type IngestionError struct {
	// Kind indicates the failure class.
	Kind IngestionErrorKind
	// Err is the underlying error.
	Err error
}

// IngestionErrorKind classifies ingestion errors.
type IngestionErrorKind int

const (
	// IngestionErrorStream indicates a frame/stream error (kernel crash outcome).
	IngestionErrorStream IngestionErrorKind = iota
	// IngestionErrorKernel indicates the kernel reported a fatal error frame.
	IngestionErrorKernel
	// IngestionErrorCanceled indicates context cancellation.
	IngestionErrorCanceled
)

func (e *IngestionError) Error() string {
	return e.Err.Error()
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// IsStreamError returns true if the error is a stream/frame error.
func IsStreamError(err error) bool {
	var ingErr *IngestionError
	if errors.As(err, &ingErr) {
		return ingErr.Kind == IngestionErrorStream
	}
	return false
}

// IsKernelError returns true if the error is a kernel-reported failure.
func IsKernelError(err error) bool {
	var ingErr *IngestionError
	if errors.As(err, &ingErr) {
		return ingErr.Kind == IngestionErrorKernel
	}
	return false
}

// IsCanceledError returns true if the error is due to context cancellation.
func IsCanceledError(err error) bool {
	var ingErr *IngestionError
	if errors.As(err, &ingErr) {
		return ingErr.Kind == IngestionErrorCanceled
	}
	return false
}

// UpdateFunc receives the candidate layout after each reconciled event.
type UpdateFunc func(*execution.Update)

// IngestionEngine reads the kernel's frame stream and drives the
// reconciler. Frame rules:
//   - Frames are read in order
//   - Sequence numbers must be strictly monotonic (1, 2, 3...)
//   - First terminal frame wins; the stream ends after it
//   - Invalid framing is fatal (no resync)
//
// Every reconciled event produces a layout update, dispatched
// synchronously through the update callback. The engine is the single
// writer of run state; callers must not feed the Run concurrently.
type IngestionEngine struct {
	decoder      *ipc.FrameDecoder
	run          *execution.Run
	logger       *log.Logger
	onUpdate     UpdateFunc
	currentSeq   int64
	terminalSeen bool
	terminalType types.KernelEventType
}

// NewIngestionEngine creates a new ingestion engine over the kernel's
// stdout. onUpdate may be nil.
func NewIngestionEngine(reader io.Reader, run *execution.Run, logger *log.Logger, onUpdate UpdateFunc) *IngestionEngine {
	return &IngestionEngine{
		decoder:  ipc.NewFrameDecoder(reader),
		run:      run,
		logger:   logger,
		onUpdate: onUpdate,
	}
}

// Run runs the ingestion loop until EOF or fatal error.
// Returns:
//   - nil: stream ended cleanly after a terminal frame
//   - *IngestionError with Kind=IngestionErrorStream: frame/stream error
//   - *IngestionError with Kind=IngestionErrorKernel: kernel error frame
//   - *IngestionError with Kind=IngestionErrorCanceled: context canceled
//
// On any error the reconciler run is aborted so no partial layout from
// the broken stream can be adopted.
func (e *IngestionEngine) Run(ctx context.Context) error {
	err := e.ingest(ctx)
	if err != nil {
		e.run.Abort()
	}
	return err
}

func (e *IngestionEngine) ingest(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return &IngestionError{
				Kind: IngestionErrorCanceled,
				Err:  ctx.Err(),
			}
		default:
		}

		payload, err := e.decoder.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return e.finishStream()
			}

			// Pipe closure after the terminal frame is normal kernel exit
			// behavior; the outcome is already determined.
			if e.terminalSeen {
				e.logger.Debug("pipe closed after terminal frame (expected)", map[string]any{
					"error": err.Error(),
				})
				return nil
			}

			e.logger.Error("frame error", map[string]any{
				"error": err.Error(),
			})
			return &IngestionError{
				Kind: IngestionErrorStream,
				Err:  fmt.Errorf("frame error: %w", err),
			}
		}

		frame, err := ipc.DecodeKernelFrame(payload)
		if err != nil {
			e.logger.Error("frame decode error", map[string]any{
				"error": err.Error(),
			})
			return &IngestionError{
				Kind: IngestionErrorStream,
				Err:  fmt.Errorf("frame decode error: %w", err),
			}
		}

		if err := e.processFrame(frame); err != nil {
			return err
		}
	}
}

// finishStream classifies a clean EOF: fine after a terminal frame,
// a kernel crash before one.
func (e *IngestionEngine) finishStream() error {
	if e.terminalSeen {
		return nil
	}
	return &IngestionError{
		Kind: IngestionErrorStream,
		Err:  errors.New("stream ended without terminal frame"),
	}
}

// processFrame validates and reconciles a single frame.
func (e *IngestionEngine) processFrame(frame *types.KernelFrame) error {
	if err := e.validateFrame(frame); err != nil {
		e.logger.Error("frame validation failed", map[string]any{
			"error": err.Error(),
			"type":  frame.Type,
			"seq":   frame.Seq,
		})
		return &IngestionError{
			Kind: IngestionErrorStream,
			Err:  fmt.Errorf("frame validation failed: %w", err),
		}
	}
	e.currentSeq = frame.Seq

	if frame.Type.IsTerminal() {
		if e.terminalSeen {
			// First terminal wins, subsequent ignored.
			e.logger.Warn("ignoring duplicate terminal frame", map[string]any{
				"type": frame.Type,
				"seq":  frame.Seq,
			})
			return nil
		}
		e.terminalSeen = true
		e.terminalType = frame.Type

		e.logger.Info("terminal frame received", map[string]any{
			"type": frame.Type,
			"seq":  frame.Seq,
		})

		if frame.Type == types.KernelEventError {
			return &IngestionError{
				Kind: IngestionErrorKernel,
				Err:  fmt.Errorf("kernel error: %s", frame.Error),
			}
		}
		if frame.Type == types.KernelEventComplete {
			// Normal completion, no reconciler event.
			return nil
		}
		// Cancelled frames carry reconciler work; fall through.
	}

	ev, err := e.eventFromFrame(frame)
	if err != nil {
		return &IngestionError{
			Kind: IngestionErrorStream,
			Err:  err,
		}
	}

	update, err := e.run.Handle(ev)
	if err != nil {
		return &IngestionError{
			Kind: IngestionErrorStream,
			Err:  fmt.Errorf("reconcile %s frame: %w", frame.Type, err),
		}
	}

	if e.onUpdate != nil {
		e.onUpdate(update)
	}
	return nil
}

// validateFrame validates frame envelope fields against the run.
func (e *IngestionEngine) validateFrame(frame *types.KernelFrame) error {
	if frame.ProtocolVersion != types.ProtocolVersion {
		return fmt.Errorf("protocol version mismatch: expected %s, got %s",
			types.ProtocolVersion, frame.ProtocolVersion)
	}
	if frame.ExecutionID != e.run.ExecutionID() {
		return fmt.Errorf("execution_id mismatch: expected %s, got %s",
			e.run.ExecutionID(), frame.ExecutionID)
	}
	expectedSeq := e.currentSeq + 1
	if frame.Seq != expectedSeq {
		return fmt.Errorf("sequence violation: expected %d, got %d", expectedSeq, frame.Seq)
	}
	return nil
}

// eventFromFrame converts a kernel frame to a reconciler event,
// assigning result ids. A done frame for an announced span reuses the
// announced slot's id so result identity is stable within the run.
func (e *IngestionEngine) eventFromFrame(frame *types.KernelFrame) (*execution.Event, error) {
	switch frame.Type {
	case types.KernelEventExpressions:
		results := make([]*types.Result, 0, len(frame.Expressions))
		for _, span := range frame.Expressions {
			results = append(results, &types.Result{
				ID:        types.NextResultID(),
				LineStart: span.LineStart,
				LineEnd:   span.LineEnd,
				State:     types.StatePending,
			})
		}
		return &execution.Event{
			Type:        types.KernelEventExpressions,
			Expressions: results,
		}, nil

	case types.KernelEventDone:
		exp := frame.Expression
		if exp == nil {
			return nil, fmt.Errorf("done frame without expression (seq %d)", frame.Seq)
		}
		res := &types.Result{
			ID:        types.NextResultID(),
			LineStart: exp.LineStart,
			LineEnd:   exp.LineEnd,
			State:     types.StateDone,
			Output: &types.ResultOutput{
				Items:       exp.Output,
				IsInvisible: exp.IsInvisible,
			},
		}
		if slot, ok := e.run.Results()[res.Key()]; ok {
			res.ID = slot.ID
		}
		return &execution.Event{
			Type:       types.KernelEventDone,
			Expression: res,
		}, nil

	case types.KernelEventCancelled:
		return &execution.Event{
			Type:      types.KernelEventCancelled,
			Cancelled: frame.CancelledExpressions,
		}, nil

	default:
		return nil, fmt.Errorf("unexpected frame type %q (seq %d)", frame.Type, frame.Seq)
	}
}

// HasTerminal returns true if a terminal frame has been seen.
func (e *IngestionEngine) HasTerminal() bool {
	return e.terminalSeen
}

// TerminalType returns the terminal frame type if seen.
func (e *IngestionEngine) TerminalType() (types.KernelEventType, bool) {
	return e.terminalType, e.terminalSeen
}

// CurrentSeq returns the current sequence number.
func (e *IngestionEngine) CurrentSeq() int64 {
	return e.currentSeq
}
