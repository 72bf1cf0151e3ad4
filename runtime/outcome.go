package runtime

import (
	"fmt"

	"github.com/justapithecus/folio/types"
)

// Kernel exit codes. Kernels exit 0 after a complete or cancelled
// frame, 1 after an error frame, and 2 when they crash without
// emitting a terminal frame. 130 is the conventional SIGINT exit for
// kernels that die on interrupt instead of emitting cancelled.
const (
	ExitCodeCompleted   = 0
	ExitCodeError       = 1
	ExitCodeCrash       = 2
	ExitCodeInterrupted = 130
)

// OutcomeStatus classifies how a run ended.
type OutcomeStatus string

const (
	// OutcomeCompleted means the kernel ran everything and emitted complete.
	OutcomeCompleted OutcomeStatus = "completed"
	// OutcomeCancelled means the run was interrupted and the kernel
	// emitted cancelled.
	OutcomeCancelled OutcomeStatus = "cancelled"
	// OutcomeKernelError means the kernel reported a fatal error frame.
	OutcomeKernelError OutcomeStatus = "kernel_error"
	// OutcomeCrash means the kernel died without a terminal frame or the
	// stream broke mid-run.
	OutcomeCrash OutcomeStatus = "crash"
)

// Outcome is the final classification of one run.
type Outcome struct {
	Status  OutcomeStatus
	Message string
}

// DetermineOutcome classifies a run from the kernel exit code and the
// terminal frame the ingestion engine saw. The terminal frame is
// authoritative when present; the exit code resolves the rest.
func DetermineOutcome(exitCode int, terminalType types.KernelEventType, hasTerminal bool) *Outcome {
	if hasTerminal {
		switch terminalType {
		case types.KernelEventComplete:
			return &Outcome{Status: OutcomeCompleted, Message: "run completed"}
		case types.KernelEventCancelled:
			return &Outcome{Status: OutcomeCancelled, Message: "run cancelled"}
		case types.KernelEventError:
			return &Outcome{Status: OutcomeKernelError, Message: "kernel reported error"}
		}
	}

	switch exitCode {
	case ExitCodeCompleted:
		// Exit 0 without terminal is an anomaly, treat as crash.
		return &Outcome{
			Status:  OutcomeCrash,
			Message: "kernel exited cleanly without terminal frame",
		}
	case ExitCodeError:
		return &Outcome{
			Status:  OutcomeKernelError,
			Message: "kernel exited with error without terminal frame",
		}
	case ExitCodeInterrupted:
		return &Outcome{
			Status:  OutcomeCancelled,
			Message: "kernel interrupted",
		}
	default:
		return &Outcome{
			Status:  OutcomeCrash,
			Message: fmt.Sprintf("kernel exited with unexpected code %d", exitCode),
		}
	}
}
