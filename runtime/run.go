// Package runtime launches kernel processes and ingests their frame
// streams into the execution reconciler.
package runtime

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/justapithecus/folio/execution"
	"github.com/justapithecus/folio/log"
)

// Kernel abstracts kernel process lifecycle for testing.
type Kernel interface {
	Start(ctx context.Context) error
	Stdout() io.Reader
	Interrupt() error
	Wait() (*KernelResult, error)
	Kill() error
}

// KernelFactory creates a Kernel. Used for test injection.
type KernelFactory func(config *KernelConfig) Kernel

// RunConfig configures a single run.
type RunConfig struct {
	// Kernel configures the kernel launch.
	Kernel *KernelConfig
	// Run is the reconciler session for this execution.
	Run *execution.Run
	// OnUpdate receives a layout update after every reconciled event.
	OnUpdate UpdateFunc
	// KernelFactory overrides kernel creation (for testing).
	// If nil, uses NewKernelManager.
	KernelFactory KernelFactory
}

// RunResult represents the result of a run.
type RunResult struct {
	// Outcome is the run outcome.
	Outcome *Outcome
	// Duration is the total run duration.
	Duration time.Duration
	// StderrOutput is the captured kernel stderr.
	StderrOutput string
	// FrameCount is the total number of frames processed.
	FrameCount int64
}

// RunOrchestrator orchestrates a single run: kernel launch, frame
// ingestion, process reaping, outcome classification.
type RunOrchestrator struct {
	config    *RunConfig
	logger    *log.Logger
	kernel    Kernel
	startTime time.Time
}

// NewRunOrchestrator creates a new run orchestrator.
func NewRunOrchestrator(config *RunConfig, logger *log.Logger) *RunOrchestrator {
	return &RunOrchestrator{
		config: config,
		logger: logger,
	}
}

// Interrupt asks the running kernel to cancel. The run state only
// changes when the kernel's cancelled frame arrives.
func (r *RunOrchestrator) Interrupt() error {
	if r.kernel == nil {
		return fmt.Errorf("run not started")
	}
	return r.kernel.Interrupt()
}

// Execute executes the run end-to-end.
//
// Execution flow:
//  1. Start kernel process
//  2. Run frame ingestion loop (concurrent)
//  3. Wait for kernel exit
//  4. Determine outcome
func (r *RunOrchestrator) Execute(ctx context.Context) (*RunResult, error) {
	r.startTime = time.Now()

	r.logger.Info("starting run", map[string]any{
		"execution_id": r.config.Kernel.ExecutionID,
		"kernel":       r.config.Kernel.KernelPath,
	})

	if r.config.KernelFactory != nil {
		r.kernel = r.config.KernelFactory(r.config.Kernel)
	} else {
		r.kernel = NewKernelManager(r.config.Kernel)
	}

	if err := r.kernel.Start(ctx); err != nil {
		r.logger.Error("failed to start kernel", map[string]any{
			"error": err.Error(),
		})
		r.config.Run.Abort()
		return r.buildResult(&Outcome{
			Status:  OutcomeCrash,
			Message: fmt.Sprintf("failed to start kernel: %v", err),
		}, "", nil), nil
	}

	ingestion := NewIngestionEngine(
		r.kernel.Stdout(),
		r.config.Run,
		r.logger,
		r.config.OnUpdate,
	)

	ingestionDone := make(chan error, 1)
	go func() {
		ingestionDone <- ingestion.Run(ctx)
	}()

	// Wait for ingestion FIRST: exec.Cmd.Wait() closes the stdout pipe,
	// which would fail ingestion reads even with data still buffered.
	ingErr := <-ingestionDone

	if ingErr != nil {
		r.logger.Warn("killing kernel due to ingestion error", map[string]any{
			"error": ingErr.Error(),
		})
		_ = r.kernel.Kill()
	}

	kernelResult, waitErr := r.kernel.Wait()
	if waitErr != nil {
		r.logger.Error("kernel wait failed", map[string]any{
			"error": waitErr.Error(),
		})
		return r.buildResult(&Outcome{
			Status:  OutcomeCrash,
			Message: fmt.Sprintf("kernel wait failed: %v", waitErr),
		}, "", ingestion), nil
	}

	if ingErr != nil {
		r.logger.Error("ingestion failed", map[string]any{
			"error":     ingErr.Error(),
			"exit_code": kernelResult.ExitCode,
		})

		var outcome *Outcome
		switch {
		case IsKernelError(ingErr):
			outcome = &Outcome{
				Status:  OutcomeKernelError,
				Message: ingErr.Error(),
			}
		case IsCanceledError(ingErr):
			outcome = &Outcome{
				Status:  OutcomeCancelled,
				Message: fmt.Sprintf("run canceled: %v", ingErr),
			}
		default:
			outcome = &Outcome{
				Status:  OutcomeCrash,
				Message: fmt.Sprintf("stream error: %v", ingErr),
			}
		}
		return r.buildResult(outcome, string(kernelResult.StderrBytes), ingestion), nil
	}

	terminalType, hasTerminal := ingestion.TerminalType()
	outcome := DetermineOutcome(kernelResult.ExitCode, terminalType, hasTerminal)
	r.logger.Info("run completed", map[string]any{
		"outcome":      outcome.Status,
		"exit_code":    kernelResult.ExitCode,
		"duration":     time.Since(r.startTime).String(),
		"has_terminal": hasTerminal,
	})

	return r.buildResult(outcome, string(kernelResult.StderrBytes), ingestion), nil
}

// buildResult constructs the final run result.
func (r *RunOrchestrator) buildResult(outcome *Outcome, stderrOutput string, ingestion *IngestionEngine) *RunResult {
	result := &RunResult{
		Outcome:      outcome,
		Duration:     time.Since(r.startTime),
		StderrOutput: stderrOutput,
	}
	if ingestion != nil {
		result.FrameCount = ingestion.CurrentSeq()
	}
	return result
}
