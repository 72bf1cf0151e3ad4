package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"github.com/justapithecus/folio/types"
)

// KernelConfig configures one kernel launch.
type KernelConfig struct {
	// KernelPath is the path to the kernel binary.
	KernelPath string
	// Args are extra arguments passed to the kernel binary.
	Args []string
	// ExecutionID identifies the run.
	ExecutionID string
	// Path is the document path, for kernel diagnostics.
	Path string
	// Script is the full document text to execute.
	Script string
	// LineRange restricts a partial run; nil means whole document.
	LineRange *types.LineRange
}

// KernelResult represents the result of a kernel run.
type KernelResult struct {
	// ExitCode is the process exit code.
	ExitCode int
	// StderrBytes is the captured stderr output.
	StderrBytes []byte
}

// KernelManager manages one kernel process lifecycle. The kernel reads
// a single JSON execution request from stdin, emits length-prefixed
// msgpack frames on stdout, and exits when the run ends. Stderr is
// captured for diagnostics.
type KernelManager struct {
	config *KernelConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

// NewKernelManager creates a new kernel manager.
func NewKernelManager(config *KernelConfig) *KernelManager {
	return &KernelManager{
		config: config,
	}
}

// kernelInput is the JSON structure written to kernel stdin.
type kernelInput struct {
	ExecutionID string           `json:"execution_id"`
	Path        string           `json:"path,omitempty"`
	Script      string           `json:"script"`
	LineRange   *types.LineRange `json:"line_range,omitempty"`
}

// Start starts the kernel process and writes the execution request.
func (m *KernelManager) Start(ctx context.Context) error {
	m.cmd = exec.CommandContext(ctx, m.config.KernelPath, m.config.Args...)

	stdin, err := m.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	m.stdin = stdin

	stdout, err := m.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	m.stdout = stdout

	stderr, err := m.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	m.stderr = stderr

	if err := m.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start kernel: %w", err)
	}

	input := kernelInput{
		ExecutionID: m.config.ExecutionID,
		Path:        m.config.Path,
		Script:      m.config.Script,
		LineRange:   m.config.LineRange,
	}

	if err := json.NewEncoder(stdin).Encode(input); err != nil {
		_ = m.Kill()
		return fmt.Errorf("failed to write execution request: %w", err)
	}

	// Close stdin to signal the request is complete.
	if err := stdin.Close(); err != nil {
		_ = m.Kill()
		return fmt.Errorf("failed to close stdin: %w", err)
	}

	return nil
}

// Stdout returns the stdout reader for frame ingestion.
func (m *KernelManager) Stdout() io.Reader {
	return m.stdout
}

// Stderr returns the stderr reader for diagnostic capture.
func (m *KernelManager) Stderr() io.Reader {
	return m.stderr
}

// Interrupt sends SIGINT so the kernel can stop the current statement
// and emit its cancelled frame before exiting.
func (m *KernelManager) Interrupt() error {
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Signal(syscall.SIGINT)
	}
	return nil
}

// Wait waits for the kernel to exit and returns the result.
// Must be called after Start, and after ingestion has drained stdout.
func (m *KernelManager) Wait() (*KernelResult, error) {
	if m.cmd == nil {
		return nil, errors.New("kernel not started")
	}

	stderrBytes, _ := io.ReadAll(m.stderr)

	err := m.cmd.Wait()

	result := &KernelResult{
		StderrBytes: stderrBytes,
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				result.ExitCode = status.ExitStatus()
			} else {
				result.ExitCode = -1
			}
		} else {
			return nil, fmt.Errorf("kernel wait failed: %w", err)
		}
	} else {
		result.ExitCode = 0
	}

	return result, nil
}

// Kill terminates the kernel process.
func (m *KernelManager) Kill() error {
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Kill()
	}
	return nil
}
