// Package main implements the reference folio kernel.
//
// The kernel reads one JSON execution request on stdin, splits the
// script into blank-line-delimited blocks (no guest-language parsing),
// announces the blocks as expressions, emits one done frame per block
// echoing the block text, and finishes with a complete frame.
//
// SIGINT stops between blocks: the kernel emits a cancelled frame
// listing the spans it will not run and exits 130. A block whose text
// ends with a semicolon is reported invisible, mirroring output
// suppression in real kernels.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/justapithecus/folio/ipc"
	"github.com/justapithecus/folio/types"
)

const (
	exitCompleted = 0
	exitCrash     = 2
	exitCancelled = 130
)

// request is the execution request read from stdin.
type request struct {
	ExecutionID string           `json:"execution_id"`
	Path        string           `json:"path,omitempty"`
	Script      string           `json:"script"`
	LineRange   *types.LineRange `json:"line_range,omitempty"`
}

// block is one blank-line-delimited unit of the script.
type block struct {
	lineStart int
	lineEnd   int
	text      string
}

func main() {
	os.Exit(run())
}

func run() int {
	var req request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		fmt.Fprintf(os.Stderr, "invalid execution request: %v\n", err)
		return exitCrash
	}

	blocks := splitBlocks(req.Script)
	if req.LineRange != nil {
		blocks = filterBlocks(blocks, *req.LineRange)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)

	out := bufio.NewWriter(os.Stdout)
	defer func() { _ = out.Flush() }()

	k := &kernel{
		encoder: ipc.NewFrameEncoder(out),
		execID:  req.ExecutionID,
	}

	spans := make([]types.ExpressionSpan, len(blocks))
	for i, b := range blocks {
		spans[i] = types.ExpressionSpan{NodeIndex: i, LineStart: b.lineStart, LineEnd: b.lineEnd}
	}
	if err := k.emit(&types.KernelFrame{
		Type:        types.KernelEventExpressions,
		Expressions: spans,
	}); err != nil {
		return exitCrash
	}

	for i, b := range blocks {
		select {
		case <-sigCh:
			remaining := make([]types.LineRange, 0, len(blocks)-i)
			for _, rest := range blocks[i:] {
				remaining = append(remaining, types.LineRange{LineStart: rest.lineStart, LineEnd: rest.lineEnd})
			}
			if err := k.emit(&types.KernelFrame{
				Type:                 types.KernelEventCancelled,
				CancelledExpressions: remaining,
			}); err != nil {
				return exitCrash
			}
			return exitCancelled
		default:
		}

		if err := k.emit(&types.KernelFrame{
			Type: types.KernelEventDone,
			Expression: &types.ExpressionResult{
				NodeIndex:   i,
				LineStart:   b.lineStart,
				LineEnd:     b.lineEnd,
				Output:      blockOutput(b),
				IsInvisible: strings.HasSuffix(strings.TrimSpace(b.text), ";"),
			},
		}); err != nil {
			return exitCrash
		}
	}

	if err := k.emit(&types.KernelFrame{Type: types.KernelEventComplete}); err != nil {
		return exitCrash
	}
	return exitCompleted
}

// kernel stamps and sequences outgoing frames.
type kernel struct {
	encoder *ipc.FrameEncoder
	execID  string
	seq     int64
}

func (k *kernel) emit(frame *types.KernelFrame) error {
	k.seq++
	frame.ProtocolVersion = types.ProtocolVersion
	frame.ExecutionID = k.execID
	frame.Seq = k.seq
	if err := k.encoder.WriteFrame(frame); err != nil {
		fmt.Fprintf(os.Stderr, "write frame: %v\n", err)
		return err
	}
	return nil
}

// blockOutput echoes the block text. Invisible blocks produce no items.
func blockOutput(b block) []types.OutputItem {
	if strings.HasSuffix(strings.TrimSpace(b.text), ";") {
		return nil
	}
	return []types.OutputItem{
		{Kind: types.OutputText, Content: b.text},
	}
}

// splitBlocks splits the script into blank-line-delimited blocks with
// 1-based inclusive line spans. Blank and whitespace-only lines
// separate blocks and belong to none.
func splitBlocks(script string) []block {
	if script == "" {
		return nil
	}

	lines := strings.Split(script, "\n")
	var blocks []block
	start := 0 // 0 means no open block

	flush := func(end int) {
		if start == 0 {
			return
		}
		text := strings.Join(lines[start-1:end], "\n")
		blocks = append(blocks, block{lineStart: start, lineEnd: end, text: text})
		start = 0
	}

	for i, line := range lines {
		lineNo := i + 1
		if strings.TrimSpace(line) == "" {
			flush(lineNo - 1)
			continue
		}
		if start == 0 {
			start = lineNo
		}
	}
	flush(len(lines))

	return blocks
}

// filterBlocks keeps blocks whose span overlaps the requested range.
func filterBlocks(blocks []block, r types.LineRange) []block {
	var kept []block
	for _, b := range blocks {
		span := types.LineRange{LineStart: b.lineStart, LineEnd: b.lineEnd}
		if span.Overlaps(r) {
			kept = append(kept, b)
		}
	}
	return kept
}
