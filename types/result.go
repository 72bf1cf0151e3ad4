package types

import (
	"fmt"
	"sync/atomic"
)

// ResultState represents the lifecycle state of a Result.
type ResultState string

// Result state constants. A Result is created pending, promoted to
// executing when it becomes the head of the run queue, and replaced by
// a terminal copy once the kernel reports completion.
const (
	StatePending   ResultState = "pending"
	StateExecuting ResultState = "executing"
	StateDone      ResultState = "done"
)

// OutputKind tags a single output item by payload type.
// Kinds follow the kernel protocol: stream names, "error", or MIME types.
type OutputKind string

// Common output kinds emitted by kernels.
const (
	OutputStdout   OutputKind = "stdout"
	OutputStderr   OutputKind = "stderr"
	OutputError    OutputKind = "error"
	OutputText     OutputKind = "text/plain"
	OutputHTML     OutputKind = "text/html"
	OutputMarkdown OutputKind = "text/markdown"
	OutputJSON     OutputKind = "application/json"
)

// IsError reports whether this kind is error-class output.
// Both kernel tracebacks and stderr streams count.
func (k OutputKind) IsError() bool {
	return k == OutputError || k == OutputStderr
}

// OutputItem is one unit of kernel output for a statement.
type OutputItem struct {
	Kind    OutputKind `msgpack:"type" json:"type"`
	Content string     `msgpack:"content" json:"content"`
}

// ResultOutput holds the terminal output of a finished statement.
type ResultOutput struct {
	// Items is the ordered list of output items, in emission order.
	Items []OutputItem `msgpack:"items" json:"items"`
	// IsInvisible is true when the statement produced no observable
	// output (e.g. an assignment).
	IsInvisible bool `msgpack:"is_invisible" json:"isInvisible"`
}

// HasError reports whether any item is error-class output.
func (o *ResultOutput) HasError() bool {
	if o == nil {
		return false
	}
	for _, item := range o.Items {
		if item.Kind.IsError() {
			return true
		}
	}
	return false
}

// LineRange is a 1-based inclusive span of document lines.
type LineRange struct {
	LineStart int `msgpack:"line_start" json:"lineStart"`
	LineEnd   int `msgpack:"line_end" json:"lineEnd"`
}

// Key returns the slot key for this range ("start-end").
// The reconciler's working map is keyed by this composite.
func (r LineRange) Key() string {
	return fmt.Sprintf("%d-%d", r.LineStart, r.LineEnd)
}

// Overlaps reports whether the two ranges share any line.
func (r LineRange) Overlaps(other LineRange) bool {
	return !(r.LineEnd < other.LineStart || r.LineStart > other.LineEnd)
}

// Result is a single evaluated unit of guest code.
//
// Line coordinates are in the space of the document version that
// produced the result. Results are never destroyed individually; they
// are retired en masse when a run resets or a newer run supersedes them
// for the same line range.
type Result struct {
	// ID is process-unique, increasing, assigned at creation, never reused.
	ID        int64       `json:"id"`
	LineStart int         `json:"lineStart"`
	LineEnd   int         `json:"lineEnd"`
	State     ResultState `json:"state"`
	// Output is present only once the result is done.
	Output *ResultOutput `json:"result,omitempty"`
}

// Range returns the result's line span.
func (r *Result) Range() LineRange {
	return LineRange{LineStart: r.LineStart, LineEnd: r.LineEnd}
}

// Key returns the line-range slot key for this result.
func (r *Result) Key() string {
	return r.Range().Key()
}

// HasError reports whether the result's output contains error-class items.
func (r *Result) HasError() bool {
	return r.Output.HasError()
}

// IsInvisible reports whether the result finished with no observable output.
// Pending and executing results are not invisible.
func (r *Result) IsInvisible() bool {
	return r.Output != nil && r.Output.IsInvisible
}

// Clone returns a shallow copy of the result. Output is shared; output
// payloads are immutable once attached.
func (r *Result) Clone() *Result {
	c := *r
	return &c
}

var resultIDCounter atomic.Int64

// NextResultID returns the next process-unique result id.
func NextResultID() int64 {
	return resultIDCounter.Add(1)
}
