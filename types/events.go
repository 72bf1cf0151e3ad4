package types

// ProtocolVersion is the kernel wire protocol version. Kernels must
// stamp every frame with this version; mismatches are stream errors.
const ProtocolVersion = "0.2.0"

// KernelEventType is the type discriminator for kernel frames.
type KernelEventType string

// Kernel event types, in order of arrival within a run:
// exactly one "expressions" frame starts the run, "done" frames follow
// in execution order, and the run ends with "complete", "cancelled",
// or "error".
const (
	KernelEventExpressions KernelEventType = "expressions"
	KernelEventDone        KernelEventType = "done"
	KernelEventCancelled   KernelEventType = "cancelled"
	KernelEventComplete    KernelEventType = "complete"
	KernelEventError       KernelEventType = "error"
)

// IsTerminal reports whether this event type ends the run.
func (t KernelEventType) IsTerminal() bool {
	return t == KernelEventComplete || t == KernelEventCancelled || t == KernelEventError
}

// ExpressionSpan announces one statement the kernel intends to run.
type ExpressionSpan struct {
	// NodeIndex is the statement's index in the parsed script.
	NodeIndex int `msgpack:"node_index" json:"nodeIndex"`
	LineStart int `msgpack:"line_start" json:"lineStart"`
	LineEnd   int `msgpack:"line_end" json:"lineEnd"`
}

// Range returns the span as a LineRange.
func (s ExpressionSpan) Range() LineRange {
	return LineRange{LineStart: s.LineStart, LineEnd: s.LineEnd}
}

// ExpressionResult reports one finished statement.
type ExpressionResult struct {
	NodeIndex   int          `msgpack:"node_index" json:"nodeIndex"`
	LineStart   int          `msgpack:"line_start" json:"lineStart"`
	LineEnd     int          `msgpack:"line_end" json:"lineEnd"`
	Output      []OutputItem `msgpack:"output" json:"output"`
	IsInvisible bool         `msgpack:"is_invisible" json:"isInvisible"`
}

// KernelFrame is the envelope for all kernel events.
// Fields use msgpack tags to match the kernel SDK wire format.
type KernelFrame struct {
	// ProtocolVersion is the wire protocol version.
	ProtocolVersion string `msgpack:"protocol_version"`
	// ExecutionID identifies the run this frame belongs to.
	ExecutionID string `msgpack:"execution_id"`
	// Seq is the monotonic sequence number, starts at 1.
	Seq int64 `msgpack:"seq"`
	// Type is the event type discriminator.
	Type KernelEventType `msgpack:"type"`
	// Expressions is set on "expressions" frames: the full ordered list
	// of statements the kernel will run, already filtered to the
	// requested line range for partial runs.
	Expressions []ExpressionSpan `msgpack:"expressions,omitempty"`
	// Expression is set on "done" frames.
	Expression *ExpressionResult `msgpack:"expression,omitempty"`
	// CancelledExpressions is set on "cancelled" frames: line ranges the
	// kernel will not run.
	CancelledExpressions []LineRange `msgpack:"cancelled_expressions,omitempty"`
	// Error is set on "error" frames.
	Error string `msgpack:"error,omitempty"`
}
