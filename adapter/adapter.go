// Package adapter defines the apply-update publishing boundary.
//
// Adapters push the session's reconciled state (document text, group
// layout, execution bookkeeping) to downstream consumers: editor
// frontends, dashboards, or anything that renders the notebook. The
// session owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"

	"github.com/justapithecus/folio/groups"
)

// ApplyUpdate is the payload published after every state transition.
// It is a full snapshot, not a delta: consumers can always render
// directly from the latest update.
type ApplyUpdate struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id"`
	// Path is the document path.
	Path string `json:"path"`
	// Seq is the session-scoped monotonic update number.
	Seq int64 `json:"seq"`
	// Doc is the full document text. Empty when unchanged; DocChanged
	// distinguishes an unchanged document from a cleared one.
	Doc string `json:"doc,omitempty"`
	// DocChanged reports whether Doc carries new content.
	DocChanged bool `json:"doc_changed"`
	// LineGroups is the complete current layout.
	LineGroups []*groups.LineGroup `json:"line_groups"`
	// LastExecutedResultIDs is the result set of the latest completed run.
	LastExecutedResultIDs []int64 `json:"last_executed_result_ids,omitempty"`
	// StaleGroupIDs lists groups whose source lines are out of date with
	// respect to the last execution, after an external file change.
	StaleGroupIDs []string `json:"stale_group_ids,omitempty"`
	// Timestamp is ISO 8601.
	Timestamp string `json:"timestamp"`
}

// Adapter publishes apply updates to a downstream system.
// Implementations must be safe for sequential reuse across a session.
type Adapter interface {
	// Publish sends an apply update to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, update *ApplyUpdate) error

	// Close releases adapter resources.
	Close() error
}
