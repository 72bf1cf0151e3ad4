// Package session owns one open document: the live text and group
// store, the results of past executions, the single active run, and the
// downstream adapter. All mutation funnels through the session, which
// serializes edits, watcher events, and run updates so consumers always
// observe a consistent snapshot.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/folio/adapter"
	"github.com/justapithecus/folio/document"
	"github.com/justapithecus/folio/execution"
	"github.com/justapithecus/folio/groups"
	"github.com/justapithecus/folio/log"
	"github.com/justapithecus/folio/runtime"
	"github.com/justapithecus/folio/types"
)

// ErrRunActive is returned when an execution is requested while another
// run is still in flight.
var ErrRunActive = errors.New("an execution is already running")

// Config configures a session.
type Config struct {
	// SessionID identifies the session; a fresh uuid when empty.
	SessionID string
	// Path is the document path, for logging and published updates.
	Path string
	// KernelPath is the kernel binary launched per execution.
	KernelPath string
	// KernelArgs are extra arguments for the kernel binary.
	KernelArgs []string
	// Adapter receives apply updates; nil disables publishing.
	Adapter adapter.Adapter
	// KernelFactory overrides kernel creation (for testing).
	KernelFactory runtime.KernelFactory
}

// Session is the single writer over one document's state.
type Session struct {
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex
	store   *document.Store
	results map[string]*types.Result
	active  *runtime.RunOrchestrator
	seq     int64
}

// New creates a session over the given initial document content.
func New(cfg Config, content string) *Session {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	return &Session{
		cfg:     cfg,
		logger:  log.NewLogger(cfg.SessionID, cfg.Path),
		store:   document.NewStore(content),
		results: make(map[string]*types.Result),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.cfg.SessionID
}

// Content returns the current document text.
func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Content()
}

// Groups returns the current group layout.
func (s *Session) Groups() []*groups.LineGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Groups()
}

// Execute runs the document (or the given line range) through the
// kernel and blocks until the run ends. Layout updates are adopted and
// published as kernel events arrive. Only one run may be active.
func (s *Session) Execute(ctx context.Context, lineRange *types.LineRange) (*runtime.RunResult, error) {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return nil, ErrRunActive
	}

	snapshot := execution.Snapshot{
		Groups:  s.store.Groups(),
		Results: make(map[string]*types.Result, len(s.results)),
	}
	for k, v := range s.results {
		snapshot.Results[k] = v
	}
	preExecuted := s.store.LastExecutedIDs()

	executionID := uuid.NewString()
	run := execution.NewRun(executionID, lineRange, snapshot)
	orch := runtime.NewRunOrchestrator(&runtime.RunConfig{
		Kernel: &runtime.KernelConfig{
			KernelPath:  s.cfg.KernelPath,
			Args:        s.cfg.KernelArgs,
			ExecutionID: executionID,
			Path:        s.cfg.Path,
			Script:      s.store.Content(),
			LineRange:   lineRange,
		},
		Run: run,
		OnUpdate: func(u *execution.Update) {
			s.adoptRunUpdate(ctx, u)
		},
		KernelFactory: s.cfg.KernelFactory,
	}, s.logger)
	s.active = orch
	s.mu.Unlock()

	// The orchestrator blocks here; updates arrive on the ingestion
	// goroutine and take the lock per event.
	result, err := orch.Execute(ctx)

	s.mu.Lock()
	s.active = nil
	if err == nil && result.Outcome.Status != runtime.OutcomeCrash {
		s.absorbRun(run)
	} else {
		// A broken run is treated as cancelled with no completions:
		// layouts adopted while it was in flight roll back to the
		// pre-run state.
		s.store.SetGroupsMarkExecuted(snapshot.Groups, preExecuted)
	}
	s.mu.Unlock()

	s.publish(ctx, publishState{})
	return result, err
}

// Interrupt asks the active run's kernel to cancel. State only changes
// when the kernel's cancelled frame arrives; no run is not an error.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	orch := s.active
	s.mu.Unlock()
	if orch == nil {
		return nil
	}
	return orch.Interrupt()
}

// ApplyEdit performs a text edit, carrying groups through the change.
func (s *Session) ApplyEdit(ctx context.Context, c document.Change) error {
	s.mu.Lock()
	if err := s.store.ApplyChange(c); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.publish(ctx, publishState{docChanged: true})
	return nil
}

// SetGroups replaces the layout explicitly (undoable).
func (s *Session) SetGroups(ctx context.Context, gs []*groups.LineGroup) {
	s.mu.Lock()
	s.store.SetGroups(gs, false)
	s.mu.Unlock()

	s.publish(ctx, publishState{})
}

// Undo reverts the latest undoable transaction.
func (s *Session) Undo(ctx context.Context) bool {
	s.mu.Lock()
	ok := s.store.Undo()
	s.mu.Unlock()
	if ok {
		s.publish(ctx, publishState{docChanged: true})
	}
	return ok
}

// Redo re-applies the latest undone transaction.
func (s *Session) Redo(ctx context.Context) bool {
	s.mu.Lock()
	ok := s.store.Redo()
	s.mu.Unlock()
	if ok {
		s.publish(ctx, publishState{docChanged: true})
	}
	return ok
}

// FileChanged adopts externally replaced content: existing groups are
// remapped through a line diff, groups on changed lines are dropped,
// and every surviving group is reported stale since its output predates
// the new text.
func (s *Session) FileChanged(ctx context.Context, newContent string) {
	s.mu.Lock()
	remapped := groups.Remap(s.store.Content(), newContent, s.store.Groups())
	s.store.Replace(newContent, remapped.Groups)

	stale := make([]string, 0, len(remapped.Groups))
	for _, g := range remapped.Groups {
		stale = append(stale, g.ID)
	}
	s.mu.Unlock()

	s.logger.Info("adopted external file change", map[string]any{
		"changed_lines": len(remapped.ChangedLines),
		"kept_groups":   len(remapped.Groups),
	})
	s.publish(ctx, publishState{docChanged: true, staleGroupIDs: stale})
}

// FileDeleted clears the session state when the document disappears.
func (s *Session) FileDeleted(ctx context.Context) {
	s.mu.Lock()
	s.store.Replace("", nil)
	s.results = make(map[string]*types.Result)
	s.mu.Unlock()

	s.logger.Warn("document deleted on disk", nil)
	s.publish(ctx, publishState{docChanged: true})
}

// Close releases the adapter.
func (s *Session) Close() error {
	if s.cfg.Adapter != nil {
		return s.cfg.Adapter.Close()
	}
	return nil
}

// adoptRunUpdate pushes a reconciler layout into the store, carrying
// the run's own done ids as the last-executed set. Execution pushes
// never create undo steps.
func (s *Session) adoptRunUpdate(ctx context.Context, u *execution.Update) {
	s.mu.Lock()
	s.store.SetGroupsMarkExecuted(u.LineGroups, u.DoneIDs)
	s.mu.Unlock()

	s.publish(ctx, publishState{})
}

// absorbRun rolls a finished run's slots into the session's result map.
// The last-executed set is replaced wholesale with the run's own
// completions; ids from earlier runs never carry over. Callers hold the
// lock.
func (s *Session) absorbRun(run *execution.Run) {
	var executed []int64
	for k, v := range run.Results() {
		s.results[k] = v
		if v.State == types.StateDone {
			executed = append(executed, v.ID)
		}
	}
	sort.Slice(executed, func(i, j int) bool { return executed[i] < executed[j] })
	s.store.SetLastExecuted(executed)
}

type publishState struct {
	docChanged    bool
	staleGroupIDs []string
}

// publish sends the full current state downstream. Adapter failures are
// logged, never surfaced: a broken webhook must not block editing.
func (s *Session) publish(ctx context.Context, st publishState) {
	if s.cfg.Adapter == nil {
		return
	}

	s.mu.Lock()
	s.seq++
	update := &adapter.ApplyUpdate{
		SessionID:             s.cfg.SessionID,
		Path:                  s.cfg.Path,
		Seq:                   s.seq,
		DocChanged:            st.docChanged,
		LineGroups:            s.store.Groups(),
		LastExecutedResultIDs: s.store.LastExecutedIDs(),
		StaleGroupIDs:         st.staleGroupIDs,
		Timestamp:             time.Now().UTC().Format(time.RFC3339Nano),
	}
	if st.docChanged {
		update.Doc = s.store.Content()
	}
	s.mu.Unlock()

	if err := s.cfg.Adapter.Publish(ctx, update); err != nil {
		s.logger.Warn("adapter publish failed", map[string]any{
			"seq":   update.Seq,
			"error": err.Error(),
		})
	}
}

// Hooks observe Run's event handling after the session has adopted
// each event. Nil fields are skipped.
type Hooks struct {
	// OnChanged fires after new content was adopted and remapped.
	OnChanged func(ctx context.Context)
	// OnDeleted fires after the session state was cleared.
	OnDeleted func(ctx context.Context)
	// OnError receives watch failures.
	OnError func(err error)
}

// Run drives the session from a watcher event stream until the stream
// closes or the context ends. Execution requests arrive through the
// session's own methods; this loop only reacts to disk.
func (s *Session) Run(ctx context.Context, events <-chan WatchEvent, hooks Hooks) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case WatchInitial, WatchChanged:
				s.FileChanged(ctx, ev.Content)
				if hooks.OnChanged != nil {
					hooks.OnChanged(ctx)
				}
			case WatchDeleted:
				s.FileDeleted(ctx)
				if hooks.OnDeleted != nil {
					hooks.OnDeleted(ctx)
				}
			case WatchError:
				s.logger.Warn("watch error", map[string]any{
					"error": fmt.Sprint(ev.Err),
				})
				if hooks.OnError != nil {
					hooks.OnError(ev.Err)
				}
			}
		}
	}
}

// WatchEventType mirrors the watcher's event classification without
// importing it, keeping the session testable with plain channels.
type WatchEventType string

const (
	WatchInitial WatchEventType = "initial"
	WatchChanged WatchEventType = "changed"
	WatchDeleted WatchEventType = "deleted"
	WatchError   WatchEventType = "error"
)

// WatchEvent is one file-level notification fed into Run.
type WatchEvent struct {
	Type    WatchEventType
	Content string
	Err     error
}
