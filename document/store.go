package document

import (
	"sort"

	"github.com/justapithecus/folio/groups"
	"github.com/justapithecus/folio/types"
)

// GroupRange is a group anchored to the document as a half-open
// character range. The store keeps ranges, not line numbers, so every
// edit moves groups through position mapping instead of recomputation.
type GroupRange struct {
	ID           string
	ResultIDs    []int64
	From         int
	To           int
	AllInvisible bool
	HasError     bool
	State        types.ResultState
}

func (g *GroupRange) clone() *GroupRange {
	c := *g
	c.ResultIDs = append([]int64(nil), g.ResultIDs...)
	return &c
}

// txn is one undoable transaction: the inverse text change (if the
// transaction edited text) plus the exact pre-transaction group and
// execution state, unsnapped.
type txn struct {
	inverse      Change
	hasChange    bool
	ranges       []*GroupRange
	lastExecuted []int64
}

// Store owns the document text and the group ranges anchored to it.
// It is the single source of truth for group layout between runs; the
// reconciler proposes layouts, the store adopts them.
//
// Store is not safe for concurrent use; the session serializes access.
type Store struct {
	doc          *Doc
	ranges       []*GroupRange
	lastExecuted []int64
	undo         []txn
	redo         []txn
}

// NewStore creates a store over the given initial content with no
// groups and empty history.
func NewStore(content string) *Store {
	return &Store{doc: NewDoc(content)}
}

// Doc exposes the underlying document for read-only coordinate math.
func (s *Store) Doc() *Doc {
	return s.doc
}

// Content returns the current document text.
func (s *Store) Content() string {
	return s.doc.Content()
}

// LastExecutedIDs returns the result ids of the most recent completed
// execution, restored by undo/redo alongside the layout.
func (s *Store) LastExecutedIDs() []int64 {
	return append([]int64(nil), s.lastExecuted...)
}

// Groups returns the current layout in line coordinates, sorted by
// start line.
func (s *Store) Groups() []*groups.LineGroup {
	out := make([]*groups.LineGroup, 0, len(s.ranges))
	for _, r := range s.ranges {
		ls, le := s.doc.PosRangeToLines(r.From, r.To)
		out = append(out, &groups.LineGroup{
			ID:           r.ID,
			ResultIDs:    append([]int64(nil), r.ResultIDs...),
			LineStart:    ls,
			LineEnd:      le,
			AllInvisible: r.AllInvisible,
			HasError:     r.HasError,
			State:        r.State,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineStart < out[j].LineStart })
	return out
}

// ApplyChange edits the document text and carries every group range
// through the change: positions are mapped, surviving ranges are
// snapped back out to whole lines, and ranges that come to touch are
// merged. Zero-length ranges are dropped. The transaction is undoable.
func (s *Store) ApplyChange(c Change) error {
	if err := c.Validate(s.doc.Len()); err != nil {
		return err
	}

	s.pushUndo(txn{
		inverse:      c.Invert(s.doc.Content()),
		hasChange:    true,
		ranges:       cloneRanges(s.ranges),
		lastExecuted: append([]int64(nil), s.lastExecuted...),
	})

	if err := s.doc.Apply(c); err != nil {
		return err
	}

	mapped := make([]*GroupRange, 0, len(s.ranges))
	for _, r := range s.ranges {
		next := r.clone()
		if r.To == r.From {
			// Zero-width anchor: a group on an empty line, whose only
			// character is its newline. It is dropped only when that
			// newline was deleted; otherwise it maps as a point and
			// snapping widens it again if the line gained text.
			if r.From >= c.From && r.From < c.To {
				continue
			}
			p := c.MapPos(r.From, -1)
			next.From, next.To = s.doc.SnapToLines(p, p)
			mapped = append(mapped, next)
			continue
		}
		next.From = c.MapPos(r.From, 1)
		next.To = c.MapPos(r.To, -1)
		if next.To <= next.From {
			continue
		}
		next.From, next.To = s.doc.SnapToLines(next.From, next.To)
		mapped = append(mapped, next)
	}
	s.ranges = mergeRanges(mapped)
	return nil
}

// SetGroups replaces the layout from a line-coordinate computation
// (grouping, remapping, or a reconciler update). When execOnly is true
// the replace is an execution-state push and is excluded from the undo
// history; plain text edits and explicit layout changes remain
// undoable.
func (s *Store) SetGroups(gs []*groups.LineGroup, execOnly bool) {
	if !execOnly {
		s.pushUndo(txn{
			ranges:       cloneRanges(s.ranges),
			lastExecuted: append([]int64(nil), s.lastExecuted...),
		})
	}
	s.ranges = s.rangesFromGroups(gs)
}

// SetLastExecuted records the result ids of a completed execution.
// Execution bookkeeping only; never creates an undo step.
func (s *Store) SetLastExecuted(ids []int64) {
	s.lastExecuted = append([]int64(nil), ids...)
}

// SetGroupsMarkExecuted adopts an execution layout and replaces the
// last-executed set in one step. Execution pushes never create undo
// steps.
func (s *Store) SetGroupsMarkExecuted(gs []*groups.LineGroup, doneIDs []int64) {
	s.ranges = s.rangesFromGroups(gs)
	s.lastExecuted = append([]int64(nil), doneIDs...)
}

// Replace swaps in externally provided content and layout, typically
// after a watched file changed on disk. Anchored positions from the old
// text are meaningless against the new one, so both history stacks are
// cleared.
func (s *Store) Replace(content string, gs []*groups.LineGroup) {
	s.doc = NewDoc(content)
	s.ranges = s.rangesFromGroups(gs)
	s.undo = nil
	s.redo = nil
}

// CanUndo reports whether an undo step is available.
func (s *Store) CanUndo() bool {
	return len(s.undo) > 0
}

// CanRedo reports whether a redo step is available.
func (s *Store) CanRedo() bool {
	return len(s.redo) > 0
}

// Undo reverts the most recent undoable transaction, restoring the
// document text, the exact pre-transaction ranges (not a re-derived
// approximation), and the last-executed set. Returns false when the
// history is empty.
func (s *Store) Undo() bool {
	if len(s.undo) == 0 {
		return false
	}
	t := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	s.redo = append(s.redo, s.step(t))
	return true
}

// Redo re-applies the most recently undone transaction.
func (s *Store) Redo() bool {
	if len(s.redo) == 0 {
		return false
	}
	t := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	s.undo = append(s.undo, s.step(t))
	return true
}

// step applies a stored transaction and returns its counterpart for the
// opposite stack.
func (s *Store) step(t txn) txn {
	back := txn{
		hasChange:    t.hasChange,
		ranges:       cloneRanges(s.ranges),
		lastExecuted: append([]int64(nil), s.lastExecuted...),
	}
	if t.hasChange {
		back.inverse = t.inverse.Invert(s.doc.Content())
		// The stored inverse was built against exactly this content;
		// Validate cannot reject it.
		_ = s.doc.Apply(t.inverse)
	}
	s.ranges = cloneRanges(t.ranges)
	s.lastExecuted = append([]int64(nil), t.lastExecuted...)
	return back
}

func (s *Store) pushUndo(t txn) {
	s.undo = append(s.undo, t)
	s.redo = nil
}

func (s *Store) rangesFromGroups(gs []*groups.LineGroup) []*GroupRange {
	out := make([]*GroupRange, 0, len(gs))
	for _, g := range gs {
		from, to := s.doc.LineRangeToPos(g.LineStart, g.LineEnd)
		if to < from {
			continue
		}
		out = append(out, &GroupRange{
			ID:           g.ID,
			ResultIDs:    append([]int64(nil), g.ResultIDs...),
			From:         from,
			To:           to,
			AllInvisible: g.AllInvisible,
			HasError:     g.HasError,
			State:        g.State,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}

func cloneRanges(rs []*GroupRange) []*GroupRange {
	out := make([]*GroupRange, len(rs))
	for i, r := range rs {
		out[i] = r.clone()
	}
	return out
}

// mergeRanges folds ranges that overlap or abut after mapping. The
// merged group keeps the id of the first range in document order; it is
// invisible only if every member was, carries an error if any member
// did, and takes the highest-priority member state.
func mergeRanges(rs []*GroupRange) []*GroupRange {
	if len(rs) == 0 {
		return rs
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].From < rs[j].From })

	out := []*GroupRange{rs[0]}
	for _, r := range rs[1:] {
		cur := out[len(out)-1]
		if r.From > cur.To {
			out = append(out, r)
			continue
		}
		if r.To > cur.To {
			cur.To = r.To
		}
		cur.ResultIDs = appendMissing(cur.ResultIDs, r.ResultIDs)
		cur.AllInvisible = cur.AllInvisible && r.AllInvisible
		cur.HasError = cur.HasError || r.HasError
		if statePriority(r.State) > statePriority(cur.State) {
			cur.State = r.State
		}
	}
	return out
}

func appendMissing(dst []int64, src []int64) []int64 {
	for _, id := range src {
		found := false
		for _, have := range dst {
			if have == id {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, id)
		}
	}
	return dst
}

func statePriority(st types.ResultState) int {
	switch st {
	case types.StateExecuting:
		return 2
	case types.StatePending:
		return 1
	default:
		return 0
	}
}
