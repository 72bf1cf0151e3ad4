// Package groups implements the result-to-line grouping core: clustering
// execution results whose line spans touch or overlap into stable visual
// groups, and remapping existing groups across full-content replacement.
//
// All functions in this package are pure; callers own synchronization.
package groups

import (
	"sort"

	"github.com/google/uuid"

	"github.com/justapithecus/folio/types"
)

// LineGroup is a visual cluster of Results whose line spans touch or
// overlap, transitively. Groups are pairwise line-disjoint, sorted by
// LineStart, and partition their input Results.
type LineGroup struct {
	// ID is an opaque stable string. It is preserved across
	// recomputation when the new group occupies the same line span as a
	// prior group, so consumers can treat the identity as continuous.
	ID string `json:"id"`
	// ResultIDs is the ascending list of member result ids.
	ResultIDs []int64 `json:"resultIds"`
	// PreviousResultIDs is the member set the group held before this
	// recomputation, for consumers that diff or animate transitions.
	PreviousResultIDs []int64 `json:"previousResultIds,omitempty"`
	LineStart         int     `json:"lineStart"`
	LineEnd           int     `json:"lineEnd"`
	// AllInvisible is true iff every member is invisible.
	AllInvisible bool `json:"allInvisible"`
	// HasError is true iff any member's output contains an error item.
	HasError bool              `json:"hasError"`
	State    types.ResultState `json:"state"`
}

// Range returns the group's line span.
func (g *LineGroup) Range() types.LineRange {
	return types.LineRange{LineStart: g.LineStart, LineEnd: g.LineEnd}
}

// Clone returns a copy of the group with copied id slices.
func (g *LineGroup) Clone() *LineGroup {
	c := *g
	c.ResultIDs = append([]int64(nil), g.ResultIDs...)
	if g.PreviousResultIDs != nil {
		c.PreviousResultIDs = append([]int64(nil), g.PreviousResultIDs...)
	}
	return &c
}

// Compute partitions results into line-contiguous groups.
//
// Two results end up in the same group iff their line spans are
// connected through shared lines, transitively: if A spans 1-2, B spans
// 2-3 and C spans 3-4, all three merge into one group spanning 1-4 even
// though A and C never directly overlap. Output is sorted ascending by
// LineStart. Empty input yields empty output. Deterministic given input
// order; group ids are freshly assigned (use ComputeWithPrevious to
// carry ids forward).
func Compute(results []*types.Result) []*LineGroup {
	return ComputeWithPrevious(results, nil)
}

// ComputeWithPrevious is Compute with id reuse: a new group occupying
// the exact line span of a group in previous keeps that group's id and
// records the old member set in PreviousResultIDs. Matching is by line
// span, not by content identity.
func ComputeWithPrevious(results []*types.Result, previous []*LineGroup) []*LineGroup {
	if len(results) == 0 {
		return nil
	}

	uf := newUnionFind()
	for _, r := range results {
		uf.add(r.ID)
	}

	// Union every pair of ids that co-occur on a line. The first id seen
	// on a line is the arbitrary (but deterministic) union target.
	lineOwner := make(map[int]int64)
	for _, r := range results {
		for line := r.LineStart; line <= r.LineEnd; line++ {
			if owner, ok := lineOwner[line]; ok {
				uf.union(owner, r.ID)
			} else {
				lineOwner[line] = r.ID
			}
		}
	}

	// Collect partitions in input order.
	byRoot := make(map[int64][]*types.Result)
	var roots []int64
	for _, r := range results {
		root := uf.find(r.ID)
		if _, ok := byRoot[root]; !ok {
			roots = append(roots, root)
		}
		byRoot[root] = append(byRoot[root], r)
	}

	out := make([]*LineGroup, 0, len(roots))
	for _, root := range roots {
		out = append(out, fold(byRoot[root]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineStart < out[j].LineStart })

	assignIDs(out, previous)
	return out
}

// fold aggregates one partition's members into a LineGroup.
func fold(members []*types.Result) *LineGroup {
	g := &LineGroup{
		LineStart:    members[0].LineStart,
		LineEnd:      members[0].LineEnd,
		AllInvisible: true,
	}

	anyExecuting, anyPending := false, false
	for _, m := range members {
		g.ResultIDs = append(g.ResultIDs, m.ID)
		if m.LineStart < g.LineStart {
			g.LineStart = m.LineStart
		}
		if m.LineEnd > g.LineEnd {
			g.LineEnd = m.LineEnd
		}
		if !m.IsInvisible() {
			g.AllInvisible = false
		}
		if m.HasError() {
			g.HasError = true
		}
		switch m.State {
		case types.StateExecuting:
			anyExecuting = true
		case types.StatePending:
			anyPending = true
		}
	}
	sort.Slice(g.ResultIDs, func(i, j int) bool { return g.ResultIDs[i] < g.ResultIDs[j] })

	// Aggregate state priority: executing > pending > done.
	switch {
	case anyExecuting:
		g.State = types.StateExecuting
	case anyPending:
		g.State = types.StatePending
	default:
		g.State = types.StateDone
	}
	return g
}

// assignIDs reuses ids from previous groups with identical line spans,
// minting fresh ids for everything else.
func assignIDs(gs []*LineGroup, previous []*LineGroup) {
	prevBySpan := make(map[types.LineRange]*LineGroup, len(previous))
	for _, p := range previous {
		if _, ok := prevBySpan[p.Range()]; !ok {
			prevBySpan[p.Range()] = p
		}
	}
	for _, g := range gs {
		if p, ok := prevBySpan[g.Range()]; ok {
			g.ID = p.ID
			g.PreviousResultIDs = append([]int64(nil), p.ResultIDs...)
		} else {
			g.ID = uuid.NewString()
		}
	}
}

// unionFind is a flat parent map keyed by result id, with path
// compression. Union by direction: find(a) becomes the root of find(b).
type unionFind struct {
	parent map[int64]int64
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[int64]int64)}
}

func (u *unionFind) add(id int64) {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
	}
}

func (u *unionFind) find(id int64) int64 {
	root := id
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[id] != root {
		u.parent[id], id = root, u.parent[id]
	}
	return root
}

func (u *unionFind) union(a, b int64) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}
