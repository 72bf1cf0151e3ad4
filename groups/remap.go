package groups

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// RemapResult is the outcome of translating groups across a
// full-content replacement.
type RemapResult struct {
	// Groups are the surviving groups with translated line bounds,
	// sorted by LineStart.
	Groups []*LineGroup
	// ChangedLines are the new-side line numbers (1-based) of inserted
	// or replaced lines, for callers that want to highlight them.
	// Independent of group survival.
	ChangedLines []int
}

// Remap translates line-anchored groups across a wholesale content
// replacement (reload, external edit) using a line-level diff.
//
// A group survives only when its whole span maps to a contiguous run of
// unchanged lines: if lineStart, lineEnd, or any line strictly between
// them was deleted or replaced, the group is dropped entirely rather
// than split into disjoint fragments. Surviving groups keep their ids
// and members; only the line bounds change.
func Remap(oldContent, newContent string, gs []*LineGroup) *RemapResult {
	oldLines := strings.Split(oldContent, "\n")
	newLines := strings.Split(newContent, "\n")

	matcher := difflib.NewMatcher(oldLines, newLines)

	// lineMap maps each old line number (1-based) to its new line
	// number; absence means the line is gone (deleted or part of a
	// changed region).
	lineMap := make(map[int]int)
	newUnchanged := make(map[int]bool)
	for _, block := range matcher.GetMatchingBlocks() {
		for i := 0; i < block.Size; i++ {
			lineMap[block.A+i+1] = block.B + i + 1
			newUnchanged[block.B+i+1] = true
		}
	}

	res := &RemapResult{}
	for line := 1; line <= len(newLines); line++ {
		if !newUnchanged[line] {
			res.ChangedLines = append(res.ChangedLines, line)
		}
	}

	for _, g := range gs {
		mapped, ok := remapGroup(g, lineMap)
		if ok {
			res.Groups = append(res.Groups, mapped)
		}
	}
	sort.Slice(res.Groups, func(i, j int) bool {
		return res.Groups[i].LineStart < res.Groups[j].LineStart
	})
	return res
}

// remapGroup translates one group through the line map, enforcing the
// continuity check: every covered line must survive.
func remapGroup(g *LineGroup, lineMap map[int]int) (*LineGroup, bool) {
	start, ok := lineMap[g.LineStart]
	if !ok {
		return nil, false
	}
	end, ok := lineMap[g.LineEnd]
	if !ok {
		return nil, false
	}
	for line := g.LineStart + 1; line < g.LineEnd; line++ {
		if _, ok := lineMap[line]; !ok {
			return nil, false
		}
	}

	mapped := g.Clone()
	mapped.LineStart = start
	mapped.LineEnd = end
	return mapped, true
}
