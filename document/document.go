// Package document implements the live editable document and the
// document-synchronized group store: groups anchored as character
// ranges that the document's own change mapping carries through edits,
// snapped to whole lines, merged on contact, and reversible through an
// explicit undo/redo transaction log.
package document

import (
	"fmt"
	"strings"
)

// Change is a single replacement edit: the half-open byte range
// [From,To) is replaced by Insert. A pure insertion has From == To; a
// pure deletion has Insert == "".
type Change struct {
	From   int
	To     int
	Insert string
}

// Validate checks the change against a document of the given length.
func (c Change) Validate(docLen int) error {
	if c.From < 0 || c.To < c.From || c.To > docLen {
		return fmt.Errorf("change range [%d,%d) out of bounds for document of length %d", c.From, c.To, docLen)
	}
	return nil
}

// MapPos translates a position through the change. Positions inside the
// replaced region collapse to the region's start when assoc <= 0 and to
// the end of the inserted text when assoc > 0; range starts map with
// assoc > 0 and range ends with assoc < 0, so text inserted exactly at
// a boundary stays outside the range.
func (c Change) MapPos(pos, assoc int) int {
	if pos < c.From {
		return pos
	}
	if pos > c.To {
		return pos + len(c.Insert) - (c.To - c.From)
	}
	if assoc <= 0 {
		return c.From
	}
	return c.From + len(c.Insert)
}

// Invert returns the change that undoes c when applied to the document
// c produced. content is the document c applies to (pre-change).
func (c Change) Invert(content string) Change {
	return Change{
		From:   c.From,
		To:     c.From + len(c.Insert),
		Insert: content[c.From:c.To],
	}
}

// apply produces the post-change content.
func (c Change) apply(content string) string {
	return content[:c.From] + c.Insert + content[c.To:]
}

// Doc is the live document text with line-coordinate helpers.
// Lines are 1-based and inclusive in the external coordinate space;
// character positions are byte offsets.
type Doc struct {
	content    string
	lineStarts []int
}

// NewDoc creates a document over the given content.
func NewDoc(content string) *Doc {
	d := &Doc{}
	d.setContent(content)
	return d
}

func (d *Doc) setContent(content string) {
	d.content = content
	d.lineStarts = d.lineStarts[:0]
	d.lineStarts = append(d.lineStarts, 0)
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			d.lineStarts = append(d.lineStarts, i+1)
		}
	}
}

// Content returns the current document text.
func (d *Doc) Content() string {
	return d.content
}

// Len returns the document length in bytes.
func (d *Doc) Len() int {
	return len(d.content)
}

// LineCount returns the number of lines. An empty document has one
// (empty) line; raw splitting on '\n' defines the line structure.
func (d *Doc) LineCount() int {
	return len(d.lineStarts)
}

// Apply performs the change in place.
func (d *Doc) Apply(c Change) error {
	if err := c.Validate(len(d.content)); err != nil {
		return err
	}
	d.setContent(c.apply(d.content))
	return nil
}

// LineOfPos returns the 1-based line containing pos. Positions past the
// end belong to the last line.
func (d *Doc) LineOfPos(pos int) int {
	if pos <= 0 {
		return 1
	}
	// Binary search the last line start <= pos.
	lo, hi := 0, len(d.lineStarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if d.lineStarts[mid] <= pos {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo + 1
}

// LineStartPos returns the byte offset of the given line's first
// character. Lines out of range clamp to the document bounds.
func (d *Doc) LineStartPos(line int) int {
	if line < 1 {
		line = 1
	}
	if line > len(d.lineStarts) {
		line = len(d.lineStarts)
	}
	return d.lineStarts[line-1]
}

// LineEndPos returns the byte offset of the given line's end: the
// position of its newline, or the document end for the last line.
func (d *Doc) LineEndPos(line int) int {
	if line < 1 {
		line = 1
	}
	if line >= len(d.lineStarts) {
		return len(d.content)
	}
	return d.lineStarts[line] - 1
}

// SnapToLines widens [from,to) to cover the whole line(s) it touches.
// A group can never start or end mid-line.
func (d *Doc) SnapToLines(from, to int) (int, int) {
	anchor := to
	if to > from {
		anchor = to - 1
	}
	return d.LineStartPos(d.LineOfPos(from)), d.LineEndPos(d.LineOfPos(anchor))
}

// LineRangeToPos converts a 1-based inclusive line span to a half-open
// character range covering those whole lines.
func (d *Doc) LineRangeToPos(lineStart, lineEnd int) (int, int) {
	return d.LineStartPos(lineStart), d.LineEndPos(lineEnd)
}

// PosRangeToLines converts a half-open character range to the 1-based
// inclusive line span it touches.
func (d *Doc) PosRangeToLines(from, to int) (int, int) {
	anchor := to
	if to > from {
		anchor = to - 1
	}
	return d.LineOfPos(from), d.LineOfPos(anchor)
}

// Line returns the text of the 1-based line, without its newline.
func (d *Doc) Line(line int) string {
	return d.content[d.LineStartPos(line):d.LineEndPos(line)]
}

// Lines returns the document split into raw lines.
func (d *Doc) Lines() []string {
	return strings.Split(d.content, "\n")
}
