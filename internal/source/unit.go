// Package source models one unit of program text together with the index needed to
// turn byte offsets into line and column positions.
package source

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
)

// Unit is an immutable unit of source text. The ID is a label for reporting only; the
// scanner never opens it.
type Unit struct {
	id   string
	text string
	// lineStarts holds the byte offset of the first character of every line.
	lineStarts []int
}

// New validates data and builds a Unit. Absent (nil) data, invalid UTF-8 and NUL bytes
// are rejected with core.ErrInvalidInput.
func New(id string, data []byte) (*Unit, error) {
	if data == nil {
		return nil, fmt.Errorf("unit %q has no text: %w", id, core.ErrInvalidInput)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("unit %q is not valid UTF-8: %w", id, core.ErrInvalidInput)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, fmt.Errorf("unit %q looks binary (NUL byte): %w", id, core.ErrInvalidInput)
	}
	return FromString(id, string(data)), nil
}

// FromString builds a Unit from text that is already known to be valid.
func FromString(id, text string) *Unit {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &Unit{id: id, text: text, lineStarts: starts}
}

// ID returns the reporting label of the unit.
func (u *Unit) ID() string { return u.id }

// Text returns the full text of the unit.
func (u *Unit) Text() string { return u.text }

// Len returns the text length in bytes.
func (u *Unit) Len() int { return len(u.text) }

// LineCount returns the number of lines, counting a trailing empty line.
func (u *Unit) LineCount() int { return len(u.lineStarts) }

// Position converts a byte offset into a 1-based line and 0-based column.
// Offsets outside the text are clamped.
func (u *Unit) Position(offset int) (line, column int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(u.text) {
		offset = len(u.text)
	}
	// Index of the last line start <= offset.
	idx := sort.Search(len(u.lineStarts), func(i int) bool { return u.lineStarts[i] > offset }) - 1
	return idx + 1, offset - u.lineStarts[idx]
}

// Line returns the text of the 1-based line n without its newline.
func (u *Unit) Line(n int) string {
	if n < 1 || n > len(u.lineStarts) {
		return ""
	}
	start := u.lineStarts[n-1]
	end := len(u.text)
	if n < len(u.lineStarts) {
		end = u.lineStarts[n] - 1
	}
	return strings.TrimSuffix(u.text[start:end], "\r")
}

// Locate converts a span into a core.Location with a trimmed snippet of its first line.
func (u *Unit) Locate(span core.Span) core.Location {
	line, col := u.Position(span.Start)
	endLine, endCol := u.Position(span.End)
	return core.Location{
		Line:      line,
		Column:    col,
		EndLine:   endLine,
		EndColumn: endCol,
		Snippet:   u.Snippet(span),
	}
}

// Snippet returns the trimmed text of the line holding the start of span.
func (u *Unit) Snippet(span core.Span) string {
	line, _ := u.Position(span.Start)
	return strings.TrimSpace(u.Line(line))
}

// Slice returns the text covered by span, clamped to the unit bounds.
func (u *Unit) Slice(span core.Span) string {
	start, end := span.Start, span.End
	if start < 0 {
		start = 0
	}
	if end > len(u.text) {
		end = len(u.text)
	}
	if start >= end {
		return ""
	}
	return u.text[start:end]
}
