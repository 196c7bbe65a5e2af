package exec

import "strings"

// lineRing is a bounded ring buffer of the last maxLines non-blank lines
// written to a stream, per spec.md §4.4 and property P8.
type lineRing struct {
	maxLines int
	lines    []string
	next     int
	filled   bool
}

func newLineRing(maxLines int) *lineRing {
	return &lineRing{maxLines: maxLines, lines: make([]string, maxLines)}
}

// WriteLine appends one pre-split line, ignoring blank lines; once full,
// each new line overwrites the oldest. Callers split lines themselves
// (see captureStream).
func (r *lineRing) WriteLine(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	r.lines[r.next] = line
	r.next = (r.next + 1) % r.maxLines
	if r.next == 0 {
		r.filled = true
	}
}

// Tail returns the buffered lines in chronological order, joined by
// newline.
func (r *lineRing) Tail() string {
	var ordered []string
	if r.filled {
		ordered = append(ordered, r.lines[r.next:]...)
		ordered = append(ordered, r.lines[:r.next]...)
	} else {
		ordered = append(ordered, r.lines[:r.next]...)
	}
	return strings.Join(ordered, "\n")
}
