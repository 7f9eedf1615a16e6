// Package highlight marks search hits inside rendered (ANSI-styled) transcript
// text and tracks which hit the viewport is focused on.
package highlight

import (
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

const (
	esc = 0x1b
	bel = 0x07
)

type Result struct {
	Text string
	// Lines holds the line number of every hit, in order. A line with two
	// hits appears twice.
	Lines []int
}

func (r Result) Count() int {
	return len(r.Lines)
}

// Mark wraps every case-insensitive occurrence of query in rendered. Escape
// sequences are copied through untouched, so a hit never spans a style change.
func Mark(rendered, query string, wrap func(string) string) Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{Text: rendered}
	}
	if wrap == nil {
		wrap = func(s string) string { return s }
	}

	var res Result
	var out strings.Builder
	for lineNo, line := range strings.Split(rendered, "\n") {
		if lineNo > 0 {
			out.WriteByte('\n')
		}
		n := markLine(&out, line, query, wrap)
		for i := 0; i < n; i++ {
			res.Lines = append(res.Lines, lineNo)
		}
	}
	res.Text = out.String()
	return res
}

func markLine(out *strings.Builder, line, query string, wrap func(string) string) int {
	if indexFold(fold(ansi.Strip(line)), fold(query), 0) < 0 {
		out.WriteString(line)
		return 0
	}

	total := 0
	var plain strings.Builder
	flush := func() {
		s, n := markPlain(plain.String(), query, wrap)
		out.WriteString(s)
		total += n
		plain.Reset()
	}

	for i := 0; i < len(line); {
		if line[i] == esc {
			if end := escapeEnd(line, i); end > i {
				flush()
				out.WriteString(line[i:end])
				i = end
				continue
			}
		}
		plain.WriteByte(line[i])
		i++
	}
	flush()
	return total
}

// escapeEnd returns the index just past the CSI or OSC sequence starting at
// i, or i when none starts there.
func escapeEnd(s string, i int) int {
	if i+1 >= len(s) {
		return i
	}
	switch s[i+1] {
	case '[':
		for j := i + 2; j < len(s); j++ {
			if s[j] >= 0x40 && s[j] <= 0x7e {
				return j + 1
			}
		}
	case ']':
		for j := i + 2; j < len(s); j++ {
			if s[j] == bel {
				return j + 1
			}
			if s[j] == esc && j+1 < len(s) && s[j+1] == '\\' {
				return j + 2
			}
		}
	}
	return i
}

// markPlain folds rune by rune, so a match never depends on how many bytes
// a rune's lower case takes.
func markPlain(s, query string, wrap func(string) string) (string, int) {
	q := fold(query)
	if s == "" || len(q) == 0 {
		return s, 0
	}
	runes := []rune(s)
	folded := fold(s)

	var out strings.Builder
	count := 0
	start := 0
	for {
		idx := indexFold(folded, q, start)
		if idx < 0 {
			out.WriteString(string(runes[start:]))
			break
		}
		end := idx + len(q)
		out.WriteString(string(runes[start:idx]))
		out.WriteString(wrap(string(runes[idx:end])))
		count++
		start = end
	}
	return out.String(), count
}

func fold(s string) []rune {
	out := []rune(s)
	for i, r := range out {
		out[i] = unicode.ToLower(r)
	}
	return out
}

func indexFold(haystack, needle []rune, from int) int {
	if len(needle) == 0 {
		return -1
	}
	for i := from; i+len(needle) <= len(haystack); i++ {
		match := true
		for j, r := range needle {
			if haystack[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// Cursor walks the hits of a Result, wrapping around at either end.
type Cursor struct {
	lines []int
	pos   int
}

func NewCursor(r Result) *Cursor {
	return &Cursor{lines: r.Lines}
}

// Line returns the line of the focused hit.
func (c *Cursor) Line() (int, bool) {
	if c == nil || len(c.lines) == 0 {
		return 0, false
	}
	return c.lines[c.pos], true
}

func (c *Cursor) Next() (int, bool) {
	if c == nil || len(c.lines) == 0 {
		return 0, false
	}
	c.pos = (c.pos + 1) % len(c.lines)
	return c.lines[c.pos], true
}

func (c *Cursor) Prev() (int, bool) {
	if c == nil || len(c.lines) == 0 {
		return 0, false
	}
	c.pos = (c.pos - 1 + len(c.lines)) % len(c.lines)
	return c.lines[c.pos], true
}

// Position is the 1-based index of the focused hit.
func (c *Cursor) Position() int {
	if c == nil || len(c.lines) == 0 {
		return 0
	}
	return c.pos + 1
}
