package export

import (
	"regexp"
	"strings"
)

var urlRe = regexp.MustCompile(`https?://[^\s]+`)

// Segment is a run of text; URL is set when the run is a link.
type Segment struct {
	Text string
	URL  string
}

// SplitLinks cuts text into plain and link segments. Trailing ".", "," and ")"
// belong to the sentence, not the link.
func SplitLinks(text string) []Segment {
	var out []Segment
	pos := 0
	for _, loc := range urlRe.FindAllStringIndex(text, -1) {
		raw := text[loc[0]:loc[1]]
		clean := strings.TrimRight(raw, ".,)")
		if clean == "" || strings.HasSuffix(clean, "://") {
			continue
		}
		if loc[0] > pos {
			out = append(out, Segment{Text: text[pos:loc[0]]})
		}
		out = append(out, Segment{Text: clean, URL: clean})
		pos = loc[0] + len(clean)
	}
	if pos < len(text) {
		out = append(out, Segment{Text: text[pos:]})
	}
	return out
}
