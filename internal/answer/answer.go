package answer

import "strings"

// DefaultTopic labels the single entry synthesized from an answer-only response.
const DefaultTopic = "Default"

type Answer struct {
	Text   string
	Source string
}

// Blank reports whether the answer contributes nothing when rendered.
func (a Answer) Blank() bool {
	return strings.TrimSpace(a.Text) == ""
}

// SourceLines returns the non-empty citation lines of Source.
func (a Answer) SourceLines() []string {
	if strings.TrimSpace(a.Source) == "" {
		return nil
	}
	lines := strings.Split(a.Source, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

type Topic struct {
	Label  string
	Answer Answer
}

// Set is the normalized per-topic answer list, in the order the server sent it.
type Set []Topic

func (s Set) Labels() []string {
	out := make([]string, 0, len(s))
	for _, t := range s {
		out = append(out, t.Label)
	}
	return out
}

func (s Set) Lookup(label string) (Answer, bool) {
	for _, t := range s {
		if t.Label == label {
			return t.Answer, true
		}
	}
	return Answer{}, false
}

// Shape tells which of the two legal response shapes was received.
type Shape int

const (
	ShapeSingle Shape = iota
	ShapeMulti
)

func (s Shape) String() string {
	if s == ShapeMulti {
		return "answers"
	}
	return "answer"
}

// Response is a decoded query response. Topics is set for the multi-topic
// shape and Scalar for the answer-only shape.
type Response struct {
	Shape  Shape
	Topics Set
	Scalar string
}

// Normalize turns either response shape into a Set. It never fails: a missing
// scalar answer yields a single blank entry, which renders as nothing.
func Normalize(r Response) Set {
	if len(r.Topics) > 0 {
		return r.Topics
	}
	return Set{{Label: DefaultTopic, Answer: Answer{Text: r.Scalar}}}
}

// Render builds the display text of a bot message. Topics with blank text are
// skipped; an all-blank set renders as "".
func Render(set Set) string {
	var b strings.Builder
	for _, t := range set {
		if t.Answer.Blank() {
			continue
		}
		b.WriteString(t.Label + ":\n")
		b.WriteString(strings.TrimSpace(t.Answer.Text))

		if sources := t.Answer.SourceLines(); len(sources) > 0 {
			b.WriteString("\n\nSources:\n")
			for i, src := range sources {
				if i > 0 {
					b.WriteByte('\n')
				}
				b.WriteString("• " + src)
			}
		}
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
