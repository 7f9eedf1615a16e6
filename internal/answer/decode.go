package answer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownShape is returned when a body carries neither "answers" nor "answer".
var ErrUnknownShape = errors.New("response has neither answers nor answer")

var errNotObject = errors.New("expected JSON object")

// DecodeResponse parses a query response body. Topic order inside "answers"
// is kept exactly as it appears on the wire.
func DecodeResponse(data []byte) (Response, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}

	rawTopics, hasTopics := fields["answers"]
	rawScalar, hasScalar := fields["answer"]
	if !hasTopics && !hasScalar {
		return Response{}, ErrUnknownShape
	}

	var r Response
	if hasTopics && !isNull(rawTopics) {
		set, err := decodeSet(rawTopics)
		if err != nil {
			return Response{}, fmt.Errorf("decode answers: %w", err)
		}
		r.Topics = set
	}
	if hasScalar && !isNull(rawScalar) {
		if err := json.Unmarshal(rawScalar, &r.Scalar); err != nil {
			return Response{}, fmt.Errorf("decode answer: %w", err)
		}
	}
	if len(r.Topics) > 0 {
		r.Shape = ShapeMulti
	}
	return r, nil
}

func (r *Response) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeResponse(data)
	if err != nil {
		return err
	}
	*r = decoded
	return nil
}

// Batch is the JSON variant of an upload response: the questions extracted
// from the document and one answer set per question.
type Batch struct {
	Questions []string
	Answers   []Set
}

func (b *Batch) UnmarshalJSON(data []byte) error {
	var wire struct {
		Questions []string          `json:"questions"`
		Answers   []json.RawMessage `json:"answers"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	out := Batch{Questions: wire.Questions, Answers: make([]Set, 0, len(wire.Answers))}
	for i, raw := range wire.Answers {
		var set Set
		switch {
		case isNull(raw):
		case bytes.HasPrefix(bytes.TrimSpace(raw), []byte(`"`)):
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("decode answer %d: %w", i, err)
			}
			set = Set{{Label: DefaultTopic, Answer: Answer{Text: s}}}
		default:
			decoded, err := decodeSet(raw)
			if err != nil {
				return fmt.Errorf("decode answer %d: %w", i, err)
			}
			set = decoded
		}
		out.Answers = append(out.Answers, set)
	}
	*b = out
	return nil
}

func decodeSet(raw json.RawMessage) (Set, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errNotObject
	}

	set := Set{}
	seen := map[string]int{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		label, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key token %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("topic %q: %w", label, err)
		}
		a, err := decodeAnswer(value)
		if err != nil {
			return nil, fmt.Errorf("topic %q: %w", label, err)
		}

		// Duplicate keys keep their first position and the last value.
		if idx, dup := seen[label]; dup {
			set[idx].Answer = a
			continue
		}
		seen[label] = len(set)
		set = append(set, Topic{Label: label, Answer: a})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return set, nil
}

// decodeAnswer accepts {"answer": ..., "source": ...} objects or bare strings.
// Non-string answer fields decode as blank text.
func decodeAnswer(raw json.RawMessage) (Answer, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case isNull(trimmed):
		return Answer{}, nil
	case bytes.HasPrefix(trimmed, []byte(`"`)):
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Answer{}, err
		}
		return Answer{Text: s}, nil
	case !bytes.HasPrefix(trimmed, []byte(`{`)):
		return Answer{}, nil
	}

	var obj struct {
		Answer json.RawMessage `json:"answer"`
		Source json.RawMessage `json:"source"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return Answer{}, err
	}
	return Answer{Text: stringOrEmpty(obj.Answer), Source: sourceText(obj.Source)}, nil
}

func stringOrEmpty(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// sourceText accepts a newline separated string or a list of citations.
func sourceText(raw json.RawMessage) string {
	if s := stringOrEmpty(raw); s != "" {
		return s
	}
	var list []string
	if len(raw) == 0 || json.Unmarshal(raw, &list) != nil {
		return ""
	}
	return strings.Join(list, "\n")
}

func isNull(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
