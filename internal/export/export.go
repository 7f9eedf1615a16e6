package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ir-chat/internal/transcript"
)

const chatLogsName = "chat_logs.xlsx"

// Names are the display labels of the two senders.
type Names struct {
	User string
	Bot  string
}

func (n Names) For(s transcript.Sender) string {
	if s == transcript.Bot {
		return safeValue(n.Bot, "Bot")
	}
	return safeValue(n.User, "You")
}

type Exporter struct {
	dir   string
	names Names
	now   func() time.Time
}

func New(dir string, names Names) (*Exporter, error) {
	dir = strings.TrimSpace(dir)
	if !filepath.IsAbs(dir) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve cwd: %w", err)
		}
		dir = filepath.Join(cwd, dir)
	}
	return &Exporter{dir: dir, names: names, now: time.Now}, nil
}

func (e *Exporter) Dir() string {
	return e.dir
}

// ExportTranscript writes the transcript as markdown and returns its path.
func (e *Exporter) ExportTranscript(msgs []transcript.Message, identity string) (string, error) {
	now := e.now()
	path := filepath.Join(e.dir, "chat-"+safeFileName(now.Format("20060102-150405"))+".md")

	body := BuildTranscriptMarkdown(msgs, e.names)
	md := BuildSessionMarkdown(msgs, identity, body, now.UTC())
	if err := e.write(path, []byte(md)); err != nil {
		return "", err
	}
	return path, nil
}

// SaveChatLogs stores the spreadsheet returned by the service's log export.
func (e *Exporter) SaveChatLogs(data []byte) (string, error) {
	path := filepath.Join(e.dir, chatLogsName)
	if err := e.write(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func (e *Exporter) write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export file: %w", err)
	}
	return nil
}

// BuildTranscriptMarkdown renders every message as a "## Sender [time]"
// section. Pending placeholders are kept so a live view shows them.
func BuildTranscriptMarkdown(msgs []transcript.Message, names Names) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString("## " + names.For(m.Sender))
		if m.Timestamp != "" {
			b.WriteString(" [" + m.Timestamp + "]")
		}
		b.WriteString("\n\n")

		content := strings.TrimSpace(m.Text)
		switch {
		case m.State == transcript.Pending:
			content = "_" + transcript.PendingText + "_"
		case content == "":
			content = "_No answer text._"
		default:
			content = TextToMarkdown(content)
		}
		b.WriteString(content + "\n\n")
	}
	return strings.TrimSpace(b.String()) + "\n"
}

func BuildSessionMarkdown(msgs []transcript.Message, identity, body string, now time.Time) string {
	var b strings.Builder
	b.WriteString("# Chat transcript\n\n")
	b.WriteString("Exported: " + now.Format(time.RFC3339) + "\n\n")
	b.WriteString("```text\n")
	b.WriteString("identity: " + safeValue(identity, "n/a") + "\n")
	b.WriteString(fmt.Sprintf("message_count: %d\n", len(msgs)))
	b.WriteString("```\n\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

// BuildPlain renders the transcript the way the chat window lists it:
// "Sender [time]: text".
func BuildPlain(msgs []transcript.Message, names Names) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(names.For(m.Sender))
		if m.Timestamp != "" {
			b.WriteString(" [" + m.Timestamp + "]")
		}
		b.WriteString(": " + m.Text + "\n")
	}
	return b.String()
}

// TextToMarkdown keeps the line structure of a bot answer when it is fed to a
// markdown renderer: lines get hard breaks and "• " citations become list
// items.
func TextToMarkdown(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, len(lines))
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "• "); ok {
			out[i] = "- " + rest
			continue
		}
		out[i] = trimmed
		if trimmed == "" || i == len(lines)-1 {
			continue
		}
		next := strings.TrimSpace(lines[i+1])
		if next != "" && !strings.HasPrefix(next, "• ") {
			out[i] += "  "
		}
	}
	return strings.Join(out, "\n")
}

func safeFileName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "chat"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return replacer.Replace(s)
}

func safeValue(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	return s
}
