package ui

import (
	"strings"

	"ir-chat/internal/export"
	"ir-chat/internal/transcript"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const emptyTranscript = "Ask a question to get started."

type renderOptions struct {
	names export.Names
	style string
	plain bool
	wrap  int
}

func renderTranscriptCmd(msgs []transcript.Message, opts renderOptions, nonce int) tea.Cmd {
	return func() tea.Msg {
		if len(msgs) == 0 {
			return renderMsg{rendered: emptyTranscript, nonce: nonce}
		}
		if opts.plain {
			return renderMsg{rendered: renderPlain(msgs, opts.names, opts.wrap), nonce: nonce}
		}

		md := export.BuildTranscriptMarkdown(msgs, opts.names)
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(opts.style),
			glamour.WithWordWrap(opts.wrap),
		)
		if err != nil {
			return renderMsg{rendered: renderPlain(msgs, opts.names, opts.wrap), nonce: nonce, err: err}
		}
		out, err := r.Render(md)
		if err != nil {
			return renderMsg{rendered: renderPlain(msgs, opts.names, opts.wrap), nonce: nonce, err: err}
		}
		return renderMsg{rendered: strings.TrimRight(out, "\n"), nonce: nonce}
	}
}

// renderPlain lays the transcript out without markdown. URLs become OSC 8
// hyperlinks so terminals that support them make citations clickable.
func renderPlain(msgs []transcript.Message, names export.Names, wrap int) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		header := names.For(m.Sender)
		if m.Timestamp != "" {
			header += " [" + m.Timestamp + "]"
		}
		b.WriteString(senderStyle(m.Sender).Render(header))
		b.WriteByte('\n')

		text := m.Text
		if m.State != transcript.Answered && m.Sender == transcript.Bot {
			b.WriteString(stateStyle(m.State).Render(text))
			continue
		}
		lines := strings.Split(text, "\n")
		for j, line := range lines {
			if wrap > 0 {
				line = ansi.Wordwrap(line, wrap, "")
			}
			b.WriteString(linkify(line))
			if j < len(lines)-1 {
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}

func linkify(line string) string {
	var b strings.Builder
	for _, seg := range export.SplitLinks(line) {
		if seg.URL == "" {
			b.WriteString(seg.Text)
			continue
		}
		b.WriteString(ansi.SetHyperlink(seg.URL))
		b.WriteString(linkStyle.Render(seg.Text))
		b.WriteString(ansi.ResetHyperlink())
	}
	return b.String()
}

func senderStyle(s transcript.Sender) lipgloss.Style {
	if s == transcript.Bot {
		return botStyle
	}
	return userStyle
}

func stateStyle(s transcript.State) lipgloss.Style {
	switch s {
	case transcript.Failed, transcript.TimedOut:
		return errorStyle
	default:
		return pendingStyle
	}
}

// shorten cuts s to at most n terminal cells, never inside a rune.
func shorten(s string, n int) string {
	return ansi.Truncate(strings.TrimSpace(s), n, "...")
}

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("24")).
			Padding(0, 1)
	searchMatchStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("16")).
				Background(lipgloss.Color("220"))
	userStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	botStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	pendingStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("244"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	linkStyle    = lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("75"))
	gateStyle    = lipgloss.NewStyle().Padding(1, 2)
)

func panelStyle(active bool) lipgloss.Style {
	border := lipgloss.NormalBorder()
	if active {
		return lipgloss.NewStyle().
			Border(border, true).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
	}
	return lipgloss.NewStyle().
		Border(border, true).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)
}
