// Package ui is the interactive chat front end.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ir-chat/internal/auth"
	"ir-chat/internal/clipboard"
	"ir-chat/internal/config"
	"ir-chat/internal/export"
	"ir-chat/internal/highlight"
	"ir-chat/internal/transcript"
	"ir-chat/internal/upload"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

// LogDownloader fetches the service-side chat log spreadsheet.
type LogDownloader interface {
	DownloadChatLogs(ctx context.Context) ([]byte, error)
}

type Deps struct {
	Chat     *transcript.Manager
	Uploads  *upload.Service
	Logs     LogDownloader
	Exporter *export.Exporter
	Copier   *clipboard.Copier
	Gate     *auth.Gate
	Logger   *zap.Logger
}

type prompt int

const (
	promptNone prompt = iota
	promptUpload
	promptBatch
	promptSearch
)

type Model struct {
	cfg      config.AppConfig
	deps     Deps
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	decision auth.Decision
	names    export.Names

	viewport viewport.Model
	input    textarea.Model
	prompt   textinput.Model
	help     help.Model
	spinner  spinner.Model
	keys     keyMap

	width  int
	height int

	mode        prompt
	searchQuery string
	rendering   bool
	renderNonce int
	rendered    string

	msgs    []transcript.Message
	chat    transcript.Status
	matches *highlight.Cursor
	hits    int

	// osc holds a clipboard escape sequence until the renderer has sent it.
	osc string

	status string
	err    error
}

type updateMsg struct{}
type renderMsg struct {
	rendered string
	nonce    int
	err      error
}
type uploadMsg struct {
	outcome upload.Outcome
	err     error
}
type batchMsg struct {
	asked int
	err   error
}
type exportMsg struct {
	path string
	err  error
}
type logsMsg struct {
	path string
	err  error
}
type copyMsg struct {
	what string
	osc  string
	err  error
}
type oscSentMsg struct{}

// oscHold keeps a clipboard sequence in the view for a few frames.
const oscHold = 250 * time.Millisecond

func NewModel(cfg config.AppConfig, deps Deps) Model {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	vp := viewport.New(60, 20)
	vp.SetContent(emptyTranscript)

	ta := textarea.New()
	ta.Placeholder = "Type your question..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 4000
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	ta.Focus()

	ti := textinput.New()
	ti.CharLimit = 1024

	h := help.New()
	h.ShowAll = false

	sp := spinner.New()
	sp.Spinner = spinner.Points

	decision := auth.Granted
	if deps.Gate != nil {
		decision = deps.Gate.Check(cfg.Identity)
	}

	return Model{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger,
		ctx:      ctx,
		cancel:   cancel,
		decision: decision,
		names:    export.Names{User: cfg.UserName, Bot: cfg.BotName},
		viewport: vp,
		input:    ta,
		prompt:   ti,
		help:     h,
		spinner:  sp,
		keys:     defaultKeys(),
	}
}

func (m Model) Init() tea.Cmd {
	if m.decision != auth.Granted {
		return nil
	}
	return tea.Batch(textarea.Blink, m.spinner.Tick, waitForUpdates(m.deps.Chat.Updates()))
}

func waitForUpdates(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return updateMsg{}
	}
}

func (m Model) uploadCmd(path string) tea.Cmd {
	return func() tea.Msg {
		out, err := m.deps.Uploads.Upload(m.ctx, path, m.cfg.Identity)
		return uploadMsg{outcome: out, err: err}
	}
}

func (m Model) batchCmd(path string) tea.Cmd {
	return func() tea.Msg {
		questions, err := upload.ReadQuestions(path)
		if err != nil {
			return batchMsg{err: err}
		}
		err = m.deps.Chat.SubmitBatch(m.ctx, questions, m.cfg.Identity)
		return batchMsg{asked: len(questions), err: err}
	}
}

func (m Model) exportCmd() tea.Cmd {
	msgs := m.deps.Chat.Messages()
	return func() tea.Msg {
		path, err := m.deps.Exporter.ExportTranscript(msgs, m.cfg.Identity)
		return exportMsg{path: path, err: err}
	}
}

func (m Model) logsCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, time.Minute)
		defer cancel()
		data, err := m.deps.Logs.DownloadChatLogs(ctx)
		if err != nil {
			return logsMsg{err: err}
		}
		path, err := m.deps.Exporter.SaveChatLogs(data)
		return logsMsg{path: path, err: err}
	}
}

func (m Model) copyCmd(what, text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 3*time.Second)
		defer cancel()
		err := m.deps.Copier.Copy(ctx, text)
		if errors.Is(err, clipboard.ErrToolNotFound) {
			return copyMsg{what: what, osc: clipboard.OSC52(text)}
		}
		return copyMsg{what: what, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		cmds = append(cmds, m.render())

	case updateMsg:
		m.msgs = m.deps.Chat.Messages()
		m.chat = m.deps.Chat.Status()
		cmds = append(cmds, m.render(), waitForUpdates(m.deps.Chat.Updates()))

	case renderMsg:
		if msg.nonce != m.renderNonce {
			break
		}
		m.rendering = false
		if msg.err != nil {
			m.log.Warn("markdown render failed", zap.Error(msg.err))
		}
		m.rendered = msg.rendered
		m.setViewport(m.searchQuery == "")

	case uploadMsg:
		m.status = msg.outcome.Notice
		if msg.outcome.SavedPath != "" {
			m.status += " " + msg.outcome.SavedPath
		}
		m.err = msg.err

	case batchMsg:
		switch {
		case errors.Is(msg.err, transcript.ErrCleared):
			m.status = "Batch stopped: chat cleared"
		case errors.Is(msg.err, context.Canceled):
			m.status = "Batch cancelled"
		case msg.err != nil:
			m.err = msg.err
			m.status = "Batch failed"
			if errors.Is(msg.err, upload.ErrUnsupportedFileType) {
				m.status = "Batch files must be .txt or .csv"
			}
		default:
			m.status = fmt.Sprintf("Asked %d questions", msg.asked)
		}

	case exportMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Export failed"
		} else {
			m.status = "Exported: " + msg.path
		}

	case logsMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Chat log download failed"
			m.log.Error("chat log download failed", zap.Error(msg.err))
		} else {
			m.status = "Chat logs saved: " + msg.path
		}

	case copyMsg:
		if msg.osc != "" {
			m.osc = msg.osc
			m.status = "Sent " + msg.what + " to the terminal clipboard"
			return m, tea.Tick(oscHold, func(time.Time) tea.Msg { return oscSentMsg{} })
		}
		switch {
		case errors.Is(msg.err, clipboard.ErrEmpty):
			m.status = "Nothing to copy yet"
		case msg.err != nil:
			m.err = msg.err
			m.status = "Could not copy"
		default:
			m.status = "Copied " + msg.what + " to clipboard"
		}

	case oscSentMsg:
		m.osc = ""
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.cancel()
			return m, tea.Quit
		}
		if m.decision != auth.Granted {
			return m, nil
		}
		if m.mode != promptNone {
			return m.updatePrompt(msg)
		}
		return m.updateChat(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	if m.decision == auth.Granted {
		var cmd tea.Cmd
		if m.mode == promptNone {
			m.input, cmd = m.input.Update(msg)
		} else {
			m.prompt, cmd = m.prompt.Update(msg)
		}
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Send):
		if _, ok := m.deps.Chat.Submit(m.ctx, m.input.Value(), m.cfg.Identity); ok {
			m.input.Reset()
			m.status = ""
			m.err = nil
		}
		return m, nil
	case key.Matches(msg, m.keys.Clear):
		m.deps.Chat.Clear()
		m.clearSearch()
		m.status = "Chat cleared"
		m.err = nil
		return m, nil
	case key.Matches(msg, m.keys.Upload):
		return m.openPrompt(promptUpload, "upload> ", "questions.xlsx, .docx or .pdf"), textinput.Blink
	case key.Matches(msg, m.keys.Batch):
		return m.openPrompt(promptBatch, "ask from> ", "questions.txt or .csv"), textinput.Blink
	case key.Matches(msg, m.keys.Search):
		m = m.openPrompt(promptSearch, "/ ", "Search transcript...")
		m.prompt.SetValue(m.searchQuery)
		m.prompt.CursorEnd()
		return m, textinput.Blink
	case key.Matches(msg, m.keys.Export):
		return m, m.exportCmd()
	case key.Matches(msg, m.keys.Logs):
		if m.deps.Logs == nil {
			return m, nil
		}
		m.status = "Downloading chat logs..."
		return m, m.logsCmd()
	case key.Matches(msg, m.keys.CopyAnswer):
		text, _ := m.deps.Chat.LastAnswer()
		return m, m.copyCmd("last answer", text)
	case key.Matches(msg, m.keys.CopyChat):
		return m, m.copyCmd("transcript", export.BuildPlain(m.deps.Chat.Messages(), m.names))
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.resize()
		return m, nil
	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil
	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	case m.searchQuery != "" && key.Matches(msg, m.keys.NextMatch):
		m.jumpToMatch(1)
		return m, nil
	case m.searchQuery != "" && key.Matches(msg, m.keys.PrevMatch):
		m.jumpToMatch(-1)
		return m, nil
	case m.searchQuery != "" && key.Matches(msg, m.keys.Esc):
		m.clearSearch()
		m.setViewport(false)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		if m.mode == promptSearch {
			m.clearSearch()
			m.setViewport(false)
		}
		return m.closePrompt(), nil
	case "enter":
		value := strings.TrimSpace(m.prompt.Value())
		mode := m.mode
		m = m.closePrompt()
		if value == "" {
			return m, nil
		}
		switch mode {
		case promptUpload:
			if err := upload.Validate(value); err != nil {
				m.status = upload.UnsupportedNotice
				return m, nil
			}
			m.status = "Uploading " + value + "..."
			return m, m.uploadCmd(value)
		case promptBatch:
			m.status = "Asking questions from " + value + "..."
			return m, m.batchCmd(value)
		case promptSearch:
			m.setViewport(false)
			if line, ok := m.matches.Line(); ok {
				m.viewport.SetYOffset(m.clampViewportOffset(line))
			}
		}
		return m, nil
	}

	before := m.prompt.Value()
	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	if m.mode == promptSearch && m.prompt.Value() != before {
		m.searchQuery = strings.TrimSpace(m.prompt.Value())
		m.setViewport(false)
	}
	return m, cmd
}

func (m Model) openPrompt(p prompt, label, placeholder string) Model {
	m.mode = p
	m.prompt.Prompt = label
	m.prompt.Placeholder = placeholder
	m.prompt.SetValue("")
	m.prompt.Focus()
	m.input.Blur()
	return m
}

func (m Model) closePrompt() Model {
	m.mode = promptNone
	m.prompt.Blur()
	m.input.Focus()
	return m
}

func (m *Model) render() tea.Cmd {
	m.rendering = true
	m.renderNonce++
	wrap := m.viewport.Width - 2
	if wrap < 20 {
		wrap = 20
	}
	opts := renderOptions{names: m.names, style: m.cfg.GlamourStyle, plain: m.cfg.Plain, wrap: wrap}
	return renderTranscriptCmd(m.msgs, opts, m.renderNonce)
}

func (m *Model) setViewport(gotoBottom bool) {
	content := m.rendered
	if q := strings.TrimSpace(m.searchQuery); q != "" {
		res := highlight.Mark(m.rendered, q, func(s string) string {
			return searchMatchStyle.Render(s)
		})
		content = res.Text
		m.matches = highlight.NewCursor(res)
		m.hits = res.Count()
	} else {
		m.matches = nil
		m.hits = 0
	}
	m.viewport.SetContent(content)
	if gotoBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) clearSearch() {
	m.searchQuery = ""
	m.matches = nil
	m.hits = 0
}

func (m *Model) jumpToMatch(delta int) {
	var (
		line int
		ok   bool
	)
	if delta < 0 {
		line, ok = m.matches.Prev()
	} else {
		line, ok = m.matches.Next()
	}
	if !ok {
		m.status = "No search matches in transcript"
		return
	}
	m.viewport.SetYOffset(m.clampViewportOffset(line))
	m.status = fmt.Sprintf("Match %d/%d", m.matches.Position(), m.hits)
}

func (m *Model) clampViewportOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if offset > maxOffset {
		return maxOffset
	}
	return offset
}

func (m *Model) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	m.input.SetWidth(m.width - 2)
	m.prompt.Width = m.width - 4
	m.help.Width = m.width

	// status + input + help, plus the transcript panel border.
	chrome := 1 + m.input.Height() + 1 + lipgloss.Height(m.help.View(m.keys)) + 2
	bodyHeight := m.height - chrome
	if bodyHeight < 5 {
		bodyHeight = 5
	}
	m.viewport.Width = m.width - 4
	m.viewport.Height = bodyHeight
}

func (m Model) View() string {
	if m.decision != auth.Granted {
		return m.gateView()
	}
	if m.width == 0 || m.height == 0 {
		return "Starting..."
	}

	body := panelStyle(m.mode == promptNone).Width(m.width - 2).Render(m.viewport.View())

	bottom := m.input.View()
	if m.mode != promptNone {
		bottom = m.prompt.View()
	}

	// The renderer owns the terminal, so the clipboard request rides along
	// with a frame instead of being written from a command goroutine.
	return lipgloss.JoinVertical(lipgloss.Left,
		m.osc+m.statusLine(),
		body,
		bottom,
		m.help.View(m.keys),
	)
}

func (m Model) gateView() string {
	var text string
	switch m.decision {
	case auth.SignInRequired:
		text = "Please sign in to use the chat.\n\nSet IRCHAT_IDENTITY or pass -identity with your e-mail address."
	default:
		text = fmt.Sprintf("Access denied for %s.\n\nAsk an administrator to add you to the allow-list.", strings.TrimSpace(m.cfg.Identity))
	}
	return gateStyle.Render(text + "\n\nctrl+c to quit")
}

func (m Model) statusLine() string {
	status := fmt.Sprintf("%s  messages=%d", shorten(m.cfg.Identity, 32), len(m.msgs))
	if m.chat.Loading {
		status += "  " + m.spinner.View() + " thinking"
	}
	if m.chat.Processing {
		status += "  [processing]"
	}
	switch m.chat.Upload {
	case transcript.UploadSucceeded:
		status += "  [upload ok]"
	case transcript.UploadFailed:
		status += "  [upload failed]"
	}
	if m.searchQuery != "" {
		if m.hits > 0 {
			status += fmt.Sprintf("  [match %d/%d]", m.matches.Position(), m.hits)
		} else {
			status += "  [match 0]"
		}
	}
	if m.rendering {
		status += "  [rendering]"
	}
	if strings.TrimSpace(m.status) != "" {
		status += "  " + shorten(m.status, 80)
	}
	if m.err != nil {
		status += "  err=" + shorten(m.err.Error(), 60)
	}
	return statusStyle.Width(m.width).Render(status)
}
