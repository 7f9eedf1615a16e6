// Package transcript owns the chat log: it pairs each question with a pending
// bot placeholder, resolves it against the answer service and rewrites the
// placeholder in place once the call settles.
package transcript

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"ir-chat/internal/answer"
	"ir-chat/internal/collab"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Collaborator is the remote answer service. *collab.Client satisfies it.
type Collaborator interface {
	Query(ctx context.Context, req collab.QueryRequest) (answer.Response, error)
}

type Options struct {
	// Timeout bounds a single collaborator call. Zero means no bound.
	Timeout time.Duration
	Logger  *zap.Logger

	Now   func() time.Time
	NewID func() string
}

type Manager struct {
	collab  Collaborator
	log     *zap.Logger
	timeout time.Duration
	now     func() time.Time
	newID   func() string

	mu       sync.Mutex
	messages []Message
	inFlight int
	// running counts batches and uploads of the current epoch.
	running int
	epoch   int
	status  Status

	updates chan struct{}
	wg      sync.WaitGroup
}

func NewManager(c Collaborator, opts Options) *Manager {
	m := &Manager{
		collab:  c,
		log:     opts.Logger,
		timeout: opts.Timeout,
		now:     opts.Now,
		newID:   opts.NewID,
		updates: make(chan struct{}, 1),
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = func() string { return uuid.NewString() }
	}
	return m
}

// Ticket identifies one submitted exchange.
type Ticket struct {
	UserID string
	BotID  string
	done   chan struct{}
}

// Done is closed once the bot placeholder has been replaced (or dropped
// because the transcript was cleared).
func (t Ticket) Done() <-chan struct{} {
	return t.done
}

// Submit appends the question and a pending placeholder, then resolves the
// placeholder in the background. Blank queries are ignored and return false.
func (m *Manager) Submit(ctx context.Context, query, identity string) (Ticket, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Ticket{}, false
	}

	t, history := m.begin(query)
	req := collab.QueryRequest{Query: query, History: history, Email: identity}

	m.wg.Add(1)
	go m.resolve(ctx, t, req)
	return t, true
}

// SubmitBatch submits each question in order and waits for every exchange to
// settle before starting the next one. Failures are recorded per question and
// do not stop the batch; cancellation or Clear does.
func (m *Manager) SubmitBatch(ctx context.Context, questions []string, identity string) error {
	epoch := m.startProcessing()
	defer m.finishProcessing(epoch)

	for i, q := range questions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.currentEpoch() != epoch {
			m.log.Info("batch stopped by clear", zap.Int("processed", i), zap.Int("total", len(questions)))
			return ErrCleared
		}
		t, ok := m.Submit(ctx, q, identity)
		if !ok {
			continue
		}
		<-t.Done()
	}
	return ctx.Err()
}

// ErrCleared is returned by SubmitBatch when Clear interrupts it.
var ErrCleared = errors.New("transcript cleared")

// Merge appends already answered question/answer pairs, e.g. the JSON result
// of a server-side upload. A question without a matching answer set records
// the error text.
func (m *Manager) Merge(questions []string, answers []answer.Set) {
	m.mu.Lock()
	ts := m.timestamp()
	for i, q := range questions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		bot := Message{ID: m.newID(), Sender: Bot, Timestamp: ts, State: Failed, Text: ErrorText}
		if i < len(answers) {
			bot.Text = answer.Render(answers[i])
			bot.State = Answered
		}
		m.messages = append(m.messages,
			Message{ID: m.newID(), Sender: User, Text: q, Timestamp: ts, State: Answered},
			bot,
		)
	}
	m.mu.Unlock()
	m.notify()
}

// Clear empties the transcript and resets the upload status and the count of
// running batches and uploads. Exchanges still in flight are dropped when they
// settle.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.messages = nil
	m.epoch++
	m.running = 0
	m.status.Upload = UploadNone
	m.mu.Unlock()
	m.notify()
}

// Messages returns a copy of the transcript.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// LastAnswer returns the text of the most recent answered bot message.
func (m *Manager) LastAnswer() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.Sender == Bot && msg.State == Answered && strings.TrimSpace(msg.Text) != "" {
			return msg.Text, true
		}
	}
	return "", false
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status
	s.Loading = m.inFlight > 0
	s.Processing = m.running > 0
	return s
}

func (m *Manager) SetUploadStatus(s UploadStatus) {
	m.mu.Lock()
	m.status.Upload = s
	m.mu.Unlock()
	m.notify()
}

// BeginUpload marks a server-side upload as running and clears the previous
// upload result. The returned func ends it with the given outcome.
func (m *Manager) BeginUpload() func(UploadStatus) {
	m.mu.Lock()
	m.status.Upload = UploadNone
	m.mu.Unlock()
	epoch := m.startProcessing()
	var once sync.Once
	return func(s UploadStatus) {
		once.Do(func() { m.endUpload(epoch, s) })
	}
}

func (m *Manager) endUpload(epoch int, s UploadStatus) {
	m.mu.Lock()
	if m.epoch == epoch {
		m.status.Upload = s
	}
	m.mu.Unlock()
	m.finishProcessing(epoch)
}

// Updates signals transcript or status changes. Signals coalesce, so readers
// should re-read state rather than count notifications.
func (m *Manager) Updates() <-chan struct{} {
	return m.updates
}

// Wait blocks until every exchange started so far has settled.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) begin(query string) (Ticket, []string) {
	m.mu.Lock()
	history := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		history = append(history, msg.Text)
	}

	ts := m.timestamp()
	t := Ticket{UserID: m.newID(), BotID: m.newID(), done: make(chan struct{})}
	m.messages = append(m.messages,
		Message{ID: t.UserID, Sender: User, Text: query, Timestamp: ts, State: Answered},
		Message{ID: t.BotID, Sender: Bot, Text: PendingText, Timestamp: ts, State: Pending},
	)
	m.inFlight++
	m.mu.Unlock()

	m.notify()
	return t, history
}

func (m *Manager) resolve(ctx context.Context, t Ticket, req collab.QueryRequest) {
	defer m.wg.Done()
	defer close(t.done)

	callCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	started := m.now()
	resp, err := m.collab.Query(callCtx, req)
	elapsed := m.now().Sub(started)

	switch {
	case err == nil:
		set := answer.Normalize(resp)
		m.log.Info("query answered",
			zap.String("exchange", t.BotID),
			zap.String("shape", resp.Shape.String()),
			zap.Int("topics", len(set)),
			zap.Duration("elapsed", elapsed),
		)
		m.settle(t.BotID, answer.Render(set), Answered)
	case errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		m.log.Warn("query timed out",
			zap.String("exchange", t.BotID),
			zap.Duration("timeout", m.timeout),
			zap.Error(err),
		)
		m.settle(t.BotID, TimeoutText, TimedOut)
	default:
		m.log.Error("query failed",
			zap.String("exchange", t.BotID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		m.settle(t.BotID, ErrorText, Failed)
	}
}

// settle replaces the placeholder with the given id. The id may be gone if
// the transcript was cleared meanwhile; nothing else is touched then.
func (m *Manager) settle(id, text string, state State) {
	m.mu.Lock()
	m.inFlight--
	found := false
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].ID != id {
			continue
		}
		if m.messages[i].State == Pending {
			m.messages[i].Text = text
			m.messages[i].State = state
		}
		found = true
		break
	}
	m.mu.Unlock()

	if !found {
		m.log.Debug("dropping result for cleared exchange", zap.String("exchange", id))
	}
	m.notify()
}

func (m *Manager) startProcessing() int {
	m.mu.Lock()
	m.running++
	epoch := m.epoch
	m.mu.Unlock()
	m.notify()
	return epoch
}

// finishProcessing ends one batch or upload. Work from before a Clear was
// already discounted when the counter was reset.
func (m *Manager) finishProcessing(epoch int) {
	m.mu.Lock()
	if m.epoch == epoch && m.running > 0 {
		m.running--
	}
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) currentEpoch() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

func (m *Manager) timestamp() string {
	return m.now().Format(TimestampLayout)
}

func (m *Manager) notify() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}
