package transcript

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ir-chat/internal/answer"
	"ir-chat/internal/collab"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCollab struct {
	mu     sync.Mutex
	calls  []collab.QueryRequest
	handle func(ctx context.Context, req collab.QueryRequest) (answer.Response, error)
}

func (f *fakeCollab) Query(ctx context.Context, req collab.QueryRequest) (answer.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.handle(ctx, req)
}

func (f *fakeCollab) Calls() []collab.QueryRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]collab.QueryRequest(nil), f.calls...)
}

func scalar(s string) answer.Response {
	return answer.Response{Shape: answer.ShapeSingle, Scalar: s}
}

func echo() *fakeCollab {
	return &fakeCollab{handle: func(_ context.Context, req collab.QueryRequest) (answer.Response, error) {
		return scalar("re: " + req.Query), nil
	}}
}

func fixedNow() time.Time {
	return time.Date(2025, 3, 7, 14, 15, 0, 0, time.UTC)
}

func newTestManager(c Collaborator, timeout time.Duration) *Manager {
	return NewManager(c, Options{Timeout: timeout, Now: fixedNow})
}

func waitTicket(t *testing.T, tk Ticket) {
	t.Helper()
	select {
	case <-tk.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("exchange %s did not settle", tk.BotID)
	}
}

func TestSubmit_BlankQueryIsNoop(t *testing.T) {
	fc := echo()
	m := newTestManager(fc, 0)

	for _, q := range []string{"", "   ", "\n\t"} {
		_, ok := m.Submit(context.Background(), q, "")
		assert.False(t, ok)
	}
	m.Wait()
	assert.Zero(t, m.Len())
	assert.Empty(t, fc.Calls())
}

func TestSubmit_AppendsPairBeforeCallResolves(t *testing.T) {
	release := make(chan struct{})
	fc := &fakeCollab{handle: func(context.Context, collab.QueryRequest) (answer.Response, error) {
		<-release
		return scalar("forty-two"), nil
	}}
	m := newTestManager(fc, 0)

	tk, ok := m.Submit(context.Background(), "  meaning of life?  ", "me@example.com")
	require.True(t, ok)

	msgs := m.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, User, msgs[0].Sender)
	assert.Equal(t, "meaning of life?", msgs[0].Text)
	assert.Equal(t, Bot, msgs[1].Sender)
	assert.Equal(t, PendingText, msgs[1].Text)
	assert.Equal(t, Pending, msgs[1].State)
	assert.Equal(t, "03/07/2025, 02:15 PM", msgs[0].Timestamp)
	assert.Equal(t, msgs[0].Timestamp, msgs[1].Timestamp)
	assert.True(t, m.Status().Loading)

	close(release)
	waitTicket(t, tk)

	after := m.Messages()
	require.Len(t, after, 2)
	assert.Equal(t, msgs[0], after[0])
	assert.Equal(t, tk.BotID, after[1].ID)
	assert.Equal(t, "Default:\nforty-two", after[1].Text)
	assert.Equal(t, Answered, after[1].State)
	assert.Equal(t, msgs[1].Timestamp, after[1].Timestamp)
	assert.False(t, m.Status().Loading)

	calls := fc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "meaning of life?", calls[0].Query)
	assert.Equal(t, "me@example.com", calls[0].Email)
	assert.Empty(t, calls[0].History)
}

func TestSubmit_HistoryIsSnapshotOfPriorMessages(t *testing.T) {
	fc := echo()
	m := newTestManager(fc, 0)

	first, _ := m.Submit(context.Background(), "one", "")
	waitTicket(t, first)
	second, _ := m.Submit(context.Background(), "two", "")
	waitTicket(t, second)
	m.Clear()

	calls := fc.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"one", "Default:\nre: one"}, calls[1].History)
}

func TestSubmit_FailureRecordsErrorText(t *testing.T) {
	fc := &fakeCollab{handle: func(context.Context, collab.QueryRequest) (answer.Response, error) {
		return answer.Response{}, errors.New("connection refused")
	}}
	m := newTestManager(fc, 0)

	tk, ok := m.Submit(context.Background(), "hello", "")
	require.True(t, ok)
	waitTicket(t, tk)

	msgs := m.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, ErrorText, msgs[1].Text)
	assert.Equal(t, Failed, msgs[1].State)
}

func TestSubmit_TimeoutIsDistinctState(t *testing.T) {
	fc := &fakeCollab{handle: func(ctx context.Context, _ collab.QueryRequest) (answer.Response, error) {
		<-ctx.Done()
		return answer.Response{}, ctx.Err()
	}}
	m := newTestManager(fc, 20*time.Millisecond)

	tk, _ := m.Submit(context.Background(), "slow", "")
	waitTicket(t, tk)

	msgs := m.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, TimeoutText, msgs[1].Text)
	assert.Equal(t, TimedOut, msgs[1].State)
}

func TestSubmit_AllBlankAnswersRenderEmpty(t *testing.T) {
	fc := &fakeCollab{handle: func(context.Context, collab.QueryRequest) (answer.Response, error) {
		return answer.Response{Shape: answer.ShapeMulti, Topics: answer.Set{
			{Label: "A", Answer: answer.Answer{Text: " "}},
			{Label: "B", Answer: answer.Answer{Text: ""}},
		}}, nil
	}}
	m := newTestManager(fc, 0)

	tk, _ := m.Submit(context.Background(), "q", "")
	waitTicket(t, tk)
	msgs := m.Messages()
	assert.Equal(t, "", msgs[1].Text)
	assert.Equal(t, Answered, msgs[1].State)
}

func TestSubmit_ConcurrentExchangesReplaceOwnPlaceholder(t *testing.T) {
	gates := map[string]chan struct{}{"first": make(chan struct{}), "second": make(chan struct{})}
	fc := &fakeCollab{handle: func(_ context.Context, req collab.QueryRequest) (answer.Response, error) {
		<-gates[req.Query]
		return scalar(req.Query + " answer"), nil
	}}
	m := newTestManager(fc, 0)

	a, _ := m.Submit(context.Background(), "first", "")
	b, _ := m.Submit(context.Background(), "second", "")

	close(gates["second"])
	waitTicket(t, b)
	msgs := m.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, PendingText, msgs[1].Text)
	assert.Equal(t, "Default:\nsecond answer", msgs[3].Text)

	close(gates["first"])
	waitTicket(t, a)
	msgs = m.Messages()
	assert.Equal(t, "Default:\nfirst answer", msgs[1].Text)
	assert.Equal(t, "Default:\nsecond answer", msgs[3].Text)
}

func TestClear_LateResultDoesNotResurrect(t *testing.T) {
	release := make(chan struct{})
	fc := &fakeCollab{handle: func(context.Context, collab.QueryRequest) (answer.Response, error) {
		<-release
		return scalar("late"), nil
	}}
	m := newTestManager(fc, 0)

	tk, _ := m.Submit(context.Background(), "q", "")
	m.Clear()
	assert.Zero(t, m.Len())

	follow, _ := m.Submit(context.Background(), "after clear", "")
	close(release)
	waitTicket(t, tk)
	waitTicket(t, follow)

	msgs := m.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "after clear", msgs[0].Text)
	assert.Equal(t, "Default:\nlate", msgs[1].Text)
	assert.Equal(t, follow.BotID, msgs[1].ID)
}

func TestClear_ResetsStatusFlags(t *testing.T) {
	m := newTestManager(echo(), 0)
	m.SetUploadStatus(UploadFailed)
	tk, _ := m.Submit(context.Background(), "q", "")
	waitTicket(t, tk)

	m.Clear()
	assert.Empty(t, m.Messages())
	assert.Equal(t, Status{}, m.Status())
	_, ok := m.LastAnswer()
	assert.False(t, ok)
}

func TestSubmitBatch_PreservesOrderAndSerializes(t *testing.T) {
	latency := map[string]time.Duration{"q1": 30 * time.Millisecond, "q2": 15 * time.Millisecond, "q3": 0}
	var active, maxActive int32
	fc := &fakeCollab{handle: func(_ context.Context, req collab.QueryRequest) (answer.Response, error) {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			cur := atomic.LoadInt32(&maxActive)
			if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
				break
			}
		}
		time.Sleep(latency[req.Query])
		return scalar(req.Query), nil
	}}
	m := newTestManager(fc, 0)

	err := m.SubmitBatch(context.Background(), []string{"q1", "q2", "", "q3"}, "")
	require.NoError(t, err)

	msgs := m.Messages()
	require.Len(t, msgs, 6)
	for i, q := range []string{"q1", "q2", "q3"} {
		assert.Equal(t, q, msgs[2*i].Text)
		assert.Equal(t, "Default:\n"+q, msgs[2*i+1].Text)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&maxActive))
	assert.False(t, m.Status().Processing)

	calls := fc.Calls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[2].History, 4)
}

func TestSubmitBatch_FailureDoesNotAbort(t *testing.T) {
	fc := &fakeCollab{handle: func(_ context.Context, req collab.QueryRequest) (answer.Response, error) {
		if req.Query == "bad" {
			return answer.Response{}, fmt.Errorf("status 500")
		}
		return scalar("ok"), nil
	}}
	m := newTestManager(fc, 0)

	require.NoError(t, m.SubmitBatch(context.Background(), []string{"good", "bad", "good again"}, ""))
	msgs := m.Messages()
	require.Len(t, msgs, 6)
	assert.Equal(t, Answered, msgs[1].State)
	assert.Equal(t, ErrorText, msgs[3].Text)
	assert.Equal(t, Answered, msgs[5].State)
}

func TestSubmitBatch_StopsOnClear(t *testing.T) {
	var m *Manager
	fc := &fakeCollab{handle: func(_ context.Context, req collab.QueryRequest) (answer.Response, error) {
		if req.Query == "q1" {
			m.Clear()
		}
		return scalar(req.Query), nil
	}}
	m = newTestManager(fc, 0)

	err := m.SubmitBatch(context.Background(), []string{"q1", "q2"}, "")
	assert.ErrorIs(t, err, ErrCleared)
	assert.Len(t, fc.Calls(), 1)
	assert.Zero(t, m.Len())
}

func TestSubmitBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fc := &fakeCollab{handle: func(_ context.Context, req collab.QueryRequest) (answer.Response, error) {
		cancel()
		return scalar(req.Query), nil
	}}
	m := newTestManager(fc, 0)

	err := m.SubmitBatch(ctx, []string{"q1", "q2"}, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, fc.Calls(), 1)
}

func TestMerge_AppendsAnsweredPairs(t *testing.T) {
	m := newTestManager(echo(), 0)
	m.Merge(
		[]string{"q1", " ", "q3"},
		[]answer.Set{
			{{Label: "Fund A", Answer: answer.Answer{Text: "a1"}}},
			nil,
		},
	)

	msgs := m.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "q1", msgs[0].Text)
	assert.Equal(t, "Fund A:\na1", msgs[1].Text)
	assert.Equal(t, "q3", msgs[2].Text)
	assert.Equal(t, ErrorText, msgs[3].Text)
	assert.Equal(t, Failed, msgs[3].State)
}

func TestBeginUpload_ClearDiscardsOutcome(t *testing.T) {
	m := newTestManager(echo(), 0)
	done := m.BeginUpload()
	assert.True(t, m.Status().Processing)

	m.Clear()
	done(UploadSucceeded)
	assert.Equal(t, Status{}, m.Status())

	done = m.BeginUpload()
	done(UploadFailed)
	assert.Equal(t, UploadFailed, m.Status().Upload)
	assert.False(t, m.Status().Processing)
}

func TestProcessing_OverlappingBatchAndUpload(t *testing.T) {
	release := make(chan struct{})
	fc := &fakeCollab{handle: func(ctx context.Context, req collab.QueryRequest) (answer.Response, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return answer.Response{}, ctx.Err()
		}
		return scalar(req.Query), nil
	}}
	m := newTestManager(fc, 0)

	batchDone := make(chan error, 1)
	go func() {
		batchDone <- m.SubmitBatch(context.Background(), []string{"q1", "q2"}, "")
	}()
	require.Eventually(t, func() bool { return len(fc.Calls()) == 1 }, 5*time.Second, 5*time.Millisecond)

	finish := m.BeginUpload()
	finish(UploadSucceeded)
	finish(UploadSucceeded)
	st := m.Status()
	assert.True(t, st.Processing, "batch is still running")
	assert.Equal(t, UploadSucceeded, st.Upload)

	close(release)
	require.NoError(t, <-batchDone)
	assert.False(t, m.Status().Processing)
}

func TestProcessing_ClearResetsCounter(t *testing.T) {
	m := newTestManager(echo(), 0)
	first := m.BeginUpload()
	second := m.BeginUpload()
	m.Clear()
	assert.False(t, m.Status().Processing)

	third := m.BeginUpload()
	first(UploadFailed)
	second(UploadFailed)
	assert.True(t, m.Status().Processing, "uploads from before the clear must not end newer work")
	third(UploadSucceeded)
	assert.False(t, m.Status().Processing)
}

func TestUpdates_Coalesce(t *testing.T) {
	m := newTestManager(echo(), 0)
	m.SetUploadStatus(UploadSucceeded)
	m.SetUploadStatus(UploadFailed)

	select {
	case <-m.Updates():
	default:
		t.Fatalf("expected pending update signal")
	}
	select {
	case <-m.Updates():
		t.Fatalf("expected signals to coalesce")
	default:
	}
}
