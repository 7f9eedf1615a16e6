package transcript

const (
	PendingText = "Thinking..."
	ErrorText   = "Error fetching response."
	TimeoutText = "Request timed out."

	// TimestampLayout renders as e.g. "03/07/2025, 02:15 PM".
	TimestampLayout = "01/02/2006, 03:04 PM"
)

type Sender int

const (
	User Sender = iota
	Bot
)

func (s Sender) String() string {
	if s == Bot {
		return "bot"
	}
	return "user"
}

// State tracks a bot message through its exchange. User messages are always
// Answered.
type State int

const (
	Pending State = iota
	Answered
	Failed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Answered:
		return "answered"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Settled reports whether the exchange reached a terminal state.
func (s State) Settled() bool {
	return s != Pending
}

type Message struct {
	ID        string
	Sender    Sender
	Text      string
	Timestamp string
	State     State
}

type UploadStatus int

const (
	UploadNone UploadStatus = iota
	UploadSucceeded
	UploadFailed
)

type Status struct {
	// Loading is true while any exchange is in flight.
	Loading bool
	// Processing is true while a batch or upload is running.
	Processing bool
	Upload     UploadStatus
}
