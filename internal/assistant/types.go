package assistant

import (
	"context"
	"time"

	"github.com/chadiek/shop-voice/internal/recommend"
	"github.com/chadiek/shop-voice/internal/session"
	"github.com/chadiek/shop-voice/internal/transcript"
)

// State is the coordinator's mode. At most one of Listening/Speaking holds at
// any instant; the coordinator alone starts and stops recognition and
// synthesis so the two never run uncoordinated.
type State int

const (
	StateInactive State = iota
	StateListening
	StateProcessing
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "inactive"
	}
}

// Config carries the coordinator's timing windows. Tests shrink them.
type Config struct {
	// CommitDelay is the quiet period before a buffered transcript commits.
	CommitDelay time.Duration
	// ExitDelay is how long after a spoken farewell the session deactivates,
	// so the farewell can finish playing.
	ExitDelay time.Duration
	// InteractionCooldown blocks the return to listening after the text input
	// was focused, to avoid re-capturing audio the user didn't intend to
	// dictate.
	InteractionCooldown time.Duration
	// SubmitTimeout bounds one backend round trip.
	SubmitTimeout time.Duration
	// StorageKey is the fixed name conversation state persists under.
	StorageKey string
}

// DefaultConfig returns the production timing windows.
func DefaultConfig() Config {
	return Config{
		CommitDelay:         transcript.DefaultCommitDelay,
		ExitDelay:           2 * time.Second,
		InteractionCooldown: 2 * time.Second,
		SubmitTimeout:       recommend.DefaultTimeout,
		StorageKey:          "conversation",
	}
}

// Recommender is the backend chat round trip.
type Recommender interface {
	Submit(ctx context.Context, message, sessionID string) (recommend.ChatResult, error)
	Reset(ctx context.Context, sessionID string) error
}

// Notifier receives coordinator output for the UI client. Implementations
// must not call back into the Coordinator; StateChanged may fire while its
// lock is held.
type Notifier interface {
	StateChanged(s State)
	MessageAppended(m session.Message)
	PartialTranscript(text string)
	// Banner surfaces a dismissible notice (degraded mode, microphone
	// trouble). Never a raw error.
	Banner(text string)
	// Navigate asks the client to move to a storefront route.
	Navigate(route string)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) StateChanged(State)              {}
func (NopNotifier) MessageAppended(session.Message) {}
func (NopNotifier) PartialTranscript(string)        {}
func (NopNotifier) Banner(string)                   {}
func (NopNotifier) Navigate(string)                 {}
