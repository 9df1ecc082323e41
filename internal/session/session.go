package session

import (
	"sync"
	"time"
)

// Role labels a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Source records which input modality produced a user message.
type Source string

const (
	SourceTyped  Source = "typed"
	SourceSpoken Source = "spoken"
)

// Recommendation is one device+plan bundle suggestion attached to an
// assistant message. DeviceID and PlanID are catalog ids, already resolved.
type Recommendation struct {
	DeviceID  string `json:"device_id"`
	PlanID    string `json:"plan_id"`
	Rationale string `json:"rationale,omitempty"`
}

// Message is one turn in the conversation. Messages are never mutated after
// creation.
type Message struct {
	Role            Role             `json:"role"`
	Text            string           `json:"text"`
	Source          Source           `json:"source,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
}

// Conversation holds the ordered message history and the backend-issued
// session id. History is append-only; it is never reordered.
type Conversation struct {
	mu        sync.Mutex
	sessionID string
	history   []Message
	isNew     bool
}

// NewConversation returns an empty conversation with no backend session yet.
func NewConversation() *Conversation {
	return &Conversation{isNew: true}
}

// Restore rebuilds a conversation from persisted state. A non-empty history
// means the session already produced assistant output, so the one-time
// greeting is not replayed.
func Restore(sessionID string, history []Message) *Conversation {
	return &Conversation{
		sessionID: sessionID,
		history:   append([]Message(nil), history...),
		isNew:     len(history) == 0,
	}
}

// SessionID returns the backend session token, empty before the first
// successful exchange.
func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetSessionID stores the token issued (or re-issued) by the backend.
func (c *Conversation) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// IsNew reports whether no assistant message has been produced yet. Used to
// gate the one-time greeting.
func (c *Conversation) IsNew() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isNew
}

// AppendUser records a user turn.
func (c *Conversation) AppendUser(text string, src Source) Message {
	m := Message{Role: RoleUser, Text: text, Source: src, CreatedAt: time.Now()}
	c.mu.Lock()
	c.history = append(c.history, m)
	c.mu.Unlock()
	return m
}

// AppendAssistant records an assistant turn and clears the new-session flag.
func (c *Conversation) AppendAssistant(text string, recs []Recommendation) Message {
	m := Message{Role: RoleAssistant, Text: text, CreatedAt: time.Now(), Recommendations: append([]Recommendation(nil), recs...)}
	c.mu.Lock()
	c.history = append(c.history, m)
	c.isNew = false
	c.mu.Unlock()
	return m
}

// History returns a copy of the message history.
func (c *Conversation) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.history...)
}

// Len returns the number of recorded turns.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// Clear drops the session id and history, returning the conversation to its
// fresh state.
func (c *Conversation) Clear() {
	c.mu.Lock()
	c.sessionID = ""
	c.history = nil
	c.isNew = true
	c.mu.Unlock()
}
