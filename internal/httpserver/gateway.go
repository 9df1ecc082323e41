package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/chadiek/shop-voice/internal/assistant"
	"github.com/chadiek/shop-voice/internal/recommend"
	"github.com/chadiek/shop-voice/internal/session"
)

// speakAckTimeout bounds how long an utterance waits for the client's
// playback acknowledgement before it is considered finished.
const speakAckTimeout = 30 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for demo use; restrict in production
		return true
	},
}

// clientEvent is a frame from the storefront. Types: "toggle", "transcript",
// "typed", "focus", "blur", "reset", "speech-ended", "mic-error", "mic-ready".
type clientEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"isFinal,omitempty"`
	// ID echoes the utterance id from a "speak" frame on "speech-ended".
	ID string `json:"id,omitempty"`
}

// serverEvent is a frame to the storefront. Types: "state", "message",
// "speak", "stop-speak", "partial", "banner", "navigate".
type serverEvent struct {
	Type    string           `json:"type"`
	State   string           `json:"state,omitempty"`
	Message *session.Message `json:"message,omitempty"`
	Text    string           `json:"text,omitempty"`
	Route   string           `json:"route,omitempty"`
	ID      string           `json:"id,omitempty"`
}

// wsClient is one storefront connection: it owns a coordinator, relays its
// events out, and plays the role of the speech synthesizer by asking the
// browser to speak and waiting for its acknowledgement.
// outboxSize buffers outbound frames so coordinator callbacks never block on
// a slow client; overflow drops frames rather than stalling a transition.
const outboxSize = 64

type wsClient struct {
	id    string
	conn  *websocket.Conn
	coord *assistant.Coordinator

	outbox chan serverEvent

	mu        sync.Mutex
	speakID   string
	speakDone chan struct{}

	closed chan struct{}
}

// assistantSocket upgrades to WebSocket and runs one assistant session until
// the client disconnects.
func (s *Server) assistantSocket(c echo.Context) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return nil
	}

	client := &wsClient{
		id:     uuid.NewString(),
		conn:   conn,
		outbox: make(chan serverEvent, outboxSize),
		closed: make(chan struct{}),
	}
	conv := restoreConversation(s.opts.Store, s.opts.Coordinator.StorageKey)
	client.coord = assistant.New(s.opts.Coordinator, s.opts.Catalog, conv,
		s.opts.Store, recommend.NewClient(s.opts.BackendURL), client, client)

	log.Printf("ws %s: client connected", client.id)
	defer func() {
		client.coord.Close()
		close(client.closed)
		_ = conn.Close()
		log.Printf("ws %s: client disconnected", client.id)
	}()
	go client.writeLoop()

	// replay persisted history so a reloaded page picks up where it left off
	for _, m := range conv.History() {
		msg := m
		client.send(serverEvent{Type: "message", Message: &msg})
	}
	client.send(serverEvent{Type: "state", State: client.coord.State().String()})

	client.readLoop()
	return nil
}

func (c *wsClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("ws %s: read error: %v", c.id, err)
			}
			return
		}
		var ev clientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("ws %s: dropping malformed frame: %v", c.id, err)
			continue
		}
		switch ev.Type {
		case "toggle":
			c.coord.ToggleVoice()
		case "transcript":
			c.coord.OnTranscript(ev.Text, ev.IsFinal)
		case "typed":
			// the backend round trip must not stall playback acknowledgements
			go func(text string) {
				if _, err := c.coord.SubmitTyped(text); err != nil {
					log.Printf("ws %s: typed turn: %v", c.id, err)
				}
			}(ev.Text)
		case "focus":
			c.coord.TextFieldFocused()
		case "blur":
			c.coord.TextFieldBlurred()
		case "reset":
			go c.coord.Reset(context.Background())
		case "speech-ended":
			c.speechEnded(ev.ID)
		case "mic-error":
			c.coord.MicrophoneUnavailable()
		case "mic-ready":
			c.coord.MicrophoneAvailable()
		default:
			log.Printf("ws %s: unknown event type %q", c.id, ev.Type)
		}
	}
}

// Speak implements speech.Synthesizer: the browser owns audio output, so the
// server emits a "speak" frame and blocks until the client acknowledges the
// end of playback, the utterance is cancelled, or the ack times out.
func (c *wsClient) Speak(ctx context.Context, text string) error {
	id := uuid.NewString()
	done := make(chan struct{})
	c.mu.Lock()
	c.speakID = id
	c.speakDone = done
	c.mu.Unlock()

	if err := c.send(serverEvent{Type: "speak", ID: id, Text: text}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.send(serverEvent{Type: "stop-speak", ID: id})
		return ctx.Err()
	case <-time.After(speakAckTimeout):
		log.Printf("ws %s: no playback ack for utterance %s", c.id, id)
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	}
}

// speechEnded releases the pending Speak call. An empty id acknowledges
// whatever utterance is current.
func (c *wsClient) speechEnded(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.speakDone == nil {
		return
	}
	if id != "" && id != c.speakID {
		return
	}
	close(c.speakDone)
	c.speakDone = nil
}

// Notifier implementation. These may fire while the coordinator holds its
// lock, so they only write to the socket.

func (c *wsClient) StateChanged(s assistant.State) {
	c.send(serverEvent{Type: "state", State: s.String()})
}

func (c *wsClient) MessageAppended(m session.Message) {
	c.send(serverEvent{Type: "message", Message: &m})
}

func (c *wsClient) PartialTranscript(text string) {
	c.send(serverEvent{Type: "partial", Text: text})
}

func (c *wsClient) Banner(text string) {
	c.send(serverEvent{Type: "banner", Text: text})
}

func (c *wsClient) Navigate(route string) {
	c.send(serverEvent{Type: "navigate", Route: route})
}

// send enqueues a frame without blocking. Coordinator callbacks run under its
// lock, so a slow client must never stall here.
func (c *wsClient) send(ev serverEvent) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.outbox <- ev:
		return nil
	default:
		log.Printf("ws %s: outbox full, dropping %s frame", c.id, ev.Type)
		return errors.New("outbox full")
	}
}

func (c *wsClient) writeLoop() {
	for {
		select {
		case ev := <-c.outbox:
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Printf("ws %s: write error: %v", c.id, err)
				return
			}
		case <-c.closed:
			return
		}
	}
}
