// Package recommend performs the HTTP round trip to the storefront chat
// backend and generates local bundle suggestions when it is unreachable.
package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chadiek/shop-voice/internal/session"
)

// ErrBackendUnavailable covers timeouts, transport failures and non-2xx
// statuses. Callers recover via the local fallback generator.
var ErrBackendUnavailable = errors.New("recommend: backend unavailable")

// ErrAlreadyInProgress is returned when a submission is attempted while
// another is still in flight. Turns never interleave.
var ErrAlreadyInProgress = errors.New("recommend: submission already in progress")

// DefaultTimeout bounds one chat round trip.
const DefaultTimeout = 10 * time.Second

// ChatResult is the backend's answer to one utterance.
type ChatResult struct {
	ResponseText    string
	SessionID       string
	Recommendations []session.Recommendation
}

type chatRequest struct {
	Message   string  `json:"message,omitempty"`
	SessionID *string `json:"session_id"`
	Reset     bool    `json:"reset,omitempty"`
}

type chatDeviceRef struct {
	ID        json.Number `json:"id"`
	Name      string      `json:"name"`
	Reasoning string      `json:"reasoning,omitempty"`
}

type chatPlanRef struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

type chatResponse struct {
	Response  string          `json:"response"`
	SessionID string          `json:"session_id"`
	Devices   []chatDeviceRef `json:"devices,omitempty"`
	Plans     []chatPlanRef   `json:"plans,omitempty"`
}

// Client talks to the backend chat endpoint. At most one submission is in
// flight at a time.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string

	mu       sync.Mutex
	inFlight bool
}

// NewClient builds a chat client with the default hard timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// InFlight reports whether a submission is currently pending.
func (c *Client) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Submit sends one message with the current session id. The server may return
// a new or same session id; the caller replaces its stored one either way. A
// second call while one is pending fails with ErrAlreadyInProgress rather
// than racing.
func (c *Client) Submit(ctx context.Context, message, sessionID string) (ChatResult, error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ChatResult{}, ErrAlreadyInProgress
	}
	c.inFlight = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	var sid *string
	if sessionID != "" {
		sid = &sessionID
	}
	body, _ := json.Marshal(chatRequest{Message: message, SessionID: sid})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return ChatResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return ChatResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return ChatResult{}, fmt.Errorf("%w: status=%d body=%s", ErrBackendUnavailable, resp.StatusCode, string(b))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return ChatResult{}, fmt.Errorf("%w: decode: %v", ErrBackendUnavailable, err)
	}

	result := ChatResult{ResponseText: strings.TrimSpace(cr.Response), SessionID: cr.SessionID}
	for i, d := range cr.Devices {
		rec := session.Recommendation{DeviceID: refString(d.ID, d.Name), Rationale: d.Reasoning}
		if i < len(cr.Plans) {
			rec.PlanID = refString(cr.Plans[i].ID, cr.Plans[i].Name)
		}
		result.Recommendations = append(result.Recommendations, rec)
	}
	return result, nil
}

// Reset asks the backend to discard server-side session state. Best effort:
// callers log failures and move on.
func (c *Client) Reset(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	body, _ := json.Marshal(chatRequest{Reset: true, SessionID: &sessionID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("reset session: status=%d", resp.StatusCode)
	}
	log.Printf("recommend: backend session %s reset", sessionID)
	return nil
}

// refString prefers the id over the display name; the backend occasionally
// returns numeric ids.
func refString(id json.Number, name string) string {
	if s := id.String(); s != "" {
		return s
	}
	return name
}
