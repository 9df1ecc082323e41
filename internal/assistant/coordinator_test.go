package assistant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chadiek/shop-voice/internal/catalog"
	"github.com/chadiek/shop-voice/internal/recommend"
	"github.com/chadiek/shop-voice/internal/session"
	"github.com/chadiek/shop-voice/internal/speech"
)

type fakeRecommender struct {
	mu      sync.Mutex
	result  recommend.ChatResult
	err     error
	block   chan struct{}
	submits []string
	resets  []string
}

func (f *fakeRecommender) Submit(ctx context.Context, message, sessionID string) (recommend.ChatResult, error) {
	f.mu.Lock()
	f.submits = append(f.submits, message)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return recommend.ChatResult{}, ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeRecommender) Reset(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	f.resets = append(f.resets, sessionID)
	f.mu.Unlock()
	return nil
}

func (f *fakeRecommender) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

// instantSynth completes playback immediately and records what was spoken.
type instantSynth struct {
	mu     sync.Mutex
	spoken []string
}

func (s *instantSynth) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()
	return nil
}

func (s *instantSynth) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

// blockingSynth holds playback open until released.
type blockingSynth struct {
	started chan string
	release chan struct{}
}

func newBlockingSynth() *blockingSynth {
	return &blockingSynth{started: make(chan string, 10), release: make(chan struct{})}
}

func (s *blockingSynth) Speak(ctx context.Context, text string) error {
	s.started <- text
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.release:
		return nil
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	banners []string
	routes  []string
}

func (n *recordingNotifier) StateChanged(State)              {}
func (n *recordingNotifier) MessageAppended(session.Message) {}
func (n *recordingNotifier) PartialTranscript(string)        {}
func (n *recordingNotifier) Banner(text string) {
	n.mu.Lock()
	n.banners = append(n.banners, text)
	n.mu.Unlock()
}
func (n *recordingNotifier) Navigate(route string) {
	n.mu.Lock()
	n.routes = append(n.routes, route)
	n.mu.Unlock()
}

func testConfig() Config {
	return Config{
		CommitDelay:         25 * time.Millisecond,
		ExitDelay:           60 * time.Millisecond,
		InteractionCooldown: 60 * time.Millisecond,
		SubmitTimeout:       time.Second,
		StorageKey:          "conversation",
	}
}

func testCatalog() *catalog.Snapshot {
	return catalog.FromLists(
		[]catalog.Device{
			{ID: "1", Name: "iPhone 15 Pro", Brand: "Apple", Price: 1199, Features: []string{"5G"}},
			{ID: "2", Name: "Galaxy S24 Ultra", Brand: "Samsung", Price: 1200, Features: []string{"5G"}},
		},
		[]catalog.Plan{
			{ID: "101", Name: "Prepaid S", Price: 20, Type: "prepaid"},
			{ID: "103", Name: "Postpaid L", Price: 60, Type: "postpaid"},
		},
	)
}

func newTestCoordinator(t *testing.T, rec *fakeRecommender, synth speech.Synthesizer, notifier Notifier) *Coordinator {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	c := New(testConfig(), testCatalog(), session.NewConversation(), store, rec, synth, notifier)
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestToggleVoice_GreetsNewSessionOnce(t *testing.T) {
	rec := &fakeRecommender{}
	synth := &instantSynth{}
	c := newTestCoordinator(t, rec, synth, nil)

	c.ToggleVoice()
	waitFor(t, "greeting spoken", func() bool { return len(synth.all()) == 1 })
	waitFor(t, "listening after greeting", func() bool { return c.State() == StateListening })

	if c.Conversation().IsNew() {
		t.Fatalf("session must not be new after greeting")
	}

	// toggling off and on again must not re-greet
	c.ToggleVoice()
	if c.State() != StateInactive {
		t.Fatalf("expected inactive after toggle off, got %v", c.State())
	}
	c.ToggleVoice()
	time.Sleep(50 * time.Millisecond)
	if got := synth.all(); len(got) != 1 {
		t.Fatalf("greeting must be one-time, spoke %v", got)
	}
}

func TestVoiceExitScenario(t *testing.T) {
	rec := &fakeRecommender{}
	synth := &instantSynth{}
	c := newTestCoordinator(t, rec, synth, nil)

	c.ToggleVoice()
	waitFor(t, "listening", func() bool { return c.State() == StateListening })

	c.OnTranscript("okay bye", true)
	waitFor(t, "farewell spoken", func() bool {
		for _, s := range synth.all() {
			if s == farewellText {
				return true
			}
		}
		return false
	})
	waitFor(t, "inactive after farewell delay", func() bool { return c.State() == StateInactive })
	if c.VoiceActive() {
		t.Fatalf("voice session must end after exit intent")
	}
	if rec.submitCount() != 0 {
		t.Fatalf("exit must never reach the backend")
	}
}

func TestCommittedTranscriptDelegatesToBackend(t *testing.T) {
	rec := &fakeRecommender{result: recommend.ChatResult{
		ResponseText: "Here you go",
		SessionID:    "abc",
		Recommendations: []session.Recommendation{
			{DeviceID: "iPhone 15 Pro", Rationale: "premium pick"},
		},
	}}
	synth := &instantSynth{}
	c := newTestCoordinator(t, rec, synth, nil)

	c.ToggleVoice()
	waitFor(t, "listening", func() bool { return c.State() == StateListening })
	c.OnTranscript("iPhone with 5G", true)

	waitFor(t, "backend reply", func() bool { return rec.submitCount() == 1 })
	waitFor(t, "assistant message appended", func() bool { return c.Conversation().Len() >= 3 })

	if got := c.Conversation().SessionID(); got != "abc" {
		t.Fatalf("session id not adopted, got %q", got)
	}
	history := c.Conversation().History()
	last := history[len(history)-1]
	if last.Role != session.RoleAssistant || last.Text != "Here you go" {
		t.Fatalf("unexpected assistant turn: %+v", last)
	}
	if len(last.Recommendations) != 1 || last.Recommendations[0].DeviceID != "1" {
		t.Fatalf("expected name ref resolved to catalog id 1, got %+v", last.Recommendations)
	}
	user := history[len(history)-2]
	if user.Role != session.RoleUser || user.Source != session.SourceSpoken {
		t.Fatalf("unexpected user turn: %+v", user)
	}
}

func TestDuplicateSubmissionRejectedWithoutStateChange(t *testing.T) {
	rec := &fakeRecommender{block: make(chan struct{}), result: recommend.ChatResult{ResponseText: "ok", SessionID: "s"}}
	synth := &instantSynth{}
	c := newTestCoordinator(t, rec, synth, nil)

	c.ToggleVoice()
	waitFor(t, "listening", func() bool { return c.State() == StateListening })

	go func() { _, _ = c.SubmitTyped("first message") }()
	waitFor(t, "processing", func() bool { return rec.submitCount() == 1 })

	before := c.Conversation().Len()
	if _, err := c.SubmitTyped("second message"); !errors.Is(err, recommend.ErrAlreadyInProgress) {
		t.Fatalf("expected ErrAlreadyInProgress, got %v", err)
	}
	if c.Conversation().Len() != before {
		t.Fatalf("rejected submission must not alter session state")
	}

	close(rec.block)
	waitFor(t, "first turn resolved", func() bool { return c.Conversation().Len() == before+1 })
}

func TestBackendUnavailableFallsBackLocally(t *testing.T) {
	rec := &fakeRecommender{err: recommend.ErrBackendUnavailable}
	synth := &instantSynth{}
	notifier := &recordingNotifier{}
	c := newTestCoordinator(t, rec, synth, notifier)

	msg, err := c.SubmitTyped("show me a samsung")
	if err != nil {
		t.Fatalf("typed submit: %v", err)
	}
	if len(msg.Recommendations) == 0 {
		t.Fatalf("fallback must never produce an empty result set")
	}
	if msg.Recommendations[0].DeviceID != "2" {
		t.Fatalf("expected the Samsung device, got %+v", msg.Recommendations)
	}
	// €1200 device pairs with the highest postpaid tier
	if msg.Recommendations[0].PlanID != "103" {
		t.Fatalf("expected Postpaid L pairing, got %+v", msg.Recommendations[0])
	}
	notifier.mu.Lock()
	banners := len(notifier.banners)
	notifier.mu.Unlock()
	if banners == 0 {
		t.Fatalf("degraded mode should surface a banner")
	}
}

func TestViewCartIntentNavigatesWithoutBackend(t *testing.T) {
	rec := &fakeRecommender{}
	notifier := &recordingNotifier{}
	c := newTestCoordinator(t, rec, &instantSynth{}, notifier)

	msg, err := c.SubmitTyped("show my cart")
	if err != nil {
		t.Fatalf("typed submit: %v", err)
	}
	if msg.Text != viewCartText {
		t.Fatalf("unexpected reply: %q", msg.Text)
	}
	notifier.mu.Lock()
	routes := append([]string(nil), notifier.routes...)
	notifier.mu.Unlock()
	if len(routes) != 1 || routes[0] != "/cart" {
		t.Fatalf("expected /cart navigation, got %v", routes)
	}
	if rec.submitCount() != 0 {
		t.Fatalf("local intent must not reach the backend")
	}
}

func TestTextFieldFocusForcesInactiveAndCoolsDown(t *testing.T) {
	rec := &fakeRecommender{}
	synth := newBlockingSynth()
	c := newTestCoordinator(t, rec, synth, nil)

	c.ToggleVoice()
	// greeting is playing
	select {
	case <-synth.started:
	case <-time.After(time.Second):
		t.Fatalf("greeting never started")
	}
	if c.State() != StateSpeaking {
		t.Fatalf("expected speaking, got %v", c.State())
	}

	c.TextFieldFocused()
	if c.State() != StateInactive {
		t.Fatalf("focus must force inactive, got %v", c.State())
	}

	c.TextFieldBlurred()
	if c.State() != StateInactive {
		t.Fatalf("listening must stay blocked during cool-down")
	}
	waitFor(t, "listening after cool-down", func() bool { return c.State() == StateListening })
}

func TestTypingCancelsPendingVoiceTurn(t *testing.T) {
	rec := &fakeRecommender{}
	c := newTestCoordinator(t, rec, &instantSynth{}, nil)

	c.ToggleVoice()
	waitFor(t, "listening", func() bool { return c.State() == StateListening })
	c.OnTranscript("half finished thought", true)
	c.TextFieldFocused()

	time.Sleep(100 * time.Millisecond)
	if rec.submitCount() != 0 {
		t.Fatalf("abandoned voice turn must not submit")
	}
	for _, m := range c.Conversation().History() {
		if m.Text == "half finished thought" {
			t.Fatalf("abandoned utterance leaked into history")
		}
	}
}

func TestReset_ClearsSessionAndAnnouncesFreshStart(t *testing.T) {
	rec := &fakeRecommender{result: recommend.ChatResult{ResponseText: "ok", SessionID: "abc"}}
	synth := &instantSynth{}
	c := newTestCoordinator(t, rec, synth, nil)

	c.ToggleVoice()
	waitFor(t, "listening", func() bool { return c.State() == StateListening })
	if _, err := c.SubmitTyped("need a phone for gaming"); err != nil {
		t.Fatalf("typed submit: %v", err)
	}
	if c.Conversation().SessionID() != "abc" {
		t.Fatalf("precondition: expected backend session id")
	}

	c.Reset(context.Background())
	waitFor(t, "backend reset notified", func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.resets) == 1 && rec.resets[0] == "abc"
	})
	waitFor(t, "fresh start announced", func() bool {
		for _, s := range synth.all() {
			if s == freshStartText {
				return true
			}
		}
		return false
	})
	if c.Conversation().SessionID() != "" {
		t.Fatalf("session id must clear on reset")
	}
	// only the fresh-start announcement remains in the history
	h := c.Conversation().History()
	if len(h) != 1 || h[0].Text != freshStartText {
		t.Fatalf("unexpected post-reset history: %+v", h)
	}
}

func TestMicrophoneUnavailableBlocksActivation(t *testing.T) {
	rec := &fakeRecommender{}
	notifier := &recordingNotifier{}
	c := newTestCoordinator(t, rec, &instantSynth{}, notifier)

	c.MicrophoneUnavailable()
	c.ToggleVoice()
	if c.VoiceActive() || c.State() != StateInactive {
		t.Fatalf("voice must not activate while the microphone is blocked")
	}
	notifier.mu.Lock()
	banners := len(notifier.banners)
	notifier.mu.Unlock()
	if banners == 0 {
		t.Fatalf("expected a microphone banner")
	}

	c.MicrophoneAvailable()
	c.ToggleVoice()
	if !c.VoiceActive() {
		t.Fatalf("voice should activate once the microphone is back")
	}
}

func TestStateSettlesToListeningAfterInstantPlayback(t *testing.T) {
	rec := &fakeRecommender{result: recommend.ChatResult{ResponseText: "ok", SessionID: "s"}}
	c := newTestCoordinator(t, rec, &instantSynth{}, nil)

	c.ToggleVoice()
	waitFor(t, "listening", func() bool { return c.State() == StateListening })

	// playback finishing before the speaking transition must not leave the
	// coordinator stuck in Speaking
	for i := 0; i < 50; i++ {
		if _, err := c.SubmitTyped("help please"); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		deadline := time.Now().Add(time.Second)
		for c.State() != StateListening {
			if time.Now().After(deadline) {
				t.Fatalf("iteration %d: state stuck at %v", i, c.State())
			}
			time.Sleep(time.Millisecond)
		}
	}
}

func TestResetDropsLateResult(t *testing.T) {
	rec := &fakeRecommender{block: make(chan struct{}), result: recommend.ChatResult{ResponseText: "stale result", SessionID: "s"}}
	c := newTestCoordinator(t, rec, &instantSynth{}, nil)

	go func() { _, _ = c.SubmitTyped("find me something") }()
	waitFor(t, "in flight", func() bool { return rec.submitCount() == 1 })

	c.Reset(context.Background())
	close(rec.block)

	time.Sleep(100 * time.Millisecond)
	for _, m := range c.Conversation().History() {
		if m.Text == "stale result" {
			t.Fatalf("result from before the reset leaked into the fresh session")
		}
	}
	// a new turn works normally afterwards
	rec.mu.Lock()
	rec.block = nil
	rec.err = nil
	rec.result = recommend.ChatResult{ResponseText: "fresh answer", SessionID: "n"}
	rec.mu.Unlock()
	if msg, err := c.SubmitTyped("try again"); err != nil || msg.Text != "fresh answer" {
		t.Fatalf("post-reset turn failed: %v %+v", err, msg)
	}
}

func TestToggleOffMidProcessingSuppressesSpeech(t *testing.T) {
	rec := &fakeRecommender{block: make(chan struct{}), result: recommend.ChatResult{ResponseText: "late result", SessionID: "s"}}
	synth := &instantSynth{}
	c := newTestCoordinator(t, rec, synth, nil)

	c.ToggleVoice()
	waitFor(t, "listening", func() bool { return c.State() == StateListening })
	spokenBefore := len(synth.all())

	go func() { _, _ = c.SubmitTyped("find me something") }()
	waitFor(t, "in flight", func() bool { return rec.submitCount() == 1 })

	c.ToggleVoice() // off while the call is pending
	close(rec.block)

	waitFor(t, "late result appended silently", func() bool {
		for _, m := range c.Conversation().History() {
			if m.Text == "late result" {
				return true
			}
		}
		return false
	})
	time.Sleep(50 * time.Millisecond)
	if got := synth.all(); len(got) != spokenBefore {
		t.Fatalf("late result must not be spoken, spoke %v", got[spokenBefore:])
	}
	if c.State() != StateInactive {
		t.Fatalf("expected inactive, got %v", c.State())
	}
}
