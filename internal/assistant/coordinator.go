// Package assistant coordinates a voice/text dialogue session: it arbitrates
// between input modalities, drives the state machine, and produces
// recommendation results.
package assistant

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/chadiek/shop-voice/internal/catalog"
	"github.com/chadiek/shop-voice/internal/intent"
	"github.com/chadiek/shop-voice/internal/recommend"
	"github.com/chadiek/shop-voice/internal/session"
	"github.com/chadiek/shop-voice/internal/speech"
	"github.com/chadiek/shop-voice/internal/transcript"
)

const (
	greetingText   = "Hi! I'm your voice shopping assistant. I'll help you find the perfect phone and plan. What are you looking for today?"
	freshStartText = "Fresh start! I'm here to help you find the perfect phone and plan. What are you looking for?"
	farewellText   = "Goodbye! Happy shopping, talk to you soon."
	helpText       = "I can help you find phones, compare plans, add items to cart, or guide you through checkout. What would you like to do?"
	viewCartText   = "Taking you to your shopping cart now!"
	degradedText   = "I couldn't reach the shopping service right now, so here are some picks straight from our catalog."
	micBannerText  = "The microphone isn't available. Check your browser permissions to use voice input."
)

// Coordinator owns the active/inactive voice session flag and all state
// transitions. Every input modality and collaborator callback funnels into
// its event methods; nothing else starts or stops recognition or synthesis.
type Coordinator struct {
	cfg      Config
	cat      *catalog.Snapshot
	conv     *session.Conversation
	store    session.Store
	rec      Recommender
	out      *speech.Output
	buf      *transcript.Buffer
	notifier Notifier

	mu            sync.Mutex
	state         State
	voiceOn       bool
	typing        bool
	processing    bool
	micBlocked    bool
	gen           uint64
	cooldownUntil time.Time
	exitTimer     *time.Timer
	resumeTimer   *time.Timer
}

// New wires a coordinator. conv may be a restored conversation; synth is the
// playback collaborator (the ws client in production).
func New(cfg Config, cat *catalog.Snapshot, conv *session.Conversation, store session.Store, rec Recommender, synth speech.Synthesizer, notifier Notifier) *Coordinator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	c := &Coordinator{
		cfg:      cfg,
		cat:      cat,
		conv:     conv,
		store:    store,
		rec:      rec,
		notifier: notifier,
	}
	c.out = speech.NewOutput(synth, c.isTyping, c.onSpeechDone)
	c.buf = transcript.NewBuffer(cfg.CommitDelay, c.allowCommit, func(text string) {
		_, _ = c.handleUtterance(text, session.SourceSpoken)
	})
	return c
}

// State returns the current mode.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// VoiceActive reports whether the voice session is toggled on.
func (c *Coordinator) VoiceActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voiceOn
}

// Conversation exposes the session for read access (history rendering).
func (c *Coordinator) Conversation() *session.Conversation { return c.conv }

// ToggleVoice flips the voice session on or off. Turning it on speaks the
// one-time greeting for a new session; turning it off stops listening and
// speaking immediately. An in-flight backend call is allowed to finish, but
// its result is appended silently rather than spoken.
func (c *Coordinator) ToggleVoice() {
	c.mu.Lock()
	if c.voiceOn {
		c.voiceOn = false
		c.stopExitTimerLocked()
		c.stopResumeTimerLocked()
		c.setStateLocked(StateInactive)
		c.mu.Unlock()
		c.buf.Cancel()
		c.out.Stop()
		log.Printf("assistant: voice session off")
		return
	}
	if c.micBlocked {
		c.mu.Unlock()
		c.notifier.Banner(micBannerText)
		return
	}
	c.voiceOn = true
	c.setStateLocked(StateListening)
	greet := c.conv.IsNew()
	gen := c.gen
	c.mu.Unlock()
	log.Printf("assistant: voice session on")

	if greet {
		c.respond(greetingText, nil, speech.PriorityHigh, gen)
	}
}

// OnTranscript is invoked by the speech-recognition collaborator on every
// recognition event. Ignored while the voice session is off or the user is
// typing; finals received while speaking are buffered and commit once the
// channel is quiet again.
func (c *Coordinator) OnTranscript(text string, isFinal bool) {
	c.mu.Lock()
	active := c.voiceOn && !c.typing
	c.mu.Unlock()
	if !active {
		return
	}
	c.buf.Update(text, isFinal)
	c.notifier.PartialTranscript(c.buf.Pending())
}

// SubmitTyped runs one typed turn. Typed input takes precedence: any pending
// voice utterance is abandoned. Returns the assistant's reply.
func (c *Coordinator) SubmitTyped(text string) (session.Message, error) {
	c.buf.Cancel()
	return c.handleUtterance(text, session.SourceTyped)
}

// TextFieldFocused forces the session inactive while the user works with the
// text input: pending debounce and in-flight speech are cancelled (not the
// network call), and listening will not resume for the cool-down window.
func (c *Coordinator) TextFieldFocused() {
	c.mu.Lock()
	c.typing = true
	c.cooldownUntil = time.Now().Add(c.cfg.InteractionCooldown)
	c.stopResumeTimerLocked()
	if c.state != StateInactive {
		c.setStateLocked(StateInactive)
	}
	c.mu.Unlock()
	c.buf.Cancel()
	c.out.Stop()
}

// TextFieldBlurred ends the typed interaction. Listening resumes once the
// cool-down expires, provided the voice session is still on.
func (c *Coordinator) TextFieldBlurred() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing = false
	if !c.voiceOn || c.state != StateInactive {
		return
	}
	wait := time.Until(c.cooldownUntil)
	if wait <= 0 {
		c.setStateLocked(StateListening)
		return
	}
	c.stopResumeTimerLocked()
	c.resumeTimer = time.AfterFunc(wait, c.resumeListening)
}

// MicrophoneUnavailable records that recognition cannot run (permission
// denied, device missing). The voice session cannot activate until resolved.
func (c *Coordinator) MicrophoneUnavailable() {
	c.mu.Lock()
	c.micBlocked = true
	wasOn := c.voiceOn
	c.mu.Unlock()
	c.notifier.Banner(micBannerText)
	if wasOn {
		c.ToggleVoice()
	}
}

// MicrophoneAvailable clears the microphone block.
func (c *Coordinator) MicrophoneAvailable() {
	c.mu.Lock()
	c.micBlocked = false
	c.mu.Unlock()
}

// Reset clears the conversation from any state: stops listening and
// speaking, wipes persisted storage, notifies the backend best-effort, and
// either returns to Inactive or re-enters the session with a fresh-start
// announcement if voice was active.
func (c *Coordinator) Reset(ctx context.Context) {
	c.mu.Lock()
	c.stopExitTimerLocked()
	c.stopResumeTimerLocked()
	voiceOn := c.voiceOn
	c.processing = false
	// invalidate any in-flight turn; its late result belongs to a dead session
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.buf.Cancel()
	c.out.Stop()

	sessionID := c.conv.SessionID()
	c.conv.Clear()
	if err := c.store.Clear(ctx, c.cfg.StorageKey); err != nil {
		log.Printf("assistant: clearing persisted session: %v", err)
	}
	if sessionID != "" {
		resetCtx, cancel := context.WithTimeout(context.Background(), c.cfg.SubmitTimeout)
		go func() {
			defer cancel()
			if err := c.rec.Reset(resetCtx, sessionID); err != nil {
				log.Printf("assistant: backend reset failed (ignored): %v", err)
			}
		}()
	}

	if voiceOn {
		c.respond(freshStartText, nil, speech.PriorityHigh, gen)
	} else {
		c.mu.Lock()
		c.setStateLocked(StateInactive)
		c.mu.Unlock()
	}
}

// Close releases timers. The coordinator is unusable afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.stopExitTimerLocked()
	c.stopResumeTimerLocked()
	c.voiceOn = false
	c.setStateLocked(StateInactive)
	c.mu.Unlock()
	c.buf.Close()
	c.out.Stop()
}

// handleUtterance runs one committed turn: classification always precedes any
// network call, and a second submission while one is processing is refused.
func (c *Coordinator) handleUtterance(text string, src session.Source) (session.Message, error) {
	if text == "" {
		return session.Message{}, nil
	}
	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		// Duplicate submits are suppressed, not surfaced.
		log.Printf("assistant: submission already in progress, dropping %q", text)
		return session.Message{}, recommend.ErrAlreadyInProgress
	}
	c.processing = true
	gen := c.gen
	if c.voiceOn && c.state != StateInactive {
		c.setStateLocked(StateProcessing)
	}
	c.mu.Unlock()

	userMsg := c.conv.AppendUser(text, src)
	c.persist()
	c.notifier.MessageAppended(userMsg)

	switch intent.Classify(text) {
	case intent.Exit:
		msg := c.respond(farewellText, nil, speech.PriorityHigh, gen)
		c.scheduleExit()
		return msg, nil
	case intent.Help:
		return c.respond(helpText, nil, speech.PriorityNormal, gen), nil
	case intent.ViewCart:
		c.notifier.Navigate("/cart")
		return c.respond(viewCartText, nil, speech.PriorityNormal, gen), nil
	default:
		return c.delegate(text, gen), nil
	}
}

// delegate performs the backend round trip, falling back to locally generated
// recommendations when the backend is unavailable. The user never sees a raw
// error.
func (c *Coordinator) delegate(text string, gen uint64) session.Message {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SubmitTimeout)
	defer cancel()

	res, err := c.rec.Submit(ctx, text, c.conv.SessionID())
	switch {
	case err == nil:
		if c.stale(gen) {
			log.Printf("assistant: dropping result from before the last reset")
			c.clearProcessing()
			return session.Message{}
		}
		if res.SessionID != "" {
			c.conv.SetSessionID(res.SessionID)
		}
		return c.respond(res.ResponseText, c.resolveRecs(res.Recommendations), speech.PriorityNormal, gen)
	case errors.Is(err, recommend.ErrAlreadyInProgress):
		log.Printf("assistant: backend submit refused: %v", err)
		c.clearProcessing()
		return session.Message{}
	default:
		log.Printf("assistant: backend unavailable, generating local fallback: %v", err)
		c.notifier.Banner(degradedText)
		recs := recommend.Fallback(text, c.cat)
		return c.respond(degradedText, recs, speech.PriorityNormal, gen)
	}
}

// resolveRecs maps backend refs onto the catalog snapshot, substituting the
// first entry for anything that does not resolve.
func (c *Coordinator) resolveRecs(recs []session.Recommendation) []session.Recommendation {
	out := make([]session.Recommendation, 0, len(recs))
	for _, r := range recs {
		d, _ := c.cat.ResolveDeviceOrFirst(r.DeviceID)
		rec := session.Recommendation{DeviceID: d.ID, Rationale: r.Rationale}
		if r.PlanID != "" {
			p, _ := c.cat.ResolvePlanOrFirst(r.PlanID)
			rec.PlanID = p.ID
		} else {
			rec.PlanID = c.cat.FirstPlan().ID
		}
		out = append(out, rec)
	}
	return out
}

// respond appends the assistant message, persists, and speaks it. Speech only
// plays while the voice session is on; a result that lands after toggle-off
// is appended silently, and one that lands after a reset is dropped because
// its session no longer exists.
func (c *Coordinator) respond(text string, recs []session.Recommendation, prio speech.Priority, gen uint64) session.Message {
	if c.stale(gen) {
		log.Printf("assistant: dropping result from before the last reset")
		c.clearProcessing()
		return session.Message{}
	}

	msg := c.conv.AppendAssistant(text, recs)
	c.persist()
	c.notifier.MessageAppended(msg)

	c.mu.Lock()
	c.processing = false
	speak := c.voiceOn
	c.mu.Unlock()

	if speak && c.out.Speak(text, prio) {
		// Playback may already be over: onSpeechDone sets the follow-up mode
		// and must not be overwritten with a stale Speaking. If completion
		// lands between this check and the lock, onSpeechDone serializes
		// behind it and still wins.
		if c.out.Speaking() {
			c.mu.Lock()
			c.setStateLocked(StateSpeaking)
			c.mu.Unlock()
		}
		return msg
	}

	c.mu.Lock()
	if c.voiceOn && !c.typing {
		c.setStateLocked(StateListening)
	} else {
		c.setStateLocked(StateInactive)
	}
	c.mu.Unlock()
	return msg
}

// onSpeechDone fires when an utterance finishes on its own; listening
// resumes if the session is still active and no typed interaction started.
func (c *Coordinator) onSpeechDone(error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.voiceOn && !c.typing {
		c.setStateLocked(StateListening)
	} else {
		c.setStateLocked(StateInactive)
	}
}

// allowCommit gates the debounce timer: no commit while speech output is
// active, the user is typing, or a submission is in flight.
func (c *Coordinator) allowCommit() bool {
	if c.out.Speaking() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voiceOn && !c.typing && !c.processing
}

// stale reports whether gen predates the last reset.
func (c *Coordinator) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.gen
}

func (c *Coordinator) isTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

func (c *Coordinator) clearProcessing() {
	c.mu.Lock()
	c.processing = false
	if c.voiceOn && !c.typing && c.state == StateProcessing {
		c.setStateLocked(StateListening)
	}
	c.mu.Unlock()
}

// scheduleExit deactivates the session once the farewell had time to play.
func (c *Coordinator) scheduleExit() {
	c.mu.Lock()
	c.stopExitTimerLocked()
	c.exitTimer = time.AfterFunc(c.cfg.ExitDelay, func() {
		c.mu.Lock()
		was := c.voiceOn
		c.voiceOn = false
		c.setStateLocked(StateInactive)
		c.mu.Unlock()
		if was {
			c.out.Stop()
			log.Printf("assistant: voice session ended after farewell")
		}
	})
	c.mu.Unlock()
}

func (c *Coordinator) resumeListening() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.voiceOn && !c.typing && c.state == StateInactive {
		c.setStateLocked(StateListening)
	}
}

func (c *Coordinator) stopExitTimerLocked() {
	if c.exitTimer != nil {
		_ = c.exitTimer.Stop()
		c.exitTimer = nil
	}
}

func (c *Coordinator) stopResumeTimerLocked() {
	if c.resumeTimer != nil {
		_ = c.resumeTimer.Stop()
		c.resumeTimer = nil
	}
}

// setStateLocked transitions the mode and notifies. Callers hold c.mu.
func (c *Coordinator) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.notifier.StateChanged(s)
}

// persist saves session id and history under the fixed storage key after
// every mutation. Failures are logged, never surfaced.
func (c *Coordinator) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	st := session.State{SessionID: c.conv.SessionID(), History: c.conv.History()}
	if err := c.store.Save(ctx, c.cfg.StorageKey, st); err != nil {
		log.Printf("assistant: persisting session: %v", err)
	}
}
