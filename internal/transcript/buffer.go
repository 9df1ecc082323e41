// Package transcript accumulates incremental speech-recognition output and
// decides when an utterance is complete enough to commit.
package transcript

import (
	"log"
	"strings"
	"sync"
	"time"
)

// DefaultCommitDelay is the quiet period required after the last final
// recognition event before the buffered utterance is committed. Keep
// conservative to avoid submitting partial sentences.
const DefaultCommitDelay = 1500 * time.Millisecond

// retryDelay is how long a gated expiry waits before re-checking. Shorter than
// the full commit delay so a buffered interruption lands promptly once the
// assistant stops speaking.
const retryDelay = 300 * time.Millisecond

// Buffer coalesces recognition callbacks into single committed utterances.
// Rapid final events within the commit delay re-arm the timer, so one spoken
// sentence produces exactly one commit.
type Buffer struct {
	mu            sync.Mutex
	delay         time.Duration
	allowCommit   func() bool
	commit        func(text string)
	pending       string
	buffered      string
	lastCommitted string
	lastFinal     time.Time
	timer         *time.Timer
	closed        bool
}

// NewBuffer builds a buffer. allowCommit is consulted at timer expiry: while
// it returns false (speech output active, submission in flight) the timer
// re-arms instead of committing. commit receives each finalized utterance.
func NewBuffer(delay time.Duration, allowCommit func() bool, commit func(text string)) *Buffer {
	if delay <= 0 {
		delay = DefaultCommitDelay
	}
	if allowCommit == nil {
		allowCommit = func() bool { return true }
	}
	return &Buffer{delay: delay, allowCommit: allowCommit, commit: commit}
}

// Update is invoked by the speech-recognition collaborator on every
// recognition event. Partials update the live display text only; a new final
// transcript differing from the previously committed one arms the commit
// timer.
func (b *Buffer) Update(text string, isFinal bool) {
	trimmed := strings.TrimSpace(text)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.pending = trimmed
	if !isFinal || trimmed == "" || trimmed == b.lastCommitted {
		return
	}
	b.buffered = trimmed
	b.lastFinal = time.Now()
	b.armLocked(b.delay)
}

// Pending returns the latest partial text for live display.
func (b *Buffer) Pending() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Cancel discards the buffered utterance and any armed timer. Used when typed
// input takes precedence; the voice turn is abandoned silently, not queued.
func (b *Buffer) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopTimerLocked()
	b.pending = ""
	b.buffered = ""
}

// Close cancels the buffer permanently.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopTimerLocked()
	b.pending = ""
	b.buffered = ""
	b.closed = true
}

func (b *Buffer) armLocked(d time.Duration) {
	if b.timer == nil {
		b.timer = time.AfterFunc(d, b.expire)
		return
	}
	_ = b.timer.Stop()
	b.timer.Reset(d)
}

func (b *Buffer) stopTimerLocked() {
	if b.timer != nil {
		_ = b.timer.Stop()
	}
}

func (b *Buffer) expire() {
	b.mu.Lock()
	if b.closed || b.buffered == "" {
		b.mu.Unlock()
		return
	}
	// Re-check quiet time under the lock: a final that raced this expiry has
	// already stamped lastFinal, and its Reset landed on a fired timer. That
	// utterance gets a full quiet period, not the remainder of this one.
	if quiet := time.Since(b.lastFinal); quiet < b.delay {
		b.armLocked(b.delay - quiet)
		b.mu.Unlock()
		return
	}
	if !b.allowCommit() {
		// Speech output or a submission is still active; keep the utterance
		// and try again once the channel is quiet.
		b.armLocked(retryDelay)
		b.mu.Unlock()
		return
	}
	text := b.buffered
	b.lastCommitted = text
	b.buffered = ""
	b.pending = ""
	commit := b.commit
	b.mu.Unlock()

	log.Printf("transcript: committing utterance %q", text)
	if commit != nil {
		commit(text)
	}
}
