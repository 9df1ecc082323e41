// Package speech sequences text-to-speech utterances and adapts audio
// transcription for the gateway. Actual synthesis and playback belong to a
// collaborator behind the Synthesizer interface.
package speech

import (
	"context"
	"log"
	"sync"
)

// Priority controls preemption. High-priority utterances (greetings,
// farewells) cancel whatever is playing; normal ones are dropped when the
// channel is busy or the user is typing.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// Synthesizer performs the actual speech playback for one utterance. Speak
// blocks until playback completes or ctx is cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// Output serializes utterances through one Synthesizer. Only the turn
// coordinator calls into it; nothing else touches the playback channel.
type Output struct {
	synth       Synthesizer
	interacting func() bool
	onDone      func(err error)

	mu       sync.Mutex
	speaking bool
	cancel   context.CancelFunc
	gen      uint64
}

// NewOutput builds a controller. interacting reports whether the user is
// currently working with typed input; normal-priority requests are dropped
// while it returns true. onDone fires when an utterance finishes on its own
// (success or playback error), never for preempted or stopped ones.
func NewOutput(synth Synthesizer, interacting func() bool, onDone func(err error)) *Output {
	if interacting == nil {
		interacting = func() bool { return false }
	}
	return &Output{synth: synth, interacting: interacting, onDone: onDone}
}

// Speaking reports whether an utterance is currently playing.
func (o *Output) Speaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.speaking
}

// Speak starts playback of text. It returns false when the request was
// dropped (normal priority during typed interaction or while already
// speaking).
func (o *Output) Speak(text string, prio Priority) bool {
	if text == "" {
		return false
	}
	o.mu.Lock()
	if prio == PriorityNormal {
		if o.interacting() {
			o.mu.Unlock()
			log.Printf("speech: dropping utterance, user is typing")
			return false
		}
		if o.speaking {
			o.mu.Unlock()
			log.Printf("speech: dropping utterance, already speaking")
			return false
		}
	} else if o.cancel != nil {
		o.cancel()
	}
	o.gen++
	gen := o.gen
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.speaking = true
	o.mu.Unlock()

	go o.run(ctx, cancel, gen, text)
	return true
}

// Stop cancels the in-progress utterance, if any. No completion callback
// fires for a stopped utterance.
func (o *Output) Stop() {
	o.mu.Lock()
	o.gen++
	cancel := o.cancel
	o.cancel = nil
	o.speaking = false
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (o *Output) run(ctx context.Context, cancel context.CancelFunc, gen uint64, text string) {
	err := o.synth.Speak(ctx, text)
	cancel()

	o.mu.Lock()
	current := o.gen == gen
	if current {
		o.speaking = false
		o.cancel = nil
	}
	o.mu.Unlock()

	if !current {
		// Preempted or stopped; the superseding utterance owns completion.
		return
	}
	if err != nil {
		// Playback errors are not fatal: log and resume as if finished.
		log.Printf("speech: playback error treated as completion: %v", err)
	}
	if o.onDone != nil {
		o.onDone(err)
	}
}
