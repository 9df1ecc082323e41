package speech

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSynth blocks until its context is cancelled or release is closed.
type fakeSynth struct {
	started chan string
	release chan struct{}
	err     error
}

func newFakeSynth() *fakeSynth {
	return &fakeSynth{started: make(chan string, 10), release: make(chan struct{})}
}

func (f *fakeSynth) Speak(ctx context.Context, text string) error {
	f.started <- text
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.release:
		return f.err
	}
}

func waitStart(t *testing.T, f *fakeSynth) string {
	t.Helper()
	select {
	case text := <-f.started:
		return text
	case <-time.After(time.Second):
		t.Fatalf("synthesizer never started")
		return ""
	}
}

func TestOutput_NormalDroppedWhileInteracting(t *testing.T) {
	f := newFakeSynth()
	interacting := true
	o := NewOutput(f, func() bool { return interacting }, nil)
	if o.Speak("hello", PriorityNormal) {
		t.Fatalf("expected drop while interacting")
	}
	if o.Speaking() {
		t.Fatalf("nothing should be playing")
	}
}

func TestOutput_HighPriorityPlaysDespiteInteracting(t *testing.T) {
	f := newFakeSynth()
	o := NewOutput(f, func() bool { return true }, nil)
	if !o.Speak("goodbye", PriorityHigh) {
		t.Fatalf("high priority must always play")
	}
	if got := waitStart(t, f); got != "goodbye" {
		t.Fatalf("unexpected utterance: %q", got)
	}
	o.Stop()
}

func TestOutput_HighPreemptsCurrentUtterance(t *testing.T) {
	f := newFakeSynth()
	var done atomic.Int32
	o := NewOutput(f, nil, func(err error) { done.Add(1) })

	if !o.Speak("first", PriorityNormal) {
		t.Fatalf("first speak rejected")
	}
	waitStart(t, f)
	if !o.Speak("second", PriorityHigh) {
		t.Fatalf("high priority speak rejected")
	}
	if got := waitStart(t, f); got != "second" {
		t.Fatalf("expected preempting utterance, got %q", got)
	}

	close(f.release)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && done.Load() == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	// only the surviving utterance reports completion
	if done.Load() != 1 {
		t.Fatalf("expected exactly one completion callback, got %d", done.Load())
	}
}

func TestOutput_NormalWhileSpeakingDropped(t *testing.T) {
	f := newFakeSynth()
	o := NewOutput(f, nil, nil)
	if !o.Speak("first", PriorityNormal) {
		t.Fatalf("first speak rejected")
	}
	waitStart(t, f)
	if o.Speak("second", PriorityNormal) {
		t.Fatalf("expected normal speak to drop while busy")
	}
	o.Stop()
}

func TestOutput_PlaybackErrorTreatedAsCompletion(t *testing.T) {
	f := newFakeSynth()
	f.err = errors.New("audio device lost")
	var gotErr atomic.Value
	doneCh := make(chan struct{})
	o := NewOutput(f, nil, func(err error) { gotErr.Store(err); close(doneCh) })

	o.Speak("text", PriorityNormal)
	waitStart(t, f)
	close(f.release)

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatalf("completion callback never fired")
	}
	if gotErr.Load() == nil {
		t.Fatalf("expected error delivered to completion callback")
	}
	if o.Speaking() {
		t.Fatalf("speaking flag must clear after error")
	}
}

func TestOutput_StopSuppressesCompletion(t *testing.T) {
	f := newFakeSynth()
	var done atomic.Int32
	o := NewOutput(f, nil, func(err error) { done.Add(1) })

	o.Speak("text", PriorityNormal)
	waitStart(t, f)
	o.Stop()
	time.Sleep(50 * time.Millisecond)
	if done.Load() != 0 {
		t.Fatalf("stopped utterance must not report completion")
	}
	if o.Speaking() {
		t.Fatalf("speaking flag must clear after stop")
	}
}

func TestSupportedAudioFile(t *testing.T) {
	for _, ok := range []string{"rec.webm", "REC.WAV", "a.mp3", "b.ogg", "c.m4a"} {
		if !SupportedAudioFile(ok) {
			t.Fatalf("expected %s to be supported", ok)
		}
	}
	for _, bad := range []string{"notes.txt", "clip.flac", "noext"} {
		if SupportedAudioFile(bad) {
			t.Fatalf("expected %s to be rejected", bad)
		}
	}
}
