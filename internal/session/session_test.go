package session

import (
	"context"
	"errors"
	"testing"
)

func TestConversation_AppendOnlyAndIsNew(t *testing.T) {
	c := NewConversation()
	if !c.IsNew() {
		t.Fatalf("expected fresh conversation to be new")
	}
	c.AppendUser("show me iphones", SourceSpoken)
	if !c.IsNew() {
		t.Fatalf("user turn alone should not clear the new flag")
	}
	c.AppendAssistant("Here you go", []Recommendation{{DeviceID: "1", PlanID: "101"}})
	if c.IsNew() {
		t.Fatalf("assistant turn should clear the new flag")
	}
	h := c.History()
	if len(h) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(h))
	}
	if h[0].Role != RoleUser || h[0].Source != SourceSpoken {
		t.Fatalf("unexpected first turn: %+v", h[0])
	}
	if h[1].Role != RoleAssistant || len(h[1].Recommendations) != 1 {
		t.Fatalf("unexpected second turn: %+v", h[1])
	}
	// mutating the returned slice must not touch the conversation
	h[0].Text = "tampered"
	if c.History()[0].Text != "show me iphones" {
		t.Fatalf("history copy leaked internal state")
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Load(ctx, "conv"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	c := NewConversation()
	c.SetSessionID("abc")
	c.AppendUser("samsung please", SourceTyped)
	c.AppendAssistant("Sure", nil)

	st := State{SessionID: c.SessionID(), History: c.History()}
	if err := store.Save(ctx, "conv", st); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(ctx, "conv")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	restored := Restore(loaded.SessionID, loaded.History)
	if restored.SessionID() != "abc" {
		t.Fatalf("session id lost, got %q", restored.SessionID())
	}
	if restored.IsNew() {
		t.Fatalf("restored non-empty history must not be new")
	}
	got, want := restored.History(), c.History()
	if len(got) != len(want) {
		t.Fatalf("history length mismatch: got %d want %d", len(got), len(want))
	}
	for i := range got {
		if got[i].Role != want[i].Role || got[i].Text != want[i].Text || got[i].Source != want[i].Source {
			t.Fatalf("turn %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestFileStore_ClearIsIdempotent(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if err := store.Save(ctx, "conv", State{SessionID: "x"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Clear(ctx, "conv"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := store.Clear(ctx, "conv"); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if _, err := store.Load(ctx, "conv"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
}
