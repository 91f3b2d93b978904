package clients

import (
	"context"
	"errors"
	"testing"
	"time"

	"trainpush/pkg/logx"
)

func TestRegisterPreservesOrder(t *testing.T) {
	t.Parallel()
	r := New(Config{}, logx.Nop())

	a := r.Register("/a", true, true)
	b := r.Register("/b", true, true)
	c := r.Register("/c", false, true)

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot = %d windows, want 3", len(snap))
	}
	for i, want := range []string{a.ID, b.ID, c.ID} {
		if snap[i].ID != want {
			t.Fatalf("snap[%d].ID = %q, want %q", i, snap[i].ID, want)
		}
	}
}

func TestMatchAllControlledFilter(t *testing.T) {
	t.Parallel()
	r := New(Config{}, logx.Nop())
	r.Register("/a", true, true)
	uncontrolled := r.Register("/b", false, true)

	all, err := r.MatchAll(context.Background(), true)
	if err != nil {
		t.Fatalf("MatchAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("MatchAll(true) = %d windows, want 2", len(all))
	}

	controlled, err := r.MatchAll(context.Background(), false)
	if err != nil {
		t.Fatalf("MatchAll: %v", err)
	}
	if len(controlled) != 1 || controlled[0].ID == uncontrolled.ID {
		t.Fatalf("MatchAll(false) = %+v", controlled)
	}
}

func TestFocusUnfocusesOthers(t *testing.T) {
	t.Parallel()
	r := New(Config{}, logx.Nop())
	a := r.Register("/a", true, true)
	b := r.Register("/b", true, true)

	if _, err := r.Focus(context.Background(), a.ID); err != nil {
		t.Fatalf("Focus: %v", err)
	}
	got, err := r.Focus(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Focus: %v", err)
	}
	if !got.Focused {
		t.Fatal("focused window not marked focused")
	}
	for _, w := range r.Snapshot() {
		if w.ID == a.ID && w.Focused {
			t.Fatal("previous window still focused")
		}
	}
}

func TestFocusErrors(t *testing.T) {
	t.Parallel()
	r := New(Config{}, logx.Nop())
	w := r.Register("/a", true, false)

	if _, err := r.Focus(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := r.Focus(context.Background(), w.ID); !errors.Is(err, ErrFocusUnsupported) {
		t.Fatalf("err = %v, want ErrFocusUnsupported", err)
	}
}

func TestOpenWindowGatedByConfig(t *testing.T) {
	t.Parallel()
	closed := New(Config{AllowOpen: false}, logx.Nop())
	if closed.CanOpen() {
		t.Fatal("CanOpen = true with AllowOpen false")
	}
	if _, err := closed.OpenWindow(context.Background(), "/x"); !errors.Is(err, ErrOpenUnsupported) {
		t.Fatalf("err = %v, want ErrOpenUnsupported", err)
	}

	open := New(Config{AllowOpen: true}, logx.Nop())
	w, err := open.OpenWindow(context.Background(), "/trains/12706")
	if err != nil {
		t.Fatalf("OpenWindow: %v", err)
	}
	if !w.Controlled || !w.Focused || w.URL != "/trains/12706" {
		t.Fatalf("opened window = %+v", w)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()
	r := New(Config{}, logx.Nop())
	w := r.Register("/a", true, true)

	r.Remove(w.ID)
	r.Remove(w.ID)
	r.Remove("never-existed")

	if got := len(r.Snapshot()); got != 0 {
		t.Fatalf("Snapshot = %d windows after remove, want 0", got)
	}
}

func TestClaimAll(t *testing.T) {
	t.Parallel()
	r := New(Config{}, logx.Nop())
	r.Register("/a", false, true)
	r.Register("/b", false, true)
	r.Register("/c", true, true)

	if n := r.ClaimAll(); n != 2 {
		t.Fatalf("ClaimAll = %d, want 2", n)
	}
	controlled, _ := r.MatchAll(context.Background(), false)
	if len(controlled) != 3 {
		t.Fatalf("controlled windows = %d, want 3", len(controlled))
	}
	// Second claim changes nothing.
	if n := r.ClaimAll(); n != 0 {
		t.Fatalf("second ClaimAll = %d, want 0", n)
	}
}

func TestTTLExpiry(t *testing.T) {
	t.Parallel()
	r := New(Config{TTL: time.Minute}, logx.Nop())
	now := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return now })

	stale := r.Register("/old", true, true)
	now = now.Add(30 * time.Second)
	fresh := r.Register("/new", true, true)

	now = now.Add(45 * time.Second) // stale at 75s, fresh at 45s
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].ID != fresh.ID {
		t.Fatalf("Snapshot = %+v, want only %q", snap, fresh.ID)
	}
	if _, err := r.Focus(context.Background(), stale.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale window still focusable: %v", err)
	}
}
