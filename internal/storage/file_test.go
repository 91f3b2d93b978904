package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"trainpush/pkg/logx"
)

func newFileStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "trainpush_store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st == nil {
		t.Fatal("Open returned nil store for file driver")
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "  None "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) = %v, want nil store", driver, st)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestDeliveriesAppendAndRecent(t *testing.T) {
	t.Parallel()
	st := newFileStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		e := DeliveryEntry{
			ID:    string(rune('a' + i)),
			At:    base.Add(time.Duration(i) * time.Minute),
			Title: "Train update",
			URL:   "/trains/12706",
			New:   i%2 == 0,
			OK:    true,
		}
		if err := st.AppendDelivery(ctx, e); err != nil {
			t.Fatalf("AppendDelivery: %v", err)
		}
	}

	got, err := st.RecentDeliveries(ctx, 3)
	if err != nil {
		t.Fatalf("RecentDeliveries: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("RecentDeliveries = %d entries, want 3", len(got))
	}
	// Most recent first.
	if got[0].ID != "e" || got[2].ID != "c" {
		t.Fatalf("unexpected order: %q .. %q", got[0].ID, got[2].ID)
	}
	if !got[0].At.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("At = %v", got[0].At)
	}
}

func TestPruneDeliveries(t *testing.T) {
	t.Parallel()
	st := newFileStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		e := DeliveryEntry{ID: string(rune('a' + i)), At: base.Add(time.Duration(i) * time.Hour), OK: true}
		if err := st.AppendDelivery(ctx, e); err != nil {
			t.Fatalf("AppendDelivery: %v", err)
		}
	}

	n, err := st.PruneDeliveries(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("PruneDeliveries: %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned = %d, want 2", n)
	}
	left, err := st.RecentDeliveries(ctx, 10)
	if err != nil {
		t.Fatalf("RecentDeliveries: %v", err)
	}
	if len(left) != 2 {
		t.Fatalf("remaining = %d, want 2", len(left))
	}
}

func TestAppendDeliveryRecoversAfterPrune(t *testing.T) {
	t.Parallel()
	st := newFileStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		e := DeliveryEntry{ID: string(rune('a' + i)), At: base.Add(time.Duration(i) * time.Hour), OK: true}
		if err := st.AppendDelivery(ctx, e); err != nil {
			t.Fatalf("AppendDelivery: %v", err)
		}
	}
	if _, err := st.PruneDeliveries(ctx, base.Add(time.Hour)); err != nil {
		t.Fatalf("PruneDeliveries: %v", err)
	}
	if err := st.AppendDelivery(ctx, DeliveryEntry{ID: "d", At: base.Add(3 * time.Hour), OK: true}); err != nil {
		t.Fatalf("AppendDelivery after prune: %v", err)
	}

	// When the post-prune reopen fails the handle is left nil; the next
	// append must reopen it rather than fail forever.
	fs := st.(*fileStore)
	fs.mu.Lock()
	_ = fs.deliveriesFile.Close()
	fs.deliveriesFile = nil
	fs.mu.Unlock()
	if err := st.AppendDelivery(ctx, DeliveryEntry{ID: "e", At: base.Add(4 * time.Hour), OK: true}); err != nil {
		t.Fatalf("AppendDelivery with nil handle: %v", err)
	}

	left, err := st.RecentDeliveries(ctx, 10)
	if err != nil {
		t.Fatalf("RecentDeliveries: %v", err)
	}
	if len(left) != 4 || left[0].ID != "e" {
		t.Fatalf("remaining = %+v, want 4 entries newest e", left)
	}
}

func TestSeenRoundTripAndReset(t *testing.T) {
	t.Parallel()
	st := newFileStore(t)
	ctx := context.Background()
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	if _, ok, err := st.GetSeen(ctx, "missing"); err != nil || ok {
		t.Fatalf("GetSeen(missing) = ok=%v err=%v", ok, err)
	}

	if err := st.PutSeen(ctx, "/trains/12706|Train 12706", until); err != nil {
		t.Fatalf("PutSeen: %v", err)
	}
	got, ok, err := st.GetSeen(ctx, "/trains/12706|Train 12706")
	if err != nil || !ok {
		t.Fatalf("GetSeen = ok=%v err=%v", ok, err)
	}
	if !got.Equal(until) {
		t.Fatalf("until = %v, want %v", got, until)
	}

	n, err := st.ResetSeen(ctx)
	if err != nil {
		t.Fatalf("ResetSeen: %v", err)
	}
	if n != 1 {
		t.Fatalf("reset = %d, want 1", n)
	}
	if _, ok, _ := st.GetSeen(ctx, "/trains/12706|Train 12706"); ok {
		t.Fatal("key survived reset")
	}
}

func TestSubscriptionsRoundTrip(t *testing.T) {
	t.Parallel()
	st := newFileStore(t)
	ctx := context.Background()

	sub := Subscription{
		Endpoint:  "https://push.example/send/abc",
		P256dh:    "key",
		Auth:      "auth",
		CreatedAt: time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
	}
	if err := st.PutSubscription(ctx, sub); err != nil {
		t.Fatalf("PutSubscription: %v", err)
	}
	// Re-registering the same endpoint is an upsert.
	if err := st.PutSubscription(ctx, sub); err != nil {
		t.Fatalf("PutSubscription again: %v", err)
	}

	subs, err := st.ListSubscriptions(ctx)
	if err != nil {
		t.Fatalf("ListSubscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].Endpoint != sub.Endpoint {
		t.Fatalf("subs = %+v", subs)
	}

	if err := st.DeleteSubscription(ctx, sub.Endpoint); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	if err := st.DeleteSubscription(ctx, sub.Endpoint); err != nil {
		t.Fatalf("DeleteSubscription (gone): %v", err)
	}
	subs, _ = st.ListSubscriptions(ctx)
	if len(subs) != 0 {
		t.Fatalf("subs after delete = %+v", subs)
	}
}

func TestFileStoreReopenKeepsData(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "trainpush_store")}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e := DeliveryEntry{ID: "d-1", At: time.Now().UTC(), Title: "t", OK: true}
	if err := st.AppendDelivery(ctx, e); err != nil {
		t.Fatalf("AppendDelivery: %v", err)
	}
	if err := st.PutSeen(ctx, "k", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("PutSeen: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	got, err := st2.RecentDeliveries(ctx, 10)
	if err != nil || len(got) != 1 || got[0].ID != "d-1" {
		t.Fatalf("RecentDeliveries after reopen = %+v, err=%v", got, err)
	}
	if _, ok, _ := st2.GetSeen(ctx, "k"); !ok {
		t.Fatal("seen key lost across reopen")
	}
}
