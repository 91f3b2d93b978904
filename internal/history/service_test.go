package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"trainpush/internal/agent"
	"trainpush/internal/eventbus"
	"trainpush/internal/storage"
	"trainpush/pkg/logx"
)

func newTestService(t *testing.T) (*Service, storage.Store, eventbus.Bus) {
	t.Helper()
	st, err := storage.Open(storage.Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "hist"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	bus := eventbus.New()
	svc := New(Config{SeenWindow: time.Hour, Retention: 48 * time.Hour}, st, bus, logx.Nop())
	return svc, st, bus
}

func shown(id, url, title string) agent.ShownEvent {
	return agent.ShownEvent{
		Record: agent.NotificationRecord{
			ID:    id,
			Title: title,
			Body:  "b",
			Data: agent.RecordData{
				URL:           url,
				DateOfArrival: time.Now(),
				PrimaryKey:    agent.PrimaryKey,
			},
		},
		Took: 25 * time.Millisecond,
	}
}

func waitForDeliveries(t *testing.T, st storage.Store, want int) []storage.DeliveryEntry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := st.RecentDeliveries(context.Background(), 100)
		if err != nil {
			t.Fatalf("RecentDeliveries: %v", err)
		}
		if len(got) >= want {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("deliveries = %d, want %d", len(got), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunRecordsShownAndFailed(t *testing.T) {
	t.Parallel()
	svc, st, bus := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()
	time.Sleep(20 * time.Millisecond) // let Run subscribe

	bus.Publish(eventbus.Event{Topic: agent.TopicShown, Data: shown("d-1", "/trains/12706", "Train 12706")})
	failed := shown("d-2", "/trains/17225", "Train 17225")
	failed.Err = "push service down"
	bus.Publish(eventbus.Event{Topic: agent.TopicShowFailed, Data: failed})

	got := waitForDeliveries(t, st, 2)
	byID := map[string]storage.DeliveryEntry{}
	for _, e := range got {
		byID[e.ID] = e
	}
	if e := byID["d-1"]; !e.OK || e.Error != "" || e.URL != "/trains/12706" {
		t.Fatalf("shown entry = %+v", e)
	}
	if e := byID["d-2"]; e.OK || e.Error != "push service down" {
		t.Fatalf("failed entry = %+v", e)
	}
}

func TestSeenKeyDrivesNewFlag(t *testing.T) {
	t.Parallel()
	svc, st, bus := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	// Same URL+title twice, then a different title.
	bus.Publish(eventbus.Event{Topic: agent.TopicShown, Data: shown("d-1", "/trains/12706", "Train 12706")})
	bus.Publish(eventbus.Event{Topic: agent.TopicShown, Data: shown("d-2", "/trains/12706", "Train 12706")})
	bus.Publish(eventbus.Event{Topic: agent.TopicShown, Data: shown("d-3", "/trains/12706", "Train 12706 delayed")})

	got := waitForDeliveries(t, st, 3)
	byID := map[string]bool{}
	for _, e := range got {
		byID[e.ID] = e.New
	}
	if !byID["d-1"] {
		t.Fatal("first delivery should be new")
	}
	if byID["d-2"] {
		t.Fatal("repeat delivery should not be new")
	}
	if !byID["d-3"] {
		t.Fatal("different title is a different key")
	}
}

func TestResetClearsSeenAndPrunesOldDeliveries(t *testing.T) {
	t.Parallel()
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	if err := st.PutSeen(ctx, "/trains/12706|Train 12706", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("PutSeen: %v", err)
	}
	old := storage.DeliveryEntry{ID: "old", At: time.Now().Add(-72 * time.Hour), OK: true}
	fresh := storage.DeliveryEntry{ID: "fresh", At: time.Now(), OK: true}
	for _, e := range []storage.DeliveryEntry{old, fresh} {
		if err := st.AppendDelivery(ctx, e); err != nil {
			t.Fatalf("AppendDelivery: %v", err)
		}
	}

	svc.Reset(ctx)

	if _, ok, _ := st.GetSeen(ctx, "/trains/12706|Train 12706"); ok {
		t.Fatal("seen key survived reset")
	}
	got, err := st.RecentDeliveries(ctx, 10)
	if err != nil {
		t.Fatalf("RecentDeliveries: %v", err)
	}
	if len(got) != 1 || got[0].ID != "fresh" {
		t.Fatalf("deliveries after reset = %+v", got)
	}
}
