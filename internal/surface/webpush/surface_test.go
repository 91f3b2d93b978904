package webpush

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	wp "github.com/SherClockHolmes/webpush-go"

	"trainpush/internal/agent"
	"trainpush/internal/storage"
	"trainpush/pkg/logx"
)

type memSubs struct {
	mu   sync.Mutex
	subs map[string]storage.Subscription
}

func newMemSubs(endpoints ...string) *memSubs {
	m := &memSubs{subs: map[string]storage.Subscription{}}
	for _, ep := range endpoints {
		m.subs[ep] = storage.Subscription{Endpoint: ep, P256dh: "p", Auth: "a"}
	}
	return m
}

func (m *memSubs) ListSubscriptions(ctx context.Context) ([]storage.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out, nil
}

func (m *memSubs) DeleteSubscription(ctx context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, endpoint)
	return nil
}

func (m *memSubs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func response(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}
}

type sentPush struct {
	endpoint string
	message  []byte
}

func newTestSurface(subs SubscriptionSource, fn sendFunc) *Surface {
	s := New(Config{
		VAPIDPublicKey:  "pub",
		VAPIDPrivateKey: "priv",
		Subscriber:      "mailto:ops@example.com",
		TTL:             60,
		Timeout:         time.Second,
	}, subs, logx.Nop())
	s.send = fn
	return s
}

func TestShowFansOutToEverySubscription(t *testing.T) {
	t.Parallel()
	subs := newMemSubs("https://push.example/a", "https://push.example/b")

	var mu sync.Mutex
	var sent []sentPush
	surf := newTestSurface(subs, func(ctx context.Context, message []byte, s *wp.Subscription, options *wp.Options) (*http.Response, error) {
		mu.Lock()
		sent = append(sent, sentPush{endpoint: s.Endpoint, message: message})
		mu.Unlock()
		if options.Subscriber != "mailto:ops@example.com" || options.TTL != 60 {
			t.Errorf("options = %+v", options)
		}
		return response(http.StatusCreated), nil
	})

	rec := agent.PushPayload{Title: "Train 12706"}.Normalize("d-1", time.Now())
	if err := surf.Show(context.Background(), rec); err != nil {
		t.Fatalf("Show: %v", err)
	}

	if len(sent) != 2 {
		t.Fatalf("sends = %d, want 2", len(sent))
	}
	var got agent.NotificationRecord
	if err := json.Unmarshal(sent[0].message, &got); err != nil {
		t.Fatalf("payload not a record: %v", err)
	}
	if got.Title != "Train 12706" || got.Data.PrimaryKey != 1 {
		t.Fatalf("record on the wire = %+v", got)
	}
}

func TestShowNoSubscriptionsIsNotAFailure(t *testing.T) {
	t.Parallel()
	surf := newTestSurface(newMemSubs(), func(ctx context.Context, message []byte, s *wp.Subscription, options *wp.Options) (*http.Response, error) {
		t.Error("send called with no subscriptions")
		return nil, nil
	})
	rec := agent.PushPayload{}.Normalize("d-1", time.Now())
	if err := surf.Show(context.Background(), rec); err != nil {
		t.Fatalf("Show: %v", err)
	}
}

func TestShowTotalFailureIsTerminal(t *testing.T) {
	t.Parallel()
	surf := newTestSurface(newMemSubs("https://push.example/a"), func(ctx context.Context, message []byte, s *wp.Subscription, options *wp.Options) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	rec := agent.PushPayload{}.Normalize("d-1", time.Now())
	if err := surf.Show(context.Background(), rec); err == nil {
		t.Fatal("expected error when nothing was delivered")
	}
}

func TestShowPartialDeliveryCounts(t *testing.T) {
	t.Parallel()
	surf := newTestSurface(newMemSubs("https://push.example/a", "https://push.example/b"), func(ctx context.Context, message []byte, s *wp.Subscription, options *wp.Options) (*http.Response, error) {
		if strings.HasSuffix(s.Endpoint, "/a") {
			return nil, errors.New("connection refused")
		}
		return response(http.StatusCreated), nil
	})
	rec := agent.PushPayload{}.Normalize("d-1", time.Now())
	if err := surf.Show(context.Background(), rec); err != nil {
		t.Fatalf("partial delivery reported as failure: %v", err)
	}
}

func TestGoneSubscriptionIsDropped(t *testing.T) {
	t.Parallel()
	subs := newMemSubs("https://push.example/gone", "https://push.example/live")
	surf := newTestSurface(subs, func(ctx context.Context, message []byte, s *wp.Subscription, options *wp.Options) (*http.Response, error) {
		if strings.HasSuffix(s.Endpoint, "/gone") {
			return response(http.StatusGone), nil
		}
		return response(http.StatusCreated), nil
	})

	rec := agent.PushPayload{}.Normalize("d-1", time.Now())
	if err := surf.Show(context.Background(), rec); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if subs.count() != 1 {
		t.Fatalf("subscriptions = %d, want 1 after dropping the gone one", subs.count())
	}
	if _, ok := subs.subs["https://push.example/live"]; !ok {
		t.Fatal("wrong subscription dropped")
	}
}

func TestCloseNeverErrors(t *testing.T) {
	t.Parallel()
	var got closeMessage
	surf := newTestSurface(newMemSubs("https://push.example/a"), func(ctx context.Context, message []byte, s *wp.Subscription, options *wp.Options) (*http.Response, error) {
		_ = json.Unmarshal(message, &got)
		return nil, errors.New("connection refused")
	})

	if err := surf.Close(context.Background(), "d-9"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got.Type != "close" || got.ID != "d-9" {
		t.Fatalf("close message = %+v", got)
	}
}
