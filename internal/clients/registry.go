// Package clients tracks the application windows browsers report as open.
// The registry is the agent's view of the host's client set: it only ever
// reflects what clients report; it never drives the windows itself.
package clients

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"trainpush/internal/agent"
	logx "trainpush/pkg/logx"
)

var (
	ErrNotFound         = errors.New("client window not found")
	ErrFocusUnsupported = errors.New("window does not support focus")
	ErrOpenUnsupported  = errors.New("opening windows is not supported")
)

type Config struct {
	// AllowOpen enables the open-new-window capability. When false, a click
	// with no matching window is a silent no-op.
	AllowOpen bool
	// Stale windows (no report within TTL) are dropped on enumeration.
	// Zero disables expiry.
	TTL time.Duration
}

type window struct {
	id         string
	url        string
	controlled bool
	canFocus   bool
	focused    bool
	lastSeen   time.Time
}

// Registry is an in-memory window set. Registration order is preserved
// because click routing picks the FIRST exact URL match.
type Registry struct {
	cfg Config
	log logx.Logger
	now func() time.Time

	mu    sync.Mutex
	order []string
	wins  map[string]*window
}

func New(cfg Config, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		cfg:  cfg,
		log:  log,
		now:  time.Now,
		wins: map[string]*window{},
	}
}

// SetClock overrides the time source (tests).
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Register adds a reported window and returns its assigned ID.
func (r *Registry) Register(url string, controlled, canFocus bool) agent.ClientWindow {
	w := &window{
		id:         uuid.NewString(),
		url:        url,
		controlled: controlled,
		canFocus:   canFocus,
		lastSeen:   r.now(),
	}
	r.mu.Lock()
	r.wins[w.id] = w
	r.order = append(r.order, w.id)
	r.mu.Unlock()

	r.log.Debug("client window registered",
		logx.String("id", w.id), logx.String("url", url), logx.Bool("controlled", controlled))
	return toPublic(w)
}

// Navigate updates a window's current URL (the client navigated).
func (r *Registry) Navigate(id, url string) (agent.ClientWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wins[id]
	if !ok {
		return agent.ClientWindow{}, ErrNotFound
	}
	w.url = url
	w.lastSeen = r.now()
	return toPublic(w), nil
}

// Remove drops a window. Removing an unknown ID is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.wins[id]; !ok {
		return
	}
	delete(r.wins, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns all live windows in registration order.
func (r *Registry) Snapshot() []agent.ClientWindow {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
	out := make([]agent.ClientWindow, 0, len(r.order))
	for _, id := range r.order {
		if w, ok := r.wins[id]; ok {
			out = append(out, toPublic(w))
		}
	}
	return out
}

// ---- agent.ClientManager ----

func (r *Registry) MatchAll(ctx context.Context, includeUncontrolled bool) ([]agent.ClientWindow, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
	out := make([]agent.ClientWindow, 0, len(r.order))
	for _, id := range r.order {
		w, ok := r.wins[id]
		if !ok {
			continue
		}
		if !w.controlled && !includeUncontrolled {
			continue
		}
		out = append(out, toPublic(w))
	}
	return out, nil
}

func (r *Registry) Focus(ctx context.Context, id string) (agent.ClientWindow, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wins[id]
	if !ok {
		return agent.ClientWindow{}, ErrNotFound
	}
	if !w.canFocus {
		return agent.ClientWindow{}, ErrFocusUnsupported
	}
	for _, other := range r.wins {
		other.focused = false
	}
	w.focused = true
	w.lastSeen = r.now()
	return toPublic(w), nil
}

func (r *Registry) OpenWindow(ctx context.Context, url string) (agent.ClientWindow, error) {
	_ = ctx
	if !r.cfg.AllowOpen {
		return agent.ClientWindow{}, ErrOpenUnsupported
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w := &window{
		id:         uuid.NewString(),
		url:        url,
		controlled: true,
		canFocus:   true,
		focused:    true,
		lastSeen:   r.now(),
	}
	for _, other := range r.wins {
		other.focused = false
	}
	r.wins[w.id] = w
	r.order = append(r.order, w.id)
	r.log.Debug("window open requested", logx.String("id", w.id), logx.String("url", url))
	return toPublic(w), nil
}

func (r *Registry) CanOpen() bool { return r.cfg.AllowOpen }

// ClaimAll marks every window as controlled by the current agent instance.
// Returns how many windows changed.
func (r *Registry) ClaimAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.wins {
		if !w.controlled {
			w.controlled = true
			n++
		}
	}
	return n
}

func (r *Registry) expireLocked() {
	if r.cfg.TTL <= 0 {
		return
	}
	cutoff := r.now().Add(-r.cfg.TTL)
	kept := r.order[:0]
	for _, id := range r.order {
		w, ok := r.wins[id]
		if !ok {
			continue
		}
		if w.lastSeen.Before(cutoff) {
			delete(r.wins, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

func toPublic(w *window) agent.ClientWindow {
	return agent.ClientWindow{
		ID:         w.id,
		URL:        w.url,
		Controlled: w.controlled,
		CanFocus:   w.canFocus,
		Focused:    w.focused,
	}
}
