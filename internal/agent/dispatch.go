package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"trainpush/internal/eventbus"
	logx "trainpush/pkg/logx"
)

// EventKind tags the events the dispatch loop understands.
type EventKind int

const (
	EventInstall EventKind = iota
	EventActivate
	EventPush
	EventClick
)

func (k EventKind) String() string {
	switch k {
	case EventInstall:
		return "install"
	case EventActivate:
		return "activate"
	case EventPush:
		return "push"
	case EventClick:
		return "click"
	default:
		return "unknown"
	}
}

// RouteResult is the outcome of click routing: exactly one of the fields is
// meaningful (focused window, opened URL, or a silent no-op).
type RouteResult struct {
	FocusedID string `json:"focused_id,omitempty"`
	OpenedURL string `json:"opened_url,omitempty"`
	NoOp      bool   `json:"noop,omitempty"`
}

// Event is one unit of work for the dispatch loop.
//
// Body is only meaningful for push events; Record and Action only for click
// events. The zero value of the unused fields is fine.
type Event struct {
	Kind   EventKind
	Body   []byte
	Record NotificationRecord
	Action string

	// Filled by the dispatcher before done is closed.
	route RouteResult
	err   error
	done  chan struct{}
}

// Wait blocks until the event has been fully handled (the waitUntil analog)
// or ctx ends.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err reports the handler outcome. Only valid after Wait returns nil.
func (e *Event) Err() error { return e.err }

// Route reports the click routing decision. Only valid after Wait returns nil.
func (e *Event) Route() RouteResult { return e.route }

// Lifecycle states, exposed for observability only.
const (
	stateInstalling int32 = iota
	stateWaiting
	stateActive
)

// Agent is the stateless-per-event dispatcher. It owns no data between
// events beyond the lifecycle state flag; everything else comes from the
// event itself and the injected capabilities.
type Agent struct {
	caps Capabilities
	bus  eventbus.Bus
	log  logx.Logger

	now   func() time.Time
	newID func() string

	queue chan *Event
	state atomic.Int32
}

type Option func(*Agent)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithIDFunc overrides delivery-ID generation (tests).
func WithIDFunc(fn func() string) Option {
	return func(a *Agent) { a.newID = fn }
}

// WithQueueSize sets the event queue capacity (default 64).
func WithQueueSize(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.queue = make(chan *Event, n)
		}
	}
}

func New(caps Capabilities, bus eventbus.Bus, log logx.Logger, opts ...Option) *Agent {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Agent{
		caps:  caps,
		bus:   bus,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
		queue: make(chan *Event, 64),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// State reports the lifecycle state ("installing", "waiting", "active").
func (a *Agent) State() string {
	switch a.state.Load() {
	case stateWaiting:
		return "waiting"
	case stateActive:
		return "active"
	default:
		return "installing"
	}
}

// Dispatch enqueues ev for the run loop. It returns once the event is
// queued; use ev.Wait to await completion.
func (a *Agent) Dispatch(ctx context.Context, ev *Event) error {
	ev.done = make(chan struct{})
	select {
	case a.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes events one at a time, in dispatch order, until ctx ends.
// A handler must finish (including its async host calls) before the next
// event is taken.
func (a *Agent) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.queue:
			a.handle(ctx, ev)
			close(ev.done)
		}
	}
}

func (a *Agent) handle(ctx context.Context, ev *Event) {
	start := a.now()
	switch ev.Kind {
	case EventInstall:
		ev.err = a.handleInstall(ctx)
	case EventActivate:
		ev.err = a.handleActivate(ctx)
	case EventPush:
		ev.err = a.handlePush(ctx, ev.Body)
	case EventClick:
		ev.route, ev.err = a.handleClick(ctx, ev.Record, ev.Action)
	default:
		a.log.Warn("unknown event kind ignored", logx.Int("kind", int(ev.Kind)))
	}
	if ev.err != nil {
		a.log.Warn("event finished with error",
			logx.String("kind", ev.Kind.String()),
			logx.Err(ev.err),
			logx.Duration("took", a.now().Sub(start)))
	}
}
