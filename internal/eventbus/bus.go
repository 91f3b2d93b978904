package eventbus

import (
	"sync"
	"time"
)

// Event is a lightweight, in-memory signal used to decouple the delivery
// path from listeners such as the history recorder.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small; the agent publishes the payload structs declared
// next to its topics.
type Event struct {
	Topic string
	Time  time.Time
	Data  any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus with no background goroutines.
// Publish and unsubscribe serialize on one mutex, so a channel is never
// closed while a send to it is in flight.
func New() Bus {
	return &bus{}
}

type subscriber struct {
	ch   chan Event
	gone bool
}

type bus struct {
	mu   sync.Mutex
	subs []*subscriber
}

func (b *bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.gone {
			continue
		}
		// Full buffer means the subscriber is behind; drop rather than block
		// the delivery path.
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s.gone {
			return
		}
		s.gone = true
		for i := range b.subs {
			if b.subs[i] == s {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		close(s.ch)
	}
	return s.ch, unsub
}
