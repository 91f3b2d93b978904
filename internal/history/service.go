// Package history records surfaced notifications and maintains the seen-key
// set behind the "new" flag. It is the Go descendant of the train tracker's
// known-trains list: deliveries are tagged new when their key has not been
// seen within the window, and a daily job resets the whole set.
package history

import (
	"context"
	"time"

	"trainpush/internal/agent"
	"trainpush/internal/eventbus"
	"trainpush/internal/storage"
	logx "trainpush/pkg/logx"
)

type Config struct {
	// SeenWindow bounds how long a key counts as already seen. Default 24h.
	SeenWindow time.Duration
	// Retention bounds the delivery log; older rows go on Reset. Default one week.
	Retention time.Duration
}

type Service struct {
	cfg   Config
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

func New(cfg Config, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.SeenWindow <= 0 {
		cfg.SeenWindow = 24 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	return &Service{cfg: cfg, store: store, bus: bus, log: log, now: time.Now}
}

// SetClock overrides the time source (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Run consumes agent delivery events until ctx ends. Safe to run under the
// supervisor; storage errors are logged, never fatal.
func (s *Service) Run(ctx context.Context) error {
	ch, unsub := s.bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			switch ev.Topic {
			case agent.TopicShown:
				if d, ok := ev.Data.(agent.ShownEvent); ok {
					s.record(ctx, d, true)
				}
			case agent.TopicShowFailed:
				if d, ok := ev.Data.(agent.ShownEvent); ok {
					s.record(ctx, d, false)
				}
			}
		}
	}
}

func (s *Service) record(ctx context.Context, d agent.ShownEvent, ok bool) {
	rec := d.Record
	key := seenKey(rec)

	isNew := false
	if _, seen, err := s.store.GetSeen(ctx, key); err != nil {
		s.log.Warn("seen lookup failed", logx.String("key", key), logx.Err(err))
	} else if !seen {
		isNew = true
		if err := s.store.PutSeen(ctx, key, s.now().Add(s.cfg.SeenWindow)); err != nil {
			s.log.Warn("seen update failed", logx.String("key", key), logx.Err(err))
		}
	}

	entry := storage.DeliveryEntry{
		ID:     rec.ID,
		At:     rec.Data.DateOfArrival,
		Title:  rec.Title,
		Body:   rec.Body,
		URL:    rec.Data.URL,
		New:    isNew,
		OK:     ok,
		Error:  d.Err,
		TookMS: d.Took.Milliseconds(),
	}
	if err := s.store.AppendDelivery(ctx, entry); err != nil {
		s.log.Warn("delivery append failed", logx.String("id", rec.ID), logx.Err(err))
	}
}

// Reset clears the seen set and prunes history past retention. Wired as the
// daily 01:00 job.
func (s *Service) Reset(ctx context.Context) {
	cleared, err := s.store.ResetSeen(ctx)
	if err != nil {
		s.log.Error("seen reset failed", logx.Err(err))
		return
	}
	pruned, err := s.store.PruneDeliveries(ctx, s.now().Add(-s.cfg.Retention))
	if err != nil {
		s.log.Error("history prune failed", logx.Err(err))
	}
	s.log.Info("daily reset done", logx.Int("seen_cleared", cleared), logx.Int("pruned", pruned))
}

func seenKey(rec agent.NotificationRecord) string {
	return rec.Data.URL + "|" + rec.Title
}
