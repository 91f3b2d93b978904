package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "trainpush/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // default "Asia/Kolkata" (division time)
}

type job struct {
	name  string
	sched Schedule
	fn    func(ctx context.Context)
}

type Service struct {
	cfg    Config
	log    logx.Logger
	parser cron.Parser

	mu     sync.Mutex
	jobs   []job
	c      *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// AddJob registers a named job. Must be called before Start.
func (s *Service) AddJob(name, schedule string, fn func(ctx context.Context)) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, job{name: name, sched: sched, fn: fn})
	s.mu.Unlock()
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.log.Debug("scheduler disabled")
		return nil
	}
	if s.c != nil {
		return nil
	}

	loc := s.loadLocation()
	c := cron.New(cron.WithLocation(loc), cron.WithParser(s.parser))

	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancel = cancel

	for _, j := range s.jobs {
		j := j
		run := func() { s.runJob(runCtx, j) }
		if j.sched.IsInterval() {
			c.Schedule(cron.Every(j.sched.Every), cron.FuncJob(run))
		} else if _, err := c.AddFunc(j.sched.Cron, run); err != nil {
			cancel()
			s.runCtx = nil
			s.cancel = nil
			return fmt.Errorf("job %s: invalid cron %q: %w", j.name, j.sched.Cron, err)
		}
		s.log.Info("job scheduled",
			logx.String("job", j.name),
			logx.String("cron", j.sched.Cron),
			logx.Duration("every", j.sched.Every),
			logx.String("tz", loc.String()))
	}

	c.Start()
	s.c = c
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.runCtx = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c == nil {
		return
	}
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}

func (s *Service) runJob(ctx context.Context, j job) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked",
				logx.String("job", j.name),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()
	start := time.Now()
	j.fn(ctx)
	s.log.Debug("job finished", logx.String("job", j.name), logx.Duration("took", time.Since(start)))
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		tz = "Asia/Kolkata"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}
