package config

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "trainpush/pkg/logx"
)

const (
	debounceDelay  = 250 * time.Millisecond
	rewatchBackoff = 250 * time.Millisecond
	rewatchMax     = 5 * time.Second
)

// Manager owns the config file: the initial load, fsnotify-driven reloads,
// and a single update stream consumed by the app's reload loop.
//
// Reloads are transactional. A change is decoded, validated, and only then
// committed and pushed to Updates; a file that fails either step leaves the
// last good config in place.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config
	sum uint64 // fnv-1a of the last committed file bytes

	updates chan *Config

	log      logx.Logger
	validate func(ctx context.Context, cfg *Config) error
}

func NewManager(path string) *Manager {
	return &Manager{path: path, updates: make(chan *Config, 4), log: logx.Nop()}
}

func (m *Manager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

// SetValidator installs the hook Watch runs before committing a reload.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validate = fn
}

// Load reads and commits the config file.
func (m *Manager) Load() (*Config, error) {
	cfg, sum, err := m.read()
	if err != nil {
		return nil, err
	}
	m.commit(cfg, sum)
	return cfg, nil
}

// Get returns the last committed config.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Updates returns the stream of committed reloads. There is one stream; when
// its consumer lags, the oldest pending update is dropped in favor of the
// newest.
func (m *Manager) Updates() <-chan *Config { return m.updates }

func (m *Manager) read() (*Config, uint64, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, 0, err
	}
	h := fnv.New64a()
	_, _ = h.Write(raw)
	cfg, err := decodeConfig(m.path, raw)
	if err != nil {
		return nil, 0, err
	}
	return cfg, h.Sum64(), nil
}

func (m *Manager) commit(cfg *Config, sum uint64) {
	m.mu.Lock()
	m.cfg = cfg
	m.sum = sum
	m.mu.Unlock()
}

// reload runs after the debounce delay once the file settles.
func (m *Manager) reload(ctx context.Context) {
	cfg, sum, err := m.read()
	if err != nil {
		m.log.Warn("config reload failed; keeping previous", logx.String("path", m.path), logx.Err(err))
		return
	}

	m.mu.RLock()
	unchanged := sum == m.sum
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config file rewritten without changes", logx.String("path", m.path))
		return
	}

	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validate(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected; keeping previous", logx.String("path", m.path), logx.Err(err))
			return
		}
	}

	m.commit(cfg, sum)
	m.push(cfg)
	m.log.Debug("config committed", logx.String("path", m.path))
}

func (m *Manager) push(cfg *Config) {
	select {
	case m.updates <- cfg:
		return
	default:
	}
	// Consumer is behind. Make room by discarding the oldest pending update,
	// then offer the newest once more.
	select {
	case <-m.updates:
	default:
	}
	select {
	case m.updates <- cfg:
	default:
	}
}

// Watch follows the config file until ctx ends. Events are debounced so a
// reload runs once the editor has finished writing. A watcher that stops
// delivering events is recreated with a doubling backoff.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	base := filepath.Base(m.path)

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	backoff := rewatchBackoff
	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			m.log.Warn("config watch unavailable; retrying",
				logx.Err(err), logx.String("dir", dir), logx.Duration("backoff", backoff))
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, rewatchMax)
			continue
		}
		backoff = rewatchBackoff

		m.follow(ctx, w, base, &pending)
		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir))
		if !sleep(ctx, backoff) {
			return nil
		}
		backoff = min(backoff*2, rewatchMax)
	}
	return nil
}

// follow drains the watcher until it breaks or ctx ends. Any event touching
// the config file, compared by basename so editor rename dances still count,
// arms the debounce timer.
func (m *Manager) follow(ctx context.Context, w *fsnotify.Watcher, base string, pending **time.Timer) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Base(ev.Name), base) {
				continue
			}
			if *pending != nil {
				(*pending).Stop()
			}
			*pending = time.AfterFunc(debounceDelay, func() { m.reload(ctx) })
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if err != nil {
				m.log.Warn("config watch error", logx.Err(err), logx.String("path", m.path))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
