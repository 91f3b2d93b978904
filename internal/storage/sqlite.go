//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "trainpush/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- deliveries ----

func (s *sqliteStore) AppendDelivery(ctx context.Context, e DeliveryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO deliveries (id, at, title, body, url, is_new, ok, error, took_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.At.UnixMilli(), e.Title, e.Body, e.URL,
		boolInt(e.New), boolInt(e.OK), e.Error, e.TookMS)
	return err
}

func (s *sqliteStore) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, title, body, url, is_new, ok, error, took_ms
		 FROM deliveries ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeliveryEntry
	for rows.Next() {
		var e DeliveryEntry
		var at int64
		var isNew, ok int
		if err := rows.Scan(&e.ID, &at, &e.Title, &e.Body, &e.URL, &isNew, &ok, &e.Error, &e.TookMS); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at)
		e.New = isNew != 0
		e.OK = ok != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneDeliveries(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---- seen keys ----

func (s *sqliteStore) PutSeen(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO seen (key, until) VALUES (?, ?)`, key, until.UnixMilli())
	if err != nil {
		return err
	}
	s.maybePrune(ctx)
	return nil
}

func (s *sqliteStore) GetSeen(ctx context.Context, key string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM seen WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	until := time.UnixMilli(ms)
	if time.Now().After(until) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM seen WHERE key = ?`, key)
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *sqliteStore) ResetSeen(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM seen`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// maybePrune occasionally clears expired seen keys so the table stays small.
func (s *sqliteStore) maybePrune(ctx context.Context) {
	if s.pruneEvery == 0 {
		return
	}
	if s.opCount.Add(1)%s.pruneEvery != 0 {
		return
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM seen WHERE until > 0 AND until < ?`, time.Now().UnixMilli())
	if err != nil {
		s.log.Debug("seen prune failed", logx.Err(err))
	}
}

// ---- subscriptions ----

func (s *sqliteStore) PutSubscription(ctx context.Context, sub Subscription) error {
	if strings.TrimSpace(sub.Endpoint) == "" {
		return errors.New("subscription endpoint required")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO subscriptions (endpoint, p256dh, auth, created_at) VALUES (?, ?, ?, ?)`,
		sub.Endpoint, sub.P256dh, sub.Auth, sub.CreatedAt.UnixMilli())
	return err
}

func (s *sqliteStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE endpoint = ?`, endpoint)
	return err
}

func (s *sqliteStore) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint, p256dh, auth, created_at FROM subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var sub Subscription
		var at int64
		if err := rows.Scan(&sub.Endpoint, &sub.P256dh, &sub.Auth, &at); err != nil {
			return nil, err
		}
		sub.CreatedAt = time.UnixMilli(at)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
