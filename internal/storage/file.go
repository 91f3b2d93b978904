package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "trainpush/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.deliveries.jsonl     (append-only JSON Lines)
//   - <prefix>.seen.snapshot.json   (periodic snapshot)
//   - <prefix>.seen.journal.jsonl   (append-only journal)
//   - <prefix>.subs.json            (rewritten on every change; small)
//
// The seen journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	closed bool

	deliveriesPath string
	deliveriesFile *os.File

	seenSnapshotPath string
	seenJournalPath  string
	seenJournalFile  *os.File
	seen             map[string]int64 // unix milli
	seenWrites       int

	subsPath string
	subs     map[string]Subscription // keyed by endpoint
}

type seenRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

type deliveryRecord struct {
	ID     string `json:"id"`
	At     int64  `json:"at"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url"`
	New    bool   `json:"new"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	TookMS int64  `json:"took_ms"`
}

type subRecord struct {
	Endpoint  string `json:"endpoint"`
	P256dh    string `json:"p256dh"`
	Auth      string `json:"auth"`
	CreatedAt int64  `json:"created_at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	deliveriesPath := prefix + ".deliveries.jsonl"
	snapPath := prefix + ".seen.snapshot.json"
	journalPath := prefix + ".seen.journal.jsonl"
	subsPath := prefix + ".subs.json"

	df, err := os.OpenFile(deliveriesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load seen set from snapshot + journal.
	seen := map[string]int64{}
	_ = loadSeenSnapshot(snapPath, seen)
	_ = replaySeenJournal(journalPath, seen)
	pruneExpiredSeen(seen)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = df.Close()
		return nil, err
	}

	subs := map[string]Subscription{}
	_ = loadSubs(subsPath, subs)

	return &fileStore{
		log:              log,
		deliveriesPath:   deliveriesPath,
		deliveriesFile:   df,
		seenSnapshotPath: snapPath,
		seenJournalPath:  journalPath,
		seenJournalFile:  jf,
		seen:             seen,
		subsPath:         subsPath,
		subs:             subs,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	var err1, err2 error
	if s.deliveriesFile != nil {
		err1 = s.deliveriesFile.Close()
		s.deliveriesFile = nil
	}
	if s.seenJournalFile != nil {
		err2 = s.seenJournalFile.Close()
		s.seenJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// ---- deliveries ----

func (s *fileStore) AppendDelivery(ctx context.Context, e DeliveryEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("deliveries file closed")
	}
	if s.deliveriesFile == nil {
		// A failed reopen after prune leaves the handle nil; retry here.
		df, err := os.OpenFile(s.deliveriesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		s.deliveriesFile = df
	}
	rec := deliveryRecord{
		ID:     e.ID,
		At:     e.At.UnixMilli(),
		Title:  e.Title,
		Body:   e.Body,
		URL:    e.URL,
		New:    e.New,
		OK:     e.OK,
		Error:  e.Error,
		TookMS: e.TookMS,
	}
	return json.NewEncoder(s.deliveriesFile).Encode(rec)
}

func (s *fileStore) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryEntry, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := readDeliveries(s.deliveriesPath)
	if err != nil {
		return nil, err
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	// Newest first.
	out := make([]DeliveryEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *fileStore) PruneDeliveries(ctx context.Context, before time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := readDeliveries(s.deliveriesPath)
	if err != nil {
		return 0, err
	}
	kept := all[:0]
	for _, e := range all {
		if !e.At.Before(before) {
			kept = append(kept, e)
		}
	}
	dropped := len(all) - len(kept)
	if dropped == 0 {
		return 0, nil
	}

	// Rewrite via temp file + rename, then reopen the append handle.
	tmp := s.deliveriesPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(f)
	for _, e := range kept {
		rec := deliveryRecord{
			ID: e.ID, At: e.At.UnixMilli(), Title: e.Title, Body: e.Body,
			URL: e.URL, New: e.New, OK: e.OK, Error: e.Error, TookMS: e.TookMS,
		}
		if err := enc.Encode(rec); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	// Rename first so a failure leaves the old append handle intact.
	if err := os.Rename(tmp, s.deliveriesPath); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if s.deliveriesFile != nil {
		_ = s.deliveriesFile.Close()
	}
	df, err := os.OpenFile(s.deliveriesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		// AppendDelivery reopens on its next call.
		s.deliveriesFile = nil
		return dropped, err
	}
	s.deliveriesFile = df
	return dropped, nil
}

func readDeliveries(path string) ([]DeliveryEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []DeliveryEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec deliveryRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// Skip corrupt lines rather than failing the whole read.
			continue
		}
		out = append(out, DeliveryEntry{
			ID:     rec.ID,
			At:     time.UnixMilli(rec.At),
			Title:  rec.Title,
			Body:   rec.Body,
			URL:    rec.URL,
			New:    rec.New,
			OK:     rec.OK,
			Error:  rec.Error,
			TookMS: rec.TookMS,
		})
	}
	return out, sc.Err()
}

// ---- seen keys ----

func (s *fileStore) PutSeen(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[key] = ms
	if s.seenJournalFile != nil {
		_ = json.NewEncoder(s.seenJournalFile).Encode(seenRecord{Key: key, Until: ms})
	}
	s.seenWrites++
	if s.seenWrites >= 200 {
		s.compactSeenLocked()
	}
	return nil
}

func (s *fileStore) GetSeen(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.seen[key]
	if !ok {
		return time.Time{}, false, nil
	}
	until := time.UnixMilli(ms)
	if time.Now().After(until) {
		delete(s.seen, key)
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *fileStore) ResetSeen(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.seen)
	s.seen = map[string]int64{}
	s.compactSeenLocked()
	return n, nil
}

func (s *fileStore) compactSeenLocked() {
	s.seenWrites = 0
	pruneExpiredSeen(s.seen)

	tmp := s.seenSnapshotPath + ".tmp"
	b, err := json.Marshal(s.seen)
	if err != nil {
		return
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		s.log.Warn("seen snapshot write failed", logx.Err(err))
		return
	}
	if err := os.Rename(tmp, s.seenSnapshotPath); err != nil {
		s.log.Warn("seen snapshot rename failed", logx.Err(err))
		return
	}
	// Truncate the journal now that the snapshot holds everything.
	if s.seenJournalFile != nil {
		_ = s.seenJournalFile.Truncate(0)
		_, _ = s.seenJournalFile.Seek(0, 0)
	}
}

func loadSeenSnapshot(path string, into map[string]int64) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, &into)
}

func replaySeenJournal(path string, into map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec seenRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Key != "" {
			into[rec.Key] = rec.Until
		}
	}
	return sc.Err()
}

func pruneExpiredSeen(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, until := range m {
		if until > 0 && until < now {
			delete(m, k)
		}
	}
}

// ---- subscriptions ----

func (s *fileStore) PutSubscription(ctx context.Context, sub Subscription) error {
	_ = ctx
	if strings.TrimSpace(sub.Endpoint) == "" {
		return errors.New("subscription endpoint required")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.Endpoint] = sub
	return s.writeSubsLocked()
}

func (s *fileStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[endpoint]; !ok {
		return nil
	}
	delete(s.subs, endpoint)
	return s.writeSubsLocked()
}

func (s *fileStore) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out, nil
}

func (s *fileStore) writeSubsLocked() error {
	recs := make([]subRecord, 0, len(s.subs))
	for _, sub := range s.subs {
		recs = append(recs, subRecord{
			Endpoint:  sub.Endpoint,
			P256dh:    sub.P256dh,
			Auth:      sub.Auth,
			CreatedAt: sub.CreatedAt.UnixMilli(),
		})
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	tmp := s.subsPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.subsPath)
}

func loadSubs(path string, into map[string]Subscription) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var recs []subRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return err
	}
	for _, r := range recs {
		if r.Endpoint == "" {
			continue
		}
		into[r.Endpoint] = Subscription{
			Endpoint:  r.Endpoint,
			P256dh:    r.P256dh,
			Auth:      r.Auth,
			CreatedAt: time.UnixMilli(r.CreatedAt),
		}
	}
	return nil
}
