package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryEntry records one surfaced (or failed) notification.
// Keep it compact and schema-stable.
type DeliveryEntry struct {
	ID     string
	At     time.Time
	Title  string
	Body   string
	URL    string
	New    bool
	OK     bool
	Error  string
	TookMS int64
}

// Subscription is a web-push subscription registered by a browser.
type Subscription struct {
	Endpoint  string
	P256dh    string
	Auth      string
	CreatedAt time.Time
}
