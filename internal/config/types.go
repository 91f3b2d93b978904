package config

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	HTTP      HTTPConfig      `json:"http"`
	WebPush   WebPushConfig   `json:"webpush"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`
}

// AgentConfig controls the delivery agent itself.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "24h").
//
// AllowOpenWindow is a pointer so we can distinguish "omitted" (default true)
// from an explicit false; false makes click routing a silent no-op when no
// window matches.
type AgentConfig struct {
	QueueSize       int    `json:"queue_size,omitempty"`
	AllowOpenWindow *bool  `json:"allow_open_window,omitempty"`
	ClientTTL       string `json:"client_ttl,omitempty"` // default "0s" (no expiry)

	// SeenWindow bounds how long a delivery key counts as already seen
	// (the "new" flag on history entries). Default "24h".
	SeenWindow string `json:"seen_window,omitempty"`

	// HistoryRetention bounds the delivery log; pruned by the daily job.
	// Default "168h" (one week).
	HistoryRetention string `json:"history_retention,omitempty"`
	HistoryLimit     int    `json:"history_limit,omitempty"` // default 50
}

// HTTPConfig controls the inbound API server.
type HTTPConfig struct {
	Addr string `json:"addr,omitempty"` // default ":8090"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Push ingestion rate limit (token bucket). Zero values mean 10/s, burst 20.
	PushRatePerSec int `json:"push_rate_per_sec,omitempty"`
	PushBurst      int `json:"push_burst,omitempty"`

	// MaxBodyBytes caps inbound request bodies. Default 64 KiB.
	MaxBodyBytes int64 `json:"max_body_bytes,omitempty"`
}

// WebPushConfig holds VAPID material for the push fanout.
//
// Security note: the private key is a secret; never log it.
type WebPushConfig struct {
	VAPIDPublicKey  string `json:"vapid_public_key"`
	VAPIDPrivateKey string `json:"vapid_private_key"`
	Subscriber      string `json:"subscriber,omitempty"` // mailto: contact
	TTL             int    `json:"ttl,omitempty"`        // seconds; default 60
	Timeout         string `json:"timeout,omitempty"`    // per-POST; default "10s"
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./trainpush_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the background job runner.
//
// DailyReset accepts the schedule grammar of internal/scheduler
// (cron / interval / HH:MM with optional "cron:"/"interval:" prefixes).
// Default: "cron:0 1 * * *" (01:00 division time), the daily known-list
// reset inherited from the train tracker.
type SchedulerConfig struct {
	Enabled    bool   `json:"enabled"`
	Timezone   string `json:"timezone,omitempty"` // default "Asia/Kolkata"
	DailyReset string `json:"daily_reset,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}
