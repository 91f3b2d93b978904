package agent

import "context"

// ClientWindow is a live, addressable view of the application identified by
// its current URL. Enumerated on demand at click time; never persisted here.
type ClientWindow struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Controlled bool   `json:"controlled"`
	CanFocus   bool   `json:"can_focus"`
	Focused    bool   `json:"focused"`
}

// NotificationSurface displays and dismisses notifications.
//
// Contract:
//   - Show surfaces exactly one notification per call; a Show error is
//     terminal for the triggering event (no retry here).
//   - Close is idempotent: closing an unknown or already-closed
//     notification must not error.
type NotificationSurface interface {
	Show(ctx context.Context, rec NotificationRecord) error
	Close(ctx context.Context, id string) error
}

// ClientManager enumerates open client windows and issues focus/open
// requests. The window set is owned by the host; the agent only reads it.
type ClientManager interface {
	// MatchAll returns windows in a stable order. With includeUncontrolled,
	// windows that predate this agent instance are included too.
	MatchAll(ctx context.Context, includeUncontrolled bool) ([]ClientWindow, error)
	Focus(ctx context.Context, id string) (ClientWindow, error)
	OpenWindow(ctx context.Context, url string) (ClientWindow, error)
	// CanOpen reports whether the host supports opening new windows.
	CanOpen() bool
}

// Lifecycle carries the install/activate transitions: skip the staged
// handover, then take control of all in-scope windows.
type Lifecycle interface {
	SkipWaiting(ctx context.Context) error
	Claim(ctx context.Context) error
}

// Capabilities bundles the injected host facilities.
type Capabilities struct {
	Surface   NotificationSurface
	Clients   ClientManager
	Lifecycle Lifecycle
}
