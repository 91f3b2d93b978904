package agent

import "time"

// Presentation defaults. Every record leaves Normalize with all of these
// filled in; a malformed or absent payload only means more defaults are used.
const (
	DefaultTitle = "Vijayawada Division Train Tracking"
	DefaultBody  = "New train updates are available."
	DefaultIcon  = "/static/icons/icon-192.png"
	DefaultBadge = "/static/icons/badge-72.png"
	DefaultURL   = "/"
)

// PrimaryKey is a static correlation token shared by every notification.
// It is NOT a unique identifier: concurrent notifications are not
// distinguishable by it. Kept as-is deliberately; see DESIGN.md.
const PrimaryKey = 1

// Action is a button offered on a displayed notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// DefaultActions returns the single "view details" action used when the
// payload carries none.
func DefaultActions() []Action {
	return []Action{{Action: "view", Title: "View Details"}}
}

// RecordData is the opaque bag attached to a displayed notification and
// echoed back on click.
type RecordData struct {
	URL           string    `json:"url"`
	DateOfArrival time.Time `json:"dateOfArrival"`
	PrimaryKey    int       `json:"primaryKey"`
}

// NotificationRecord is the normalized, displayable unit derived from a
// push payload plus defaults. All fields are always populated.
//
// ID is a server-side delivery identifier (history, close tracking). It is
// intentionally not part of Data: the wire-visible correlation token stays
// the constant PrimaryKey.
type NotificationRecord struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Body    string     `json:"body"`
	Icon    string     `json:"icon"`
	Badge   string     `json:"badge"`
	Data    RecordData `json:"data"`
	Actions []Action   `json:"actions"`
}

// TargetURL returns the click target, defaulting to the site root.
func (r NotificationRecord) TargetURL() string {
	if r.Data.URL == "" {
		return DefaultURL
	}
	return r.Data.URL
}
