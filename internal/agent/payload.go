package agent

import (
	"bytes"
	"encoding/json"
	"time"

	logx "trainpush/pkg/logx"
)

// PushPayload is the untrusted body of a push message. Every field is
// optional; the body itself may be absent or not JSON at all.
type PushPayload struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Icon    string   `json:"icon"`
	Badge   string   `json:"badge"`
	URL     string   `json:"url"`
	Actions []Action `json:"actions"`
}

// ParsePayload interprets body as a PushPayload.
//
// It never fails: an absent, empty or malformed body yields the zero payload
// and a diagnostic debug log. Parse problems are never surfaced to the user.
func ParsePayload(body []byte, log logx.Logger) PushPayload {
	if len(bytes.TrimSpace(body)) == 0 {
		return PushPayload{}
	}
	var p PushPayload
	if err := json.Unmarshal(body, &p); err != nil {
		log.Debug("push payload is not a JSON object; falling back to defaults",
			logx.Err(err), logx.Int("bytes", len(body)))
		return PushPayload{}
	}
	return p
}

// Normalize builds a fully-populated NotificationRecord from the payload,
// substituting the fixed defaults for any field that is absent or empty.
// Only the empty string counts as absent; a whitespace-only value is kept
// as provided.
func (p PushPayload) Normalize(id string, now time.Time) NotificationRecord {
	rec := NotificationRecord{
		ID:    id,
		Title: p.Title,
		Body:  p.Body,
		Icon:  p.Icon,
		Badge: p.Badge,
		Data: RecordData{
			URL:           p.URL,
			DateOfArrival: now,
			PrimaryKey:    PrimaryKey,
		},
	}
	if rec.Title == "" {
		rec.Title = DefaultTitle
	}
	if rec.Body == "" {
		rec.Body = DefaultBody
	}
	if rec.Icon == "" {
		rec.Icon = DefaultIcon
	}
	if rec.Badge == "" {
		rec.Badge = DefaultBadge
	}
	if rec.Data.URL == "" {
		rec.Data.URL = DefaultURL
	}
	if len(p.Actions) == 0 {
		rec.Actions = DefaultActions()
	} else {
		rec.Actions = append([]Action(nil), p.Actions...)
	}
	return rec
}
