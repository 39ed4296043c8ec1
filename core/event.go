package core

import (
	"sort"
	"time"
)

// EventType identifies the kind of security-relevant event.
type EventType string

const (
	EventLoginSuccess          EventType = "login_success"
	EventLoginFailure          EventType = "login_failure"
	EventLogout                EventType = "logout"
	EventPasswordResetRequest  EventType = "password_reset_request"
	EventPasswordResetComplete EventType = "password_reset_complete"
	EventSessionCreated        EventType = "session_created"
	EventSessionRefreshed      EventType = "session_refreshed"
	EventMFAChallenge          EventType = "mfa_challenge"
)

// Well-known metadata keys. Country and location are supplied by the
// ingest layer (geolocation resolution happens upstream).
const (
	MetaCountry    = "country"
	MetaLocation   = "location"
	MetaUserAgent  = "user_agent"
	MetaUserExists = "user_exists"
)

// Event is a single security-relevant event as delivered by the ingest layer.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	UserID    string            `json:"user_id,omitempty"`
	UserEmail string            `json:"user_email,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Meta returns the metadata value for key, and whether it is present and non-empty.
func (e *Event) Meta(key string) (string, bool) {
	if e.Metadata == nil {
		return "", false
	}
	v, ok := e.Metadata[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// EventContext is the input to every detection rule: the triggering event
// plus a bounded slice of recent history for the same actor.
//
// RecentEvents carries no ordering guarantee. Rules that depend on order or
// on a time window must filter and sort via RecentEventsSince rather than
// trusting the caller.
type EventContext struct {
	Event        Event   `json:"event"`
	RecentEvents []Event `json:"recent_events,omitempty"`
}

// RecentEventsSince returns a copy of RecentEvents restricted to events with
// Timestamp >= cutoff, sorted ascending by timestamp. Callers may be handed
// the actor's full history, so the filtering is always re-applied here.
func (ec *EventContext) RecentEventsSince(cutoff time.Time) []Event {
	out := make([]Event, 0, len(ec.RecentEvents))
	for _, ev := range ec.RecentEvents {
		if !ev.Timestamp.Before(cutoff) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// HasHistory reports whether any actor history was supplied at all.
func (ec *EventContext) HasHistory() bool {
	return len(ec.RecentEvents) > 0
}
