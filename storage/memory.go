package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"vigil/core"
	"vigil/correlation"
)

// Memory is a mutex-guarded in-memory alert store. It satisfies the same
// consumer interfaces as SQLite and backs tests and replay runs.
type Memory struct {
	mu     sync.RWMutex
	alerts map[string]*core.Alert
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{alerts: make(map[string]*core.Alert)}
}

// InsertAlert persists a new alert.
func (m *Memory) InsertAlert(_ context.Context, alert *core.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[alert.ID] = cloneAlert(alert)
	return nil
}

// GetAlert fetches one alert by id. Returns ErrAlertNotFound when absent.
func (m *Memory) GetAlert(_ context.Context, id string) (*core.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return cloneAlert(alert), nil
}

// UpdateAlert overwrites a stored alert.
func (m *Memory) UpdateAlert(_ context.Context, alert *core.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[alert.ID]; !ok {
		return ErrAlertNotFound
	}
	m.alerts[alert.ID] = cloneAlert(alert)
	return nil
}

// FindAlertByFingerprint returns the newest alert with the fingerprint whose
// last_seen is at or after since, or nil when none exists.
func (m *Memory) FindAlertByFingerprint(_ context.Context, fingerprint string, since time.Time) (*core.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var newest *core.Alert
	for _, a := range m.alerts {
		if a.Fingerprint != fingerprint || a.LastSeen.Before(since) {
			continue
		}
		if newest == nil || a.LastSeen.After(newest.LastSeen) {
			newest = a
		}
	}
	if newest == nil {
		return nil, nil
	}
	return cloneAlert(newest), nil
}

// FindRelatedAlerts returns correlation candidates, newest first, capped at
// the query limit.
func (m *Memory) FindRelatedAlerts(_ context.Context, q correlation.RelatedAlertQuery) ([]*core.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*core.Alert
	for _, a := range m.alerts {
		if a.ID == q.ExcludeID || a.CreatedAt.Before(q.Since) {
			continue
		}
		if sharesAttribute(a, q) {
			out = append(out, cloneAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sharesAttribute(a *core.Alert, q correlation.RelatedAlertQuery) bool {
	return (q.UserID != "" && a.UserID == q.UserID) ||
		(q.UserEmail != "" && a.UserEmail == q.UserEmail) ||
		(q.IPAddress != "" && a.IPAddress == q.IPAddress) ||
		(q.SessionID != "" && a.SessionID == q.SessionID) ||
		(q.RuleID != "" && a.RuleID == q.RuleID)
}

// FindByCorrelationID returns all alerts in a correlation group, newest first.
func (m *Memory) FindByCorrelationID(_ context.Context, correlationID string) ([]*core.Alert, error) {
	if correlationID == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*core.Alert
	for _, a := range m.alerts {
		if a.CorrelationID == correlationID {
			out = append(out, cloneAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// AssignCorrelationID marks every listed alert as correlated under the id.
func (m *Memory) AssignCorrelationID(_ context.Context, alertIDs []string, correlationID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected int64
	now := time.Now().UTC()
	for _, id := range alertIDs {
		if a, ok := m.alerts[id]; ok {
			a.CorrelationID = correlationID
			a.IsCorrelated = true
			a.UpdatedAt = now
			affected++
		}
	}
	return affected, nil
}

// ReassignCorrelationIDs moves every alert in the old groups to the new id.
func (m *Memory) ReassignCorrelationIDs(_ context.Context, oldIDs []string, newID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := make(map[string]struct{}, len(oldIDs))
	for _, id := range oldIDs {
		old[id] = struct{}{}
	}
	var affected int64
	now := time.Now().UTC()
	for _, a := range m.alerts {
		if _, ok := old[a.CorrelationID]; ok {
			a.CorrelationID = newID
			a.IsCorrelated = true
			a.UpdatedAt = now
			affected++
		}
	}
	return affected, nil
}

// Count returns the number of stored alerts.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.alerts)
}

func cloneAlert(a *core.Alert) *core.Alert {
	out := *a
	out.CorrelatedAlerts = append([]string(nil), a.CorrelatedAlerts...)
	if a.Evidence != nil {
		out.Evidence = make(map[string]any, len(a.Evidence))
		for k, v := range a.Evidence {
			out.Evidence[k] = v
		}
	}
	return &out
}
