// Package correlation links related alerts into groups, scores the strength
// of the link, classifies groups into attack patterns, and decides whether a
// group warrants escalation.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vigil/core"
	"vigil/metrics"
)

// Caller-contract errors. Storage errors are propagated unmodified.
var (
	// ErrGroupNotFound is returned when analyzing a correlation id with
	// no alerts.
	ErrGroupNotFound = errors.New("correlation group not found")
	// ErrMergeRequiresTwoGroups is returned when merging fewer than two
	// distinct correlation ids.
	ErrMergeRequiresTwoGroups = errors.New("merging correlation groups requires at least 2 distinct ids")
)

// candidatePageSize bounds the candidate retrieval query.
const candidatePageSize = 50

// Settings are the correlation tunables, read once per correlation call from
// the provider, never cached here.
type Settings struct {
	// Window is the lookback window for candidate retrieval.
	Window time.Duration `mapstructure:"window" validate:"gt=0"`
	// RapidFireWindow is the seconds-scale sub-window for the
	// rapid_fire_attack pattern.
	RapidFireWindow time.Duration `mapstructure:"rapid_fire_window" validate:"gt=0"`
	// AutoEscalate gates the escalation decision entirely.
	AutoEscalate bool `mapstructure:"auto_escalate"`
	// EscalateCriticalCount escalates when the group holds at least this
	// many critical alerts.
	EscalateCriticalCount int `mapstructure:"escalate_critical_count" validate:"gte=1"`
	// EscalateHighCount escalates when the group holds at least this many
	// high-severity alerts.
	EscalateHighCount int `mapstructure:"escalate_high_count" validate:"gte=1"`
	// EscalateTotalCount escalates on raw group size.
	EscalateTotalCount int `mapstructure:"escalate_total_count" validate:"gte=1"`
}

// DefaultSettings returns the correlation defaults.
func DefaultSettings() Settings {
	return Settings{
		Window:                time.Hour,
		RapidFireWindow:       30 * time.Second,
		AutoEscalate:          true,
		EscalateCriticalCount: 2,
		EscalateHighCount:     3,
		EscalateTotalCount:    10,
	}
}

// SettingsProvider supplies the current correlation settings. Implementations
// own caching and hot-reload; the service reads once per call.
type SettingsProvider interface {
	Correlation() Settings
}

// IDGenerator mints globally-unique correlation ids.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator is the default IDGenerator.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.New().String() }

// RelatedAlertQuery selects correlation candidates: alerts sharing at least
// one of the set attributes, created at or after Since, newest first, at
// most Limit rows. ExcludeID drops the alert being correlated.
type RelatedAlertQuery struct {
	ExcludeID string
	UserID    string
	UserEmail string
	IPAddress string
	SessionID string
	RuleID    string
	Since     time.Time
	Limit     int
}

// AlertStore is the slice of alert storage the correlation service needs.
// Only this service writes correlation_id, is_correlated and
// correlated_alerts back to storage.
type AlertStore interface {
	FindRelatedAlerts(ctx context.Context, q RelatedAlertQuery) ([]*core.Alert, error)
	FindByCorrelationID(ctx context.Context, correlationID string) ([]*core.Alert, error)
	// AssignCorrelationID sets correlation_id and is_correlated on every
	// listed alert in one bulk update. Idempotent.
	AssignCorrelationID(ctx context.Context, alertIDs []string, correlationID string) (int64, error)
	// ReassignCorrelationIDs moves every alert in the old groups to the
	// new id in one bulk update.
	ReassignCorrelationIDs(ctx context.Context, oldIDs []string, newID string) (int64, error)
	UpdateAlert(ctx context.Context, alert *core.Alert) error
}

// Result is the outcome of correlating one alert. It is computed, handed to
// the caller, and not persisted as its own entity.
type Result struct {
	CorrelationID    string        `json:"correlation_id"`
	RelatedAlerts    []*core.Alert `json:"related_alerts,omitempty"`
	Score            int           `json:"score"`
	ShouldEscalate   bool          `json:"should_escalate"`
	EscalationReason string        `json:"escalation_reason,omitempty"`
	Patterns         []Pattern     `json:"patterns,omitempty"`
}

// Service is the alert correlation service.
type Service struct {
	store    AlertStore
	settings SettingsProvider
	ids      IDGenerator
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewService creates a correlation service. ids may be nil, in which case
// UUIDs are used.
func NewService(store AlertStore, settings SettingsProvider, ids IDGenerator, logger *zap.SugaredLogger) *Service {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		store:    store,
		settings: settings,
		ids:      ids,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CorrelateAlert finds alerts related to the new alert, links the group under
// one shared correlation id, scores the strength of the best link, classifies
// the group into attack patterns, and decides on escalation.
//
// Storage errors propagate unmodified: correlation integrity is never
// silently approximated.
func (s *Service) CorrelateAlert(ctx context.Context, alert *core.Alert) (*Result, error) {
	start := s.now()
	defer func() {
		metrics.CorrelationDuration.Observe(time.Since(start).Seconds())
		metrics.CorrelationsPerformed.Inc()
	}()

	cfg := s.settings.Correlation()

	// Without any identifying attribute there is nothing to correlate on;
	// storage is not queried at all.
	if !alert.HasIdentity() {
		return &Result{CorrelationID: s.ids.NewID()}, nil
	}

	candidates, err := s.store.FindRelatedAlerts(ctx, RelatedAlertQuery{
		ExcludeID: alert.ID,
		UserID:    alert.UserID,
		UserEmail: alert.UserEmail,
		IPAddress: alert.IPAddress,
		SessionID: alert.SessionID,
		RuleID:    alert.RuleID,
		Since:     s.now().Add(-cfg.Window),
		Limit:     candidatePageSize,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		// A correlation id is never assigned to a singleton group.
		return &Result{CorrelationID: s.ids.NewID()}, nil
	}

	correlationID := s.pickCorrelationID(candidates)

	group := append(append([]*core.Alert(nil), candidates...), alert)
	ids := make([]string, len(group))
	for i, a := range group {
		ids[i] = a.ID
	}
	if _, err := s.store.AssignCorrelationID(ctx, ids, correlationID); err != nil {
		return nil, err
	}

	alert.IsCorrelated = true
	alert.CorrelationID = correlationID
	alert.CorrelatedAlerts = ids[:len(ids)-1]
	if err := s.store.UpdateAlert(ctx, alert); err != nil {
		return nil, err
	}

	score := s.scoreGroup(alert, candidates)
	patterns := DetectPatterns(group, cfg.RapidFireWindow)
	escalate, reason := evaluateEscalation(group, patterns, cfg)
	if escalate {
		metrics.Escalations.Inc()
	}

	s.logger.Infow("Correlated alert",
		"alert_id", alert.ID,
		"correlation_id", correlationID,
		"group_size", len(group),
		"score", score,
		"patterns", patterns,
		"escalate", escalate)

	return &Result{
		CorrelationID:    correlationID,
		RelatedAlerts:    candidates,
		Score:            score,
		ShouldEscalate:   escalate,
		EscalationReason: reason,
		Patterns:         patterns,
	}, nil
}

// pickCorrelationID reuses the correlation id of the earliest-created
// candidate that carries one; otherwise a new id is minted. The explicit
// earliest-createdAt tie-break keeps id reuse deterministic across query
// orderings.
func (s *Service) pickCorrelationID(candidates []*core.Alert) string {
	var chosen *core.Alert
	for _, c := range candidates {
		if c.CorrelationID == "" {
			continue
		}
		if chosen == nil || c.CreatedAt.Before(chosen.CreatedAt) {
			chosen = c
		}
	}
	if chosen != nil {
		return chosen.CorrelationID
	}
	return s.ids.NewID()
}

// Pairwise attribute weights. More specific shared attributes weigh more:
// a shared session is a stronger link than a shared IP, which is stronger
// than a shared rule.
const (
	weightSameSession  = 30
	weightSameIP       = 25
	weightSameUser     = 20
	weightSameType     = 10
	weightSameRule     = 10
	weightSameSeverity = 5
)

// scoreGroup returns the maximum pairwise score between the alert and any
// candidate, clamped to [0, 100]: how strongly correlated is the single best
// match.
func (s *Service) scoreGroup(alert *core.Alert, candidates []*core.Alert) int {
	best := 0
	for _, c := range candidates {
		if score := pairwiseScore(alert, c); score > best {
			best = score
		}
	}
	if best > 100 {
		best = 100
	}
	return best
}

func pairwiseScore(a, b *core.Alert) int {
	score := 0
	if a.SessionID != "" && a.SessionID == b.SessionID {
		score += weightSameSession
	}
	if a.IPAddress != "" && a.IPAddress == b.IPAddress {
		score += weightSameIP
	}
	if (a.UserID != "" && a.UserID == b.UserID) ||
		(a.UserID == "" && a.UserEmail != "" && a.UserEmail == b.UserEmail) {
		score += weightSameUser
	}
	if a.Type == b.Type {
		score += weightSameType
	}
	if a.RuleID != "" && a.RuleID == b.RuleID {
		score += weightSameRule
	}
	if a.Severity == b.Severity {
		score += weightSameSeverity
	}
	return score
}

// evaluateEscalation applies the configured thresholds and the dangerous
// pattern check. Every trigger that fired is named in the reason so the
// decision is auditable.
func evaluateEscalation(group []*core.Alert, patterns []Pattern, cfg Settings) (bool, string) {
	if !cfg.AutoEscalate {
		return false, ""
	}

	var critical, high int
	for _, a := range group {
		switch a.Severity {
		case core.SeverityCritical:
			critical++
		case core.SeverityHigh:
			high++
		}
	}

	var reasons []string
	if critical >= cfg.EscalateCriticalCount {
		reasons = append(reasons, fmt.Sprintf("%d critical alerts", critical))
	}
	if high >= cfg.EscalateHighCount {
		reasons = append(reasons, fmt.Sprintf("%d high severity alerts", high))
	}
	if len(group) >= cfg.EscalateTotalCount {
		reasons = append(reasons, fmt.Sprintf("%d correlated alerts", len(group)))
	}
	for _, p := range patterns {
		if p.IsDangerous() {
			reasons = append(reasons, fmt.Sprintf("Dangerous pattern detected: %s", p))
		}
	}
	if len(reasons) == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, "; ")
}

// GetCorrelationGroup returns all alerts sharing a correlation id, newest
// first.
func (s *Service) GetCorrelationGroup(ctx context.Context, correlationID string) ([]*core.Alert, error) {
	return s.store.FindByCorrelationID(ctx, correlationID)
}

// MergeResult reports the outcome of a group merge.
type MergeResult struct {
	NewCorrelationID string `json:"new_correlation_id"`
	AlertsAffected   int64  `json:"alerts_affected"`
}

// MergeCorrelationGroups reassigns every alert across the given correlation
// ids to one freshly minted id in a single bulk update. Structural only, no
// scoring. Fewer than 2 distinct ids is a caller-contract violation rejected
// before any write.
func (s *Service) MergeCorrelationGroups(ctx context.Context, correlationIDs []string) (*MergeResult, error) {
	distinct := make([]string, 0, len(correlationIDs))
	seen := make(map[string]struct{}, len(correlationIDs))
	for _, id := range correlationIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}
	if len(distinct) < 2 {
		return nil, ErrMergeRequiresTwoGroups
	}

	newID := s.ids.NewID()
	affected, err := s.store.ReassignCorrelationIDs(ctx, distinct, newID)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("Merged correlation groups",
		"merged_groups", len(distinct),
		"new_correlation_id", newID,
		"alerts_affected", affected)
	return &MergeResult{NewCorrelationID: newID, AlertsAffected: affected}, nil
}
