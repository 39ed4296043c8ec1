package correlation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"vigil/core"
)

// GroupAnalysis is the read-side aggregation over one correlation group.
type GroupAnalysis struct {
	CorrelationID   string                `json:"correlation_id"`
	TotalAlerts     int                   `json:"total_alerts"`
	SeverityCounts  map[core.Severity]int `json:"severity_counts"`
	AffectedUsers   []string              `json:"affected_users"`
	AffectedIPs     []string              `json:"affected_ips"`
	Patterns        []Pattern             `json:"patterns,omitempty"`
	RiskScore       int                   `json:"risk_score"`
	Recommendations []string              `json:"recommendations"`
	FirstAlertAt    time.Time             `json:"first_alert_at"`
	LastAlertAt     time.Time             `json:"last_alert_at"`
}

// AnalyzeCorrelationGroup aggregates the group into summary statistics, a
// risk score and recommended responses. An empty group is a caller error
// (ErrGroupNotFound).
func (s *Service) AnalyzeCorrelationGroup(ctx context.Context, correlationID string) (*GroupAnalysis, error) {
	alerts, err := s.store.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, fmt.Errorf("correlation group %s: %w", correlationID, ErrGroupNotFound)
	}

	cfg := s.settings.Correlation()

	analysis := &GroupAnalysis{
		CorrelationID:  correlationID,
		TotalAlerts:    len(alerts),
		SeverityCounts: make(map[core.Severity]int),
		FirstAlertAt:   alerts[0].CreatedAt,
		LastAlertAt:    alerts[0].CreatedAt,
	}

	users := make(map[string]struct{})
	ips := make(map[string]struct{})
	for _, a := range alerts {
		analysis.SeverityCounts[a.Severity]++
		if a.UserID != "" {
			users[a.UserID] = struct{}{}
		}
		if a.IPAddress != "" {
			ips[a.IPAddress] = struct{}{}
		}
		if a.CreatedAt.Before(analysis.FirstAlertAt) {
			analysis.FirstAlertAt = a.CreatedAt
		}
		if a.CreatedAt.After(analysis.LastAlertAt) {
			analysis.LastAlertAt = a.CreatedAt
		}
	}
	analysis.AffectedUsers = sortedSet(users)
	analysis.AffectedIPs = sortedSet(ips)
	analysis.Patterns = DetectPatterns(alerts, cfg.RapidFireWindow)
	analysis.RiskScore = riskScore(analysis.SeverityCounts, len(alerts), analysis.Patterns)
	analysis.Recommendations = recommendations(analysis.Patterns, analysis.RiskScore)

	return analysis, nil
}

// riskScore is monotonic in severity mix, alert count and dangerous-pattern
// presence; clamped to [0, 100]. A group with two critical alerts plus an
// account-takeover pattern lands above 80.
func riskScore(severities map[core.Severity]int, total int, patterns []Pattern) int {
	score := severities[core.SeverityCritical]*30 +
		severities[core.SeverityHigh]*15 +
		severities[core.SeverityMedium]*8 +
		severities[core.SeverityLow]*3

	bonus := total * 2
	if bonus > 10 {
		bonus = 10
	}
	score += bonus

	for _, p := range patterns {
		if p.IsDangerous() {
			score += 20
		} else {
			score += 10
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}

// highRiskThreshold triggers the incident-response recommendation.
const highRiskThreshold = 80

var patternRecommendations = map[Pattern][]string{
	PatternCredentialStuffing: {
		"Implement rate limiting per IP",
		"Check credentials against breach databases",
		"Force password reset for affected accounts",
	},
	PatternBruteForceAttack: {
		"Block offending IP addresses",
		"Enable account lockout after repeated failures",
	},
	PatternDistributedAttack: {
		"Require MFA for the targeted accounts",
		"Review recent sessions for the targeted accounts",
	},
	PatternRapidFireAttack: {
		"Throttle authentication endpoints",
	},
	PatternAccountTakeover: {
		"Invalidate active sessions for affected users",
		"Initiate credential rotation for affected accounts",
	},
}

func recommendations(patterns []Pattern, risk int) []string {
	var recs []string
	for _, p := range patterns {
		recs = append(recs, patternRecommendations[p]...)
	}
	if risk >= highRiskThreshold {
		recs = append(recs, "Initiate incident response procedure")
	}
	if len(recs) == 0 {
		recs = append(recs, "Continue monitoring correlated activity")
	}
	return recs
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
