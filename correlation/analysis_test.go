package correlation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/core"
)

func TestAnalyzeCorrelationGroup_EmptyGroup(t *testing.T) {
	svc := newTestService(&fakeStore{byGroup: map[string][]*core.Alert{}}, DefaultSettings())

	_, err := svc.AnalyzeCorrelationGroup(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestAnalyzeCorrelationGroup_Aggregates(t *testing.T) {
	group := []*core.Alert{
		{
			ID: "a0", Type: core.AlertSuspiciousLogin, Severity: core.SeverityCritical,
			UserID: "user-2", IPAddress: "198.51.100.1",
			CreatedAt: baseTime.Add(-20 * time.Minute),
		},
		{
			ID: "a1", Type: core.AlertAnomalyDetected, Severity: core.SeverityHigh,
			UserID: "user-1", IPAddress: "203.0.113.10",
			CreatedAt: baseTime.Add(-10 * time.Minute),
		},
		{
			ID: "a2", Type: core.AlertBruteForceAttempt, Severity: core.SeverityMedium,
			UserID: "user-1", IPAddress: "203.0.113.10",
			CreatedAt: baseTime,
		},
	}
	svc := newTestService(&fakeStore{byGroup: map[string][]*core.Alert{"g1": group}}, DefaultSettings())

	analysis, err := svc.AnalyzeCorrelationGroup(context.Background(), "g1")

	require.NoError(t, err)
	assert.Equal(t, "g1", analysis.CorrelationID)
	assert.Equal(t, 3, analysis.TotalAlerts)
	assert.Equal(t, 1, analysis.SeverityCounts[core.SeverityCritical])
	assert.Equal(t, 1, analysis.SeverityCounts[core.SeverityHigh])
	assert.Equal(t, 1, analysis.SeverityCounts[core.SeverityMedium])
	assert.Equal(t, []string{"user-1", "user-2"}, analysis.AffectedUsers)
	assert.Equal(t, []string{"198.51.100.1", "203.0.113.10"}, analysis.AffectedIPs)
	assert.Equal(t, baseTime.Add(-20*time.Minute), analysis.FirstAlertAt)
	assert.Equal(t, baseTime, analysis.LastAlertAt)
}

func TestAnalyzeCorrelationGroup_TwoCriticalWithTakeoverIsHighRisk(t *testing.T) {
	group := []*core.Alert{
		{ID: "a0", Type: core.AlertSuspiciousLogin, Severity: core.SeverityCritical, CreatedAt: baseTime},
		{ID: "a1", Type: core.AlertAnomalyDetected, Severity: core.SeverityCritical, CreatedAt: baseTime.Add(time.Minute)},
		{ID: "a2", Type: core.AlertBruteForceAttempt, Severity: core.SeverityLow, CreatedAt: baseTime.Add(2 * time.Minute)},
		{ID: "a3", Type: core.AlertBruteForceAttempt, Severity: core.SeverityLow, CreatedAt: baseTime.Add(20 * time.Minute)},
	}
	svc := newTestService(&fakeStore{byGroup: map[string][]*core.Alert{"g1": group}}, DefaultSettings())

	analysis, err := svc.AnalyzeCorrelationGroup(context.Background(), "g1")

	require.NoError(t, err)
	assert.Contains(t, analysis.Patterns, PatternAccountTakeover)
	assert.Greater(t, analysis.RiskScore, 80)
	assert.Contains(t, analysis.Recommendations, "Initiate incident response procedure")
	assert.Contains(t, analysis.Recommendations, "Invalidate active sessions for affected users")
}

func TestAnalyzeCorrelationGroup_CredentialStuffingRecommendations(t *testing.T) {
	group := make([]*core.Alert, 0, 5)
	for i := 0; i < 5; i++ {
		group = append(group, &core.Alert{
			ID:        fmt.Sprintf("a%d", i),
			Type:      core.AlertCredentialStuffing,
			Severity:  core.SeverityLow,
			UserID:    fmt.Sprintf("user-%d", i),
			IPAddress: "203.0.113.10",
			CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
		})
	}
	svc := newTestService(&fakeStore{byGroup: map[string][]*core.Alert{"g1": group}}, DefaultSettings())

	analysis, err := svc.AnalyzeCorrelationGroup(context.Background(), "g1")

	require.NoError(t, err)
	assert.Contains(t, analysis.Patterns, PatternCredentialStuffing)
	assert.Contains(t, analysis.Recommendations, "Implement rate limiting per IP")
	assert.Contains(t, analysis.Recommendations, "Check credentials against breach databases")
}

func TestAnalyzeCorrelationGroup_QuietGroupRecommendsMonitoring(t *testing.T) {
	group := []*core.Alert{
		{ID: "a0", Type: core.AlertAnomalyDetected, Severity: core.SeverityLow, CreatedAt: baseTime},
		{ID: "a1", Type: core.AlertAnomalyDetected, Severity: core.SeverityLow, CreatedAt: baseTime.Add(5 * time.Minute)},
	}
	svc := newTestService(&fakeStore{byGroup: map[string][]*core.Alert{"g1": group}}, DefaultSettings())

	analysis, err := svc.AnalyzeCorrelationGroup(context.Background(), "g1")

	require.NoError(t, err)
	assert.Empty(t, analysis.Patterns)
	assert.Equal(t, []string{"Continue monitoring correlated activity"}, analysis.Recommendations)
}

func TestRiskScore_MonotonicAndClamped(t *testing.T) {
	low := riskScore(map[core.Severity]int{core.SeverityLow: 1}, 1, nil)
	medium := riskScore(map[core.Severity]int{core.SeverityMedium: 1}, 1, nil)
	assert.Greater(t, medium, low)

	flooded := riskScore(map[core.Severity]int{core.SeverityCritical: 10}, 10, []Pattern{PatternAccountTakeover})
	assert.Equal(t, 100, flooded)
}
