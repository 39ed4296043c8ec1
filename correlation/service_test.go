package correlation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/core"
)

var baseTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// fakeStore is a scriptable AlertStore recording every call.
type fakeStore struct {
	related    []*core.Alert
	byGroup    map[string][]*core.Alert
	relatedErr error
	assignErr  error

	findRelatedCalls int
	assignedIDs      []string
	assignedGroupID  string
	reassignedOld    []string
	reassignedNew    string
	updatedAlerts    []*core.Alert
}

func (f *fakeStore) FindRelatedAlerts(ctx context.Context, q RelatedAlertQuery) ([]*core.Alert, error) {
	f.findRelatedCalls++
	if f.relatedErr != nil {
		return nil, f.relatedErr
	}
	return f.related, nil
}

func (f *fakeStore) FindByCorrelationID(ctx context.Context, correlationID string) ([]*core.Alert, error) {
	return f.byGroup[correlationID], nil
}

func (f *fakeStore) AssignCorrelationID(ctx context.Context, alertIDs []string, correlationID string) (int64, error) {
	if f.assignErr != nil {
		return 0, f.assignErr
	}
	f.assignedIDs = alertIDs
	f.assignedGroupID = correlationID
	return int64(len(alertIDs)), nil
}

func (f *fakeStore) ReassignCorrelationIDs(ctx context.Context, oldIDs []string, newID string) (int64, error) {
	f.reassignedOld = oldIDs
	f.reassignedNew = newID
	return 7, nil
}

func (f *fakeStore) UpdateAlert(ctx context.Context, alert *core.Alert) error {
	f.updatedAlerts = append(f.updatedAlerts, alert)
	return nil
}

// staticSettings provides fixed settings without hot reload.
type staticSettings struct{ cfg Settings }

func (s staticSettings) Correlation() Settings { return s.cfg }

// seqIDs mints deterministic ids.
type seqIDs struct{ n int }

func (g *seqIDs) NewID() string {
	g.n++
	return fmt.Sprintf("corr-%d", g.n)
}

func testAlert(id string, severity core.Severity, alertType core.AlertType) *core.Alert {
	return &core.Alert{
		ID:        id,
		Type:      alertType,
		Severity:  severity,
		Status:    core.AlertStatusPending,
		UserID:    "user-1",
		IPAddress: "203.0.113.10",
		RuleID:    "brute_force",
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
}

func newTestService(store *fakeStore, cfg Settings) *Service {
	svc := NewService(store, staticSettings{cfg}, &seqIDs{}, nil)
	svc.now = func() time.Time { return baseTime }
	return svc
}

func TestCorrelateAlert_NoIdentityNeverQueriesStorage(t *testing.T) {
	store := &fakeStore{relatedErr: errors.New("storage must not be touched")}
	svc := newTestService(store, DefaultSettings())

	alert := &core.Alert{ID: "a1", Type: core.AlertAnomalyDetected, Severity: core.SeverityLow, CreatedAt: baseTime}
	require.False(t, alert.HasIdentity())

	result, err := svc.CorrelateAlert(context.Background(), alert)

	require.NoError(t, err)
	assert.Equal(t, 0, store.findRelatedCalls)
	assert.NotEmpty(t, result.CorrelationID)
	assert.Zero(t, result.Score)
	assert.Empty(t, result.RelatedAlerts)
	assert.False(t, result.ShouldEscalate)
	assert.Empty(t, store.updatedAlerts, "nothing is persisted for an identity-less alert")
}

func TestCorrelateAlert_NoCandidatesLeavesSingletonUnpersisted(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store, DefaultSettings())

	alert := testAlert("a1", core.SeverityHigh, core.AlertBruteForceAttempt)
	result, err := svc.CorrelateAlert(context.Background(), alert)

	require.NoError(t, err)
	assert.Equal(t, 1, store.findRelatedCalls)
	assert.NotEmpty(t, result.CorrelationID)
	assert.Empty(t, store.assignedIDs, "a correlation id is never written for a singleton group")
	assert.False(t, alert.IsCorrelated)
	assert.Empty(t, alert.CorrelationID)
}

func TestCorrelateAlert_LinksGroupAndPersists(t *testing.T) {
	candidate := testAlert("a0", core.SeverityHigh, core.AlertBruteForceAttempt)
	store := &fakeStore{related: []*core.Alert{candidate}}
	svc := newTestService(store, DefaultSettings())

	alert := testAlert("a1", core.SeverityHigh, core.AlertBruteForceAttempt)
	result, err := svc.CorrelateAlert(context.Background(), alert)

	require.NoError(t, err)
	assert.Equal(t, []string{"a0", "a1"}, store.assignedIDs)
	assert.Equal(t, result.CorrelationID, store.assignedGroupID)
	assert.True(t, alert.IsCorrelated)
	assert.Equal(t, result.CorrelationID, alert.CorrelationID)
	assert.Equal(t, []string{"a0"}, alert.CorrelatedAlerts)
	require.Len(t, store.updatedAlerts, 1)
	assert.Same(t, alert, store.updatedAlerts[0])
}

func TestCorrelateAlert_ReusesEarliestExistingGroupID(t *testing.T) {
	older := testAlert("a0", core.SeverityLow, core.AlertBruteForceAttempt)
	older.CorrelationID = "corr-old"
	older.CreatedAt = baseTime.Add(-30 * time.Minute)

	newer := testAlert("a2", core.SeverityLow, core.AlertBruteForceAttempt)
	newer.CorrelationID = "corr-new"
	newer.CreatedAt = baseTime.Add(-5 * time.Minute)

	// Query order is newest first; id reuse must still pick the earliest.
	store := &fakeStore{related: []*core.Alert{newer, older}}
	svc := newTestService(store, DefaultSettings())

	result, err := svc.CorrelateAlert(context.Background(), testAlert("a3", core.SeverityLow, core.AlertBruteForceAttempt))

	require.NoError(t, err)
	assert.Equal(t, "corr-old", result.CorrelationID)
}

func TestCorrelateAlert_MintsWhenNoCandidateCarriesID(t *testing.T) {
	store := &fakeStore{related: []*core.Alert{testAlert("a0", core.SeverityLow, core.AlertBruteForceAttempt)}}
	svc := newTestService(store, DefaultSettings())

	result, err := svc.CorrelateAlert(context.Background(), testAlert("a1", core.SeverityLow, core.AlertBruteForceAttempt))

	require.NoError(t, err)
	assert.Equal(t, "corr-1", result.CorrelationID)
}

func TestCorrelateAlert_StorageErrorPropagatesUnmodified(t *testing.T) {
	storageErr := errors.New("disk on fire")
	store := &fakeStore{relatedErr: storageErr}
	svc := newTestService(store, DefaultSettings())

	_, err := svc.CorrelateAlert(context.Background(), testAlert("a1", core.SeverityHigh, core.AlertBruteForceAttempt))
	assert.ErrorIs(t, err, storageErr)
}

func TestCorrelateAlert_AssignErrorPropagates(t *testing.T) {
	assignErr := errors.New("write failed")
	store := &fakeStore{
		related:   []*core.Alert{testAlert("a0", core.SeverityLow, core.AlertBruteForceAttempt)},
		assignErr: assignErr,
	}
	svc := newTestService(store, DefaultSettings())

	_, err := svc.CorrelateAlert(context.Background(), testAlert("a1", core.SeverityLow, core.AlertBruteForceAttempt))
	assert.ErrorIs(t, err, assignErr)
}

func TestScoreGroup_MaxPairwiseClamped(t *testing.T) {
	svc := newTestService(&fakeStore{}, DefaultSettings())

	alert := testAlert("a1", core.SeverityHigh, core.AlertBruteForceAttempt)
	alert.SessionID = "sess-1"

	// Identical on every attribute: 30+25+20+10+10+5 = 100.
	twin := testAlert("a0", core.SeverityHigh, core.AlertBruteForceAttempt)
	twin.SessionID = "sess-1"

	// Weak link: same severity only.
	weak := &core.Alert{ID: "a2", Severity: core.SeverityHigh, Type: core.AlertAnomalyDetected, UserID: "other", CreatedAt: baseTime}

	assert.Equal(t, 100, svc.scoreGroup(alert, []*core.Alert{weak, twin}))
	assert.Equal(t, 5, svc.scoreGroup(alert, []*core.Alert{weak}))
}

func TestPairwiseScore_SharedSessionOutweighsSharedIP(t *testing.T) {
	a := &core.Alert{SessionID: "s", Type: core.AlertSuspiciousLogin, Severity: core.SeverityLow}
	bySession := &core.Alert{SessionID: "s", Type: core.AlertAnomalyDetected, Severity: core.SeverityHigh}
	byIP := &core.Alert{IPAddress: "x", Type: core.AlertAnomalyDetected, Severity: core.SeverityHigh}
	a2 := &core.Alert{IPAddress: "x", Type: core.AlertSuspiciousLogin, Severity: core.SeverityLow}

	assert.Equal(t, 30, pairwiseScore(a, bySession))
	assert.Equal(t, 25, pairwiseScore(a2, byIP))
	assert.Greater(t, pairwiseScore(a, bySession), pairwiseScore(a2, byIP))
}

func TestEvaluateEscalation_CriticalCountReason(t *testing.T) {
	group := []*core.Alert{
		testAlert("a0", core.SeverityCritical, core.AlertSuspiciousLogin),
		testAlert("a1", core.SeverityCritical, core.AlertSuspiciousLogin),
	}

	escalate, reason := evaluateEscalation(group, nil, DefaultSettings())

	require.True(t, escalate)
	assert.Equal(t, "2 critical alerts", reason)
}

func TestEvaluateEscalation_MultipleReasonsJoined(t *testing.T) {
	group := []*core.Alert{
		testAlert("a0", core.SeverityCritical, core.AlertBruteForceAttempt),
		testAlert("a1", core.SeverityCritical, core.AlertBruteForceAttempt),
	}

	escalate, reason := evaluateEscalation(group, []Pattern{PatternBruteForceAttack}, DefaultSettings())

	require.True(t, escalate)
	assert.Equal(t, "2 critical alerts; Dangerous pattern detected: brute_force_attack", reason)
}

func TestEvaluateEscalation_AutoEscalateOffSuppressesEverything(t *testing.T) {
	cfg := DefaultSettings()
	cfg.AutoEscalate = false

	group := []*core.Alert{
		testAlert("a0", core.SeverityCritical, core.AlertBruteForceAttempt),
		testAlert("a1", core.SeverityCritical, core.AlertBruteForceAttempt),
		testAlert("a2", core.SeverityCritical, core.AlertBruteForceAttempt),
	}

	escalate, reason := evaluateEscalation(group, []Pattern{PatternAccountTakeover}, cfg)
	assert.False(t, escalate)
	assert.Empty(t, reason)
}

func TestEvaluateEscalation_BelowAllThresholds(t *testing.T) {
	group := []*core.Alert{
		testAlert("a0", core.SeverityLow, core.AlertAnomalyDetected),
		testAlert("a1", core.SeverityMedium, core.AlertAnomalyDetected),
	}

	escalate, reason := evaluateEscalation(group, nil, DefaultSettings())
	assert.False(t, escalate)
	assert.Empty(t, reason)
}

func TestMergeCorrelationGroups_ReassignsToFreshID(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store, DefaultSettings())

	result, err := svc.MergeCorrelationGroups(context.Background(), []string{"g1", "g2", "g2", ""})

	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, store.reassignedOld)
	assert.Equal(t, result.NewCorrelationID, store.reassignedNew)
	assert.Equal(t, int64(7), result.AlertsAffected)
}

func TestMergeCorrelationGroups_RejectsFewerThanTwoDistinct(t *testing.T) {
	svc := newTestService(&fakeStore{}, DefaultSettings())

	_, err := svc.MergeCorrelationGroups(context.Background(), []string{"g1", "g1", ""})
	assert.ErrorIs(t, err, ErrMergeRequiresTwoGroups)

	_, err = svc.MergeCorrelationGroups(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMergeRequiresTwoGroups)
}
