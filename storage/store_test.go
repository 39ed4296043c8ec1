package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/core"
	"vigil/correlation"
)

// alertStore is the union of the consumer interfaces both implementations
// satisfy; the conformance suite below runs against each.
type alertStore interface {
	InsertAlert(ctx context.Context, alert *core.Alert) error
	GetAlert(ctx context.Context, id string) (*core.Alert, error)
	UpdateAlert(ctx context.Context, alert *core.Alert) error
	FindAlertByFingerprint(ctx context.Context, fingerprint string, since time.Time) (*core.Alert, error)
	FindRelatedAlerts(ctx context.Context, q correlation.RelatedAlertQuery) ([]*core.Alert, error)
	FindByCorrelationID(ctx context.Context, correlationID string) ([]*core.Alert, error)
	AssignCorrelationID(ctx context.Context, alertIDs []string, correlationID string) (int64, error)
	ReassignCorrelationIDs(ctx context.Context, oldIDs []string, newID string) (int64, error)
}

func runStoreSuite(t *testing.T, open func(t *testing.T) alertStore) {
	t.Run("InsertGetUpdate", func(t *testing.T) { testInsertGetUpdate(t, open(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, open(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, open(t)) })
	t.Run("FingerprintLookup", func(t *testing.T) { testFingerprintLookup(t, open(t)) })
	t.Run("RelatedAlerts", func(t *testing.T) { testRelatedAlerts(t, open(t)) })
	t.Run("RelatedAlertsLimit", func(t *testing.T) { testRelatedAlertsExcludesSelfAndHonorsLimit(t, open(t)) })
	t.Run("CorrelationGroups", func(t *testing.T) { testCorrelationGroups(t, open(t)) })
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) alertStore { return NewMemory() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) alertStore {
		db, err := OpenSQLite(filepath.Join(t.TempDir(), "alerts.db"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db
	})
}

func storedAlert(id string, createdAt time.Time) *core.Alert {
	return &core.Alert{
		ID:              id,
		Type:            core.AlertBruteForceAttempt,
		Severity:        core.SeverityHigh,
		Status:          core.AlertStatusPending,
		Title:           "12 failed login attempts",
		RuleID:          "brute_force",
		UserID:          "user-1",
		IPAddress:       "203.0.113.10",
		Score:           85,
		OccurrenceCount: 1,
		FirstSeen:       createdAt,
		LastSeen:        createdAt,
		Evidence:        map[string]any{"failure_count": float64(12)},
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func testInsertGetUpdate(t *testing.T, store alertStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	alert := storedAlert("a1", now)
	require.NoError(t, store.InsertAlert(ctx, alert))

	got, err := store.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, alert.ID, got.ID)
	assert.Equal(t, alert.Type, got.Type)
	assert.Equal(t, alert.Severity, got.Severity)
	assert.Equal(t, alert.Status, got.Status)
	assert.Equal(t, alert.Title, got.Title)
	assert.Equal(t, alert.Evidence, got.Evidence)
	assert.Equal(t, 1, got.OccurrenceCount)
	assert.WithinDuration(t, alert.CreatedAt, got.CreatedAt, time.Second)

	got.Status = core.AlertStatusAcknowledged
	got.OccurrenceCount = 3
	require.NoError(t, store.UpdateAlert(ctx, got))

	updated, err := store.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusAcknowledged, updated.Status)
	assert.Equal(t, 3, updated.OccurrenceCount)
}

func testGetMissing(t *testing.T, store alertStore) {
	_, err := store.GetAlert(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func testUpdateMissing(t *testing.T, store alertStore) {
	alert := storedAlert("ghost", time.Now().UTC())
	err := store.UpdateAlert(context.Background(), alert)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func testFingerprintLookup(t *testing.T, store alertStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	alert := storedAlert("a1", now)
	alert.Fingerprint = "fp-1"
	require.NoError(t, store.InsertAlert(ctx, alert))

	found, err := store.FindAlertByFingerprint(ctx, "fp-1", now.Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "a1", found.ID)

	stale, err := store.FindAlertByFingerprint(ctx, "fp-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, stale, "last_seen before since is filtered out")

	missing, err := store.FindAlertByFingerprint(ctx, "fp-other", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testRelatedAlerts(t *testing.T, store alertStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	sameUser := storedAlert("a1", now.Add(-10*time.Minute))
	sameUser.IPAddress = "198.51.100.7"
	sameUser.RuleID = "geo_anomaly"

	sameIP := storedAlert("a2", now.Add(-5*time.Minute))
	sameIP.UserID = "user-other"
	sameIP.RuleID = "credential_stuffing"

	unrelated := storedAlert("a3", now.Add(-2*time.Minute))
	unrelated.UserID = "user-other"
	unrelated.IPAddress = "192.0.2.1"
	unrelated.RuleID = "geo_anomaly"

	tooOld := storedAlert("a4", now.Add(-3*time.Hour))

	for _, a := range []*core.Alert{sameUser, sameIP, unrelated, tooOld} {
		require.NoError(t, store.InsertAlert(ctx, a))
	}

	got, err := store.FindRelatedAlerts(ctx, correlation.RelatedAlertQuery{
		ExcludeID: "self",
		UserID:    "user-1",
		IPAddress: "203.0.113.10",
		RuleID:    "brute_force",
		Since:     now.Add(-time.Hour),
		Limit:     50,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[0].ID, "newest first")
	assert.Equal(t, "a1", got[1].ID)
}

func testRelatedAlertsExcludesSelfAndHonorsLimit(t *testing.T, store alertStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 5; i++ {
		a := storedAlert(fmt.Sprintf("a%d", i), now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.InsertAlert(ctx, a))
	}

	got, err := store.FindRelatedAlerts(ctx, correlation.RelatedAlertQuery{
		ExcludeID: "a4",
		UserID:    "user-1",
		Since:     now.Add(-time.Hour),
		Limit:     2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a3", got[0].ID)
	assert.Equal(t, "a2", got[1].ID)
}

func testCorrelationGroups(t *testing.T, store alertStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		a := storedAlert(fmt.Sprintf("a%d", i), now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.InsertAlert(ctx, a))
	}

	// The empty id must not act as the group of uncorrelated alerts.
	none, err := store.FindByCorrelationID(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, none)

	affected, err := store.AssignCorrelationID(ctx, []string{"a0", "a1"}, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	group, err := store.FindByCorrelationID(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, group, 2)
	assert.Equal(t, "a1", group[0].ID, "newest first")
	for _, a := range group {
		assert.True(t, a.IsCorrelated)
		assert.Equal(t, "g1", a.CorrelationID)
	}

	_, err = store.AssignCorrelationID(ctx, []string{"a2"}, "g2")
	require.NoError(t, err)

	moved, err := store.ReassignCorrelationIDs(ctx, []string{"g1", "g2"}, "g3")
	require.NoError(t, err)
	assert.Equal(t, int64(3), moved)

	merged, err := store.FindByCorrelationID(ctx, "g3")
	require.NoError(t, err)
	assert.Len(t, merged, 3)

	empty, err := store.FindByCorrelationID(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
