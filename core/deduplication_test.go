package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDedupStore is an in-memory DedupStore recording call counts.
type stubDedupStore struct {
	alerts map[string]*Alert

	getCalls         int
	fingerprintCalls int
	updateCalls      int
}

func newStubDedupStore() *stubDedupStore {
	return &stubDedupStore{alerts: make(map[string]*Alert)}
}

func (s *stubDedupStore) GetAlert(ctx context.Context, id string) (*Alert, error) {
	s.getCalls++
	return s.alerts[id], nil
}

func (s *stubDedupStore) FindAlertByFingerprint(ctx context.Context, fingerprint string, since time.Time) (*Alert, error) {
	s.fingerprintCalls++
	for _, a := range s.alerts {
		if a.Fingerprint == fingerprint && !a.LastSeen.Before(since) {
			return a, nil
		}
	}
	return nil, nil
}

func (s *stubDedupStore) UpdateAlert(ctx context.Context, alert *Alert) error {
	s.updateCalls++
	s.alerts[alert.ID] = alert
	return nil
}

func dedupAlert(id string) *Alert {
	now := time.Now().UTC()
	return &Alert{
		ID:              id,
		Type:            AlertBruteForceAttempt,
		Severity:        SeverityHigh,
		Status:          AlertStatusPending,
		RuleID:          "brute_force",
		UserID:          "user-1",
		IPAddress:       "203.0.113.10",
		OccurrenceCount: 1,
		FirstSeen:       now,
		LastSeen:        now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func newTestDeduplicator(t *testing.T, store DedupStore) *Deduplicator {
	t.Helper()
	d, err := NewDeduplicator(store, NewFingerprinter(FingerprintConfig{}), time.Hour, 16, nil)
	require.NoError(t, err)
	return d
}

func TestDeduplicator_FirstOccurrenceIsNotDuplicate(t *testing.T) {
	store := newStubDedupStore()
	d := newTestDeduplicator(t, store)

	result, err := d.Process(context.Background(), dedupAlert("a1"))

	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
	assert.NotEmpty(t, result.Fingerprint)
	assert.Zero(t, store.updateCalls)
}

func TestDeduplicator_FoldsRecurringAlert(t *testing.T) {
	store := newStubDedupStore()
	d := newTestDeduplicator(t, store)

	first := dedupAlert("a1")
	_, err := d.Process(context.Background(), first)
	require.NoError(t, err)
	store.alerts[first.ID] = first // caller persists the first occurrence

	second := dedupAlert("a2")
	second.LastSeen = first.LastSeen.Add(time.Minute)
	result, err := d.Process(context.Background(), second)

	require.NoError(t, err)
	require.True(t, result.IsDuplicate)
	assert.Equal(t, "a1", result.Existing.ID)
	assert.Equal(t, 2, result.Existing.OccurrenceCount)
	assert.Equal(t, second.LastSeen, result.Existing.LastSeen)
	assert.Equal(t, 1, store.updateCalls)
}

func TestDeduplicator_CacheShortCircuitsFingerprintScan(t *testing.T) {
	store := newStubDedupStore()
	d := newTestDeduplicator(t, store)

	first := dedupAlert("a1")
	_, err := d.Process(context.Background(), first)
	require.NoError(t, err)
	store.alerts[first.ID] = first
	store.fingerprintCalls = 0

	_, err = d.Process(context.Background(), dedupAlert("a2"))
	require.NoError(t, err)

	assert.Equal(t, 1, store.getCalls)
	assert.Zero(t, store.fingerprintCalls, "hot fingerprint resolves from the cache")
}

func TestDeduplicator_ResolvedAlertIsNotADuplicateTarget(t *testing.T) {
	store := newStubDedupStore()
	d := newTestDeduplicator(t, store)

	first := dedupAlert("a1")
	first.Fingerprint = NewFingerprinter(FingerprintConfig{}).Fingerprint(first)
	first.Status = AlertStatusClosed
	store.alerts[first.ID] = first

	result, err := d.Process(context.Background(), dedupAlert("a2"))

	require.NoError(t, err)
	assert.False(t, result.IsDuplicate, "closed alerts start a fresh occurrence")
}

func TestDeduplicator_StaleAlertOutsideWindow(t *testing.T) {
	store := newStubDedupStore()
	d := newTestDeduplicator(t, store)

	first := dedupAlert("a1")
	first.Fingerprint = NewFingerprinter(FingerprintConfig{}).Fingerprint(first)
	first.LastSeen = time.Now().UTC().Add(-2 * time.Hour)
	store.alerts[first.ID] = first

	result, err := d.Process(context.Background(), dedupAlert("a2"))

	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
}

func TestDeduplicator_DifferentTargetsDifferentFingerprints(t *testing.T) {
	store := newStubDedupStore()
	d := newTestDeduplicator(t, store)

	first := dedupAlert("a1")
	_, err := d.Process(context.Background(), first)
	require.NoError(t, err)
	store.alerts[first.ID] = first

	other := dedupAlert("a2")
	other.UserID = "user-2"
	result, err := d.Process(context.Background(), other)

	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
	assert.NotEqual(t, first.Fingerprint, result.Fingerprint)
}

func TestFingerprinter_StableAndFieldSensitive(t *testing.T) {
	f := NewFingerprinter(FingerprintConfig{})

	a := dedupAlert("a1")
	b := dedupAlert("a2")
	assert.Equal(t, f.Fingerprint(a), f.Fingerprint(b), "identity fields agree, ids differ")

	b.IPAddress = "198.51.100.1"
	assert.NotEqual(t, f.Fingerprint(a), f.Fingerprint(b))
}

func TestFingerprinter_CustomFieldSet(t *testing.T) {
	bySeverity := NewFingerprinter(FingerprintConfig{Fields: []string{"type", "severity"}})

	a := dedupAlert("a1")
	b := dedupAlert("a2")
	b.UserID = "user-2"
	assert.Equal(t, bySeverity.Fingerprint(a), bySeverity.Fingerprint(b), "user_id is outside the configured field set")

	b.Severity = SeverityLow
	assert.NotEqual(t, bySeverity.Fingerprint(a), bySeverity.Fingerprint(b))
}
