package core

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DedupStore is the slice of alert storage the deduplicator needs.
type DedupStore interface {
	GetAlert(ctx context.Context, id string) (*Alert, error)
	FindAlertByFingerprint(ctx context.Context, fingerprint string, since time.Time) (*Alert, error)
	UpdateAlert(ctx context.Context, alert *Alert) error
}

// DedupResult reports what happened to an alert in the deduplicator.
type DedupResult struct {
	IsDuplicate bool
	// Existing is the alert the duplicate was folded into, nil otherwise.
	Existing    *Alert
	Fingerprint string
}

// Deduplicator folds logically-identical recurring alerts into one record,
// bumping occurrence_count and last_seen instead of inserting a new row.
// A bounded LRU of fingerprint -> alert id short-circuits the fingerprint
// scan for hot fingerprints; storage remains the source of truth.
type Deduplicator struct {
	store         DedupStore
	fingerprinter *Fingerprinter
	window        time.Duration
	cache         *lru.Cache[string, string]
	logger        *zap.SugaredLogger
}

// NewDeduplicator creates a Deduplicator. cacheSize <= 0 disables the cache.
func NewDeduplicator(store DedupStore, fingerprinter *Fingerprinter, window time.Duration, cacheSize int, logger *zap.SugaredLogger) (*Deduplicator, error) {
	if window <= 0 {
		window = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	d := &Deduplicator{
		store:         store,
		fingerprinter: fingerprinter,
		window:        window,
		logger:        logger,
	}
	if cacheSize > 0 {
		cache, err := lru.New[string, string](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create dedup cache: %w", err)
		}
		d.cache = cache
	}
	return d, nil
}

// Process fingerprints the alert and folds it into an existing open alert
// with the same fingerprint inside the dedup window, if one exists. The
// caller inserts the alert only when IsDuplicate is false.
func (d *Deduplicator) Process(ctx context.Context, alert *Alert) (*DedupResult, error) {
	fingerprint := d.fingerprinter.Fingerprint(alert)
	alert.Fingerprint = fingerprint

	existing, err := d.findOpenDuplicate(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if d.cache != nil {
			d.cache.Add(fingerprint, alert.ID)
		}
		return &DedupResult{Fingerprint: fingerprint}, nil
	}

	existing.OccurrenceCount++
	existing.LastSeen = alert.LastSeen
	existing.UpdatedAt = time.Now().UTC()
	if err := d.store.UpdateAlert(ctx, existing); err != nil {
		return nil, fmt.Errorf("update duplicate alert %s: %w", existing.ID, err)
	}
	d.logger.Debugw("Folded duplicate alert",
		"fingerprint", fingerprint,
		"alert_id", existing.ID,
		"occurrence_count", existing.OccurrenceCount)
	return &DedupResult{IsDuplicate: true, Existing: existing, Fingerprint: fingerprint}, nil
}

// findOpenDuplicate returns an unresolved alert with the fingerprint inside
// the dedup window, preferring the cached id over a fingerprint scan.
func (d *Deduplicator) findOpenDuplicate(ctx context.Context, fingerprint string) (*Alert, error) {
	windowStart := time.Now().UTC().Add(-d.window)

	if d.cache != nil {
		if id, ok := d.cache.Get(fingerprint); ok {
			cached, err := d.store.GetAlert(ctx, id)
			if err == nil && cached != nil && dedupEligible(cached, windowStart) {
				return cached, nil
			}
			// Stale entry: record resolved, expired or gone.
			d.cache.Remove(fingerprint)
		}
	}

	found, err := d.store.FindAlertByFingerprint(ctx, fingerprint, windowStart)
	if err != nil {
		return nil, fmt.Errorf("find alert by fingerprint: %w", err)
	}
	if found == nil || !dedupEligible(found, windowStart) {
		return nil, nil
	}
	if d.cache != nil {
		d.cache.Add(fingerprint, found.ID)
	}
	return found, nil
}

func dedupEligible(alert *Alert, windowStart time.Time) bool {
	if alert.LastSeen.Before(windowStart) {
		return false
	}
	switch alert.Status {
	case AlertStatusResolved, AlertStatusFalsePositive, AlertStatusClosed:
		return false
	}
	return true
}
