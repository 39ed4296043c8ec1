package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"vigil/core"
	"vigil/correlation"
)

const alertColumns = `id, type, severity, status, title, description, fingerprint,
	is_correlated, correlation_id, correlated_alerts, rule_id, rule_name, event_type,
	user_id, user_email, ip_address, session_id, score, occurrence_count,
	first_seen, last_seen, evidence, created_at, updated_at`

// InsertAlert persists a new alert.
func (s *SQLite) InsertAlert(ctx context.Context, alert *core.Alert) error {
	correlated, evidence, err := encodeJSONFields(alert)
	if err != nil {
		return err
	}
	_, err = s.WriteDB.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, string(alert.Type), string(alert.Severity), string(alert.Status),
		alert.Title, alert.Description, alert.Fingerprint,
		boolToInt(alert.IsCorrelated), alert.CorrelationID, correlated,
		alert.RuleID, alert.RuleName, string(alert.EventType),
		alert.UserID, alert.UserEmail, alert.IPAddress, alert.SessionID,
		alert.Score, alert.OccurrenceCount,
		alert.FirstSeen, alert.LastSeen, evidence,
		alert.CreatedAt, alert.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", alert.ID, err)
	}
	return nil
}

// GetAlert fetches one alert by id. Returns ErrAlertNotFound when absent.
func (s *SQLite) GetAlert(ctx context.Context, id string) (*core.Alert, error) {
	row := s.ReadDB.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, ErrAlertNotFound
	}
	return alert, err
}

// UpdateAlert overwrites all mutable alert fields.
func (s *SQLite) UpdateAlert(ctx context.Context, alert *core.Alert) error {
	correlated, evidence, err := encodeJSONFields(alert)
	if err != nil {
		return err
	}
	res, err := s.WriteDB.ExecContext(ctx, `
		UPDATE alerts SET
			severity = ?, status = ?, title = ?, description = ?, fingerprint = ?,
			is_correlated = ?, correlation_id = ?, correlated_alerts = ?,
			score = ?, occurrence_count = ?, first_seen = ?, last_seen = ?,
			evidence = ?, updated_at = ?
		WHERE id = ?`,
		string(alert.Severity), string(alert.Status), alert.Title, alert.Description,
		alert.Fingerprint, boolToInt(alert.IsCorrelated), alert.CorrelationID,
		correlated, alert.Score, alert.OccurrenceCount, alert.FirstSeen, alert.LastSeen,
		evidence, alert.UpdatedAt, alert.ID)
	if err != nil {
		return fmt.Errorf("update alert %s: %w", alert.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// FindAlertByFingerprint returns the newest alert with the fingerprint whose
// last_seen is at or after since, or nil when none exists.
func (s *SQLite) FindAlertByFingerprint(ctx context.Context, fingerprint string, since time.Time) (*core.Alert, error) {
	row := s.ReadDB.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE fingerprint = ? AND last_seen >= ?
		ORDER BY last_seen DESC LIMIT 1`,
		fingerprint, since)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return alert, err
}

// FindRelatedAlerts returns correlation candidates: alerts sharing at least
// one of the query's set attributes, created at or after Since, newest
// first, capped at Limit rows.
func (s *SQLite) FindRelatedAlerts(ctx context.Context, q correlation.RelatedAlertQuery) ([]*core.Alert, error) {
	var shared []string
	var args []any
	addAttr := func(column, value string) {
		if value != "" {
			shared = append(shared, column+" = ?")
			args = append(args, value)
		}
	}
	addAttr("user_id", q.UserID)
	addAttr("user_email", q.UserEmail)
	addAttr("ip_address", q.IPAddress)
	addAttr("session_id", q.SessionID)
	addAttr("rule_id", q.RuleID)
	if len(shared) == 0 {
		return nil, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE (` + strings.Join(shared, " OR ") + `)
		AND created_at >= ? AND id != ?
		ORDER BY created_at DESC LIMIT ?`
	args = append(args, q.Since, q.ExcludeID, limit)

	rows, err := s.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find related alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// FindByCorrelationID returns all alerts in a correlation group, newest first.
// The empty id is not a group: uncorrelated rows keep correlation_id = '' so
// matching it would sweep up every uncorrelated alert.
func (s *SQLite) FindByCorrelationID(ctx context.Context, correlationID string) ([]*core.Alert, error) {
	if correlationID == "" {
		return nil, nil
	}
	rows, err := s.ReadDB.QueryContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE correlation_id = ?
		ORDER BY created_at DESC`,
		correlationID)
	if err != nil {
		return nil, fmt.Errorf("find correlation group %s: %w", correlationID, err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// AssignCorrelationID marks every listed alert as correlated under the given
// id in one bulk update.
func (s *SQLite) AssignCorrelationID(ctx context.Context, alertIDs []string, correlationID string) (int64, error) {
	if len(alertIDs) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(alertIDs)+2)
	args = append(args, correlationID, time.Now().UTC())
	for _, id := range alertIDs {
		args = append(args, id)
	}
	res, err := s.WriteDB.ExecContext(ctx, `
		UPDATE alerts SET correlation_id = ?, is_correlated = 1, updated_at = ?
		WHERE id IN (`+placeholders(len(alertIDs))+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("assign correlation id: %w", err)
	}
	return res.RowsAffected()
}

// ReassignCorrelationIDs moves every alert in the old groups to the new id
// in one bulk update.
func (s *SQLite) ReassignCorrelationIDs(ctx context.Context, oldIDs []string, newID string) (int64, error) {
	if len(oldIDs) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(oldIDs)+2)
	args = append(args, newID, time.Now().UTC())
	for _, id := range oldIDs {
		args = append(args, id)
	}
	res, err := s.WriteDB.ExecContext(ctx, `
		UPDATE alerts SET correlation_id = ?, is_correlated = 1, updated_at = ?
		WHERE correlation_id IN (`+placeholders(len(oldIDs))+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("reassign correlation ids: %w", err)
	}
	return res.RowsAffected()
}

// scanner abstracts *sql.Row and *sql.Rows for scanAlert.
type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (*core.Alert, error) {
	var a core.Alert
	var alertType, severity, status, eventType string
	var isCorrelated int
	var correlated, evidence string
	err := row.Scan(&a.ID, &alertType, &severity, &status, &a.Title, &a.Description,
		&a.Fingerprint, &isCorrelated, &a.CorrelationID, &correlated,
		&a.RuleID, &a.RuleName, &eventType,
		&a.UserID, &a.UserEmail, &a.IPAddress, &a.SessionID,
		&a.Score, &a.OccurrenceCount, &a.FirstSeen, &a.LastSeen,
		&evidence, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Type = core.AlertType(alertType)
	a.Severity = core.Severity(severity)
	a.Status = core.AlertStatus(status)
	a.EventType = core.EventType(eventType)
	a.IsCorrelated = isCorrelated != 0
	if err := json.Unmarshal([]byte(correlated), &a.CorrelatedAlerts); err != nil {
		return nil, fmt.Errorf("decode correlated_alerts for %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(evidence), &a.Evidence); err != nil {
		return nil, fmt.Errorf("decode evidence for %s: %w", a.ID, err)
	}
	return &a, nil
}

func scanAlerts(rows *sql.Rows) ([]*core.Alert, error) {
	var alerts []*core.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func encodeJSONFields(alert *core.Alert) (correlated string, evidence string, err error) {
	cb, err := json.Marshal(emptyIfNilSlice(alert.CorrelatedAlerts))
	if err != nil {
		return "", "", fmt.Errorf("encode correlated_alerts for %s: %w", alert.ID, err)
	}
	eb, err := json.Marshal(emptyIfNilMap(alert.Evidence))
	if err != nil {
		return "", "", fmt.Errorf("encode evidence for %s: %w", alert.ID, err)
	}
	return string(cb), string(eb), nil
}

func emptyIfNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyIfNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
