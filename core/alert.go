package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AlertType classifies an alert. The set is closed; rules map their matches
// onto one of these types.
type AlertType string

const (
	AlertMultipleFailedAttempts AlertType = "multiple_failed_attempts"
	AlertBruteForceAttempt      AlertType = "brute_force_attempt"
	AlertSuspiciousLogin        AlertType = "suspicious_login"
	AlertAnomalyDetected        AlertType = "anomaly_detected"
	AlertCredentialStuffing     AlertType = "credential_stuffing"
	AlertAccountEnumeration     AlertType = "account_enumeration"
	AlertSessionHijacking       AlertType = "session_hijacking"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertStatusPending       AlertStatus = "pending"
	AlertStatusAcknowledged  AlertStatus = "acknowledged"
	AlertStatusInvestigating AlertStatus = "investigating"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusEscalated     AlertStatus = "escalated"
	AlertStatusFalsePositive AlertStatus = "false_positive"
	AlertStatusClosed        AlertStatus = "closed"
)

// IsValid reports whether s is a known alert status.
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusPending, AlertStatusAcknowledged, AlertStatusInvestigating,
		AlertStatusResolved, AlertStatusEscalated, AlertStatusFalsePositive, AlertStatusClosed:
		return true
	}
	return false
}

// validTransitions defines the allowed alert status transitions.
var validTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusPending:       {AlertStatusAcknowledged, AlertStatusEscalated, AlertStatusClosed},
	AlertStatusAcknowledged:  {AlertStatusInvestigating, AlertStatusClosed},
	AlertStatusInvestigating: {AlertStatusResolved, AlertStatusEscalated, AlertStatusFalsePositive, AlertStatusClosed},
	AlertStatusResolved:      {AlertStatusClosed},
	AlertStatusEscalated:     {AlertStatusInvestigating, AlertStatusClosed},
	AlertStatusFalsePositive: {AlertStatusClosed},
	AlertStatusClosed:        {},
}

// Alert is one persisted detection outcome. Correlation fields are written
// only by the correlation service; an alert with CorrelationID set always has
// at least one sibling sharing that id.
type Alert struct {
	ID          string      `json:"id"`
	Type        AlertType   `json:"type"`
	Severity    Severity    `json:"severity"`
	Status      AlertStatus `json:"status"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`

	// Fingerprint identifies logically-identical recurring alerts for
	// deduplication.
	Fingerprint string `json:"fingerprint,omitempty"`

	IsCorrelated     bool     `json:"is_correlated"`
	CorrelationID    string   `json:"correlation_id,omitempty"`
	CorrelatedAlerts []string `json:"correlated_alerts,omitempty"`

	RuleID    string    `json:"rule_id,omitempty"`
	RuleName  string    `json:"rule_name,omitempty"`
	EventType EventType `json:"event_type,omitempty"`

	UserID    string `json:"user_id,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	Score           int            `json:"score"`
	OccurrenceCount int            `json:"occurrence_count"`
	FirstSeen       time.Time      `json:"first_seen"`
	LastSeen        time.Time      `json:"last_seen"`
	Evidence        map[string]any `json:"evidence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAlert constructs a pending alert from a rule match against an event.
func NewAlert(alertType AlertType, ruleID, ruleName string, event *Event, result RuleResult) (*Alert, error) {
	if !result.Matched {
		return nil, errors.New("cannot create alert from non-matching result")
	}
	if !result.Severity.IsValid() {
		return nil, fmt.Errorf("invalid severity %q for rule %s", result.Severity, ruleID)
	}
	now := time.Now().UTC()
	return &Alert{
		ID:              uuid.New().String(),
		Type:            alertType,
		Severity:        result.Severity,
		Status:          AlertStatusPending,
		Title:           result.Reason,
		Description:     result.Reason,
		RuleID:          ruleID,
		RuleName:        ruleName,
		EventType:       event.Type,
		UserID:          event.UserID,
		UserEmail:       event.UserEmail,
		IPAddress:       event.IPAddress,
		SessionID:       event.SessionID,
		Score:           result.Score,
		OccurrenceCount: 1,
		FirstSeen:       now,
		LastSeen:        now,
		Evidence:        result.Evidence,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// TransitionTo validates and executes a status transition.
func (a *Alert) TransitionTo(newStatus AlertStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid alert status: %s", newStatus)
	}
	allowed, ok := validTransitions[a.Status]
	if !ok {
		return fmt.Errorf("unknown current status: %s", a.Status)
	}
	for _, s := range allowed {
		if s == newStatus {
			a.Status = newStatus
			a.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid transition: %s -> %s (allowed: %v)", a.Status, newStatus, allowed)
}

// HasIdentity reports whether the alert carries any attribute usable for
// correlation candidate retrieval.
func (a *Alert) HasIdentity() bool {
	return a.UserID != "" || a.UserEmail != "" || a.IPAddress != "" ||
		a.SessionID != "" || a.RuleID != ""
}
