// Package notify delivers escalation decisions to an external sink.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"vigil/core"
	"vigil/correlation"
)

// Notifier is the escalation sink the pipeline hands escalated correlation
// results to.
type Notifier interface {
	NotifyEscalation(ctx context.Context, alert *core.Alert, result *correlation.Result) error
}

// NopNotifier discards escalations. Used when notification is disabled.
type NopNotifier struct{}

func (NopNotifier) NotifyEscalation(context.Context, *core.Alert, *correlation.Result) error {
	return nil
}

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	// MaxRetries is the number of re-attempts after the first failure.
	MaxRetries int
	// MinSeverity filters escalations below this alert severity.
	MinSeverity core.Severity
}

// WebhookNotifier POSTs escalation payloads to a configured endpoint with
// bounded retries.
type WebhookNotifier struct {
	cfg    WebhookConfig
	client *http.Client
	logger *zap.SugaredLogger
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(cfg WebhookConfig, logger *zap.SugaredLogger) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// escalationPayload is the webhook body.
type escalationPayload struct {
	AlertID          string                `json:"alert_id"`
	AlertType        core.AlertType        `json:"alert_type"`
	Severity         core.Severity         `json:"severity"`
	CorrelationID    string                `json:"correlation_id"`
	Score            int                   `json:"score"`
	EscalationReason string                `json:"escalation_reason"`
	Patterns         []correlation.Pattern `json:"patterns,omitempty"`
	GroupSize        int                   `json:"group_size"`
	Timestamp        time.Time             `json:"timestamp"`
}

// NotifyEscalation delivers one escalation. Delivery failures after all
// retries are returned to the caller; the caller decides whether delivery is
// best-effort.
func (n *WebhookNotifier) NotifyEscalation(ctx context.Context, alert *core.Alert, result *correlation.Result) error {
	if n.cfg.MinSeverity != "" && !alert.Severity.AtLeast(n.cfg.MinSeverity) {
		return nil
	}

	body, err := json.Marshal(escalationPayload{
		AlertID:          alert.ID,
		AlertType:        alert.Type,
		Severity:         alert.Severity,
		CorrelationID:    result.CorrelationID,
		Score:            result.Score,
		EscalationReason: result.EscalationReason,
		Patterns:         result.Patterns,
		GroupSize:        len(result.RelatedAlerts) + 1,
		Timestamp:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode escalation payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = n.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		n.logger.Warnw("Escalation webhook delivery failed",
			"attempt", attempt+1,
			"error", lastErr)
	}
	return fmt.Errorf("escalation webhook failed after %d attempts: %w", n.cfg.MaxRetries+1, lastErr)
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
