// Package service wires the rule engine, deduplication, storage, correlation
// and the escalation sink into one event-processing pipeline.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/core"
	"vigil/correlation"
	"vigil/metrics"
	"vigil/notify"
	"vigil/rules"
	"vigil/util/goroutine"
)

// AlertStore is the slice of alert storage the pipeline needs directly.
// Deduplication and correlation hold their own narrower views of the same
// store.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *core.Alert) error
	UpdateAlert(ctx context.Context, alert *core.Alert) error
}

// ProcessedAlert pairs a persisted (or folded) alert with its correlation
// outcome.
type ProcessedAlert struct {
	Alert       *core.Alert
	Duplicate   bool
	Correlation *correlation.Result
}

// Pipeline processes event contexts: rule evaluation, alert creation,
// deduplication, persistence, correlation and escalation delivery.
type Pipeline struct {
	engine     *rules.Engine
	store      AlertStore
	dedup      *core.Deduplicator
	correlator *correlation.Service
	notifier   notify.Notifier
	logger     *zap.SugaredLogger

	inputCh chan *core.EventContext
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPipeline assembles the pipeline. dedup may be nil to disable
// deduplication; notifier may be nil to discard escalations.
func NewPipeline(engine *rules.Engine, store AlertStore, dedup *core.Deduplicator, correlator *correlation.Service, notifier notify.Notifier, bufferSize int, logger *zap.SugaredLogger) *Pipeline {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Pipeline{
		engine:     engine,
		store:      store,
		dedup:      dedup,
		correlator: correlator,
		notifier:   notifier,
		logger:     logger,
		inputCh:    make(chan *core.EventContext, bufferSize),
		stopCh:     make(chan struct{}),
	}
}

// Submit queues an event context for processing. Returns false when the
// buffer is full; the caller decides whether to drop or block.
func (p *Pipeline) Submit(ec *core.EventContext) bool {
	select {
	case p.inputCh <- ec:
		return true
	default:
		p.logger.Warnw("Dropped event, pipeline buffer full", "event_id", ec.Event.ID)
		return false
	}
}

// Start launches the processing loop.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer goroutine.Recover("pipeline-run", p.logger)
		p.run()
	}()
}

func (p *Pipeline) run() {
	p.logger.Info("Pipeline started, waiting for events")
	for {
		select {
		case <-p.stopCh:
			p.logger.Info("Pipeline stop signal received")
			return
		case ec, ok := <-p.inputCh:
			if !ok {
				return
			}
			if _, err := p.ProcessEvent(context.Background(), ec); err != nil {
				p.logger.Errorw("Event processing failed",
					"event_id", ec.Event.ID,
					"error", err)
			}
		}
	}
}

// Stop shuts the pipeline down, waiting up to 30 seconds for in-flight work.
func (p *Pipeline) Stop() {
	close(p.stopCh)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("Pipeline stopped")
	case <-time.After(30 * time.Second):
		p.logger.Warn("Pipeline shutdown timed out after 30s")
	}
}

// ProcessEvent runs one event context through the full pipeline and returns
// the alerts it produced. A single event can trigger several distinct rules;
// each match becomes its own alert-creation candidate.
func (p *Pipeline) ProcessEvent(ctx context.Context, ec *core.EventContext) ([]*ProcessedAlert, error) {
	matches := p.engine.Evaluate(ctx, ec)
	if len(matches) == 0 {
		return nil, nil
	}

	out := make([]*ProcessedAlert, 0, len(matches))
	for _, match := range matches {
		processed, err := p.processMatch(ctx, &ec.Event, match)
		if err != nil {
			return out, err
		}
		out = append(out, processed)
	}
	return out, nil
}

func (p *Pipeline) processMatch(ctx context.Context, event *core.Event, match rules.Match) (*ProcessedAlert, error) {
	alert, err := core.NewAlert(match.AlertType, match.RuleID, match.RuleName, event, match.Result)
	if err != nil {
		return nil, fmt.Errorf("create alert for rule %s: %w", match.RuleID, err)
	}

	if p.dedup != nil {
		dres, err := p.dedup.Process(ctx, alert)
		if err != nil {
			return nil, err
		}
		if dres.IsDuplicate {
			metrics.AlertsDeduplicated.Inc()
			return &ProcessedAlert{Alert: dres.Existing, Duplicate: true}, nil
		}
	}

	if err := p.store.InsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("insert alert %s: %w", alert.ID, err)
	}
	metrics.AlertsGenerated.WithLabelValues(string(alert.Severity)).Inc()

	result, err := p.correlator.CorrelateAlert(ctx, alert)
	if err != nil {
		// Correlation integrity is never approximated: the storage
		// error propagates, the alert itself is already persisted.
		return nil, fmt.Errorf("correlate alert %s: %w", alert.ID, err)
	}

	if result.ShouldEscalate {
		p.escalate(ctx, alert, result)
	}
	return &ProcessedAlert{Alert: alert, Correlation: result}, nil
}

// escalate transitions the alert and hands the decision to the sink.
// Delivery is best-effort; a sink failure never fails the pipeline.
func (p *Pipeline) escalate(ctx context.Context, alert *core.Alert, result *correlation.Result) {
	if err := alert.TransitionTo(core.AlertStatusEscalated); err == nil {
		if err := p.store.UpdateAlert(ctx, alert); err != nil {
			p.logger.Errorw("Failed to persist escalated status",
				"alert_id", alert.ID,
				"error", err)
		}
	}
	if err := p.notifier.NotifyEscalation(ctx, alert, result); err != nil {
		p.logger.Errorw("Escalation notification failed",
			"alert_id", alert.ID,
			"correlation_id", result.CorrelationID,
			"error", err)
	}
	p.logger.Infow("Alert escalated",
		"alert_id", alert.ID,
		"correlation_id", result.CorrelationID,
		"reason", result.EscalationReason)
}
