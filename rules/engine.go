package rules

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"vigil/core"
	"vigil/metrics"
	"vigil/util/goroutine"
)

// EngineConfig holds the rule engine tunables.
type EngineConfig struct {
	// MaxExecutionTime is the per-rule evaluation ceiling. A rule that
	// does not return within the budget is treated as non-matching and
	// the overrun is recorded as an operational fault, not an error.
	MaxExecutionTime time.Duration `mapstructure:"max_execution_time" validate:"gt=0"`
	// ParallelExecution runs rules concurrently. Both modes produce the
	// same matches for the same input; rules are stateless.
	ParallelExecution bool `mapstructure:"parallel_execution"`
}

// Match pairs a matching rule with its evaluation result.
type Match struct {
	RuleID    string
	RuleName  string
	AlertType core.AlertType
	Result    core.RuleResult
}

// Engine evaluates the active rule set against incoming events. The rule set
// is an immutable snapshot swapped atomically on reload; live rules are never
// mutated.
type Engine struct {
	cfg    EngineConfig
	rules  atomic.Pointer[[]Rule]
	logger *zap.SugaredLogger
}

// NewEngine creates an engine over the given rule set.
func NewEngine(ruleSet []Rule, cfg EngineConfig, logger *zap.SugaredLogger) *Engine {
	if cfg.MaxExecutionTime <= 0 {
		cfg.MaxExecutionTime = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	e := &Engine{cfg: cfg, logger: logger}
	snapshot := append([]Rule(nil), ruleSet...)
	e.rules.Store(&snapshot)
	return e
}

// Reload swaps in a freshly constructed rule set. In-flight evaluations keep
// using the snapshot they started with.
func (e *Engine) Reload(ruleSet []Rule) {
	snapshot := append([]Rule(nil), ruleSet...)
	e.rules.Store(&snapshot)
	e.logger.Infow("Reloaded rule set", "rules", len(snapshot))
}

// Rules returns the current rule snapshot.
func (e *Engine) Rules() []Rule {
	return *e.rules.Load()
}

// Evaluate runs every active rule against the event context and returns all
// matches, in rule-set order regardless of execution mode. One event can
// legitimately trigger several distinct rules.
func (e *Engine) Evaluate(ctx context.Context, ec *core.EventContext) []Match {
	active := make([]Rule, 0)
	for _, r := range e.Rules() {
		if r.Status() == StatusActive {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return nil
	}

	start := time.Now()
	results := make([]core.RuleResult, len(active))
	if e.cfg.ParallelExecution {
		var wg sync.WaitGroup
		for i, rule := range active {
			wg.Add(1)
			go func(i int, rule Rule) {
				defer wg.Done()
				results[i] = e.evaluateOne(ctx, rule, ec)
			}(i, rule)
		}
		wg.Wait()
	} else {
		for i, rule := range active {
			results[i] = e.evaluateOne(ctx, rule, ec)
		}
	}
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())

	var matches []Match
	for i, res := range results {
		if res.Matched {
			matches = append(matches, Match{
				RuleID:    active[i].ID(),
				RuleName:  active[i].Name(),
				AlertType: active[i].AlertType(),
				Result:    res,
			})
		}
	}
	return matches
}

// evaluateOne runs a single rule under its own cooperative time budget. The
// rule goroutine is abandoned on overrun; rules are side-effect free, so an
// abandoned evaluation cannot corrupt anything.
func (e *Engine) evaluateOne(ctx context.Context, rule Rule, ec *core.EventContext) core.RuleResult {
	resultCh := make(chan core.RuleResult, 1)
	go func() {
		defer goroutine.Recover("rule-"+rule.ID(), e.logger)
		resultCh <- rule.Evaluate(ec)
	}()

	timer := time.NewTimer(e.cfg.MaxExecutionTime)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		metrics.RulesEvaluated.WithLabelValues(rule.ID()).Inc()
		return res
	case <-timer.C:
		metrics.RuleTimeouts.WithLabelValues(rule.ID()).Inc()
		e.logger.Warnw("Rule evaluation exceeded execution budget, treating as non-match",
			"rule_id", rule.ID(),
			"budget", e.cfg.MaxExecutionTime)
		return core.NoMatch()
	case <-ctx.Done():
		return core.NoMatch()
	}
}
