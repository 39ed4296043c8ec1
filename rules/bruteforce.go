package rules

import (
	"fmt"
	"time"

	"vigil/core"
)

// BruteForceConfig configures the brute force rule. The four thresholds are
// failure counts within the window and must be strictly ascending.
type BruteForceConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Window            time.Duration `mapstructure:"window" validate:"gte=0"`
	LowThreshold      int           `mapstructure:"low_threshold" validate:"gte=0"`
	MediumThreshold   int           `mapstructure:"medium_threshold" validate:"gte=0"`
	HighThreshold     int           `mapstructure:"high_threshold" validate:"gte=0"`
	CriticalThreshold int           `mapstructure:"critical_threshold" validate:"gte=0"`
}

// BruteForceRule counts recent login failures for the same account (or, when
// no account is attributed, the same source IP) and maps the count onto four
// severity tiers with escalating response suggestions.
type BruteForceRule struct {
	Meta
	cfg BruteForceConfig
}

// NewBruteForceRule constructs the rule, applying defaults for unset fields.
func NewBruteForceRule(cfg BruteForceConfig) *BruteForceRule {
	if cfg.Window == 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.LowThreshold == 0 {
		cfg.LowThreshold = 5
	}
	if cfg.MediumThreshold == 0 {
		cfg.MediumThreshold = 8
	}
	if cfg.HighThreshold == 0 {
		cfg.HighThreshold = 12
	}
	if cfg.CriticalThreshold == 0 {
		cfg.CriticalThreshold = 20
	}
	return &BruteForceRule{
		Meta: Meta{
			RuleID:      "brute_force",
			RuleName:    "Brute Force Attempt",
			Description: "Detects repeated login failures against one account or from one source IP within a sliding window",
			Version:     "1.1.0",
			RuleStatus:  statusFor(cfg.Enabled),
			RuleFamily:  FamilyFrequency,
			Severity:    core.SeverityHigh,
			Alert:       core.AlertBruteForceAttempt,
			RuleTags:    []string{"authentication", "brute_force"},
		},
		cfg: cfg,
	}
}

// Validate checks that the window is positive and the tiers ascend.
func (r *BruteForceRule) Validate() error {
	if r.cfg.Window <= 0 {
		return fmt.Errorf("brute_force: window must be positive, got %s", r.cfg.Window)
	}
	if r.cfg.LowThreshold <= 0 {
		return fmt.Errorf("brute_force: low_threshold must be positive, got %d", r.cfg.LowThreshold)
	}
	if r.cfg.MediumThreshold <= r.cfg.LowThreshold ||
		r.cfg.HighThreshold <= r.cfg.MediumThreshold ||
		r.cfg.CriticalThreshold <= r.cfg.HighThreshold {
		return fmt.Errorf("brute_force: thresholds must be strictly ascending (low=%d medium=%d high=%d critical=%d)",
			r.cfg.LowThreshold, r.cfg.MediumThreshold, r.cfg.HighThreshold, r.cfg.CriticalThreshold)
	}
	return nil
}

// Evaluate applies to login failures only. The triggering event counts
// toward the total.
func (r *BruteForceRule) Evaluate(ec *core.EventContext) core.RuleResult {
	ev := &ec.Event
	if ev.Type != core.EventLoginFailure {
		return core.NoMatch()
	}
	if ev.UserID == "" && ev.IPAddress == "" {
		return core.NoMatch()
	}

	cutoff := ev.Timestamp.Add(-r.cfg.Window)
	failures := 1 // the triggering event
	for _, past := range ec.RecentEventsSince(cutoff) {
		if past.ID == ev.ID || past.Type != core.EventLoginFailure {
			continue
		}
		if r.sameTarget(ev, &past) {
			failures++
		}
	}

	severity, score, actions := r.tier(failures)
	if severity == "" {
		return core.NoMatch()
	}
	return core.Match(severity, score,
		fmt.Sprintf("%d failed login attempts within %s", failures, r.cfg.Window)).
		WithEvidence("failure_count", failures).
		WithEvidence("window", r.cfg.Window.String()).
		WithEvidence("target_user", ev.UserID).
		WithEvidence("source_ip", ev.IPAddress).
		WithActions(actions...)
}

// sameTarget reports whether a past failure counts against the same target
// as the triggering event: same account when attributed, same source IP
// otherwise.
func (r *BruteForceRule) sameTarget(current, past *core.Event) bool {
	if current.UserID != "" {
		return past.UserID == current.UserID
	}
	return past.IPAddress == current.IPAddress
}

// tier maps a failure count onto the severity ladder, highest tier first.
func (r *BruteForceRule) tier(failures int) (core.Severity, int, []core.Action) {
	switch {
	case failures >= r.cfg.CriticalThreshold:
		return core.SeverityCritical, 95, []core.Action{core.ActionBlockIP, core.ActionLockAccount, core.ActionInvalidateSessions}
	case failures >= r.cfg.HighThreshold:
		return core.SeverityHigh, 85, []core.Action{core.ActionBlockIP, core.ActionRequire2FA}
	case failures >= r.cfg.MediumThreshold:
		return core.SeverityMedium, 65, []core.Action{core.ActionRequire2FA, core.ActionIncreaseMonitoring}
	case failures >= r.cfg.LowThreshold:
		return core.SeverityLow, 40, []core.Action{core.ActionIncreaseMonitoring}
	default:
		return "", 0, nil
	}
}
