package rules

import (
	"fmt"
	"time"

	"vigil/core"
)

// AccountEnumConfig configures the account enumeration rule.
type AccountEnumConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Window  time.Duration `mapstructure:"window" validate:"gte=0"`
	// UnknownUserThreshold is the number of attempts against nonexistent
	// accounts from one IP (including the triggering event) that
	// constitutes enumeration.
	UnknownUserThreshold int `mapstructure:"unknown_user_threshold" validate:"gte=0"`
}

// AccountEnumRule detects one source IP probing for valid account names:
// repeated failures against accounts the identity provider marked as
// nonexistent (user_exists=false metadata). Events without that metadata are
// undecidable and never counted.
type AccountEnumRule struct {
	Meta
	cfg AccountEnumConfig
}

// NewAccountEnumRule constructs the rule, applying defaults.
func NewAccountEnumRule(cfg AccountEnumConfig) *AccountEnumRule {
	if cfg.Window == 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.UnknownUserThreshold == 0 {
		cfg.UnknownUserThreshold = 5
	}
	return &AccountEnumRule{
		Meta: Meta{
			RuleID:      "account_enumeration",
			RuleName:    "Account Enumeration",
			Description: "Detects one source IP probing many nonexistent account names within a sliding window",
			Version:     "1.0.0",
			RuleStatus:  statusFor(cfg.Enabled),
			RuleFamily:  FamilyFrequency,
			Severity:    core.SeverityMedium,
			Alert:       core.AlertAccountEnumeration,
			RuleTags:    []string{"authentication", "reconnaissance"},
		},
		cfg: cfg,
	}
}

// Validate checks the configuration for internal consistency.
func (r *AccountEnumRule) Validate() error {
	if r.cfg.Window <= 0 {
		return fmt.Errorf("account_enumeration: window must be positive, got %s", r.cfg.Window)
	}
	if r.cfg.UnknownUserThreshold < 2 {
		return fmt.Errorf("account_enumeration: unknown_user_threshold must be at least 2, got %d", r.cfg.UnknownUserThreshold)
	}
	return nil
}

// Evaluate applies to login failures against nonexistent accounts.
func (r *AccountEnumRule) Evaluate(ec *core.EventContext) core.RuleResult {
	ev := &ec.Event
	if ev.Type != core.EventLoginFailure || ev.IPAddress == "" {
		return core.NoMatch()
	}
	if !isUnknownUser(ev) {
		return core.NoMatch()
	}

	cutoff := ev.Timestamp.Add(-r.cfg.Window)
	probes := 1 // the triggering event
	targets := make(map[string]struct{})
	if id := identityOf(ev); id != "" {
		targets[id] = struct{}{}
	}
	for _, past := range ec.RecentEventsSince(cutoff) {
		if past.ID == ev.ID || past.Type != core.EventLoginFailure || past.IPAddress != ev.IPAddress {
			continue
		}
		if !isUnknownUser(&past) {
			continue
		}
		probes++
		if id := identityOf(&past); id != "" {
			targets[id] = struct{}{}
		}
	}
	if probes < r.cfg.UnknownUserThreshold {
		return core.NoMatch()
	}

	return core.Match(core.SeverityMedium, 60,
		fmt.Sprintf("IP %s probed %d nonexistent accounts within %s", ev.IPAddress, probes, r.cfg.Window)).
		WithEvidence("source_ip", ev.IPAddress).
		WithEvidence("probe_count", probes).
		WithEvidence("distinct_targets", len(targets)).
		WithEvidence("window", r.cfg.Window.String()).
		WithActions(core.ActionRateLimitIP, core.ActionIncreaseMonitoring)
}

func isUnknownUser(ev *core.Event) bool {
	v, ok := ev.Meta(core.MetaUserExists)
	return ok && v == "false"
}
