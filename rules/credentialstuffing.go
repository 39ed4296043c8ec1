package rules

import (
	"fmt"
	"time"

	"vigil/core"
)

// CredentialStuffingConfig configures the credential stuffing rule.
type CredentialStuffingConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Window  time.Duration `mapstructure:"window" validate:"gte=0"`
	// DistinctUserThreshold is the number of distinct accounts attempted
	// from one IP (including the triggering event) that constitutes
	// stuffing.
	DistinctUserThreshold int `mapstructure:"distinct_user_threshold" validate:"gte=0"`
}

// CredentialStuffingRule detects one source IP cycling through many distinct
// account identities with failed logins, the signature of replayed breach
// credential lists.
type CredentialStuffingRule struct {
	Meta
	cfg CredentialStuffingConfig
}

// NewCredentialStuffingRule constructs the rule, applying defaults.
func NewCredentialStuffingRule(cfg CredentialStuffingConfig) *CredentialStuffingRule {
	if cfg.Window == 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.DistinctUserThreshold == 0 {
		cfg.DistinctUserThreshold = 5
	}
	return &CredentialStuffingRule{
		Meta: Meta{
			RuleID:      "credential_stuffing",
			RuleName:    "Credential Stuffing",
			Description: "Detects one source IP attempting many distinct account identities within a sliding window",
			Version:     "1.0.0",
			RuleStatus:  statusFor(cfg.Enabled),
			RuleFamily:  FamilyFrequency,
			Severity:    core.SeverityHigh,
			Alert:       core.AlertCredentialStuffing,
			RuleTags:    []string{"authentication", "credential_stuffing"},
		},
		cfg: cfg,
	}
}

// Validate checks the configuration for internal consistency.
func (r *CredentialStuffingRule) Validate() error {
	if r.cfg.Window <= 0 {
		return fmt.Errorf("credential_stuffing: window must be positive, got %s", r.cfg.Window)
	}
	if r.cfg.DistinctUserThreshold < 2 {
		return fmt.Errorf("credential_stuffing: distinct_user_threshold must be at least 2, got %d", r.cfg.DistinctUserThreshold)
	}
	return nil
}

// Evaluate applies to login failures carrying a source IP.
func (r *CredentialStuffingRule) Evaluate(ec *core.EventContext) core.RuleResult {
	ev := &ec.Event
	if ev.Type != core.EventLoginFailure || ev.IPAddress == "" {
		return core.NoMatch()
	}

	cutoff := ev.Timestamp.Add(-r.cfg.Window)
	users := make(map[string]struct{})
	if id := identityOf(ev); id != "" {
		users[id] = struct{}{}
	}
	for _, past := range ec.RecentEventsSince(cutoff) {
		if past.Type != core.EventLoginFailure || past.IPAddress != ev.IPAddress {
			continue
		}
		if id := identityOf(&past); id != "" {
			users[id] = struct{}{}
		}
	}
	if len(users) < r.cfg.DistinctUserThreshold {
		return core.NoMatch()
	}

	return core.Match(core.SeverityHigh, 85,
		fmt.Sprintf("IP %s attempted %d distinct accounts within %s", ev.IPAddress, len(users), r.cfg.Window)).
		WithEvidence("source_ip", ev.IPAddress).
		WithEvidence("distinct_users", len(users)).
		WithEvidence("window", r.cfg.Window.String()).
		WithActions(core.ActionBlockIP, core.ActionRateLimitIP)
}

// identityOf returns the best available account identity for an event.
func identityOf(ev *core.Event) string {
	if ev.UserID != "" {
		return ev.UserID
	}
	return ev.UserEmail
}
