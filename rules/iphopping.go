package rules

import (
	"fmt"
	"time"

	"vigil/core"
)

// IPHoppingConfig configures the IP hopping rule.
type IPHoppingConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Window  time.Duration `mapstructure:"window" validate:"gte=0"`
	// MaxDistinctIPs is the distinct source IP count (including the
	// triggering event) at which the rule matches.
	MaxDistinctIPs int `mapstructure:"max_distinct_ips" validate:"gte=0"`
}

// IPHoppingRule detects one account authenticating from many distinct source
// addresses inside a short window.
type IPHoppingRule struct {
	Meta
	cfg IPHoppingConfig
}

// NewIPHoppingRule constructs the rule, applying defaults for unset fields.
func NewIPHoppingRule(cfg IPHoppingConfig) *IPHoppingRule {
	if cfg.Window == 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.MaxDistinctIPs == 0 {
		cfg.MaxDistinctIPs = 3
	}
	return &IPHoppingRule{
		Meta: Meta{
			RuleID:      "ip_hopping",
			RuleName:    "IP Hopping",
			Description: "Detects one account authenticating from several distinct IP addresses within a sliding window",
			Version:     "1.0.0",
			RuleStatus:  statusFor(cfg.Enabled),
			RuleFamily:  FamilyFrequency,
			Severity:    core.SeverityHigh,
			Alert:       core.AlertAnomalyDetected,
			RuleTags:    []string{"authentication", "anomaly"},
		},
		cfg: cfg,
	}
}

// Validate checks the configuration for internal consistency.
func (r *IPHoppingRule) Validate() error {
	if r.cfg.Window <= 0 {
		return fmt.Errorf("ip_hopping: window must be positive, got %s", r.cfg.Window)
	}
	if r.cfg.MaxDistinctIPs < 2 {
		return fmt.Errorf("ip_hopping: max_distinct_ips must be at least 2, got %d", r.cfg.MaxDistinctIPs)
	}
	return nil
}

// Evaluate applies to login events (success or failure) with an attributed
// account and source IP.
func (r *IPHoppingRule) Evaluate(ec *core.EventContext) core.RuleResult {
	ev := &ec.Event
	if ev.Type != core.EventLoginSuccess && ev.Type != core.EventLoginFailure {
		return core.NoMatch()
	}
	if ev.UserID == "" || ev.IPAddress == "" {
		return core.NoMatch()
	}

	cutoff := ev.Timestamp.Add(-r.cfg.Window)
	ips := map[string]struct{}{ev.IPAddress: {}}
	for _, past := range ec.RecentEventsSince(cutoff) {
		if past.UserID != ev.UserID || past.IPAddress == "" {
			continue
		}
		if past.Type == core.EventLoginSuccess || past.Type == core.EventLoginFailure {
			ips[past.IPAddress] = struct{}{}
		}
	}
	if len(ips) < r.cfg.MaxDistinctIPs {
		return core.NoMatch()
	}

	return core.Match(core.SeverityHigh, 80,
		fmt.Sprintf("Account %s authenticated from %d distinct IPs within %s", ev.UserID, len(ips), r.cfg.Window)).
		WithEvidence("user_id", ev.UserID).
		WithEvidence("distinct_ips", sortedKeys(ips)).
		WithEvidence("window", r.cfg.Window.String()).
		WithActions(core.ActionRequire2FA, core.ActionInvalidateSessions)
}
