package rules

import (
	"fmt"
	"time"

	"vigil/core"
)

// SessionHijackConfig configures the session hijacking rule.
type SessionHijackConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Window  time.Duration `mapstructure:"window" validate:"gte=0"`
	// DetectUserAgentChange additionally flags a user-agent switch on an
	// established session (lower severity than an IP switch).
	DetectUserAgentChange bool `mapstructure:"detect_user_agent_change"`
}

// SessionHijackRule detects an established session suddenly being used from
// a different IP address, or with a different user agent, within the window.
// The IP check takes priority; only one outcome is returned.
type SessionHijackRule struct {
	Meta
	cfg SessionHijackConfig
}

// NewSessionHijackRule constructs the rule, applying defaults.
func NewSessionHijackRule(cfg SessionHijackConfig) *SessionHijackRule {
	if cfg.Window == 0 {
		cfg.Window = 30 * time.Minute
	}
	return &SessionHijackRule{
		Meta: Meta{
			RuleID:      "session_hijacking",
			RuleName:    "Session Hijacking",
			Description: "Detects an established session changing source IP or user agent within a sliding window",
			Version:     "1.1.0",
			RuleStatus:  statusFor(cfg.Enabled),
			RuleFamily:  FamilySession,
			Severity:    core.SeverityHigh,
			Alert:       core.AlertSessionHijacking,
			RuleTags:    []string{"session", "hijacking"},
		},
		cfg: cfg,
	}
}

// Validate checks the configuration for internal consistency.
func (r *SessionHijackRule) Validate() error {
	if r.cfg.Window <= 0 {
		return fmt.Errorf("session_hijacking: window must be positive, got %s", r.cfg.Window)
	}
	return nil
}

// Evaluate applies to session-bound events. Events without a session id, or
// without any same-session history in the window, never match.
func (r *SessionHijackRule) Evaluate(ec *core.EventContext) core.RuleResult {
	ev := &ec.Event
	if !sessionBound(ev.Type) || ev.SessionID == "" {
		return core.NoMatch()
	}

	cutoff := ev.Timestamp.Add(-r.cfg.Window)
	var prior []core.Event
	for _, past := range ec.RecentEventsSince(cutoff) {
		if past.ID != ev.ID && past.SessionID == ev.SessionID {
			prior = append(prior, past)
		}
	}
	if len(prior) == 0 {
		return core.NoMatch()
	}

	if ev.IPAddress != "" {
		for i := range prior {
			if prior[i].IPAddress != "" && prior[i].IPAddress != ev.IPAddress {
				return core.Match(core.SeverityHigh, 90,
					fmt.Sprintf("Session %s changed source IP from %s to %s", ev.SessionID, prior[i].IPAddress, ev.IPAddress)).
					WithEvidence("session_id", ev.SessionID).
					WithEvidence("previous_ip", prior[i].IPAddress).
					WithEvidence("current_ip", ev.IPAddress).
					WithActions(core.ActionInvalidateSessions, core.ActionRequire2FA)
			}
		}
	}

	if r.cfg.DetectUserAgentChange {
		if ua, ok := ev.Meta(core.MetaUserAgent); ok {
			for i := range prior {
				if prev, ok := prior[i].Meta(core.MetaUserAgent); ok && prev != ua {
					return core.Match(core.SeverityMedium, 70,
						fmt.Sprintf("Session %s changed user agent", ev.SessionID)).
						WithEvidence("session_id", ev.SessionID).
						WithEvidence("previous_user_agent", prev).
						WithEvidence("current_user_agent", ua).
						WithActions(core.ActionRequire2FA, core.ActionIncreaseMonitoring)
				}
			}
		}
	}

	return core.NoMatch()
}

func sessionBound(t core.EventType) bool {
	switch t {
	case core.EventLoginSuccess, core.EventSessionCreated, core.EventSessionRefreshed, core.EventLogout:
		return true
	}
	return false
}
