package rules

import (
	"time"

	"go.uber.org/zap"
)

// Config groups the per-rule configuration blocks. Each rule is enabled and
// tuned independently; the config package embeds this struct in the service
// configuration snapshot.
type Config struct {
	GeoAnomaly         GeoAnomalyConfig         `mapstructure:"geo_anomaly"`
	BruteForce         BruteForceConfig         `mapstructure:"brute_force"`
	IPHopping          IPHoppingConfig          `mapstructure:"ip_hopping"`
	CredentialStuffing CredentialStuffingConfig `mapstructure:"credential_stuffing"`
	AccountEnum        AccountEnumConfig        `mapstructure:"account_enumeration"`
	SessionHijack      SessionHijackConfig      `mapstructure:"session_hijacking"`
}

// DefaultConfig returns the rule configuration with every rule enabled and
// default thresholds.
func DefaultConfig() Config {
	return Config{
		GeoAnomaly: GeoAnomalyConfig{
			Enabled:            true,
			DetectNewCountry:   true,
			LearningPeriodDays: 30,
		},
		BruteForce: BruteForceConfig{
			Enabled:           true,
			Window:            15 * time.Minute,
			LowThreshold:      5,
			MediumThreshold:   8,
			HighThreshold:     12,
			CriticalThreshold: 20,
		},
		IPHopping: IPHoppingConfig{
			Enabled:        true,
			Window:         10 * time.Minute,
			MaxDistinctIPs: 3,
		},
		CredentialStuffing: CredentialStuffingConfig{
			Enabled:               true,
			Window:                10 * time.Minute,
			DistinctUserThreshold: 5,
		},
		AccountEnum: AccountEnumConfig{
			Enabled:              true,
			Window:               15 * time.Minute,
			UnknownUserThreshold: 5,
		},
		SessionHijack: SessionHijackConfig{
			Enabled:               true,
			Window:                30 * time.Minute,
			DetectUserAgentChange: true,
		},
	}
}

// Candidates constructs every rule from a configuration snapshot without
// validating it. Callers that need per-rule validation errors (the CLI)
// iterate this; Build filters it down to the loadable set.
func Candidates(cfg Config) []Rule {
	return []Rule{
		NewGeoAnomalyRule(cfg.GeoAnomaly),
		NewBruteForceRule(cfg.BruteForce),
		NewIPHoppingRule(cfg.IPHopping),
		NewCredentialStuffingRule(cfg.CredentialStuffing),
		NewAccountEnumRule(cfg.AccountEnum),
		NewSessionHijackRule(cfg.SessionHijack),
	}
}

// Build constructs the rule set from a configuration snapshot. A rule whose
// configuration fails validation is disabled and logged; the fault is fatal
// to that rule only, the rest of the set loads normally.
func Build(cfg Config, logger *zap.SugaredLogger) []Rule {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	candidates := Candidates(cfg)

	ruleSet := make([]Rule, 0, len(candidates))
	for _, rule := range candidates {
		if err := rule.Validate(); err != nil {
			logger.Errorw("Rule configuration invalid, disabling rule",
				"rule_id", rule.ID(),
				"error", err)
			continue
		}
		ruleSet = append(ruleSet, rule)
	}
	return ruleSet
}
