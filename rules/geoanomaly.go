package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"vigil/core"
)

// GeoAnomalyConfig configures the geographic anomaly rule.
type GeoAnomalyConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// BlockedCountries always produce a critical match.
	BlockedCountries []string `mapstructure:"blocked_countries"`
	// AllowedCountries, when non-empty, turns any login from a country
	// outside the list into a high-severity match.
	AllowedCountries []string `mapstructure:"allowed_countries"`
	// DetectNewCountry enables first-login-from-new-country detection
	// against the actor's history.
	DetectNewCountry bool `mapstructure:"detect_new_country"`
	// LearningPeriodDays is the history window used to establish the
	// actor's known countries.
	LearningPeriodDays int `mapstructure:"learning_period_days" validate:"gte=0"`
}

// GeoAnomalyRule flags logins from blocked, disallowed, or previously unseen
// countries. Applies to successful logins only; events without country
// metadata never match.
type GeoAnomalyRule struct {
	Meta
	cfg     GeoAnomalyConfig
	blocked map[string]struct{}
	allowed map[string]struct{}
}

// NewGeoAnomalyRule constructs the rule from its configuration.
func NewGeoAnomalyRule(cfg GeoAnomalyConfig) *GeoAnomalyRule {
	if cfg.LearningPeriodDays == 0 {
		cfg.LearningPeriodDays = 30
	}
	return &GeoAnomalyRule{
		Meta: Meta{
			RuleID:      "geo_anomaly",
			RuleName:    "Geographic Anomaly",
			Description: "Detects logins from blocked countries, countries outside the allow-list, or countries the user has never logged in from",
			Version:     "1.2.0",
			RuleStatus:  statusFor(cfg.Enabled),
			RuleFamily:  FamilyGeo,
			Severity:    core.SeverityMedium,
			Alert:       core.AlertSuspiciousLogin,
			RuleTags:    []string{"authentication", "geolocation"},
		},
		cfg:     cfg,
		blocked: countrySet(cfg.BlockedCountries),
		allowed: countrySet(cfg.AllowedCountries),
	}
}

// Validate checks the configuration for internal consistency.
func (r *GeoAnomalyRule) Validate() error {
	if r.cfg.DetectNewCountry && r.cfg.LearningPeriodDays <= 0 {
		return fmt.Errorf("geo_anomaly: learning_period_days must be a positive integer, got %d", r.cfg.LearningPeriodDays)
	}
	for _, c := range append(append([]string{}, r.cfg.BlockedCountries...), r.cfg.AllowedCountries...) {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("geo_anomaly: country lists must not contain empty entries")
		}
	}
	return nil
}

// Evaluate runs the priority-ordered checks: block-list, allow-list, then
// new-country detection. The first matching check wins; later checks are
// skipped.
func (r *GeoAnomalyRule) Evaluate(ec *core.EventContext) core.RuleResult {
	if ec.Event.Type != core.EventLoginSuccess {
		return core.NoMatch()
	}
	country, ok := ec.Event.Meta(core.MetaCountry)
	if !ok {
		return core.NoMatch()
	}
	country = normalizeCountry(country)

	if _, blocked := r.blocked[country]; blocked {
		return core.Match(core.SeverityCritical, 100,
			fmt.Sprintf("Login from blocked country %s", country)).
			WithEvidence("country", country).
			WithEvidence("blocked_countries", r.cfg.BlockedCountries).
			WithActions(core.ActionBlockIP, core.ActionInvalidateSessions)
	}

	if len(r.allowed) > 0 {
		if _, allowed := r.allowed[country]; !allowed {
			return core.Match(core.SeverityHigh, 85,
				fmt.Sprintf("Login from country %s outside the allow-list", country)).
				WithEvidence("country", country).
				WithEvidence("allowed_countries", r.cfg.AllowedCountries).
				WithActions(core.ActionRequire2FA, core.ActionIncreaseMonitoring)
		}
	}

	if r.cfg.DetectNewCountry && ec.Event.UserID != "" {
		return r.evaluateNewCountry(ec, country)
	}
	return core.NoMatch()
}

// evaluateNewCountry compares the login country against the countries seen
// in the actor's history within the learning window. No history at all is
// insufficient data, never an anomaly.
func (r *GeoAnomalyRule) evaluateNewCountry(ec *core.EventContext, country string) core.RuleResult {
	if !ec.HasHistory() {
		return core.NoMatch()
	}

	cutoff := ec.Event.Timestamp.Add(-time.Duration(r.cfg.LearningPeriodDays) * 24 * time.Hour)
	recent := ec.RecentEventsSince(cutoff)

	if len(recent) == 0 {
		// History exists, but none of it inside the window: the actor
		// returned after a long gap.
		return core.Match(core.SeverityMedium, 65,
			fmt.Sprintf("First login after at least %d days of inactivity", r.cfg.LearningPeriodDays)).
			WithEvidence("country", country).
			WithEvidence("learning_period_days", r.cfg.LearningPeriodDays).
			WithActions(core.ActionRequire2FA, core.ActionIncreaseMonitoring)
	}

	known := make(map[string]struct{})
	for i := range recent {
		if c, ok := recent[i].Meta(core.MetaCountry); ok {
			known[normalizeCountry(c)] = struct{}{}
		}
	}
	if len(known) == 0 {
		// Events inside the window but none carry country metadata:
		// undecidable, not evidence of anomaly.
		return core.NoMatch()
	}
	if _, seen := known[country]; seen {
		return core.NoMatch()
	}

	return core.Match(core.SeverityMedium, 65,
		fmt.Sprintf("First login from new country %s", country)).
		WithEvidence("country", country).
		WithEvidence("known_countries", sortedKeys(known)).
		WithEvidence("learning_period_days", r.cfg.LearningPeriodDays).
		WithActions(core.ActionRequire2FA, core.ActionIncreaseMonitoring)
}

func countrySet(countries []string) map[string]struct{} {
	set := make(map[string]struct{}, len(countries))
	for _, c := range countries {
		set[normalizeCountry(c)] = struct{}{}
	}
	return set
}

func normalizeCountry(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
