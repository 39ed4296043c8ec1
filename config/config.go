// Package config loads and validates the service configuration. Settings are
// read into one immutable snapshot; reloads build a fresh snapshot and swap
// it atomically, never mutating a live one.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"vigil/correlation"
	"vigil/rules"
)

// Config is one immutable configuration snapshot.
type Config struct {
	Logging struct {
		Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	} `mapstructure:"logging"`

	Engine rules.EngineConfig `mapstructure:"engine"`

	Rules rules.Config `mapstructure:"rules"`

	Correlation correlation.Settings `mapstructure:"correlation"`

	Dedup struct {
		Enabled   bool          `mapstructure:"enabled"`
		Window    time.Duration `mapstructure:"window" validate:"gt=0"`
		CacheSize int           `mapstructure:"cache_size" validate:"gte=0"`
		// Fields folded into the alert fingerprint; empty means the
		// default set.
		FingerprintFields []string `mapstructure:"fingerprint_fields"`
	} `mapstructure:"dedup"`

	Storage struct {
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"storage"`

	Notify struct {
		Enabled     bool          `mapstructure:"enabled"`
		WebhookURL  string        `mapstructure:"webhook_url"`
		Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
		MaxRetries  int           `mapstructure:"max_retries" validate:"gte=0"`
		MinSeverity string        `mapstructure:"min_severity" validate:"oneof=low medium high critical"`
	} `mapstructure:"notify"`
}

// setDefaults registers every tunable's default value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")

	v.SetDefault("engine.max_execution_time", 500*time.Millisecond)
	v.SetDefault("engine.parallel_execution", true)

	defaults := rules.DefaultConfig()
	v.SetDefault("rules.geo_anomaly.enabled", defaults.GeoAnomaly.Enabled)
	v.SetDefault("rules.geo_anomaly.blocked_countries", []string{})
	v.SetDefault("rules.geo_anomaly.allowed_countries", []string{})
	v.SetDefault("rules.geo_anomaly.detect_new_country", defaults.GeoAnomaly.DetectNewCountry)
	v.SetDefault("rules.geo_anomaly.learning_period_days", defaults.GeoAnomaly.LearningPeriodDays)
	v.SetDefault("rules.brute_force.enabled", defaults.BruteForce.Enabled)
	v.SetDefault("rules.brute_force.window", defaults.BruteForce.Window)
	v.SetDefault("rules.brute_force.low_threshold", defaults.BruteForce.LowThreshold)
	v.SetDefault("rules.brute_force.medium_threshold", defaults.BruteForce.MediumThreshold)
	v.SetDefault("rules.brute_force.high_threshold", defaults.BruteForce.HighThreshold)
	v.SetDefault("rules.brute_force.critical_threshold", defaults.BruteForce.CriticalThreshold)
	v.SetDefault("rules.ip_hopping.enabled", defaults.IPHopping.Enabled)
	v.SetDefault("rules.ip_hopping.window", defaults.IPHopping.Window)
	v.SetDefault("rules.ip_hopping.max_distinct_ips", defaults.IPHopping.MaxDistinctIPs)
	v.SetDefault("rules.credential_stuffing.enabled", defaults.CredentialStuffing.Enabled)
	v.SetDefault("rules.credential_stuffing.window", defaults.CredentialStuffing.Window)
	v.SetDefault("rules.credential_stuffing.distinct_user_threshold", defaults.CredentialStuffing.DistinctUserThreshold)
	v.SetDefault("rules.account_enumeration.enabled", defaults.AccountEnum.Enabled)
	v.SetDefault("rules.account_enumeration.window", defaults.AccountEnum.Window)
	v.SetDefault("rules.account_enumeration.unknown_user_threshold", defaults.AccountEnum.UnknownUserThreshold)
	v.SetDefault("rules.session_hijacking.enabled", defaults.SessionHijack.Enabled)
	v.SetDefault("rules.session_hijacking.window", defaults.SessionHijack.Window)
	v.SetDefault("rules.session_hijacking.detect_user_agent_change", defaults.SessionHijack.DetectUserAgentChange)

	corr := correlation.DefaultSettings()
	v.SetDefault("correlation.window", corr.Window)
	v.SetDefault("correlation.rapid_fire_window", corr.RapidFireWindow)
	v.SetDefault("correlation.auto_escalate", corr.AutoEscalate)
	v.SetDefault("correlation.escalate_critical_count", corr.EscalateCriticalCount)
	v.SetDefault("correlation.escalate_high_count", corr.EscalateHighCount)
	v.SetDefault("correlation.escalate_total_count", corr.EscalateTotalCount)

	v.SetDefault("dedup.enabled", true)
	v.SetDefault("dedup.window", time.Hour)
	v.SetDefault("dedup.cache_size", 10000)
	v.SetDefault("dedup.fingerprint_fields", []string{})

	v.SetDefault("storage.sqlite_path", "./data/vigil.db")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.max_retries", 3)
	v.SetDefault("notify.min_severity", "high")
}

// Load reads configuration from the optional config file, environment
// variables with the VIGIL_ prefix, and defaults, in ascending precedence of
// defaults < file < environment. path may be empty to use the search paths.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)
	v.SetEnvPrefix("VIGIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		// No config file found: defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags plus the cross-field constraints the tags
// cannot express. Rule-specific consistency lives in each rule's Validate.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.Notify.Enabled && cfg.Notify.WebhookURL == "" {
		return fmt.Errorf("config validation failed: notify.webhook_url is required when notify is enabled")
	}
	return nil
}
