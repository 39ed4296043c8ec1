package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// defaultFingerprintFields are the alert fields folded into a fingerprint
// when none are configured.
var defaultFingerprintFields = []string{"type", "rule_id", "user_id", "ip_address"}

// FingerprintConfig defines how alert fingerprints are generated.
type FingerprintConfig struct {
	Enabled bool
	// Fields is the ordered list of alert fields included in the
	// fingerprint. Empty means the default set.
	Fields []string
}

// Fingerprinter derives deduplication keys for alerts.
type Fingerprinter struct {
	fields []string
}

// NewFingerprinter creates a Fingerprinter using the configured fields.
func NewFingerprinter(cfg FingerprintConfig) *Fingerprinter {
	fields := cfg.Fields
	if len(fields) == 0 {
		fields = defaultFingerprintFields
	}
	return &Fingerprinter{fields: fields}
}

// Fingerprint computes the dedup key for an alert. Two alerts that agree on
// every configured field produce the same key.
func (f *Fingerprinter) Fingerprint(alert *Alert) string {
	parts := make([]string, 0, len(f.fields))
	for _, field := range f.fields {
		if v := alertField(alert, field); v != "" {
			parts = append(parts, field+"="+v)
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func alertField(alert *Alert, field string) string {
	switch field {
	case "type":
		return string(alert.Type)
	case "rule_id":
		return alert.RuleID
	case "severity":
		return string(alert.Severity)
	case "event_type":
		return string(alert.EventType)
	case "user_id":
		return alert.UserID
	case "user_email":
		return alert.UserEmail
	case "ip_address":
		return alert.IPAddress
	case "session_id":
		return alert.SessionID
	default:
		return ""
	}
}
