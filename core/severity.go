package core

// Severity represents the severity level of a rule result or alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for comparison and filtering.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric rank of the severity (low=1 .. critical=4).
// Unknown severities rank as 0.
func (s Severity) Rank() int {
	return severityRank[s]
}

// IsValid reports whether s is one of the defined severity levels.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is at least as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// Action is a suggested response token attached to a rule result.
// Consumers (response policy, SOAR hooks) interpret the tokens.
type Action string

const (
	ActionBlockIP            Action = "BLOCK_IP"
	ActionRequire2FA         Action = "REQUIRE_2FA"
	ActionInvalidateSessions Action = "INVALIDATE_SESSIONS"
	ActionIncreaseMonitoring Action = "INCREASE_MONITORING"
	ActionLockAccount        Action = "LOCK_ACCOUNT"
	ActionNotifyUser         Action = "NOTIFY_USER"
	ActionRateLimitIP        Action = "RATE_LIMIT_IP"
)
