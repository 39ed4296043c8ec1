package correlation

import (
	"sort"
	"time"

	"vigil/core"
)

// Pattern is a named, rule-independent classification computed over a
// correlation group rather than over a single alert.
type Pattern string

const (
	PatternBruteForceAttack   Pattern = "brute_force_attack"
	PatternDistributedAttack  Pattern = "distributed_attack"
	PatternRapidFireAttack    Pattern = "rapid_fire_attack"
	PatternAccountTakeover    Pattern = "account_takeover_attempt"
	PatternCredentialStuffing Pattern = "credential_stuffing"
)

// dangerousPatterns escalate a group on their own, independent of counts.
var dangerousPatterns = map[Pattern]struct{}{
	PatternAccountTakeover:    {},
	PatternCredentialStuffing: {},
	PatternBruteForceAttack:   {},
}

// IsDangerous reports whether the pattern alone warrants escalation.
func (p Pattern) IsDangerous() bool {
	_, ok := dangerousPatterns[p]
	return ok
}

// DetectPatterns classifies a group of alerts into attack patterns. Each
// pattern is checked independently; a group may match zero, one, or several.
// rapidFireWindow is the seconds-scale sub-window for rapid_fire_attack,
// independent of the outer correlation window.
func DetectPatterns(group []*core.Alert, rapidFireWindow time.Duration) []Pattern {
	var patterns []Pattern
	if hasBruteForceActivity(group) {
		patterns = append(patterns, PatternBruteForceAttack)
	}
	if hasDistributedAttack(group) {
		patterns = append(patterns, PatternDistributedAttack)
	}
	if hasRapidFire(group, rapidFireWindow) {
		patterns = append(patterns, PatternRapidFireAttack)
	}
	if hasAccountTakeover(group) {
		patterns = append(patterns, PatternAccountTakeover)
	}
	if hasCredentialStuffing(group) {
		patterns = append(patterns, PatternCredentialStuffing)
	}
	return patterns
}

// hasBruteForceActivity: at least 2 failed-attempt or brute-force typed
// alerts in the group.
func hasBruteForceActivity(group []*core.Alert) bool {
	count := 0
	for _, a := range group {
		if isFailedAttemptType(a.Type) {
			count++
			if count >= 2 {
				return true
			}
		}
	}
	return false
}

// hasDistributedAttack: some user targeted from 3 or more distinct IPs.
func hasDistributedAttack(group []*core.Alert) bool {
	ipsByUser := make(map[string]map[string]struct{})
	for _, a := range group {
		if a.UserID == "" || a.IPAddress == "" {
			continue
		}
		if ipsByUser[a.UserID] == nil {
			ipsByUser[a.UserID] = make(map[string]struct{})
		}
		ipsByUser[a.UserID][a.IPAddress] = struct{}{}
		if len(ipsByUser[a.UserID]) >= 3 {
			return true
		}
	}
	return false
}

// hasRapidFire: 3 or more alerts created within one rapid-fire sub-window of
// each other.
func hasRapidFire(group []*core.Alert, window time.Duration) bool {
	if len(group) < 3 {
		return false
	}
	if window <= 0 {
		window = 30 * time.Second
	}
	times := make([]time.Time, len(group))
	for i, a := range group {
		times[i] = a.CreatedAt
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i := 0; i+2 < len(times); i++ {
		if times[i+2].Sub(times[i]) <= window {
			return true
		}
	}
	return false
}

// hasAccountTakeover: multi-signal convergence of a suspicious login, an
// anomaly, and failed-attempt activity in one group.
func hasAccountTakeover(group []*core.Alert) bool {
	var suspicious, anomaly, failed bool
	for _, a := range group {
		switch {
		case a.Type == core.AlertSuspiciousLogin || a.Type == core.AlertSessionHijacking:
			suspicious = true
		case a.Type == core.AlertAnomalyDetected:
			anomaly = true
		}
		if isFailedAttemptType(a.Type) {
			failed = true
		}
	}
	return suspicious && anomaly && failed
}

// hasCredentialStuffing: one IP hitting 5 or more distinct user identities.
func hasCredentialStuffing(group []*core.Alert) bool {
	usersByIP := make(map[string]map[string]struct{})
	for _, a := range group {
		if a.IPAddress == "" {
			continue
		}
		identity := a.UserID
		if identity == "" {
			identity = a.UserEmail
		}
		if identity == "" {
			continue
		}
		if usersByIP[a.IPAddress] == nil {
			usersByIP[a.IPAddress] = make(map[string]struct{})
		}
		usersByIP[a.IPAddress][identity] = struct{}{}
		if len(usersByIP[a.IPAddress]) >= 5 {
			return true
		}
	}
	return false
}

func isFailedAttemptType(t core.AlertType) bool {
	return t == core.AlertMultipleFailedAttempts || t == core.AlertBruteForceAttempt
}
