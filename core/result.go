package core

// RuleResult is the outcome of evaluating one detection rule against one
// event context. A non-match carries no other fields; rules signal missing
// or insufficient input as a non-match, never as an error.
type RuleResult struct {
	Matched  bool           `json:"matched"`
	Severity Severity       `json:"severity,omitempty"`
	Score    int            `json:"score,omitempty"` // 0-100, rule-defined scale
	Reason   string         `json:"reason,omitempty"`
	Evidence map[string]any `json:"evidence,omitempty"`
	Actions  []Action       `json:"actions,omitempty"`
}

// NoMatch is the canonical non-matching result.
func NoMatch() RuleResult {
	return RuleResult{}
}

// Match builds a matching result with the given severity, score and reason.
func Match(severity Severity, score int, reason string) RuleResult {
	return RuleResult{
		Matched:  true,
		Severity: severity,
		Score:    score,
		Reason:   reason,
		Evidence: make(map[string]any),
	}
}

// WithEvidence attaches an evidence fact and returns the result for chaining.
func (r RuleResult) WithEvidence(key string, value any) RuleResult {
	if r.Evidence == nil {
		r.Evidence = make(map[string]any)
	}
	r.Evidence[key] = value
	return r
}

// WithActions sets the suggested response actions.
func (r RuleResult) WithActions(actions ...Action) RuleResult {
	r.Actions = actions
	return r
}
