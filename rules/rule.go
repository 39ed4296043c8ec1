// Package rules implements the detection rules and the engine that runs
// them. Each rule encapsulates one detection pattern over authentication
// events; rules are stateless, side-effect free, and never fail evaluation
// for missing optional context.
package rules

import (
	"vigil/core"
)

// Status is the lifecycle status of a rule. Only active rules are evaluated.
type Status string

const (
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusDeprecated Status = "deprecated"
)

// Rule is one detection pattern. Implementations own only their
// configuration; all state needed for a decision is in the supplied context.
//
// Evaluate must return a non-match (never an error, never a panic) for event
// types the rule does not apply to and for events missing required optional
// fields: absence of signal is not an error.
type Rule interface {
	ID() string
	Name() string
	Describe() string
	Status() Status
	Family() string
	BaseSeverity() core.Severity
	AlertType() core.AlertType
	Tags() []string

	Evaluate(ec *core.EventContext) core.RuleResult
	// Validate checks the rule's own configuration for internal
	// consistency. It is called once at load time, not per event.
	Validate() error
}

// Meta carries the descriptive fields shared by every rule. Embedded by
// value so constructed rules stay immutable.
type Meta struct {
	RuleID       string
	RuleName     string
	Description  string
	Version      string
	RuleStatus   Status
	RuleFamily   string
	Severity     core.Severity
	Alert        core.AlertType
	RuleTags     []string
}

func (m Meta) ID() string                  { return m.RuleID }
func (m Meta) Name() string                { return m.RuleName }
func (m Meta) Describe() string            { return m.Description }
func (m Meta) Status() Status              { return m.RuleStatus }
func (m Meta) Family() string              { return m.RuleFamily }
func (m Meta) BaseSeverity() core.Severity { return m.Severity }
func (m Meta) AlertType() core.AlertType   { return m.Alert }
func (m Meta) Tags() []string              { return m.RuleTags }

// Rule family tags used in Meta.RuleFamily.
const (
	FamilyGeo       = "geo"
	FamilyFrequency = "frequency"
	FamilySession   = "session"
)

func statusFor(enabled bool) Status {
	if enabled {
		return StatusActive
	}
	return StatusInactive
}
