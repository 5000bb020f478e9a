// Package model holds the decision and finding records produced by the policy
// engine and the triage scorer and persisted through an audit recorder.
package model

import "time"

// DecisionValue is the closed set of policy outcomes.
type DecisionValue string

const (
	DecisionAllowed            DecisionValue = "ALLOWED"
	DecisionBlocked            DecisionValue = "BLOCKED"
	DecisionUnknown            DecisionValue = "UNKNOWN"
	DecisionRequiresValidation DecisionValue = "REQUIRES_VALIDATION"
	DecisionAllowedOverride    DecisionValue = "ALLOWED_OVERRIDE"
)

// IsTerminal reports whether the value may be persisted as a final decision.
// REQUIRES_VALIDATION only marks a pair handed to arbitration.
func (d DecisionValue) IsTerminal() bool {
	switch d {
	case DecisionAllowed, DecisionBlocked, DecisionUnknown, DecisionAllowedOverride:
		return true
	default:
		return false
	}
}

// Permits reports whether the action may proceed.
func (d DecisionValue) Permits() bool {
	return d == DecisionAllowed || d == DecisionAllowedOverride
}

// Stage names the gate that produced a decision.
type Stage string

const (
	StageBlocklist   Stage = "blocklist"
	StageScope       Stage = "scope"
	StageArbitration Stage = "arbitration"
	StageOverride    Stage = "override"
)

// PolicyDecision is the single terminal decision for one (target, action) evaluation.
type PolicyDecision struct {
	RunID  string        `json:"run_id,omitempty"`
	Target string        `json:"target"`
	Action string        `json:"action"`
	Value  DecisionValue `json:"decision"`
	Stage  Stage         `json:"stage"`
	Reason string        `json:"reason"`

	// MatchedPattern is the scope or blocklist pattern behind the decision, if any.
	MatchedPattern string `json:"matched_pattern,omitempty"`

	// Confidence is set only when an external arbiter contributed.
	Confidence *float64 `json:"confidence,omitempty"`

	Override      bool   `json:"override,omitempty"`
	Justification string `json:"justification,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Allowed reports whether the action may proceed.
func (d *PolicyDecision) Allowed() bool {
	return d != nil && d.Value.Permits()
}
