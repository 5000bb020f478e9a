package model

import (
	"time"

	"github.com/exploopio/scopeguard/pkg/shared/severity"
)

// Finding is a scored scanner result. FinalScore, IsFalsePositive and Fallback
// are always produced by triage.Fuse from the score fields and never set directly.
type Finding struct {
	RunID       string         `json:"run_id,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Target      string         `json:"target"`
	Name        string         `json:"name"`
	TemplateID  string         `json:"template_id,omitempty"`
	Severity    severity.Level `json:"severity"`
	Evidence    string         `json:"evidence"`

	MLScore       float64  `json:"ml_score"`
	LLMScore      *float64 `json:"llm_score,omitempty"`
	LLMConfidence *float64 `json:"llm_confidence,omitempty"`

	FinalScore      float64 `json:"final_score"`
	IsFalsePositive bool    `json:"is_false_positive"`

	// Fallback marks findings scored without a trusted LLM assessment.
	Fallback bool `json:"fallback"`

	Explanation      string         `json:"explanation,omitempty"`
	AdjustedSeverity severity.Level `json:"adjusted_severity,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Float returns a pointer to v, for the optional score fields.
func Float(v float64) *float64 {
	return &v
}
