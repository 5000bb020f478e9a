package model

import "time"

// Purpose names why a language model was consulted.
type Purpose string

const (
	PurposeArbitration Purpose = "arbitration"
	PurposeTriage      Purpose = "triage"
)

// LLMExchange is one prompt/response pair kept for later review when
// response storage is enabled.
type LLMExchange struct {
	RunID     string        `json:"run_id,omitempty"`
	Purpose   Purpose       `json:"purpose"`
	Model     string        `json:"model"`
	Prompt    string        `json:"prompt"`
	Response  string        `json:"response"`
	Latency   time.Duration `json:"latency"`
	CreatedAt time.Time     `json:"created_at"`
}

// Run summarizes one invocation of the engines.
type Run struct {
	ID            string     `json:"id"`
	Mode          string     `json:"mode"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	FindingsCount int        `json:"findings_count"`
	DecisionCount int        `json:"decision_count"`
}

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)
