// Package mocks provides mock implementations for testing.
// Each mock calls its function field when set and records every call.
// Mocks are safe for concurrent use.
package mocks

import (
	"context"
	"sync"

	"github.com/exploopio/scopeguard/pkg/audit"
	"github.com/exploopio/scopeguard/pkg/llm"
	"github.com/exploopio/scopeguard/pkg/model"
	"github.com/exploopio/scopeguard/pkg/policy"
	"github.com/exploopio/scopeguard/pkg/triage"
)

// =============================================================================
// Mock Arbiter
// =============================================================================

// MockArbiter is a mock implementation of policy.Arbiter for testing.
type MockArbiter struct {
	// ArbitrateFn is called when Arbitrate is invoked
	ArbitrateFn func(ctx context.Context, req policy.ArbitrationRequest) (*policy.ArbitrationResponse, error)

	mu    sync.Mutex
	calls []policy.ArbitrationRequest
}

func (m *MockArbiter) Arbitrate(ctx context.Context, req policy.ArbitrationRequest) (*policy.ArbitrationResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.ArbitrateFn != nil {
		return m.ArbitrateFn(ctx, req)
	}
	conf := 1.0
	return &policy.ArbitrationResponse{Decision: policy.VerdictBlock, Confidence: &conf, Reasoning: "mock"}, nil
}

// Calls returns the recorded requests.
func (m *MockArbiter) Calls() []policy.ArbitrationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]policy.ArbitrationRequest(nil), m.calls...)
}

// Respond returns an ArbitrateFn that always answers with the given verdict.
func Respond(verdict policy.Verdict, confidence float64, reasoning string) func(context.Context, policy.ArbitrationRequest) (*policy.ArbitrationResponse, error) {
	return func(context.Context, policy.ArbitrationRequest) (*policy.ArbitrationResponse, error) {
		c := confidence
		return &policy.ArbitrationResponse{Decision: verdict, Confidence: &c, Reasoning: reasoning}, nil
	}
}

// =============================================================================
// Mock Prompter
// =============================================================================

// MockPrompter is a mock implementation of policy.Prompter for testing.
type MockPrompter struct {
	// PromptFn is called when Prompt is invoked
	PromptFn func(ctx context.Context, req policy.OverrideRequest) (policy.OverrideResponse, error)

	mu    sync.Mutex
	calls []policy.OverrideRequest
}

func (m *MockPrompter) Prompt(ctx context.Context, req policy.OverrideRequest) (policy.OverrideResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.PromptFn != nil {
		return m.PromptFn(ctx, req)
	}
	return policy.OverrideResponse{}, nil
}

// Calls returns the recorded requests.
func (m *MockPrompter) Calls() []policy.OverrideRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]policy.OverrideRequest(nil), m.calls...)
}

// =============================================================================
// Mock Classifier
// =============================================================================

// MockClassifier is a mock implementation of triage.Classifier for testing.
type MockClassifier struct {
	// ScoreFn is called when Score is invoked
	ScoreFn func(ctx context.Context, f triage.RawFinding) (float64, error)

	mu    sync.Mutex
	calls int
}

func (m *MockClassifier) Score(ctx context.Context, f triage.RawFinding) (float64, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.ScoreFn != nil {
		return m.ScoreFn(ctx, f)
	}
	return triage.NeutralScore, nil
}

// CallCount returns the number of Score calls.
func (m *MockClassifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// =============================================================================
// Mock Assessor
// =============================================================================

// MockAssessor is a mock implementation of triage.Assessor for testing.
type MockAssessor struct {
	// AssessFn is called when Assess is invoked
	AssessFn func(ctx context.Context, f triage.RawFinding) (*triage.Assessment, error)

	mu    sync.Mutex
	calls []triage.RawFinding
}

func (m *MockAssessor) Assess(ctx context.Context, f triage.RawFinding) (*triage.Assessment, error) {
	m.mu.Lock()
	m.calls = append(m.calls, f)
	m.mu.Unlock()

	if m.AssessFn != nil {
		return m.AssessFn(ctx, f)
	}
	return nil, nil
}

// Calls returns the recorded findings.
func (m *MockAssessor) Calls() []triage.RawFinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]triage.RawFinding(nil), m.calls...)
}

// =============================================================================
// Mock Recorder
// =============================================================================

// MockRecorder is a mock implementation of audit.Recorder for testing.
type MockRecorder struct {
	// RecordDecisionFn is called when RecordDecision is invoked
	RecordDecisionFn func(ctx context.Context, d *model.PolicyDecision) error

	// RecordFindingFn is called when RecordFinding is invoked
	RecordFindingFn func(ctx context.Context, f *model.Finding) error

	mu        sync.Mutex
	decisions []model.PolicyDecision
	findings  []model.Finding
}

func (m *MockRecorder) RecordDecision(ctx context.Context, d *model.PolicyDecision) error {
	m.mu.Lock()
	m.decisions = append(m.decisions, *d)
	m.mu.Unlock()

	if m.RecordDecisionFn != nil {
		return m.RecordDecisionFn(ctx, d)
	}
	return nil
}

func (m *MockRecorder) RecordFinding(ctx context.Context, f *model.Finding) error {
	m.mu.Lock()
	m.findings = append(m.findings, *f)
	m.mu.Unlock()

	if m.RecordFindingFn != nil {
		return m.RecordFindingFn(ctx, f)
	}
	return nil
}

// Decisions returns the decisions passed to RecordDecision.
func (m *MockRecorder) Decisions() []model.PolicyDecision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.PolicyDecision(nil), m.decisions...)
}

// Findings returns the findings passed to RecordFinding.
func (m *MockRecorder) Findings() []model.Finding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Finding(nil), m.findings...)
}

// =============================================================================
// Mock Response Sink
// =============================================================================

// MockResponseSink is a mock implementation of llm.ResponseSink for testing.
type MockResponseSink struct {
	// RecordFn is called when RecordLLMResponse is invoked
	RecordFn func(ctx context.Context, x *model.LLMExchange) error

	mu        sync.Mutex
	exchanges []model.LLMExchange
}

func (m *MockResponseSink) RecordLLMResponse(ctx context.Context, x *model.LLMExchange) error {
	m.mu.Lock()
	m.exchanges = append(m.exchanges, *x)
	m.mu.Unlock()

	if m.RecordFn != nil {
		return m.RecordFn(ctx, x)
	}
	return nil
}

// Exchanges returns the recorded exchanges.
func (m *MockResponseSink) Exchanges() []model.LLMExchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.LLMExchange(nil), m.exchanges...)
}

var (
	_ policy.Arbiter    = (*MockArbiter)(nil)
	_ policy.Prompter   = (*MockPrompter)(nil)
	_ triage.Classifier = (*MockClassifier)(nil)
	_ triage.Assessor   = (*MockAssessor)(nil)
	_ audit.Recorder    = (*MockRecorder)(nil)
	_ llm.ResponseSink  = (*MockResponseSink)(nil)
)
