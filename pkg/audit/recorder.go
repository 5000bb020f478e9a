// Package audit records every terminal policy decision and every scored
// finding. Recorders are called synchronously: a decision is durable before
// the evaluation that produced it returns.
package audit

import (
	"context"
	"errors"
	"sync"

	"github.com/exploopio/scopeguard/pkg/model"
)

// Recorder persists decisions and findings.
// Implementations must serialize their own writes.
type Recorder interface {
	RecordDecision(ctx context.Context, d *model.PolicyDecision) error
	RecordFinding(ctx context.Context, f *model.Finding) error
}

// Multi fans a record out to several recorders in order. Every recorder is
// attempted; the joined errors are returned.
type Multi []Recorder

func (m Multi) RecordDecision(ctx context.Context, d *model.PolicyDecision) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.RecordDecision(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) RecordFinding(ctx context.Context, f *model.Finding) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.RecordFinding(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps records in memory, in arrival order.
type Memory struct {
	mu        sync.Mutex
	decisions []model.PolicyDecision
	findings  []model.Finding
}

// NewMemory creates an empty in-memory recorder.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) RecordDecision(_ context.Context, d *model.PolicyDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, *d)
	return nil
}

func (m *Memory) RecordFinding(_ context.Context, f *model.Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findings = append(m.findings, *f)
	return nil
}

// Decisions returns a copy of the recorded decisions.
func (m *Memory) Decisions() []model.PolicyDecision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.PolicyDecision(nil), m.decisions...)
}

// Findings returns a copy of the recorded findings.
func (m *Memory) Findings() []model.Finding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Finding(nil), m.findings...)
}

var (
	_ Recorder = Multi(nil)
	_ Recorder = (*Memory)(nil)
)
