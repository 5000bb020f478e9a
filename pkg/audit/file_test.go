package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/model"
)

func newTestRecorder(t *testing.T) (*FileRecorder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")
	r, err := NewFileRecorder(&FileConfig{Path: path, RunID: "run-1", NoSync: true})
	if err != nil {
		t.Fatalf("NewFileRecorder failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, path
}

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %q is not JSON: %v", scanner.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestDefaultFileConfig(t *testing.T) {
	cfg := DefaultFileConfig()
	if cfg.Path != "scopeguard-audit.jsonl" {
		t.Errorf("Path = %q", cfg.Path)
	}
	if cfg.Console != os.Stdout {
		t.Error("Console should default to stdout")
	}
}

func TestFileRecorder_RecordDecision(t *testing.T) {
	r, path := newTestRecorder(t)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	d := &model.PolicyDecision{
		Target:    "evil.com",
		Action:    "http-check",
		Value:     model.DecisionUnknown,
		Stage:     model.StageArbitration,
		Reason:    "arbitration timed out",
		Timestamp: ts,
	}
	if err := r.RecordDecision(context.Background(), d); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}

	events := readEvents(t, path)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	e := events[0]
	if e.Type != EventDecision || e.RunID != "run-1" {
		t.Errorf("event = %+v", e)
	}
	if e.Decision == nil || e.Decision.Value != model.DecisionUnknown || e.Decision.Reason != d.Reason {
		t.Errorf("decision payload = %+v", e.Decision)
	}
	if !e.Decision.Timestamp.Equal(ts) {
		t.Errorf("decision timestamp = %v", e.Decision.Timestamp)
	}
}

func TestFileRecorder_RecordFinding(t *testing.T) {
	r, path := newTestRecorder(t)

	f := &model.Finding{
		RunID:      "run-2",
		Target:     "example.com",
		Name:       "Reflected XSS",
		MLScore:    0.8,
		LLMScore:   model.Float(0.2),
		FinalScore: 0.552,
	}
	if err := r.RecordFinding(context.Background(), f); err != nil {
		t.Fatalf("RecordFinding: %v", err)
	}

	events := readEvents(t, path)
	if len(events) != 1 || events[0].Type != EventFinding {
		t.Fatalf("events = %+v", events)
	}
	if events[0].RunID != "run-2" {
		t.Errorf("finding run id should win over default, got %q", events[0].RunID)
	}
	if got := events[0].Finding; got == nil || *got.LLMScore != 0.2 {
		t.Errorf("finding payload = %+v", got)
	}
}

func TestFileRecorder_RunEvents(t *testing.T) {
	r, path := newTestRecorder(t)

	if err := r.RunStarted("run-9", "policy"); err != nil {
		t.Fatal(err)
	}
	if err := r.RunFinished("run-9", "completed", map[string]any{"decisions": 3}); err != nil {
		t.Fatal(err)
	}

	events := readEvents(t, path)
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}
	if events[0].Type != EventRunStarted || events[1].Type != EventRunFinished {
		t.Errorf("types = %s, %s", events[0].Type, events[1].Type)
	}
	if events[1].Details["status"] != "completed" {
		t.Errorf("details = %v", events[1].Details)
	}
}

func TestFileRecorder_ConcurrentWritesDoNotInterleave(t *testing.T) {
	r, path := newTestRecorder(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.RecordDecision(context.Background(), &model.PolicyDecision{
				Target: fmt.Sprintf("host-%d.example.com", i),
				Action: "http-check",
				Value:  model.DecisionAllowed,
				Reason: strings.Repeat("x", 512),
			})
		}(i)
	}
	wg.Wait()

	if got := len(readEvents(t, path)); got != n {
		t.Errorf("events = %d, want %d", got, n)
	}
}

func TestFileRecorder_Verbose(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	r, err := NewFileRecorder(&FileConfig{Path: path, Verbose: true, Console: &console})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	_ = r.RecordDecision(context.Background(), &model.PolicyDecision{
		Target: "a.example.com", Action: "rce-x", Value: model.DecisionBlocked, Reason: "blocked",
	})
	if !strings.Contains(console.String(), "policy_decision: BLOCKED rce-x on a.example.com") {
		t.Errorf("console = %q", console.String())
	}
}

func TestFileRecorder_Closed(t *testing.T) {
	r, _ := newTestRecorder(t)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close should be a no-op: %v", err)
	}
	err := r.Log(Event{Type: EventDecision})
	if sgerrors.GetKind(err) != sgerrors.KindStorage {
		t.Errorf("write after close should be a storage error, got %v", err)
	}
}

type failingRecorder struct{ err error }

func (f failingRecorder) RecordDecision(context.Context, *model.PolicyDecision) error { return f.err }
func (f failingRecorder) RecordFinding(context.Context, *model.Finding) error         { return f.err }

func TestMulti(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	boom := errors.New("disk full")
	m := Multi{a, failingRecorder{err: boom}, nil, b}

	err := m.RecordDecision(context.Background(), &model.PolicyDecision{Target: "x", Value: model.DecisionBlocked})
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error, got %v", err)
	}
	if len(a.Decisions()) != 1 || len(b.Decisions()) != 1 {
		t.Error("every recorder should receive the decision")
	}

	if err := (Multi{a, b}).RecordFinding(context.Background(), &model.Finding{Name: "f"}); err != nil {
		t.Errorf("RecordFinding: %v", err)
	}
	if len(a.Findings()) != 1 || len(b.Findings()) != 1 {
		t.Error("every recorder should receive the finding")
	}
}

func TestMemory_CopiesRecords(t *testing.T) {
	m := NewMemory()
	d := &model.PolicyDecision{Target: "a", Value: model.DecisionAllowed}
	_ = m.RecordDecision(context.Background(), d)
	d.Value = model.DecisionBlocked

	if got := m.Decisions()[0].Value; got != model.DecisionAllowed {
		t.Errorf("stored decision mutated through caller pointer: %s", got)
	}
}
