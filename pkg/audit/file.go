package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/model"
)

// EventType represents the type of audit event.
type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventRunFinished EventType = "run_finished"
	EventDecision    EventType = "policy_decision"
	EventFinding     EventType = "finding"
)

// Event is one line of the audit log.
type Event struct {
	Timestamp time.Time             `json:"timestamp"`
	Type      EventType             `json:"type"`
	RunID     string                `json:"run_id,omitempty"`
	Message   string                `json:"message,omitempty"`
	Decision  *model.PolicyDecision `json:"decision,omitempty"`
	Finding   *model.Finding        `json:"finding,omitempty"`
	Details   map[string]any        `json:"details,omitempty"`
}

// FileConfig configures the JSONL recorder.
type FileConfig struct {
	// Path is the audit log file. Default: ./scopeguard-audit.jsonl
	Path string

	// RunID is stamped on events that carry none.
	RunID string

	// Verbose echoes each event to Console in human-readable form.
	Verbose bool
	Console io.Writer

	// NoSync skips fsync after each event.
	NoSync bool
}

// DefaultFileConfig returns the default JSONL recorder configuration.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Path:    "scopeguard-audit.jsonl",
		Console: os.Stdout,
	}
}

// FileRecorder appends one JSON object per event to a file. Writes are
// serialized, so log order equals record order and lines never interleave.
type FileRecorder struct {
	config *FileConfig
	file   *os.File
	mu     sync.Mutex
	closed bool
	now    func() time.Time
}

// NewFileRecorder opens (or creates) the audit log for append.
func NewFileRecorder(config *FileConfig) (*FileRecorder, error) {
	if config == nil {
		config = DefaultFileConfig()
	}
	if config.Path == "" {
		config.Path = DefaultFileConfig().Path
	}
	if config.Console == nil {
		config.Console = os.Stdout
	}

	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, sgerrors.E(sgerrors.KindStorage, "audit.NewFileRecorder", "create log directory", err)
		}
	}

	// 0640 = owner read/write, group read
	file, err := os.OpenFile(config.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindStorage, "audit.NewFileRecorder", "open log file", err)
	}

	return &FileRecorder{config: config, file: file, now: time.Now}, nil
}

// RecordDecision appends a policy_decision event.
func (r *FileRecorder) RecordDecision(_ context.Context, d *model.PolicyDecision) error {
	return r.Log(Event{
		Type:     EventDecision,
		RunID:    d.RunID,
		Message:  fmt.Sprintf("%s %s on %s: %s", d.Value, d.Action, d.Target, d.Reason),
		Decision: d,
	})
}

// RecordFinding appends a finding event.
func (r *FileRecorder) RecordFinding(_ context.Context, f *model.Finding) error {
	return r.Log(Event{
		Type:    EventFinding,
		RunID:   f.RunID,
		Message: fmt.Sprintf("%s on %s scored %.3f", f.Name, f.Target, f.FinalScore),
		Finding: f,
	})
}

// RunStarted logs the start of a run.
func (r *FileRecorder) RunStarted(runID, mode string) error {
	return r.Log(Event{
		Type:    EventRunStarted,
		RunID:   runID,
		Message: "Run started: " + mode,
		Details: map[string]any{"mode": mode},
	})
}

// RunFinished logs the end of a run.
func (r *FileRecorder) RunFinished(runID, status string, details map[string]any) error {
	if details == nil {
		details = make(map[string]any)
	}
	details["status"] = status
	return r.Log(Event{
		Type:    EventRunFinished,
		RunID:   runID,
		Message: "Run finished: " + status,
		Details: details,
	})
}

// Log writes one event synchronously.
func (r *FileRecorder) Log(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	if event.RunID == "" {
		event.RunID = r.config.RunID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return sgerrors.E(sgerrors.KindInternal, "audit.Log", "marshal event", err)
	}
	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return sgerrors.E(sgerrors.KindStorage, "audit.Log", "recorder closed")
	}
	if _, err := r.file.Write(data); err != nil {
		return sgerrors.E(sgerrors.KindStorage, "audit.Log", "write event", err)
	}
	if !r.config.NoSync {
		if err := r.file.Sync(); err != nil {
			return sgerrors.E(sgerrors.KindStorage, "audit.Log", "sync log file", err)
		}
	}

	if r.config.Verbose {
		r.printEvent(event)
	}
	return nil
}

// Close closes the log file. Further writes fail.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// Path returns the log file path.
func (r *FileRecorder) Path() string {
	return r.config.Path
}

// printEvent prints an event in human-readable form.
func (r *FileRecorder) printEvent(event Event) {
	timestamp := event.Timestamp.Format("2006-01-02 15:04:05")
	fmt.Fprintf(r.config.Console, "[%s] %s: %s\n", timestamp, event.Type, event.Message)
}

var _ Recorder = (*FileRecorder)(nil)
