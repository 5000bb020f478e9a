// Package store persists runs, policy decisions, scored findings and LLM
// exchanges in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/exploopio/scopeguard/pkg/compress"
	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/model"
	"github.com/exploopio/scopeguard/pkg/shared/severity"
)

const timeLayout = time.RFC3339Nano

// Config configures the SQLite store.
type Config struct {
	// Path is the database file. Default: ./scopeguard.db
	Path string

	// Codec compresses finding evidence. Default: compress.Default
	Codec *compress.Codec

	// Now is the clock used for run timestamps.
	Now func() time.Time
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() *Config {
	return &Config{
		Path:  "scopeguard.db",
		Codec: compress.Default,
		Now:   time.Now,
	}
}

// SQLiteStore is an audit recorder and LLM response sink backed by SQLite.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	cfg *Config
}

// Open opens (or creates) the database and applies the schema.
func Open(cfg *Config) (*SQLiteStore, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	if cfg.Codec == nil {
		cfg.Codec = compress.Default
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, sgerrors.E(sgerrors.KindStorage, "store.Open", "create storage directory", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindStorage, "store.Open", "open database", err)
	}
	// Single writer; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, sgerrors.E(sgerrors.KindStorage, "store.Open", "set pragma", err)
		}
	}

	s := &SQLiteStore{db: db, cfg: cfg}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, sgerrors.E(sgerrors.KindStorage, "store.Open", "init schema", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		findings_count INTEGER NOT NULL DEFAULT 0,
		decision_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS policy_decisions (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		run_id TEXT,
		target TEXT NOT NULL,
		action TEXT NOT NULL,
		decision TEXT NOT NULL,
		stage TEXT NOT NULL,
		reason TEXT NOT NULL,
		matched_pattern TEXT,
		confidence REAL,
		override INTEGER NOT NULL DEFAULT 0,
		justification TEXT,
		timestamp TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS findings (
		id TEXT PRIMARY KEY,
		run_id TEXT,
		fingerprint TEXT,
		target TEXT NOT NULL,
		name TEXT NOT NULL,
		template_id TEXT,
		severity TEXT NOT NULL,
		adjusted_severity TEXT,
		evidence BLOB,
		evidence_encoding TEXT NOT NULL DEFAULT 'none',
		ml_score REAL NOT NULL,
		llm_score REAL,
		llm_confidence REAL,
		final_score REAL NOT NULL,
		is_false_positive INTEGER NOT NULL,
		fallback INTEGER NOT NULL,
		explanation TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(run_id, fingerprint)
	);

	CREATE TABLE IF NOT EXISTS llm_responses (
		id TEXT PRIMARY KEY,
		run_id TEXT,
		purpose TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		latency_ms INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_run_id ON policy_decisions(run_id, seq);
	CREATE INDEX IF NOT EXISTS idx_findings_run_id ON findings(run_id);
	CREATE INDEX IF NOT EXISTS idx_findings_final_score ON findings(final_score);
	CREATE INDEX IF NOT EXISTS idx_llm_responses_run_id ON llm_responses(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return sgerrors.E(sgerrors.KindStorage, "store.Ping", "ping database", err)
	}
	return nil
}

// StartRun inserts a new running run and returns it.
func (s *SQLiteStore) StartRun(ctx context.Context, runID, mode string) (*model.Run, error) {
	if runID == "" {
		runID = uuid.New().String()
	}
	run := &model.Run{
		ID:        runID,
		Mode:      mode,
		Status:    model.RunStatusRunning,
		StartedAt: s.cfg.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, mode, status, started_at) VALUES (?, ?, ?, ?)
	`, run.ID, run.Mode, run.Status, run.StartedAt.Format(timeLayout))
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindStorage, "store.StartRun", "insert run", err)
	}
	return run, nil
}

// FinishRun closes a run, counting its recorded decisions and findings.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?,
			finished_at = ?,
			findings_count = (SELECT COUNT(*) FROM findings WHERE run_id = runs.id),
			decision_count = (SELECT COUNT(*) FROM policy_decisions WHERE run_id = runs.id)
		WHERE id = ?
	`, status, s.cfg.Now().UTC().Format(timeLayout), runID)
	if err != nil {
		return sgerrors.E(sgerrors.KindStorage, "store.FinishRun", "update run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sgerrors.E(sgerrors.KindInvalidInput, "store.FinishRun", "unknown run "+runID)
	}
	return nil
}

// GetRun returns a run by ID, or nil if it does not exist.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var run model.Run
	var startedAt string
	var finishedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, mode, status, started_at, finished_at, findings_count, decision_count
		FROM runs WHERE id = ?
	`, runID).Scan(&run.ID, &run.Mode, &run.Status, &startedAt, &finishedAt,
		&run.FindingsCount, &run.DecisionCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindStorage, "store.GetRun", "query run", err)
	}

	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

// RecordDecision stores a terminal policy decision.
func (s *SQLiteStore) RecordDecision(ctx context.Context, d *model.PolicyDecision) error {
	if !d.Value.IsTerminal() {
		return sgerrors.E(sgerrors.KindInvalidInput, "store.RecordDecision", "non-terminal decision "+string(d.Value))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_decisions (
			id, seq, run_id, target, action, decision, stage, reason,
			matched_pattern, confidence, override, justification, timestamp
		) VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM policy_decisions), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.New().String(), nullString(d.RunID), d.Target, d.Action, string(d.Value),
		string(d.Stage), d.Reason, nullString(d.MatchedPattern), nullFloat(d.Confidence),
		boolInt(d.Override), nullString(d.Justification), d.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return sgerrors.E(sgerrors.KindStorage, "store.RecordDecision", "insert decision", err)
	}
	return nil
}

// Decisions returns the decisions of a run in record order.
func (s *SQLiteStore) Decisions(ctx context.Context, runID string) ([]model.PolicyDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, target, action, decision, stage, reason, matched_pattern,
			confidence, override, justification, timestamp
		FROM policy_decisions WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindStorage, "store.Decisions", "query decisions", err)
	}
	defer rows.Close()

	var out []model.PolicyDecision
	for rows.Next() {
		var d model.PolicyDecision
		var run, pattern, justification sql.NullString
		var confidence sql.NullFloat64
		var override int
		var value, stage, ts string
		if err := rows.Scan(&run, &d.Target, &d.Action, &value, &stage, &d.Reason,
			&pattern, &confidence, &override, &justification, &ts); err != nil {
			return nil, sgerrors.E(sgerrors.KindStorage, "store.Decisions", "scan decision", err)
		}
		d.RunID = run.String
		d.Value = model.DecisionValue(value)
		d.Stage = model.Stage(stage)
		d.MatchedPattern = pattern.String
		d.Justification = justification.String
		d.Override = override != 0
		d.Timestamp = parseTime(ts)
		if confidence.Valid {
			d.Confidence = model.Float(confidence.Float64)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordFinding stores a scored finding. A finding with the same fingerprint
// in the same run replaces the earlier one.
func (s *SQLiteStore) RecordFinding(ctx context.Context, f *model.Finding) error {
	evidence, encoding, err := s.cfg.Codec.Encode([]byte(f.Evidence))
	if err != nil {
		return sgerrors.E(sgerrors.KindStorage, "store.RecordFinding", "compress evidence", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO findings (
			id, run_id, fingerprint, target, name, template_id, severity, adjusted_severity,
			evidence, evidence_encoding, ml_score, llm_score, llm_confidence, final_score,
			is_false_positive, fallback, explanation, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, fingerprint) DO UPDATE SET
			severity = excluded.severity,
			adjusted_severity = excluded.adjusted_severity,
			evidence = excluded.evidence,
			evidence_encoding = excluded.evidence_encoding,
			ml_score = excluded.ml_score,
			llm_score = excluded.llm_score,
			llm_confidence = excluded.llm_confidence,
			final_score = excluded.final_score,
			is_false_positive = excluded.is_false_positive,
			fallback = excluded.fallback,
			explanation = excluded.explanation,
			created_at = excluded.created_at
	`,
		uuid.New().String(), nullString(f.RunID), nullString(f.Fingerprint), f.Target, f.Name,
		nullString(f.TemplateID), string(f.Severity), nullString(string(f.AdjustedSeverity)),
		evidence, string(encoding), f.MLScore, nullFloat(f.LLMScore), nullFloat(f.LLMConfidence),
		f.FinalScore, boolInt(f.IsFalsePositive), boolInt(f.Fallback),
		nullString(f.Explanation), f.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return sgerrors.E(sgerrors.KindStorage, "store.RecordFinding", "insert finding", err)
	}
	return nil
}

// Findings returns the findings of a run ranked by final score, highest first.
func (s *SQLiteStore) Findings(ctx context.Context, runID string) ([]model.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, fingerprint, target, name, template_id, severity, adjusted_severity,
			evidence, evidence_encoding, ml_score, llm_score, llm_confidence, final_score,
			is_false_positive, fallback, explanation, created_at
		FROM findings WHERE run_id = ? ORDER BY final_score DESC, created_at
	`, runID)
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindStorage, "store.Findings", "query findings", err)
	}
	defer rows.Close()

	var out []model.Finding
	for rows.Next() {
		var f model.Finding
		var run, fp, tpl, adjusted, explanation sql.NullString
		var sev, encoding, createdAt string
		var evidence []byte
		var llmScore, llmConf sql.NullFloat64
		var isFP, fallback int
		if err := rows.Scan(&run, &fp, &f.Target, &f.Name, &tpl, &sev, &adjusted,
			&evidence, &encoding, &f.MLScore, &llmScore, &llmConf, &f.FinalScore,
			&isFP, &fallback, &explanation, &createdAt); err != nil {
			return nil, sgerrors.E(sgerrors.KindStorage, "store.Findings", "scan finding", err)
		}

		raw, err := s.cfg.Codec.Decode(evidence, compress.Algorithm(encoding))
		if err != nil {
			return nil, sgerrors.E(sgerrors.KindStorage, "store.Findings", "decompress evidence", err)
		}

		f.RunID = run.String
		f.Fingerprint = fp.String
		f.TemplateID = tpl.String
		f.Severity = severity.Level(sev)
		f.AdjustedSeverity = severity.Level(adjusted.String)
		f.Evidence = string(raw)
		f.IsFalsePositive = isFP != 0
		f.Fallback = fallback != 0
		f.Explanation = explanation.String
		f.CreatedAt = parseTime(createdAt)
		if llmScore.Valid {
			f.LLMScore = model.Float(llmScore.Float64)
		}
		if llmConf.Valid {
			f.LLMConfidence = model.Float(llmConf.Float64)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RecordLLMResponse stores a prompt/response pair.
func (s *SQLiteStore) RecordLLMResponse(ctx context.Context, x *model.LLMExchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_responses (id, run_id, purpose, model, prompt, response, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.New().String(), nullString(x.RunID), string(x.Purpose), x.Model,
		x.Prompt, x.Response, x.Latency.Milliseconds(), x.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return sgerrors.E(sgerrors.KindStorage, "store.RecordLLMResponse", "insert response", err)
	}
	return nil
}

// LLMResponses returns the stored exchanges of a run, oldest first.
func (s *SQLiteStore) LLMResponses(ctx context.Context, runID string) ([]model.LLMExchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, purpose, model, prompt, response, latency_ms, created_at
		FROM llm_responses WHERE run_id = ? ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindStorage, "store.LLMResponses", "query responses", err)
	}
	defer rows.Close()

	var out []model.LLMExchange
	for rows.Next() {
		var x model.LLMExchange
		var run sql.NullString
		var purpose, createdAt string
		var latencyMS int64
		if err := rows.Scan(&run, &purpose, &x.Model, &x.Prompt, &x.Response, &latencyMS, &createdAt); err != nil {
			return nil, sgerrors.E(sgerrors.KindStorage, "store.LLMResponses", "scan response", err)
		}
		x.RunID = run.String
		x.Purpose = model.Purpose(purpose)
		x.Latency = time.Duration(latencyMS) * time.Millisecond
		x.CreatedAt = parseTime(createdAt)
		out = append(out, x)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
