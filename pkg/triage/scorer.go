package triage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/exploopio/scopeguard/pkg/audit"
	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/logger"
	"github.com/exploopio/scopeguard/pkg/metrics"
	"github.com/exploopio/scopeguard/pkg/model"
	"github.com/exploopio/scopeguard/pkg/ratelimit"
	"github.com/exploopio/scopeguard/pkg/shared/fingerprint"
	"github.com/exploopio/scopeguard/pkg/shared/severity"
)

// NeutralScore is the classifier score used when no classifier is available.
const NeutralScore = 0.5

// RawFinding is a scanner result before scoring.
type RawFinding struct {
	Target      string
	Name        string
	Description string
	TemplateID  string
	Severity    severity.Level
	Evidence    string

	// MatchedURL and Matcher refine the fingerprint when the scanner reports them.
	MatchedURL string
	Matcher    string
}

// Classifier produces the local score in [0,1] for a finding.
type Classifier interface {
	Score(ctx context.Context, f RawFinding) (float64, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, f RawFinding) (float64, error)

func (fn ClassifierFunc) Score(ctx context.Context, f RawFinding) (float64, error) {
	return fn(ctx, f)
}

// Assessment is an external reviewer's opinion of a finding.
type Assessment struct {
	Score               float64
	Confidence          float64
	Explanation         string
	Severity            severity.Level
	LikelyFalsePositive bool
}

// Validate rejects assessments whose score or confidence is outside [0,1].
func (a *Assessment) Validate() error {
	if a == nil {
		return sgerrors.E(sgerrors.KindMalformed, "triage.Assessment", "empty assessment")
	}
	if !inUnit(a.Score) {
		return sgerrors.E(sgerrors.KindMalformed, "triage.Assessment", fmt.Sprintf("score %v outside [0,1]", a.Score))
	}
	if !inUnit(a.Confidence) {
		return sgerrors.E(sgerrors.KindMalformed, "triage.Assessment", fmt.Sprintf("confidence %v outside [0,1]", a.Confidence))
	}
	return nil
}

// Assessor asks an external reviewer to assess a finding. Implementations
// must honor ctx's deadline.
type Assessor interface {
	Assess(ctx context.Context, f RawFinding) (*Assessment, error)
}

// AssessorFunc adapts a function to Assessor.
type AssessorFunc func(ctx context.Context, f RawFinding) (*Assessment, error)

func (fn AssessorFunc) Assess(ctx context.Context, f RawFinding) (*Assessment, error) {
	return fn(ctx, f)
}

// ScorerOptions wires a Scorer's collaborators. All fields are optional.
type ScorerOptions struct {
	RunID      string
	Classifier Classifier
	Assessor   Assessor
	Recorder   audit.Recorder
	Limiter    *ratelimit.Limiter
	Logger     logger.Logger
	Metrics    metrics.Collector

	// Timeout bounds each assessment, including the rate limit wait.
	// Default: 20s.
	Timeout time.Duration

	Now func() time.Time
}

// Scorer turns raw findings into recorded, fused findings.
type Scorer struct {
	cfg        FusionConfig
	runID      string
	classifier Classifier
	assessor   Assessor
	recorder   audit.Recorder
	limiter    *ratelimit.Limiter
	log        logger.Logger
	metrics    metrics.Collector
	timeout    time.Duration
	now        func() time.Time
}

// NewScorer validates cfg and creates a Scorer.
func NewScorer(cfg FusionConfig, opts ScorerOptions) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scorer{
		cfg:        cfg,
		runID:      opts.RunID,
		classifier: opts.Classifier,
		assessor:   opts.Assessor,
		recorder:   opts.Recorder,
		limiter:    opts.Limiter,
		log:        logger.OrNop(opts.Logger),
		metrics:    metrics.OrNop(opts.Metrics),
		timeout:    opts.Timeout,
		now:        opts.Now,
	}
	if s.timeout <= 0 {
		s.timeout = 20 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Score classifies, assesses, fuses and records one finding.
//
// Classifier failures fall back to NeutralScore and assessment failures fall
// back to the classifier score alone; neither fails the call. An error is
// returned for an out-of-range classifier score, whether returned or reported
// by the classifier, and when recording fails, in which case the scored
// finding is still returned.
func (s *Scorer) Score(ctx context.Context, raw RawFinding) (*model.Finding, error) {
	ml, err := s.classify(ctx, raw)
	if err != nil {
		return nil, err
	}

	var llm, conf *float64
	var explicitFP bool
	a := s.assess(ctx, raw)
	if a != nil {
		llm = model.Float(a.Score)
		conf = model.Float(a.Confidence)
		explicitFP = a.LikelyFalsePositive
	}

	res, err := s.cfg.Fuse(ml, llm, conf, explicitFP)
	if err != nil {
		return nil, err
	}

	f := &model.Finding{
		RunID:            s.runID,
		Fingerprint:      findingFingerprint(raw),
		Target:           raw.Target,
		Name:             raw.Name,
		TemplateID:       raw.TemplateID,
		Severity:         raw.Severity,
		Evidence:         raw.Evidence,
		MLScore:          ml,
		LLMScore:         llm,
		LLMConfidence:    conf,
		FinalScore:       res.Final,
		IsFalsePositive:  res.IsFalsePositive,
		Fallback:         res.Fallback,
		AdjustedSeverity: severity.Adjust(raw.Severity, res.Final),
		CreatedAt:        s.now().UTC(),
	}
	switch {
	case a != nil && !res.Fallback:
		f.Explanation = strings.TrimSpace(a.Explanation)
	case a != nil:
		f.Explanation = fmt.Sprintf("assessment confidence %.2f below %.2f; classifier score only",
			a.Confidence, s.cfg.MinLLMConfidence)
	default:
		f.Explanation = "no assessment available; classifier score only"
	}

	s.metrics.CounterInc(metrics.TriageFindingsTotal.Name,
		"false_positive", strconv.FormatBool(f.IsFalsePositive),
		"fallback", strconv.FormatBool(f.Fallback))
	s.metrics.HistogramObserve(metrics.TriageFinalScore.Name, f.FinalScore)
	s.log.Info("triage: %s on %s scored %.2f (fp=%t, fallback=%t)",
		f.Name, f.Target, f.FinalScore, f.IsFalsePositive, f.Fallback)

	if s.recorder != nil {
		if err := s.recorder.RecordFinding(ctx, f); err != nil {
			return f, sgerrors.E(sgerrors.KindStorage, "triage.Score", "record finding", err)
		}
	}
	return f, nil
}

// classify returns the local score. Out-of-range scores are passed to the
// caller; any other classifier failure scores NeutralScore.
func (s *Scorer) classify(ctx context.Context, raw RawFinding) (float64, error) {
	if s.classifier == nil {
		return NeutralScore, nil
	}
	ml, err := s.classifier.Score(ctx, raw)
	switch {
	case sgerrors.GetKind(err) == sgerrors.KindOutOfRange:
		return 0, sgerrors.E(sgerrors.KindOutOfRange, "triage.Score", "classifier score for "+raw.Name, err)
	case err != nil:
		s.log.Warn("triage: classifier failed for %s: %v", raw.Name, err)
		return NeutralScore, nil
	}
	return ml, nil
}

// assess returns a validated assessment, or nil when none could be obtained.
func (s *Scorer) assess(ctx context.Context, raw RawFinding) *Assessment {
	if s.assessor == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	release, err := s.limiter.Acquire(ctx)
	if err != nil {
		s.log.Warn("triage: rate limit wait for %s: %v", raw.Name, err)
		return nil
	}
	defer release()

	a, err := s.assessor.Assess(ctx, raw)
	if err == nil {
		err = a.Validate()
	}
	if err != nil {
		s.log.Warn("triage: assessment failed for %s: %v", raw.Name, err)
		return nil
	}
	return a
}

// findingFingerprint keys a finding by template (or name, for scanners
// without templates) and location.
func findingFingerprint(raw RawFinding) string {
	id := raw.TemplateID
	if id == "" {
		id = raw.Name
	}
	if raw.MatchedURL != "" {
		return fingerprint.FromURL(id, raw.MatchedURL, raw.Matcher)
	}
	return fingerprint.Generate(fingerprint.Input{
		TemplateID: id,
		Host:       raw.Target,
		Matcher:    raw.Matcher,
	})
}

// Rank orders findings by final score, highest first. Ties keep their
// original order.
func Rank(findings []*model.Finding) []*model.Finding {
	out := make([]*model.Finding, 0, len(findings))
	for _, f := range findings {
		if f != nil && !math.IsNaN(f.FinalScore) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FinalScore > out[j].FinalScore
	})
	return out
}
