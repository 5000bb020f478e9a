// Package policy decides whether an action may run against a target.
//
// Every evaluation walks the same fail-closed gates: the blocked-action
// manifest, the scope definition, an optional external arbiter for targets
// the scope does not cover, and an optional operator override for UNKNOWN
// decisions. Exactly one terminal decision is recorded per evaluation, before
// Evaluate returns.
package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/exploopio/scopeguard/pkg/audit"
	"github.com/exploopio/scopeguard/pkg/blocklist"
	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/logger"
	"github.com/exploopio/scopeguard/pkg/metrics"
	"github.com/exploopio/scopeguard/pkg/model"
	"github.com/exploopio/scopeguard/pkg/ratelimit"
	"github.com/exploopio/scopeguard/pkg/runctx"
	"github.com/exploopio/scopeguard/pkg/scope"
)

// Options wires the engine's collaborators. All fields are optional.
type Options struct {
	// Arbiter is consulted for targets no scope pattern covers and for
	// actions the manifest marks for validation. Nil leaves them UNKNOWN.
	Arbiter Arbiter

	// Prompter asks for override confirmation. Overrides also require the
	// run configuration to allow them.
	Prompter Prompter

	Recorder audit.Recorder
	Limiter  *ratelimit.Limiter
	Logger   logger.Logger
	Metrics  metrics.Collector

	// Now stamps decisions. Default: time.Now.
	Now func() time.Time
}

// Engine evaluates (target, action) pairs for one run. It is safe for
// concurrent use; the run context it reads is immutable.
type Engine struct {
	rc       *runctx.Context
	arbiter  Arbiter
	prompter Prompter
	recorder audit.Recorder
	limiter  *ratelimit.Limiter
	log      logger.Logger
	metrics  metrics.Collector
	now      func() time.Time

	threshold     float64
	timeout       time.Duration
	allowOverride bool
	token         string
}

// NewEngine creates an engine bound to a run context.
func NewEngine(rc *runctx.Context, opts Options) *Engine {
	cfg := rc.Config()
	e := &Engine{
		rc:            rc,
		arbiter:       opts.Arbiter,
		prompter:      opts.Prompter,
		recorder:      opts.Recorder,
		limiter:       opts.Limiter,
		log:           logger.OrNop(opts.Logger),
		metrics:       metrics.OrNop(opts.Metrics),
		now:           opts.Now,
		threshold:     cfg.Policy.ArbiterConfidenceThreshold,
		timeout:       cfg.Timeout,
		allowOverride: cfg.Policy.AllowManualOverride,
		token:         cfg.Policy.OverrideToken,
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Evaluate runs the gates for one pair and records the terminal decision.
//
// The returned decision is never nil. A non-nil error means the action must
// not proceed: it is ErrOverrideRejected when the operator declined an
// override (the decision stays UNKNOWN), or a storage error when the decision
// could not be recorded.
//
// Cancelling ctx does not abort an evaluation in progress; only the
// configured arbitration timeout bounds it.
func (e *Engine) Evaluate(ctx context.Context, target, action string) (*model.PolicyDecision, error) {
	ctx = context.WithoutCancel(ctx)
	target = strings.TrimSpace(target)
	action = strings.TrimSpace(action)

	d, overrideErr := e.decide(ctx, target, action)
	d.RunID = e.rc.RunID()
	d.Target = target
	d.Action = action
	d.Timestamp = e.now().UTC()

	e.metrics.CounterInc(metrics.PolicyDecisionsTotal.Name,
		"decision", string(d.Value), "stage", string(d.Stage))
	e.log.Info("policy: %s %s on %s [%s]: %s", d.Value, action, target, d.Stage, d.Reason)

	if e.recorder != nil {
		if err := e.recorder.RecordDecision(ctx, d); err != nil {
			e.log.Error("policy: record decision for %s: %v", target, err)
			return d, sgerrors.E(sgerrors.KindStorage, "policy.Evaluate", "record decision", err)
		}
	}
	return d, overrideErr
}

func (e *Engine) decide(ctx context.Context, target, action string) (*model.PolicyDecision, error) {
	br := e.rc.Manifest().Evaluate(action)
	if br.Verdict == blocklist.Blocked {
		return &model.PolicyDecision{
			Value:          model.DecisionBlocked,
			Stage:          model.StageBlocklist,
			Reason:         fmt.Sprintf("action matches blocked pattern %q (%s): %s", br.Entry.Pattern, br.Entry.Category, br.Entry.Reason),
			MatchedPattern: br.Entry.Pattern,
		}, nil
	}
	validate := br.Verdict == blocklist.RequiresValidation

	switch res := e.rc.Scope().Evaluate(target); res.Verdict {
	case scope.OutOfScope:
		return &model.PolicyDecision{
			Value:          model.DecisionBlocked,
			Stage:          model.StageScope,
			Reason:         fmt.Sprintf("target matches out-of-scope pattern %q", res.Pattern),
			MatchedPattern: res.Pattern,
		}, nil
	case scope.InScope:
		if !validate {
			return &model.PolicyDecision{
				Value:          model.DecisionAllowed,
				Stage:          model.StageScope,
				Reason:         fmt.Sprintf("target matches in-scope pattern %q", res.Pattern),
				MatchedPattern: res.Pattern,
			}, nil
		}
	}

	var concern string
	if validate {
		concern = fmt.Sprintf("action matches validation pattern %q (%s): %s", br.Entry.Pattern, br.Entry.Category, br.Entry.Reason)
		e.log.Debug("policy: %s %s on %s: %s", model.DecisionRequiresValidation, action, target, concern)
	}

	var d *model.PolicyDecision
	switch {
	case e.arbiter != nil:
		d = e.decideArbitration(e.Arbitrate(ctx, target, action, concern))
	case validate:
		d = &model.PolicyDecision{
			Value:          model.DecisionUnknown,
			Stage:          model.StageBlocklist,
			Reason:         concern + "; no arbiter is configured",
			MatchedPattern: br.Entry.Pattern,
		}
	default:
		d = &model.PolicyDecision{
			Value:  model.DecisionUnknown,
			Stage:  model.StageScope,
			Reason: "target matches no scope pattern and no arbiter is configured",
		}
	}

	if d.Value != model.DecisionUnknown || !e.allowOverride || e.prompter == nil {
		return d, nil
	}
	return e.overrideGate(ctx, target, action, d)
}

// Arbitrate calls the arbiter under the run's timeout. Rate limiting counts
// against the same deadline. The result never carries a verdict on failure.
// concern, when set, says why an action needs validation beyond scope.
func (e *Engine) Arbitrate(ctx context.Context, target, action, concern string) ArbitrationResult {
	if e.arbiter == nil {
		return ArbitrationResult{
			Outcome: OutcomeTransport,
			Err:     sgerrors.E(sgerrors.KindConfiguration, "policy.Arbitrate", "no arbiter configured"),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	release, err := e.limiter.Acquire(ctx)
	if err != nil {
		res := classify(ctx, nil, err)
		res.Duration = time.Since(start)
		e.metrics.CounterInc(metrics.ArbitrationFailuresTotal.Name, "kind", res.Outcome.String())
		return res
	}
	defer release()

	resp, err := e.arbiter.Arbitrate(ctx, ArbitrationRequest{
		RunID:   e.rc.RunID(),
		Target:  target,
		Action:  action,
		Concern: concern,
		Scope:   e.rc.ScopeContext(),
	})
	res := classify(ctx, resp, err)
	res.Duration = time.Since(start)

	e.metrics.HistogramObserve(metrics.ArbitrationDuration.Name, res.Duration.Seconds())
	if !res.Succeeded() {
		e.metrics.CounterInc(metrics.ArbitrationFailuresTotal.Name, "kind", res.Outcome.String())
		e.log.Warn("policy: arbitration for %s failed (%s): %v", target, res.Outcome, res.Err)
	}
	return res
}

// decideArbitration maps an arbitration result to a decision. Only a
// confident ALLOW yields ALLOWED.
func (e *Engine) decideArbitration(res ArbitrationResult) *model.PolicyDecision {
	d := &model.PolicyDecision{Stage: model.StageArbitration}

	if !res.Succeeded() {
		d.Value = model.DecisionUnknown
		d.Reason = res.Err.Error()
		return d
	}

	d.Confidence = model.Float(res.Confidence)
	switch {
	case res.Verdict == VerdictBlock:
		d.Value = model.DecisionBlocked
		d.Reason = fmt.Sprintf("arbiter blocked (confidence %.2f): %s", res.Confidence, res.Reasoning)
	case res.Confidence >= e.threshold:
		d.Value = model.DecisionAllowed
		d.Reason = fmt.Sprintf("arbiter allowed (confidence %.2f): %s", res.Confidence, res.Reasoning)
	default:
		d.Value = model.DecisionUnknown
		d.Reason = fmt.Sprintf("arbiter allowed with confidence %.2f below threshold %.2f: %s",
			res.Confidence, e.threshold, res.Reasoning)
	}
	return d
}

// overrideGate converts UNKNOWN into ALLOWED_OVERRIDE only on an exact token
// match with a non-blank justification.
func (e *Engine) overrideGate(ctx context.Context, target, action string, d *model.PolicyDecision) (*model.PolicyDecision, error) {
	resp, err := e.prompter.Prompt(ctx, OverrideRequest{
		Target: target,
		Action: action,
		Reason: d.Reason,
		Token:  e.token,
	})

	justification := strings.TrimSpace(resp.Justification)
	if err == nil && resp.Input == e.token && justification != "" {
		e.log.Warn("policy: manual override accepted for %s", target)
		return &model.PolicyDecision{
			Value:          model.DecisionAllowedOverride,
			Stage:          model.StageOverride,
			Reason:         "operator confirmed override: " + d.Reason,
			MatchedPattern: d.MatchedPattern,
			Confidence:     d.Confidence,
			Override:       true,
			Justification:  justification,
		}, nil
	}

	var cause string
	switch {
	case err != nil:
		cause = "prompt failed: " + err.Error()
	case resp.Input != e.token:
		cause = "confirmation token did not match"
	default:
		cause = "no justification given"
	}
	e.log.Info("policy: manual override declined for %s: %s", target, cause)

	d.Stage = model.StageOverride
	d.Reason = fmt.Sprintf("manual override rejected (%s): %s", cause, d.Reason)
	return d, sgerrors.E(sgerrors.KindOverrideRejected, "policy.Evaluate", "manual override rejected for "+target)
}
