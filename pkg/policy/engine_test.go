package policy_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/exploopio/scopeguard/pkg/config"
	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/metrics"
	"github.com/exploopio/scopeguard/pkg/mocks"
	"github.com/exploopio/scopeguard/pkg/model"
	"github.com/exploopio/scopeguard/pkg/policy"
	"github.com/exploopio/scopeguard/pkg/ratelimit"
	"github.com/exploopio/scopeguard/pkg/runctx"
	"github.com/exploopio/scopeguard/pkg/scope"
)

var fixedNow = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

func newRun(t *testing.T, mutate func(*config.Config)) *runctx.Context {
	t.Helper()
	def, err := scope.New("Example",
		[]string{"example.com", "*.example.com", "10.0.0.0/8"},
		[]string{"admin.example.com", "10.9.0.0/16"})
	if err != nil {
		t.Fatalf("scope.New failed: %v", err)
	}
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	rc, err := runctx.New(runctx.Options{RunID: "run-test", Scope: def, Config: cfg})
	if err != nil {
		t.Fatalf("runctx.New failed: %v", err)
	}
	return rc
}

func newEngine(rc *runctx.Context, opts policy.Options) *policy.Engine {
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	return policy.NewEngine(rc, opts)
}

func TestEvaluate_LocalGates(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		action      string
		wantValue   model.DecisionValue
		wantStage   model.Stage
		wantPattern string
	}{
		{"blocklist beats in-scope", "api.example.com", "rce-log4j", model.DecisionBlocked, model.StageBlocklist, "rce-*"},
		{"blocklist beats unknown target", "other.net", "RCE-Spring4Shell", model.DecisionBlocked, model.StageBlocklist, "rce-*"},
		{"out of scope", "admin.example.com", "http-check", model.DecisionBlocked, model.StageScope, "admin.example.com"},
		{"out of scope beats wider in-scope CIDR", "10.9.1.1", "http-check", model.DecisionBlocked, model.StageScope, "10.9.0.0/16"},
		{"in scope exact", "https://example.com/login", "http-check", model.DecisionAllowed, model.StageScope, "example.com"},
		{"in scope wildcard", "api.example.com:8443", "http-check", model.DecisionAllowed, model.StageScope, "*.example.com"},
		{"in scope CIDR", "10.1.2.3", "http-check", model.DecisionAllowed, model.StageScope, "10.0.0.0/8"},
		{"unknown without arbiter", "evil.com", "http-check", model.DecisionUnknown, model.StageScope, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arbiter := &mocks.MockArbiter{}
			rec := &mocks.MockRecorder{}
			opts := policy.Options{Recorder: rec}
			if tt.wantStage != model.StageScope || tt.wantValue != model.DecisionUnknown {
				opts.Arbiter = arbiter
			}
			e := newEngine(newRun(t, nil), opts)

			d, err := e.Evaluate(context.Background(), tt.target, tt.action)
			if err != nil {
				t.Fatalf("Evaluate returned error: %v", err)
			}
			if d.Value != tt.wantValue || d.Stage != tt.wantStage {
				t.Errorf("got %s/%s, want %s/%s", d.Value, d.Stage, tt.wantValue, tt.wantStage)
			}
			if d.MatchedPattern != tt.wantPattern {
				t.Errorf("MatchedPattern = %q, want %q", d.MatchedPattern, tt.wantPattern)
			}
			if d.Reason == "" {
				t.Error("reason must not be empty")
			}
			if d.Confidence != nil {
				t.Error("confidence must be absent when no arbiter contributed")
			}
			if len(arbiter.Calls()) != 0 {
				t.Error("arbiter must not be called when a local gate decides")
			}
			if got := rec.Decisions(); len(got) != 1 || got[0].Value != tt.wantValue {
				t.Errorf("recorded = %+v", got)
			}
		})
	}
}

func TestEvaluate_Arbitration(t *testing.T) {
	conf := func(v float64) *float64 { return &v }

	tests := []struct {
		name     string
		fn       func(context.Context, policy.ArbitrationRequest) (*policy.ArbitrationResponse, error)
		want     model.DecisionValue
		wantConf *float64
	}{
		{"confident allow", mocks.Respond(policy.VerdictAllow, 0.9, "subsidiary"), model.DecisionAllowed, conf(0.9)},
		{"allow at threshold", mocks.Respond(policy.VerdictAllow, 0.7, "ok"), model.DecisionAllowed, conf(0.7)},
		{"allow below threshold", mocks.Respond(policy.VerdictAllow, 0.69, "maybe"), model.DecisionUnknown, conf(0.69)},
		{"block", mocks.Respond(policy.VerdictBlock, 0.2, "third party"), model.DecisionBlocked, conf(0.2)},
		{"lower-case allow", mocks.Respond("allow", 0.95, "ok"), model.DecisionAllowed, conf(0.95)},
		{"transport failure", func(context.Context, policy.ArbitrationRequest) (*policy.ArbitrationResponse, error) {
			return nil, sgerrors.E(sgerrors.KindNetwork, "test", "connection refused")
		}, model.DecisionUnknown, nil},
		{"malformed error", func(context.Context, policy.ArbitrationRequest) (*policy.ArbitrationResponse, error) {
			return nil, sgerrors.E(sgerrors.KindMalformed, "test", "not json")
		}, model.DecisionUnknown, nil},
		{"missing confidence", func(context.Context, policy.ArbitrationRequest) (*policy.ArbitrationResponse, error) {
			return &policy.ArbitrationResponse{Decision: policy.VerdictAllow, Reasoning: "ok"}, nil
		}, model.DecisionUnknown, nil},
		{"confidence out of range", mocks.Respond(policy.VerdictAllow, 1.5, "sure"), model.DecisionUnknown, nil},
		{"missing reasoning", mocks.Respond(policy.VerdictAllow, 0.9, ""), model.DecisionUnknown, nil},
		{"unknown verdict", mocks.Respond("MAYBE", 0.9, "hmm"), model.DecisionUnknown, nil},
		{"nil response", func(context.Context, policy.ArbitrationRequest) (*policy.ArbitrationResponse, error) {
			return nil, nil
		}, model.DecisionUnknown, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arbiter := &mocks.MockArbiter{ArbitrateFn: tt.fn}
			rec := &mocks.MockRecorder{}
			e := newEngine(newRun(t, nil), policy.Options{Arbiter: arbiter, Recorder: rec})

			d, err := e.Evaluate(context.Background(), "shop.example.net", "http-check")
			if err != nil {
				t.Fatalf("Evaluate returned error: %v", err)
			}
			if d.Value != tt.want || d.Stage != model.StageArbitration {
				t.Errorf("got %s/%s, want %s/arbitration", d.Value, d.Stage, tt.want)
			}
			switch {
			case tt.wantConf == nil && d.Confidence != nil:
				t.Errorf("confidence must be absent on failure, got %v", *d.Confidence)
			case tt.wantConf != nil && (d.Confidence == nil || *d.Confidence != *tt.wantConf):
				t.Errorf("confidence = %v, want %v", d.Confidence, *tt.wantConf)
			}
			if d.Value != model.DecisionAllowed && d.Reason == "" {
				t.Error("reason must not be empty")
			}
			if len(arbiter.Calls()) != 1 || len(rec.Decisions()) != 1 {
				t.Errorf("arbiter calls = %d, records = %d", len(arbiter.Calls()), len(rec.Decisions()))
			}
		})
	}
}

func TestEvaluate_ArbitrationRequest(t *testing.T) {
	arbiter := &mocks.MockArbiter{ArbitrateFn: mocks.Respond(policy.VerdictBlock, 1, "no")}
	e := newEngine(newRun(t, nil), policy.Options{Arbiter: arbiter})

	_, _ = e.Evaluate(context.Background(), "  Shop.Example.NET ", " http-check ")
	calls := arbiter.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	req := calls[0]
	if req.RunID != "run-test" || req.Target != "Shop.Example.NET" || req.Action != "http-check" {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.Scope.ProgramName != "Example" || len(req.Scope.InScope) != 3 || len(req.Scope.OutOfScope) != 2 {
		t.Errorf("scope context not passed: %+v", req.Scope)
	}
}

func TestEvaluate_ArbitrationTimeout(t *testing.T) {
	m := metrics.NewInMemoryCollector()
	rc := newRun(t, func(c *config.Config) { c.Timeout = 30 * time.Millisecond })
	arbiter := &mocks.MockArbiter{ArbitrateFn: func(ctx context.Context, _ policy.ArbitrationRequest) (*policy.ArbitrationResponse, error) {
		<-ctx.Done()
		// Answer late; the late answer must be ignored.
		return &policy.ArbitrationResponse{Decision: policy.VerdictAllow, Confidence: new(float64), Reasoning: "late"}, nil
	}}
	e := newEngine(rc, policy.Options{Arbiter: arbiter, Metrics: m})

	start := time.Now()
	d, err := e.Evaluate(context.Background(), "shop.example.net", "http-check")
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > time.Second {
		t.Error("evaluation must be bounded by the arbitration timeout")
	}
	if d.Value != model.DecisionUnknown || d.Confidence != nil {
		t.Errorf("timeout must yield UNKNOWN without confidence, got %+v", d)
	}
	if got := m.GetCounter(metrics.ArbitrationFailuresTotal.Name, "kind", "timeout"); got != 1 {
		t.Errorf("timeout failures = %v, want 1", got)
	}
}

func TestEvaluate_DetachedFromCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	arbiter := &mocks.MockArbiter{ArbitrateFn: func(ctx context.Context, req policy.ArbitrationRequest) (*policy.ArbitrationResponse, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return mocks.Respond(policy.VerdictAllow, 0.9, "ok")(ctx, req)
	}}
	rec := &mocks.MockRecorder{}
	e := newEngine(newRun(t, nil), policy.Options{Arbiter: arbiter, Recorder: rec})

	d, err := e.Evaluate(ctx, "shop.example.net", "http-check")
	if err != nil {
		t.Fatal(err)
	}
	if d.Value != model.DecisionAllowed {
		t.Errorf("cancelled caller context must not abort evaluation, got %s: %s", d.Value, d.Reason)
	}
	if len(rec.Decisions()) != 1 {
		t.Error("decision must still be recorded")
	}
}

func TestEvaluate_RateLimitedArbitration(t *testing.T) {
	rc := newRun(t, func(c *config.Config) { c.Timeout = 30 * time.Millisecond })
	limiter := ratelimit.New(ratelimit.Config{RatePerMinute: 1, Burst: 1, MaxConcurrency: 1})
	arbiter := &mocks.MockArbiter{ArbitrateFn: mocks.Respond(policy.VerdictAllow, 0.9, "ok")}
	e := newEngine(rc, policy.Options{Arbiter: arbiter, Limiter: limiter})

	first, _ := e.Evaluate(context.Background(), "a.example.net", "http-check")
	second, _ := e.Evaluate(context.Background(), "b.example.net", "http-check")

	if first.Value != model.DecisionAllowed {
		t.Errorf("first = %s", first.Value)
	}
	if second.Value != model.DecisionUnknown {
		t.Errorf("second should fail closed when no token arrives before the deadline, got %s", second.Value)
	}
	if len(arbiter.Calls()) != 1 {
		t.Errorf("arbiter calls = %d, want 1", len(arbiter.Calls()))
	}
}

func TestEvaluate_Override(t *testing.T) {
	allowOverride := func(c *config.Config) { c.Policy.AllowManualOverride = true }

	const why = " program owner approved by email "

	tests := []struct {
		name          string
		input         string
		justification string
		promptErr     error
		want          model.DecisionValue
		wantErr       error
	}{
		{"exact token", config.DefaultOverrideToken, why, nil, model.DecisionAllowedOverride, nil},
		{"wrong case", "i_accept_risk", why, nil, model.DecisionUnknown, sgerrors.ErrOverrideRejected},
		{"trailing space", config.DefaultOverrideToken + " ", why, nil, model.DecisionUnknown, sgerrors.ErrOverrideRejected},
		{"empty", "", why, nil, model.DecisionUnknown, sgerrors.ErrOverrideRejected},
		{"prompt failure", config.DefaultOverrideToken, why, errors.New("stdin closed"), model.DecisionUnknown, sgerrors.ErrOverrideRejected},
		{"missing justification", config.DefaultOverrideToken, "", nil, model.DecisionUnknown, sgerrors.ErrOverrideRejected},
		{"blank justification", config.DefaultOverrideToken, " \t ", nil, model.DecisionUnknown, sgerrors.ErrOverrideRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompter := &mocks.MockPrompter{PromptFn: func(context.Context, policy.OverrideRequest) (policy.OverrideResponse, error) {
				if tt.promptErr != nil {
					return policy.OverrideResponse{}, tt.promptErr
				}
				return policy.OverrideResponse{Input: tt.input, Justification: tt.justification}, nil
			}}
			rec := &mocks.MockRecorder{}
			e := newEngine(newRun(t, allowOverride), policy.Options{Prompter: prompter, Recorder: rec})

			d, err := e.Evaluate(context.Background(), "unlisted.net", "http-check")
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if d.Value != tt.want || d.Stage != model.StageOverride {
				t.Errorf("got %s/%s, want %s/override", d.Value, d.Stage, tt.want)
			}

			if tt.want == model.DecisionAllowedOverride {
				if !d.Override || d.Justification != "program owner approved by email" {
					t.Errorf("override flag or justification missing: %+v", d)
				}
			} else if d.Override || d.Reason == "" {
				t.Errorf("rejected override must keep UNKNOWN with a reason: %+v", d)
			}

			calls := prompter.Calls()
			if len(calls) != 1 || calls[0].Token != config.DefaultOverrideToken || calls[0].Target != "unlisted.net" || calls[0].Reason == "" {
				t.Errorf("prompt requests = %+v", calls)
			}
			if got := rec.Decisions(); len(got) != 1 || got[0].Value != tt.want {
				t.Errorf("exactly one terminal decision must be recorded, got %+v", got)
			}
		})
	}
}

func TestEvaluate_OverrideOnlyFromUnknown(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		target  string
		action  string
	}{
		{"disabled", false, "unlisted.net", "http-check"},
		{"blocked by blocklist", true, "unlisted.net", "dos-slowloris"},
		{"blocked by scope", true, "admin.example.com", "http-check"},
		{"allowed by scope", true, "example.com", "http-check"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompter := &mocks.MockPrompter{PromptFn: func(context.Context, policy.OverrideRequest) (policy.OverrideResponse, error) {
				return policy.OverrideResponse{Input: config.DefaultOverrideToken}, nil
			}}
			rc := newRun(t, func(c *config.Config) { c.Policy.AllowManualOverride = tt.enabled })
			e := newEngine(rc, policy.Options{Prompter: prompter})

			d, err := e.Evaluate(context.Background(), tt.target, tt.action)
			if err != nil {
				t.Fatal(err)
			}
			if d.Value == model.DecisionAllowedOverride || len(prompter.Calls()) != 0 {
				t.Errorf("override must not be offered: %s, prompts = %d", d.Value, len(prompter.Calls()))
			}
		})
	}
}

func TestEvaluate_OverrideAfterFailedArbitration(t *testing.T) {
	arbiter := &mocks.MockArbiter{ArbitrateFn: mocks.Respond(policy.VerdictAllow, 0.4, "unsure")}
	prompter := &mocks.MockPrompter{PromptFn: func(context.Context, policy.OverrideRequest) (policy.OverrideResponse, error) {
		return policy.OverrideResponse{Input: config.DefaultOverrideToken, Justification: "confirmed"}, nil
	}}
	rc := newRun(t, func(c *config.Config) { c.Policy.AllowManualOverride = true })
	e := newEngine(rc, policy.Options{Arbiter: arbiter, Prompter: prompter})

	d, err := e.Evaluate(context.Background(), "shop.example.net", "http-check")
	if err != nil {
		t.Fatal(err)
	}
	if d.Value != model.DecisionAllowedOverride || d.Confidence == nil || *d.Confidence != 0.4 {
		t.Errorf("got %+v", d)
	}
}

func TestEvaluate_CustomOverrideToken(t *testing.T) {
	rc := newRun(t, func(c *config.Config) {
		c.Policy.AllowManualOverride = true
		c.Policy.OverrideToken = "YES_I_AM_SURE"
	})
	prompter := &mocks.MockPrompter{PromptFn: func(context.Context, policy.OverrideRequest) (policy.OverrideResponse, error) {
		return policy.OverrideResponse{Input: config.DefaultOverrideToken}, nil
	}}
	e := newEngine(rc, policy.Options{Prompter: prompter})

	if _, err := e.Evaluate(context.Background(), "unlisted.net", "http-check"); !errors.Is(err, sgerrors.ErrOverrideRejected) {
		t.Errorf("default token must not satisfy a custom token, got %v", err)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	rc := newRun(t, nil)
	arbiter := &mocks.MockArbiter{ArbitrateFn: mocks.Respond(policy.VerdictAllow, 0.8, "listed in notes")}
	e := newEngine(rc, policy.Options{Arbiter: arbiter})

	pairs := [][2]string{
		{"example.com", "http-check"},
		{"shop.example.net", "http-check"},
		{"admin.example.com", "http-check"},
		{"example.com", "rce-cve"},
	}
	for _, p := range pairs {
		first, _ := e.Evaluate(context.Background(), p[0], p[1])
		second, _ := e.Evaluate(context.Background(), p[0], p[1])
		if !reflect.DeepEqual(first, second) {
			t.Errorf("%v: %+v != %+v", p, first, second)
		}
	}
}

func TestEvaluate_RecordFailure(t *testing.T) {
	rec := &mocks.MockRecorder{RecordDecisionFn: func(context.Context, *model.PolicyDecision) error {
		return errors.New("disk full")
	}}
	e := newEngine(newRun(t, nil), policy.Options{Recorder: rec})

	d, err := e.Evaluate(context.Background(), "example.com", "http-check")
	if sgerrors.GetKind(err) != sgerrors.KindStorage {
		t.Errorf("expected storage error, got %v", err)
	}
	if d == nil || d.Value != model.DecisionAllowed {
		t.Errorf("decision should still be returned, got %+v", d)
	}
}

func TestEvaluate_RecordedDecisionsAreTerminal(t *testing.T) {
	rec := &mocks.MockRecorder{}
	arbiter := &mocks.MockArbiter{ArbitrateFn: mocks.Respond(policy.VerdictAllow, 0.3, "unsure")}
	e := newEngine(newRun(t, nil), policy.Options{Arbiter: arbiter, Recorder: rec})

	for _, target := range []string{"example.com", "admin.example.com", "x.net", "y.net"} {
		_, _ = e.Evaluate(context.Background(), target, "http-check")
	}
	for _, d := range rec.Decisions() {
		if !d.Value.IsTerminal() {
			t.Errorf("non-terminal decision recorded: %+v", d)
		}
		if d.RunID != "run-test" || !d.Timestamp.Equal(fixedNow) {
			t.Errorf("run id or timestamp not stamped: %+v", d)
		}
	}
}

func TestEvaluate_Metrics(t *testing.T) {
	m := metrics.NewInMemoryCollector()
	e := newEngine(newRun(t, nil), policy.Options{Metrics: m})

	_, _ = e.Evaluate(context.Background(), "example.com", "http-check")
	_, _ = e.Evaluate(context.Background(), "example.com", "rce-x")
	_, _ = e.Evaluate(context.Background(), "api.example.com", "http-check")

	if got := m.GetCounter(metrics.PolicyDecisionsTotal.Name, "decision", "ALLOWED", "stage", "scope"); got != 2 {
		t.Errorf("allowed/scope = %v, want 2", got)
	}
	if got := m.GetCounter(metrics.PolicyDecisionsTotal.Name, "decision", "BLOCKED", "stage", "blocklist"); got != 1 {
		t.Errorf("blocked/blocklist = %v, want 1", got)
	}
}

func TestEvaluate_ValidationTier(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		fn          func(context.Context, policy.ArbitrationRequest) (*policy.ArbitrationResponse, error)
		noArbiter   bool
		want        model.DecisionValue
		wantStage   model.Stage
		wantArbiter bool
	}{
		{"in scope without arbiter", "api.example.com", nil, true, model.DecisionUnknown, model.StageBlocklist, false},
		{"in scope arbiter allows", "api.example.com", mocks.Respond(policy.VerdictAllow, 0.9, "read-only"), false, model.DecisionAllowed, model.StageArbitration, true},
		{"in scope arbiter blocks", "api.example.com", mocks.Respond(policy.VerdictBlock, 0.8, "writes files"), false, model.DecisionBlocked, model.StageArbitration, true},
		{"unknown target arbiter allows", "other.net", mocks.Respond(policy.VerdictAllow, 0.9, "ok"), false, model.DecisionAllowed, model.StageArbitration, true},
		{"out of scope still blocked", "admin.example.com", mocks.Respond(policy.VerdictAllow, 0.9, "ok"), false, model.DecisionBlocked, model.StageScope, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arbiter := &mocks.MockArbiter{ArbitrateFn: tt.fn}
			rec := &mocks.MockRecorder{}
			opts := policy.Options{Recorder: rec}
			if !tt.noArbiter {
				opts.Arbiter = arbiter
			}
			e := newEngine(newRun(t, nil), opts)

			d, err := e.Evaluate(context.Background(), tt.target, "generic-lfi-detect")
			if err != nil {
				t.Fatalf("Evaluate returned error: %v", err)
			}
			if d.Value != tt.want || d.Stage != tt.wantStage {
				t.Errorf("got %s/%s, want %s/%s (%s)", d.Value, d.Stage, tt.want, tt.wantStage, d.Reason)
			}
			if d.Value == model.DecisionUnknown && d.MatchedPattern != "*lfi*" {
				t.Errorf("MatchedPattern = %q, want the validation pattern", d.MatchedPattern)
			}

			calls := arbiter.Calls()
			if (len(calls) == 1) != tt.wantArbiter {
				t.Fatalf("arbiter calls = %d, want called=%v", len(calls), tt.wantArbiter)
			}
			if tt.wantArbiter && !strings.Contains(calls[0].Concern, "*lfi*") {
				t.Errorf("Concern = %q, want the validation pattern", calls[0].Concern)
			}
			if len(rec.Decisions()) != 1 {
				t.Errorf("recorded %d decisions, want 1", len(rec.Decisions()))
			}
		})
	}
}

func TestEvaluate_NoConcernForUnknownTarget(t *testing.T) {
	arbiter := &mocks.MockArbiter{ArbitrateFn: mocks.Respond(policy.VerdictAllow, 0.9, "ok")}
	e := newEngine(newRun(t, nil), policy.Options{Arbiter: arbiter})

	if _, err := e.Evaluate(context.Background(), "other.net", "http-check"); err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if calls := arbiter.Calls(); len(calls) != 1 || calls[0].Concern != "" {
		t.Errorf("calls = %+v", calls)
	}
}
