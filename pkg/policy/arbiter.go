package policy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/scope"
)

// Verdict is an arbiter's answer.
type Verdict string

const (
	VerdictAllow Verdict = "ALLOW"
	VerdictBlock Verdict = "BLOCK"
)

// ArbitrationRequest is sent to the arbiter for targets the scope file does
// not cover, and for actions the manifest marks for validation. Concern is
// set only in the second case.
type ArbitrationRequest struct {
	RunID   string        `json:"run_id,omitempty"`
	Target  string        `json:"target"`
	Action  string        `json:"action"`
	Concern string        `json:"concern,omitempty"`
	Scope   scope.Context `json:"scope_context"`
}

// ArbitrationResponse is the arbiter's raw reply. Confidence is a pointer so
// a missing value can be told apart from zero.
type ArbitrationResponse struct {
	Decision   Verdict  `json:"decision"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// Arbiter decides targets that match no scope pattern. Implementations must
// honor ctx's deadline. Errors should carry KindTimeout, KindNetwork,
// KindServer, KindRateLimit or KindMalformed.
type Arbiter interface {
	Arbitrate(ctx context.Context, req ArbitrationRequest) (*ArbitrationResponse, error)
}

// ArbiterFunc adapts a function to Arbiter.
type ArbiterFunc func(ctx context.Context, req ArbitrationRequest) (*ArbitrationResponse, error)

func (f ArbiterFunc) Arbitrate(ctx context.Context, req ArbitrationRequest) (*ArbitrationResponse, error) {
	return f(ctx, req)
}

// Outcome classifies an arbitration attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeTransport
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeTransport:
		return "transport"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// ArbitrationResult is a validated arbitration attempt. Verdict, Confidence
// and Reasoning are set only on success; Err only on failure.
type ArbitrationResult struct {
	Outcome    Outcome
	Verdict    Verdict
	Confidence float64
	Reasoning  string
	Err        error
	Duration   time.Duration
}

// Succeeded reports whether the arbiter returned a usable verdict.
func (r ArbitrationResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// classify turns an arbiter call into an ArbitrationResult.
// Deadline expiry is a timeout whatever error the arbiter returned.
func classify(ctx context.Context, resp *ArbitrationResponse, err error) ArbitrationResult {
	if err != nil || ctx.Err() != nil {
		if err == nil {
			err = ctx.Err()
		}
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded),
			errors.Is(err, context.DeadlineExceeded),
			sgerrors.IsTimeoutError(err):
			return ArbitrationResult{
				Outcome: OutcomeTimeout,
				Err:     sgerrors.E(sgerrors.KindTimeout, "policy.arbitrate", sgerrors.ErrArbitrationTimeout.Message, err),
			}
		case sgerrors.GetKind(err) == sgerrors.KindMalformed:
			return ArbitrationResult{
				Outcome: OutcomeMalformed,
				Err:     sgerrors.E(sgerrors.KindMalformed, "policy.arbitrate", sgerrors.ErrArbitrationMalformed.Message, err),
			}
		default:
			return ArbitrationResult{
				Outcome: OutcomeTransport,
				Err:     sgerrors.E(sgerrors.KindNetwork, "policy.arbitrate", sgerrors.ErrArbitrationTransport.Message, err),
			}
		}
	}

	if verr := validateResponse(resp); verr != nil {
		return ArbitrationResult{
			Outcome: OutcomeMalformed,
			Err:     sgerrors.E(sgerrors.KindMalformed, "policy.arbitrate", sgerrors.ErrArbitrationMalformed.Message, verr),
		}
	}

	return ArbitrationResult{
		Outcome:    OutcomeSuccess,
		Verdict:    Verdict(strings.ToUpper(strings.TrimSpace(string(resp.Decision)))),
		Confidence: *resp.Confidence,
		Reasoning:  strings.TrimSpace(resp.Reasoning),
	}
}

// validateResponse rejects replies missing a field or with confidence outside [0,1].
func validateResponse(resp *ArbitrationResponse) error {
	if resp == nil {
		return errors.New("empty response")
	}
	switch Verdict(strings.ToUpper(strings.TrimSpace(string(resp.Decision)))) {
	case VerdictAllow, VerdictBlock:
	case "":
		return errors.New("missing decision")
	default:
		return fmt.Errorf("unsupported decision %q", resp.Decision)
	}
	if resp.Confidence == nil {
		return errors.New("missing confidence")
	}
	if c := *resp.Confidence; math.IsNaN(c) || c < 0 || c > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", c)
	}
	if strings.TrimSpace(resp.Reasoning) == "" {
		return errors.New("missing reasoning")
	}
	return nil
}
