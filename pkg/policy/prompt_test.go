package policy

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
)

func TestTerminalPrompter(t *testing.T) {
	tests := []struct {
		name              string
		input             string
		wantInput         string
		wantJustification string
		wantErr           bool
		wantAskedWhy      bool
	}{
		{"accepted", "I_ACCEPT_RISK\nowner approved in ticket\n", "I_ACCEPT_RISK", "owner approved in ticket", false, true},
		{"windows line endings", "I_ACCEPT_RISK\r\nok\r\n", "I_ACCEPT_RISK", "ok", false, true},
		{"declined", "no\n", "no", "", false, false},
		{"whitespace kept", " I_ACCEPT_RISK\n", " I_ACCEPT_RISK", "", false, false},
		{"justification ends at EOF", "I_ACCEPT_RISK\nticket 42", "I_ACCEPT_RISK", "ticket 42", false, true},
		{"declined at EOF", "nope", "nope", "", false, false},
		{"input closed before justification", "I_ACCEPT_RISK", "", "", true, true},
		{"closed input", "", "", "", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewTerminalPrompter(strings.NewReader(tt.input), &out)

			resp, err := p.Prompt(context.Background(), OverrideRequest{
				Target: "unlisted.net",
				Action: "http-check",
				Reason: "no scope pattern",
				Token:  "I_ACCEPT_RISK",
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if resp.Input != tt.wantInput || resp.Justification != tt.wantJustification {
				t.Errorf("resp = %+v", resp)
			}
			shown := out.String()
			for _, want := range []string{"unlisted.net", "http-check", "no scope pattern", "'I_ACCEPT_RISK'"} {
				if !strings.Contains(shown, want) {
					t.Errorf("prompt missing %q", want)
				}
			}
			if got := strings.Contains(shown, "Justification"); got != tt.wantAskedWhy {
				t.Errorf("justification asked = %v, want %v", got, tt.wantAskedWhy)
			}
		})
	}
}

func TestTerminalPrompter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewTerminalPrompter(strings.NewReader("I_ACCEPT_RISK\n"), &bytes.Buffer{})
	if _, err := p.Prompt(ctx, OverrideRequest{Token: "I_ACCEPT_RISK"}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestClassify(t *testing.T) {
	conf := func(v float64) *float64 { return &v }

	tests := []struct {
		name    string
		resp    *ArbitrationResponse
		err     error
		want    Outcome
		verdict Verdict
	}{
		{"allow", &ArbitrationResponse{Decision: "ALLOW", Confidence: conf(0.8), Reasoning: "r"}, nil, OutcomeSuccess, VerdictAllow},
		{"padded block", &ArbitrationResponse{Decision: " block ", Confidence: conf(0), Reasoning: "r"}, nil, OutcomeSuccess, VerdictBlock},
		{"timeout kind", nil, sgerrors.E(sgerrors.KindTimeout, "x", "slow"), OutcomeTimeout, ""},
		{"deadline exceeded", nil, context.DeadlineExceeded, OutcomeTimeout, ""},
		{"malformed kind", nil, sgerrors.E(sgerrors.KindMalformed, "x", "bad json"), OutcomeMalformed, ""},
		{"plain error", nil, errors.New("connection reset"), OutcomeTransport, ""},
		{"rate limited", nil, sgerrors.E(sgerrors.KindRateLimit, "x", "429"), OutcomeTransport, ""},
		{"nil response", nil, nil, OutcomeMalformed, ""},
		{"missing decision", &ArbitrationResponse{Confidence: conf(0.5), Reasoning: "r"}, nil, OutcomeMalformed, ""},
		{"negative confidence", &ArbitrationResponse{Decision: "BLOCK", Confidence: conf(-0.1), Reasoning: "r"}, nil, OutcomeMalformed, ""},
		{"blank reasoning", &ArbitrationResponse{Decision: "BLOCK", Confidence: conf(0.5), Reasoning: "  "}, nil, OutcomeMalformed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := classify(context.Background(), tt.resp, tt.err)
			if res.Outcome != tt.want {
				t.Fatalf("outcome = %s, want %s (err %v)", res.Outcome, tt.want, res.Err)
			}
			if res.Succeeded() {
				if res.Err != nil || res.Verdict != tt.verdict {
					t.Errorf("unexpected success result: %+v", res)
				}
				return
			}
			if res.Err == nil || res.Verdict != "" || res.Confidence != 0 {
				t.Errorf("failure must carry an error and no verdict: %+v", res)
			}
		})
	}
}

func TestClassify_ExpiredContextWins(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	c := 0.99
	res := classify(ctx, &ArbitrationResponse{Decision: VerdictAllow, Confidence: &c, Reasoning: "late"}, nil)
	if res.Outcome != OutcomeTimeout || !sgerrors.IsTimeoutError(res.Err) {
		t.Errorf("late reply must count as timeout, got %+v", res)
	}
}
