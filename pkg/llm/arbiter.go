package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/exploopio/scopeguard/pkg/model"
	"github.com/exploopio/scopeguard/pkg/policy"
)

const arbiterSystemPrompt = `You are a strict security policy assistant for bug bounty programs.
Decide whether a proposed scanner action against a target is within the program's scope.

Respond ONLY with valid JSON in this exact format:
{
  "decision": "ALLOW" or "BLOCK",
  "confidence": 0.0 to 1.0,
  "reasoning": "one or two sentences"
}

Rules:
- ALLOW only when the target clearly belongs to the program and the action is detection, not exploitation
- BLOCK when the target matches out-of-scope patterns, belongs to a third party, or the action could cause damage
- Never suggest evasive or destructive actions
- Be conservative: when in doubt, BLOCK or report low confidence`

// Arbiter asks Gemini to decide targets the scope file does not cover and
// actions the manifest marks for validation.
type Arbiter struct {
	client *Client
}

// NewArbiter wraps a client as a policy.Arbiter.
func NewArbiter(c *Client) *Arbiter {
	return &Arbiter{client: c}
}

// Arbitrate implements policy.Arbiter. The reply is decoded as-is; the policy
// engine validates it.
func (a *Arbiter) Arbitrate(ctx context.Context, req policy.ArbitrationRequest) (*policy.ArbitrationResponse, error) {
	scopeJSON, err := json.MarshalIndent(req.Scope, "", "  ")
	if err != nil {
		return nil, err
	}
	concern := ""
	if req.Concern != "" {
		concern = "Policy concern: " + req.Concern + "\n"
	}
	prompt := fmt.Sprintf("Target: %s\nAction: %s\n%s\nProgram scope:\n%s\n\nShould this action be allowed against this target?",
		req.Target, req.Action, concern, scopeJSON)

	text, err := a.client.Generate(ctx, model.PurposeArbitration, arbiterSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var resp policy.ArbitrationResponse
	if err := decodeJSON("llm.Arbitrate", text, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

var _ policy.Arbiter = (*Arbiter)(nil)
