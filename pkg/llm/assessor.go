package llm

import (
	"context"
	"fmt"

	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/model"
	"github.com/exploopio/scopeguard/pkg/shared/severity"
	"github.com/exploopio/scopeguard/pkg/triage"
)

const assessorSystemPrompt = `You are a security researcher evaluating vulnerability findings.
Score the finding from 0.0 (false positive) to 1.0 (critical true positive).

Respond ONLY with valid JSON:
{
  "score": 0.0 to 1.0,
  "confidence": 0.0 to 1.0,
  "explanation": "brief explanation",
  "severity": "info|low|medium|high|critical",
  "is_likely_fp": true or false
}

Consider evidence quality, exploitability, impact and context.`

// maxPromptEvidence bounds the evidence sent for assessment.
const maxPromptEvidence = 500

type assessmentReply struct {
	Score       *float64 `json:"score"`
	Confidence  *float64 `json:"confidence"`
	Explanation string   `json:"explanation"`
	Severity    string   `json:"severity"`
	IsLikelyFP  bool     `json:"is_likely_fp"`
}

// Assessor asks Gemini to score findings for triage.
type Assessor struct {
	client *Client
}

// NewAssessor wraps a client as a triage.Assessor.
func NewAssessor(c *Client) *Assessor {
	return &Assessor{client: c}
}

// Assess implements triage.Assessor. Replies without a score or confidence
// are malformed.
func (a *Assessor) Assess(ctx context.Context, f triage.RawFinding) (*triage.Assessment, error) {
	const op = "llm.Assess"

	evidence := f.Evidence
	if len(evidence) > maxPromptEvidence {
		evidence = evidence[:maxPromptEvidence]
	}
	description := f.Description
	if description == "" {
		description = "N/A"
	}
	prompt := fmt.Sprintf("Finding:\nName: %s\nTarget: %s\nTemplate: %s\nSeverity: %s\nDescription: %s\nEvidence: %s\n\nScore this finding:",
		f.Name, f.Target, f.TemplateID, f.Severity, description, evidence)

	text, err := a.client.Generate(ctx, model.PurposeTriage, assessorSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var reply assessmentReply
	if err := decodeJSON(op, text, &reply); err != nil {
		return nil, err
	}
	if reply.Score == nil || reply.Confidence == nil {
		return nil, sgerrors.E(sgerrors.KindMalformed, op, "reply missing score or confidence")
	}

	assessment := &triage.Assessment{
		Score:               *reply.Score,
		Confidence:          *reply.Confidence,
		Explanation:         reply.Explanation,
		Severity:            severity.FromString(reply.Severity),
		LikelyFalsePositive: reply.IsLikelyFP,
	}
	if err := assessment.Validate(); err != nil {
		return nil, err
	}
	return assessment, nil
}

var _ triage.Assessor = (*Assessor)(nil)
