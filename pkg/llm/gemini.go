package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
)

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// parseGenerateResponse returns the text of the first candidate.
func parseGenerateResponse(data []byte) (string, error) {
	const op = "llm.parseResponse"

	var resp generateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", sgerrors.E(sgerrors.KindMalformed, op, "decode response", err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", sgerrors.E(sgerrors.KindMalformed, op, "prompt blocked: "+resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", sgerrors.E(sgerrors.KindMalformed, op, "no candidates in response")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", sgerrors.E(sgerrors.KindMalformed, op,
			fmt.Sprintf("empty response (finish reason %q)", resp.Candidates[0].FinishReason))
	}
	return text, nil
}

// HTTPError represents a non-2xx response.
type HTTPError struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Kind maps the status to an error kind: 429 is a rate limit, 5xx a server
// error, anything else invalid input.
func (e *HTTPError) Kind() sgerrors.Kind {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return sgerrors.KindRateLimit
	case e.StatusCode >= 500:
		return sgerrors.KindServer
	default:
		return sgerrors.KindInvalidInput
	}
}

// IsHTTPError checks if err is an HTTPError and returns it.
func IsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// ExtractJSON returns the JSON document in a model reply, unwrapping a
// ```json (or bare ```) fence when present.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```json", "```"} {
		start := strings.Index(text, fence)
		if start < 0 {
			continue
		}
		rest := text[start+len(fence):]
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest)
	}
	return text
}

// decodeJSON extracts and decodes a JSON reply into v.
func decodeJSON(op, text string, v any) error {
	if err := json.Unmarshal([]byte(ExtractJSON(text)), v); err != nil {
		return sgerrors.E(sgerrors.KindMalformed, op, "reply is not valid JSON: "+truncate(text, 200), err)
	}
	return nil
}
