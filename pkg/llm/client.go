// Package llm is a Gemini generateContent client. It serves as the external
// arbiter for targets outside the scope file and as the finding assessor for
// triage, and can store every prompt/response pair for audit.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/exploopio/scopeguard/pkg/config"
	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/logger"
	"github.com/exploopio/scopeguard/pkg/model"
	"github.com/exploopio/scopeguard/pkg/retry"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// ResponseSink stores prompt/response pairs.
type ResponseSink interface {
	RecordLLMResponse(ctx context.Context, x *model.LLMExchange) error
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	MaxRetries  int

	// RunID tags stored exchanges.
	RunID string

	// Sink receives every successful exchange when set.
	Sink ResponseSink

	// Backoff overrides the retry waits. Default: retry.DefaultBackoffConfig().
	Backoff *retry.BackoffConfig

	HTTPClient *http.Client
	Logger     logger.Logger
}

// ConfigFrom maps the run configuration to a client Config. The sink is only
// attached when storing responses is enabled.
func ConfigFrom(cfg config.LLMConfig, runID string, sink ResponseSink) *Config {
	c := &Config{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		MaxRetries:  cfg.MaxRetries,
		RunID:       runID,
		Backoff:     BackoffFrom(cfg.Backoff),
	}
	if cfg.StoreResponses {
		c.Sink = sink
	}
	return c
}

// BackoffFrom maps the llm.backoff section to retry waits. Zero fields keep
// the retry defaults; an unknown strategy falls back to exponential since
// config.Validate already rejects it.
func BackoffFrom(cfg config.BackoffConfig) *retry.BackoffConfig {
	b := retry.DefaultBackoffConfig()
	if s, err := retry.ParseBackoffStrategy(cfg.Strategy); err == nil {
		b.Strategy = s
	}
	if cfg.BaseInterval > 0 {
		b.BaseInterval = cfg.BaseInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	if cfg.Jitter > 0 {
		b.Jitter = cfg.Jitter
	}
	return b
}

// Client calls the Gemini REST API.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	maxRetries  int
	runID       string
	sink        ResponseSink
	backoff     *retry.BackoffConfig
	httpClient  *http.Client
	log         logger.Logger
}

// New creates a client. An empty API key is a configuration error.
func New(cfg *Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, sgerrors.Configf("llm.New", "api key is not set (GEMINI_API_KEY)")
	}
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		runID:       cfg.RunID,
		sink:        cfg.Sink,
		backoff:     cfg.Backoff,
		httpClient:  cfg.HTTPClient,
		log:         logger.OrNop(cfg.Logger),
	}
	if c.baseURL == "" {
		c.baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if c.model == "" {
		c.model = "gemini-1.5-flash"
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 1024
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.httpClient == nil {
		// Deadlines come from the caller's context.
		c.httpClient = &http.Client{}
	}
	if c.backoff == nil {
		c.backoff = retry.DefaultBackoffConfig()
	}
	c.log.Debug("llm: %s, %d retries, %s backoff %v", c.model, c.maxRetries, c.backoff.Strategy, c.backoff.Schedule(c.maxRetries))
	return c, nil
}

// Model returns the model name.
func (c *Client) Model() string { return c.model }

// Generate sends one prompt and returns the response text. Transient failures
// (429, 5xx, connection errors) are retried inside ctx's deadline.
func (c *Client) Generate(ctx context.Context, purpose model.Purpose, system, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: system}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:      c.temperature,
			MaxOutputTokens:  c.maxTokens,
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return "", sgerrors.E(sgerrors.KindInternal, "llm.Generate", "encode request", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	start := time.Now()

	var text string
	err = retry.Do(ctx, retry.Policy{
		MaxRetries: c.maxRetries,
		Backoff:    c.backoff,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			c.log.Warn("llm: retrying %s request (attempt %d/%d) after %v: %v", purpose, attempt, c.maxRetries, wait, err)
		},
	}, func(ctx context.Context) error {
		data, err := c.doRequestOnce(ctx, url, body)
		if err != nil {
			return err
		}
		text, err = parseGenerateResponse(data)
		return err
	})
	if err != nil {
		return "", err
	}

	latency := time.Since(start)
	c.log.Debug("llm: %s response from %s in %v", purpose, c.model, latency)
	c.store(ctx, &model.LLMExchange{
		RunID:     c.runID,
		Purpose:   purpose,
		Model:     c.model,
		Prompt:    system + "\n\n" + prompt,
		Response:  text,
		Latency:   latency,
		CreatedAt: time.Now().UTC(),
	})
	return text, nil
}

// store records an exchange. Storage failures are logged, not returned.
func (c *Client) store(ctx context.Context, x *model.LLMExchange) {
	if c.sink == nil {
		return
	}
	if err := c.sink.RecordLLMResponse(context.WithoutCancel(ctx), x); err != nil {
		c.log.Warn("llm: failed to store %s response: %v", x.Purpose, err)
	}
}

// doRequestOnce performs a single HTTP request.
func (c *Client) doRequestOnce(ctx context.Context, url string, body []byte) ([]byte, error) {
	const op = "llm.doRequest"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindInternal, op, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("User-Agent", "scopeguard/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, sgerrors.E(sgerrors.KindTimeout, op, "request deadline reached", err)
		}
		return nil, sgerrors.E(sgerrors.KindNetwork, op, "http request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, sgerrors.E(sgerrors.KindTimeout, op, "read deadline reached", err)
		}
		return nil, sgerrors.E(sgerrors.KindNetwork, op, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
		return nil, sgerrors.E(httpErr.Kind(), op, "gemini request failed", httpErr)
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
