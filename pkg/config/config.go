// Package config loads the run configuration: rate limits, arbitration and
// override policy, fusion weights and thresholds, LLM and storage settings.
//
// Values come from a YAML file (environment references are expanded) and are
// then overridden by the SCAN_RATE, MAX_CONCURRENCY, TIMEOUT, ... environment
// variables. An invalid configuration is a configuration error and must stop
// the run before any evaluation.
package config

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
)

// DefaultOverrideToken is the literal an operator must type to override an
// UNKNOWN decision.
const DefaultOverrideToken = "I_ACCEPT_RISK"

// Config is the complete run configuration.
type Config struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Timeout   time.Duration   `yaml:"timeout"`
	Policy    PolicyConfig    `yaml:"policy"`
	Triage    TriageConfig    `yaml:"triage"`
	LLM       LLMConfig       `yaml:"llm"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type RateLimitConfig struct {
	ScanRate       int `yaml:"scan_rate"` // requests per minute
	MaxConcurrency int `yaml:"max_concurrency"`
	Burst          int `yaml:"burst"`
}

type PolicyConfig struct {
	// ArbiterConfidenceThreshold is the minimum arbiter confidence for ALLOW.
	ArbiterConfidenceThreshold float64 `yaml:"arbiter_confidence_threshold"`
	AllowManualOverride        bool    `yaml:"allow_manual_override"`
	OverrideToken              string  `yaml:"override_token"`
	ScopeFile                  string  `yaml:"scope_file"`
	BlocklistFile              string  `yaml:"blocklist_file"`
}

type TriageConfig struct {
	MLWeight         float64 `yaml:"ml_weight"`
	LLMWeight        float64 `yaml:"llm_weight"`
	MinLLMConfidence float64 `yaml:"min_llm_confidence"`
	FPThreshold      float64 `yaml:"fp_threshold"`
	ModelPath        string  `yaml:"model_path"`
	ModelFormat      string  `yaml:"model_format"` // linear | onnx
	ONNXLibrary      string  `yaml:"onnx_library"`
}

type LLMConfig struct {
	Provider       string  `yaml:"provider"` // gemini | none
	Model          string  `yaml:"model"`
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	MaxRetries     int     `yaml:"max_retries"`
	StoreResponses bool    `yaml:"store_responses"`

	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig shapes the waits between retries of transient LLM failures.
type BackoffConfig struct {
	Strategy     string        `yaml:"strategy"` // exponential | linear | constant
	BaseInterval time.Duration `yaml:"base_interval"`
	MaxInterval  time.Duration `yaml:"max_interval"`
	Jitter       float64       `yaml:"jitter"`
}

type StorageConfig struct {
	DBPath   string `yaml:"db_path"`
	AuditLog string `yaml:"audit_log"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file or variable overrides it.
func Default() *Config {
	return &Config{
		RateLimit: RateLimitConfig{
			ScanRate:       5,
			MaxConcurrency: 4,
			Burst:          1,
		},
		Timeout: 20 * time.Second,
		Policy: PolicyConfig{
			ArbiterConfidenceThreshold: 0.7,
			OverrideToken:              DefaultOverrideToken,
		},
		Triage: TriageConfig{
			MLWeight:         0.6,
			LLMWeight:        0.4,
			MinLLMConfidence: 0.5,
			FPThreshold:      0.3,
			ModelFormat:      "linear",
		},
		LLM: LLMConfig{
			Provider:       "gemini",
			Model:          "gemini-1.5-flash",
			BaseURL:        "https://generativelanguage.googleapis.com/v1beta",
			MaxTokens:      1024,
			Temperature:    0.1,
			MaxRetries:     2,
			StoreResponses: true,
			Backoff: BackoffConfig{
				Strategy:     "exponential",
				BaseInterval: 500 * time.Millisecond,
				MaxInterval:  5 * time.Second,
				Jitter:       0.1,
			},
		},
		Storage: StorageConfig{
			DBPath:   "./db/scopeguard.db",
			AuditLog: "./outputs/audit.jsonl",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, sgerrors.E(sgerrors.KindConfiguration, "config.Load", "read config", err)
		}
		if err := decode(bytes.NewReader([]byte(os.ExpandEnv(string(data)))), cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return sgerrors.E(sgerrors.KindConfiguration, "config.Load", "parse config", err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv. Unparseable values are configuration errors.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs ValidationErrors

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs.Add(name, "must be an integer")
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs.Add(name, "must be a number")
				return
			}
			*dst = f
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs.Add(name, "must be true or false")
				return
			}
			*dst = b
		}
	}

	integer("SCAN_RATE", &c.RateLimit.ScanRate)
	integer("MAX_CONCURRENCY", &c.RateLimit.MaxConcurrency)
	if v, ok := lookup("TIMEOUT"); ok && strings.TrimSpace(v) != "" {
		d, err := parseTimeout(strings.TrimSpace(v))
		if err != nil {
			errs.Add("TIMEOUT", "must be seconds or a duration")
		} else {
			c.Timeout = d
		}
	}
	boolean("ALLOW_MANUAL_UNBLOCK", &c.Policy.AllowManualOverride)
	boolean("STORE_LLM_RESPONSES", &c.LLM.StoreResponses)
	str("LOG_LEVEL", &c.Logging.Level)
	float("ML_WEIGHT", &c.Triage.MLWeight)
	float("LLM_WEIGHT", &c.Triage.LLMWeight)
	float("ARBITER_CONFIDENCE_THRESHOLD", &c.Policy.ArbiterConfidenceThreshold)
	float("MIN_LLM_CONFIDENCE", &c.Triage.MinLLMConfidence)
	float("FP_THRESHOLD", &c.Triage.FPThreshold)
	str("DB_PATH", &c.Storage.DBPath)
	str("AUDIT_LOG", &c.Storage.AuditLog)
	str("GEMINI_API_KEY", &c.LLM.APIKey)
	str("LLM_BACKOFF", &c.LLM.Backoff.Strategy)

	if errs.HasErrors() {
		return sgerrors.E(sgerrors.KindConfiguration, "config.ApplyEnv", "invalid environment", errs)
	}
	return nil
}

// parseTimeout accepts plain seconds ("20") or a Go duration ("1m30s").
func parseTimeout(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks every bound. All violations are reported together.
func (c *Config) Validate() error {
	v := NewValidator().
		Range("rate_limit.scan_rate", c.RateLimit.ScanRate, 1, 100).
		Range("rate_limit.max_concurrency", c.RateLimit.MaxConcurrency, 1, 20).
		Range("rate_limit.burst", c.RateLimit.Burst, 1, 100).
		Positive("timeout", c.Timeout).
		Unit("policy.arbiter_confidence_threshold", c.Policy.ArbiterConfidenceThreshold).
		Required("policy.override_token", c.Policy.OverrideToken).
		Unit("triage.ml_weight", c.Triage.MLWeight).
		Unit("triage.llm_weight", c.Triage.LLMWeight).
		Custom("triage", math.Abs(c.Triage.MLWeight+c.Triage.LLMWeight-1) <= 1e-9,
			"ml_weight and llm_weight must sum to 1").
		Unit("triage.min_llm_confidence", c.Triage.MinLLMConfidence).
		Unit("triage.fp_threshold", c.Triage.FPThreshold).
		OneOf("triage.model_format", c.Triage.ModelFormat, []string{"linear", "onnx"}).
		OneOf("llm.provider", c.LLM.Provider, []string{"gemini", "none"}).
		Custom("llm.max_retries", c.LLM.MaxRetries >= 0, "must not be negative").
		OneOf("llm.backoff.strategy", c.LLM.Backoff.Strategy, []string{"exponential", "linear", "constant"}).
		Positive("llm.backoff.base_interval", c.LLM.Backoff.BaseInterval).
		Custom("llm.backoff.max_interval", c.LLM.Backoff.MaxInterval >= c.LLM.Backoff.BaseInterval,
			"must not be below base_interval").
		Unit("llm.backoff.jitter", c.LLM.Backoff.Jitter).
		OneOf("logging.level", strings.ToLower(c.Logging.Level), []string{"debug", "info", "warn", "warning", "error", "silent"})

	if errs := v.Errors(); errs.HasErrors() {
		return sgerrors.E(sgerrors.KindConfiguration, "config.Validate", "invalid configuration", errs)
	}
	return nil
}

// ArbiterEnabled reports whether arbitration can run: a provider is set and
// has credentials.
func (c *Config) ArbiterEnabled() bool {
	return c.LLM.Provider == "gemini" && c.LLM.APIKey != ""
}
