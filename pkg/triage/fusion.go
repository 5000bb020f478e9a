// Package triage fuses a local classifier score with an external assessment
// into one bounded final score and a false-positive verdict.
package triage

import (
	"fmt"
	"math"

	"github.com/exploopio/scopeguard/pkg/config"
	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
)

// weightTolerance absorbs float noise when checking that weights sum to 1.
const weightTolerance = 1e-9

// FusionConfig holds the fusion weights and thresholds.
type FusionConfig struct {
	MLWeight         float64
	LLMWeight        float64
	MinLLMConfidence float64
	FPThreshold      float64
}

// DefaultFusionConfig returns the 0.6/0.4 weighting with a 0.5 confidence
// floor and a 0.3 false-positive threshold.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		MLWeight:         0.6,
		LLMWeight:        0.4,
		MinLLMConfidence: 0.5,
		FPThreshold:      0.3,
	}
}

// FusionConfigFrom extracts the fusion settings from a run configuration.
func FusionConfigFrom(cfg config.TriageConfig) FusionConfig {
	return FusionConfig{
		MLWeight:         cfg.MLWeight,
		LLMWeight:        cfg.LLMWeight,
		MinLLMConfidence: cfg.MinLLMConfidence,
		FPThreshold:      cfg.FPThreshold,
	}
}

// Validate checks that every value is in [0,1] and the weights sum to 1.
func (c FusionConfig) Validate() error {
	const op = "triage.FusionConfig"
	for name, v := range map[string]float64{
		"ml_weight":          c.MLWeight,
		"llm_weight":         c.LLMWeight,
		"min_llm_confidence": c.MinLLMConfidence,
		"fp_threshold":       c.FPThreshold,
	} {
		if !inUnit(v) {
			return sgerrors.Configf(op, "%s must be in [0,1], got %v", name, v)
		}
	}
	if math.Abs(c.MLWeight+c.LLMWeight-1) > weightTolerance {
		return sgerrors.Configf(op, "ml_weight + llm_weight must equal 1, got %v", c.MLWeight+c.LLMWeight)
	}
	return nil
}

// FusionResult is the outcome of Fuse.
type FusionResult struct {
	Final           float64
	IsFalsePositive bool

	// Fallback is true when the assessment was absent or not confident enough
	// and the final score is the classifier score alone.
	Fallback bool
}

// Fuse combines a classifier score with an optional assessment score and
// confidence. It is pure: equal inputs always give equal results.
//
// Without an assessment, or when its confidence is below MinLLMConfidence,
// the final score is ml. Otherwise it is
// clamp01(MLWeight*ml + LLMWeight*llm*conf). A finding is a false positive
// when the final score is below FPThreshold or explicitFP is set.
func (c FusionConfig) Fuse(ml float64, llm, conf *float64, explicitFP bool) (FusionResult, error) {
	const op = "triage.Fuse"
	if !inUnit(ml) {
		return FusionResult{}, outOfRange(op, "ml_score", ml)
	}
	if llm != nil && !inUnit(*llm) {
		return FusionResult{}, outOfRange(op, "llm_score", *llm)
	}
	if conf != nil && !inUnit(*conf) {
		return FusionResult{}, outOfRange(op, "llm_confidence", *conf)
	}

	var res FusionResult
	if llm == nil || conf == nil || *conf < c.MinLLMConfidence {
		res.Final = ml
		res.Fallback = true
	} else {
		res.Final = clamp01(c.MLWeight*ml + c.LLMWeight*(*llm)*(*conf))
	}
	res.IsFalsePositive = res.Final < c.FPThreshold || explicitFP
	return res, nil
}

// Fuse applies DefaultFusionConfig.
func Fuse(ml float64, llm, conf *float64, explicitFP bool) (FusionResult, error) {
	return DefaultFusionConfig().Fuse(ml, llm, conf, explicitFP)
}

func outOfRange(op, field string, v float64) error {
	return sgerrors.E(sgerrors.KindOutOfRange, op,
		fmt.Sprintf("%s: %s %v outside [0,1]", sgerrors.ErrFusionInputOutOfRange.Message, field, v))
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
