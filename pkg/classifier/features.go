// Package classifier scores findings locally. Text from a finding's name,
// description, severity and evidence is hashed into a fixed-size bag of words
// and fed to a linear model (weights in YAML) or an exported ONNX model.
package classifier

import (
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/exploopio/scopeguard/pkg/triage"
)

const (
	// DefaultDimensions is the feature vector size.
	DefaultDimensions = 1024

	// maxEvidence bounds how much evidence text is featurized.
	maxEvidence = 4096
)

// Text joins the fields a classifier looks at.
func Text(f triage.RawFinding) string {
	evidence := f.Evidence
	if len(evidence) > maxEvidence {
		evidence = evidence[:maxEvidence]
	}
	return strings.Join([]string{f.Name, f.Description, string(f.Severity), evidence}, " ")
}

// Tokenize lower-cases s and splits it on anything that is not a letter or digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Bucket maps a token to a feature index.
func Bucket(token string, dims int) int {
	return int(xxhash.Sum64String(token) % uint64(dims))
}

// Featurize returns the L2-normalized hashed term counts of text. Only
// non-zero buckets are present.
func Featurize(text string, dims int) map[int]float64 {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	vec := make(map[int]float64)
	for _, tok := range Tokenize(text) {
		vec[Bucket(tok, dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for k, v := range vec {
		vec[k] = v / norm
	}
	return vec
}

// Dense expands a sparse vector to float32 for tensor input.
func Dense(vec map[int]float64, dims int) []float32 {
	out := make([]float32, dims)
	for k, v := range vec {
		if k >= 0 && k < dims {
			out[k] = float32(v)
		}
	}
	return out
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
