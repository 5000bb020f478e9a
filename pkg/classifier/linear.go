package classifier

import (
	"bytes"
	"context"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/triage"
)

// LinearWeights is the on-disk form of a trained logistic model. Token
// weights are hashed into Dimensions buckets at load time.
//
//	dimensions: 1024
//	bias: -0.4
//	weights:
//	  xss: 1.3
//	  reflected: 0.8
//	  "404": -1.1
type LinearWeights struct {
	Dimensions int                `yaml:"dimensions"`
	Bias       float64            `yaml:"bias"`
	Weights    map[string]float64 `yaml:"weights"`
}

// LinearModel is a hashed bag-of-words logistic regression. A model with no
// weights is untrained and scores every finding NeutralScore.
type LinearModel struct {
	dims    int
	bias    float64
	weights []float64
	trained bool
}

// NewUntrained returns a model that always scores triage.NeutralScore.
func NewUntrained() *LinearModel {
	return &LinearModel{dims: DefaultDimensions}
}

// NewLinearModel builds a model from weights.
func NewLinearModel(w LinearWeights) (*LinearModel, error) {
	dims := w.Dimensions
	if dims == 0 {
		dims = DefaultDimensions
	}
	if dims < 0 {
		return nil, sgerrors.Configf("classifier.NewLinearModel", "dimensions must be positive, got %d", dims)
	}

	m := &LinearModel{dims: dims, bias: w.Bias, weights: make([]float64, dims)}
	for tok, v := range w.Weights {
		for _, t := range Tokenize(tok) {
			m.weights[Bucket(t, dims)] += v
		}
	}
	m.trained = len(w.Weights) > 0
	return m, nil
}

// LoadLinear reads YAML weights from path.
func LoadLinear(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindConfiguration, "classifier.LoadLinear", "read model file", err)
	}
	return ParseLinear(bytes.NewReader(data))
}

// ParseLinear decodes YAML weights. Unknown keys are rejected.
func ParseLinear(r io.Reader) (*LinearModel, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var w LinearWeights
	if err := dec.Decode(&w); err != nil && err != io.EOF {
		return nil, sgerrors.E(sgerrors.KindConfiguration, "classifier.ParseLinear", "decode model weights", err)
	}
	return NewLinearModel(w)
}

// Trained reports whether the model carries weights.
func (m *LinearModel) Trained() bool { return m.trained }

// Predict returns the positive-class probability for text.
func (m *LinearModel) Predict(text string) float64 {
	if !m.trained {
		return triage.NeutralScore
	}
	z := m.bias
	for k, v := range Featurize(text, m.dims) {
		z += m.weights[k] * v
	}
	return sigmoid(z)
}

// Score implements triage.Classifier.
func (m *LinearModel) Score(_ context.Context, f triage.RawFinding) (float64, error) {
	return m.Predict(Text(f)), nil
}

var _ triage.Classifier = (*LinearModel)(nil)
