package classifier

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/exploopio/scopeguard/pkg/config"
	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/shared/severity"
	"github.com/exploopio/scopeguard/pkg/triage"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("SQL-Injection in /api/v1?id=1 (HIGH)")
	want := []string{"sql", "injection", "in", "api", "v1", "id", "1", "high"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Tokenize = %v, want %v", got, want)
	}
}

func TestFeaturize_Normalized(t *testing.T) {
	vec := Featurize("xss xss reflected", 64)
	var norm float64
	for k, v := range vec {
		if k < 0 || k >= 64 {
			t.Errorf("bucket %d out of range", k)
		}
		norm += v * v
	}
	if math.Abs(norm-1) > 1e-9 {
		t.Errorf("squared norm = %v, want 1", norm)
	}
	if len(Featurize("", 64)) != 0 {
		t.Error("empty text should have no features")
	}
}

func TestFeaturize_Deterministic(t *testing.T) {
	a := Featurize("open redirect via next parameter", DefaultDimensions)
	b := Featurize("open redirect via next parameter", DefaultDimensions)
	if len(a) != len(b) {
		t.Fatal("lengths differ")
	}
	for k, v := range a {
		if b[k] != v {
			t.Fatalf("bucket %d differs", k)
		}
	}
}

func TestUntrainedIsNeutral(t *testing.T) {
	m := NewUntrained()
	got, err := m.Score(context.Background(), triage.RawFinding{Name: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if got != triage.NeutralScore || m.Trained() {
		t.Errorf("untrained score = %v", got)
	}
}

func TestLinearModel_Predict(t *testing.T) {
	m, err := ParseLinear(strings.NewReader(`
dimensions: 4096
bias: 0
weights:
  xss: 4
  reflected: 2
  "404": -6
`))
	if err != nil {
		t.Fatalf("ParseLinear failed: %v", err)
	}
	if !m.Trained() {
		t.Fatal("model with weights should be trained")
	}

	pos := m.Predict("Reflected XSS")
	neg := m.Predict("404 not found")
	neutral := m.Predict("unrelated words")

	if pos <= 0.5 || neg >= 0.5 {
		t.Errorf("pos=%v neg=%v", pos, neg)
	}
	if pos <= neutral || neutral <= neg {
		t.Errorf("expected pos > neutral > neg, got %v %v %v", pos, neutral, neg)
	}
	for _, v := range []float64{pos, neg, neutral} {
		if v < 0 || v > 1 {
			t.Errorf("score %v outside [0,1]", v)
		}
	}
}

func TestLinearModel_ScoreUsesFindingText(t *testing.T) {
	m, _ := NewLinearModel(LinearWeights{Dimensions: 4096, Weights: map[string]float64{"critical": 5}})
	hi, _ := m.Score(context.Background(), triage.RawFinding{Name: "x", Severity: severity.Critical})
	lo, _ := m.Score(context.Background(), triage.RawFinding{Name: "x", Severity: severity.Low})
	if hi <= lo {
		t.Errorf("severity text should contribute: critical=%v low=%v", hi, lo)
	}
}

func TestParseLinear_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "dimensions: 8\nbogus: 1\n"},
		{"negative dimensions", "dimensions: -1\n"},
		{"bad weight", "weights:\n  xss: high\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseLinear(strings.NewReader(tt.yaml)); !sgerrors.IsConfigurationError(err) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	c, closeFn, err := Load(config.TriageConfig{ModelFormat: "linear"})
	if err != nil || closeFn() != nil {
		t.Fatalf("Load untrained: %v", err)
	}
	if c.(*LinearModel).Trained() {
		t.Error("expected untrained model")
	}

	path := filepath.Join(t.TempDir(), "weights.yaml")
	if err := os.WriteFile(path, []byte("weights:\n  sqli: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	c, _, err = Load(config.TriageConfig{ModelFormat: "linear", ModelPath: path})
	if err != nil || !c.(*LinearModel).Trained() {
		t.Fatalf("Load trained: %v", err)
	}

	if _, _, err := Load(config.TriageConfig{ModelFormat: "svm"}); !sgerrors.IsConfigurationError(err) {
		t.Errorf("unknown format should fail, got %v", err)
	}
	if _, _, err := Load(config.TriageConfig{ModelFormat: "onnx"}); !sgerrors.IsConfigurationError(err) {
		t.Errorf("onnx without a model path should fail, got %v", err)
	}
}
