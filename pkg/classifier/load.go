package classifier

import (
	"github.com/exploopio/scopeguard/pkg/config"
	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/triage"
)

// Load returns the classifier named by cfg. A linear model without a model
// path is untrained. The returned close func releases runtime resources.
func Load(cfg config.TriageConfig) (triage.Classifier, func() error, error) {
	nop := func() error { return nil }

	switch cfg.ModelFormat {
	case "", "linear":
		if cfg.ModelPath == "" {
			return NewUntrained(), nop, nil
		}
		m, err := LoadLinear(cfg.ModelPath)
		if err != nil {
			return nil, nil, err
		}
		return m, nop, nil
	case "onnx":
		m, err := LoadONNX(ONNXConfig{ModelPath: cfg.ModelPath, LibraryPath: cfg.ONNXLibrary})
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	default:
		return nil, nil, sgerrors.Configf("classifier.Load", "unknown model format %q", cfg.ModelFormat)
	}
}
