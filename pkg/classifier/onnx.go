package classifier

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/triage"
)

// ONNXConfig describes an exported model that takes one hashed feature
// vector of shape [1, Dimensions] and returns one value of shape [1, 1].
type ONNXConfig struct {
	ModelPath string

	// LibraryPath is the onnxruntime shared library. When empty,
	// ONNXRUNTIME_SHARED_LIBRARY_PATH and common install locations are tried.
	LibraryPath string

	Dimensions int

	// InputName and OutputName default to "features" and "score".
	InputName  string
	OutputName string

	// Logits applies a sigmoid to the raw output.
	Logits bool
}

// ONNXModel runs an exported classifier through onnxruntime. The session
// tensors are reused, so Score calls are serialized.
type ONNXModel struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	dims    int
	logits  bool

	mu sync.Mutex
}

// LoadONNX initializes the runtime and creates a session for cfg.ModelPath.
func LoadONNX(cfg ONNXConfig) (*ONNXModel, error) {
	const op = "classifier.LoadONNX"

	if cfg.ModelPath == "" {
		return nil, sgerrors.Configf(op, "model path is empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, sgerrors.E(sgerrors.KindConfiguration, op, "model file missing", err)
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.InputName == "" {
		cfg.InputName = "features"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "score"
	}

	lib := cfg.LibraryPath
	if lib == "" {
		lib = resolveSharedLibraryPath(filepath.Dir(cfg.ModelPath))
	}
	if lib == "" {
		return nil, sgerrors.Configf(op, "onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or triage.onnx_library")
	}
	ort.SetSharedLibraryPath(lib)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, sgerrors.E(sgerrors.KindConfiguration, op, "initialize onnxruntime", err)
		}
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Dimensions)))
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindInternal, op, "allocate input tensor", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		input.Destroy()
		return nil, sgerrors.E(sgerrors.KindInternal, op, "allocate output tensor", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, sgerrors.E(sgerrors.KindConfiguration, op, "create onnx session", err)
	}

	return &ONNXModel{
		session: session,
		input:   input,
		output:  output,
		dims:    cfg.Dimensions,
		logits:  cfg.Logits,
	}, nil
}

// Score implements triage.Classifier.
func (m *ONNXModel) Score(_ context.Context, f triage.RawFinding) (float64, error) {
	if m == nil || m.session == nil {
		return 0, sgerrors.E(sgerrors.KindInternal, "classifier.ONNXModel.Score", "model not initialized")
	}
	vec := Dense(Featurize(Text(f), m.dims), m.dims)

	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.input.GetData(), vec)
	if err := m.session.Run(); err != nil {
		return 0, sgerrors.E(sgerrors.KindInternal, "classifier.ONNXModel.Score", "onnx run", err)
	}

	v := float64(m.output.GetData()[0])
	if m.logits {
		v = sigmoid(v)
	}
	if math.IsNaN(v) || v < 0 || v > 1 {
		return 0, sgerrors.E(sgerrors.KindOutOfRange, "classifier.ONNXModel.Score", fmt.Sprintf("model output %v outside [0,1]", v))
	}
	return v, nil
}

// Close releases the session and tensors.
func (m *ONNXModel) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.session != nil {
		err = m.session.Destroy()
		m.session = nil
	}
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
	return err
}

func resolveSharedLibraryPath(modelDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}
	names := []string{"libonnxruntime.so", "libonnxruntime.dylib", "onnxruntime.dll"}
	dirs := []string{modelDir, filepath.Join(modelDir, "lib"), "/usr/local/lib", "/usr/lib", "/opt/homebrew/lib"}
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

var _ triage.Classifier = (*ONNXModel)(nil)
