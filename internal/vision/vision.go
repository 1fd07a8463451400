// Package vision runs the durian models: the object detector, the disease
// detector and the rind color classifier. Models run in-process with ONNX
// Runtime or behind a remote inference service.
package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/durianscan/internal/config"
	"github.com/your-org/durianscan/internal/models"
)

// Detector produces raw detection records for one image. Records are not
// trusted until they pass the grading normalizer.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]models.RawDetection, error)
}

// Classifier produces the raw rind color record for one image.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (*models.RawColor, error)
}

// Models holds whichever models could be loaded. A nil field means the model
// is unavailable; the scan service treats it as producing no output.
type Models struct {
	Objects Detector
	Disease Detector
	Color   Classifier

	health  func(ctx context.Context) error
	closers []func()
}

// Open loads the models for the configured backend. The onnx backend expects
// the ONNX Runtime environment to be initialized already.
func Open(cfg config.VisionConfig) (*Models, error) {
	switch cfg.Backend {
	case config.BackendRemote:
		c := NewRemoteClient(cfg.InferenceURL, cfg.InferenceTimeout)
		slog.Info("using remote inference", "url", cfg.InferenceURL)
		return &Models{
			Objects: c.Objects(),
			Disease: c.Disease(),
			Color:   c.Color(),
			health:  c.CheckHealth,
		}, nil
	case config.BackendONNX:
		return openONNX(cfg)
	case config.BackendNone:
		slog.Warn("vision backend disabled, scans will report no detections")
		return &Models{}, nil
	default:
		return nil, fmt.Errorf("unknown vision backend %q", cfg.Backend)
	}
}

func openONNX(cfg config.VisionConfig) (*Models, error) {
	m := &Models{}
	threshold := float32(cfg.DetectionThreshold)
	iouThreshold := float32(cfg.IOUThreshold)

	objPath := filepath.Join(cfg.ModelsDir, cfg.ObjectModel)
	slog.Info("loading durian detection model", "path", objPath)
	obj, err := NewYOLODetector(objPath, cfg.ObjectClasses, threshold, iouThreshold, nil)
	if err != nil {
		return nil, fmt.Errorf("load object detector: %w", err)
	}
	m.Objects = obj
	m.closers = append(m.closers, obj.Close)

	// The disease and color models are optional; a scan without them still
	// grades the fruit.
	diseasePath := filepath.Join(cfg.ModelsDir, cfg.DiseaseModel)
	if fileExists(diseasePath) {
		slog.Info("loading disease model", "path", diseasePath)
		dis, err := NewYOLODetector(diseasePath, cfg.DiseaseClasses, threshold, iouThreshold, nil)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("load disease detector: %w", err)
		}
		m.Disease = dis
		m.closers = append(m.closers, dis.Close)
	} else {
		slog.Warn("disease model not found", "path", diseasePath)
	}

	colorPath := filepath.Join(cfg.ModelsDir, cfg.ColorModel)
	if fileExists(colorPath) {
		slog.Info("loading color model", "path", colorPath)
		col, err := NewColorClassifier(colorPath, nil)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("load color classifier: %w", err)
		}
		m.Color = col
		m.closers = append(m.closers, col.Close)
	} else {
		slog.Warn("color model not found", "path", colorPath)
	}

	slog.Info("vision models ready")
	return m, nil
}

// Setup initializes whatever runtime the backend needs and opens the
// models. The returned func releases both.
func Setup(cfg config.VisionConfig) (*Models, func(), error) {
	teardown := func() {}
	if cfg.Backend == config.BackendONNX {
		lib := cfg.ONNXLib
		if lib == "" {
			lib = defaultONNXLib()
		}
		destroy, err := InitONNX(lib)
		if err != nil {
			return nil, nil, err
		}
		teardown = destroy
	}

	m, err := Open(cfg)
	if err != nil {
		teardown()
		return nil, nil, err
	}
	return m, func() {
		m.Close()
		teardown()
	}, nil
}

// InitONNX points onnxruntime_go at the shared library and initializes the
// runtime environment. The returned func tears it down.
func InitONNX(libPath string) (func(), error) {
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx runtime: %w", err)
	}
	return func() { _ = ort.DestroyEnvironment() }, nil
}

// Ready reports whether the primary detector is available.
func (m *Models) Ready() bool {
	return m != nil && m.Objects != nil
}

// Check is the readiness probe for the inference backend.
func (m *Models) Check(ctx context.Context) error {
	if !m.Ready() {
		return errors.New("object detector not loaded")
	}
	if m.health != nil {
		return m.health(ctx)
	}
	return nil
}

// Close releases all ONNX sessions.
func (m *Models) Close() {
	if m == nil {
		return
	}
	for _, c := range m.closers {
		c()
	}
	m.closers = nil
}

// defaultONNXLib returns the ONNX Runtime shared library name for the OS.
func defaultONNXLib() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
