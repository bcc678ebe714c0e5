package detect

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/praetor-ai/rampart/pkg/patterns"
)

// LocalModel runs an ONNX text classifier over the canonical text, fully in
// process. It is opt-in (RAMPART_ENABLE_LOCAL_MODEL=true) and degrades
// gracefully: when the runtime or model is missing it stays not-ready and
// every Detect call returns ErrUnavailable, which the orchestrator records
// as a degraded detector.
type LocalModel struct {
	mu       sync.RWMutex
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	ready    bool
}

// LocalModelConfig points the classifier at an ONNX model directory.
type LocalModelConfig struct {
	// ModelPath must contain model.onnx plus tokenizer files.
	ModelPath string

	// OnnxLibraryPath locates libonnxruntime; empty means use the pure Go
	// backend, which is slower but dependency-free.
	OnnxLibraryPath string
}

// LocalModelEnabled reports whether the in-process classifier should run.
// Disabled by default so a plain install never tries to load ONNX assets.
func LocalModelEnabled() bool {
	switch os.Getenv("RAMPART_ENABLE_LOCAL_MODEL") {
	case "1", "true", "TRUE", "yes", "on":
		return true
	}
	return false
}

// AutoLocalModelConfig resolves a model location from the environment.
// RAMPART_MODEL_PATH wins; otherwise ./models/* directories are searched.
// Returns nil when no model is present.
func AutoLocalModelConfig() *LocalModelConfig {
	candidates := []string{
		os.Getenv("RAMPART_MODEL_PATH"),
		"./models/modernbert-base",
		"./models/deberta-base",
		"./models/deberta-small",
	}
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, "model.onnx")); err == nil {
			return &LocalModelConfig{
				ModelPath:       dir,
				OnnxLibraryPath: findOnnxRuntime(),
			}
		}
	}
	return nil
}

func findOnnxRuntime() string {
	for _, p := range []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	} {
		if _, err := os.Stat(p); err == nil {
			return filepath.Dir(p)
		}
	}
	return ""
}

// NewLocalModel loads the classifier. Initialization failure returns a
// not-ready instance rather than an error so callers can register it
// unconditionally.
func NewLocalModel(cfg LocalModelConfig) *LocalModel {
	m := &LocalModel{}
	if err := m.initialize(cfg); err != nil {
		log.Printf("[DETECT] local model unavailable, continuing without it: %v", err)
	}
	return m
}

func (m *LocalModel) initialize(cfg LocalModelConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := newSession(cfg.OnnxLibraryPath)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	pipeline, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: cfg.ModelPath,
		Name:      "action-threat-classifier",
	})
	if err != nil {
		_ = session.Destroy()
		return fmt.Errorf("pipeline: %w", err)
	}

	m.session = session
	m.pipeline = pipeline
	m.ready = true
	log.Printf("[DETECT] local model ready (model: %s)", cfg.ModelPath)
	return nil
}

// newSession prefers the ONNX Runtime backend and falls back to pure Go.
func newSession(onnxLibPath string) (*hugot.Session, error) {
	if onnxLibPath != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(onnxLibPath))
		if err == nil {
			return session, nil
		}
		log.Printf("[DETECT] onnxruntime backend failed, trying Go backend: %v", err)
	}
	return hugot.NewGoSession()
}

// Ready reports whether the model loaded successfully.
func (m *LocalModel) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

func (m *LocalModel) Name() string           { return "local_model" }
func (m *LocalModel) Priority() int          { return 3 }
func (m *LocalModel) Timeout() time.Duration { return 300 * time.Millisecond }

// threatLabels maps model output labels to threat verdicts. Conventions
// differ per model family.
var threatLabels = map[string]bool{
	"INJECTION": true,
	"jailbreak": true,
	"malicious": true,
	"LABEL_1":   true,
}

func (m *LocalModel) Detect(ctx context.Context, in *Input) ([]Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.ready {
		return nil, ErrUnavailable
	}

	result, err := m.pipeline.RunPipeline([]string{in.Norm.Canonical})
	if err != nil {
		return nil, fmt.Errorf("detect: local model inference: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(result.ClassificationOutputs) == 0 || len(result.ClassificationOutputs[0]) == 0 {
		return nil, nil
	}

	out := result.ClassificationOutputs[0][0]
	if !threatLabels[out.Label] {
		return nil, nil
	}
	return []Signal{{
		Source:     SourceLocalModel,
		RuleID:     "model_" + out.Label,
		Category:   patterns.CategoryJailbreak,
		Severity:   patterns.SeverityHigh,
		Confidence: float64(out.Score),
		Detail:     fmt.Sprintf("classifier label %s", out.Label),
	}}, nil
}

// Close releases the underlying session.
func (m *LocalModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = false
	if m.session != nil {
		return m.session.Destroy()
	}
	return nil
}
