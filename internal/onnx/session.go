package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// SessionConfig configures one inference session.
type SessionConfig struct {
	LibraryPath string
	NumThreads  int
	GPU         GPUConfig
}

// Output is a float32 model output copied out of the runtime.
type Output struct {
	Data  []float32
	Shape []int64
}

// Session is a single-input, single-output model session.
type Session struct {
	mu      sync.Mutex
	session *onnxruntime_go.DynamicAdvancedSession
	input   onnxruntime_go.InputOutputInfo
	output  onnxruntime_go.InputOutputInfo
	path    string
}

// Open loads modelPath into a new session.
func Open(modelPath string, cfg SessionConfig) (*Session, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", modelPath, err)
	}
	if err := EnsureEnvironment(cfg.LibraryPath, cfg.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("expected 1 input and at least 1 output, got %d and %d", len(inputs), len(outputs))
	}

	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("failed to destroy session options", "error", err)
		}
	}()

	if err := ConfigureSessionForGPU(opts, cfg.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	s, err := onnxruntime_go.NewDynamicAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &Session{session: s, input: inputs[0], output: outputs[0], path: modelPath}, nil
}

// InputShape returns the declared input dimensions; dynamic axes are -1.
func (s *Session) InputShape() []int64 {
	return append([]int64(nil), s.input.Dimensions...)
}

// Path returns the model file path.
func (s *Session) Path() string { return s.path }

// Run feeds t through the model and returns the first output.
func (s *Session) Run(t Tensor) (Output, error) {
	if err := ValidateNCHW(t.Shape); err != nil {
		return Output{}, fmt.Errorf("invalid tensor: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Output{}, errors.New("session is closed")
	}

	in, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(t.Shape...), t.Data)
	if err != nil {
		return Output{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() { _ = in.Destroy() }()

	outputs := []onnxruntime_go.Value{nil}
	if err := s.session.Run([]onnxruntime_go.Value{in}, outputs); err != nil {
		return Output{}, fmt.Errorf("inference failed: %w", err)
	}
	defer func() { _ = outputs[0].Destroy() }()

	ft, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return Output{}, fmt.Errorf("expected float32 tensor, got %T", outputs[0])
	}
	return Output{
		Data:  append([]float32(nil), ft.GetData()...),
		Shape: append([]int64(nil), ft.GetShape()...),
	}, nil
}

// Close releases the session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
