// Package onnx runs the eco-detection model through OpenCV's DNN module.
package onnx

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/terra-ai/eco-verify/internal/apperrors"
	"github.com/terra-ai/eco-verify/internal/detector"
)

// Model wraps a loaded gocv network. Forward passes are serialized because a
// gocv.Net is not safe for concurrent use.
type Model struct {
	mu        sync.Mutex
	net       gocv.Net
	inputSize int
	logger    *zap.Logger
}

// NewLoader returns a detector.Loader that reads the ONNX file at modelPath.
func NewLoader(modelPath string, inputSize int, logger *zap.Logger) detector.Loader {
	return func(ctx context.Context) (detector.Inferencer, error) {
		return Load(modelPath, inputSize, logger)
	}
}

// Load reads and prepares the network for CPU inference.
func Load(modelPath string, inputSize int, logger *zap.Logger) (*Model, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, apperrors.NewModelLoadError(fmt.Sprintf("model file not found: %s", modelPath), err)
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, apperrors.NewModelLoadError("failed to load network", nil)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, apperrors.NewModelLoadError("failed to set preferable backend or target", nil)
	}

	logger.Info("detection network initialized", zap.String("model_path", modelPath))
	return &Model{net: net, inputSize: inputSize, logger: logger}, nil
}

// Infer feeds a [1,3,size,size] tensor and copies the first output back out.
func (m *Model) Infer(ctx context.Context, tensor []float32) (detector.RawOutput, error) {
	if err := ctx.Err(); err != nil {
		return detector.RawOutput{}, apperrors.NewInferenceError("inference cancelled", err)
	}
	if len(tensor) != 3*m.inputSize*m.inputSize {
		return detector.RawOutput{}, apperrors.NewInferenceError(
			fmt.Sprintf("tensor has %d values, want %d", len(tensor), 3*m.inputSize*m.inputSize), nil)
	}

	buf := make([]byte, 4*len(tensor))
	for i, v := range tensor {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}

	blob, err := gocv.NewMatWithSizesFromBytes([]int{1, 3, m.inputSize, m.inputSize}, gocv.MatTypeCV32F, buf)
	if err != nil {
		return detector.RawOutput{}, apperrors.NewInferenceError("failed to build input blob", err)
	}
	defer blob.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return detector.RawOutput{}, apperrors.NewInferenceError("network produced no output", nil)
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return detector.RawOutput{}, apperrors.NewInferenceError("failed to read output", err)
	}

	shape := out.Size()
	result := detector.RawOutput{
		Data:  make([]float32, len(data)),
		Shape: append([]int(nil), shape...),
	}
	copy(result.Data, data)
	m.logger.Debug("forward pass complete", zap.Ints("shape", result.Shape))
	return result, nil
}

// Close frees the network.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}
