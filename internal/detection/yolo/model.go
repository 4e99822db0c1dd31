// Package yolo serves YOLOv8-style ONNX detection models through ONNX Runtime.
package yolo

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/udit1567/Home.auto/internal/detection"
	"github.com/udit1567/Home.auto/internal/imaging"
)

// Config describes one model file.
type Config struct {
	ModelPath     string
	Labels        []string
	InputSize     int
	ConfThreshold float32
	IOUThreshold  float32
	UseCUDA       bool
}

// Model is a loaded ONNX model. A DynamicAdvancedSession takes its tensors
// per Run call, so one Model serves concurrent requests.
type Model struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	numClasses int
	numBoxes   int
	cfg        Config
}

// NewModel loads cfg.ModelPath. InitRuntime must have succeeded first.
func NewModel(cfg Config) (*Model, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("yolo: failed to read model info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) == 0 {
		return nil, fmt.Errorf("yolo: expected 1 input and at least 1 output, got %d and %d", len(inputs), len(outputs))
	}

	if err := checkInputShape(inputs[0].Dimensions, cfg.InputSize); err != nil {
		return nil, err
	}

	// Output is [batch, 4+classes, boxes].
	dims := outputs[0].Dimensions
	if len(dims) != 3 || dims[1] <= 4 || dims[2] <= 0 {
		return nil, fmt.Errorf("yolo: unexpected output shape %v", dims)
	}
	numClasses := int(dims[1]) - 4
	if len(cfg.Labels) != numClasses {
		return nil, fmt.Errorf("yolo: model has %d classes but %d labels were given", numClasses, len(cfg.Labels))
	}

	session, provider, err := newSession(cfg.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, cfg.UseCUDA)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"model":    cfg.ModelPath,
		"classes":  numClasses,
		"provider": provider,
	}).Info("yolo: model loaded")

	return &Model{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		numClasses: numClasses,
		numBoxes:   int(dims[2]),
		cfg:        cfg,
	}, nil
}

// checkInputShape accepts [batch, 3, size, size] where dynamic (negative)
// spatial dimensions match any size.
func checkInputShape(dims ort.Shape, size int) error {
	if len(dims) != 4 || (dims[1] > 0 && dims[1] != 3) {
		return fmt.Errorf("yolo: unexpected input shape %v", dims)
	}
	for _, d := range dims[2:] {
		if d > 0 && d != int64(size) {
			return fmt.Errorf("yolo: model input is %v but MODEL_INPUT_SIZE is %d", dims, size)
		}
	}
	return nil
}

// Infer runs the model on the handle's in-memory image.
func (m *Model) Infer(ctx context.Context, h *imaging.Handle) ([]detection.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size := int64(m.cfg.InputSize)

	in, err := ort.NewTensor(ort.NewShape(1, 3, size, size), preprocess(h.Image(), m.cfg.InputSize))
	if err != nil {
		return nil, fmt.Errorf("yolo: input tensor: %w", err)
	}
	defer in.Destroy()

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+m.numClasses), int64(m.numBoxes)))
	if err != nil {
		return nil, fmt.Errorf("yolo: output tensor: %w", err)
	}
	defer out.Destroy()

	if err := m.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("%w: %v", detection.ErrInference, err)
	}

	boxes := nms(decodeOutput(out.GetData(), m.numClasses, m.numBoxes, m.cfg.ConfThreshold), m.cfg.IOUThreshold)
	dets := make([]detection.Detection, len(boxes))
	for i, b := range boxes {
		dets[i] = detection.Detection{Class: m.cfg.Labels[b.class], Confidence: float64(b.score)}
	}
	return dets, nil
}

// Close releases the session.
func (m *Model) Close() error {
	return m.session.Destroy()
}
