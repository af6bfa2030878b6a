package model

import (
	"context"
	"fmt"
	"strings"
)

type Metadata struct {
	InputShape  []int64    `json:"input_shape"`
	OutputShape []int64    `json:"output_shape"`
	Classes     []string   `json:"classes"`
	ImageSize   int        `json:"image_size"`
	Mean        [3]float32 `json:"mean"`
	Std         [3]float32 `json:"std"`
	InputName   string     `json:"input_name"`
	OutputName  string     `json:"output_name"`

	// Softmax tells whether the output holds raw logits. Nil means true.
	Softmax *bool `json:"softmax"`
}

// ImageNet statistics the backbone was pretrained with.
var (
	DefaultMean = [3]float32{0.485, 0.456, 0.406}
	DefaultStd  = [3]float32{0.229, 0.224, 0.225}
)

const DefaultImageSize = 224

func (m *Metadata) applyDefaults() {
	if m.ImageSize == 0 {
		m.ImageSize = DefaultImageSize
	}
	if m.Mean == [3]float32{} {
		m.Mean = DefaultMean
	}
	if m.Std == [3]float32{} {
		m.Std = DefaultStd
	}
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if len(m.InputShape) == 0 {
		m.InputShape = []int64{1, 3, int64(m.ImageSize), int64(m.ImageSize)}
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = []int64{1, int64(len(m.Classes))}
	}
}

func (m Metadata) applySoftmax() bool {
	return m.Softmax == nil || *m.Softmax
}

// InputSize is the number of float32 values one prediction consumes.
func (m Metadata) InputSize() int {
	size := 1
	for _, dim := range m.InputShape {
		size *= int(dim)
	}
	return size
}

func (m Metadata) validate() error {
	if len(m.Classes) == 0 {
		return fmt.Errorf("metadata has no classes and no labels file was given")
	}
	if got, want := m.InputSize(), 3*m.ImageSize*m.ImageSize; got != want {
		return fmt.Errorf("input shape %v does not hold a 3x%dx%d image", m.InputShape, m.ImageSize, m.ImageSize)
	}
	out := 1
	for _, dim := range m.OutputShape {
		out *= int(dim)
	}
	if out != len(m.Classes) {
		return fmt.Errorf("output shape %v does not match %d classes", m.OutputShape, len(m.Classes))
	}
	return nil
}

type Device string

const (
	CPU Device = "cpu"
	GPU Device = "gpu"
	MPS Device = "mps"
)

// ParseDevice accepts "cpu", "gpu" and "mps". An empty string is CPU.
func ParseDevice(s string) (Device, error) {
	switch d := Device(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return CPU, nil
	case CPU, GPU, MPS:
		return d, nil
	}
	return "", fmt.Errorf("unknown device %q: use one of cpu, gpu, mps", s)
}

type Score struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
}

// Predictions is ordered by confidence, highest first.
type Predictions []Score

func (p Predictions) Top() (Score, bool) {
	if len(p) == 0 {
		return Score{}, false
	}
	return p[0], true
}

func (p Predictions) Confidences() map[string]float32 {
	out := make(map[string]float32, len(p))
	for _, s := range p {
		out[s.Class] = s.Confidence
	}
	return out
}

type Result struct {
	Predictions Predictions
	// Device is where inference actually ran.
	Device Device
}

type Classifier interface {
	Classify(ctx context.Context, file []byte, device Device) (*Result, error)
	Classes() []string
	Close()
}

// PredictionResponse is the flat shape of a single classification.
type PredictionResponse struct {
	Class       string             `json:"class"`
	Confidence  float32            `json:"confidence"`
	Predictions map[string]float32 `json:"predictions"`
	Device      Device             `json:"device"`
}

func NewPredictionResponse(r *Result) PredictionResponse {
	top, _ := r.Predictions.Top()
	return PredictionResponse{
		Class:       top.Class,
		Confidence:  top.Confidence,
		Predictions: r.Predictions.Confidences(),
		Device:      r.Device,
	}
}
