package model

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"github.com/Brownie44l1/digit-api/internal/tensor"
)

// LinearWeights is the on-disk form of a Linear model.
type LinearWeights struct {
	InputShape []int64     `json:"input_shape"`
	Weight     [][]float32 `json:"weight"`
	Bias       []float32   `json:"bias"`
	Dropout    float64     `json:"dropout"`
}

// Linear is a single fully connected layer over the flattened input,
// optionally preceded by dropout. It runs on the CPU without any runtime.
type Linear struct {
	mu sync.Mutex

	inputShape tensor.Shape
	weight     [][]float32
	bias       []float32
	dropout    float64

	training    bool
	gradEnabled bool
	rng         *rand.Rand
	saved       []*tensor.Tensor
}

// NewLinear builds a model from w. Like a freshly constructed network it
// starts in training mode with gradients enabled.
func NewLinear(w LinearWeights, device tensor.Device) (*Linear, error) {
	if device != tensor.CPUDevice {
		return nil, fmt.Errorf("%w: linear models run on cpu only, not %s", tensor.ErrDevice, device)
	}
	if len(w.InputShape) < 2 {
		return nil, fmt.Errorf("input shape %v needs a batch and at least one feature dimension", w.InputShape)
	}
	features := tensor.Shape(w.InputShape[1:])
	for _, d := range features {
		if d <= 0 {
			return nil, fmt.Errorf("input shape %v has a non-positive feature dimension", w.InputShape)
		}
	}
	if len(w.Weight) == 0 {
		return nil, fmt.Errorf("weight matrix is empty")
	}
	for i, row := range w.Weight {
		if len(row) != features.NumElements() {
			return nil, fmt.Errorf("weight row %d has %d values, want %d", i, len(row), features.NumElements())
		}
	}
	if len(w.Bias) != len(w.Weight) {
		return nil, fmt.Errorf("bias has %d values, want %d", len(w.Bias), len(w.Weight))
	}
	if w.Dropout < 0 || w.Dropout >= 1 {
		return nil, fmt.Errorf("dropout %v outside [0,1)", w.Dropout)
	}

	return &Linear{
		inputShape:  tensor.Shape(w.InputShape).Clone(),
		weight:      w.Weight,
		bias:        w.Bias,
		dropout:     w.Dropout,
		training:    true,
		gradEnabled: true,
		rng:         rand.New(rand.NewSource(1)),
	}, nil
}

// LoadLinear reads LinearWeights from a JSON file.
func LoadLinear(path string, device tensor.Device) (*Linear, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading weights: %w", err)
	}

	var w LinearWeights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("error parsing weights: %w", err)
	}
	return NewLinear(w, device)
}

// Forward implements Model.
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkDevice(l, input); err != nil {
		return nil, err
	}
	shape := input.Shape()
	if err := CheckInputShape(l.inputShape, shape); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	batch := int(shape[0])
	features := shape[1:].NumElements()
	classes := len(l.weight)
	x := input.Data()

	out := make([]float32, batch*classes)
	for b := 0; b < batch; b++ {
		row := x[b*features : (b+1)*features]
		if l.training && l.dropout > 0 {
			row = l.applyDropout(row)
		}
		for c, w := range l.weight {
			sum := l.bias[c]
			for i, v := range row {
				sum += w[i] * v
			}
			out[b*classes+c] = sum
		}
	}

	if l.gradEnabled {
		l.saved = append(l.saved, input)
	}
	return tensor.New(tensor.Shape{int64(batch), int64(classes)}, out)
}

func (l *Linear) applyDropout(row []float32) []float32 {
	scale := float32(1 / (1 - l.dropout))
	dropped := make([]float32, len(row))
	for i, v := range row {
		if l.rng.Float64() >= l.dropout {
			dropped[i] = v * scale
		}
	}
	return dropped
}

// Eval implements Model.
func (l *Linear) Eval() {
	l.mu.Lock()
	l.training = false
	l.mu.Unlock()
}

// Train re-enables dropout.
func (l *Linear) Train() {
	l.mu.Lock()
	l.training = true
	l.mu.Unlock()
}

// Training reports whether dropout is active.
func (l *Linear) Training() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.training
}

// SetGradEnabled implements GradTracker.
func (l *Linear) SetGradEnabled(enabled bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.gradEnabled
	l.gradEnabled = enabled
	return prev
}

// GradEnabled reports whether forward passes record activations.
func (l *Linear) GradEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gradEnabled
}

// SavedActivations returns how many inputs are held for a backward pass.
func (l *Linear) SavedActivations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.saved)
}

// Device implements Model.
func (l *Linear) Device() tensor.Device { return tensor.CPUDevice }

// NumClasses returns the length of the score vector.
func (l *Linear) NumClasses() int { return len(l.weight) }
