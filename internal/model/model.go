// Package model defines what the classifier needs from a trained network and
// provides the runtimes that satisfy it.
package model

import (
	"errors"
	"fmt"

	"github.com/Brownie44l1/digit-api/internal/tensor"
)

// ErrShapeMismatch is returned when a forward pass receives an input whose
// shape differs from the one the model was built for.
var ErrShapeMismatch = errors.New("input shape mismatch")

// Model is a trained network owned by the caller.
type Model interface {
	// Forward runs the network on input and returns the class scores, one row per batch entry.
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)

	// Eval switches off training-only behaviour such as dropout.
	Eval()

	// Device is where the model's weights live. Inputs must be placed there too.
	Device() tensor.Device
}

// GradTracker is implemented by models that keep state for backpropagation.
type GradTracker interface {
	// SetGradEnabled turns gradient bookkeeping on or off and returns the previous setting.
	SetGradEnabled(enabled bool) bool
}

// NoGrad runs fn with gradient tracking disabled on m, restoring the previous
// setting when fn returns or panics.
func NoGrad(m Model, fn func() error) error {
	if gt, ok := m.(GradTracker); ok {
		prev := gt.SetGradEnabled(false)
		defer gt.SetGradEnabled(prev)
	}
	return fn()
}

// CheckInputShape compares got against the expected input shape. Negative
// expected dimensions are dynamic and match any size.
func CheckInputShape(expected, got tensor.Shape) error {
	if len(expected) != len(got) {
		return fmt.Errorf("%w: model expects %s, got %s", ErrShapeMismatch, expected, got)
	}
	for i := range expected {
		if expected[i] >= 0 && expected[i] != got[i] {
			return fmt.Errorf("%w: model expects %s, got %s", ErrShapeMismatch, expected, got)
		}
	}
	return nil
}

func checkDevice(m Model, input *tensor.Tensor) error {
	if input.Device() != m.Device() {
		return fmt.Errorf("%w: input on %s, model on %s", tensor.ErrDevice, input.Device(), m.Device())
	}
	return nil
}
