// Package tensor holds the dense float32 arrays exchanged with a model.
//
// Tensors are immutable once created: every transformation returns a new
// value and never writes into the receiver's data.
package tensor

import (
	"fmt"
	"strings"
)

// Shape lists the size of each dimension, outermost first.
type Shape []int64

// NumElements returns the product of all dimensions.
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= int(d)
	}
	return n
}

// Equal reports whether both shapes have the same rank and sizes.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of s.
func (s Shape) Clone() Shape {
	return append(Shape(nil), s...)
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, "x") + "]"
}

// Tensor is a dense float32 array placed on a device.
type Tensor struct {
	shape  Shape
	data   []float32
	device Device
}

// New creates a CPU tensor. The tensor takes ownership of data.
func New(shape Shape, data []float32) (*Tensor, error) {
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("invalid shape %s", shape)
		}
	}
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %s needs %d values, got %d", shape, shape.NumElements(), len(data))
	}
	return &Tensor{shape: shape.Clone(), data: data, device: CPUDevice}, nil
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() Shape { return t.shape.Clone() }

// Data returns the backing values in row-major order. Callers must not modify them.
func (t *Tensor) Data() []float32 { return t.data }

// Device returns where the tensor is placed.
func (t *Tensor) Device() Device { return t.device }

// Unsqueeze inserts a dimension of size one at position dim.
func (t *Tensor) Unsqueeze(dim int) (*Tensor, error) {
	if dim < 0 || dim > len(t.shape) {
		return nil, fmt.Errorf("unsqueeze: dim %d out of range for rank %d", dim, len(t.shape))
	}
	shape := make(Shape, 0, len(t.shape)+1)
	shape = append(shape, t.shape[:dim]...)
	shape = append(shape, 1)
	shape = append(shape, t.shape[dim:]...)
	return &Tensor{shape: shape, data: t.data, device: t.device}, nil
}

// To returns the tensor placed on d. Host memory is shared by every device
// kind here; the runtime behind the model performs the actual transfer.
func (t *Tensor) To(d Device) (*Tensor, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d == t.device {
		return t, nil
	}
	return &Tensor{shape: t.shape, data: t.data, device: d}, nil
}

// ArgMax returns, for every position outside dim, the index of the largest
// value along dim. Ties resolve to the lowest index.
func (t *Tensor) ArgMax(dim int) ([]int, error) {
	if dim < 0 || dim >= len(t.shape) {
		return nil, fmt.Errorf("argmax: dim %d out of range for rank %d", dim, len(t.shape))
	}

	outer := t.shape[:dim].NumElements()
	n := int(t.shape[dim])
	inner := t.shape[dim+1:].NumElements()

	indices := make([]int, outer*inner)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			best := 0
			bestVal := t.data[o*n*inner+i]
			for k := 1; k < n; k++ {
				if v := t.data[(o*n+k)*inner+i]; v > bestVal {
					best, bestVal = k, v
				}
			}
			indices[o*inner+i] = best
		}
	}
	return indices, nil
}
