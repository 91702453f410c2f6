package tensor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrDevice is returned when a device identifier is malformed or the
// requested compute target cannot be reached.
var ErrDevice = errors.New("device error")

// DeviceKind identifies a class of compute target.
type DeviceKind int

// Supported compute targets.
const (
	CPU DeviceKind = iota
	CUDA
	CoreML
	DirectML
)

func (k DeviceKind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	case CoreML:
		return "coreml"
	case DirectML:
		return "dml"
	default:
		return "unknown"
	}
}

// Device is a compute target a tensor and a model can be placed on.
type Device struct {
	Kind  DeviceKind
	Index int
}

// CPUDevice is the host processor.
var CPUDevice = Device{Kind: CPU}

// ParseDevice accepts "cpu", "cuda", "cuda:1", "coreml", "dml" and "dml:0".
func ParseDevice(s string) (Device, error) {
	name, index, hasIndex := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")

	var d Device
	switch name {
	case "cpu":
		d.Kind = CPU
	case "cuda", "gpu":
		d.Kind = CUDA
	case "coreml", "mps":
		d.Kind = CoreML
	case "dml", "directml":
		d.Kind = DirectML
	default:
		return Device{}, fmt.Errorf("%w: unknown device %q", ErrDevice, s)
	}

	if hasIndex {
		i, err := strconv.Atoi(index)
		if err != nil {
			return Device{}, fmt.Errorf("%w: bad device index in %q", ErrDevice, s)
		}
		d.Index = i
	}

	if err := d.Validate(); err != nil {
		return Device{}, err
	}
	return d, nil
}

// Validate reports whether d names a well-formed device.
func (d Device) Validate() error {
	switch d.Kind {
	case CPU, CoreML:
		if d.Index != 0 {
			return fmt.Errorf("%w: %s does not take an index", ErrDevice, d.Kind)
		}
	case CUDA, DirectML:
		if d.Index < 0 {
			return fmt.Errorf("%w: negative device index %d", ErrDevice, d.Index)
		}
	default:
		return fmt.Errorf("%w: unknown device kind %d", ErrDevice, int(d.Kind))
	}
	return nil
}

func (d Device) String() string {
	if d.Kind == CUDA || d.Kind == DirectML {
		return fmt.Sprintf("%s:%d", d.Kind, d.Index)
	}
	return d.Kind.String()
}
