package model

import (
	"fmt"
	"runtime"
	"strconv"

	"github.com/klauspost/cpuid/v2"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/digit-api/internal/tensor"
)

// InitRuntime loads the onnxruntime shared library and creates its global
// environment. An empty libraryPath keeps the library's platform default.
func InitRuntime(libraryPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// ShutdownRuntime releases the global environment. Every ONNX model must be
// closed first.
func ShutdownRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// DefaultThreads is the intra-op thread count used when none is configured.
func DefaultThreads() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// ONNX runs an exported network through onnxruntime.
type ONNX struct {
	session     *ort.DynamicAdvancedSession
	inputShape  tensor.Shape
	outputShape tensor.Shape
	device      tensor.Device
}

// LoadONNX opens the model at path and binds it to opts.Device, starting the
// runtime on first use.
func LoadONNX(path string, opts Options) (*ONNX, error) {
	if err := InitRuntime(opts.SharedLibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect ONNX model: %w", err)
	}
	if err := checkInputsOutputs(inputs, outputs); err != nil {
		return nil, fmt.Errorf("unsupported ONNX model %s: %w", path, err)
	}

	options, err := newSessionOptions(opts)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNX{
		session:     session,
		inputShape:  tensor.Shape(inputs[0].Dimensions).Clone(),
		outputShape: tensor.Shape(outputs[0].Dimensions).Clone(),
		device:      opts.Device,
	}, nil
}

// checkInputsOutputs requires a single float input producing a single float
// score tensor.
func checkInputsOutputs(inputs, outputs []ort.InputOutputInfo) error {
	if len(inputs) != 1 || len(outputs) != 1 {
		return fmt.Errorf("expected one input and one output, got %d and %d", len(inputs), len(outputs))
	}
	if inputs[0].DataType != ort.TensorElementDataTypeFloat {
		return fmt.Errorf("input %q is %v, want float", inputs[0].Name, inputs[0].DataType)
	}
	if outputs[0].DataType != ort.TensorElementDataTypeFloat {
		return fmt.Errorf("output %q is %v, want float scores", outputs[0].Name, outputs[0].DataType)
	}
	return nil
}

func newSessionOptions(opts Options) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	threads := opts.IntraOpThreads
	if threads <= 0 {
		threads = DefaultThreads()
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		options.Destroy()
		return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
	}

	if err := appendProvider(options, opts.Device); err != nil {
		options.Destroy()
		return nil, fmt.Errorf("%w: %s: %w", tensor.ErrDevice, opts.Device, err)
	}
	return options, nil
}

func appendProvider(options *ort.SessionOptions, device tensor.Device) error {
	if err := device.Validate(); err != nil {
		return err
	}

	switch device.Kind {
	case tensor.CUDA:
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cudaOptions.Destroy()
		if err := cudaOptions.Update(map[string]string{"device_id": strconv.Itoa(device.Index)}); err != nil {
			return err
		}
		return options.AppendExecutionProviderCUDA(cudaOptions)
	case tensor.CoreML:
		return options.AppendExecutionProviderCoreML(0)
	case tensor.DirectML:
		return options.AppendExecutionProviderDirectML(device.Index)
	}
	return nil
}

// Forward implements Model.
func (m *ONNX) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkDevice(m, input); err != nil {
		return nil, err
	}
	shape := input.Shape()
	if err := CheckInputShape(m.inputShape, shape); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewTensor(ort.Shape(shape), input.Data())
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputShape := m.resolveOutputShape(shape)
	outputTensor, err := ort.NewEmptyTensor[float32](ort.Shape(outputShape))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := m.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := make([]float32, outputShape.NumElements())
	copy(scores, outputTensor.GetData())
	out, err := tensor.New(outputShape, scores)
	if err != nil {
		return nil, err
	}
	return out.To(m.device)
}

// resolveOutputShape fills dynamic output dimensions. A dynamic leading
// dimension follows the input batch, any other becomes 1.
func (m *ONNX) resolveOutputShape(input tensor.Shape) tensor.Shape {
	shape := m.outputShape.Clone()
	for i, d := range shape {
		if d >= 0 {
			continue
		}
		if i == 0 && len(input) > 0 {
			shape[i] = input[0]
		} else {
			shape[i] = 1
		}
	}
	return shape
}

// Eval implements Model. Exported graphs are already frozen in inference mode.
func (m *ONNX) Eval() {}

// Device implements Model.
func (m *ONNX) Device() tensor.Device { return m.device }

// InputShape returns the shape declared by the model file.
func (m *ONNX) InputShape() tensor.Shape { return m.inputShape.Clone() }

// Close releases the session.
func (m *ONNX) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
