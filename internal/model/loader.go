package model

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/Brownie44l1/digit-api/internal/tensor"
)

// Options controls how a model file is opened.
type Options struct {
	Device tensor.Device
	// IntraOpThreads is only used by ONNX models; zero picks DefaultThreads.
	IntraOpThreads int
	// SharedLibraryPath locates onnxruntime. Empty keeps the platform default.
	SharedLibraryPath string
}

// Load opens a model file, choosing the runtime from its extension:
// ".onnx" for onnxruntime, ".json" for Linear weights.
func Load(path string, opts Options) (Model, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".onnx":
		m, err := LoadONNX(path, opts)
		if err != nil {
			return nil, err
		}
		return m, nil
	case ".json":
		m, err := LoadLinear(path, opts.Device)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported model format %q", ext)
	}
}

// Close releases runtime resources held by m, if any.
func Close(m Model) error {
	if c, ok := m.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
