package model

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/Brownie44l1/digit-api/internal/tensor"
)

// Metadata describes a model file: what it expects and how to name its outputs.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// LoadMetadata reads a metadata JSON file.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &metadata, nil
}

// Input returns the expected input shape.
func (m *Metadata) Input() tensor.Shape {
	return tensor.Shape(m.InputShape).Clone()
}

// Label names class i, falling back to its index when no name is known.
func (m *Metadata) Label(i int) string {
	if i >= 0 && i < len(m.Classes) {
		return m.Classes[i]
	}
	return strconv.Itoa(i)
}
