// Package config loads the server and CLI settings from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/digit-api/internal/tensor"
)

// Config holds everything needed to start serving predictions.
type Config struct {
	Port              string `yaml:"port"`
	ModelPath         string `yaml:"model_path"`
	MetadataPath      string `yaml:"metadata_path"`
	Device            string `yaml:"device"`
	SharedLibraryPath string `yaml:"shared_library_path"`
	IntraOpThreads    int    `yaml:"intra_op_threads"`
	LogLevel          string `yaml:"log_level"`
	LogFormat         string `yaml:"log_format"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Port:         "8080",
		ModelPath:    "models/model_embedded.onnx",
		MetadataPath: "models/model_metadata.json",
		Device:       "cpu",
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
// The PORT environment variable, when set, overrides the configured port.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if _, err := cfg.ParsedDevice(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParsedDevice returns the configured compute target.
func (c *Config) ParsedDevice() (tensor.Device, error) {
	return tensor.ParseDevice(c.Device)
}
