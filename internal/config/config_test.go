package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/digit-api/internal/tensor"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("PORT", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model_path: /srv/models/digits.onnx
device: cuda:1
intra_op_threads: 4
log_format: json
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/models/digits.onnx", cfg.ModelPath)
	assert.Equal(t, 4, cfg.IntraOpThreads)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "models/model_metadata.json", cfg.MetadataPath)

	dev, err := cfg.ParsedDevice()
	require.NoError(t, err)
	assert.Equal(t, tensor.Device{Kind: tensor.CUDA, Index: 1}, dev)
}

func TestPortFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
}

func TestLoadErrors(t *testing.T) {
	t.Setenv("PORT", "")
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("port: [unterminated"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)

	tpu := filepath.Join(dir, "tpu.yaml")
	require.NoError(t, os.WriteFile(tpu, []byte("device: tpu\n"), 0o644))
	_, err = Load(tpu)
	assert.ErrorIs(t, err, tensor.ErrDevice)
}
