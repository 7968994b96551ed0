package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 512, cfg.Tree.NormalizationThreshold)
	assert.Equal(t, 32768, cfg.Tree.SplitThreshold)
	assert.Equal(t, "cbor", cfg.Store.Codec)
	assert.NoError(t, cfg.Validate())
}

func TestLoadJSONAndTOML(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"log_level": "debug",
		"tree": {"normalization_threshold": 8, "split_threshold": 64}
	}`), 0644))

	tomlPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`
log_level = "warn"

[store]
codec = "json"

[tree]
normalization_threshold = 16
split_threshold = 128
`), 0644))

	cfg, err := Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Tree.NormalizationThreshold)
	assert.Equal(t, 64, cfg.Tree.SplitThreshold)
	assert.Equal(t, 8734, cfg.Server.Port)

	cfg, err = Load(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "json", cfg.Store.Codec)
	assert.Equal(t, 128, cfg.Tree.SplitThreshold)
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tree": {"normalization_threshold": 100, "split_threshold": 10}}`), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.LogLevel = "error"
	require.NoError(t, Save(path, cfg))

	loaded, err := LoadOrDefault(path)
	require.NoError(t, err)
	assert.Equal(t, "error", loaded.LogLevel)

	missing, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "info", missing.LogLevel)
}

func TestSaveTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.Tree.NormalizationThreshold = 64
	cfg.Tree.SplitThreshold = 4096
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 64, loaded.Tree.NormalizationThreshold)
	assert.Equal(t, 4096, loaded.Tree.SplitThreshold)
	assert.Equal(t, "cbor", loaded.Store.Codec)
}
