package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Geometry.MinRunLength)
	assert.Equal(t, BuilderNative, cfg.Conversion.Builder)
	// volume validation is looser than the rescue comparison
	assert.Equal(t, 0.05, cfg.Conversion.RelTolerance)
	assert.Equal(t, 0.1, cfg.Conversion.AbsTolerance)
	assert.Greater(t, cfg.Conversion.RelTolerance, cfg.Geometry.RelTolerance)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
geometry:
  minRunLength: 8
conversion:
  builder: dcm2niix
  dcm2niixPath: /opt/bin/dcm2niix
  relTolerance: 0.02
output:
  verbose: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Geometry.MinRunLength)
	assert.Equal(t, BuilderDcm2niix, cfg.Conversion.Builder)
	assert.Equal(t, "/opt/bin/dcm2niix", cfg.Conversion.Dcm2niixPath)
	assert.True(t, cfg.Output.Verbose)
	assert.Equal(t, 0.02, cfg.Conversion.RelTolerance)
	assert.Equal(t, 0.1, cfg.Conversion.AbsTolerance)
	// untouched keys keep their defaults
	assert.Equal(t, 1e-5, cfg.Geometry.RelTolerance)
	assert.Equal(t, "--platform linux/amd64", cfg.Launcher.PlatformFlag)
}

func TestLoadConfigRejectsUnknownBuilder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("conversion:\n  builder: magic\n"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "magic")
}

func TestLoadConfigRejectsNegativeConversionTolerance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("conversion:\n  absTolerance: -1\n"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conversion tolerances")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
