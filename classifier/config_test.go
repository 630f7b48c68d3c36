package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/graphsensor/graphsensor-code/nn"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15, cfg.Stride())
	assert.Equal(t, 199, cfg.SegmentCount())
	assert.Equal(t, []int{3, 4, 5, 3}, cfg.Backbone.StageBlocks)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantMsg string
	}{
		{"window longer than signal", func(c *Config) { c.WindowLength = 4000 }, "exceeds signal_length"},
		{"full overlap", func(c *Config) { c.OverlapRate = 1 }, "overlap_rate"},
		{"segment count mismatch", func(c *Config) { c.NumSegments = 200 }, "num_segments 200"},
		{"multichannel input", func(c *Config) { c.InputChannels = 3 }, "input_channels"},
		{"zero gate reduction", func(c *Config) { c.GateReduction = 0 }, "gate_reduction"},
		{"gate reduction too large", func(c *Config) { c.GateReduction = 400 }, "gate_reduction"},
		{"se reduction too large", func(c *Config) { c.SEReduction = 64 }, "se_reduction"},
		{"even afr kernel", func(c *Config) { c.Encoder.AFRKernel = 2 }, "afr_kernel"},
		{"zero encoder stride", func(c *Config) { c.Encoder.StemStride = 0 }, "encoder.stem_stride"},
		{"ragged backbone", func(c *Config) { c.Backbone.StageBlocks = []int{1} }, "backbone: stage widths"},
		{"one class", func(c *Config) { c.NumClasses = 1 }, "num_classes"},
		{"negative workers", func(c *Config) { c.Workers = -1 }, "workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, nn.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, nn.CategoryConfiguration, nn.CategoryOf(err))
		})
	}

	cfg := DefaultConfig()
	cfg.NumSegments = 199
	assert.NoError(t, cfg.Validate(), "explicit segment count matching the geometry")
}

func TestConfigValidateCollectsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumClasses = 0
	cfg.AFRReducedSize = 0
	cfg.Backbone.HiddenUnits = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "num_classes")
	assert.Contains(t, err.Error(), "afr_reduced_size")
	assert.Contains(t, err.Error(), "hidden units")
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graphsensor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
signal_length: 300
num_classes: 6
seed: 99
encoder:
  stem_channels: 8
backbone:
  map_side: 16
  stage_blocks: [1, 1, 2, 1]
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.SignalLength)
	assert.Equal(t, 6, cfg.NumClasses)
	assert.Equal(t, int64(99), cfg.Seed)
	assert.Equal(t, 8, cfg.Encoder.StemChannels)
	assert.Equal(t, 16, cfg.Backbone.MapSide)
	assert.Equal(t, []int{1, 1, 2, 1}, cfg.Backbone.StageBlocks)

	// Untouched keys keep their defaults
	assert.Equal(t, 30, cfg.WindowLength)
	assert.Equal(t, 128, cfg.Encoder.ConvChannels)
	assert.Equal(t, []int{64, 128, 256, 512}, cfg.Backbone.StageWidths)
	assert.Equal(t, 19, cfg.SegmentCount())
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "num_classes: 6\n")
	t.Setenv("GRAPHSENSOR_NUM_CLASSES", "7")
	t.Setenv("GRAPHSENSOR_OVERLAP_RATE", "0")
	t.Setenv("GRAPHSENSOR_BACKBONE_MAP_SIDE", "24")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.NumClasses)
	assert.Equal(t, 0.0, cfg.OverlapRate)
	assert.Equal(t, 24, cfg.Backbone.MapSide)
	assert.Equal(t, 100, cfg.SegmentCount())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, nn.ErrConfiguration)

	_, err = LoadConfig(writeConfig(t, "window_length: 5000\n"))
	assert.ErrorIs(t, err, nn.ErrConfiguration)

	_, err = LoadConfig(writeConfig(t, "window_length: [not, a, number]\n"))
	assert.ErrorIs(t, err, nn.ErrConfiguration)
}

func TestConfigYAML(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumClasses = 6
	cfg.Backbone.StageBlocks = []int{2, 2, 2, 2}

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "num_classes: 6")
	assert.Contains(t, string(out), "map_side: 32")
	assert.NotContains(t, string(out), "input_size", "derived backbone fields are not configuration")

	// What YAML renders, LoadConfig reads back
	loaded, err := LoadConfig(writeConfig(t, string(out)))
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	var generic map[string]any
	require.NoError(t, yaml.Unmarshal(out, &generic))
	assert.Contains(t, generic, "encoder")
	assert.Contains(t, generic, "backbone")
}
