package classifier

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/graphsensor/graphsensor-code/backbone"
	"github.com/graphsensor/graphsensor-code/nn"
	"github.com/graphsensor/graphsensor-code/ssr"
)

// EnvPrefix prefixes environment overrides, e.g. GRAPHSENSOR_NUM_CLASSES or
// GRAPHSENSOR_BACKBONE_MAP_SIDE
const EnvPrefix = "GRAPHSENSOR"

// Config fixes every dimension of a classifier at construction time.
// A Config is a value; New copies it and nothing mutates it afterwards.
type Config struct {
	SignalLength   int     `mapstructure:"signal_length" yaml:"signal_length"`
	WindowLength   int     `mapstructure:"window_length" yaml:"window_length"`
	OverlapRate    float64 `mapstructure:"overlap_rate" yaml:"overlap_rate"`
	NumSegments    int     `mapstructure:"num_segments" yaml:"num_segments"` // 0 derives it from the window geometry
	AFRReducedSize int     `mapstructure:"afr_reduced_size" yaml:"afr_reduced_size"`
	NumClasses     int     `mapstructure:"num_classes" yaml:"num_classes"`
	InputChannels  int     `mapstructure:"input_channels" yaml:"input_channels"`
	GateReduction  int     `mapstructure:"gate_reduction" yaml:"gate_reduction"` // global node attention
	SEReduction    int     `mapstructure:"se_reduction" yaml:"se_reduction"`     // channel gate inside the segment encoder
	Seed           int64   `mapstructure:"seed" yaml:"seed"`
	Workers        int     `mapstructure:"workers" yaml:"workers"` // 0 uses GOMAXPROCS

	Encoder  ssr.EncoderConfig `mapstructure:"encoder" yaml:"encoder"`
	Backbone backbone.Config   `mapstructure:"backbone" yaml:"backbone"`
}

// DefaultConfig returns the configuration for 3000-sample signals cut into
// 199 half-overlapping 30-sample windows and 18 classes
func DefaultConfig() Config {
	// The backbone's input and class count are derived, not configured
	b := backbone.DefaultConfig()
	b.InputChannels, b.NumClasses = 0, 0

	return Config{
		SignalLength:   3000,
		WindowLength:   30,
		OverlapRate:    0.5,
		AFRReducedSize: 30,
		NumClasses:     18,
		InputChannels:  1,
		GateReduction:  2,
		SEReduction:    4,
		Seed:           1,
		Encoder:        ssr.DefaultEncoderConfig(),
		Backbone:       b,
	}
}

// Stride returns the distance between window starts
func (c Config) Stride() int {
	return ssr.SegmentStride(c.WindowLength, c.OverlapRate)
}

// SegmentCount returns the number of windows K the geometry yields
func (c Config) SegmentCount() int {
	return ssr.SegmentCount(c.SignalLength, c.WindowLength, c.Stride())
}

func (c Config) representationConfig() ssr.Config {
	return ssr.Config{
		SignalLength:   c.SignalLength,
		WindowLength:   c.WindowLength,
		OverlapRate:    c.OverlapRate,
		AFRReducedSize: c.AFRReducedSize,
		SEReduction:    c.SEReduction,
		GateReduction:  c.GateReduction,
		Workers:        c.Workers,
		Encoder:        c.Encoder,
	}
}

// backboneConfig fills in the fields the backbone derives from upstream:
// one input channel holding K*F values
func (c Config) backboneConfig(featureSize int) backbone.Config {
	b := c.Backbone
	b.StageWidths = append([]int(nil), b.StageWidths...)
	b.StageStrides = append([]int(nil), b.StageStrides...)
	b.StageBlocks = append([]int(nil), b.StageBlocks...)
	b.InputChannels = 1
	b.InputSize = c.SegmentCount() * featureSize
	b.NumClasses = c.NumClasses
	return b
}

// Validate checks every field and reports all violations in one error
// matching nn.ErrConfiguration
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.SignalLength > 0, "signal_length %d must be positive", c.SignalLength)
	check(c.WindowLength > 0, "window_length %d must be positive", c.WindowLength)
	check(c.WindowLength <= c.SignalLength, "window_length %d exceeds signal_length %d", c.WindowLength, c.SignalLength)
	check(c.OverlapRate >= 0 && c.OverlapRate < 1 && !math.IsNaN(c.OverlapRate),
		"overlap_rate %v outside [0, 1)", c.OverlapRate)
	check(c.WindowLength <= 0 || c.Stride() >= 1,
		"window_length %d with overlap_rate %v leaves no stride", c.WindowLength, c.OverlapRate)

	k := c.SegmentCount()
	check(c.NumSegments == 0 || c.NumSegments == k,
		"num_segments %d disagrees with the %d windows the geometry yields", c.NumSegments, k)
	check(c.AFRReducedSize > 0, "afr_reduced_size %d must be positive", c.AFRReducedSize)
	check(c.NumClasses >= 2, "num_classes %d must be at least 2", c.NumClasses)
	check(c.InputChannels == 1, "input_channels %d unsupported, signals have one channel", c.InputChannels)
	check(c.GateReduction > 0 && (k == 0 || k/c.GateReduction >= 1),
		"gate_reduction %d leaves no hidden units for %d segments", c.GateReduction, k)
	check(c.SEReduction > 0 && c.AFRReducedSize/max(c.SEReduction, 1) >= 1,
		"se_reduction %d leaves no hidden units for %d channels", c.SEReduction, c.AFRReducedSize)
	check(c.Workers >= 0, "workers %d must not be negative", c.Workers)

	e := c.Encoder
	for name, v := range map[string]int{
		"stem_channels":    e.StemChannels,
		"stem_kernel":      e.StemKernel,
		"stem_stride":      e.StemStride,
		"stem_pool_kernel": e.StemPoolKernel,
		"stem_pool_stride": e.StemPoolStride,
		"conv_channels":    e.ConvChannels,
		"conv_kernel":      e.ConvKernel,
		"pool_kernel":      e.PoolKernel,
		"pool_stride":      e.PoolStride,
		"afr_kernel":       e.AFRKernel,
		"afr_stride":       e.AFRStride,
	} {
		check(v > 0, "encoder.%s %d must be positive", name, v)
	}
	check(e.AFRKernel%2 == 1, "encoder.afr_kernel %d must be odd", e.AFRKernel)

	b := c.backboneConfig(1)
	b.InputSize = max(b.InputSize, 1)
	for _, p := range b.Violations() {
		problems = append(problems, "backbone: "+p)
	}

	if len(problems) > 0 {
		// Map iteration makes encoder problems unordered
		slices.Sort(problems)
		return nn.ConfigError("config", "%s", strings.Join(problems, "; "))
	}
	return nil
}

// YAML renders the configuration as a YAML document
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// setDefaults registers every key with its default so environment overrides
// and partial files resolve against DefaultConfig
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("signal_length", d.SignalLength)
	v.SetDefault("window_length", d.WindowLength)
	v.SetDefault("overlap_rate", d.OverlapRate)
	v.SetDefault("num_segments", d.NumSegments)
	v.SetDefault("afr_reduced_size", d.AFRReducedSize)
	v.SetDefault("num_classes", d.NumClasses)
	v.SetDefault("input_channels", d.InputChannels)
	v.SetDefault("gate_reduction", d.GateReduction)
	v.SetDefault("se_reduction", d.SEReduction)
	v.SetDefault("seed", d.Seed)
	v.SetDefault("workers", d.Workers)

	v.SetDefault("encoder.stem_channels", d.Encoder.StemChannels)
	v.SetDefault("encoder.stem_kernel", d.Encoder.StemKernel)
	v.SetDefault("encoder.stem_stride", d.Encoder.StemStride)
	v.SetDefault("encoder.stem_pool_kernel", d.Encoder.StemPoolKernel)
	v.SetDefault("encoder.stem_pool_stride", d.Encoder.StemPoolStride)
	v.SetDefault("encoder.conv_channels", d.Encoder.ConvChannels)
	v.SetDefault("encoder.conv_kernel", d.Encoder.ConvKernel)
	v.SetDefault("encoder.pool_kernel", d.Encoder.PoolKernel)
	v.SetDefault("encoder.pool_stride", d.Encoder.PoolStride)
	v.SetDefault("encoder.afr_kernel", d.Encoder.AFRKernel)
	v.SetDefault("encoder.afr_stride", d.Encoder.AFRStride)

	v.SetDefault("backbone.map_side", d.Backbone.MapSide)
	v.SetDefault("backbone.stem_channels", d.Backbone.StemChannels)
	v.SetDefault("backbone.stem_kernel", d.Backbone.StemKernel)
	v.SetDefault("backbone.stem_stride", d.Backbone.StemStride)
	v.SetDefault("backbone.stem_pool_kernel", d.Backbone.StemPoolKernel)
	v.SetDefault("backbone.stem_pool_stride", d.Backbone.StemPoolStride)
	v.SetDefault("backbone.stage_widths", d.Backbone.StageWidths)
	v.SetDefault("backbone.stage_strides", d.Backbone.StageStrides)
	v.SetDefault("backbone.stage_blocks", d.Backbone.StageBlocks)
	v.SetDefault("backbone.hidden_units", d.Backbone.HiddenUnits)
}

// LoadConfig resolves a Config from defaults, the YAML file at path (skipped
// when path is empty) and GRAPHSENSOR_* environment variables, in increasing
// precedence. The result is validated.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, nn.NewError(fmt.Errorf("%w: reading %s: %w", nn.ErrConfiguration, path, err)).
				Op("config").
				Build()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, nn.NewError(fmt.Errorf("%w: %w", nn.ErrConfiguration, err)).Op("config").Build()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
