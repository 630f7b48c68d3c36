package backbone

import (
	"fmt"
	"strings"

	"github.com/graphsensor/graphsensor-code/nn"
)

// Config describes the ResNet backbone.
//
// InputChannels, InputSize and NumClasses are filled in by whoever composes
// the backbone with its upstream stage; the remaining fields are geometry.
type Config struct {
	InputChannels int `mapstructure:"-" yaml:"-"`
	InputSize     int `mapstructure:"-" yaml:"-"`
	NumClasses    int `mapstructure:"-" yaml:"-"`

	MapSide        int   `mapstructure:"map_side" yaml:"map_side"`
	StemChannels   int   `mapstructure:"stem_channels" yaml:"stem_channels"`
	StemKernel     int   `mapstructure:"stem_kernel" yaml:"stem_kernel"`
	StemStride     int   `mapstructure:"stem_stride" yaml:"stem_stride"`
	StemPoolKernel int   `mapstructure:"stem_pool_kernel" yaml:"stem_pool_kernel"`
	StemPoolStride int   `mapstructure:"stem_pool_stride" yaml:"stem_pool_stride"`
	StageWidths    []int `mapstructure:"stage_widths" yaml:"stage_widths"`
	StageStrides   []int `mapstructure:"stage_strides" yaml:"stage_strides"`
	StageBlocks    []int `mapstructure:"stage_blocks" yaml:"stage_blocks"`
	HiddenUnits    int   `mapstructure:"hidden_units" yaml:"hidden_units"`
}

// DefaultConfig returns the 32x32 map, four-stage geometry
func DefaultConfig() Config {
	return Config{
		InputChannels:  1,
		NumClasses:     18,
		MapSide:        32,
		StemChannels:   64,
		StemKernel:     7,
		StemStride:     2,
		StemPoolKernel: 3,
		StemPoolStride: 2,
		StageWidths:    []int{64, 128, 256, 512},
		StageStrides:   []int{1, 2, 2, 2},
		StageBlocks:    []int{3, 4, 5, 3},
		HiddenUnits:    256,
	}
}

// Validate reports every geometry problem at once
func (c Config) Validate() error {
	if problems := c.Violations(); len(problems) > 0 {
		return nn.ConfigError("backbone", "%s", strings.Join(problems, "; "))
	}
	return nil
}

// Violations lists every geometry problem, nil when the config is usable
func (c Config) Violations() []string {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.InputChannels > 0, "input channels %d must be positive", c.InputChannels)
	check(c.InputSize > 0, "input size %d must be positive", c.InputSize)
	check(c.NumClasses > 1, "num classes %d must be at least 2", c.NumClasses)
	check(c.MapSide > 0, "map side %d must be positive", c.MapSide)
	check(c.StemChannels > 0, "stem channels %d must be positive", c.StemChannels)
	check(c.StemKernel > 0 && c.StemStride > 0, "stem kernel %d and stride %d must be positive", c.StemKernel, c.StemStride)
	check(c.StemPoolKernel > 0 && c.StemPoolStride > 0,
		"stem pool kernel %d and stride %d must be positive", c.StemPoolKernel, c.StemPoolStride)
	check(c.HiddenUnits > 0, "hidden units %d must be positive", c.HiddenUnits)
	check(len(c.StageWidths) > 0, "at least one stage is required")
	check(len(c.StageStrides) == len(c.StageWidths) && len(c.StageBlocks) == len(c.StageWidths),
		"stage widths %v, strides %v and blocks %v must have the same length", c.StageWidths, c.StageStrides, c.StageBlocks)
	for i := range c.StageWidths {
		check(c.StageWidths[i] > 0, "stage %d width %d must be positive", i+1, c.StageWidths[i])
		if i < len(c.StageStrides) {
			check(c.StageStrides[i] > 0, "stage %d stride %d must be positive", i+1, c.StageStrides[i])
		}
		if i < len(c.StageBlocks) {
			check(c.StageBlocks[i] > 0, "stage %d needs at least one block, got %d", i+1, c.StageBlocks[i])
		}
	}

	return problems
}
