package ssr

import (
	"github.com/graphsensor/graphsensor-code/nn"
)

// EncoderConfig holds the stage geometry of the segment encoder. Every
// convolution and pool is padded by kernel/2.
type EncoderConfig struct {
	StemChannels   int `mapstructure:"stem_channels" yaml:"stem_channels"`
	StemKernel     int `mapstructure:"stem_kernel" yaml:"stem_kernel"`
	StemStride     int `mapstructure:"stem_stride" yaml:"stem_stride"`
	StemPoolKernel int `mapstructure:"stem_pool_kernel" yaml:"stem_pool_kernel"`
	StemPoolStride int `mapstructure:"stem_pool_stride" yaml:"stem_pool_stride"`
	ConvChannels   int `mapstructure:"conv_channels" yaml:"conv_channels"`
	ConvKernel     int `mapstructure:"conv_kernel" yaml:"conv_kernel"`
	PoolKernel     int `mapstructure:"pool_kernel" yaml:"pool_kernel"`
	PoolStride     int `mapstructure:"pool_stride" yaml:"pool_stride"`
	AFRKernel      int `mapstructure:"afr_kernel" yaml:"afr_kernel"`
	AFRStride      int `mapstructure:"afr_stride" yaml:"afr_stride"`
}

// DefaultEncoderConfig returns the geometry tuned for 30-sample windows
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		StemChannels:   64,
		StemKernel:     49,
		StemStride:     6,
		StemPoolKernel: 7,
		StemPoolStride: 4,
		ConvChannels:   128,
		ConvKernel:     7,
		PoolKernel:     3,
		PoolStride:     4,
		AFRKernel:      1,
		AFRStride:      1,
	}
}

// SegmentEncoder turns one window into a feature map.
//
//	[batch][1][window] -> features -> AFR -> [batch][channels][length]
//
// features is conv/bn/gelu/pool, then two conv/bn/gelu, then pool. AFR is a
// single ResidualBlock1D reducing the channel count. One encoder is shared by
// every segment of a signal.
type SegmentEncoder struct {
	WindowLength int
	Channels     int
	Length       int

	Features *nn.Sequential
	AFR      *nn.Sequential
}

// NewSegmentEncoder builds the encoder for windows of windowLength samples
// producing outChannels feature channels. It fails when a stage would shrink
// the window to nothing.
func NewSegmentEncoder(windowLength, outChannels, seReduction int, cfg EncoderConfig, init *nn.Initializer) (*SegmentEncoder, error) {
	stem, err := nn.NewConv1D(1, cfg.StemChannels, cfg.StemKernel, cfg.StemStride, cfg.StemKernel/2, false, init)
	if err != nil {
		return nil, nn.WrapOp("segment_encoder", err)
	}
	stemBN, err := nn.NewBatchNorm(cfg.StemChannels)
	if err != nil {
		return nil, nn.WrapOp("segment_encoder", err)
	}
	stemPool, err := nn.NewMaxPool1D(cfg.StemPoolKernel, cfg.StemPoolStride, cfg.StemPoolKernel/2)
	if err != nil {
		return nil, nn.WrapOp("segment_encoder", err)
	}
	conv1, err := nn.NewConv1D(cfg.StemChannels, cfg.ConvChannels, cfg.ConvKernel, 1, cfg.ConvKernel/2, false, init)
	if err != nil {
		return nil, nn.WrapOp("segment_encoder", err)
	}
	bn1, err := nn.NewBatchNorm(cfg.ConvChannels)
	if err != nil {
		return nil, nn.WrapOp("segment_encoder", err)
	}
	conv2, err := nn.NewConv1D(cfg.ConvChannels, cfg.ConvChannels, cfg.ConvKernel, 1, cfg.ConvKernel/2, false, init)
	if err != nil {
		return nil, nn.WrapOp("segment_encoder", err)
	}
	bn2, _ := nn.NewBatchNorm(cfg.ConvChannels)
	pool, err := nn.NewMaxPool1D(cfg.PoolKernel, cfg.PoolStride, cfg.PoolKernel/2)
	if err != nil {
		return nil, nn.WrapOp("segment_encoder", err)
	}
	afr, err := nn.NewResidualBlock1D(cfg.ConvChannels, outChannels, cfg.AFRKernel, cfg.AFRStride, seReduction, init)
	if err != nil {
		return nil, nn.WrapOp("segment_encoder", err)
	}

	// Walk the window length through every stage
	length := windowLength
	for _, step := range []struct {
		name string
		next func(int) int
	}{
		{"stem conv", stem.OutputLength},
		{"stem pool", stemPool.OutputLength},
		{"conv", conv1.OutputLength},
		{"conv", conv2.OutputLength},
		{"pool", pool.OutputLength},
		{"afr", afr.OutputLength},
	} {
		next := step.next(length)
		if next <= 0 {
			return nil, nn.NewError(nn.ErrConfiguration).
				Op("segment_encoder").
				Context("window", windowLength).
				Context("stage", step.name).
				Context("length", length).
				Build()
		}
		length = next
	}

	gelu := nn.ActivationLayer{Kind: nn.ActivationGELU}
	return &SegmentEncoder{
		WindowLength: windowLength,
		Channels:     outChannels,
		Length:       length,
		Features: nn.NewSequential(
			stem, stemBN, gelu, stemPool,
			conv1, bn1, gelu,
			conv2, bn2, gelu,
			pool,
		),
		AFR: nn.NewSequential(afr),
	}, nil
}

// OutputLength returns the length of every output channel
func (e *SegmentEncoder) OutputLength() int { return e.Length }

// FeatureSize returns channels * length, the size of one flattened encoding
func (e *SegmentEncoder) FeatureSize() int { return e.Channels * e.Length }

// Forward maps [batch][1][window] to [batch][channels][length]
func (e *SegmentEncoder) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	if x == nil || len(x.Shape) != 3 || x.Shape[1] != 1 || x.Shape[2] != e.WindowLength {
		var shape []int
		if x != nil {
			shape = x.Shape
		}
		return nil, nn.ShapeError("segment_encoder", "expected [batch 1 %d] input, got %v", e.WindowLength, shape)
	}
	out, err := e.Features.Forward(x)
	if err != nil {
		return nil, nn.WrapOp("segment_encoder", err)
	}
	out, err = e.AFR.Forward(out)
	if err != nil {
		return nil, nn.WrapOp("segment_encoder", err)
	}
	return out, nil
}

func (e *SegmentEncoder) Parameters() []nn.Param {
	return append(
		nn.PrefixParams("features", e.Features.Parameters()),
		nn.PrefixParams("AFR", e.AFR.Parameters())...,
	)
}
