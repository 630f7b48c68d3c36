package nn

import (
	"math"
)

const defaultBatchNormEpsilon = 1e-5

// BatchNorm normalizes axis 1 of a [batch][channels][...] tensor with its
// running statistics: y = (x - mean) / sqrt(var + eps) * gamma + beta.
// Only the inference form is implemented; statistics are owned by whoever
// trains the model.
type BatchNorm struct {
	Channels    int
	Epsilon     float64
	Gamma       *Tensor // [channels]
	Beta        *Tensor // [channels]
	RunningMean *Tensor // [channels]
	RunningVar  *Tensor // [channels]
}

// NewBatchNorm creates an identity-initialized BatchNorm: gamma 1, beta 0,
// running mean 0 and running variance 1
func NewBatchNorm(channels int) (*BatchNorm, error) {
	if channels <= 0 {
		return nil, ConfigError("batchnorm", "channels=%d must be positive", channels)
	}
	return &BatchNorm{
		Channels:    channels,
		Epsilon:     defaultBatchNormEpsilon,
		Gamma:       Full(1, channels),
		Beta:        Zeros(channels),
		RunningMean: Zeros(channels),
		RunningVar:  Full(1, channels),
	}, nil
}

func (bn *BatchNorm) Forward(x *Tensor) (*Tensor, error) {
	if x == nil || len(x.Shape) < 2 || x.Shape[1] != bn.Channels {
		var shape []int
		if x != nil {
			shape = x.Shape
		}
		return nil, ShapeError("batchnorm", "axis 1 of %v must be %d", shape, bn.Channels)
	}

	batchSize := x.Shape[0]
	inner := numel(x.Shape[2:])
	out := NewTensor(x.Shape...)

	for c := 0; c < bn.Channels; c++ {
		// Fold the affine transform into one scale and shift per channel
		scale := float64(bn.Gamma.Data[c]) / math.Sqrt(float64(bn.RunningVar.Data[c])+bn.Epsilon)
		shift := float64(bn.Beta.Data[c]) - float64(bn.RunningMean.Data[c])*scale

		for b := 0; b < batchSize; b++ {
			start := (b*bn.Channels + c) * inner
			for i := start; i < start+inner; i++ {
				out.Data[i] = float32(float64(x.Data[i])*scale + shift)
			}
		}
	}
	return out, nil
}

func (bn *BatchNorm) Parameters() []Param {
	return []Param{
		{Name: "weight", Value: bn.Gamma},
		{Name: "bias", Value: bn.Beta},
		{Name: "running_mean", Value: bn.RunningMean},
		{Name: "running_var", Value: bn.RunningVar},
	}
}
