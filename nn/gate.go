package nn

// ChannelGate is a squeeze-and-excite gate over axis 1 of a tensor of any
// rank >= 2. Each channel is averaged, passed through a two-layer bottleneck
// (GELU between, sigmoid after) and the resulting weight in (0, 1) scales
// every element of that channel.
//
// On [batch][channels][length] maps it recalibrates feature channels; on
// [batch][segments][1][features] maps it weighs whole segments against each
// other.
type ChannelGate struct {
	Channels  int
	Reduction int
	Squeeze   *Linear // [channels/reduction][channels], no bias
	Excite    *Linear // [channels][channels/reduction], no bias
}

// NewChannelGate builds a gate with a hidden width of channels/reduction
func NewChannelGate(channels, reduction int, init *Initializer) (*ChannelGate, error) {
	if channels <= 0 || reduction <= 0 {
		return nil, ConfigError("channel_gate", "channels=%d reduction=%d must be positive", channels, reduction)
	}
	hidden := channels / reduction
	if hidden < 1 {
		return nil, ConfigError("channel_gate", "reduction %d leaves no hidden units for %d channels", reduction, channels)
	}

	squeeze, err := NewLinear(channels, hidden, false, init)
	if err != nil {
		return nil, err
	}
	excite, err := NewLinear(hidden, channels, false, init)
	if err != nil {
		return nil, err
	}
	return &ChannelGate{Channels: channels, Reduction: reduction, Squeeze: squeeze, Excite: excite}, nil
}

// Weights returns the per-channel gate values of x as [batch][channels]
func (g *ChannelGate) Weights(x *Tensor) (*Tensor, error) {
	if x == nil || len(x.Shape) < 2 || x.Shape[1] != g.Channels {
		var shape []int
		if x != nil {
			shape = x.Shape
		}
		return nil, ShapeError("channel_gate", "axis 1 of %v must be %d", shape, g.Channels)
	}

	pooled, err := GlobalAvgPool{}.Means(x)
	if err != nil {
		return nil, WrapOp("channel_gate", err)
	}
	hidden, err := g.Squeeze.Forward(pooled)
	if err != nil {
		return nil, WrapOp("channel_gate", err)
	}
	activateInPlace(hidden.Data, ActivationGELU)
	weights, err := g.Excite.Forward(hidden)
	if err != nil {
		return nil, WrapOp("channel_gate", err)
	}
	activateInPlace(weights.Data, ActivationSigmoid)
	return weights, nil
}

func (g *ChannelGate) Forward(x *Tensor) (*Tensor, error) {
	weights, err := g.Weights(x)
	if err != nil {
		return nil, err
	}
	return scaleChannels(x, weights), nil
}

// scaleChannels multiplies every element of channel c in batch b by w[b][c]
func scaleChannels(x, w *Tensor) *Tensor {
	inner := numel(x.Shape[2:])
	out := NewTensor(x.Shape...)
	for i, s := range w.Data {
		src := x.Data[i*inner : (i+1)*inner]
		dst := out.Data[i*inner : (i+1)*inner]
		for j, v := range src {
			dst[j] = v * s
		}
	}
	return out
}

// Parameters names the bottleneck as "fc.0" and "fc.2", the slots it takes
// in a squeeze/act/excite/sigmoid sequence
func (g *ChannelGate) Parameters() []Param {
	return append(
		PrefixParams("fc.0", g.Squeeze.Parameters()),
		PrefixParams("fc.2", g.Excite.Parameters())...,
	)
}
