package nn

// Projection is the downsample shortcut of a residual block: a strided 1x1
// convolution without bias followed by BatchNorm
type Projection struct {
	Conv Layer
	Norm *BatchNorm
}

func (p *Projection) Forward(x *Tensor) (*Tensor, error) {
	y, err := p.Conv.Forward(x)
	if err != nil {
		return nil, err
	}
	return p.Norm.Forward(y)
}

func (p *Projection) Parameters() []Param {
	return append(
		PrefixParams("0", p.Conv.Parameters()),
		PrefixParams("1", p.Norm.Parameters())...,
	)
}

// needsProjection reports whether a block changes its map enough that the
// input can no longer be added as-is
func needsProjection(inChannels, outChannels, stride int) bool {
	return stride != 1 || inChannels != outChannels
}

// addActivate returns act(a + b); both tensors must have the same shape
func addActivate(op string, a, b *Tensor, act Activation) (*Tensor, error) {
	if !a.SameShape(b) {
		return nil, ShapeError(op, "residual %v does not match branch %v", b.Shape, a.Shape)
	}
	out := NewTensor(a.Shape...)
	for i := range out.Data {
		out.Data[i] = Activate(a.Data[i]+b.Data[i], act)
	}
	return out, nil
}

// ResidualBlock1D is the bottleneck block of the segment encoder.
//
//	out = gate(bn2(conv2(gelu(bn1(conv1(x))))))
//	y   = gelu(out + shortcut(x))
//
// conv1 carries the stride. The shortcut is resolved at construction: the
// identity when shapes are preserved, a Projection otherwise.
type ResidualBlock1D struct {
	InChannels  int
	OutChannels int
	Stride      int

	Conv1    *Conv1D
	BN1      *BatchNorm
	Conv2    *Conv1D
	BN2      *BatchNorm
	Gate     *ChannelGate
	Shortcut Layer
}

// NewResidualBlock1D builds a block with odd kernelSize (padding kernelSize/2)
// and a channel gate with the given reduction
func NewResidualBlock1D(inChannels, outChannels, kernelSize, stride, gateReduction int, init *Initializer) (*ResidualBlock1D, error) {
	if kernelSize <= 0 || kernelSize%2 == 0 {
		return nil, ConfigError("residual1d", "kernel size %d must be odd", kernelSize)
	}
	pad := kernelSize / 2

	conv1, err := NewConv1D(inChannels, outChannels, kernelSize, stride, pad, true, init)
	if err != nil {
		return nil, WrapOp("residual1d", err)
	}
	bn1, err := NewBatchNorm(outChannels)
	if err != nil {
		return nil, WrapOp("residual1d", err)
	}
	conv2, err := NewConv1D(outChannels, outChannels, kernelSize, 1, pad, true, init)
	if err != nil {
		return nil, WrapOp("residual1d", err)
	}
	bn2, err := NewBatchNorm(outChannels)
	if err != nil {
		return nil, WrapOp("residual1d", err)
	}
	gate, err := NewChannelGate(outChannels, gateReduction, init)
	if err != nil {
		return nil, WrapOp("residual1d", err)
	}

	b := &ResidualBlock1D{
		InChannels:  inChannels,
		OutChannels: outChannels,
		Stride:      stride,
		Conv1:       conv1,
		BN1:         bn1,
		Conv2:       conv2,
		BN2:         bn2,
		Gate:        gate,
		Shortcut:    Identity{},
	}
	if needsProjection(inChannels, outChannels, stride) {
		conv, err := NewConv1D(inChannels, outChannels, 1, stride, 0, false, init)
		if err != nil {
			return nil, WrapOp("residual1d", err)
		}
		norm, _ := NewBatchNorm(outChannels)
		b.Shortcut = &Projection{Conv: conv, Norm: norm}
	}
	return b, nil
}

// OutputLength returns the block's output length for an input of length n
func (b *ResidualBlock1D) OutputLength(n int) int {
	return b.Conv2.OutputLength(b.Conv1.OutputLength(n))
}

func (b *ResidualBlock1D) Forward(x *Tensor) (*Tensor, error) {
	if err := expectShape("residual1d", x, -1, b.InChannels, -1); err != nil {
		return nil, err
	}
	out, err := b.Conv1.Forward(x)
	if err != nil {
		return nil, WrapOp("residual1d", err)
	}
	if out, err = b.BN1.Forward(out); err != nil {
		return nil, WrapOp("residual1d", err)
	}
	activateInPlace(out.Data, ActivationGELU)
	if out, err = b.Conv2.Forward(out); err != nil {
		return nil, WrapOp("residual1d", err)
	}
	if out, err = b.BN2.Forward(out); err != nil {
		return nil, WrapOp("residual1d", err)
	}
	if out, err = b.Gate.Forward(out); err != nil {
		return nil, WrapOp("residual1d", err)
	}

	residual, err := b.Shortcut.Forward(x)
	if err != nil {
		return nil, WrapOp("residual1d", err)
	}
	return addActivate("residual1d", out, residual, ActivationGELU)
}

func (b *ResidualBlock1D) Parameters() []Param {
	var params []Param
	params = append(params, PrefixParams("conv1", b.Conv1.Parameters())...)
	params = append(params, PrefixParams("bn1", b.BN1.Parameters())...)
	params = append(params, PrefixParams("conv2", b.Conv2.Parameters())...)
	params = append(params, PrefixParams("bn2", b.BN2.Parameters())...)
	params = append(params, PrefixParams("reslayer", b.Gate.Parameters())...)
	params = append(params, PrefixParams("downsample", b.Shortcut.Parameters())...)
	return params
}

// ResidualBlock2D is the basic block of the 2D backbone.
//
//	out = bn2(conv2(relu(bn1(conv1(x)))))
//	y   = relu(out + shortcut(x))
//
// Both convolutions are 3x3 without bias; conv1 carries the stride.
type ResidualBlock2D struct {
	InChannels  int
	OutChannels int
	Stride      int

	Conv1    *Conv2D
	BN1      *BatchNorm
	Conv2    *Conv2D
	BN2      *BatchNorm
	Shortcut Layer
}

// NewResidualBlock2D builds a basic block
func NewResidualBlock2D(inChannels, outChannels, stride int, init *Initializer) (*ResidualBlock2D, error) {
	conv1, err := NewConv2D(inChannels, outChannels, 3, stride, 1, false, init)
	if err != nil {
		return nil, WrapOp("residual2d", err)
	}
	bn1, err := NewBatchNorm(outChannels)
	if err != nil {
		return nil, WrapOp("residual2d", err)
	}
	conv2, err := NewConv2D(outChannels, outChannels, 3, 1, 1, false, init)
	if err != nil {
		return nil, WrapOp("residual2d", err)
	}
	bn2, _ := NewBatchNorm(outChannels)

	b := &ResidualBlock2D{
		InChannels:  inChannels,
		OutChannels: outChannels,
		Stride:      stride,
		Conv1:       conv1,
		BN1:         bn1,
		Conv2:       conv2,
		BN2:         bn2,
		Shortcut:    Identity{},
	}
	if needsProjection(inChannels, outChannels, stride) {
		conv, err := NewConv2D(inChannels, outChannels, 1, stride, 0, false, init)
		if err != nil {
			return nil, WrapOp("residual2d", err)
		}
		norm, _ := NewBatchNorm(outChannels)
		b.Shortcut = &Projection{Conv: conv, Norm: norm}
	}
	return b, nil
}

// OutputSize returns the block's output height and width
func (b *ResidualBlock2D) OutputSize(h, w int) (int, int) {
	return b.Conv1.OutputSize(h, w)
}

// UseBackend routes every convolution of the block through backend
func (b *ResidualBlock2D) UseBackend(backend Conv2DBackend) {
	b.Conv1.Backend = backend
	b.Conv2.Backend = backend
	if p, ok := b.Shortcut.(*Projection); ok {
		if conv, ok := p.Conv.(*Conv2D); ok {
			conv.Backend = backend
		}
	}
}

func (b *ResidualBlock2D) Forward(x *Tensor) (*Tensor, error) {
	if err := expectShape("residual2d", x, -1, b.InChannels, -1, -1); err != nil {
		return nil, err
	}
	out, err := b.Conv1.Forward(x)
	if err != nil {
		return nil, WrapOp("residual2d", err)
	}
	if out, err = b.BN1.Forward(out); err != nil {
		return nil, WrapOp("residual2d", err)
	}
	activateInPlace(out.Data, ActivationReLU)
	if out, err = b.Conv2.Forward(out); err != nil {
		return nil, WrapOp("residual2d", err)
	}
	if out, err = b.BN2.Forward(out); err != nil {
		return nil, WrapOp("residual2d", err)
	}

	residual, err := b.Shortcut.Forward(x)
	if err != nil {
		return nil, WrapOp("residual2d", err)
	}
	return addActivate("residual2d", out, residual, ActivationReLU)
}

func (b *ResidualBlock2D) Parameters() []Param {
	var params []Param
	params = append(params, PrefixParams("conv1", b.Conv1.Parameters())...)
	params = append(params, PrefixParams("bn1", b.BN1.Parameters())...)
	params = append(params, PrefixParams("conv2", b.Conv2.Parameters())...)
	params = append(params, PrefixParams("bn2", b.BN2.Parameters())...)
	params = append(params, PrefixParams("downsample", b.Shortcut.Parameters())...)
	return params
}
