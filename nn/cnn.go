package nn

// Conv2D is a 2D convolution with a square kernel.
// input shape: [batch][inChannels][height][width]
// output shape: [batch][filters][outHeight][outWidth]
type Conv2D struct {
	InChannels int
	Filters    int
	KernelSize int
	Stride     int
	Padding    int
	Kernel     *Tensor // [filters][inChannels][kernelSize][kernelSize]
	Bias       *Tensor // [filters], nil when the layer has no bias

	// Backend executes the convolution; nil selects CPUBackend.
	Backend Conv2DBackend
}

// NewConv2D initializes a Conv2D layer with He-normal kernel weights and zero bias
func NewConv2D(inChannels, filters, kernelSize, stride, padding int, bias bool, init *Initializer) (*Conv2D, error) {
	if inChannels <= 0 || filters <= 0 || kernelSize <= 0 || stride <= 0 || padding < 0 {
		return nil, ConfigError("conv2d",
			"in=%d filters=%d kernel=%d stride=%d padding=%d", inChannels, filters, kernelSize, stride, padding)
	}
	c := &Conv2D{
		InChannels: inChannels,
		Filters:    filters,
		KernelSize: kernelSize,
		Stride:     stride,
		Padding:    padding,
		Kernel: init.HeNormal(inChannels*kernelSize*kernelSize,
			filters, inChannels, kernelSize, kernelSize),
	}
	if bias {
		c.Bias = Zeros(filters)
	}
	return c, nil
}

// OutputSize returns the output height and width for an inH x inW input
func (c *Conv2D) OutputSize(inH, inW int) (int, int) {
	return ConvOutputLength(inH, c.KernelSize, c.Stride, c.Padding),
		ConvOutputLength(inW, c.KernelSize, c.Stride, c.Padding)
}

func (c *Conv2D) Forward(x *Tensor) (*Tensor, error) {
	if err := expectShape("conv2d", x, -1, c.InChannels, -1, -1); err != nil {
		return nil, err
	}
	g := Conv2DGeometry{
		Batch:       x.Shape[0],
		InChannels:  c.InChannels,
		OutChannels: c.Filters,
		Height:      x.Shape[2],
		Width:       x.Shape[3],
		Kernel:      c.KernelSize,
		Stride:      c.Stride,
		Padding:     c.Padding,
	}
	outH, outW := g.OutputSize()
	if outH <= 0 || outW <= 0 {
		return nil, ShapeError("conv2d", "%dx%d input too small for kernel %d", g.Height, g.Width, g.Kernel)
	}

	var bias []float32
	if c.Bias != nil {
		bias = c.Bias.Data
	}
	backend := c.Backend
	if backend == nil {
		backend = CPUBackend{}
	}
	data, err := backend.Conv2D(x.Data, c.Kernel.Data, bias, g)
	if err != nil {
		return nil, WrapOp("conv2d", err)
	}
	return NewTensorFromSlice(data, g.Batch, c.Filters, outH, outW)
}

func (c *Conv2D) Parameters() []Param {
	params := []Param{{Name: "weight", Value: c.Kernel}}
	if c.Bias != nil {
		params = append(params, Param{Name: "bias", Value: c.Bias})
	}
	return params
}
