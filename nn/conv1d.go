package nn

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// ConvOutputLength returns floor((n + 2*padding - kernel) / stride) + 1, or 0
// when the kernel does not fit.
func ConvOutputLength(n, kernel, stride, padding int) int {
	if stride <= 0 || n+2*padding < kernel {
		return 0
	}
	return (n+2*padding-kernel)/stride + 1
}

// Conv1D is a 1D convolution.
// Input shape: [batch][inChannels][seqLen]
// Output shape: [batch][filters][outLen]
type Conv1D struct {
	InChannels int
	Filters    int
	KernelSize int
	Stride     int
	Padding    int
	Kernel     *Tensor // [filters][inChannels][kernelSize]
	Bias       *Tensor // [filters], nil when the layer has no bias
}

// NewConv1D initializes a Conv1D layer with He-normal kernel weights and zero bias
func NewConv1D(inChannels, filters, kernelSize, stride, padding int, bias bool, init *Initializer) (*Conv1D, error) {
	if inChannels <= 0 || filters <= 0 || kernelSize <= 0 || stride <= 0 || padding < 0 {
		return nil, ConfigError("conv1d",
			"in=%d filters=%d kernel=%d stride=%d padding=%d", inChannels, filters, kernelSize, stride, padding)
	}
	c := &Conv1D{
		InChannels: inChannels,
		Filters:    filters,
		KernelSize: kernelSize,
		Stride:     stride,
		Padding:    padding,
		Kernel:     init.HeNormal(inChannels*kernelSize, filters, inChannels, kernelSize),
	}
	if bias {
		c.Bias = Zeros(filters)
	}
	return c, nil
}

// OutputLength returns the output length for an input of length seqLen
func (c *Conv1D) OutputLength(seqLen int) int {
	return ConvOutputLength(seqLen, c.KernelSize, c.Stride, c.Padding)
}

func (c *Conv1D) Forward(x *Tensor) (*Tensor, error) {
	if err := expectShape("conv1d", x, -1, c.InChannels, -1); err != nil {
		return nil, err
	}
	batchSize, seqLen := x.Shape[0], x.Shape[2]
	outLen := c.OutputLength(seqLen)
	if outLen <= 0 {
		return nil, ShapeError("conv1d", "length %d too short for kernel %d with padding %d", seqLen, c.KernelSize, c.Padding)
	}

	rows := c.InChannels * c.KernelSize
	cols := make([]float32, rows*outLen)
	out := NewTensor(batchSize, c.Filters, outLen)

	for b := 0; b < batchSize; b++ {
		in := x.Data[b*c.InChannels*seqLen : (b+1)*c.InChannels*seqLen]
		im2col1D(in, cols, c.InChannels, seqLen, c.KernelSize, c.Stride, c.Padding, outLen)

		dst := out.Data[b*c.Filters*outLen : (b+1)*c.Filters*outLen]
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
			blas32.General{Rows: c.Filters, Cols: rows, Stride: rows, Data: c.Kernel.Data},
			blas32.General{Rows: rows, Cols: outLen, Stride: outLen, Data: cols},
			0,
			blas32.General{Rows: c.Filters, Cols: outLen, Stride: outLen, Data: dst},
		)

		if c.Bias != nil {
			for f := 0; f < c.Filters; f++ {
				bias := c.Bias.Data[f]
				row := dst[f*outLen : (f+1)*outLen]
				for o := range row {
					row[o] += bias
				}
			}
		}
	}

	return out, nil
}

// im2col1D unrolls receptive fields into a [inChannels*kernelSize][outLen]
// matrix. Positions falling in the padding are zero.
func im2col1D(input, cols []float32, inChannels, seqLen, kernelSize, stride, padding, outLen int) {
	for ic := 0; ic < inChannels; ic++ {
		for k := 0; k < kernelSize; k++ {
			row := cols[(ic*kernelSize+k)*outLen : (ic*kernelSize+k+1)*outLen]
			for o := range row {
				inPos := o*stride + k - padding
				if inPos >= 0 && inPos < seqLen {
					row[o] = input[ic*seqLen+inPos]
				} else {
					row[o] = 0
				}
			}
		}
	}
}

func (c *Conv1D) Parameters() []Param {
	params := []Param{{Name: "weight", Value: c.Kernel}}
	if c.Bias != nil {
		params = append(params, Param{Name: "bias", Value: c.Bias})
	}
	return params
}
