package nn

import (
	"math"
)

// MaxPool1D takes the maximum over sliding windows of the last axis.
// Padding positions never win, as if filled with -Inf.
type MaxPool1D struct {
	KernelSize int
	Stride     int
	Padding    int
}

// NewMaxPool1D validates the pooling geometry
func NewMaxPool1D(kernelSize, stride, padding int) (*MaxPool1D, error) {
	if err := validatePool("maxpool1d", kernelSize, stride, padding); err != nil {
		return nil, err
	}
	return &MaxPool1D{KernelSize: kernelSize, Stride: stride, Padding: padding}, nil
}

func validatePool(op string, kernelSize, stride, padding int) error {
	if kernelSize <= 0 || stride <= 0 || padding < 0 {
		return ConfigError(op, "kernel=%d stride=%d padding=%d", kernelSize, stride, padding)
	}
	// Every window must overlap at least one real element
	if padding > kernelSize/2 {
		return ConfigError(op, "padding %d exceeds half of kernel %d", padding, kernelSize)
	}
	return nil
}

// OutputLength returns the pooled length for an input of length n
func (p *MaxPool1D) OutputLength(n int) int {
	return ConvOutputLength(n, p.KernelSize, p.Stride, p.Padding)
}

// Forward pools [batch][channels][length]
func (p *MaxPool1D) Forward(x *Tensor) (*Tensor, error) {
	if err := expectShape("maxpool1d", x, -1, -1, -1); err != nil {
		return nil, err
	}
	planes, n := x.Shape[0]*x.Shape[1], x.Shape[2]
	outLen := p.OutputLength(n)
	if outLen <= 0 {
		return nil, ShapeError("maxpool1d", "length %d too short for kernel %d", n, p.KernelSize)
	}

	out := NewTensor(x.Shape[0], x.Shape[1], outLen)
	for pl := 0; pl < planes; pl++ {
		in := x.Data[pl*n : (pl+1)*n]
		for o := 0; o < outLen; o++ {
			best := float32(math.Inf(-1))
			for k := 0; k < p.KernelSize; k++ {
				pos := o*p.Stride + k - p.Padding
				if pos >= 0 && pos < n && in[pos] > best {
					best = in[pos]
				}
			}
			out.Data[pl*outLen+o] = best
		}
	}
	return out, nil
}

func (*MaxPool1D) Parameters() []Param { return nil }

// MaxPool2D takes the maximum over square windows of the last two axes
type MaxPool2D struct {
	KernelSize int
	Stride     int
	Padding    int
}

// NewMaxPool2D validates the pooling geometry
func NewMaxPool2D(kernelSize, stride, padding int) (*MaxPool2D, error) {
	if err := validatePool("maxpool2d", kernelSize, stride, padding); err != nil {
		return nil, err
	}
	return &MaxPool2D{KernelSize: kernelSize, Stride: stride, Padding: padding}, nil
}

// OutputSize returns the pooled height and width
func (p *MaxPool2D) OutputSize(h, w int) (int, int) {
	return ConvOutputLength(h, p.KernelSize, p.Stride, p.Padding),
		ConvOutputLength(w, p.KernelSize, p.Stride, p.Padding)
}

// Forward pools [batch][channels][height][width]
func (p *MaxPool2D) Forward(x *Tensor) (*Tensor, error) {
	if err := expectShape("maxpool2d", x, -1, -1, -1, -1); err != nil {
		return nil, err
	}
	h, w := x.Shape[2], x.Shape[3]
	outH, outW := p.OutputSize(h, w)
	if outH <= 0 || outW <= 0 {
		return nil, ShapeError("maxpool2d", "%dx%d input too small for kernel %d", h, w, p.KernelSize)
	}

	planes := x.Shape[0] * x.Shape[1]
	out := NewTensor(x.Shape[0], x.Shape[1], outH, outW)
	for pl := 0; pl < planes; pl++ {
		in := x.Data[pl*h*w : (pl+1)*h*w]
		dst := out.Data[pl*outH*outW : (pl+1)*outH*outW]
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				best := float32(math.Inf(-1))
				for kh := 0; kh < p.KernelSize; kh++ {
					ih := oh*p.Stride + kh - p.Padding
					if ih < 0 || ih >= h {
						continue
					}
					for kw := 0; kw < p.KernelSize; kw++ {
						iw := ow*p.Stride + kw - p.Padding
						if iw >= 0 && iw < w && in[ih*w+iw] > best {
							best = in[ih*w+iw]
						}
					}
				}
				dst[oh*outW+ow] = best
			}
		}
	}
	return out, nil
}

func (*MaxPool2D) Parameters() []Param { return nil }

// GlobalAvgPool averages every axis after axis 1, keeping them as size-1 axes
type GlobalAvgPool struct{}

// Means returns the per-channel averages of x as a [batch][channels] tensor
func (GlobalAvgPool) Means(x *Tensor) (*Tensor, error) {
	if x == nil || len(x.Shape) < 2 {
		var shape []int
		if x != nil {
			shape = x.Shape
		}
		return nil, ShapeError("avgpool", "expected [batch][channels][...] input, got %v", shape)
	}
	batchSize, channels := x.Shape[0], x.Shape[1]
	inner := numel(x.Shape[2:])
	if inner == 0 {
		return nil, ShapeError("avgpool", "empty spatial extent in %v", x.Shape)
	}

	out := NewTensor(batchSize, channels)
	for i := range out.Data {
		var sum float64
		for _, v := range x.Data[i*inner : (i+1)*inner] {
			sum += float64(v)
		}
		out.Data[i] = float32(sum / float64(inner))
	}
	return out, nil
}

func (p GlobalAvgPool) Forward(x *Tensor) (*Tensor, error) {
	means, err := p.Means(x)
	if err != nil {
		return nil, err
	}
	shape := make([]int, len(x.Shape))
	for i := range shape {
		shape[i] = 1
	}
	shape[0], shape[1] = x.Shape[0], x.Shape[1]
	return means.Reshape(shape...)
}

func (GlobalAvgPool) Parameters() []Param { return nil }
