package nn

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Conv2DGeometry describes one 2D convolution call.
// Input layout is [batch][inChannels][height][width], kernels are
// [outChannels][inChannels][kernel][kernel], output is
// [batch][outChannels][outHeight][outWidth].
type Conv2DGeometry struct {
	Batch       int
	InChannels  int
	OutChannels int
	Height      int
	Width       int
	Kernel      int
	Stride      int
	Padding     int
}

// OutputSize returns the output height and width
func (g Conv2DGeometry) OutputSize() (int, int) {
	return ConvOutputLength(g.Height, g.Kernel, g.Stride, g.Padding),
		ConvOutputLength(g.Width, g.Kernel, g.Stride, g.Padding)
}

// Conv2DBackend executes 2D convolutions.
// This abstraction allows swapping implementations (CPU, GPU) without
// changing layer code. Implementations must be safe for concurrent use and
// must not retain or modify input, kernel or bias. bias may be nil.
type Conv2DBackend interface {
	Conv2D(input, kernel, bias []float32, g Conv2DGeometry) ([]float32, error)
}

// CPUBackend runs convolutions as im2col followed by SGEMM
type CPUBackend struct{}

// NewCPUBackend creates a new CPU backend
func NewCPUBackend() CPUBackend { return CPUBackend{} }

func (CPUBackend) Conv2D(input, kernel, bias []float32, g Conv2DGeometry) ([]float32, error) {
	outH, outW := g.OutputSize()
	if outH <= 0 || outW <= 0 {
		return nil, ShapeError("conv2d", "%dx%d input too small for kernel %d", g.Height, g.Width, g.Kernel)
	}
	inPlane := g.InChannels * g.Height * g.Width
	if len(input) != g.Batch*inPlane {
		return nil, ShapeError("conv2d", "input holds %d values, geometry needs %d", len(input), g.Batch*inPlane)
	}

	rows := g.InChannels * g.Kernel * g.Kernel
	if len(kernel) != g.OutChannels*rows {
		return nil, ShapeError("conv2d", "kernel holds %d values, geometry needs %d", len(kernel), g.OutChannels*rows)
	}
	outPlane := outH * outW
	cols := make([]float32, rows*outPlane)
	output := make([]float32, g.Batch*g.OutChannels*outPlane)

	for b := 0; b < g.Batch; b++ {
		im2col2D(input[b*inPlane:(b+1)*inPlane], cols, g, outH, outW)

		dst := output[b*g.OutChannels*outPlane : (b+1)*g.OutChannels*outPlane]
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
			blas32.General{Rows: g.OutChannels, Cols: rows, Stride: rows, Data: kernel},
			blas32.General{Rows: rows, Cols: outPlane, Stride: outPlane, Data: cols},
			0,
			blas32.General{Rows: g.OutChannels, Cols: outPlane, Stride: outPlane, Data: dst},
		)

		if bias != nil {
			for f := 0; f < g.OutChannels; f++ {
				row := dst[f*outPlane : (f+1)*outPlane]
				for i := range row {
					row[i] += bias[f]
				}
			}
		}
	}
	return output, nil
}

// im2col2D unrolls receptive fields of one batch element into a
// [inChannels*k*k][outH*outW] matrix
func im2col2D(input, cols []float32, g Conv2DGeometry, outH, outW int) {
	k := g.Kernel
	for ic := 0; ic < g.InChannels; ic++ {
		for kh := 0; kh < k; kh++ {
			for kw := 0; kw < k; kw++ {
				r := (ic*k+kh)*k + kw
				row := cols[r*outH*outW : (r+1)*outH*outW]
				for oh := 0; oh < outH; oh++ {
					ih := oh*g.Stride + kh - g.Padding
					for ow := 0; ow < outW; ow++ {
						iw := ow*g.Stride + kw - g.Padding
						if ih >= 0 && ih < g.Height && iw >= 0 && iw < g.Width {
							row[oh*outW+ow] = input[(ic*g.Height+ih)*g.Width+iw]
						} else {
							row[oh*outW+ow] = 0
						}
					}
				}
			}
		}
	}
}
