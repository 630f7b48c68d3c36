package nn

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Linear is a fully-connected layer applied over the last axis
type Linear struct {
	In, Out int
	Weight  *Tensor // [Out][In]
	Bias    *Tensor // [Out], nil when the layer has no bias
}

// NewLinear initializes a Linear layer with He-normal weights and zero bias
func NewLinear(in, out int, bias bool, init *Initializer) (*Linear, error) {
	if in <= 0 || out <= 0 {
		return nil, ConfigError("linear", "in=%d and out=%d must be positive", in, out)
	}
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: init.HeNormal(in, out, in),
	}
	if bias {
		l.Bias = Zeros(out)
	}
	return l, nil
}

// Forward maps [..., In] to [..., Out]
func (l *Linear) Forward(x *Tensor) (*Tensor, error) {
	if x == nil || len(x.Shape) == 0 || x.Shape[len(x.Shape)-1] != l.In {
		var shape []int
		if x != nil {
			shape = x.Shape
		}
		return nil, ShapeError("linear", "last axis of %v must be %d", shape, l.In)
	}

	rows := len(x.Data) / l.In
	outShape := append(append([]int(nil), x.Shape[:len(x.Shape)-1]...), l.Out)
	out := NewTensor(outShape...)
	if rows == 0 {
		return out, nil
	}

	// out = x @ W^T
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: rows, Cols: l.In, Stride: l.In, Data: x.Data},
		blas32.General{Rows: l.Out, Cols: l.In, Stride: l.In, Data: l.Weight.Data},
		0,
		blas32.General{Rows: rows, Cols: l.Out, Stride: l.Out, Data: out.Data},
	)

	if l.Bias != nil {
		for r := 0; r < rows; r++ {
			row := out.Data[r*l.Out : (r+1)*l.Out]
			for o, b := range l.Bias.Data {
				row[o] += b
			}
		}
	}
	return out, nil
}

func (l *Linear) Parameters() []Param {
	params := []Param{{Name: "weight", Value: l.Weight}}
	if l.Bias != nil {
		params = append(params, Param{Name: "bias", Value: l.Bias})
	}
	return params
}
