package nn

import (
	"math"
)

// Activate applies the activation function to a single value
func Activate(v float32, activation Activation) float32 {
	switch activation {
	case ActivationReLU:
		if v < 0 {
			return 0
		}
		return v
	case ActivationGELU:
		x := float64(v)
		return float32(0.5 * x * (1 + math.Erf(x/math.Sqrt2)))
	case ActivationSigmoid:
		// Split on sign so exp never overflows
		x := float64(v)
		if x >= 0 {
			return float32(1 / (1 + math.Exp(-x)))
		}
		e := math.Exp(x)
		return float32(e / (1 + e))
	default:
		return v
	}
}

// activateInPlace applies the activation to every element of data
func activateInPlace(data []float32, activation Activation) {
	if activation == ActivationIdentity {
		return
	}
	for i, v := range data {
		data[i] = Activate(v, activation)
	}
}

// ActivateTensor returns a new tensor with the activation applied element-wise
func ActivateTensor(t *Tensor, activation Activation) *Tensor {
	out := t.Clone()
	activateInPlace(out.Data, activation)
	return out
}

// ActivationLayer wraps an activation as a parameterless Layer
type ActivationLayer struct {
	Kind Activation
}

func (a ActivationLayer) Forward(x *Tensor) (*Tensor, error) {
	if x == nil {
		return nil, ShapeError(a.Kind.String(), "nil input")
	}
	return ActivateTensor(x, a.Kind), nil
}

func (ActivationLayer) Parameters() []Param { return nil }
