package nn

import (
	"math"
)

// LogSoftmax normalizes the last axis into log-probabilities.
// Each row is shifted by its maximum before exponentiation so large logits
// cannot overflow.
type LogSoftmax struct{}

func (LogSoftmax) Forward(x *Tensor) (*Tensor, error) {
	if x == nil || len(x.Shape) == 0 || x.Shape[len(x.Shape)-1] == 0 {
		var shape []int
		if x != nil {
			shape = x.Shape
		}
		return nil, ShapeError("log_softmax", "cannot normalize over last axis of %v", shape)
	}
	n := x.Shape[len(x.Shape)-1]
	out := NewTensor(x.Shape...)
	for r := 0; r < len(x.Data)/n; r++ {
		logSoftmaxRow(x.Data[r*n:(r+1)*n], out.Data[r*n:(r+1)*n])
	}
	return out, nil
}

func (LogSoftmax) Parameters() []Param { return nil }

func logSoftmaxRow(in, out []float32) {
	maxVal := math.Inf(-1)
	for _, v := range in {
		maxVal = math.Max(maxVal, float64(v))
	}
	var sum float64
	for _, v := range in {
		sum += math.Exp(float64(v) - maxVal)
	}
	logSum := math.Log(sum)
	for i, v := range in {
		out[i] = float32(float64(v) - maxVal - logSum)
	}
}
