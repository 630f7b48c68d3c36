package nn

import (
	"fmt"
	"slices"
)

// Tensor is a dense row-major float32 array.
// Shape lists the extent of every axis; len(Data) always equals the product
// of Shape.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zero-filled tensor
func NewTensor(shape ...int) *Tensor {
	return &Tensor{
		Shape: slices.Clone(shape),
		Data:  make([]float32, numel(shape)),
	}
}

// NewTensorFromSlice wraps data without copying it
func NewTensorFromSlice(data []float32, shape ...int) (*Tensor, error) {
	if n := numel(shape); n != len(data) {
		return nil, ShapeError("tensor", "shape %v holds %d elements, data has %d", shape, n, len(data))
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// strides returns the row-major element stride of every axis
func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

// Size returns the number of elements
func (t *Tensor) Size() int { return len(t.Data) }

// Dims returns the number of axes
func (t *Tensor) Dims() int { return len(t.Shape) }

// Clone returns a deep copy
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// SameShape reports whether both tensors have identical shapes
func (t *Tensor) SameShape(other *Tensor) bool {
	return slices.Equal(t.Shape, other.Shape)
}

// Equal reports whether both tensors have the same shape and values
func (t *Tensor) Equal(other *Tensor) bool {
	return t.SameShape(other) && slices.Equal(t.Data, other.Data)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}

// Reshape returns a view with a new shape sharing the same data.
// One axis may be -1 and is inferred. The element count must be preserved.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	shape = slices.Clone(shape)
	infer := -1
	known := 1
	for i, d := range shape {
		switch {
		case d == -1 && infer < 0:
			infer = i
		case d <= 0:
			return nil, ShapeError("reshape", "invalid target shape %v", shape)
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || len(t.Data)%known != 0 {
			return nil, ShapeError("reshape", "cannot infer axis of %v from %d elements", shape, len(t.Data))
		}
		shape[infer] = len(t.Data) / known
	}
	if numel(shape) != len(t.Data) {
		return nil, ShapeError("reshape", "cannot view %v (%d elements) as %v", t.Shape, len(t.Data), shape)
	}
	return &Tensor{Shape: shape, Data: t.Data}, nil
}

// Squeeze removes a size-1 axis
func (t *Tensor) Squeeze(axis int) (*Tensor, error) {
	if axis < 0 || axis >= len(t.Shape) || t.Shape[axis] != 1 {
		return nil, ShapeError("squeeze", "axis %d of %v is not a singleton", axis, t.Shape)
	}
	return &Tensor{Shape: slices.Delete(slices.Clone(t.Shape), axis, axis+1), Data: t.Data}, nil
}

// Unsqueeze inserts a size-1 axis before position axis
func (t *Tensor) Unsqueeze(axis int) (*Tensor, error) {
	if axis < 0 || axis > len(t.Shape) {
		return nil, ShapeError("unsqueeze", "axis %d out of range for %v", axis, t.Shape)
	}
	return &Tensor{Shape: slices.Insert(slices.Clone(t.Shape), axis, 1), Data: t.Data}, nil
}

// Permute returns a copy with axes reordered: output axis i is input axis axes[i]
func (t *Tensor) Permute(axes ...int) (*Tensor, error) {
	n := len(t.Shape)
	if len(axes) != n {
		return nil, ShapeError("permute", "got %d axes for rank-%d tensor", len(axes), n)
	}
	seen := make([]bool, n)
	outShape := make([]int, n)
	for i, a := range axes {
		if a < 0 || a >= n || seen[a] {
			return nil, ShapeError("permute", "invalid axis order %v", axes)
		}
		seen[a] = true
		outShape[i] = t.Shape[a]
	}

	inStrides := strides(t.Shape)
	out := NewTensor(outShape...)
	idx := make([]int, n)
	for o := range out.Data {
		src := 0
		for i := 0; i < n; i++ {
			src += idx[i] * inStrides[axes[i]]
		}
		out.Data[o] = t.Data[src]

		for i := n - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < outShape[i] {
				break
			}
			idx[i] = 0
		}
	}
	return out, nil
}

// Stack joins equally shaped tensors along a new axis inserted at position axis
func Stack(axis int, tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, ShapeError("stack", "nothing to stack")
	}
	base := tensors[0].Shape
	if axis < 0 || axis > len(base) {
		return nil, ShapeError("stack", "axis %d out of range for %v", axis, base)
	}
	for i, t := range tensors[1:] {
		if !slices.Equal(t.Shape, base) {
			return nil, ShapeError("stack", "tensor %d has shape %v, want %v", i+1, t.Shape, base)
		}
	}

	outer := numel(base[:axis])
	inner := numel(base[axis:])
	k := len(tensors)
	out := NewTensor(slices.Insert(slices.Clone(base), axis, k)...)
	for o := 0; o < outer; o++ {
		for i, t := range tensors {
			copy(out.Data[(o*k+i)*inner:(o*k+i+1)*inner], t.Data[o*inner:(o+1)*inner])
		}
	}
	return out, nil
}

// expectShape validates the rank and, for non-negative entries of dims, the
// extent of each axis.
func expectShape(op string, x *Tensor, dims ...int) error {
	if x == nil {
		return ShapeError(op, "nil input")
	}
	if len(x.Shape) != len(dims) {
		return ShapeError(op, "expected rank %d input, got %v", len(dims), x.Shape)
	}
	for i, d := range dims {
		if d >= 0 && x.Shape[i] != d {
			return ShapeError(op, "axis %d of %v must be %d", i, x.Shape, d)
		}
	}
	return nil
}
