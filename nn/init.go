package nn

import (
	"math"
	"math/rand"
)

// Initializer draws initial parameter values from a seeded source.
// Layers draw from it in construction order, so one seed fixes every weight of
// a model built the same way.
type Initializer struct {
	rng *rand.Rand
}

// NewInitializer creates an initializer seeded with seed
func NewInitializer(seed int64) *Initializer {
	return &Initializer{rng: rand.New(rand.NewSource(seed))}
}

// HeNormal returns a tensor drawn from N(0, 2/fanIn)
func (in *Initializer) HeNormal(fanIn int, shape ...int) *Tensor {
	t := NewTensor(shape...)
	stddev := float32(math.Sqrt(2.0 / float64(fanIn)))
	for i := range t.Data {
		t.Data[i] = float32(in.rng.NormFloat64()) * stddev
	}
	return t
}

// Zeros returns a zero-filled tensor
func Zeros(shape ...int) *Tensor {
	return NewTensor(shape...)
}

// Full returns a tensor with every element set to v
func Full(v float32, shape ...int) *Tensor {
	t := NewTensor(shape...)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}
