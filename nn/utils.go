package nn

import (
	"math"
)

// MaxAbsDiff calculates the maximum absolute difference between two slices
func MaxAbsDiff(a, b []float32) float64 {
	n := min(len(a), len(b))
	m := 0.0
	for i := 0; i < n; i++ {
		d := math.Abs(float64(a[i] - b[i]))
		if d > m {
			m = d
		}
	}
	return m
}

// ArgMax returns the index of the largest value in every row of the last
// axis, so a [batch][classes] tensor yields one index per batch element
func ArgMax(t *Tensor) []int {
	if len(t.Shape) == 0 || t.Shape[len(t.Shape)-1] == 0 {
		return nil
	}
	n := t.Shape[len(t.Shape)-1]
	out := make([]int, len(t.Data)/n)
	for r := range out {
		row := t.Data[r*n : (r+1)*n]
		best := 0
		for i, v := range row {
			if v > row[best] {
				best = i
			}
		}
		out[r] = best
	}
	return out
}
