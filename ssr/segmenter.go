package ssr

import (
	"math"

	"github.com/graphsensor/graphsensor-code/nn"
)

// Segmenter cuts a [batch][1][1][length] signal into overlapping windows.
// Windows start every Stride samples; a window that would run past the end
// of the signal is dropped rather than padded.
type Segmenter struct {
	SignalLength int
	WindowLength int
	OverlapRate  float64
	Stride       int
	NumSegments  int
}

// SegmentStride returns W - round(W*r), the distance between window starts
func SegmentStride(windowLength int, overlapRate float64) int {
	return windowLength - int(math.Round(float64(windowLength)*overlapRate))
}

// SegmentCount returns floor((L-W)/stride)+1, the number of windows that fit
func SegmentCount(signalLength, windowLength, stride int) int {
	if stride <= 0 || windowLength > signalLength {
		return 0
	}
	return (signalLength-windowLength)/stride + 1
}

// NewSegmenter validates the window geometry
func NewSegmenter(signalLength, windowLength int, overlapRate float64) (*Segmenter, error) {
	switch {
	case windowLength <= 0:
		return nil, nn.ConfigError("segmenter", "window length %d must be positive", windowLength)
	case windowLength > signalLength:
		return nil, nn.ConfigError("segmenter", "window length %d exceeds signal length %d", windowLength, signalLength)
	case overlapRate < 0 || overlapRate >= 1 || math.IsNaN(overlapRate):
		return nil, nn.ConfigError("segmenter", "overlap rate %v outside [0, 1)", overlapRate)
	}

	stride := SegmentStride(windowLength, overlapRate)
	if stride < 1 {
		return nil, nn.NewError(nn.ErrConfiguration).
			Op("segmenter").
			Context("window", windowLength).
			Context("overlap", overlapRate).
			Context("stride", stride).
			Build()
	}
	return &Segmenter{
		SignalLength: signalLength,
		WindowLength: windowLength,
		OverlapRate:  overlapRate,
		Stride:       stride,
		NumSegments:  SegmentCount(signalLength, windowLength, stride),
	}, nil
}

// Segment maps [batch][1][1][length] to [batch][segments][1][window],
// segments in ascending order of their start offset
func (s *Segmenter) Segment(x *nn.Tensor) (*nn.Tensor, error) {
	if x == nil || len(x.Shape) != 4 || x.Shape[1] != 1 || x.Shape[2] != 1 || x.Shape[3] != s.SignalLength {
		var shape []int
		if x != nil {
			shape = x.Shape
		}
		return nil, nn.ShapeError("segmenter", "expected [batch 1 1 %d] input, got %v", s.SignalLength, shape)
	}

	batchSize, w := x.Shape[0], s.WindowLength
	out := nn.NewTensor(batchSize, s.NumSegments, 1, w)
	for b := 0; b < batchSize; b++ {
		signal := x.Data[b*s.SignalLength : (b+1)*s.SignalLength]
		for k := 0; k < s.NumSegments; k++ {
			start := k * s.Stride
			dst := out.Data[(b*s.NumSegments+k)*w : (b*s.NumSegments+k+1)*w]
			copy(dst, signal[start:start+w])
		}
	}
	return out, nil
}
