package ssr

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/graphsensor/graphsensor-code/nn"
)

// SegmentSetEncoder applies one shared SegmentEncoder to every segment of a
// [batch][segments][1][window] tensor and gathers the flattened encodings
// into [batch][segments][1][features], keeping segment order.
//
// Segments are encoded concurrently, at most Workers at a time. Each
// goroutine writes a disjoint slice of the output so results do not depend on
// scheduling.
type SegmentSetEncoder struct {
	Encoder *SegmentEncoder
	Workers int
}

// NewSegmentSetEncoder wraps encoder; workers <= 0 uses GOMAXPROCS
func NewSegmentSetEncoder(encoder *SegmentEncoder, workers int) *SegmentSetEncoder {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &SegmentSetEncoder{Encoder: encoder, Workers: workers}
}

// Encode maps [batch][segments][1][window] to [batch][segments][1][features]
func (s *SegmentSetEncoder) Encode(segments *nn.Tensor) (*nn.Tensor, error) {
	w := s.Encoder.WindowLength
	if segments == nil || len(segments.Shape) != 4 || segments.Shape[2] != 1 || segments.Shape[3] != w {
		var shape []int
		if segments != nil {
			shape = segments.Shape
		}
		return nil, nn.ShapeError("segment_set_encoder", "expected [batch segments 1 %d] input, got %v", w, shape)
	}

	batchSize, numSegments := segments.Shape[0], segments.Shape[1]
	features := s.Encoder.FeatureSize()
	out := nn.NewTensor(batchSize, numSegments, 1, features)

	var g errgroup.Group
	g.SetLimit(s.Workers)
	for k := 0; k < numSegments; k++ {
		g.Go(func() error {
			// Gather segment k of every batch element into [batch][1][window]
			window := nn.NewTensor(batchSize, 1, w)
			for b := 0; b < batchSize; b++ {
				src := segments.Data[(b*numSegments+k)*w : (b*numSegments+k+1)*w]
				copy(window.Data[b*w:(b+1)*w], src)
			}

			encoded, err := s.Encoder.Forward(window)
			if err != nil {
				return nn.NewError(err).Op("segment_set_encoder").Context("segment", k).Build()
			}
			for b := 0; b < batchSize; b++ {
				dst := out.Data[(b*numSegments+k)*features : (b*numSegments+k+1)*features]
				copy(dst, encoded.Data[b*features:(b+1)*features])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
