package ssr

import (
	"github.com/graphsensor/graphsensor-code/nn"
)

// Config describes a signal segment representation
type Config struct {
	SignalLength   int
	WindowLength   int
	OverlapRate    float64
	AFRReducedSize int // feature channels per segment
	SEReduction    int // channel gate reduction inside the segment encoder
	GateReduction  int // reduction of the global node attention over segments
	Workers        int // concurrent segment encodings, 0 for GOMAXPROCS
	Encoder        EncoderConfig
}

// Representation turns a raw signal into a segment feature map weighted by
// global node attention.
//
//	[batch][1][1][length]
//	  -> segment            [batch][K][1][window]
//	  -> encode each        [batch][K][1][F]
//	  -> attention over K   [batch][K][1][F]
//	  -> swap axes 1 and 2  [batch][1][K][F]
//
// The result reads as a one-channel K x F image.
type Representation struct {
	Segmenter  *Segmenter
	SetEncoder *SegmentSetEncoder
	Attention  *nn.ChannelGate
}

// NewRepresentation builds the segmenter, the shared encoder and the
// attention gate, drawing encoder weights from init before gate weights
func NewRepresentation(cfg Config, init *nn.Initializer) (*Representation, error) {
	segmenter, err := NewSegmenter(cfg.SignalLength, cfg.WindowLength, cfg.OverlapRate)
	if err != nil {
		return nil, err
	}
	encoder, err := NewSegmentEncoder(cfg.WindowLength, cfg.AFRReducedSize, cfg.SEReduction, cfg.Encoder, init)
	if err != nil {
		return nil, err
	}
	attention, err := NewChannelGateOverSegments(segmenter.NumSegments, cfg.GateReduction, init)
	if err != nil {
		return nil, err
	}
	return &Representation{
		Segmenter:  segmenter,
		SetEncoder: NewSegmentSetEncoder(encoder, cfg.Workers),
		Attention:  attention,
	}, nil
}

// NewChannelGateOverSegments builds the global node attention gate, which
// treats each of the numSegments segments as one channel
func NewChannelGateOverSegments(numSegments, reduction int, init *nn.Initializer) (*nn.ChannelGate, error) {
	gate, err := nn.NewChannelGate(numSegments, reduction, init)
	if err != nil {
		return nil, nn.WrapOp("global_node_attention", err)
	}
	return gate, nil
}

// NumSegments returns K
func (r *Representation) NumSegments() int { return r.Segmenter.NumSegments }

// FeatureSize returns F, the flattened encoding size of one segment
func (r *Representation) FeatureSize() int { return r.SetEncoder.Encoder.FeatureSize() }

// OutputShape returns the representation shape for a batch of batchSize
func (r *Representation) OutputShape(batchSize int) []int {
	return []int{batchSize, 1, r.NumSegments(), r.FeatureSize()}
}

// SegmentFeatures returns the encoded segments before attention,
// [batch][K][1][F]
func (r *Representation) SegmentFeatures(x *nn.Tensor) (*nn.Tensor, error) {
	segments, err := r.Segmenter.Segment(x)
	if err != nil {
		return nil, err
	}
	return r.SetEncoder.Encode(segments)
}

// AttentionWeights returns the weight in (0, 1) the attention gate assigns to
// every segment, [batch][K]
func (r *Representation) AttentionWeights(x *nn.Tensor) (*nn.Tensor, error) {
	features, err := r.SegmentFeatures(x)
	if err != nil {
		return nil, err
	}
	return r.Attention.Weights(features)
}

// Represent maps [batch][1][1][length] to [batch][1][K][F]
func (r *Representation) Represent(x *nn.Tensor) (*nn.Tensor, error) {
	features, err := r.SegmentFeatures(x)
	if err != nil {
		return nil, err
	}
	gated, err := r.Attention.Forward(features)
	if err != nil {
		return nil, err
	}
	return gated.Permute(0, 2, 1, 3)
}

func (r *Representation) Forward(x *nn.Tensor) (*nn.Tensor, error) { return r.Represent(x) }

// Parameters lists the shared encoder under "segment2vec" and the attention
// gate under "gna"
func (r *Representation) Parameters() []nn.Param {
	return append(
		nn.PrefixParams("segment2vec", r.SetEncoder.Encoder.Parameters()),
		nn.PrefixParams("gna", r.Attention.Parameters())...,
	)
}
