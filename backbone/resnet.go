// Package backbone implements the 2D residual network that classifies a
// segment representation.
package backbone

import (
	"fmt"
	"strconv"

	"github.com/graphsensor/graphsensor-code/nn"
)

// ResNet classifies a [batch][channels][inputSize] tensor.
//
//	fc1: linear to side*side, gelu, view as [batch][channels][side][side]
//	stem: conv 7x7/2, bn, relu, maxpool 3x3/2
//	layer1..layerN: ResidualBlock2D stages
//	global average pool, flatten
//	fc2: linear to hidden, gelu, linear to classes
//	log-softmax
type ResNet struct {
	Config Config

	FC1     *nn.Linear
	Conv1   *nn.Conv2D
	BN1     *nn.BatchNorm
	MaxPool *nn.MaxPool2D
	Stages  [][]*nn.ResidualBlock2D
	FC2     *nn.Linear
	Head    *nn.Linear

	// feature map side after the stem and after every stage
	sides []int
}

// NewResNet validates cfg and builds the network
func NewResNet(cfg Config, init *nn.Initializer) (*ResNet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &ResNet{Config: cfg}
	var err error
	if r.FC1, err = nn.NewLinear(cfg.InputSize, cfg.MapSide*cfg.MapSide, true, init); err != nil {
		return nil, nn.WrapOp("backbone", err)
	}
	if r.Conv1, err = nn.NewConv2D(cfg.InputChannels, cfg.StemChannels, cfg.StemKernel, cfg.StemStride, cfg.StemKernel/2, false, init); err != nil {
		return nil, nn.WrapOp("backbone", err)
	}
	if r.BN1, err = nn.NewBatchNorm(cfg.StemChannels); err != nil {
		return nil, nn.WrapOp("backbone", err)
	}
	if r.MaxPool, err = nn.NewMaxPool2D(cfg.StemPoolKernel, cfg.StemPoolStride, cfg.StemPoolKernel/2); err != nil {
		return nil, nn.WrapOp("backbone", err)
	}

	side, _ := r.Conv1.OutputSize(cfg.MapSide, cfg.MapSide)
	side, _ = r.MaxPool.OutputSize(side, side)
	r.sides = append(r.sides, side)

	inPlanes := cfg.StemChannels
	for s, width := range cfg.StageWidths {
		stage := make([]*nn.ResidualBlock2D, cfg.StageBlocks[s])
		for i := range stage {
			stride := 1
			if i == 0 {
				stride = cfg.StageStrides[s]
			}
			block, err := nn.NewResidualBlock2D(inPlanes, width, stride, init)
			if err != nil {
				return nil, nn.WrapOp(stageName(s), err)
			}
			side, _ = block.OutputSize(side, side)
			stage[i] = block
			inPlanes = width
		}
		r.Stages = append(r.Stages, stage)
		r.sides = append(r.sides, side)
	}
	if side < 1 {
		return nil, nn.NewError(nn.ErrConfiguration).
			Op("backbone").
			Context("map_side", cfg.MapSide).
			Context("sides", fmt.Sprint(r.sides)).
			Build()
	}

	if r.FC2, err = nn.NewLinear(inPlanes, cfg.HiddenUnits, true, init); err != nil {
		return nil, nn.WrapOp("backbone", err)
	}
	if r.Head, err = nn.NewLinear(cfg.HiddenUnits, cfg.NumClasses, true, init); err != nil {
		return nil, nn.WrapOp("backbone", err)
	}
	return r, nil
}

func stageName(i int) string { return "layer" + strconv.Itoa(i+1) }

// FeatureSides returns the feature map side after the stem and after each
// stage
func (r *ResNet) FeatureSides() []int {
	return append([]int(nil), r.sides...)
}

// UseBackend routes every 2D convolution through backend
func (r *ResNet) UseBackend(backend nn.Conv2DBackend) {
	r.Conv1.Backend = backend
	for _, stage := range r.Stages {
		for _, block := range stage {
			block.UseBackend(backend)
		}
	}
}

// Classify maps a [batch][...] tensor holding inputChannels*inputSize values
// per batch element to [batch][numClasses] log-probabilities
func (r *ResNet) Classify(x *nn.Tensor) (*nn.Tensor, error) {
	cfg := r.Config
	perSample := cfg.InputChannels * cfg.InputSize
	if x == nil || len(x.Shape) < 2 || x.Shape[0] < 1 || x.Size() != x.Shape[0]*perSample {
		var shape []int
		if x != nil {
			shape = x.Shape
		}
		return nil, nn.NewError(fmt.Errorf("%w: input %v does not hold %d values per batch element",
			nn.ErrShapeMismatch, shape, perSample)).Op("backbone").Build()
	}
	batchSize := x.Shape[0]

	in, err := x.Reshape(batchSize, cfg.InputChannels, cfg.InputSize)
	if err != nil {
		return nil, nn.WrapOp("backbone", err)
	}
	h, err := r.FC1.Forward(in)
	if err != nil {
		return nil, nn.WrapOp("fc1", err)
	}
	h = nn.ActivateTensor(h, nn.ActivationGELU)
	if h, err = h.Reshape(batchSize, cfg.InputChannels, cfg.MapSide, cfg.MapSide); err != nil {
		return nil, nn.WrapOp("fc1", err)
	}

	if h, err = r.Conv1.Forward(h); err != nil {
		return nil, nn.WrapOp("conv1", err)
	}
	if h, err = r.BN1.Forward(h); err != nil {
		return nil, nn.WrapOp("bn1", err)
	}
	h = nn.ActivateTensor(h, nn.ActivationReLU)
	if h, err = r.MaxPool.Forward(h); err != nil {
		return nil, nn.WrapOp("maxpool", err)
	}

	for s, stage := range r.Stages {
		for _, block := range stage {
			if h, err = block.Forward(h); err != nil {
				return nil, nn.WrapOp(stageName(s), err)
			}
		}
	}

	pooled, err := nn.GlobalAvgPool{}.Means(h)
	if err != nil {
		return nil, nn.WrapOp("avgpool", err)
	}
	hidden, err := r.FC2.Forward(pooled)
	if err != nil {
		return nil, nn.WrapOp("fc2", err)
	}
	hidden = nn.ActivateTensor(hidden, nn.ActivationGELU)
	logits, err := r.Head.Forward(hidden)
	if err != nil {
		return nil, nn.WrapOp("fc2", err)
	}
	return nn.LogSoftmax{}.Forward(logits)
}

func (r *ResNet) Forward(x *nn.Tensor) (*nn.Tensor, error) { return r.Classify(x) }

// Parameters names tensors after the layer they belong to, e.g.
// "layer2.0.downsample.0.weight" or "fc2.2.bias"
func (r *ResNet) Parameters() []nn.Param {
	var params []nn.Param
	params = append(params, nn.PrefixParams("fc1.0", r.FC1.Parameters())...)
	params = append(params, nn.PrefixParams("conv1", r.Conv1.Parameters())...)
	params = append(params, nn.PrefixParams("bn1", r.BN1.Parameters())...)
	for s, stage := range r.Stages {
		for i, block := range stage {
			prefix := stageName(s) + "." + strconv.Itoa(i)
			params = append(params, nn.PrefixParams(prefix, block.Parameters())...)
		}
	}
	params = append(params, nn.PrefixParams("fc2.0", r.FC2.Parameters())...)
	params = append(params, nn.PrefixParams("fc2.2", r.Head.Parameters())...)
	return params
}
