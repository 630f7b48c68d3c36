// Package classifier assembles the segment representation and the ResNet
// backbone into one classifier mapping raw sensor signals to class
// log-probabilities.
package classifier

import (
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/graphsensor/graphsensor-code/backbone"
	"github.com/graphsensor/graphsensor-code/nn"
	"github.com/graphsensor/graphsensor-code/ssr"
)

// Classifier maps [batch][1][1][signalLength] signals to
// [batch][numClasses] log-probabilities.
//
// Parameters are only read during Classify, so one Classifier can serve
// concurrent callers as long as nothing updates its parameters meanwhile.
type Classifier struct {
	cfg            Config
	representation *ssr.Representation
	backbone       *backbone.ResNet
	logger         *slog.Logger
	metrics        *Metrics
}

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	backend    nn.Conv2DBackend
}

// Option configures optional collaborators of a Classifier
type Option func(*options)

// WithLogger sets the structured logger; the default discards everything
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics registers Prometheus collectors with registerer
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(o *options) { o.registerer = registerer }
}

// WithConv2DBackend runs the backbone convolutions on backend
func WithConv2DBackend(backend nn.Conv2DBackend) Option {
	return func(o *options) { o.backend = backend }
}

// New validates cfg and builds a classifier whose parameters are all drawn
// from one initializer seeded with cfg.Seed
func New(cfg Config, opts ...Option) (*Classifier, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "classifier")

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return nil, err
	}
	init := nn.NewInitializer(cfg.Seed)
	representation, err := ssr.NewRepresentation(cfg.representationConfig(), init)
	if err != nil {
		return nil, err
	}
	cfg.NumSegments = representation.NumSegments()
	cfg.Backbone = cfg.backboneConfig(representation.FeatureSize())

	net, err := backbone.NewResNet(cfg.Backbone, init)
	if err != nil {
		return nil, err
	}
	if o.backend != nil {
		net.UseBackend(o.backend)
	}

	c := &Classifier{
		cfg:            cfg,
		representation: representation,
		backbone:       net,
		logger:         logger,
	}
	if o.registerer != nil {
		if c.metrics, err = NewMetrics(o.registerer); err != nil {
			return nil, err
		}
	}

	logger.Debug("classifier built",
		"signal_length", cfg.SignalLength,
		"window_length", cfg.WindowLength,
		"stride", representation.Segmenter.Stride,
		"num_segments", cfg.NumSegments,
		"segment_features", representation.FeatureSize(),
		"encoder_length", representation.SetEncoder.Encoder.OutputLength(),
		"backbone_input", cfg.Backbone.InputSize,
		"feature_sides", net.FeatureSides(),
		"num_classes", cfg.NumClasses,
		"parameters", nn.CountParameters(c.Parameters()),
		"accelerated", o.backend != nil,
	)
	return c, nil
}

// Config returns the resolved configuration, with NumSegments and the
// backbone's derived fields filled in
func (c *Classifier) Config() Config {
	cfg := c.cfg
	cfg.Backbone = cfg.backboneConfig(c.representation.FeatureSize())
	return cfg
}

// Representation exposes the segment representation stage
func (c *Classifier) Representation() *ssr.Representation { return c.representation }

// Backbone exposes the ResNet stage
func (c *Classifier) Backbone() *backbone.ResNet { return c.backbone }

// Classify maps [batch][1][1][signalLength] to [batch][numClasses]
// log-probabilities
func (c *Classifier) Classify(x *nn.Tensor) (*nn.Tensor, error) {
	start := time.Now()
	out, err := c.classify(x)
	if err != nil {
		category := nn.CategoryOf(err)
		c.logger.Warn("classification failed", "error", err, "category", string(category))
		if c.metrics != nil {
			c.metrics.ErrorsTotal.WithLabelValues(string(category)).Inc()
		}
		return nil, err
	}

	elapsed := time.Since(start)
	batchSize := out.Shape[0]
	if c.metrics != nil {
		c.metrics.ForwardDuration.Observe(elapsed.Seconds())
		c.metrics.SamplesTotal.Add(float64(batchSize))
	}
	c.logger.Debug("classified batch", "batch", batchSize, "duration", elapsed)
	return out, nil
}

func (c *Classifier) classify(x *nn.Tensor) (*nn.Tensor, error) {
	rep, err := c.representation.Represent(x)
	if err != nil {
		return nil, nn.WrapOp("classifier", err)
	}
	// [batch][1][K][F] -> [batch][1][K*F]
	batchSize := rep.Shape[0]
	flat, err := rep.Reshape(batchSize, 1, -1)
	if err != nil {
		return nil, nn.WrapOp("classifier", err)
	}
	out, err := c.backbone.Classify(flat)
	if err != nil {
		return nil, nn.WrapOp("classifier", err)
	}
	return out, nil
}

// Predict returns the most likely class of every signal in the batch
func (c *Classifier) Predict(x *nn.Tensor) ([]int, error) {
	out, err := c.Classify(x)
	if err != nil {
		return nil, err
	}
	return nn.ArgMax(out), nil
}

// AttentionWeights returns the weight the global node attention gives every
// segment, [batch][K]
func (c *Classifier) AttentionWeights(x *nn.Tensor) (*nn.Tensor, error) {
	w, err := c.representation.AttentionWeights(x)
	if err != nil {
		return nil, nn.WrapOp("classifier", err)
	}
	return w, nil
}

// Parameters returns every learned tensor under a stable, unique name.
// Representation tensors are prefixed "representation." and backbone
// tensors "backbone.".
func (c *Classifier) Parameters() []nn.Param {
	return append(
		nn.PrefixParams("representation", c.representation.Parameters()),
		nn.PrefixParams("backbone", c.backbone.Parameters())...,
	)
}
