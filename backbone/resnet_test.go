package backbone

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphsensor/graphsensor-code/nn"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.InputSize = 24
	cfg.NumClasses = 5
	cfg.MapSide = 16
	cfg.StemChannels = 8
	cfg.StageWidths = []int{8, 16, 32, 64}
	cfg.StageBlocks = []int{1, 1, 1, 1}
	cfg.HiddenUnits = 16
	return cfg
}

func signal(shape ...int) *nn.Tensor {
	x := nn.NewTensor(shape...)
	for i := range x.Data {
		x.Data[i] = float32(math.Cos(float64(i) * 0.21))
	}
	return x
}

func TestResNetShapes(t *testing.T) {
	r, err := NewResNet(smallConfig(), nn.NewInitializer(1))
	require.NoError(t, err)

	// 16 -> stem 8 -> pool 4 -> 4, 2, 1, 1
	assert.Equal(t, []int{4, 4, 2, 1, 1}, r.FeatureSides())

	for _, batch := range []int{1, 2, 5} {
		out, err := r.Classify(signal(batch, 1, 24))
		require.NoError(t, err)
		assert.Equal(t, []int{batch, 5}, out.Shape)

		for b := 0; b < batch; b++ {
			var sum float64
			for _, v := range out.Data[b*5 : (b+1)*5] {
				sum += math.Exp(float64(v))
			}
			assert.InDelta(t, 1.0, sum, 1e-5)
		}
	}
}

func TestResNetAcceptsAnyLayoutWithMatchingSize(t *testing.T) {
	r, err := NewResNet(smallConfig(), nn.NewInitializer(1))
	require.NoError(t, err)

	flat, err := r.Classify(signal(2, 24))
	require.NoError(t, err)
	image, err := r.Classify(signal(2, 1, 4, 6))
	require.NoError(t, err)
	assert.True(t, flat.Equal(image))
}

func TestResNetRejectsWrongElementCount(t *testing.T) {
	r, err := NewResNet(smallConfig(), nn.NewInitializer(1))
	require.NoError(t, err)

	for _, shape := range [][]int{{2, 1, 23}, {2, 25}, {24}} {
		_, err := r.Classify(nn.NewTensor(shape...))
		assert.ErrorIs(t, err, nn.ErrShapeMismatch, "shape %v", shape)
	}
	_, err = r.Classify(nil)
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
}

func TestResNetZeroInputIsUniform(t *testing.T) {
	r, err := NewResNet(smallConfig(), nn.NewInitializer(7))
	require.NoError(t, err)

	out, err := r.Classify(nn.NewTensor(3, 1, 24))
	require.NoError(t, err)
	want := -math.Log(5)
	for _, v := range out.Data {
		assert.InDelta(t, want, float64(v), 1e-6)
	}
}

func TestResNetParameters(t *testing.T) {
	r, err := NewResNet(smallConfig(), nn.NewInitializer(1))
	require.NoError(t, err)

	names := map[string][]int{}
	for _, p := range r.Parameters() {
		_, dup := names[p.Name]
		require.False(t, dup, "duplicate parameter %s", p.Name)
		names[p.Name] = p.Value.Shape
	}
	assert.Equal(t, []int{256, 24}, names["fc1.0.weight"])
	assert.Equal(t, []int{8, 1, 7, 7}, names["conv1.weight"])
	assert.Equal(t, []int{8}, names["bn1.running_mean"])
	assert.Equal(t, []int{16, 8, 3, 3}, names["layer2.0.conv1.weight"])
	assert.Equal(t, []int{16, 8, 1, 1}, names["layer2.0.downsample.0.weight"])
	assert.Equal(t, []int{16, 64}, names["fc2.0.weight"])
	assert.Equal(t, []int{5}, names["fc2.2.bias"])

	_, ok := names["layer1.0.downsample.0.weight"]
	assert.False(t, ok, "first stage keeps width and stride, so no projection")
}

func TestResNetDefaultDepth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InputSize = 8
	r, err := NewResNet(cfg, nn.NewInitializer(1))
	require.NoError(t, err)

	blocks := 0
	for _, stage := range r.Stages {
		blocks += len(stage)
	}
	assert.Equal(t, 15, blocks)
	assert.Equal(t, []int{8, 8, 4, 2, 1}, r.FeatureSides())
	assert.Equal(t, 512, r.FC2.In)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"missing input size", func(c *Config) { c.InputSize = 0 }},
		{"one class", func(c *Config) { c.NumClasses = 1 }},
		{"no stages", func(c *Config) { c.StageWidths, c.StageStrides, c.StageBlocks = nil, nil, nil }},
		{"ragged stages", func(c *Config) { c.StageBlocks = []int{1, 1} }},
		{"empty stage", func(c *Config) { c.StageBlocks = []int{1, 0, 1, 1} }},
		{"zero side", func(c *Config) { c.MapSide = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), nn.ErrConfiguration)
			_, err := NewResNet(cfg, nn.NewInitializer(1))
			assert.ErrorIs(t, err, nn.ErrConfiguration)
		})
	}

	cfg := smallConfig()
	cfg.InputSize, cfg.HiddenUnits = 0, 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input size")
	assert.Contains(t, err.Error(), "hidden units")
}

type countingBackend struct {
	calls int
}

func (c *countingBackend) Conv2D(input, kernel, bias []float32, g nn.Conv2DGeometry) ([]float32, error) {
	c.calls++
	return nn.CPUBackend{}.Conv2D(input, kernel, bias, g)
}

func TestResNetUseBackend(t *testing.T) {
	r, err := NewResNet(smallConfig(), nn.NewInitializer(1))
	require.NoError(t, err)
	want, err := r.Classify(signal(1, 1, 24))
	require.NoError(t, err)

	backend := &countingBackend{}
	r.UseBackend(backend)
	got, err := r.Classify(signal(1, 1, 24))
	require.NoError(t, err)

	// stem + 2 per block + 3 projections
	assert.Equal(t, 1+2*4+3, backend.calls)
	assert.True(t, want.Equal(got))
}
