package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroTensors(params []Param, names ...string) {
	for _, p := range params {
		for _, n := range names {
			if p.Name == n {
				for i := range p.Value.Data {
					p.Value.Data[i] = 0
				}
			}
		}
	}
}

func TestChannelGate(t *testing.T) {
	t.Run("weights stay in the unit interval", func(t *testing.T) {
		g, err := NewChannelGate(8, 4, NewInitializer(5))
		require.NoError(t, err)

		x := rampTensor(3, 8, 6)
		for i := range x.Data {
			x.Data[i] *= 50
		}
		w, err := g.Weights(x)
		require.NoError(t, err)
		assert.Equal(t, []int{3, 8}, w.Shape)
		for _, v := range w.Data {
			assert.GreaterOrEqual(t, v, float32(0))
			assert.LessOrEqual(t, v, float32(1))
		}

		y, err := g.Forward(x)
		require.NoError(t, err)
		assert.Equal(t, x.Shape, y.Shape)
		for i := range x.Data {
			assert.LessOrEqual(t, abs32(y.Data[i]), abs32(x.Data[i]))
		}
	})

	t.Run("zero excitation halves the input", func(t *testing.T) {
		g, err := NewChannelGate(4, 2, NewInitializer(5))
		require.NoError(t, err)
		zeroTensors(g.Parameters(), "fc.2.weight")

		x := rampTensor(2, 4, 1, 3)
		y, err := g.Forward(x)
		require.NoError(t, err)
		for i := range x.Data {
			assert.InDelta(t, x.Data[i]*0.5, y.Data[i], 1e-6)
		}
	})

	t.Run("odd channel counts round the bottleneck down", func(t *testing.T) {
		g, err := NewChannelGate(199, 2, NewInitializer(5))
		require.NoError(t, err)
		assert.Equal(t, 99, g.Squeeze.Out)
	})

	t.Run("invalid reduction", func(t *testing.T) {
		_, err := NewChannelGate(4, 0, NewInitializer(1))
		assert.ErrorIs(t, err, ErrConfiguration)
		_, err = NewChannelGate(3, 4, NewInitializer(1))
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("wrong channel axis", func(t *testing.T) {
		g, _ := NewChannelGate(4, 2, NewInitializer(1))
		_, err := g.Forward(NewTensor(1, 5, 3))
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})

	names := []string{}
	g, _ := NewChannelGate(4, 2, NewInitializer(1))
	for _, p := range g.Parameters() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"fc.0.weight", "fc.2.weight"}, names)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func TestResidualBlock1D(t *testing.T) {
	t.Run("zeroed branch reduces to gelu of the input", func(t *testing.T) {
		b, err := NewResidualBlock1D(6, 6, 3, 1, 2, NewInitializer(9))
		require.NoError(t, err)
		assert.IsType(t, Identity{}, b.Shortcut)
		zeroTensors(b.Parameters(), "conv1.weight", "conv2.weight")

		x := rampTensor(2, 6, 5)
		y, err := b.Forward(x)
		require.NoError(t, err)
		for i := range x.Data {
			assert.InDelta(t, Activate(x.Data[i], ActivationGELU), y.Data[i], 1e-6)
		}
	})

	t.Run("channel change selects a projection", func(t *testing.T) {
		b, err := NewResidualBlock1D(16, 8, 1, 1, 4, NewInitializer(9))
		require.NoError(t, err)
		require.IsType(t, &Projection{}, b.Shortcut)

		y, err := b.Forward(rampTensor(2, 16, 3))
		require.NoError(t, err)
		assert.Equal(t, []int{2, 8, 3}, y.Shape)
	})

	t.Run("stride selects a projection", func(t *testing.T) {
		b, err := NewResidualBlock1D(4, 4, 3, 2, 2, NewInitializer(9))
		require.NoError(t, err)
		require.IsType(t, &Projection{}, b.Shortcut)
		assert.Equal(t, 4, b.OutputLength(7))

		y, err := b.Forward(rampTensor(1, 4, 7))
		require.NoError(t, err)
		assert.Equal(t, []int{1, 4, 4}, y.Shape)
	})

	t.Run("even kernel rejected", func(t *testing.T) {
		_, err := NewResidualBlock1D(4, 4, 2, 1, 2, NewInitializer(9))
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("parameter names", func(t *testing.T) {
		b, err := NewResidualBlock1D(16, 8, 1, 1, 4, NewInitializer(9))
		require.NoError(t, err)
		var names []string
		for _, p := range b.Parameters() {
			names = append(names, p.Name)
		}
		assert.Contains(t, names, "conv1.bias")
		assert.Contains(t, names, "reslayer.fc.0.weight")
		assert.Contains(t, names, "downsample.0.weight")
		assert.Contains(t, names, "downsample.1.running_var")
	})
}

func TestResidualBlock2D(t *testing.T) {
	t.Run("zeroed branch reduces to relu of the input", func(t *testing.T) {
		b, err := NewResidualBlock2D(3, 3, 1, NewInitializer(4))
		require.NoError(t, err)
		assert.IsType(t, Identity{}, b.Shortcut)
		zeroTensors(b.Parameters(), "conv1.weight", "conv2.weight")

		x := rampTensor(2, 3, 4, 4)
		for i := range x.Data {
			x.Data[i] -= 0.5
		}
		y, err := b.Forward(x)
		require.NoError(t, err)
		for i := range x.Data {
			assert.InDelta(t, max(x.Data[i], 0), y.Data[i], 1e-6)
		}
	})

	t.Run("strided block halves the map", func(t *testing.T) {
		b, err := NewResidualBlock2D(2, 4, 2, NewInitializer(4))
		require.NoError(t, err)
		require.IsType(t, &Projection{}, b.Shortcut)

		h, w := b.OutputSize(7, 7)
		assert.Equal(t, 4, h)
		assert.Equal(t, 4, w)

		y, err := b.Forward(rampTensor(1, 2, 7, 7))
		require.NoError(t, err)
		assert.Equal(t, []int{1, 4, 4, 4}, y.Shape)
	})

	t.Run("backend reaches every convolution", func(t *testing.T) {
		b, err := NewResidualBlock2D(2, 4, 2, NewInitializer(4))
		require.NoError(t, err)
		b.UseBackend(failingBackend{})
		assert.Equal(t, failingBackend{}, b.Conv1.Backend)
		assert.Equal(t, failingBackend{}, b.Conv2.Backend)
		assert.Equal(t, failingBackend{}, b.Shortcut.(*Projection).Conv.(*Conv2D).Backend)

		_, err = b.Forward(rampTensor(1, 2, 7, 7))
		assert.ErrorIs(t, err, ErrBackend)
	})
}
