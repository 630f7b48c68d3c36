package gpu

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphsensor/graphsensor-code/nn"
)

func filled(n int, scale float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(float64(i)*scale) * 0.5)
	}
	return out
}

func TestCheckSizes(t *testing.T) {
	g := nn.Conv2DGeometry{Batch: 2, InChannels: 3, OutChannels: 4, Height: 8, Width: 8, Kernel: 3, Stride: 2, Padding: 1}

	outH, outW, err := checkSizes(make([]float32, 2*3*64), make([]float32, 4*3*9), nil, g)
	require.NoError(t, err)
	assert.Equal(t, 4, outH)
	assert.Equal(t, 4, outW)

	_, _, err = checkSizes(make([]float32, 10), make([]float32, 4*3*9), nil, g)
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
	_, _, err = checkSizes(make([]float32, 2*3*64), make([]float32, 10), nil, g)
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
	_, _, err = checkSizes(make([]float32, 2*3*64), make([]float32, 4*3*9), make([]float32, 3), g)
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
}

func TestDispatchSize(t *testing.T) {
	x, y := dispatchSize(1)
	assert.Equal(t, uint32(1), x)
	assert.Equal(t, uint32(1), y)

	x, y = dispatchSize(256*maxWorkgroups + 1)
	assert.Equal(t, uint32(maxWorkgroups), x)
	assert.Equal(t, uint32(2), y)
}

func TestShaderSourceBakesGeometry(t *testing.T) {
	src := shaderSource(nn.Conv2DGeometry{Batch: 2, InChannels: 1, OutChannels: 64, Height: 32, Width: 32, Kernel: 7, Stride: 2, Padding: 3})
	assert.Contains(t, src, "const K: u32 = 7u;")
	assert.Contains(t, src, "const PADDING: i32 = 3;")
	assert.Contains(t, src, "const OUT_H: u32 = 16u;")
	assert.False(t, strings.Contains(src, "%!"), "format verbs must all be consumed")
}

func TestConv2DMatchesCPU(t *testing.T) {
	backend, err := NewConv2D()
	if err != nil {
		assert.ErrorIs(t, err, nn.ErrBackend)
		t.Skipf("no GPU available: %v", err)
	}
	defer backend.Release()

	tests := []nn.Conv2DGeometry{
		{Batch: 2, InChannels: 1, OutChannels: 8, Height: 16, Width: 16, Kernel: 7, Stride: 2, Padding: 3},
		{Batch: 1, InChannels: 8, OutChannels: 8, Height: 4, Width: 4, Kernel: 3, Stride: 1, Padding: 1},
		{Batch: 3, InChannels: 8, OutChannels: 16, Height: 4, Width: 4, Kernel: 1, Stride: 2, Padding: 0},
	}
	for _, g := range tests {
		input := filled(g.Batch*g.InChannels*g.Height*g.Width, 0.13)
		kernel := filled(g.OutChannels*g.InChannels*g.Kernel*g.Kernel, 0.71)
		bias := filled(g.OutChannels, 1.3)

		want, err := nn.CPUBackend{}.Conv2D(input, kernel, bias, g)
		require.NoError(t, err)
		got, err := backend.Conv2D(input, kernel, bias, g)
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, got, 1e-4, "geometry %+v", g)

		// Second call reuses the cached pipeline
		again, err := backend.Conv2D(input, kernel, nil, g)
		require.NoError(t, err)
		assert.Len(t, again, len(want))
	}
}

func TestConv2DRepeatedCallsReleaseCommands(t *testing.T) {
	backend, err := NewConv2D()
	if err != nil {
		t.Skipf("no GPU available: %v", err)
	}
	defer backend.Release()

	g := nn.Conv2DGeometry{Batch: 1, InChannels: 4, OutChannels: 4, Height: 8, Width: 8, Kernel: 3, Stride: 1, Padding: 1}
	input := filled(g.InChannels*g.Height*g.Width, 0.29)
	kernel := filled(g.OutChannels*g.InChannels*g.Kernel*g.Kernel, 0.37)

	first, err := backend.Conv2D(input, kernel, nil, g)
	require.NoError(t, err)
	// Every call records and submits its own encoder, pass and command buffer
	for i := 0; i < 64; i++ {
		got, err := backend.Conv2D(input, kernel, nil, g)
		require.NoError(t, err, "call %d", i)
		require.Equal(t, first, got, "call %d", i)
	}
}
