// Package nn provides the float32 tensor type and the forward-only layers the
// segment classifier is assembled from.
//
// Layers follow one contract:
//
//	out, err := layer.Forward(x)
//	params := layer.Parameters()
//
// Forward never mutates the layer or its input, so built models can be shared
// between goroutines. Shapes are checked on entry and violations are returned
// as errors matching ErrShapeMismatch; bad construction parameters match
// ErrConfiguration.
//
// Dense algebra (Linear, and Conv1D/Conv2D via im2col) runs on gonum's SGEMM.
// Conv2D delegates to a Conv2DBackend so an accelerator can take over the
// convolutions of the 2D backbone:
//
//	conv, _ := nn.NewConv2D(64, 128, 3, 2, 1, false, nn.NewInitializer(1))
//	conv.Backend = gpuBackend
//	y, err := conv.Forward(x)
package nn
