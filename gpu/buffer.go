package gpu

import (
	"fmt"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

const readTimeout = 5 * time.Second

// NewFloatBuffer creates a buffer holding data
func NewFloatBuffer(c *Context, label string, data []float32, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	buf, err := c.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: wgpu.ToBytes(data),
		Usage:    usage,
	})
	if err != nil {
		return nil, backendError("gpu buffer", fmt.Errorf("failed to create %s buffer: %w", label, err))
	}
	return buf, nil
}

// NewOutputBuffer creates an uninitialized storage buffer of size floats that
// can be copied out with ReadBuffer
func NewOutputBuffer(c *Context, label string, size int) (*wgpu.Buffer, error) {
	buf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  uint64(size * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, backendError("gpu buffer", fmt.Errorf("failed to create %s buffer: %w", label, err))
	}
	return buf, nil
}

// ReadBuffer copies the first size floats of buffer back to the host
func ReadBuffer(c *Context, buffer *wgpu.Buffer, size int) ([]float32, error) {
	sizeBytes := uint64(size * 4)
	staging, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "ReadStaging",
		Size:  sizeBytes,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, backendError("gpu read", fmt.Errorf("failed to create staging buffer: %w", err))
	}
	defer staging.Destroy()

	encoder, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, backendError("gpu read", err)
	}
	encoder.CopyBufferToBuffer(buffer, 0, staging, 0, sizeBytes)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, backendError("gpu read", err)
	}
	c.Queue.Submit(cmd)

	done := make(chan struct{})
	var mapErr error
	err = staging.MapAsync(wgpu.MapModeRead, 0, sizeBytes, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("map failed: %v", status)
		}
		close(done)
	})
	if err != nil {
		return nil, backendError("gpu read", err)
	}

	// Poll without blocking so a lost device cannot hang the caller
	timeout := time.After(readTimeout)
Loop:
	for {
		c.Device.Poll(false, nil)
		select {
		case <-done:
			break Loop
		case <-timeout:
			return nil, backendError("gpu read", fmt.Errorf("timed out after %v", readTimeout))
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if mapErr != nil {
		return nil, backendError("gpu read", mapErr)
	}

	data := staging.GetMappedRange(0, uint(sizeBytes))
	if data == nil {
		return nil, backendError("gpu read", fmt.Errorf("failed to get mapped range"))
	}
	result := make([]float32, size)
	copy(result, wgpu.FromBytes[float32](data))
	staging.Unmap()
	return result, nil
}
