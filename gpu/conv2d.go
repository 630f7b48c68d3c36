package gpu

import (
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/graphsensor/graphsensor-code/nn"
)

const (
	workgroupSize = 256
	maxWorkgroups = 65535 // per dispatch dimension
)

// Conv2D implements nn.Conv2DBackend with one WGSL compute shader per
// convolution geometry. Pipelines are compiled on first use and cached;
// calls are serialized on the device queue.
type Conv2D struct {
	ctx *Context

	mu        sync.Mutex
	pipelines map[nn.Conv2DGeometry]*wgpu.ComputePipeline
}

// NewConv2D acquires the GPU context
func NewConv2D() (*Conv2D, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	return &Conv2D{ctx: c, pipelines: make(map[nn.Conv2DGeometry]*wgpu.ComputePipeline)}, nil
}

// checkSizes validates slice lengths against the geometry before any device
// work is queued
func checkSizes(input, kernel, bias []float32, g nn.Conv2DGeometry) (outH, outW int, err error) {
	outH, outW = g.OutputSize()
	switch {
	case outH <= 0 || outW <= 0:
		return 0, 0, nn.ShapeError("gpu conv2d", "%dx%d input too small for kernel %d", g.Height, g.Width, g.Kernel)
	case len(input) != g.Batch*g.InChannels*g.Height*g.Width:
		return 0, 0, nn.ShapeError("gpu conv2d", "input holds %d values, geometry %+v needs %d",
			len(input), g, g.Batch*g.InChannels*g.Height*g.Width)
	case len(kernel) != g.OutChannels*g.InChannels*g.Kernel*g.Kernel:
		return 0, 0, nn.ShapeError("gpu conv2d", "kernel holds %d values, geometry %+v needs %d",
			len(kernel), g, g.OutChannels*g.InChannels*g.Kernel*g.Kernel)
	case bias != nil && len(bias) != g.OutChannels:
		return 0, 0, nn.ShapeError("gpu conv2d", "bias holds %d values, want %d", len(bias), g.OutChannels)
	}
	return outH, outW, nil
}

// dispatchSize splits total invocations over a 2D grid of workgroups
func dispatchSize(total int) (x, y uint32) {
	groups := (total + workgroupSize - 1) / workgroupSize
	if groups <= maxWorkgroups {
		return uint32(groups), 1
	}
	return maxWorkgroups, uint32((groups + maxWorkgroups - 1) / maxWorkgroups)
}

// shaderSource generates a shader for one geometry. Every invocation
// computes one output element of the [batch][out][outH][outW] tensor.
func shaderSource(g nn.Conv2DGeometry) string {
	outH, outW := g.OutputSize()
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<f32>;
		@group(0) @binding(1) var<storage, read> weights : array<f32>;
		@group(0) @binding(2) var<storage, read> bias : array<f32>;
		@group(0) @binding(3) var<storage, read_write> output : array<f32>;

		const BATCH: u32 = %du;
		const IN_H: u32 = %du;
		const IN_W: u32 = %du;
		const IN_CH: u32 = %du;
		const OUT_CH: u32 = %du;
		const K: u32 = %du;
		const STRIDE: u32 = %du;
		const PADDING: i32 = %d;
		const OUT_H: u32 = %du;
		const OUT_W: u32 = %du;
		const ROW: u32 = %du;

		@compute @workgroup_size(%d)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let idx = gid.x + gid.y * ROW;
			if (idx >= BATCH * OUT_CH * OUT_H * OUT_W) { return; }

			let out_w = idx %% OUT_W;
			let out_h = (idx / OUT_W) %% OUT_H;
			let out_c = (idx / (OUT_W * OUT_H)) %% OUT_CH;
			let b = idx / (OUT_W * OUT_H * OUT_CH);

			var sum: f32 = bias[out_c];
			for (var in_c: u32 = 0u; in_c < IN_CH; in_c++) {
				for (var kh: u32 = 0u; kh < K; kh++) {
					let in_h = i32(out_h * STRIDE + kh) - PADDING;
					if (in_h < 0 || u32(in_h) >= IN_H) { continue; }
					for (var kw: u32 = 0u; kw < K; kw++) {
						let in_w = i32(out_w * STRIDE + kw) - PADDING;
						if (in_w < 0 || u32(in_w) >= IN_W) { continue; }
						let i_idx = ((b * IN_CH + in_c) * IN_H + u32(in_h)) * IN_W + u32(in_w);
						let w_idx = ((out_c * IN_CH + in_c) * K + kh) * K + kw;
						sum += input[i_idx] * weights[w_idx];
					}
				}
			}
			output[idx] = sum;
		}
	`, g.Batch, g.Height, g.Width, g.InChannels, g.OutChannels, g.Kernel, g.Stride, g.Padding,
		outH, outW, maxWorkgroups*workgroupSize, workgroupSize)
}

func (c *Conv2D) pipeline(g nn.Conv2DGeometry) (*wgpu.ComputePipeline, error) {
	if p, ok := c.pipelines[g]; ok {
		return p, nil
	}
	mod, err := c.ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Conv2D_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaderSource(g)},
	})
	if err != nil {
		return nil, backendError("gpu conv2d", err)
	}
	defer mod.Release()

	p, err := c.ctx.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   "Conv2D_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: mod, EntryPoint: "main"},
	})
	if err != nil {
		return nil, backendError("gpu conv2d", err)
	}
	c.pipelines[g] = p
	return p, nil
}

// Conv2D implements nn.Conv2DBackend
func (c *Conv2D) Conv2D(input, kernel, bias []float32, g nn.Conv2DGeometry) ([]float32, error) {
	outH, outW, err := checkSizes(input, kernel, bias, g)
	if err != nil {
		return nil, err
	}
	if bias == nil {
		bias = make([]float32, g.OutChannels)
	}
	total := g.Batch * g.OutChannels * outH * outW

	c.mu.Lock()
	defer c.mu.Unlock()

	pipe, err := c.pipeline(g)
	if err != nil {
		return nil, err
	}

	var buffers []*wgpu.Buffer
	defer func() {
		for _, b := range buffers {
			b.Destroy()
		}
	}()
	upload := func(label string, data []float32) (*wgpu.Buffer, error) {
		b, err := NewFloatBuffer(c.ctx, label, data, wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst)
		if err == nil {
			buffers = append(buffers, b)
		}
		return b, err
	}
	inBuf, err := upload("Conv2D_In", input)
	if err != nil {
		return nil, err
	}
	wBuf, err := upload("Conv2D_Weights", kernel)
	if err != nil {
		return nil, err
	}
	bBuf, err := upload("Conv2D_Bias", bias)
	if err != nil {
		return nil, err
	}
	outBuf, err := NewOutputBuffer(c.ctx, "Conv2D_Out", total)
	if err != nil {
		return nil, err
	}
	buffers = append(buffers, outBuf)

	bindGroup, err := c.ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Conv2D_Bind",
		Layout: pipe.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: inBuf, Size: inBuf.GetSize()},
			{Binding: 1, Buffer: wBuf, Size: wBuf.GetSize()},
			{Binding: 2, Buffer: bBuf, Size: bBuf.GetSize()},
			{Binding: 3, Buffer: outBuf, Size: outBuf.GetSize()},
		},
	})
	if err != nil {
		return nil, backendError("gpu conv2d", err)
	}
	defer bindGroup.Release()

	encoder, err := c.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, backendError("gpu conv2d", err)
	}
	defer encoder.Release()
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipe)
	pass.SetBindGroup(0, bindGroup, nil)
	x, y := dispatchSize(total)
	pass.DispatchWorkgroups(x, y, 1)
	pass.End()
	pass.Release()
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, backendError("gpu conv2d", err)
	}
	c.ctx.Queue.Submit(cmd)
	cmd.Release()

	return ReadBuffer(c.ctx, outBuf, total)
}

// Release frees the cached pipelines
func (c *Conv2D) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for g, p := range c.pipelines {
		p.Release()
		delete(c.pipelines, g)
	}
}
