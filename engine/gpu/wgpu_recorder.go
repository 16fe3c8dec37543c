package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

var _ Recorder = &wgpuDeviceBackend{}

// cameraUniformSize is the fixed allocation for the camera uniform buffer.
// Uniform bindings round up to 256-byte alignment anyway.
const cameraUniformSize = 256

// vertexStride is the byte size of one vertex: position vec3, normal vec3,
// uv vec2, color vec4.
const vertexStride = 48

var wgpuVertexLayout = wgpu.VertexBufferLayout{
	ArrayStride: vertexStride,
	StepMode:    wgpu.VertexStepModeVertex,
	Attributes: []wgpu.VertexAttribute{
		{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
		{Format: wgpu.VertexFormatFloat32x3, Offset: 12, ShaderLocation: 1},
		{Format: wgpu.VertexFormatFloat32x2, Offset: 24, ShaderLocation: 2},
		{Format: wgpu.VertexFormatFloat32x4, Offset: 32, ShaderLocation: 3},
	},
}

// wgpuPipeline wraps a compiled render pipeline.
type wgpuPipeline struct {
	pipeline *wgpu.RenderPipeline
	layout   *wgpu.PipelineLayout
}

func (p *wgpuPipeline) Destroy() {
	p.pipeline.Release()
	p.layout.Release()
}

// ensureGlobalsLayout creates the group 0 layout: camera uniform at binding
// 0 and the per-draw storage array at binding 1. Caller holds b.mu.
func (b *wgpuDeviceBackend) ensureGlobalsLayout() error {
	if b.globalsLayout != nil {
		return nil
	}
	layout, err := b.dev.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Frame Globals Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type: wgpu.BufferBindingTypeUniform,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type: wgpu.BufferBindingTypeReadOnlyStorage,
				},
			},
		},
	})
	if err != nil {
		return err
	}
	b.globalsLayout = layout
	return nil
}

func (b *wgpuDeviceBackend) CreatePipeline(vert, frag []byte, opts PipelineOptions) (Pipeline, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureGlobalsLayout(); err != nil {
		return nil, err
	}
	if err := b.ensureTableLayout(); err != nil {
		return nil, err
	}

	vs, err := b.dev.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:           "Vertex Shader",
		SPIRVDescriptor: &wgpu.ShaderModuleSPIRVDescriptor{Code: vert},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: vertex module: %w", err)
	}
	defer vs.Release()
	fs, err := b.dev.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:           "Fragment Shader",
		SPIRVDescriptor: &wgpu.ShaderModuleSPIRVDescriptor{Code: frag},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: fragment module: %w", err)
	}
	defer fs.Release()

	layout, err := b.dev.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "Render Pipeline Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{b.globalsLayout, b.tableLayout},
	})
	if err != nil {
		return nil, err
	}

	cull := wgpu.CullModeNone
	switch opts.Cull {
	case CullBack:
		cull = wgpu.CullModeBack
	case CullFront:
		cull = wgpu.CullModeFront
	}
	depthCompare := wgpu.CompareFunctionAlways
	if opts.DepthTest {
		depthCompare = wgpu.CompareFunctionLess
	}

	format := wgpu.TextureFormatRGBA8UnormSrgb
	if b.surfaceFormat != nil {
		format = *b.surfaceFormat
	}

	created, err := b.dev.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "Render Pipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     vs,
			EntryPoint: "main",
			Buffers:    []wgpu.VertexBufferLayout{wgpuVertexLayout},
		},
		Fragment: &wgpu.FragmentState{
			Module:     fs,
			EntryPoint: "main",
			Targets: []wgpu.ColorTargetState{
				{
					Format: format,
					Blend: &wgpu.BlendState{
						Color: wgpu.BlendComponent{
							Operation: wgpu.BlendOperationAdd,
							SrcFactor: wgpu.BlendFactorSrcAlpha,
							DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
						},
						Alpha: wgpu.BlendComponent{
							Operation: wgpu.BlendOperationAdd,
							SrcFactor: wgpu.BlendFactorOne,
							DstFactor: wgpu.BlendFactorZero,
						},
					},
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  cull,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
		DepthStencil: &wgpu.DepthStencilState{
			Format:            wgpu.TextureFormatDepth24Plus,
			DepthWriteEnabled: opts.DepthWrite,
			DepthCompare:      depthCompare,
			StencilFront: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
			StencilBack: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
		},
	})
	if err != nil {
		layout.Release()
		return nil, err
	}
	return &wgpuPipeline{pipeline: created, layout: layout}, nil
}

func (b *wgpuDeviceBackend) BeginCommands() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder != nil {
		return fmt.Errorf("gpu: command encoder already open")
	}
	encoder, err := b.dev.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	b.frameEncoder = encoder
	return nil
}

func (b *wgpuDeviceBackend) beginPass(color, depth *wgpu.TextureView, clear [4]float32) {
	b.framePass = b.frameEncoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:    color,
				LoadOp:  wgpu.LoadOpClear,
				StoreOp: wgpu.StoreOpStore,
				ClearValue: wgpu.Color{
					R: float64(clear[0]),
					G: float64(clear[1]),
					B: float64(clear[2]),
					A: float64(clear[3]),
				},
			},
		},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            depth,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpDiscard,
			DepthClearValue: 1.0,
		},
	})
}

func (b *wgpuDeviceBackend) BeginSurfacePass(clear [4]float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder == nil {
		return fmt.Errorf("gpu: no open command encoder")
	}
	if b.frameView == nil {
		return fmt.Errorf("gpu: no acquired surface image")
	}
	b.beginPass(b.frameView, b.surfaceDepthView, clear)
	return nil
}

func (b *wgpuDeviceBackend) BeginTargetPass(color, depth Texture, clear [4]float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder == nil {
		return fmt.Errorf("gpu: no open command encoder")
	}
	ct, ok := color.(*wgpuTexture)
	if !ok {
		return fmt.Errorf("gpu: color attachment is %T, not a wgpu texture", color)
	}
	dt, ok := depth.(*wgpuTexture)
	if !ok {
		return fmt.Errorf("gpu: depth attachment is %T, not a wgpu texture", depth)
	}
	b.beginPass(ct.view, dt.view, clear)
	return nil
}

func (b *wgpuDeviceBackend) BindPipeline(p Pipeline) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wp, ok := p.(*wgpuPipeline)
	if !ok || b.framePass == nil {
		return
	}
	b.framePass.SetPipeline(wp.pipeline)
}

func (b *wgpuDeviceBackend) BindGlobals(camera []byte, drawData []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return fmt.Errorf("gpu: no open render pass")
	}
	if err := b.ensureGlobalsLayout(); err != nil {
		return err
	}

	if b.cameraBuffer == nil {
		buf, err := b.dev.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "Camera Uniform Buffer",
			Size:  cameraUniformSize,
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return err
		}
		b.cameraBuffer = buf
	}

	// Grow the per-draw storage buffer when the frame needs more room. The
	// bind group references the buffer, so growth forces a rebuild.
	need := uint64(len(drawData))
	if need == 0 {
		need = 64
	}
	if b.drawBuffer == nil || b.drawBufferSize < need {
		size := b.drawBufferSize
		if size == 0 {
			size = 4096
		}
		for size < need {
			size *= 2
		}
		buf, err := b.dev.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "Draw Data Buffer",
			Size:  size,
			Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return err
		}
		if b.drawBuffer != nil {
			b.drawBuffer.Release()
		}
		b.drawBuffer = buf
		b.drawBufferSize = size
		if b.globalsBindGroup != nil {
			b.globalsBindGroup.Release()
			b.globalsBindGroup = nil
		}
	}

	if b.globalsBindGroup == nil {
		group, err := b.dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "Frame Globals",
			Layout: b.globalsLayout,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: b.cameraBuffer, Size: cameraUniformSize},
				{Binding: 1, Buffer: b.drawBuffer, Size: b.drawBufferSize},
			},
		})
		if err != nil {
			return err
		}
		b.globalsBindGroup = group
	}

	if len(camera) > 0 {
		b.queue.WriteBuffer(b.cameraBuffer, 0, camera)
	}
	if len(drawData) > 0 {
		b.queue.WriteBuffer(b.drawBuffer, 0, drawData)
	}

	b.framePass.SetBindGroup(0, b.globalsBindGroup, nil)
	if b.tableBindGroup != nil {
		b.framePass.SetBindGroup(1, b.tableBindGroup, nil)
	}
	return nil
}

func (b *wgpuDeviceBackend) DrawMesh(vertices, indices Buffer, indexCount uint32, drawIndex uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return
	}
	vb, ok := vertices.(*wgpuBuffer)
	if !ok {
		return
	}
	ib, ok := indices.(*wgpuBuffer)
	if !ok {
		return
	}
	b.framePass.SetVertexBuffer(0, vb.buf, 0, wgpu.WholeSize)
	b.framePass.SetIndexBuffer(ib.buf, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
	b.framePass.DrawIndexed(indexCount, 1, 0, 0, drawIndex)
}

func (b *wgpuDeviceBackend) EndPass() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return
	}
	b.framePass.End()
	b.framePass.Release()
	b.framePass = nil
}

func (b *wgpuDeviceBackend) FinishCommands() (CommandBuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder == nil {
		return nil, fmt.Errorf("gpu: no open command encoder")
	}
	commandBuffer, err := b.frameEncoder.Finish(nil)
	b.frameEncoder.Release()
	b.frameEncoder = nil
	if err != nil {
		return nil, err
	}
	return commandBuffer, nil
}
