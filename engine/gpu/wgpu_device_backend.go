package gpu

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
)

// wgpuDeviceBackend implements Device and Surface over cogentcore/webgpu.
// A single mutex guards all queue and surface access; the engine's render
// loop is single-threaded, but one-off uploads may originate elsewhere.
type wgpuDeviceBackend struct {
	mu    *sync.Mutex
	inst  *wgpu.Instance
	adpt  *wgpu.Adapter
	dev   *wgpu.Device
	queue *wgpu.Queue

	surface       *wgpu.Surface
	surfaceFormat *wgpu.TextureFormat
	surfaceWidth  int
	surfaceHeight int
	imageCount    int
	imageCursor   int

	// Frame state: the acquired surface texture and its view, held from
	// Acquire until Present.
	frameSurface *wgpu.Texture
	frameView    *wgpu.TextureView

	// Depth attachment for surface passes, recreated on Configure.
	surfaceDepth     *wgpu.Texture
	surfaceDepthView *wgpu.TextureView

	// Bindless image table state. The layout is fixed-size so that pipeline
	// layouts stay valid across table rebuilds; WriteImageTable pads unused
	// entries with the first view.
	tableSampler   *wgpu.Sampler
	tableLayout    *wgpu.BindGroupLayout
	tableBindGroup *wgpu.BindGroup

	// Frame globals: camera uniform and per-draw storage, bound as group 0.
	globalsLayout    *wgpu.BindGroupLayout
	globalsBindGroup *wgpu.BindGroup
	cameraBuffer     *wgpu.Buffer
	drawBuffer       *wgpu.Buffer
	drawBufferSize   uint64

	// In-flight recording state.
	frameEncoder *wgpu.CommandEncoder
	framePass    *wgpu.RenderPassEncoder
}

// wgpuImageTableSize is the number of texture slots in the bindless table
// layout. Fixed at layout creation; WriteImageTable rejects larger sets.
const wgpuImageTableSize = 100

var _ Device = &wgpuDeviceBackend{}
var _ Surface = &wgpuDeviceBackend{}

// NewWGPUDevice opens the GPU through wgpu-native and configures a surface
// for the given descriptor and pixel size. Instance, adapter, and device
// acquisition failures are unrecoverable and panic.
//
// Parameters:
//   - surfaceDescriptor: platform surface descriptor from the window package
//   - width: initial surface width in pixels
//   - height: initial surface height in pixels
//
// Returns:
//   - Device: the device handle
//   - Surface: the presentable surface (same backing object)
func NewWGPUDevice(surfaceDescriptor *wgpu.SurfaceDescriptor, width, height int) (Device, Surface) {
	runtime.LockOSThread()
	b := &wgpuDeviceBackend{
		mu:         &sync.Mutex{},
		inst:       wgpu.CreateInstance(nil),
		imageCount: 3,
	}
	b.surface = b.inst.CreateSurface(surfaceDescriptor)

	a, err := b.inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: b.surface,
	})
	if err != nil {
		panic(err)
	}
	b.adpt = a

	limits := wgpu.DefaultLimits()
	if limits.MaxSampledTexturesPerShaderStage < wgpuImageTableSize+1 {
		limits.MaxSampledTexturesPerShaderStage = wgpuImageTableSize + 1
	}
	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Kiln Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		panic(err)
	}
	b.dev = d
	b.queue = d.GetQueue()

	if err := b.Configure(width, height); err != nil {
		panic(err)
	}

	return b, b
}

// wgpuFence implements Fence over queue submission indices. Arming the fence
// records the index returned by Queue.Submit; waiting polls the device until
// that submission (bounded waits: the whole queue) has drained.
type wgpuFence struct {
	mu       sync.Mutex
	backend  *wgpuDeviceBackend
	pending  *wgpu.SubmissionIndex
	signaled bool
}

func (f *wgpuFence) arm(idx wgpu.SubmissionIndex) {
	f.mu.Lock()
	f.pending = &idx
	f.signaled = false
	f.mu.Unlock()
}

func (f *wgpuFence) Wait(timeout time.Duration) error {
	f.mu.Lock()
	if f.signaled || f.pending == nil {
		f.signaled = true
		f.mu.Unlock()
		return nil
	}
	idx := *f.pending
	f.mu.Unlock()

	if timeout == 0 {
		f.backend.dev.Poll(true, &wgpu.WrappedSubmissionIndex{
			Queue:           f.backend.queue,
			SubmissionIndex: idx,
		})
	} else {
		// wgpu-native has no bounded wait on a submission index, so a
		// bounded wait spins on the queue-empty poll. Queue empty implies
		// the armed submission has drained.
		deadline := time.Now().Add(timeout)
		for !f.backend.dev.Poll(false, nil) {
			if time.Now().After(deadline) {
				return ErrFenceTimeout
			}
			time.Sleep(100 * time.Microsecond)
		}
	}

	f.mu.Lock()
	f.signaled = true
	f.pending = nil
	f.mu.Unlock()
	return nil
}

func (f *wgpuFence) Reset() {
	f.mu.Lock()
	f.signaled = false
	f.pending = nil
	f.mu.Unlock()
}

func (f *wgpuFence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *wgpuFence) Destroy() {}

// wgpuSemaphore is a placeholder. wgpu-native orders acquire-render-present
// internally per surface texture, so GPU-side semaphores have no direct
// representation; the type exists so the frame pacer's slot structure is
// identical across backends.
type wgpuSemaphore struct{}

func (wgpuSemaphore) Destroy() {}

func (b *wgpuDeviceBackend) NewFence(signaled bool) Fence {
	return &wgpuFence{backend: b, signaled: signaled}
}

func (b *wgpuDeviceBackend) NewSemaphore() Semaphore {
	return wgpuSemaphore{}
}

func (b *wgpuDeviceBackend) Submit(buf CommandBuffer, opts SubmitOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cmd, ok := buf.(*wgpu.CommandBuffer)
	if !ok {
		return fmt.Errorf("gpu: submit of non-wgpu command buffer %T", buf)
	}
	idx := b.queue.Submit(cmd)
	cmd.Release()

	if opts.Fence != nil {
		if f, ok := opts.Fence.(*wgpuFence); ok {
			f.arm(idx)
		}
	}
	return nil
}

func (b *wgpuDeviceBackend) SubmitAndWait(buf CommandBuffer) error {
	if err := b.Submit(buf, SubmitOptions{}); err != nil {
		return err
	}
	return b.WaitForIdle()
}

func (b *wgpuDeviceBackend) createBuffer(label string, data []byte, usage wgpu.BufferUsage) (Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, err := b.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  uint64(len(data)),
		Usage: usage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		b.queue.WriteBuffer(buf, 0, data)
	}
	return &wgpuBuffer{backend: b, buf: buf, size: uint64(len(data))}, nil
}

func (b *wgpuDeviceBackend) CreateVertexBuffer(data []byte) (Buffer, error) {
	return b.createBuffer("Vertex Buffer", data, wgpu.BufferUsageVertex)
}

func (b *wgpuDeviceBackend) CreateIndexBuffer(data []byte) (Buffer, error) {
	return b.createBuffer("Index Buffer", data, wgpu.BufferUsageIndex)
}

func (b *wgpuDeviceBackend) CreateUniformBuffer(size uint64) (Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, err := b.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Uniform Buffer",
		Size:  size,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	return &wgpuBuffer{backend: b, buf: buf, size: size}, nil
}

// wgpuBuffer wraps a wgpu.Buffer as a gpu.Buffer.
type wgpuBuffer struct {
	backend *wgpuDeviceBackend
	buf     *wgpu.Buffer
	size    uint64
}

func (w *wgpuBuffer) Write(data []byte) {
	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()
	w.backend.queue.WriteBuffer(w.buf, 0, data)
}

func (w *wgpuBuffer) Size() uint64 { return w.size }

func (w *wgpuBuffer) Destroy() {
	w.buf.Release()
}

// wgpuTexture wraps a wgpu texture and its sampled view.
type wgpuTexture struct {
	tex  *wgpu.Texture
	view *wgpu.TextureView
}

func (t *wgpuTexture) View() ImageView { return &wgpuImageView{view: t.view} }

func (t *wgpuTexture) Destroy() {
	t.view.Release()
	t.tex.Release()
}

// wgpuImageView wraps a wgpu.TextureView as an ImageView. The view's
// lifetime is owned by the texture; Destroy here is a no-op.
type wgpuImageView struct {
	view *wgpu.TextureView
}

func (v *wgpuImageView) Destroy() {}

func (b *wgpuDeviceBackend) CreateTextureRGBA(pixels []byte, width, height uint32) (Texture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if uint32(len(pixels)) != width*height*4 {
		return nil, fmt.Errorf("gpu: rgba pixel data is %d bytes, want %d", len(pixels), width*height*4)
	}

	tex, err := b.dev.CreateTexture(&wgpu.TextureDescriptor{
		Label: "Sampled Texture",
		Usage: wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Size: wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatRGBA8UnormSrgb,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, err
	}

	b.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  width * 4,
			RowsPerImage: height,
		},
		&wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
	)

	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, err
	}
	return &wgpuTexture{tex: tex, view: view}, nil
}

func (b *wgpuDeviceBackend) CreateRenderTexture(width, height uint32) (Texture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	format := wgpu.TextureFormatRGBA8UnormSrgb
	if b.surfaceFormat != nil {
		format = *b.surfaceFormat
	}
	tex, err := b.dev.CreateTexture(&wgpu.TextureDescriptor{
		Label: "Render Target Texture",
		Usage: wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding,
		Size: wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, err
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, err
	}
	return &wgpuTexture{tex: tex, view: view}, nil
}

func (b *wgpuDeviceBackend) CreateDepthTexture(width, height uint32) (Texture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tex, err := b.dev.CreateTexture(&wgpu.TextureDescriptor{
		Label: "Depth Texture",
		Usage: wgpu.TextureUsageRenderAttachment,
		Size: wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth24Plus,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, err
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, err
	}
	return &wgpuTexture{tex: tex, view: view}, nil
}

// ensureTableLayout creates the image table sampler and fixed-size bind
// group layout. Caller holds b.mu.
func (b *wgpuDeviceBackend) ensureTableLayout() error {
	if b.tableLayout != nil {
		return nil
	}

	samp, err := b.dev.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "Image Table Sampler",
		AddressModeU:  wgpu.AddressModeRepeat,
		AddressModeV:  wgpu.AddressModeRepeat,
		AddressModeW:  wgpu.AddressModeRepeat,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeLinear,
		LodMinClamp:   0.0,
		LodMaxClamp:   32.0,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return err
	}

	layoutEntries := make([]wgpu.BindGroupLayoutEntry, 0, wgpuImageTableSize+1)
	layoutEntries = append(layoutEntries, wgpu.BindGroupLayoutEntry{
		Binding:    0,
		Visibility: wgpu.ShaderStageFragment,
		Sampler: wgpu.SamplerBindingLayout{
			Type: wgpu.SamplerBindingTypeFiltering,
		},
	})
	for i := 0; i < wgpuImageTableSize; i++ {
		layoutEntries = append(layoutEntries, wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i + 1),
			Visibility: wgpu.ShaderStageFragment,
			Texture: wgpu.TextureBindingLayout{
				SampleType:    wgpu.TextureSampleTypeFloat,
				ViewDimension: wgpu.TextureViewDimension2D,
			},
		})
	}
	layout, err := b.dev.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   "Image Table Layout",
		Entries: layoutEntries,
	})
	if err != nil {
		samp.Release()
		return err
	}
	b.tableSampler = samp
	b.tableLayout = layout
	return nil
}

func (b *wgpuDeviceBackend) WriteImageTable(views []ImageView) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(views) == 0 {
		return fmt.Errorf("gpu: image table write needs at least one view")
	}
	if len(views) > wgpuImageTableSize {
		return fmt.Errorf("gpu: image table write of %d views exceeds the %d slot layout", len(views), wgpuImageTableSize)
	}
	if err := b.ensureTableLayout(); err != nil {
		return err
	}

	groupEntries := make([]wgpu.BindGroupEntry, 0, wgpuImageTableSize+1)
	groupEntries = append(groupEntries, wgpu.BindGroupEntry{
		Binding: 0,
		Sampler: b.tableSampler,
	})
	var pad *wgpu.TextureView
	for i, view := range views {
		wv, ok := view.(*wgpuImageView)
		if !ok {
			return fmt.Errorf("gpu: image table entry %d is %T, not a wgpu view", i, view)
		}
		if pad == nil {
			pad = wv.view
		}
		groupEntries = append(groupEntries, wgpu.BindGroupEntry{
			Binding:     uint32(i + 1),
			TextureView: wv.view,
		})
	}
	for i := len(views); i < wgpuImageTableSize; i++ {
		groupEntries = append(groupEntries, wgpu.BindGroupEntry{
			Binding:     uint32(i + 1),
			TextureView: pad,
		})
	}

	group, err := b.dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   "Image Table",
		Layout:  b.tableLayout,
		Entries: groupEntries,
	})
	if err != nil {
		return err
	}
	if b.tableBindGroup != nil {
		b.tableBindGroup.Release()
	}
	b.tableBindGroup = group
	return nil
}

func (b *wgpuDeviceBackend) WaitForIdle() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dev.Poll(true, nil)
	return nil
}

func (b *wgpuDeviceBackend) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.globalsBindGroup != nil {
		b.globalsBindGroup.Release()
	}
	if b.globalsLayout != nil {
		b.globalsLayout.Release()
	}
	if b.drawBuffer != nil {
		b.drawBuffer.Release()
	}
	if b.cameraBuffer != nil {
		b.cameraBuffer.Release()
	}
	if b.tableBindGroup != nil {
		b.tableBindGroup.Release()
	}
	if b.tableLayout != nil {
		b.tableLayout.Release()
	}
	if b.tableSampler != nil {
		b.tableSampler.Release()
	}
	if b.surfaceDepthView != nil {
		b.surfaceDepthView.Release()
	}
	if b.surfaceDepth != nil {
		b.surfaceDepth.Release()
	}
	if b.surface != nil {
		b.surface.Release()
	}
	if b.dev != nil {
		b.dev.Release()
	}
	if b.adpt != nil {
		b.adpt.Release()
	}
	if b.inst != nil {
		b.inst.Release()
	}
}

// staleSurface classifies wgpu surface errors: out-of-date and similar
// conditions are recoverable and map to ErrSurfaceStale.
func staleSurface(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "outdated") ||
		strings.Contains(msg, "out of date") ||
		strings.Contains(msg, "suboptimal") ||
		strings.Contains(msg, "lost") ||
		strings.Contains(msg, "timeout")
}

func (b *wgpuDeviceBackend) Acquire(signal Semaphore) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameSurface != nil {
		return 0, fmt.Errorf("gpu: previous frame surface not yet presented")
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		if staleSurface(err) {
			return 0, ErrSurfaceStale
		}
		return 0, err
	}
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return 0, err
	}

	b.frameSurface = surfaceTexture
	b.frameView = view
	b.imageCursor = (b.imageCursor + 1) % b.imageCount
	return b.imageCursor, nil
}

func (b *wgpuDeviceBackend) Present(wait Semaphore) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameSurface == nil {
		return nil
	}

	b.surface.Present()

	b.frameView.Release()
	b.frameView = nil
	b.frameSurface.Release()
	b.frameSurface = nil
	return nil
}

func (b *wgpuDeviceBackend) Configure(width, height int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	capabilities := b.surface.GetCapabilities(b.adpt)
	b.surfaceFormat = &capabilities.Formats[0]

	b.surface.Configure(b.adpt, b.dev, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      *b.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   capabilities.AlphaModes[0],
	})
	if b.surfaceDepthView != nil {
		b.surfaceDepthView.Release()
	}
	if b.surfaceDepth != nil {
		b.surfaceDepth.Release()
	}
	depth, err := b.dev.CreateTexture(&wgpu.TextureDescriptor{
		Label: "Surface Depth Texture",
		Usage: wgpu.TextureUsageRenderAttachment,
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth24Plus,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return err
	}
	depthView, err := depth.CreateView(nil)
	if err != nil {
		depth.Release()
		return err
	}
	b.surfaceDepth = depth
	b.surfaceDepthView = depthView

	b.surfaceWidth = width
	b.surfaceHeight = height
	b.imageCursor = 0
	return nil
}

func (b *wgpuDeviceBackend) ImageCount() int { return b.imageCount }
