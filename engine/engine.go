package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"go.uber.org/zap"

	"github.com/kiln-gfx/kiln/engine/arena"
	"github.com/kiln-gfx/kiln/engine/camera"
	"github.com/kiln-gfx/kiln/engine/descriptor"
	"github.com/kiln-gfx/kiln/engine/frame"
	"github.com/kiln-gfx/kiln/engine/framebuffer"
	"github.com/kiln-gfx/kiln/engine/gpu"
	"github.com/kiln-gfx/kiln/engine/material"
	"github.com/kiln-gfx/kiln/engine/mesh"
	"github.com/kiln-gfx/kiln/engine/profiler"
	"github.com/kiln-gfx/kiln/engine/shader"
	"github.com/kiln-gfx/kiln/engine/swapchain"
	"github.com/kiln-gfx/kiln/engine/texture"
	"github.com/kiln-gfx/kiln/engine/watch"
	"github.com/kiln-gfx/kiln/engine/window"
)

// Handle aliases for the resource arenas. Handles stay valid across the
// resource's whole logical life, including hot reloads.
type (
	MeshHandle        = arena.Handle[*mesh.Mesh]
	TextureHandle     = arena.Handle[*texture.Texture]
	MaterialHandle    = arena.Handle[*material.Material]
	ShaderHandle      = arena.Handle[*shader.Shader]
	FramebufferHandle = arena.Handle[*framebuffer.Framebuffer]
)

// ErrMinimized is returned by BeginFrame while the window has zero extent.
// The frame is skipped, nothing was acquired, and EndFrame must not be
// called.
var ErrMinimized = errors.New("engine: window is minimized")

// drawRecordSize is the byte stride of one per-draw record in the frame's
// storage buffer: model matrix, tint, texture index, padded to 16 bytes.
const drawRecordSize = 96

// shaderReload is the watcher payload for hot shader reloads.
type shaderReload struct {
	handle ShaderHandle
	path   string
	opts   shader.Options
}

// queuedPass is an offscreen pass waiting to be recorded at frame end.
type queuedPass struct {
	fb     FramebufferHandle
	target Target
}

// resolvedDraw is a draw whose handles survived lookup, ready to encode.
type resolvedDraw struct {
	pipeline   gpu.Pipeline
	vertices   gpu.Buffer
	indices    gpu.Buffer
	indexCount uint32
	drawIndex  uint32
}

// retiredResource is a GPU object detached from its owner mid-frame,
// destroyed once the frame ring has cycled back to its index.
type retiredResource struct {
	frame   int
	destroy func()
}

// engineImpl implements the Engine interface. All methods must be called
// from the render thread; the watcher goroutines only touch channels.
type engineImpl struct {
	log    *zap.Logger
	opts   Options
	window window.Window

	dev    gpu.Device
	rec    gpu.Recorder
	pacer  *frame.Pacer
	subq   *frame.SubmissionQueue
	bridge *swapchain.Bridge
	table  *descriptor.Table

	meshes       *arena.Arena[*mesh.Mesh]
	textures     *arena.Arena[*texture.Texture]
	materials    *arena.Arena[*material.Material]
	shaders      *arena.Arena[*shader.Shader]
	framebuffers *arena.Arena[*framebuffer.Framebuffer]

	meshPool worker.DynamicWorkerPool
	watcher  *watch.Watcher[shaderReload]
	profile  bool
	prof     *profiler.Profiler

	// whiteTexture backs bindless index 0 and serves as the discard
	// fallback for the whole table.
	whiteTexture *texture.Texture

	retired []retiredResource

	camera       camera.Camera
	windowTarget Target
	passes       []queuedPass

	staleAcquires int
	stalePresents int

	closeOnce sync.Once
	closed    bool
}

// Engine is the public surface of the renderer core: resource creation,
// handle-based access, the begin/draw/end frame bracket, resize, and
// shutdown.
type Engine interface {
	// Window returns the underlying window, or nil for headless engines.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// CreateMesh validates geometry and stores a new mesh.
	//
	// Parameters:
	//   - opts: the mesh geometry
	//
	// Returns:
	//   - MeshHandle: the mesh's handle
	//   - error: a geometry validation error
	CreateMesh(opts mesh.Options) (MeshHandle, error)

	// CreateTexture uploads pixel data, registers it in the bindless
	// table, and stores the texture.
	//
	// Parameters:
	//   - opts: pixel data and dimensions
	//
	// Returns:
	//   - TextureHandle: the texture's handle
	//   - error: a pixel layout error or descriptor.ErrCapacityExceeded
	CreateTexture(opts texture.Options) (TextureHandle, error)

	// CreateTextureFromFile decodes a PNG file and creates a texture.
	//
	// Parameters:
	//   - path: the PNG file to read
	//
	// Returns:
	//   - TextureHandle: the texture's handle
	//   - error: a read, decode, or table capacity error
	CreateTextureFromFile(path string) (TextureHandle, error)

	// CreateMaterial stores a new material with a white tint and the
	// builtin texture. Device failures here are unrecoverable and panic.
	//
	// Returns:
	//   - MaterialHandle: the material's handle
	CreateMaterial() MaterialHandle

	// CreateShader decodes a packed shader container, compiles it, and
	// stores the shader.
	//
	// Parameters:
	//   - source: packed container bytes
	//   - opts: fixed-function pipeline state
	//
	// Returns:
	//   - ShaderHandle: the shader's handle
	//   - error: shader.ErrMalformedContainer or a compile error
	CreateShader(source []byte, opts shader.Options) (ShaderHandle, error)

	// CreateShaderFromFile creates a shader from a container file and
	// watches the file: saving it hot-swaps the compiled shader behind the
	// same handle on a later BeginFrame.
	//
	// Parameters:
	//   - path: the container file to read and watch
	//   - opts: fixed-function pipeline state
	//
	// Returns:
	//   - ShaderHandle: the shader's handle, stable across reloads
	//   - error: a read, decode, compile, or watch error
	CreateShaderFromFile(path string, opts shader.Options) (ShaderHandle, error)

	// CreateFramebuffer creates an offscreen render target whose color
	// attachment is readable through the bindless table.
	//
	// Parameters:
	//   - width: attachment width in pixels
	//   - height: attachment height in pixels
	//
	// Returns:
	//   - FramebufferHandle: the framebuffer's handle
	//   - error: an extent error or descriptor.ErrCapacityExceeded
	CreateFramebuffer(width, height uint32) (FramebufferHandle, error)

	// WithMesh runs fn against the live mesh. Stale handles are a silent
	// miss.
	//
	// Parameters:
	//   - h: the mesh handle
	//   - fn: receives the mesh while it is live
	//
	// Returns:
	//   - bool: false if the handle is stale
	WithMesh(h MeshHandle, fn func(*mesh.Mesh)) bool

	// WithMaterial runs fn against the live material. Stale handles are a
	// silent miss.
	//
	// Parameters:
	//   - h: the material handle
	//   - fn: receives the material while it is live
	//
	// Returns:
	//   - bool: false if the handle is stale
	WithMaterial(h MaterialHandle, fn func(*material.Material)) bool

	// TextureIndex returns the bindless index of a live texture.
	//
	// Parameters:
	//   - h: the texture handle
	//
	// Returns:
	//   - uint32: the bindless index
	//   - bool: false if the handle is stale
	TextureIndex(h TextureHandle) (uint32, bool)

	// FramebufferIndex returns the bindless index of a live framebuffer's
	// color attachment.
	//
	// Parameters:
	//   - h: the framebuffer handle
	//
	// Returns:
	//   - uint32: the bindless index
	//   - bool: false if the handle is stale
	FramebufferIndex(h FramebufferHandle) (uint32, bool)

	// RemoveMesh hides the mesh immediately and destroys its GPU buffers
	// once the frame ring can no longer reference them.
	//
	// Parameters:
	//   - h: the mesh handle
	//
	// Returns:
	//   - bool: false if the handle was already stale
	RemoveMesh(h MeshHandle) bool

	// RemoveTexture hides the texture immediately; its bindless index is
	// retired and serves the builtin fallback.
	//
	// Parameters:
	//   - h: the texture handle
	//
	// Returns:
	//   - bool: false if the handle was already stale
	RemoveTexture(h TextureHandle) bool

	// RemoveMaterial hides the material immediately and frees its uniform
	// buffer once the ring cycles.
	//
	// Parameters:
	//   - h: the material handle
	//
	// Returns:
	//   - bool: false if the handle was already stale
	RemoveMaterial(h MaterialHandle) bool

	// RemoveShader hides the shader immediately and frees its pipeline
	// once the ring cycles. A watched shader stops being watched.
	//
	// Parameters:
	//   - h: the shader handle
	//
	// Returns:
	//   - bool: false if the handle was already stale
	RemoveShader(h ShaderHandle) bool

	// RemoveFramebuffer hides the framebuffer immediately and frees its
	// attachments once the ring cycles.
	//
	// Parameters:
	//   - h: the framebuffer handle
	//
	// Returns:
	//   - bool: false if the handle was already stale
	RemoveFramebuffer(h FramebufferHandle) bool

	// BeginFrame opens the frame bracket: applies pending hot reloads,
	// waits the incoming ring slot's fence, frees resources whose deferral
	// has expired, rebuilds the bindless table if needed, and acquires a
	// swapchain image (recreating the swapchain and retrying once when it
	// is stale).
	//
	// Parameters:
	//   - cam: the camera for this frame's passes
	//
	// Returns:
	//   - error: ErrMinimized while the window has zero extent
	BeginFrame(cam camera.Camera) error

	// WindowTarget returns the draw target for the window pass of the open
	// frame. Panics outside a begin/end bracket.
	//
	// Returns:
	//   - *Target: the window pass target
	WindowTarget() *Target

	// DrawOnFramebuffer queues an offscreen pass for the open frame,
	// recorded before the window pass. Panics outside a begin/end bracket.
	//
	// Parameters:
	//   - h: the framebuffer to render into
	//   - fn: receives the pass target to queue draws on
	DrawOnFramebuffer(h FramebufferHandle, fn func(*Target))

	// EndFrame closes the frame bracket: records all queued passes,
	// submits them with the slot's sync primitives, and presents. Panics
	// outside a begin/end bracket.
	//
	// Returns:
	//   - error: a recording or submission error
	EndFrame() error

	// DrawOnWindow runs one whole frame: BeginFrame, fn against the window
	// target, EndFrame. A minimized window skips the frame silently.
	//
	// Parameters:
	//   - cam: the camera for the frame
	//   - fn: receives the window pass target
	//
	// Returns:
	//   - error: a recording or submission error
	DrawOnWindow(cam camera.Camera, fn func(*Target)) error

	// Resize waits for the device to go idle and reconfigures the
	// swapchain at the new pixel size. Must be called outside the frame
	// bracket.
	//
	// Parameters:
	//   - width: new width in pixels
	//   - height: new height in pixels
	//
	// Returns:
	//   - error: a reconfiguration error
	Resize(width, height int) error

	// Close shuts the engine down: stops the watchers, drains the frame
	// ring, destroys every stored resource, and releases the device. Safe
	// to call multiple times.
	Close()
}

var _ Engine = &engineImpl{}

// NewEngine creates an engine with the provided options. When no window or
// device is injected, a GLFW window and wgpu device are created; failures
// there are unrecoverable and panic.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engineImpl{
		log: zap.NewNop(),
	}
	for _, opt := range options {
		opt(e)
	}
	e.opts = e.opts.withDefaults()

	if e.dev == nil {
		if e.window == nil {
			e.window = window.NewWindow(
				window.WithTitle(e.opts.Title),
				window.WithSize(e.opts.Width, e.opts.Height),
			)
		}
		var surf gpu.Surface
		e.dev, surf = gpu.NewWGPUDevice(e.window.SurfaceDescriptor(), e.window.Width(), e.window.Height())
		e.bridge = swapchain.NewBridge(surf)
	}
	if e.rec == nil {
		// The wgpu backend records; injected fakes usually do not.
		if rec, ok := e.dev.(gpu.Recorder); ok {
			e.rec = rec
		}
	}

	e.pacer = frame.NewPacer(e.dev, e.opts.FramesInFlight, e.opts.FenceTimeout)
	e.subq = frame.NewSubmissionQueue(e.dev)
	e.table = descriptor.NewTable(e.dev, e.opts.DescriptorCapacity)
	e.meshPool = worker.NewDynamicWorkerPool(runtime.NumCPU(), 256, 1*time.Second)
	e.watcher = watch.NewWatcher[shaderReload](16, 0)
	if e.profile {
		e.prof = profiler.NewProfiler(e.log)
	}

	e.meshes = arena.New(func(m *mesh.Mesh) { m.Destroy() })
	e.textures = arena.New(func(t *texture.Texture) { t.Destroy() })
	e.materials = arena.New(func(m *material.Material) { m.Destroy() })
	e.shaders = arena.New(func(s *shader.Shader) { s.Destroy() })
	e.framebuffers = arena.New(func(f *framebuffer.Framebuffer) { f.Destroy() })

	// Index 0 of the bindless table is a builtin 1x1 white texture. It
	// doubles as the fallback view served for discarded entries.
	white, err := texture.New(e.dev, e.table, texture.Options{
		Pixels:   []byte{0xFF, 0xFF, 0xFF, 0xFF},
		Width:    1,
		Height:   1,
		Channels: 4,
	})
	if err != nil {
		panic(fmt.Sprintf("engine: builtin texture: %v", err))
	}
	e.whiteTexture = white

	e.log.Debug("engine created",
		zap.Int("frames_in_flight", e.opts.FramesInFlight),
		zap.Int("descriptor_capacity", e.opts.DescriptorCapacity),
	)
	return e
}

func (e *engineImpl) Window() window.Window {
	return e.window
}

func (e *engineImpl) CreateMesh(opts mesh.Options) (MeshHandle, error) {
	m, err := mesh.New(opts, e.meshPool)
	if err != nil {
		return MeshHandle{}, err
	}
	h := e.meshes.Add(m)
	e.log.Debug("mesh created", zap.Uint32("slot", h.Slot()), zap.Int("vertices", len(opts.Vertices)))
	return h, nil
}

func (e *engineImpl) CreateTexture(opts texture.Options) (TextureHandle, error) {
	t, err := texture.New(e.dev, e.table, opts)
	if err != nil {
		return TextureHandle{}, err
	}
	h := e.textures.Add(t)
	e.log.Debug("texture created", zap.Uint32("slot", h.Slot()), zap.Uint32("index", t.Index()))
	return h, nil
}

func (e *engineImpl) CreateTextureFromFile(path string) (TextureHandle, error) {
	f, err := os.Open(path)
	if err != nil {
		return TextureHandle{}, fmt.Errorf("engine: opening texture file: %w", err)
	}
	defer f.Close()
	opts, err := texture.Decode(f)
	if err != nil {
		return TextureHandle{}, err
	}
	return e.CreateTexture(opts)
}

func (e *engineImpl) CreateMaterial() MaterialHandle {
	m, err := material.New(e.dev)
	if err != nil {
		panic(fmt.Sprintf("engine: material buffer: %v", err))
	}
	h := e.materials.Add(m)
	e.log.Debug("material created", zap.Uint32("slot", h.Slot()))
	return h
}

func (e *engineImpl) CreateShader(source []byte, opts shader.Options) (ShaderHandle, error) {
	s, err := shader.New(e.rec, source, opts)
	if err != nil {
		return ShaderHandle{}, err
	}
	h := e.shaders.Add(s)
	e.log.Debug("shader created", zap.Uint32("slot", h.Slot()))
	return h, nil
}

func (e *engineImpl) CreateShaderFromFile(path string, opts shader.Options) (ShaderHandle, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return ShaderHandle{}, fmt.Errorf("engine: reading shader file: %w", err)
	}
	h, err := e.CreateShader(source, opts)
	if err != nil {
		return ShaderHandle{}, err
	}
	if err := e.watcher.Watch(path, shaderReload{handle: h, path: path, opts: opts}); err != nil {
		return h, err
	}
	e.log.Debug("shader watched", zap.String("path", path))
	return h, nil
}

func (e *engineImpl) CreateFramebuffer(width, height uint32) (FramebufferHandle, error) {
	f, err := framebuffer.New(e.dev, e.table, width, height)
	if err != nil {
		return FramebufferHandle{}, err
	}
	h := e.framebuffers.Add(f)
	e.log.Debug("framebuffer created", zap.Uint32("slot", h.Slot()), zap.Uint32("index", f.Index()))
	return h, nil
}

func (e *engineImpl) WithMesh(h MeshHandle, fn func(*mesh.Mesh)) bool {
	return e.meshes.With(h, fn)
}

func (e *engineImpl) WithMaterial(h MaterialHandle, fn func(*material.Material)) bool {
	return e.materials.With(h, fn)
}

func (e *engineImpl) TextureIndex(h TextureHandle) (uint32, bool) {
	t, ok := e.textures.Lookup(h)
	if !ok {
		return 0, false
	}
	return t.Index(), true
}

func (e *engineImpl) FramebufferIndex(h FramebufferHandle) (uint32, bool) {
	f, ok := e.framebuffers.Lookup(h)
	if !ok {
		return 0, false
	}
	return f.Index(), true
}

func (e *engineImpl) RemoveMesh(h MeshHandle) bool {
	return e.meshes.Remove(h, e.pacer.Current())
}

func (e *engineImpl) RemoveTexture(h TextureHandle) bool {
	return e.textures.Remove(h, e.pacer.Current())
}

func (e *engineImpl) RemoveMaterial(h MaterialHandle) bool {
	return e.materials.Remove(h, e.pacer.Current())
}

func (e *engineImpl) RemoveShader(h ShaderHandle) bool {
	return e.shaders.Remove(h, e.pacer.Current())
}

func (e *engineImpl) RemoveFramebuffer(h FramebufferHandle) bool {
	return e.framebuffers.Remove(h, e.pacer.Current())
}

// retire schedules a detached GPU object for destruction once the ring has
// cycled back to the current frame index.
func (e *engineImpl) retire(destroy func()) {
	e.retired = append(e.retired, retiredResource{frame: e.pacer.Current(), destroy: destroy})
}

// drainRetired destroys retired objects whose frame index has come around
// again, which means their fence has been re-waited.
func (e *engineImpl) drainRetired(frameIndex int) {
	kept := e.retired[:0]
	for _, r := range e.retired {
		if r.frame == frameIndex {
			r.destroy()
		} else {
			kept = append(kept, r)
		}
	}
	// Zero the tail so dropped closures are collectable.
	for i := len(kept); i < len(e.retired); i++ {
		e.retired[i] = retiredResource{}
	}
	e.retired = kept
}

// applyReloads drains the watcher channel and hot-swaps shaders in place.
// A reload never changes the handle; a failed reload keeps the old shader.
func (e *engineImpl) applyReloads() {
	for {
		select {
		case r := <-e.watcher.Events():
			source, err := os.ReadFile(r.path)
			if err != nil {
				e.log.Warn("shader reload read failed", zap.String("path", r.path), zap.Error(err))
				continue
			}
			s, err := shader.New(e.rec, source, r.opts)
			if err != nil {
				e.log.Warn("shader reload rejected", zap.String("path", r.path), zap.Error(err))
				continue
			}
			if !e.shaders.Replace(r.handle, s, e.pacer.Current()) {
				// Handle went stale since the watch was registered.
				s.Destroy()
				e.watcher.Unwatch(r.path)
				continue
			}
			e.log.Info("shader reloaded", zap.String("path", r.path))
		default:
			return
		}
	}
}

// fatal performs the best-effort idle wait and aborts. Used for the
// unrecoverable tier: lost device, repeated swapchain failure.
func (e *engineImpl) fatal(format string, args ...any) {
	_ = e.dev.WaitForIdle()
	panic(fmt.Sprintf(format, args...))
}

func (e *engineImpl) BeginFrame(cam camera.Camera) error {
	if e.closed {
		return fmt.Errorf("engine: begin frame after close")
	}
	if e.window != nil && e.window.Minimized() {
		return ErrMinimized
	}

	e.applyReloads()

	index, err := e.pacer.BeginFrame()
	if err != nil {
		// A frame fence that never signals means the device is lost.
		e.fatal("engine: frame fence wait: %v", err)
	}

	e.meshes.CleanUnused(index)
	e.textures.CleanUnused(index)
	e.materials.CleanUnused(index)
	e.shaders.CleanUnused(index)
	e.framebuffers.CleanUnused(index)
	e.drainRetired(index)

	if err := e.table.UpdateIfNeeded(); err != nil {
		e.fatal("engine: %v", err)
	}

	if e.bridge != nil {
		slot := e.pacer.CurrentSlot()
		if _, err := e.bridge.Acquire(slot); err != nil {
			if !errors.Is(err, gpu.ErrSurfaceStale) {
				e.fatal("engine: surface acquire: %v", err)
			}
			e.staleAcquires++
			if e.staleAcquires > 1 {
				e.fatal("engine: surface stale twice in a row")
			}
			e.log.Info("stale surface on acquire, recreating swapchain")
			if err := e.bridge.Recreate(e.window.Width(), e.window.Height()); err != nil {
				e.fatal("engine: swapchain recreate: %v", err)
			}
			if _, err := e.bridge.Acquire(slot); err != nil {
				e.fatal("engine: surface acquire after recreate: %v", err)
			}
		}
		e.staleAcquires = 0
	}

	e.camera = cam
	e.windowTarget = Target{clear: e.opts.ClearColor}
	e.passes = e.passes[:0]
	return nil
}

func (e *engineImpl) WindowTarget() *Target {
	e.pacer.MustBeRecording()
	return &e.windowTarget
}

func (e *engineImpl) DrawOnFramebuffer(h FramebufferHandle, fn func(*Target)) {
	e.pacer.MustBeRecording()
	t := Target{clear: e.opts.ClearColor}
	fn(&t)
	e.passes = append(e.passes, queuedPass{fb: h, target: t})
}

// cameraBytes packs the frame camera uniform: view-projection, view, and
// position.
func (e *engineImpl) cameraBytes() []byte {
	out := make([]byte, 0, 144)
	appendF32 := func(f float32) {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	var viewProj, view [16]float32
	if e.camera != nil {
		viewProj = e.camera.ViewProjectionMatrix()
		view = e.camera.ViewMatrix()
	} else {
		viewProj = identity()
		view = identity()
	}
	for _, f := range viewProj {
		appendF32(f)
	}
	for _, f := range view {
		appendF32(f)
	}
	pos := [4]float32{}
	if e.camera != nil {
		p := e.camera.Position()
		pos = [4]float32{p.X, p.Y, p.Z, 1}
	}
	for _, f := range pos {
		appendF32(f)
	}
	return out
}

func identity() [16]float32 {
	return [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

// resolvePass validates a target's draws, uploads dirty resources, packs
// their per-draw records into drawData, and returns the encodable draws.
// Draws referencing stale handles are skipped.
func (e *engineImpl) resolvePass(t *Target, drawData *[]byte) []resolvedDraw {
	resolved := make([]resolvedDraw, 0, len(t.draws))
	for _, d := range t.draws {
		m, ok := e.meshes.Lookup(d.mesh)
		if !ok {
			continue
		}
		mat, ok := e.materials.Lookup(d.material)
		if !ok {
			continue
		}
		s, ok := e.shaders.Lookup(d.shader)
		if !ok || s.Pipeline() == nil {
			continue
		}

		retired, err := m.Upload(e.dev)
		for _, buf := range retired {
			b := buf
			e.retire(func() { b.Destroy() })
		}
		if err != nil {
			e.fatal("engine: mesh upload: %v", err)
		}
		mat.Upload()

		drawIndex := uint32(len(*drawData) / drawRecordSize)
		record := make([]byte, 0, drawRecordSize)
		for _, f := range d.transform {
			record = binary.LittleEndian.AppendUint32(record, math.Float32bits(f))
		}
		for _, f := range mat.Tint() {
			record = binary.LittleEndian.AppendUint32(record, math.Float32bits(f))
		}
		record = binary.LittleEndian.AppendUint32(record, mat.TextureIndex())
		record = append(record, make([]byte, drawRecordSize-len(record))...)
		*drawData = append(*drawData, record...)

		resolved = append(resolved, resolvedDraw{
			pipeline:   s.Pipeline(),
			vertices:   m.VertexBuffer(),
			indices:    m.IndexBuffer(),
			indexCount: m.IndexCount(),
			drawIndex:  drawIndex,
		})
	}
	return resolved
}

// recordPass encodes one resolved pass on the open command encoder.
func (e *engineImpl) recordPass(draws []resolvedDraw, camera, drawData []byte) error {
	if err := e.rec.BindGlobals(camera, drawData); err != nil {
		return err
	}
	var bound gpu.Pipeline
	for _, d := range draws {
		if d.pipeline != bound {
			e.rec.BindPipeline(d.pipeline)
			bound = d.pipeline
		}
		e.rec.DrawMesh(d.vertices, d.indices, d.indexCount, d.drawIndex)
	}
	return nil
}

func (e *engineImpl) EndFrame() error {
	e.pacer.MustBeRecording()
	slot := e.pacer.CurrentSlot()

	var buf gpu.CommandBuffer
	if e.rec != nil {
		// Resolve every pass first so the frame's draw data is complete
		// before any pass binds it.
		var drawData []byte
		type recordedPass struct {
			fb    *framebuffer.Framebuffer
			clear [4]float32
			draws []resolvedDraw
		}
		recorded := make([]recordedPass, 0, len(e.passes)+1)
		for i := range e.passes {
			fb, ok := e.framebuffers.Lookup(e.passes[i].fb)
			if !ok {
				continue
			}
			recorded = append(recorded, recordedPass{
				fb:    fb,
				clear: e.passes[i].target.clear,
				draws: e.resolvePass(&e.passes[i].target, &drawData),
			})
		}
		recorded = append(recorded, recordedPass{
			clear: e.windowTarget.clear,
			draws: e.resolvePass(&e.windowTarget, &drawData),
		})

		camBytes := e.cameraBytes()
		if err := e.rec.BeginCommands(); err != nil {
			e.pacer.AbortFrame()
			return fmt.Errorf("engine: begin commands: %w", err)
		}
		for _, p := range recorded {
			var err error
			if p.fb != nil {
				err = e.rec.BeginTargetPass(p.fb.Color(), p.fb.Depth(), p.clear)
			} else {
				err = e.rec.BeginSurfacePass(p.clear)
			}
			if err != nil {
				e.pacer.AbortFrame()
				return fmt.Errorf("engine: begin pass: %w", err)
			}
			if err := e.recordPass(p.draws, camBytes, drawData); err != nil {
				e.rec.EndPass()
				e.pacer.AbortFrame()
				return fmt.Errorf("engine: record pass: %w", err)
			}
			e.rec.EndPass()
		}
		var err error
		buf, err = e.rec.FinishCommands()
		if err != nil {
			e.pacer.AbortFrame()
			return fmt.Errorf("engine: finish commands: %w", err)
		}
	}

	// Reset the slot fence before submission re-arms it; the wait already
	// happened in BeginFrame.
	e.pacer.EndFrame()
	if err := e.subq.Submit(buf, slot); err != nil {
		e.fatal("engine: submit: %v", err)
	}

	if e.bridge != nil {
		if err := e.bridge.Present(slot); err != nil {
			if !errors.Is(err, gpu.ErrSurfaceStale) {
				e.fatal("engine: present: %v", err)
			}
			e.stalePresents++
			if e.stalePresents > 1 {
				e.fatal("engine: surface stale twice in a row on present")
			}
			e.log.Info("stale surface on present, recreating swapchain")
			if err := e.bridge.Recreate(e.window.Width(), e.window.Height()); err != nil {
				e.fatal("engine: swapchain recreate: %v", err)
			}
		} else {
			e.stalePresents = 0
		}
	}
	e.pacer.FramePresented()
	if e.prof != nil {
		e.prof.Tick()
	}
	return nil
}

func (e *engineImpl) DrawOnWindow(cam camera.Camera, fn func(*Target)) error {
	if err := e.BeginFrame(cam); err != nil {
		if errors.Is(err, ErrMinimized) {
			return nil
		}
		return err
	}
	fn(&e.windowTarget)
	return e.EndFrame()
}

func (e *engineImpl) Resize(width, height int) error {
	if e.pacer.Stage() != frame.StageIdle {
		panic("engine: resize inside a frame bracket")
	}
	if err := e.pacer.WaitAll(); err != nil {
		e.fatal("engine: resize fence drain: %v", err)
	}
	if err := e.dev.WaitForIdle(); err != nil {
		return fmt.Errorf("engine: resize idle wait: %w", err)
	}
	if e.bridge != nil {
		if err := e.bridge.Recreate(width, height); err != nil {
			return fmt.Errorf("engine: resize swapchain: %w", err)
		}
	}
	e.log.Debug("resized", zap.Int("width", width), zap.Int("height", height))
	return nil
}

func (e *engineImpl) Close() {
	e.closeOnce.Do(func() {
		e.closed = true

		// Shutdown order: stop file watchers first so no reload lands
		// mid-teardown, then drain the GPU, then free everything.
		e.watcher.Close()
		if err := e.pacer.WaitAll(); err != nil {
			e.log.Warn("fence drain on close", zap.Error(err))
		}
		if err := e.dev.WaitForIdle(); err != nil {
			e.log.Warn("idle wait on close", zap.Error(err))
		}

		e.meshes.Clear()
		e.textures.Clear()
		e.materials.Clear()
		e.shaders.Clear()
		e.framebuffers.Clear()
		for _, r := range e.retired {
			r.destroy()
		}
		e.retired = nil

		e.whiteTexture.Destroy()
		e.pacer.Destroy()
		if e.bridge != nil {
			e.bridge.Destroy()
		}
		e.dev.Destroy()
		if e.window != nil {
			if err := e.window.Close(); err != nil {
				e.log.Warn("window close", zap.Error(err))
			}
		}
		e.log.Debug("engine closed")
	})
}
