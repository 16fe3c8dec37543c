package engine

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiln-gfx/kiln/common"
	"github.com/kiln-gfx/kiln/engine/gpu"
	"github.com/kiln-gfx/kiln/engine/mesh"
	"github.com/kiln-gfx/kiln/engine/shader"
	"github.com/kiln-gfx/kiln/engine/texture"

	"github.com/cogentcore/webgpu/wgpu"
)

type fakeFence struct {
	signaled bool
}

func (f *fakeFence) Wait(time.Duration) error { return nil }
func (f *fakeFence) Reset()                   { f.signaled = false }
func (f *fakeFence) Signaled() bool           { return f.signaled }
func (f *fakeFence) Destroy()                 {}

type fakeSemaphore struct{}

func (f *fakeSemaphore) Destroy() {}

type fakeBuffer struct {
	size      uint64
	writes    int
	destroyed bool
}

func (b *fakeBuffer) Write(data []byte) { b.writes++ }
func (b *fakeBuffer) Size() uint64      { return b.size }
func (b *fakeBuffer) Destroy()          { b.destroyed = true }

type fakeView struct{ destroyed bool }

func (v *fakeView) Destroy() { v.destroyed = true }

type fakeTexture struct {
	view      fakeView
	destroyed bool
}

func (t *fakeTexture) View() gpu.ImageView { return &t.view }
func (t *fakeTexture) Destroy()            { t.destroyed = true }

type fakeDevice struct {
	buffers     []*fakeBuffer
	textures    []*fakeTexture
	tableWrites [][]gpu.ImageView
	submits     int
	idleWaits   int
	destroyed   bool
}

func (d *fakeDevice) NewFence(signaled bool) gpu.Fence {
	return &fakeFence{signaled: signaled}
}

func (d *fakeDevice) NewSemaphore() gpu.Semaphore { return &fakeSemaphore{} }

func (d *fakeDevice) Submit(buf gpu.CommandBuffer, opts gpu.SubmitOptions) error {
	d.submits++
	return nil
}

func (d *fakeDevice) SubmitAndWait(buf gpu.CommandBuffer) error { return nil }

func (d *fakeDevice) newBuffer(size uint64) (gpu.Buffer, error) {
	b := &fakeBuffer{size: size}
	d.buffers = append(d.buffers, b)
	return b, nil
}

func (d *fakeDevice) CreateVertexBuffer(data []byte) (gpu.Buffer, error) {
	return d.newBuffer(uint64(len(data)))
}

func (d *fakeDevice) CreateIndexBuffer(data []byte) (gpu.Buffer, error) {
	return d.newBuffer(uint64(len(data)))
}

func (d *fakeDevice) CreateUniformBuffer(size uint64) (gpu.Buffer, error) {
	return d.newBuffer(size)
}

func (d *fakeDevice) newTexture() (gpu.Texture, error) {
	t := &fakeTexture{}
	d.textures = append(d.textures, t)
	return t, nil
}

func (d *fakeDevice) CreateTextureRGBA(pixels []byte, width, height uint32) (gpu.Texture, error) {
	return d.newTexture()
}

func (d *fakeDevice) CreateRenderTexture(width, height uint32) (gpu.Texture, error) {
	return d.newTexture()
}

func (d *fakeDevice) CreateDepthTexture(width, height uint32) (gpu.Texture, error) {
	return d.newTexture()
}

func (d *fakeDevice) WriteImageTable(views []gpu.ImageView) error {
	snapshot := make([]gpu.ImageView, len(views))
	copy(snapshot, views)
	d.tableWrites = append(d.tableWrites, snapshot)
	return nil
}

func (d *fakeDevice) WaitForIdle() error { d.idleWaits++; return nil }
func (d *fakeDevice) Destroy()           { d.destroyed = true }

type fakeSurface struct {
	acquires    int
	presents    int
	configures  []int
	staleOnce   bool
	staleFailed bool
}

func (s *fakeSurface) Acquire(signal gpu.Semaphore) (int, error) {
	s.acquires++
	if s.staleOnce && !s.staleFailed {
		s.staleFailed = true
		return 0, gpu.ErrSurfaceStale
	}
	return 0, nil
}

func (s *fakeSurface) Present(wait gpu.Semaphore) error {
	s.presents++
	return nil
}

func (s *fakeSurface) Configure(width, height int) error {
	s.configures = append(s.configures, width)
	return nil
}

func (s *fakeSurface) ImageCount() int { return 3 }
func (s *fakeSurface) Destroy()        {}

type fakeWindow struct {
	width     int
	height    int
	minimized bool
}

func (w *fakeWindow) SetUpdateCallback(func())                   {}
func (w *fakeWindow) SetResizeCallback(func(int, int))           {}
func (w *fakeWindow) SetKeyCallback(func(uint32, bool))          {}
func (w *fakeWindow) SetScrollCallback(func(float32))            {}
func (w *fakeWindow) SetMouseMoveCallback(func(int32, int32))    {}
func (w *fakeWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor { return nil }
func (w *fakeWindow) IsRunning() bool                            { return true }
func (w *fakeWindow) Minimized() bool                            { return w.minimized }
func (w *fakeWindow) Close() error                               { return nil }
func (w *fakeWindow) ProcessMessages()                           {}
func (w *fakeWindow) Width() int                                 { return w.width }
func (w *fakeWindow) Height() int                                { return w.height }

type fakePipeline struct{ destroyed bool }

func (p *fakePipeline) Destroy() { p.destroyed = true }

type boundGlobals struct {
	camera   []byte
	drawData []byte
}

type drawEvent struct {
	indexCount uint32
	drawIndex  uint32
}

// fakeRecorderDevice records commands in addition to allocating resources,
// mirroring how the real backend is both the device and the recorder.
type fakeRecorderDevice struct {
	fakeDevice
	pipelines     []*fakePipeline
	surfacePasses int
	targetPasses  int
	binds         []boundGlobals
	bound         []gpu.Pipeline
	pipelineBinds int
	draws         []drawEvent
	finished      int
}

func (d *fakeRecorderDevice) CreatePipeline(vert, frag []byte, opts gpu.PipelineOptions) (gpu.Pipeline, error) {
	p := &fakePipeline{}
	d.pipelines = append(d.pipelines, p)
	return p, nil
}

func (d *fakeRecorderDevice) BeginCommands() error { return nil }

func (d *fakeRecorderDevice) BeginSurfacePass(clear [4]float32) error {
	d.surfacePasses++
	return nil
}

func (d *fakeRecorderDevice) BeginTargetPass(color, depth gpu.Texture, clear [4]float32) error {
	d.targetPasses++
	return nil
}

func (d *fakeRecorderDevice) BindPipeline(p gpu.Pipeline) {
	d.pipelineBinds++
	d.bound = append(d.bound, p)
}

func (d *fakeRecorderDevice) BindGlobals(camera, drawData []byte) error {
	d.binds = append(d.binds, boundGlobals{
		camera:   append([]byte(nil), camera...),
		drawData: append([]byte(nil), drawData...),
	})
	return nil
}

func (d *fakeRecorderDevice) DrawMesh(vertices, indices gpu.Buffer, indexCount, drawIndex uint32) {
	d.draws = append(d.draws, drawEvent{indexCount: indexCount, drawIndex: drawIndex})
}

func (d *fakeRecorderDevice) EndPass() {}

func (d *fakeRecorderDevice) FinishCommands() (gpu.CommandBuffer, error) {
	d.finished++
	return struct{}{}, nil
}

func headlessEngine(t *testing.T, dev gpu.Device) Engine {
	t.Helper()
	e := NewEngine(
		WithDevice(dev, nil),
		WithOptions(Options{FramesInFlight: 2}),
	)
	t.Cleanup(e.Close)
	return e
}

func runFrame(t *testing.T, e Engine) {
	t.Helper()
	if err := e.BeginFrame(nil); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	if err := e.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
}

func triangleOptions() mesh.Options {
	return mesh.Options{
		Vertices: []common.Vector3{
			{X: 0, Y: 1, Z: 0},
			{X: -1, Y: -1, Z: 0},
			{X: 1, Y: -1, Z: 0},
		},
		Triangles: []uint32{0, 1, 2},
	}
}

func packedShader() []byte {
	word := []byte{1, 2, 3, 4}
	return shader.EncodeContainer(shader.Container{Vert: word, Frag: word})
}

func TestBuiltinTextureTakesIndexZero(t *testing.T) {
	dev := &fakeDevice{}
	e := headlessEngine(t, dev)

	h, err := e.CreateTexture(textureOptions1x1())
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	idx, ok := e.TextureIndex(h)
	if !ok {
		t.Fatal("texture handle went stale immediately")
	}
	if idx != 1 {
		t.Fatalf("first user texture got index %d, want 1", idx)
	}
}

func textureOptions1x1() texture.Options {
	return texture.Options{
		Pixels:   []byte{0x80, 0x80, 0x80, 0xFF},
		Width:    1,
		Height:   1,
		Channels: 4,
	}
}

func TestRemoveTextureDefersDestroyUntilRingCycles(t *testing.T) {
	dev := &fakeDevice{}
	e := headlessEngine(t, dev)

	h, err := e.CreateTexture(textureOptions1x1())
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	userTex := dev.textures[len(dev.textures)-1]

	runFrame(t, e)
	if !e.RemoveTexture(h) {
		t.Fatal("RemoveTexture reported a stale handle")
	}
	if _, ok := e.TextureIndex(h); ok {
		t.Fatal("removed texture still resolves")
	}
	if userTex.destroyed {
		t.Fatal("texture destroyed before the frame ring cycled")
	}

	runFrame(t, e)
	if userTex.destroyed {
		t.Fatal("texture destroyed one frame early")
	}

	runFrame(t, e)
	if !userTex.destroyed {
		t.Fatal("texture not destroyed after the ring cycled")
	}
}

func TestStaleHandlesAreSilentMisses(t *testing.T) {
	dev := &fakeDevice{}
	e := headlessEngine(t, dev)

	mh, err := e.CreateMesh(triangleOptions())
	if err != nil {
		t.Fatalf("CreateMesh: %v", err)
	}
	if !e.RemoveMesh(mh) {
		t.Fatal("RemoveMesh reported a stale handle")
	}
	if e.WithMesh(mh, func(*mesh.Mesh) { t.Fatal("callback ran for a removed mesh") }) {
		t.Fatal("WithMesh resolved a removed handle")
	}
	if e.RemoveMesh(mh) {
		t.Fatal("double remove succeeded")
	}
}

func TestBeginFrameSkipsWhenMinimized(t *testing.T) {
	dev := &fakeDevice{}
	win := &fakeWindow{width: 0, height: 0, minimized: true}
	e := NewEngine(
		WithDevice(dev, nil),
		WithWindow(win),
		WithOptions(Options{FramesInFlight: 2}),
	)
	t.Cleanup(e.Close)

	if err := e.BeginFrame(nil); !errors.Is(err, ErrMinimized) {
		t.Fatalf("BeginFrame = %v, want ErrMinimized", err)
	}
	if err := e.DrawOnWindow(nil, func(*Target) { t.Fatal("draw callback ran while minimized") }); err != nil {
		t.Fatalf("DrawOnWindow while minimized = %v, want nil", err)
	}
}

func TestStaleAcquireRecreatesSwapchainOnce(t *testing.T) {
	dev := &fakeDevice{}
	surf := &fakeSurface{staleOnce: true}
	win := &fakeWindow{width: 640, height: 480}
	e := NewEngine(
		WithDevice(dev, surf),
		WithWindow(win),
		WithOptions(Options{FramesInFlight: 2}),
	)
	t.Cleanup(e.Close)

	runFrame(t, e)

	if len(surf.configures) != 1 {
		t.Fatalf("surface configured %d times, want 1", len(surf.configures))
	}
	if surf.configures[0] != 640 {
		t.Fatalf("surface reconfigured at width %d, want 640", surf.configures[0])
	}
	if surf.acquires != 2 {
		t.Fatalf("surface acquired %d times, want 2 (stale then retry)", surf.acquires)
	}
	if surf.presents != 1 {
		t.Fatalf("surface presented %d times, want 1", surf.presents)
	}

	// A healthy follow-up frame must not reconfigure again.
	runFrame(t, e)
	if len(surf.configures) != 1 {
		t.Fatal("healthy frame reconfigured the surface")
	}
}

func TestResizeDrainsDeviceAndReconfigures(t *testing.T) {
	dev := &fakeDevice{}
	surf := &fakeSurface{}
	win := &fakeWindow{width: 640, height: 480}
	e := NewEngine(
		WithDevice(dev, surf),
		WithWindow(win),
		WithOptions(Options{FramesInFlight: 2}),
	)
	t.Cleanup(e.Close)

	idleBefore := dev.idleWaits
	if err := e.Resize(800, 600); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if dev.idleWaits <= idleBefore {
		t.Fatal("resize did not wait for the device to idle")
	}
	if len(surf.configures) != 1 || surf.configures[0] != 800 {
		t.Fatalf("surface configures = %v, want [800]", surf.configures)
	}
}

func TestEndFrameRecordsQueuedDrawsWithPerDrawIndices(t *testing.T) {
	dev := &fakeRecorderDevice{}
	e := headlessEngine(t, dev)

	mh, err := e.CreateMesh(triangleOptions())
	if err != nil {
		t.Fatalf("CreateMesh: %v", err)
	}
	mat := e.CreateMaterial()
	sh, err := e.CreateShader(packedShader(), shader.DefaultOptions)
	if err != nil {
		t.Fatalf("CreateShader: %v", err)
	}

	if err := e.BeginFrame(nil); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	target := e.WindowTarget()
	transform := [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
	target.Draw(mh, mat, sh, transform)
	target.Draw(mh, mat, sh, transform)
	if err := e.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}

	if dev.surfacePasses != 1 {
		t.Fatalf("surface passes = %d, want 1", dev.surfacePasses)
	}
	if len(dev.draws) != 2 {
		t.Fatalf("draws = %d, want 2", len(dev.draws))
	}
	if dev.draws[0].drawIndex != 0 || dev.draws[1].drawIndex != 1 {
		t.Fatalf("draw indices = %d, %d, want 0, 1", dev.draws[0].drawIndex, dev.draws[1].drawIndex)
	}
	if dev.draws[0].indexCount != 3 {
		t.Fatalf("index count = %d, want 3", dev.draws[0].indexCount)
	}
	if dev.pipelineBinds != 1 {
		t.Fatalf("pipeline bound %d times for back-to-back draws, want 1", dev.pipelineBinds)
	}

	if len(dev.binds) != 1 {
		t.Fatalf("globals bound %d times, want 1", len(dev.binds))
	}
	bound := dev.binds[0]
	if len(bound.drawData) != 2*drawRecordSize {
		t.Fatalf("draw data is %d bytes, want %d", len(bound.drawData), 2*drawRecordSize)
	}
	// The first record carries the model matrix followed by the tint; the
	// texture index sits right after the tint.
	texIndex := binary.LittleEndian.Uint32(bound.drawData[80:84])
	if texIndex != 0 {
		t.Fatalf("texture index in draw record = %d, want builtin 0", texIndex)
	}
	if dev.submits != 1 {
		t.Fatalf("submits = %d, want 1", dev.submits)
	}
}

func TestOffscreenPassRecordsBeforeWindowPass(t *testing.T) {
	dev := &fakeRecorderDevice{}
	e := headlessEngine(t, dev)

	fb, err := e.CreateFramebuffer(256, 256)
	if err != nil {
		t.Fatalf("CreateFramebuffer: %v", err)
	}
	if _, ok := e.FramebufferIndex(fb); !ok {
		t.Fatal("framebuffer handle went stale immediately")
	}

	if err := e.BeginFrame(nil); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	e.DrawOnFramebuffer(fb, func(t *Target) {})
	if err := e.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}

	if dev.targetPasses != 1 {
		t.Fatalf("target passes = %d, want 1", dev.targetPasses)
	}
	if dev.surfacePasses != 1 {
		t.Fatalf("surface passes = %d, want 1", dev.surfacePasses)
	}
}

func TestCloseDestroysEverythingOnce(t *testing.T) {
	dev := &fakeDevice{}
	e := NewEngine(
		WithDevice(dev, nil),
		WithOptions(Options{FramesInFlight: 2}),
	)

	if _, err := e.CreateTexture(textureOptions1x1()); err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	e.CreateMaterial()

	e.Close()
	e.Close()

	if !dev.destroyed {
		t.Fatal("device not destroyed on close")
	}
	for i, tex := range dev.textures {
		if !tex.destroyed {
			t.Fatalf("texture %d survived close", i)
		}
	}
	for i, buf := range dev.buffers {
		if !buf.destroyed {
			t.Fatalf("buffer %d survived close", i)
		}
	}
	if err := e.BeginFrame(nil); err == nil {
		t.Fatal("BeginFrame after close succeeded")
	}
}

func writeContainer(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// runFramesUntil drives frames until cond holds or the deadline passes.
func runFramesUntil(t *testing.T, e Engine, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached before deadline")
		}
		runFrame(t, e)
		time.Sleep(10 * time.Millisecond)
	}
}

func TestShaderReloadSwapsPipelineBehindSameHandle(t *testing.T) {
	dev := &fakeRecorderDevice{}
	e := headlessEngine(t, dev)

	path := filepath.Join(t.TempDir(), "unlit.pack")
	writeContainer(t, path, packedShader())

	sh, err := e.CreateShaderFromFile(path, shader.DefaultOptions)
	if err != nil {
		t.Fatalf("CreateShaderFromFile: %v", err)
	}
	mh, err := e.CreateMesh(triangleOptions())
	if err != nil {
		t.Fatalf("CreateMesh: %v", err)
	}
	mat := e.CreateMaterial()
	if len(dev.pipelines) != 1 {
		t.Fatalf("pipelines after create = %d, want 1", len(dev.pipelines))
	}

	// Saving the container again must compile a replacement on a later
	// frame start without touching the handle.
	writeContainer(t, path, packedShader())
	runFramesUntil(t, e, func() bool { return len(dev.pipelines) >= 2 })

	identity := [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
	dev.bound = nil
	if err := e.BeginFrame(nil); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	e.WindowTarget().Draw(mh, mat, sh, identity)
	if err := e.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
	if len(dev.bound) != 1 {
		t.Fatalf("pipelines bound = %d, want 1", len(dev.bound))
	}
	if dev.bound[0] != dev.pipelines[1] {
		t.Fatal("draw through the original handle did not use the reloaded pipeline")
	}

	// The replaced pipeline is retired through the deferred queue.
	for i := 0; i < 3; i++ {
		runFrame(t, e)
	}
	if !dev.pipelines[0].destroyed {
		t.Fatal("replaced pipeline never destroyed after the ring cycled")
	}
	if dev.pipelines[1].destroyed {
		t.Fatal("live pipeline was destroyed")
	}
}

func TestFailedReloadKeepsOldShader(t *testing.T) {
	dev := &fakeRecorderDevice{}
	e := headlessEngine(t, dev)

	path := filepath.Join(t.TempDir(), "unlit.pack")
	writeContainer(t, path, packedShader())

	sh, err := e.CreateShaderFromFile(path, shader.DefaultOptions)
	if err != nil {
		t.Fatalf("CreateShaderFromFile: %v", err)
	}

	// A save that is not a valid container must be rejected while the old
	// shader keeps serving.
	writeContainer(t, path, []byte("not a shader container"))
	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		runFrame(t, e)
		time.Sleep(10 * time.Millisecond)
	}
	if len(dev.pipelines) != 1 {
		t.Fatalf("rejected container still compiled; pipelines = %d, want 1", len(dev.pipelines))
	}
	if dev.pipelines[0].destroyed {
		t.Fatal("old pipeline destroyed by a failed reload")
	}

	// The file stays watched: a valid save afterwards still swaps.
	writeContainer(t, path, packedShader())
	runFramesUntil(t, e, func() bool { return len(dev.pipelines) >= 2 })
	if !e.RemoveShader(sh) {
		t.Fatal("handle went stale across the failed reload")
	}
}

func TestReloadForRemovedShaderIsDiscarded(t *testing.T) {
	dev := &fakeRecorderDevice{}
	e := headlessEngine(t, dev)

	path := filepath.Join(t.TempDir(), "unlit.pack")
	writeContainer(t, path, packedShader())

	sh, err := e.CreateShaderFromFile(path, shader.DefaultOptions)
	if err != nil {
		t.Fatalf("CreateShaderFromFile: %v", err)
	}
	if !e.RemoveShader(sh) {
		t.Fatal("RemoveShader reported a stale handle")
	}

	// The reload still compiles, but with the handle gone its pipeline is
	// dropped on the spot instead of leaking.
	writeContainer(t, path, packedShader())
	runFramesUntil(t, e, func() bool { return len(dev.pipelines) >= 2 })
	if !dev.pipelines[1].destroyed {
		t.Fatal("orphaned reload pipeline was not destroyed")
	}
}
