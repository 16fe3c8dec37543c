package gpu

// CullMode selects which triangle faces are discarded by rasterization.
type CullMode int

const (
	// CullNone keeps all faces.
	CullNone CullMode = iota
	// CullBack discards back faces.
	CullBack
	// CullFront discards front faces.
	CullFront
)

// PipelineOptions is the fixed-function state baked into a render pipeline
// at creation.
type PipelineOptions struct {
	// DepthTest enables depth comparison against the pass's depth
	// attachment.
	DepthTest bool
	// DepthWrite enables writing the fragment's depth.
	DepthWrite bool
	// Cull selects face culling.
	Cull CullMode
}

// Pipeline is a compiled render pipeline.
type Pipeline interface {
	// Destroy releases the pipeline.
	Destroy()
}

// Recorder records one frame's command buffer. Only the wgpu backend
// implements it; the lifecycle packages never touch it, which keeps their
// test fakes to the Device surface.
type Recorder interface {
	// CreatePipeline compiles a render pipeline from SPIR-V vertex and
	// fragment bytecode. The pipeline binds group 0 to the frame globals
	// and group 1 to the bindless image table.
	//
	// Parameters:
	//   - vert: SPIR-V vertex shader bytecode
	//   - frag: SPIR-V fragment shader bytecode
	//   - opts: fixed-function state for the pipeline
	//
	// Returns:
	//   - Pipeline: the compiled pipeline
	//   - error: an error if compilation failed
	CreatePipeline(vert, frag []byte, opts PipelineOptions) (Pipeline, error)

	// BeginCommands opens the frame's command encoder. Must be paired with
	// FinishCommands.
	//
	// Returns:
	//   - error: an error if the encoder could not be created
	BeginCommands() error

	// BeginSurfacePass starts a render pass targeting the acquired surface
	// image and the surface depth buffer.
	//
	// Parameters:
	//   - clear: RGBA clear color
	//
	// Returns:
	//   - error: an error if no surface image is held
	BeginSurfacePass(clear [4]float32) error

	// BeginTargetPass starts a render pass targeting an offscreen color and
	// depth attachment pair.
	//
	// Parameters:
	//   - color: the color attachment texture
	//   - depth: the depth attachment texture
	//   - clear: RGBA clear color
	//
	// Returns:
	//   - error: an error if the attachments are unusable
	BeginTargetPass(color, depth Texture, clear [4]float32) error

	// BindPipeline sets the pipeline for subsequent draws in the open pass.
	//
	// Parameters:
	//   - p: the pipeline to bind
	BindPipeline(p Pipeline)

	// BindGlobals uploads the frame's camera uniform and per-draw data and
	// binds the globals and image-table groups on the open pass.
	//
	// Parameters:
	//   - camera: camera uniform bytes (group 0, binding 0)
	//   - drawData: per-draw records indexed by draw number (group 0, binding 1)
	//
	// Returns:
	//   - error: an error if the globals buffers could not be (re)built
	BindGlobals(camera []byte, drawData []byte) error

	// DrawMesh encodes one indexed draw. drawIndex is passed as the
	// first-instance value so shaders can index the per-draw data array.
	//
	// Parameters:
	//   - vertices: the mesh's vertex buffer
	//   - indices: the mesh's index buffer
	//   - indexCount: number of indices to draw
	//   - drawIndex: index of this draw's record in the per-draw data
	DrawMesh(vertices, indices Buffer, indexCount uint32, drawIndex uint32)

	// EndPass ends the open render pass.
	EndPass()

	// FinishCommands closes the encoder and returns the recorded command
	// buffer for submission.
	//
	// Returns:
	//   - CommandBuffer: the recorded commands
	//   - error: an error if encoding failed
	FinishCommands() (CommandBuffer, error)
}
