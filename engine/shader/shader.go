package shader

import (
	"github.com/kiln-gfx/kiln/engine/gpu"
)

// Options is the fixed-function state compiled into a shader's pipeline.
type Options struct {
	// DepthTest enables depth comparison for draws with this shader.
	DepthTest bool
	// DepthWrite enables depth writes for draws with this shader.
	DepthWrite bool
	// Cull selects face culling.
	Cull gpu.CullMode
}

// DefaultOptions is the state used for ordinary opaque geometry.
var DefaultOptions = Options{
	DepthTest:  true,
	DepthWrite: true,
	Cull:       gpu.CullBack,
}

// Shader is a compiled render pipeline built from a packed container.
type Shader struct {
	pipeline gpu.Pipeline
}

// New decodes container bytes and compiles them into a pipeline.
//
// Parameters:
//   - rec: the recorder that compiles pipelines
//   - source: packed container bytes
//   - opts: fixed-function state for the pipeline
//
// Returns:
//   - *Shader: the compiled shader
//   - error: ErrMalformedContainer if source does not parse, or a pipeline
//     compilation error
func New(rec gpu.Recorder, source []byte, opts Options) (*Shader, error) {
	c, err := DecodeContainer(source)
	if err != nil {
		return nil, err
	}
	// Without a recorder the decoded container is validated but no pipeline
	// is compiled. Headless setups draw nothing, so a nil pipeline is fine.
	if rec == nil {
		return &Shader{}, nil
	}
	pipeline, err := rec.CreatePipeline(c.Vert, c.Frag, gpu.PipelineOptions{
		DepthTest:  opts.DepthTest,
		DepthWrite: opts.DepthWrite,
		Cull:       opts.Cull,
	})
	if err != nil {
		return nil, err
	}
	return &Shader{pipeline: pipeline}, nil
}

// Pipeline returns the compiled pipeline.
func (s *Shader) Pipeline() gpu.Pipeline {
	return s.pipeline
}

// Destroy releases the pipeline.
func (s *Shader) Destroy() {
	if s.pipeline != nil {
		s.pipeline.Destroy()
		s.pipeline = nil
	}
}
