package engine

// drawCall is one queued mesh draw, validated and recorded at frame end.
type drawCall struct {
	mesh      MeshHandle
	material  MaterialHandle
	shader    ShaderHandle
	transform [16]float32
}

// Target collects the draws for one render pass. A Target is only valid
// inside the draw closure it is passed to.
type Target struct {
	clear [4]float32
	draws []drawCall
}

// SetClear overrides the pass clear color.
//
// Parameters:
//   - color: RGBA clear color
func (t *Target) SetClear(color [4]float32) {
	t.clear = color
}

// Draw queues one mesh draw. Handles are resolved when the pass is
// recorded; draws referencing stale handles are skipped silently.
//
// Parameters:
//   - mesh: the geometry to draw
//   - material: the tint and texture binding
//   - shader: the pipeline to draw with
//   - transform: the model matrix, column-major
func (t *Target) Draw(mesh MeshHandle, material MaterialHandle, shader ShaderHandle, transform [16]float32) {
	t.draws = append(t.draws, drawCall{
		mesh:      mesh,
		material:  material,
		shader:    shader,
		transform: transform,
	})
}
