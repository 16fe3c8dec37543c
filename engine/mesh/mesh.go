// Package mesh holds CPU-side geometry and its lazily uploaded GPU buffers.
package mesh

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/kiln-gfx/kiln/common"
	"github.com/kiln-gfx/kiln/engine/gpu"
)

var (
	// ErrNoVertices reports mesh options without any vertices.
	ErrNoVertices = errors.New("mesh: no vertices")
	// ErrNoTriangles reports mesh options without any triangle indices.
	ErrNoTriangles = errors.New("mesh: no triangles")
)

// Options describes the geometry for a new mesh. Triangles index into
// Vertices in counter-clockwise winding. UVs, Normals, and Colors are
// optional; when Normals is empty, smooth normals are computed from the
// triangle faces.
type Options struct {
	Vertices  []common.Vector3
	Triangles []uint32
	UVs       []common.Vector2
	Normals   []common.Vector3
	Colors    [][4]float32
}

func (o Options) validate() error {
	if len(o.Vertices) == 0 {
		return ErrNoVertices
	}
	if len(o.Triangles) == 0 {
		return ErrNoTriangles
	}
	if len(o.Triangles)%3 != 0 {
		return fmt.Errorf("mesh: triangle index count %d is not a multiple of 3", len(o.Triangles))
	}
	for _, i := range o.Triangles {
		if int(i) >= len(o.Vertices) {
			return fmt.Errorf("mesh: triangle index %d out of range for %d vertices", i, len(o.Vertices))
		}
	}
	if len(o.UVs) > len(o.Vertices) {
		return fmt.Errorf("mesh: %d uvs for %d vertices", len(o.UVs), len(o.Vertices))
	}
	if len(o.Normals) > len(o.Vertices) {
		return fmt.Errorf("mesh: %d normals for %d vertices", len(o.Normals), len(o.Vertices))
	}
	if len(o.Colors) > len(o.Vertices) {
		return fmt.Errorf("mesh: %d colors for %d vertices", len(o.Colors), len(o.Vertices))
	}
	return nil
}

// Mesh is indexed triangle geometry. CPU-side attribute edits set a dirty
// flag; Upload pushes them to the GPU at most once per call.
type Mesh struct {
	vertices  []common.Vector3
	triangles []uint32
	uvs       []common.Vector2
	normals   []common.Vector3
	colors    [][4]float32

	vertexBuffer gpu.Buffer
	indexBuffer  gpu.Buffer
	dirty        bool
}

// New validates the options and builds a mesh. Missing normals are computed
// as smooth vertex normals; pool, when non-nil, parallelizes that work
// across triangle ranges.
//
// Parameters:
//   - opts: the mesh geometry
//   - pool: optional worker pool for normal generation
//
// Returns:
//   - *Mesh: the mesh, dirty and awaiting Upload
//   - error: a validation error if the geometry is inconsistent
func New(opts Options, pool worker.DynamicWorkerPool) (*Mesh, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	m := &Mesh{
		vertices:  append([]common.Vector3{}, opts.Vertices...),
		triangles: append([]uint32{}, opts.Triangles...),
		uvs:       append([]common.Vector2{}, opts.UVs...),
		normals:   append([]common.Vector3{}, opts.Normals...),
		colors:    append([][4]float32{}, opts.Colors...),
		dirty:     true,
	}
	if len(m.normals) == 0 {
		m.normals = smoothNormals(m.vertices, m.triangles, pool)
	}
	return m, nil
}

// smoothNormalChunk is the triangle count handed to one worker task.
const smoothNormalChunk = 4096

// smoothNormals accumulates face normals per vertex and normalizes the
// sums. Each worker accumulates into its own partial array so no locking
// happens on the hot path; partials merge after the barrier.
func smoothNormals(vertices []common.Vector3, triangles []uint32, pool worker.DynamicWorkerPool) []common.Vector3 {
	triCount := len(triangles) / 3
	chunks := (triCount + smoothNormalChunk - 1) / smoothNormalChunk
	if pool == nil || chunks < 2 {
		acc := make([]common.Vector3, len(vertices))
		accumulateFaceNormals(acc, vertices, triangles)
		return normalizeAll(acc)
	}

	partials := make([][]common.Vector3, chunks)
	var wg sync.WaitGroup
	for c := 0; c < chunks; c++ {
		lo := c * smoothNormalChunk * 3
		hi := lo + smoothNormalChunk*3
		if hi > len(triangles) {
			hi = len(triangles)
		}
		part := make([]common.Vector3, len(vertices))
		partials[c] = part
		span := triangles[lo:hi]

		wg.Add(1)
		pool.SubmitTask(worker.Task{
			ID: c,
			Do: func() (any, error) {
				defer wg.Done()
				accumulateFaceNormals(part, vertices, span)
				return nil, nil
			},
		})
	}
	wg.Wait()

	acc := partials[0]
	for _, part := range partials[1:] {
		for i, n := range part {
			acc[i] = acc[i].Add(n)
		}
	}
	return normalizeAll(acc)
}

func accumulateFaceNormals(acc []common.Vector3, vertices []common.Vector3, triangles []uint32) {
	for i := 0; i+2 < len(triangles); i += 3 {
		a, b, c := triangles[i], triangles[i+1], triangles[i+2]
		ab := vertices[b].Sub(vertices[a])
		ac := vertices[c].Sub(vertices[a])
		face := ab.Cross(ac)
		acc[a] = acc[a].Add(face)
		acc[b] = acc[b].Add(face)
		acc[c] = acc[c].Add(face)
	}
}

func normalizeAll(acc []common.Vector3) []common.Vector3 {
	for i := range acc {
		acc[i] = acc[i].Unit()
	}
	return acc
}

// SetVertices replaces the vertex positions and marks the mesh dirty.
func (m *Mesh) SetVertices(vertices []common.Vector3) {
	m.vertices = append(m.vertices[:0], vertices...)
	m.dirty = true
}

// SetNormals replaces the vertex normals and marks the mesh dirty.
func (m *Mesh) SetNormals(normals []common.Vector3) {
	m.normals = append(m.normals[:0], normals...)
	m.dirty = true
}

// SetUVs replaces the texture coordinates and marks the mesh dirty.
func (m *Mesh) SetUVs(uvs []common.Vector2) {
	m.uvs = append(m.uvs[:0], uvs...)
	m.dirty = true
}

// SetColors replaces the vertex colors and marks the mesh dirty.
func (m *Mesh) SetColors(colors [][4]float32) {
	m.colors = append(m.colors[:0], colors...)
	m.dirty = true
}

// Vertices returns the current vertex positions.
func (m *Mesh) Vertices() []common.Vector3 { return m.vertices }

// Normals returns the current vertex normals.
func (m *Mesh) Normals() []common.Vector3 { return m.normals }

// IndexCount returns the number of triangle indices.
func (m *Mesh) IndexCount() uint32 { return uint32(len(m.triangles)) }

// Dirty reports whether CPU-side edits are awaiting upload.
func (m *Mesh) Dirty() bool { return m.dirty }

// VertexBuffer returns the GPU vertex buffer, nil before the first Upload.
func (m *Mesh) VertexBuffer() gpu.Buffer { return m.vertexBuffer }

// IndexBuffer returns the GPU index buffer, nil before the first Upload.
func (m *Mesh) IndexBuffer() gpu.Buffer { return m.indexBuffer }

// BufferAllocator is the slice of the device that Upload needs.
type BufferAllocator interface {
	CreateVertexBuffer(data []byte) (gpu.Buffer, error)
	CreateIndexBuffer(data []byte) (gpu.Buffer, error)
}

// Upload pushes dirty geometry to the GPU. Buffers are rewritten in place
// when the byte size is unchanged; otherwise new buffers are created and
// the old ones are returned so the caller can destroy them once no frame
// still references them.
//
// Parameters:
//   - dev: the device to upload through
//
// Returns:
//   - []gpu.Buffer: replaced buffers the caller must retire, may be empty
//   - error: an error if buffer creation failed
func (m *Mesh) Upload(dev BufferAllocator) ([]gpu.Buffer, error) {
	if !m.dirty {
		return nil, nil
	}

	vertexData := m.packVertices()
	indexData := common.SliceToBytes(m.triangles)

	var retired []gpu.Buffer
	if m.vertexBuffer != nil && m.vertexBuffer.Size() == uint64(len(vertexData)) {
		m.vertexBuffer.Write(vertexData)
	} else {
		buf, err := dev.CreateVertexBuffer(vertexData)
		if err != nil {
			return nil, err
		}
		if m.vertexBuffer != nil {
			retired = append(retired, m.vertexBuffer)
		}
		m.vertexBuffer = buf
	}
	if m.indexBuffer != nil && m.indexBuffer.Size() == uint64(len(indexData)) {
		m.indexBuffer.Write(indexData)
	} else {
		buf, err := dev.CreateIndexBuffer(indexData)
		if err != nil {
			return retired, err
		}
		if m.indexBuffer != nil {
			retired = append(retired, m.indexBuffer)
		}
		m.indexBuffer = buf
	}

	m.dirty = false
	return retired, nil
}

// packVertices interleaves position, normal, uv, and color into the
// 48-byte stride the render pipelines expect. Missing attributes fall back
// to zero uv and white color.
func (m *Mesh) packVertices() []byte {
	out := make([]byte, 0, len(m.vertices)*48)
	put := func(f float32) []byte {
		bits := math.Float32bits(f)
		return []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}
	}
	for i, v := range m.vertices {
		n := common.Vector3{}
		if i < len(m.normals) {
			n = m.normals[i]
		}
		uv := common.Vector2{}
		if i < len(m.uvs) {
			uv = m.uvs[i]
		}
		color := [4]float32{1, 1, 1, 1}
		if i < len(m.colors) {
			color = m.colors[i]
		}
		out = append(out, put(v.X)...)
		out = append(out, put(v.Y)...)
		out = append(out, put(v.Z)...)
		out = append(out, put(n.X)...)
		out = append(out, put(n.Y)...)
		out = append(out, put(n.Z)...)
		out = append(out, put(uv.X)...)
		out = append(out, put(uv.Y)...)
		out = append(out, put(color[0])...)
		out = append(out, put(color[1])...)
		out = append(out, put(color[2])...)
		out = append(out, put(color[3])...)
	}
	return out
}

// Destroy releases the GPU buffers.
func (m *Mesh) Destroy() {
	if m.vertexBuffer != nil {
		m.vertexBuffer.Destroy()
		m.vertexBuffer = nil
	}
	if m.indexBuffer != nil {
		m.indexBuffer.Destroy()
		m.indexBuffer = nil
	}
}
