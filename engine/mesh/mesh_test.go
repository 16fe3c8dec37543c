package mesh

import (
	"errors"
	"math"
	"testing"

	"github.com/kiln-gfx/kiln/common"
	"github.com/kiln-gfx/kiln/engine/gpu"
)

type fakeBuffer struct {
	data      []byte
	writes    int
	destroyed bool
}

func (b *fakeBuffer) Write(data []byte) {
	b.data = append(b.data[:0], data...)
	b.writes++
}
func (b *fakeBuffer) Size() uint64 { return uint64(len(b.data)) }
func (b *fakeBuffer) Destroy()     { b.destroyed = true }

type fakeAllocator struct {
	created []*fakeBuffer
}

func (a *fakeAllocator) create(data []byte) (gpu.Buffer, error) {
	buf := &fakeBuffer{data: append([]byte{}, data...)}
	a.created = append(a.created, buf)
	return buf, nil
}

func (a *fakeAllocator) CreateVertexBuffer(data []byte) (gpu.Buffer, error) { return a.create(data) }
func (a *fakeAllocator) CreateIndexBuffer(data []byte) (gpu.Buffer, error)  { return a.create(data) }

func quadOptions() Options {
	return Options{
		Vertices: []common.Vector3{
			{X: 0, Y: 0, Z: 0},
			{X: 1, Y: 0, Z: 0},
			{X: 1, Y: 1, Z: 0},
			{X: 0, Y: 1, Z: 0},
		},
		Triangles: []uint32{0, 1, 2, 0, 2, 3},
	}
}

func TestNewRejectsBadGeometry(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr error
	}{
		{
			name:    "no vertices",
			mutate:  func(o *Options) { o.Vertices = nil },
			wantErr: ErrNoVertices,
		},
		{
			name:    "no triangles",
			mutate:  func(o *Options) { o.Triangles = nil },
			wantErr: ErrNoTriangles,
		},
		{
			name:   "ragged triangle list",
			mutate: func(o *Options) { o.Triangles = o.Triangles[:5] },
		},
		{
			name:   "index out of range",
			mutate: func(o *Options) { o.Triangles[3] = 9 },
		},
		{
			name:   "too many uvs",
			mutate: func(o *Options) { o.UVs = make([]common.Vector2, 5) },
		},
		{
			name:   "too many normals",
			mutate: func(o *Options) { o.Normals = make([]common.Vector3, 5) },
		},
		{
			name:   "too many colors",
			mutate: func(o *Options) { o.Colors = make([][4]float32, 5) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := quadOptions()
			tt.mutate(&opts)
			_, err := New(opts, nil)
			if err == nil {
				t.Fatal("New() succeeded, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSmoothNormalsForFlatQuad(t *testing.T) {
	m, err := New(quadOptions(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	normals := m.Normals()
	if len(normals) != 4 {
		t.Fatalf("len(normals) = %d, want 4", len(normals))
	}
	for i, n := range normals {
		if math.Abs(float64(n.X)) > 1e-6 || math.Abs(float64(n.Y)) > 1e-6 || math.Abs(float64(n.Z)-1) > 1e-6 {
			t.Errorf("normal %d = %+v, want +Z", i, n)
		}
	}
}

func TestProvidedNormalsAreKept(t *testing.T) {
	opts := quadOptions()
	opts.Normals = []common.Vector3{
		{X: 1}, {X: 1}, {X: 1}, {X: 1},
	}
	m, err := New(opts, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for i, n := range m.Normals() {
		if n.X != 1 || n.Y != 0 || n.Z != 0 {
			t.Errorf("normal %d = %+v, want +X", i, n)
		}
	}
}

func TestUploadPacksInterleavedVertices(t *testing.T) {
	alloc := &fakeAllocator{}
	m, err := New(quadOptions(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	retired, err := m.Upload(alloc)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(retired) != 0 {
		t.Errorf("first upload retired %d buffers, want 0", len(retired))
	}
	if len(alloc.created) != 2 {
		t.Fatalf("created %d buffers, want 2", len(alloc.created))
	}
	if got, want := len(alloc.created[0].data), 4*48; got != want {
		t.Errorf("vertex buffer is %d bytes, want %d", got, want)
	}
	if got, want := len(alloc.created[1].data), 6*4; got != want {
		t.Errorf("index buffer is %d bytes, want %d", got, want)
	}
	if m.Dirty() {
		t.Error("mesh still dirty after upload")
	}
}

func TestUploadRewritesInPlaceWhenSizeUnchanged(t *testing.T) {
	alloc := &fakeAllocator{}
	m, err := New(quadOptions(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := m.Upload(alloc); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	m.SetVertices([]common.Vector3{
		{X: 0, Y: 0, Z: 1},
		{X: 1, Y: 0, Z: 1},
		{X: 1, Y: 1, Z: 1},
		{X: 0, Y: 1, Z: 1},
	})
	if !m.Dirty() {
		t.Fatal("SetVertices did not mark the mesh dirty")
	}

	retired, err := m.Upload(alloc)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(retired) != 0 {
		t.Errorf("same-size upload retired %d buffers, want 0", len(retired))
	}
	if len(alloc.created) != 2 {
		t.Errorf("same-size upload created new buffers, total %d", len(alloc.created))
	}
	if alloc.created[0].writes != 1 {
		t.Errorf("vertex buffer writes = %d, want 1", alloc.created[0].writes)
	}
}

func TestUploadRetiresResizedBuffers(t *testing.T) {
	alloc := &fakeAllocator{}
	m, err := New(quadOptions(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := m.Upload(alloc); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	first := m.VertexBuffer()

	// Shrink to a triangle; both buffers change byte size.
	m.SetVertices([]common.Vector3{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 1, Y: 1, Z: 0},
	})
	m.triangles = []uint32{0, 1, 2}

	retired, err := m.Upload(alloc)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(retired) != 2 {
		t.Fatalf("retired %d buffers, want 2", len(retired))
	}
	if retired[0] != first {
		t.Error("retired slice does not contain the replaced vertex buffer")
	}
	for _, b := range retired {
		if b.(*fakeBuffer).destroyed {
			t.Error("upload destroyed a retired buffer itself")
		}
	}
	if m.VertexBuffer() == first {
		t.Error("vertex buffer was not replaced")
	}
}

func TestUploadWhenCleanIsNoOp(t *testing.T) {
	alloc := &fakeAllocator{}
	m, err := New(quadOptions(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := m.Upload(alloc); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if _, err := m.Upload(alloc); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(alloc.created) != 2 {
		t.Errorf("clean upload created buffers, total %d", len(alloc.created))
	}
	if alloc.created[0].writes != 0 {
		t.Errorf("clean upload wrote buffers, writes = %d", alloc.created[0].writes)
	}
}

func TestDestroyReleasesBuffers(t *testing.T) {
	alloc := &fakeAllocator{}
	m, err := New(quadOptions(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := m.Upload(alloc); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	m.Destroy()
	for i, b := range alloc.created {
		if !b.destroyed {
			t.Errorf("buffer %d not destroyed", i)
		}
	}
	if m.VertexBuffer() != nil || m.IndexBuffer() != nil {
		t.Error("buffers still referenced after destroy")
	}
}
