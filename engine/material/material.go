// Package material pairs a tint color with a bindless texture index and
// mirrors them into a GPU uniform payload.
package material

import (
	"encoding/binary"
	"math"

	"github.com/kiln-gfx/kiln/engine/gpu"
)

// payloadSize is the byte size of the uniform payload: tint vec4 plus the
// texture index padded to 16 bytes.
const payloadSize = 32

// Allocator is the slice of the device that New needs.
type Allocator interface {
	CreateUniformBuffer(size uint64) (gpu.Buffer, error)
}

// Material is a tint and texture binding shared between draws. Edits mark
// the material dirty; Upload pushes the payload at most once per call.
type Material struct {
	tint         [4]float32
	textureIndex uint32
	buffer       gpu.Buffer
	dirty        bool
}

// New allocates the material's uniform buffer with a white tint and the
// fallback texture at index 0.
//
// Parameters:
//   - dev: the device to allocate through
//
// Returns:
//   - *Material: the material, dirty and awaiting Upload
//   - error: an error if the buffer could not be created
func New(dev Allocator) (*Material, error) {
	buf, err := dev.CreateUniformBuffer(payloadSize)
	if err != nil {
		return nil, err
	}
	return &Material{
		tint:   [4]float32{1, 1, 1, 1},
		buffer: buf,
		dirty:  true,
	}, nil
}

// SetTint replaces the RGBA tint and marks the material dirty.
func (m *Material) SetTint(tint [4]float32) {
	m.tint = tint
	m.dirty = true
}

// Tint returns the current RGBA tint.
func (m *Material) Tint() [4]float32 { return m.tint }

// SetTextureIndex points the material at a bindless table index and marks
// the material dirty.
func (m *Material) SetTextureIndex(index uint32) {
	m.textureIndex = index
	m.dirty = true
}

// TextureIndex returns the bindless table index the material samples.
func (m *Material) TextureIndex() uint32 { return m.textureIndex }

// Dirty reports whether edits are awaiting upload.
func (m *Material) Dirty() bool { return m.dirty }

// Buffer returns the uniform buffer backing the payload.
func (m *Material) Buffer() gpu.Buffer { return m.buffer }

// Payload returns the packed uniform bytes.
func (m *Material) Payload() []byte {
	out := make([]byte, 0, payloadSize)
	for _, f := range m.tint {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	out = binary.LittleEndian.AppendUint32(out, m.textureIndex)
	out = append(out, make([]byte, payloadSize-len(out))...)
	return out
}

// Upload writes the payload to the GPU when dirty.
func (m *Material) Upload() {
	if !m.dirty || m.buffer == nil {
		return
	}
	m.buffer.Write(m.Payload())
	m.dirty = false
}

// Destroy releases the uniform buffer.
func (m *Material) Destroy() {
	if m.buffer != nil {
		m.buffer.Destroy()
		m.buffer = nil
	}
}
