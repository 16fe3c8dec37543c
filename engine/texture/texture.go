// Package texture uploads sampled images and registers them in the bindless
// image table.
package texture

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"

	"github.com/kiln-gfx/kiln/engine/descriptor"
	"github.com/kiln-gfx/kiln/engine/gpu"
)

// Options describes pixel data for a new texture. Channels is 3 for RGB or
// 4 for RGBA; RGB pixels are expanded to opaque RGBA on upload.
type Options struct {
	Pixels   []byte
	Width    uint32
	Height   uint32
	Channels int
}

// Uploader is the slice of the device that New needs.
type Uploader interface {
	CreateTextureRGBA(pixels []byte, width, height uint32) (gpu.Texture, error)
}

// Texture is a sampled image holding its bindless table index. Shaders
// address the texture by that index for the texture's whole life.
type Texture struct {
	tex   gpu.Texture
	table *descriptor.Table
	index uint32
}

// New uploads pixel data and registers the image view in the table.
//
// Parameters:
//   - dev: the device to upload through
//   - table: the bindless image table
//   - opts: pixel data and dimensions
//
// Returns:
//   - *Texture: the uploaded texture
//   - error: a pixel layout error, upload error, or
//     descriptor.ErrCapacityExceeded when the table is full
func New(dev Uploader, table *descriptor.Table, opts Options) (*Texture, error) {
	pixels, err := toRGBA(opts)
	if err != nil {
		return nil, err
	}
	tex, err := dev.CreateTextureRGBA(pixels, opts.Width, opts.Height)
	if err != nil {
		return nil, err
	}
	index, err := table.Add(tex.View())
	if err != nil {
		tex.Destroy()
		return nil, err
	}
	return &Texture{tex: tex, table: table, index: index}, nil
}

func toRGBA(opts Options) ([]byte, error) {
	n := int(opts.Width) * int(opts.Height)
	switch opts.Channels {
	case 4:
		if len(opts.Pixels) != n*4 {
			return nil, fmt.Errorf("texture: rgba data is %d bytes, want %d", len(opts.Pixels), n*4)
		}
		return opts.Pixels, nil
	case 3:
		if len(opts.Pixels) != n*3 {
			return nil, fmt.Errorf("texture: rgb data is %d bytes, want %d", len(opts.Pixels), n*3)
		}
		out := make([]byte, n*4)
		for i := 0; i < n; i++ {
			out[i*4] = opts.Pixels[i*3]
			out[i*4+1] = opts.Pixels[i*3+1]
			out[i*4+2] = opts.Pixels[i*3+2]
			out[i*4+3] = 0xFF
		}
		return out, nil
	default:
		return nil, fmt.Errorf("texture: unsupported channel count %d", opts.Channels)
	}
}

// Decode reads a PNG stream into RGBA options.
//
// Parameters:
//   - r: the PNG byte stream
//
// Returns:
//   - Options: decoded RGBA pixels and dimensions
//   - error: a decode error for malformed input
func Decode(r io.Reader) (Options, error) {
	img, err := png.Decode(r)
	if err != nil {
		return Options{}, fmt.Errorf("texture: decode png: %w", err)
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return Options{
		Pixels:   rgba.Pix,
		Width:    uint32(bounds.Dx()),
		Height:   uint32(bounds.Dy()),
		Channels: 4,
	}, nil
}

// Index returns the texture's bindless table index.
func (t *Texture) Index() uint32 { return t.index }

// Resource returns the underlying GPU texture.
func (t *Texture) Resource() gpu.Texture { return t.tex }

// Destroy discards the table entry and releases the GPU texture. The index
// is never reissued; lookups against it serve the table's fallback.
func (t *Texture) Destroy() {
	if t.tex == nil {
		return
	}
	t.table.Discard(t.index)
	t.tex.Destroy()
	t.tex = nil
}
