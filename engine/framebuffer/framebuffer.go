// Package framebuffer owns offscreen render targets: a color attachment
// published in the bindless image table and a matching depth attachment.
package framebuffer

import (
	"fmt"

	"github.com/kiln-gfx/kiln/engine/descriptor"
	"github.com/kiln-gfx/kiln/engine/gpu"
)

// Allocator is the slice of the device that the framebuffer needs.
type Allocator interface {
	CreateRenderTexture(width, height uint32) (gpu.Texture, error)
	CreateDepthTexture(width, height uint32) (gpu.Texture, error)
}

// Framebuffer is an offscreen color and depth attachment pair. The color
// attachment holds one bindless index for the framebuffer's whole life;
// Resize swaps the backing textures behind that index.
type Framebuffer struct {
	dev    Allocator
	table  *descriptor.Table
	color  gpu.Texture
	depth  gpu.Texture
	index  uint32
	width  uint32
	height uint32
}

// New creates the attachments and publishes the color view in the table.
//
// Parameters:
//   - dev: the device to allocate through
//   - table: the bindless image table
//   - width: attachment width in pixels
//   - height: attachment height in pixels
//
// Returns:
//   - *Framebuffer: the new framebuffer
//   - error: an allocation error, or descriptor.ErrCapacityExceeded when
//     the table is full
func New(dev Allocator, table *descriptor.Table, width, height uint32) (*Framebuffer, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("framebuffer: zero extent %dx%d", width, height)
	}
	color, err := dev.CreateRenderTexture(width, height)
	if err != nil {
		return nil, err
	}
	depth, err := dev.CreateDepthTexture(width, height)
	if err != nil {
		color.Destroy()
		return nil, err
	}
	index, err := table.Add(color.View())
	if err != nil {
		depth.Destroy()
		color.Destroy()
		return nil, err
	}
	return &Framebuffer{
		dev:    dev,
		table:  table,
		color:  color,
		depth:  depth,
		index:  index,
		width:  width,
		height: height,
	}, nil
}

// Resize rebuilds both attachments at the new extent and republishes the
// color view at the framebuffer's existing index. The old textures are
// returned so the caller can destroy them once no frame still references
// them.
//
// Parameters:
//   - width: new width in pixels
//   - height: new height in pixels
//
// Returns:
//   - []gpu.Texture: the replaced textures the caller must retire
//   - error: an allocation error; the framebuffer keeps its old attachments
func (f *Framebuffer) Resize(width, height uint32) ([]gpu.Texture, error) {
	if width == f.width && height == f.height {
		return nil, nil
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("framebuffer: zero extent %dx%d", width, height)
	}
	color, err := f.dev.CreateRenderTexture(width, height)
	if err != nil {
		return nil, err
	}
	depth, err := f.dev.CreateDepthTexture(width, height)
	if err != nil {
		color.Destroy()
		return nil, err
	}
	if err := f.table.Replace(f.index, color.View()); err != nil {
		depth.Destroy()
		color.Destroy()
		return nil, err
	}

	retired := []gpu.Texture{f.color, f.depth}
	f.color = color
	f.depth = depth
	f.width = width
	f.height = height
	return retired, nil
}

// Color returns the color attachment.
func (f *Framebuffer) Color() gpu.Texture { return f.color }

// Depth returns the depth attachment.
func (f *Framebuffer) Depth() gpu.Texture { return f.depth }

// Index returns the color attachment's bindless table index.
func (f *Framebuffer) Index() uint32 { return f.index }

// Size returns the current extent in pixels.
func (f *Framebuffer) Size() (uint32, uint32) { return f.width, f.height }

// Destroy discards the table entry and releases both attachments.
func (f *Framebuffer) Destroy() {
	if f.color == nil {
		return
	}
	f.table.Discard(f.index)
	f.depth.Destroy()
	f.color.Destroy()
	f.depth = nil
	f.color = nil
}
