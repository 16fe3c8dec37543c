// Package swapchain bridges the frame pacer to the presentable surface:
// acquiring the next image consumes the current slot's acquire semaphore and
// presenting consumes its release semaphore. Stale-surface conditions are
// recoverable and reported as gpu.ErrSurfaceStale; the engine owns the
// recreate-and-retry-once policy.
package swapchain

import (
	"fmt"

	"github.com/kiln-gfx/kiln/engine/frame"
	"github.com/kiln-gfx/kiln/engine/gpu"
)

// Bridge wraps a surface with per-slot synchronization. Used from the render
// thread only.
type Bridge struct {
	surface gpu.Surface
	current int
}

// NewBridge creates a bridge over the given surface.
func NewBridge(surface gpu.Surface) *Bridge {
	return &Bridge{surface: surface}
}

// Acquire obtains the next presentable image, signaling the slot's acquire
// semaphore once the image is ready for rendering.
//
// Parameters:
//   - slot: the pacer slot recording this frame
//
// Returns:
//   - int: the acquired image index
//   - error: gpu.ErrSurfaceStale when the surface must be recreated, or a
//     fatal device error
func (b *Bridge) Acquire(slot *frame.Slot) (int, error) {
	idx, err := b.surface.Acquire(slot.Acquire)
	if err != nil {
		return 0, fmt.Errorf("swapchain: acquire: %w", err)
	}
	b.current = idx
	return idx, nil
}

// Present queues the most recently acquired image for display after the
// slot's release semaphore signals.
//
// Parameters:
//   - slot: the pacer slot that rendered this frame
//
// Returns:
//   - error: gpu.ErrSurfaceStale when the surface must be recreated, or a
//     fatal device error
func (b *Bridge) Present(slot *frame.Slot) error {
	if err := b.surface.Present(slot.Release); err != nil {
		return fmt.Errorf("swapchain: present: %w", err)
	}
	return nil
}

// Recreate reconfigures the surface for a new pixel size, after the caller
// has drained the device. Swapchain-bound framebuffers must be rebuilt by
// the caller afterwards.
//
// Parameters:
//   - width: new surface width in pixels
//   - height: new surface height in pixels
//
// Returns:
//   - error: an error if the surface could not be configured
func (b *Bridge) Recreate(width, height int) error {
	if err := b.surface.Configure(width, height); err != nil {
		return fmt.Errorf("swapchain: recreate: %w", err)
	}
	b.current = 0
	return nil
}

// Current returns the image index acquired for the frame being recorded.
func (b *Bridge) Current() int { return b.current }

// ImageCount returns the number of presentable images.
func (b *Bridge) ImageCount() int { return b.surface.ImageCount() }

// Destroy releases the underlying surface.
func (b *Bridge) Destroy() { b.surface.Destroy() }
