// Package gpu defines the boundary between the engine's resource lifecycle
// logic and the underlying graphics API. The engine paces frames, defers
// destruction, and maintains the bindless image table purely in terms of these
// interfaces; the wgpu backend in this package is the production
// implementation, and the tests in the lifecycle packages supply fakes.
package gpu

import (
	"errors"
	"time"
)

// ErrSurfaceStale indicates the presentable surface no longer matches the
// window (resize, display change). The caller is expected to reconfigure the
// surface and retry once before treating the condition as fatal.
var ErrSurfaceStale = errors.New("gpu: surface stale")

// ErrFenceTimeout indicates a fence wait did not complete within its deadline.
// A fence that never signals means the device is lost; callers treat this as
// fatal and do not retry.
var ErrFenceTimeout = errors.New("gpu: fence wait timed out")

// Fence is a CPU-observable signal of GPU work completion. A fence is armed by
// attaching it to a submission and signals once that submission has finished
// executing on the device.
type Fence interface {
	// Wait blocks until the fence signals or the timeout elapses.
	//
	// Parameters:
	//   - timeout: maximum time to block; 0 means wait forever
	//
	// Returns:
	//   - error: ErrFenceTimeout if the deadline passed, otherwise nil
	Wait(timeout time.Duration) error

	// Reset returns the fence to the unsignaled state so it can be armed by a
	// future submission. Resetting a fence that is still attached to pending
	// GPU work is a caller error.
	Reset()

	// Signaled reports whether the fence is currently in the signaled state
	// without blocking.
	//
	// Returns:
	//   - bool: true if the fence has signaled since its last Reset
	Signaled() bool

	// Destroy releases the fence.
	Destroy()
}

// Semaphore orders GPU-internal operations (acquire-before-render,
// render-before-present). It is opaque to the CPU; only the device consumes
// and signals it.
type Semaphore interface {
	// Destroy releases the semaphore.
	Destroy()
}

// ImageView is a GPU-visible reference to an image, suitable for placement in
// the bindless image table.
type ImageView interface {
	// Destroy releases the view.
	Destroy()
}

// Buffer is a GPU buffer created through the device.
type Buffer interface {
	// Write uploads data to the buffer starting at offset 0. The buffer must
	// be large enough to hold the data.
	//
	// Parameters:
	//   - data: the bytes to upload
	Write(data []byte)

	// Size returns the buffer size in bytes.
	Size() uint64

	// Destroy releases the buffer.
	Destroy()
}

// Texture is a GPU texture with a single sampled view.
type Texture interface {
	// View returns the texture's sampled image view.
	View() ImageView

	// Destroy releases the texture and its view.
	Destroy()
}

// CommandBuffer is a recorded, submittable unit of GPU work.
type CommandBuffer interface{}

// SubmitOptions carries the synchronization primitives attached to a
// submission.
type SubmitOptions struct {
	// Wait, when non-nil, is consumed by the submission before any of its
	// commands execute.
	Wait Semaphore

	// Signal, when non-nil, is signaled by the device once the submission's
	// commands complete, ordering later GPU work (presentation) after it.
	Signal Semaphore

	// Fence, when non-nil, is armed by the submission and signals on the CPU
	// side once the work has finished executing.
	Fence Fence
}

// Device is the engine's handle to the graphics device. It creates
// synchronization primitives and resources, accepts command submissions, and
// can block until all outstanding work has drained.
type Device interface {
	// NewFence creates a fence.
	//
	// Parameters:
	//   - signaled: whether the fence starts in the signaled state
	//
	// Returns:
	//   - Fence: the new fence
	NewFence(signaled bool) Fence

	// NewSemaphore creates a semaphore.
	//
	// Returns:
	//   - Semaphore: the new semaphore
	NewSemaphore() Semaphore

	// Submit enqueues a command buffer on the graphics queue with the given
	// synchronization options.
	//
	// Parameters:
	//   - buf: the recorded command buffer to execute
	//   - opts: semaphores and fence to attach to the submission
	//
	// Returns:
	//   - error: an error if the queue rejected the submission
	Submit(buf CommandBuffer, opts SubmitOptions) error

	// SubmitAndWait enqueues a command buffer and blocks until the device has
	// finished executing it. Used for one-off uploads outside the frame loop.
	//
	// Parameters:
	//   - buf: the recorded command buffer to execute
	//
	// Returns:
	//   - error: an error if submission or the idle wait failed
	SubmitAndWait(buf CommandBuffer) error

	// CreateVertexBuffer creates a vertex buffer and uploads the given data.
	//
	// Parameters:
	//   - data: initial buffer contents
	//
	// Returns:
	//   - Buffer: the new buffer
	//   - error: an error if allocation failed
	CreateVertexBuffer(data []byte) (Buffer, error)

	// CreateIndexBuffer creates an index buffer and uploads the given data.
	//
	// Parameters:
	//   - data: initial buffer contents
	//
	// Returns:
	//   - Buffer: the new buffer
	//   - error: an error if allocation failed
	CreateIndexBuffer(data []byte) (Buffer, error)

	// CreateUniformBuffer creates a uniform buffer of the given size.
	//
	// Parameters:
	//   - size: buffer size in bytes
	//
	// Returns:
	//   - Buffer: the new buffer
	//   - error: an error if allocation failed
	CreateUniformBuffer(size uint64) (Buffer, error)

	// CreateTextureRGBA creates a sampled 2D texture from tightly packed
	// 8-bit RGBA pixels.
	//
	// Parameters:
	//   - pixels: width*height*4 bytes of pixel data
	//   - width: texture width in texels
	//   - height: texture height in texels
	//
	// Returns:
	//   - Texture: the new texture
	//   - error: an error if allocation or upload failed
	CreateTextureRGBA(pixels []byte, width, height uint32) (Texture, error)

	// CreateRenderTexture creates a texture usable both as a render
	// attachment and as a sampled image, for offscreen framebuffers.
	//
	// Parameters:
	//   - width: texture width in texels
	//   - height: texture height in texels
	//
	// Returns:
	//   - Texture: the new texture
	//   - error: an error if allocation failed
	CreateRenderTexture(width, height uint32) (Texture, error)

	// CreateDepthTexture creates a depth attachment texture.
	//
	// Parameters:
	//   - width: texture width in texels
	//   - height: texture height in texels
	//
	// Returns:
	//   - Texture: the new texture
	//   - error: an error if allocation failed
	CreateDepthTexture(width, height uint32) (Texture, error)

	// WriteImageTable rewrites the GPU-visible bindless image table with the
	// given views. Index i of the slice becomes bindless index i in shaders.
	//
	// Parameters:
	//   - views: the full table contents, densely packed, no nil entries
	//
	// Returns:
	//   - error: an error if the table could not be rebuilt
	WriteImageTable(views []ImageView) error

	// WaitForIdle blocks until the device has finished all submitted work.
	//
	// Returns:
	//   - error: an error if the device was lost while draining
	WaitForIdle() error

	// Destroy tears down the device. All resources created through it must
	// already be destroyed.
	Destroy()
}

// Surface is the presentable window surface. Acquire and Present consume the
// frame pacer's per-slot semaphores.
type Surface interface {
	// Acquire obtains the next presentable image.
	//
	// Parameters:
	//   - signal: semaphore signaled once the image is ready for rendering
	//
	// Returns:
	//   - int: the acquired image index
	//   - error: ErrSurfaceStale if the surface must be reconfigured, or a
	//     fatal error otherwise
	Acquire(signal Semaphore) (int, error)

	// Present queues the most recently acquired image for display.
	//
	// Parameters:
	//   - wait: semaphore the presentation engine waits on before displaying
	//
	// Returns:
	//   - error: ErrSurfaceStale if the surface must be reconfigured, or a
	//     fatal error otherwise
	Present(wait Semaphore) error

	// Configure (re)creates the surface's images for the given pixel size.
	//
	// Parameters:
	//   - width: surface width in pixels
	//   - height: surface height in pixels
	//
	// Returns:
	//   - error: an error if the surface could not be configured
	Configure(width, height int) error

	// ImageCount returns the number of presentable images in the surface.
	ImageCount() int

	// Destroy releases the surface.
	Destroy()
}
