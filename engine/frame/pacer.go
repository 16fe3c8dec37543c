// Package frame paces CPU-side recording against a small ring of in-flight
// GPU frames. The pacer owns one slot per in-flight frame, each with an
// acquire semaphore, a release semaphore, and a completion fence; waiting the
// incoming slot's fence before reusing it is what bounds the CPU to at most N
// frames ahead of the GPU.
package frame

import (
	"fmt"
	"time"

	"github.com/kiln-gfx/kiln/engine/gpu"
)

// DefaultInFlight is the number of frame slots used when the caller does not
// configure one. Two slots let the CPU record a frame while the GPU consumes
// the previous one.
const DefaultInFlight = 2

// Stage is the position of the render loop inside the per-frame state
// machine. Transitions outside the expected order are programmer errors and
// panic; they are never runtime failures.
type Stage int

const (
	// StageIdle means no frame bracket is open.
	StageIdle Stage = iota
	// StageRecording means BeginFrame has run and draws may be issued.
	StageRecording
	// StageSubmitted means the frame's commands are on the queue but the
	// image has not been presented yet.
	StageSubmitted
)

// Slot is one in-flight frame's synchronization state.
type Slot struct {
	// Acquire is signaled when the slot's surface image is ready and
	// consumed by the frame's submission.
	Acquire gpu.Semaphore
	// Release is signaled by the frame's submission and consumed by
	// presentation.
	Release gpu.Semaphore
	// Fence signals on the CPU once the frame's submission has finished
	// executing on the device.
	Fence gpu.Fence
}

// Pacer owns the frame ring. It is used from the render thread only.
type Pacer struct {
	slots   []Slot
	current int
	stage   Stage
	timeout time.Duration
}

// NewPacer creates a pacer with inFlight slots. Fences start signaled so the
// first pass through the ring does not block.
//
// Parameters:
//   - device: used to create the per-slot synchronization primitives
//   - inFlight: ring size; values < 1 fall back to DefaultInFlight
//   - waitTimeout: per-fence wait deadline; exceeding it means the device is
//     lost and surfaces as an error from BeginFrame
//
// Returns:
//   - *Pacer: the new pacer, positioned so the first BeginFrame returns slot 0
func NewPacer(device gpu.Device, inFlight int, waitTimeout time.Duration) *Pacer {
	if inFlight < 1 {
		inFlight = DefaultInFlight
	}
	slots := make([]Slot, inFlight)
	for i := range slots {
		slots[i] = Slot{
			Acquire: device.NewSemaphore(),
			Release: device.NewSemaphore(),
			Fence:   device.NewFence(true),
		}
	}
	return &Pacer{
		slots:   slots,
		current: inFlight - 1,
		stage:   StageIdle,
		timeout: waitTimeout,
	}
}

// BeginFrame blocks until the fence of the slot about to be reused has
// signaled, proving the frame that last used it has fully executed, then
// advances the ring and returns the new index. A fence timeout means the
// device is lost; it is returned, not retried.
//
// Returns:
//   - int: the ring index now current
//   - error: gpu.ErrFenceTimeout on a lost device
func (p *Pacer) BeginFrame() (int, error) {
	if p.stage != StageIdle {
		panic("frame: BeginFrame inside an open frame bracket")
	}
	next := (p.current + 1) % len(p.slots)
	if err := p.slots[next].Fence.Wait(p.timeout); err != nil {
		return 0, fmt.Errorf("frame: waiting slot %d fence: %w", next, err)
	}
	p.current = next
	p.stage = StageRecording
	return p.current, nil
}

// EndFrame resets the current slot's fence so the frame's submission can arm
// it, and moves the state machine to submitted. Call after recording, before
// handing the command buffer to the submission queue.
func (p *Pacer) EndFrame() {
	if p.stage != StageRecording {
		panic("frame: EndFrame without a matching BeginFrame")
	}
	p.slots[p.current].Fence.Reset()
	p.stage = StageSubmitted
}

// FramePresented closes the bracket after presentation.
func (p *Pacer) FramePresented() {
	if p.stage != StageSubmitted {
		panic("frame: FramePresented before EndFrame")
	}
	p.stage = StageIdle
}

// AbortFrame closes an open bracket without submitting, used when the
// surface went stale after BeginFrame. The fence is left signaled so the
// slot can be reused immediately.
func (p *Pacer) AbortFrame() {
	if p.stage == StageIdle {
		panic("frame: AbortFrame with no open frame bracket")
	}
	p.stage = StageIdle
}

// MustBeRecording panics unless a frame bracket is open. Draw paths call
// this; drawing outside begin/end is a contract violation, fatal by design.
func (p *Pacer) MustBeRecording() {
	if p.stage != StageRecording {
		panic("frame: draw issued outside a begin/end frame bracket")
	}
}

// Current returns the ring index of the slot currently being recorded.
func (p *Pacer) Current() int { return p.current }

// CurrentSlot returns the synchronization state of the current slot.
func (p *Pacer) CurrentSlot() *Slot { return &p.slots[p.current] }

// InFlight returns the ring size.
func (p *Pacer) InFlight() int { return len(p.slots) }

// Stage returns the state machine's position.
func (p *Pacer) Stage() Stage { return p.stage }

// WaitAll blocks until every slot's fence has signaled, draining the whole
// in-flight window. Part of the device idle path.
//
// Returns:
//   - error: the first fence wait failure
func (p *Pacer) WaitAll() error {
	for i := range p.slots {
		if err := p.slots[i].Fence.Wait(p.timeout); err != nil {
			return fmt.Errorf("frame: draining slot %d fence: %w", i, err)
		}
	}
	return nil
}

// Destroy releases the per-slot synchronization primitives.
func (p *Pacer) Destroy() {
	for i := range p.slots {
		p.slots[i].Acquire.Destroy()
		p.slots[i].Release.Destroy()
		p.slots[i].Fence.Destroy()
	}
	p.slots = nil
}
