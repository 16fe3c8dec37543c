package frame

import (
	"fmt"

	"github.com/kiln-gfx/kiln/engine/gpu"
)

// SubmissionQueue submits the current frame's command buffer with the slot's
// synchronization attached: the submission consumes the acquire semaphore,
// signals the release semaphore for presentation, and arms the completion
// fence the pacer will wait on when the ring cycles back.
type SubmissionQueue struct {
	device gpu.Device
}

// NewSubmissionQueue creates a submission queue over the device.
func NewSubmissionQueue(device gpu.Device) *SubmissionQueue {
	return &SubmissionQueue{device: device}
}

// Submit enqueues the frame's commands for the given slot.
//
// Parameters:
//   - buf: the recorded command buffer
//   - slot: the frame slot whose semaphores and fence order the submission
//
// Returns:
//   - error: an error if the device rejected the submission
func (q *SubmissionQueue) Submit(buf gpu.CommandBuffer, slot *Slot) error {
	err := q.device.Submit(buf, gpu.SubmitOptions{
		Wait:   slot.Acquire,
		Signal: slot.Release,
		Fence:  slot.Fence,
	})
	if err != nil {
		return fmt.Errorf("frame: submit: %w", err)
	}
	return nil
}

// SubmitAndWait runs a one-off command buffer outside the frame ring,
// blocking until the device has executed it. Used for setup uploads.
//
// Parameters:
//   - buf: the recorded command buffer
//
// Returns:
//   - error: an error if submission or the wait failed
func (q *SubmissionQueue) SubmitAndWait(buf gpu.CommandBuffer) error {
	if err := q.device.SubmitAndWait(buf); err != nil {
		return fmt.Errorf("frame: submit and wait: %w", err)
	}
	return nil
}
