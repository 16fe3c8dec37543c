// Package arena provides generational handle-indexed storage for GPU
// resources. Each resource kind gets its own Arena; lookups through stale
// handles miss silently, and removal defers physical destruction until the
// frame ring proves no in-flight GPU work can still reference the resource.
package arena

// slot is one storage cell. The generation counter increments exactly once
// per destroy-then-reuse cycle and never decrements.
type slot[T any] struct {
	value    T
	gen      uint32
	occupied bool
}

// Arena is generational storage for a single resource kind. It is owned by
// the render thread and is not safe for concurrent use; cross-thread
// mutation goes through the engine's per-frame message drain instead.
type Arena[T any] struct {
	slots   []slot[T]
	free    []uint32
	queue   DestroyQueue[T]
	destroy func(T)
}

// New creates an Arena for one resource kind.
//
// Parameters:
//   - destroy: called exactly once per removed resource when it becomes safe
//     to free; nil if the resource kind owns no GPU memory
//
// Returns:
//   - *Arena[T]: the new arena
func New[T any](destroy func(T)) *Arena[T] {
	return &Arena[T]{destroy: destroy}
}

// Add inserts a value into a free slot, growing storage when none is
// available. The returned handle is valid immediately.
//
// Parameters:
//   - value: the resource to store
//
// Returns:
//   - Handle[T]: a handle carrying the slot index and current generation
func (a *Arena[T]) Add(value T) Handle[T] {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[idx].value = value
		a.slots[idx].occupied = true
		return Handle[T]{slot: idx, gen: a.slots[idx].gen}
	}
	a.slots = append(a.slots, slot[T]{value: value, occupied: true})
	return Handle[T]{slot: uint32(len(a.slots) - 1), gen: 0}
}

// Lookup returns the value the handle refers to. A stale handle (removed
// resource, reused slot, or generation mismatch) is an expected outcome and
// reports ok=false without error.
//
// Parameters:
//   - h: the handle to resolve
//
// Returns:
//   - T: the stored value, or the zero value on a miss
//   - bool: true if the handle is still valid
func (a *Arena[T]) Lookup(h Handle[T]) (T, bool) {
	var zero T
	if int(h.slot) >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[h.slot]
	if !s.occupied || s.gen != h.gen {
		return zero, false
	}
	return s.value, true
}

// With resolves the handle and, if valid, invokes fn with the stored value.
//
// Parameters:
//   - h: the handle to resolve
//   - fn: called with the value while the handle is valid
//
// Returns:
//   - bool: true if the handle was valid and fn ran
func (a *Arena[T]) With(h Handle[T], fn func(T)) bool {
	v, ok := a.Lookup(h)
	if !ok {
		return false
	}
	fn(v)
	return true
}

// Remove makes the handle's resource invisible to lookups immediately and
// enqueues its payload for deferred destruction, tagged with the frame slot
// index active at removal time. Removing an already-stale handle is a no-op.
//
// Parameters:
//   - h: the handle to remove
//   - frameIndex: the frame ring index current when Remove is called
//
// Returns:
//   - bool: true if the handle was valid and the resource was enqueued
func (a *Arena[T]) Remove(h Handle[T], frameIndex int) bool {
	if int(h.slot) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.slot]
	if !s.occupied || s.gen != h.gen {
		return false
	}
	var zero T
	a.queue.push(s.value, frameIndex, h.slot, true)
	s.value = zero
	s.occupied = false
	return true
}

// Replace swaps the handle's payload for a new value while keeping the
// handle's identity: the old payload is deferred-destroyed exactly like a
// removal, the slot stays occupied at the same generation, and every
// existing handle transparently observes the new value. Used for hot-reload.
//
// Parameters:
//   - h: the handle whose payload to swap
//   - value: the replacement payload
//   - frameIndex: the frame ring index current when Replace is called
//
// Returns:
//   - bool: true if the handle was valid and the swap happened
func (a *Arena[T]) Replace(h Handle[T], value T, frameIndex int) bool {
	if int(h.slot) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.slot]
	if !s.occupied || s.gen != h.gen {
		return false
	}
	a.queue.push(s.value, frameIndex, h.slot, false)
	s.value = value
	return true
}

// CleanUnused physically destroys every queued resource whose marked frame
// index matches the current one. Call once per frame, right after the pacer
// has waited the current slot's fence: the marked index coming around again
// with its fence signaled proves the full in-flight window has elapsed since
// removal. Destroyed removals bump their slot's generation, permanently
// invalidating old handles, and return the slot to the free list.
//
// Parameters:
//   - frameIndex: the frame ring index the pacer just advanced to
//
// Returns:
//   - int: the number of resources destroyed
func (a *Arena[T]) CleanUnused(frameIndex int) int {
	before := a.queue.Len()
	bumps := a.queue.drain(frameIndex, a.destroy)
	a.recycle(bumps)
	return before - a.queue.Len()
}

// Clear destroys everything: live values, then the whole destroy queue,
// ignoring frame tags. Only valid after a device idle wait at teardown.
func (a *Arena[T]) Clear() {
	for i := range a.slots {
		if a.slots[i].occupied {
			if a.destroy != nil {
				a.destroy(a.slots[i].value)
			}
			var zero T
			a.slots[i].value = zero
			a.slots[i].occupied = false
		}
	}
	bumps := a.queue.drainAll(a.destroy)
	a.recycle(bumps)
}

func (a *Arena[T]) recycle(bumps []uint32) {
	for _, idx := range bumps {
		a.slots[idx].gen++
		a.free = append(a.free, idx)
	}
}

// Len returns the number of live resources.
func (a *Arena[T]) Len() int {
	n := 0
	for i := range a.slots {
		if a.slots[i].occupied {
			n++
		}
	}
	return n
}

// Pending returns the number of resources awaiting deferred destruction.
func (a *Arena[T]) Pending() int { return a.queue.Len() }
