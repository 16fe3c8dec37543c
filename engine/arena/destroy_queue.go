package arena

// destroyEntry is a removed resource awaiting physical destruction. The
// entry was marked with the frame slot index active when the removal
// happened; it becomes safe to destroy once the frame ring has cycled back
// to that index, because by then the pacer has re-waited that slot's fence
// and no in-flight GPU work can still reference the resource.
type destroyEntry[T any] struct {
	value T
	frame int

	// slot is the arena slot whose generation must be bumped when this
	// entry is destroyed. Replacements keep the slot alive with a new
	// payload, so they enqueue with bump=false and the handle survives.
	slot uint32
	bump bool
}

// DestroyQueue holds resources that have been logically removed from an
// Arena but may still be referenced by in-flight GPU frames. Entries move
// through marked -> safe -> destroyed; Drain performs the last two steps for
// every entry whose marked frame index has come around again.
type DestroyQueue[T any] struct {
	entries []destroyEntry[T]
}

// Len returns the number of resources still awaiting destruction.
func (q *DestroyQueue[T]) Len() int { return len(q.entries) }

// push marks a resource for deferred destruction.
func (q *DestroyQueue[T]) push(value T, frame int, slot uint32, bump bool) {
	q.entries = append(q.entries, destroyEntry[T]{
		value: value,
		frame: frame,
		slot:  slot,
		bump:  bump,
	})
}

// drain destroys every entry marked with the given frame index and reports
// the slots whose generation must be bumped. The caller has already waited
// the frame slot's fence, which is the proof of safety.
func (q *DestroyQueue[T]) drain(frame int, destroy func(T)) []uint32 {
	var bumps []uint32
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.frame != frame {
			kept = append(kept, e)
			continue
		}
		if destroy != nil {
			destroy(e.value)
		}
		if e.bump {
			bumps = append(bumps, e.slot)
		}
	}
	// Zero the tail so destroyed payloads are not pinned by the backing
	// array.
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = destroyEntry[T]{}
	}
	q.entries = kept
	return bumps
}

// drainAll destroys every queued entry regardless of frame index. Used at
// teardown, after the device has gone idle.
func (q *DestroyQueue[T]) drainAll(destroy func(T)) []uint32 {
	var bumps []uint32
	for _, e := range q.entries {
		if destroy != nil {
			destroy(e.value)
		}
		if e.bump {
			bumps = append(bumps, e.slot)
		}
	}
	q.entries = nil
	return bumps
}
