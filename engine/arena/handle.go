package arena

// Handle is a stable reference to a resource stored in an Arena. It is a
// plain (slot, generation) pair: copyable, comparable, and carrying no
// ownership. A handle stays valid until the resource it names has been both
// removed and physically destroyed; after that it is permanently invalid,
// even if the slot is later reused for a new resource.
type Handle[T any] struct {
	slot uint32
	gen  uint32
}

// Slot returns the handle's slot index. Exposed for logging and debugging
// only; slot indices are meaningless without the generation.
func (h Handle[T]) Slot() uint32 { return h.slot }

// Generation returns the handle's generation counter.
func (h Handle[T]) Generation() uint32 { return h.gen }
