// Package descriptor maintains the bindless image table shared by all draws:
// a single GPU-visible array of image views addressed by integer index from
// shaders. The table only ever grows; indices are handed out in strictly
// increasing order and are never reused, because shaders recorded earlier may
// still encode them.
package descriptor

import (
	"errors"
	"fmt"

	"github.com/kiln-gfx/kiln/engine/gpu"
)

// ErrCapacityExceeded is returned by Add once the fixed bindless limit has
// been reached. It is a caller error, reported, never a panic.
var ErrCapacityExceeded = errors.New("descriptor: image table capacity exceeded")

// DefaultCapacity is the bindless ceiling used when the caller does not
// configure one.
const DefaultCapacity = 100

// Writer rewrites the GPU-visible table. gpu.Device satisfies it.
type Writer interface {
	WriteImageTable(views []gpu.ImageView) error
}

// Table is the CPU-side mirror of the bindless image table. It batches
// mutations: any number of adds and discards mark the table dirty, and the
// GPU-visible copy is rewritten at most once per frame by UpdateIfNeeded.
// Owned by the render thread; not safe for concurrent use.
type Table struct {
	writer   Writer
	views    []gpu.ImageView
	fallback gpu.ImageView
	capacity int
	dirty    bool
	writes   int
}

// NewTable creates a table with the given hard capacity ceiling.
//
// Parameters:
//   - writer: receives the rebuilt table contents
//   - capacity: maximum number of indices ever assigned; values < 1 fall
//     back to DefaultCapacity
//
// Returns:
//   - *Table: the new, empty table
func NewTable(writer Writer, capacity int) *Table {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Table{writer: writer, capacity: capacity}
}

// Add appends an image view and returns its bindless index. Indices are
// assigned in strictly increasing order starting at 0. The first view added
// becomes the fallback substituted for discarded entries.
//
// Parameters:
//   - view: the image view to publish
//
// Returns:
//   - uint32: the assigned index
//   - error: ErrCapacityExceeded once the ceiling is reached
func (t *Table) Add(view gpu.ImageView) (uint32, error) {
	if len(t.views) >= t.capacity {
		return 0, ErrCapacityExceeded
	}
	index := uint32(len(t.views))
	t.views = append(t.views, view)
	if t.fallback == nil {
		t.fallback = view
	}
	t.dirty = true
	return index, nil
}

// Discard clears the entry at index without releasing the index. The slot
// keeps its position and serves the fallback view until the table is
// rebuilt; the index is never assigned to another resource.
//
// Parameters:
//   - index: the entry to clear
func (t *Table) Discard(index uint32) {
	if int(index) >= len(t.views) {
		return
	}
	t.views[index] = nil
	t.dirty = true
}

// Replace swaps the view published at a live index, keeping the index
// itself stable. Used when a resource rebuilds its backing image, such as a
// render target on resize.
//
// Parameters:
//   - index: the entry to rewrite
//   - view: the new view to publish
//
// Returns:
//   - error: an error if index was never assigned
func (t *Table) Replace(index uint32, view gpu.ImageView) error {
	if int(index) >= len(t.views) {
		return fmt.Errorf("descriptor: replace of unassigned index %d", index)
	}
	t.views[index] = view
	if index == 0 {
		t.fallback = view
	}
	t.dirty = true
	return nil
}

// MarkDirty forces a rebuild on the next UpdateIfNeeded, for callers that
// mutate a view in place.
func (t *Table) MarkDirty() {
	t.dirty = true
}

// UpdateIfNeeded rewrites the GPU-visible table if anything changed since
// the last rebuild. Called once per frame, so batched adds cost one write.
//
// Returns:
//   - error: an error if the writer failed; the table stays dirty
func (t *Table) UpdateIfNeeded() error {
	if !t.dirty {
		return nil
	}
	dense := make([]gpu.ImageView, len(t.views))
	for i, v := range t.views {
		if v == nil {
			v = t.fallback
		}
		dense[i] = v
	}
	if err := t.writer.WriteImageTable(dense); err != nil {
		return fmt.Errorf("descriptor: rebuilding image table: %w", err)
	}
	t.dirty = false
	t.writes++
	return nil
}

// Len returns the number of assigned indices.
func (t *Table) Len() int { return len(t.views) }

// Capacity returns the hard ceiling set at construction.
func (t *Table) Capacity() int { return t.capacity }

// Writes returns how many times the GPU-visible table has been rebuilt.
func (t *Table) Writes() int { return t.writes }
