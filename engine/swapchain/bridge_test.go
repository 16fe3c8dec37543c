package swapchain

import (
	"errors"
	"testing"

	"github.com/kiln-gfx/kiln/engine/frame"
	"github.com/kiln-gfx/kiln/engine/gpu"
)

// fakeSurface cycles through a fixed image count and can be scripted to go
// stale on acquire or present.
type fakeSurface struct {
	images       int
	cursor       int
	staleAcquire int // number of acquires that report stale before recovering
	stalePresent int
	configured   [][2]int
}

func (s *fakeSurface) Acquire(signal gpu.Semaphore) (int, error) {
	if s.staleAcquire > 0 {
		s.staleAcquire--
		return 0, gpu.ErrSurfaceStale
	}
	idx := s.cursor
	s.cursor = (s.cursor + 1) % s.images
	return idx, nil
}

func (s *fakeSurface) Present(wait gpu.Semaphore) error {
	if s.stalePresent > 0 {
		s.stalePresent--
		return gpu.ErrSurfaceStale
	}
	return nil
}

func (s *fakeSurface) Configure(width, height int) error {
	s.configured = append(s.configured, [2]int{width, height})
	s.cursor = 0
	return nil
}

func (s *fakeSurface) ImageCount() int { return s.images }
func (s *fakeSurface) Destroy()        {}

type nopSemaphore struct{}

func (nopSemaphore) Destroy() {}

func testSlot() *frame.Slot {
	return &frame.Slot{Acquire: nopSemaphore{}, Release: nopSemaphore{}}
}

func TestAcquireCyclesImages(t *testing.T) {
	b := NewBridge(&fakeSurface{images: 3})

	want := []int{0, 1, 2, 0}
	for i, w := range want {
		got, err := b.Acquire(testSlot())
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		if got != w {
			t.Errorf("Acquire %d = %d, want %d", i, got, w)
		}
		if b.Current() != w {
			t.Errorf("Current() = %d after acquire, want %d", b.Current(), w)
		}
	}
}

func TestAcquireReportsStale(t *testing.T) {
	s := &fakeSurface{images: 3, staleAcquire: 1}
	b := NewBridge(s)

	_, err := b.Acquire(testSlot())
	if !errors.Is(err, gpu.ErrSurfaceStale) {
		t.Fatalf("Acquire = %v, want ErrSurfaceStale", err)
	}

	// Recreate and retry once: the surface has recovered.
	if err := b.Recreate(800, 600); err != nil {
		t.Fatalf("Recreate: %v", err)
	}
	if got := s.configured; len(got) != 1 || got[0] != [2]int{800, 600} {
		t.Errorf("Recreate configured %v, want [[800 600]]", got)
	}
	if _, err := b.Acquire(testSlot()); err != nil {
		t.Fatalf("Acquire after recreate: %v", err)
	}
}

func TestPresentReportsStale(t *testing.T) {
	b := NewBridge(&fakeSurface{images: 3, stalePresent: 1})

	if _, err := b.Acquire(testSlot()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := b.Present(testSlot()); !errors.Is(err, gpu.ErrSurfaceStale) {
		t.Fatalf("Present = %v, want ErrSurfaceStale", err)
	}
	if err := b.Present(testSlot()); err != nil {
		t.Fatalf("Present after recovery: %v", err)
	}
}
