package profiler

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTickFlushesAfterInterval(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewProfiler(zap.New(core))
	p.SetUpdateInterval(10 * time.Millisecond)

	if p.Tick() {
		t.Fatal("first tick flushed immediately")
	}
	time.Sleep(20 * time.Millisecond)
	if !p.Tick() {
		t.Fatal("tick after the interval did not flush")
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("logged %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if _, ok := fields["fps"]; !ok {
		t.Fatal("summary is missing the fps field")
	}
	if fields["fps"].(float64) <= 0 {
		t.Fatal("fps is not positive")
	}
}

func TestFlushResetsInterval(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewProfiler(zap.New(core))
	p.SetUpdateInterval(10 * time.Millisecond)

	time.Sleep(15 * time.Millisecond)
	p.Tick()
	if p.Tick() {
		t.Fatal("tick right after a flush logged again")
	}
	if len(logs.All()) != 1 {
		t.Fatalf("logged %d entries, want 1", len(logs.All()))
	}
}

func TestNilLoggerDefaultsToNop(t *testing.T) {
	p := NewProfiler(nil)
	time.Sleep(2 * time.Millisecond)
	p.Tick()
}
