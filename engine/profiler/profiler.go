package profiler

import (
	"runtime"
	"time"

	"go.uber.org/zap"
)

// Profiler tracks frame pacing and memory statistics. It is ticked once per
// presented frame and logs a summary at a configurable interval.
type Profiler struct {
	log            *zap.Logger
	updateInterval time.Duration

	frameCount int
	lastFlush  time.Time
	lastFrame  time.Time

	// Frame time extremes within the current interval, in seconds.
	minFrame float64
	maxFrame float64

	memStats       runtime.MemStats
	lastTotalAlloc uint64
}

// NewProfiler creates a profiler that logs through the given logger.
// The flush interval defaults to 1 second.
//
// Parameters:
//   - log: destination for the periodic summaries
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(log *zap.Logger) *Profiler {
	if log == nil {
		log = zap.NewNop()
	}
	now := time.Now()
	return &Profiler{
		log:            log,
		updateInterval: time.Second,
		lastFlush:      now,
		lastFrame:      now,
	}
}

// Tick records one presented frame. When the flush interval has elapsed it
// logs frames per second, frame time extremes, heap usage, and allocation
// rate, then starts a new interval.
//
// Returns:
//   - bool: true if a summary was logged this tick
func (p *Profiler) Tick() bool {
	now := time.Now()
	frameTime := now.Sub(p.lastFrame).Seconds()
	p.lastFrame = now
	p.frameCount++
	if p.minFrame == 0 || frameTime < p.minFrame {
		p.minFrame = frameTime
	}
	if frameTime > p.maxFrame {
		p.maxFrame = frameTime
	}

	elapsed := now.Sub(p.lastFlush)
	if elapsed < p.updateInterval {
		return false
	}

	fps := float64(p.frameCount) / elapsed.Seconds()
	runtime.ReadMemStats(&p.memStats)
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	p.log.Info("frame stats",
		zap.Float64("fps", fps),
		zap.Float64("frame_min_ms", p.minFrame*1000),
		zap.Float64("frame_max_ms", p.maxFrame*1000),
		zap.Float64("heap_mb", float64(p.memStats.Alloc)/1024/1024),
		zap.Float64("alloc_rate_mb_s", allocRateMB),
		zap.Uint32("gc_count", p.memStats.NumGC),
	)

	p.frameCount = 0
	p.minFrame = 0
	p.maxFrame = 0
	p.lastFlush = now
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}

// SetUpdateInterval changes how often summaries are logged.
//
// Parameters:
//   - interval: the new flush interval; non-positive values are ignored
func (p *Profiler) SetUpdateInterval(interval time.Duration) {
	if interval > 0 {
		p.updateInterval = interval
	}
}
