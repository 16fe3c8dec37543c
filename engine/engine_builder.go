package engine

import (
	"go.uber.org/zap"

	"github.com/kiln-gfx/kiln/engine/gpu"
	"github.com/kiln-gfx/kiln/engine/swapchain"
	"github.com/kiln-gfx/kiln/engine/window"
)

// EngineBuilderOption is a function that modifies the engine configuration
// before startup.
type EngineBuilderOption func(*engineImpl)

// WithLogger sets the engine's logger. Defaults to a no-op logger.
//
// Parameters:
//   - log: the zap logger to use
//
// Returns:
//   - EngineBuilderOption: the option to apply
func WithLogger(log *zap.Logger) EngineBuilderOption {
	return func(e *engineImpl) {
		if log != nil {
			e.log = log
		}
	}
}

// WithOptions sets the engine options wholesale, typically loaded from a
// config file via LoadOptions. Zero-valued fields keep their defaults.
//
// Parameters:
//   - opts: the options to apply
//
// Returns:
//   - EngineBuilderOption: the option to apply
func WithOptions(opts Options) EngineBuilderOption {
	return func(e *engineImpl) {
		e.opts = opts
	}
}

// WithWindow supplies an existing window instead of letting the engine
// create one.
//
// Parameters:
//   - w: the window to render into
//
// Returns:
//   - EngineBuilderOption: the option to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engineImpl) {
		e.window = w
	}
}

// WithProfiler enables per-frame pacing and memory summaries, logged
// through the engine's logger once per second.
//
// Returns:
//   - EngineBuilderOption: the option to apply
func WithProfiler() EngineBuilderOption {
	return func(e *engineImpl) {
		e.profile = true
	}
}

// WithDevice supplies an existing device and surface instead of letting the
// engine create a wgpu device. A nil surface yields a headless engine that
// skips swapchain work. If the device also records commands, it is used as
// the frame recorder.
//
// Parameters:
//   - dev: the device to use
//   - surface: the presentation surface, or nil for headless
//
// Returns:
//   - EngineBuilderOption: the option to apply
func WithDevice(dev gpu.Device, surface gpu.Surface) EngineBuilderOption {
	return func(e *engineImpl) {
		e.dev = dev
		if surface != nil {
			e.bridge = swapchain.NewBridge(surface)
		}
	}
}
