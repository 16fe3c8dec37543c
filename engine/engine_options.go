package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kiln-gfx/kiln/common"
	"github.com/kiln-gfx/kiln/engine/descriptor"
	"github.com/kiln-gfx/kiln/engine/frame"
)

// Options holds the engine's tunable settings. The zero value of any field
// means "use the default"; options can also be loaded from a YAML file and
// combined with builder options, builder options winning.
type Options struct {
	// Title is the window title.
	Title string `yaml:"title"`

	// Width is the initial window width in pixels.
	Width int `yaml:"width"`

	// Height is the initial window height in pixels.
	Height int `yaml:"height"`

	// FramesInFlight is the size of the frame pacing ring.
	FramesInFlight int `yaml:"frames_in_flight"`

	// DescriptorCapacity is the bindless image table ceiling.
	DescriptorCapacity int `yaml:"descriptor_capacity"`

	// FenceTimeout bounds every frame fence wait. Exceeding it is treated
	// as a lost device. Zero means the default.
	FenceTimeout time.Duration `yaml:"fence_timeout"`

	// ClearColor is the RGBA clear color for the window pass.
	ClearColor [4]float32 `yaml:"clear_color"`
}

// DefaultFenceTimeout is the frame fence wait bound used when Options does
// not set one.
const DefaultFenceTimeout = 5 * time.Second

// withDefaults fills unset fields with the engine defaults.
func (o Options) withDefaults() Options {
	o.Title = common.Coalesce(o.Title, "Kiln")
	o.Width = common.Coalesce(o.Width, 1280)
	o.Height = common.Coalesce(o.Height, 720)
	o.FramesInFlight = common.Coalesce(o.FramesInFlight, frame.DefaultInFlight)
	o.DescriptorCapacity = common.Coalesce(o.DescriptorCapacity, descriptor.DefaultCapacity)
	o.FenceTimeout = common.Coalesce(o.FenceTimeout, DefaultFenceTimeout)
	if o.ClearColor == ([4]float32{}) {
		o.ClearColor = [4]float32{0.1, 0.1, 0.1, 1.0}
	}
	return o
}

// LoadOptions reads engine options from a YAML file.
//
// Parameters:
//   - path: the YAML file to read
//
// Returns:
//   - Options: the parsed options; unset fields keep their zero value
//   - error: an error if the file is unreadable or not valid YAML
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("engine: reading options file: %w", err)
	}
	var o Options
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Options{}, fmt.Errorf("engine: parsing options file %s: %w", path, err)
	}
	return o, nil
}
