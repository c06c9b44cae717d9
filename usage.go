package dieselrhi

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Duration decodes TOML strings such as "200ms" into a time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "duration %q", string(text))
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ShaderPaths names the compiled SPIR-V stages a host loads at startup.
type ShaderPaths struct {
	Vertex   string `toml:"vertex"`
	Fragment string `toml:"fragment"`
}

// Config describes how the RHI is brought up. It is usually read from a TOML file:
//
//	title = "dieselview"
//	back_buffers = 3
//	vsync = true
//	pixel_format = "B8G8R8A8"
//	fence_timeout = "200ms"
//
//	[shaders]
//	vertex = "shaders/triangle.vert.spv"
//	fragment = "shaders/triangle.frag.spv"
type Config struct {
	Title              string      `toml:"title"`
	Width              int         `toml:"width"`
	Height             int         `toml:"height"`
	BackBuffers        int         `toml:"back_buffers"`
	VSync              bool        `toml:"vsync"`
	PixelFormat        string      `toml:"pixel_format"`
	DepthFormat        string      `toml:"depth_format"`
	PreferredVendor    uint32      `toml:"preferred_vendor"`
	Validation         bool        `toml:"validation"`
	ValidationLayers   []string    `toml:"validation_layers"`
	InstanceExtensions []string    `toml:"instance_extensions"`
	DeviceExtensions   []string    `toml:"device_extensions"`
	FenceTimeout       Duration    `toml:"fence_timeout"`
	FenceRetryBudget   int         `toml:"fence_retry_budget"`
	DescriptorPoolSets int         `toml:"descriptor_pool_sets"`
	Shaders            ShaderPaths `toml:"shaders"`
}

func DefaultConfig() Config {
	return Config{
		Title:              "dieselrhi",
		Width:              1280,
		Height:             720,
		BackBuffers:        3,
		VSync:              true,
		PixelFormat:        "B8G8R8A8",
		DepthFormat:        "DepthStencil",
		ValidationLayers:   []string{"VK_LAYER_KHRONOS_validation"},
		DeviceExtensions:   []string{"VK_KHR_portability_subset"},
		FenceTimeout:       Duration{200 * time.Millisecond},
		FenceRetryBudget:   3,
		DescriptorPoolSets: 32,
	}
}

// ParseConfig decodes TOML on top of DefaultConfig, so omitted keys keep their defaults. Every
// decode failure is an ErrInvalidConfig: toml flattens errors returned by field decoders into its
// own message.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(ErrInvalidConfig, "parse config: %v", err)
	}
	return cfg, cfg.Validate()
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), errors.Wrapf(err, "read config %s", path)
	}
	return ParseConfig(data)
}

func (c Config) Validate() error {
	if c.BackBuffers <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "back_buffers must be positive, got %d", c.BackBuffers)
	}
	if _, ok := PixelFormatByName(c.PixelFormat); !ok {
		return errors.Wrapf(ErrInvalidConfig, "unknown pixel_format %q", c.PixelFormat)
	}
	if _, ok := PixelFormatByName(c.DepthFormat); !ok {
		return errors.Wrapf(ErrInvalidConfig, "unknown depth_format %q", c.DepthFormat)
	}
	if c.FenceTimeout.Duration <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "fence_timeout must be positive, got %s", c.FenceTimeout)
	}
	if c.FenceRetryBudget <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "fence_retry_budget must be positive, got %d", c.FenceRetryBudget)
	}
	if c.DescriptorPoolSets <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "descriptor_pool_sets must be positive, got %d", c.DescriptorPoolSets)
	}
	return nil
}

func (c Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
