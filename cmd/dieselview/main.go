// Command dieselview opens a window and runs the frame loop, optionally drawing with the shader
// pair named in the config file.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/andewx/dieselrhi"
	"github.com/andewx/dieselrhi/display"
	"github.com/andewx/dieselrhi/vkdriver"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

func main() {
	configPath := flag.String("config", "", "TOML config file; defaults are used when empty")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	dieselrhi.SetLogger(logger)

	if err := run(*configPath); err != nil {
		var fatal *dieselrhi.FatalError
		if errors.As(err, &fatal) {
			logger.Error("fatal", "stage", fatal.Stage, "result", int32(dieselrhi.ResultOf(err)), "err", fatal.Err)
		} else {
			logger.Error("dieselview failed", "err", err)
		}
		os.Exit(1)
	}
}

func loadConfig(path string) (dieselrhi.Config, error) {
	if path == "" {
		return dieselrhi.DefaultConfig(), nil
	}
	return dieselrhi.LoadConfig(path)
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := display.Init(); err != nil {
		return err
	}
	defer display.Terminate()

	window, err := display.NewWindow(cfg.Title, cfg.Width, cfg.Height)
	if err != nil {
		return err
	}
	defer window.Destroy()

	rhi, err := dieselrhi.NewRHI(cfg, vkdriver.New(), window)
	if err != nil {
		return err
	}
	if err := rhi.Init(); err != nil {
		return err
	}
	defer rhi.Shutdown()

	info := rhi.Device().Info()
	slog.Info("device ready", "name", info.Name, "images", rhi.Swapchain().ImageCount())

	draw, err := newTriangle(rhi)
	if err != nil {
		return err
	}

	for !window.ShouldClose() {
		window.PollEvents()
		if window.TakeResized() {
			if err := rhi.RecreateSwapchain(); err != nil {
				return err
			}
		}
		if err := rhi.Frame(draw); err != nil {
			if dieselrhi.IsFatal(err) {
				return err
			}
			slog.Warn("frame failed", "frame", rhi.FrameCount(), "err", err)
		}
	}
	slog.Info("exiting", "frames", rhi.FrameCount(), "dropped", rhi.DroppedFrames())
	return nil
}

// newTriangle returns a record callback drawing three vertices with the configured shaders, or nil
// when no shaders are configured. The vertex shader is expected to build positions from
// gl_VertexIndex.
func newTriangle(rhi *dieselrhi.RHI) (func(*dieselrhi.CommandBuffer, dieselrhi.FrameInfo) error, error) {
	paths := rhi.Config().Shaders
	if paths.Vertex == "" || paths.Fragment == "" {
		return nil, nil
	}
	shader, err := rhi.Device().CreateShader("triangle", map[vk.ShaderStageFlagBits]string{
		vk.ShaderStageVertexBit:   paths.Vertex,
		vk.ShaderStageFragmentBit: paths.Fragment,
	})
	if err != nil {
		return nil, err
	}
	if shader.VertexInputs().Len() > 0 {
		return nil, errors.Errorf("shader %s reads vertex inputs; dieselview draws without vertex buffers", paths.Vertex)
	}
	state := dieselrhi.DefaultPipelineStateInfo()
	vertex := dieselrhi.NewVertexInputDeclare()
	return func(cmd *dieselrhi.CommandBuffer, _ dieselrhi.FrameInfo) error {
		// Looked up per frame: a swapchain format change rebuilds the render pass and drops the cache.
		pipeline, err := rhi.CreatePipeline(&state, shader, vertex)
		if err != nil {
			return err
		}
		cmd.BindPipeline(pipeline)
		cmd.Draw(3, 1, 0, 0)
		return nil
	}, nil
}
