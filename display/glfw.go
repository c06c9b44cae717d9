// Package display hosts the RHI in a glfw window.
package display

import (
	"runtime"

	"github.com/andewx/dieselrhi"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

func init() {
	// glfw calls must come from the main thread.
	runtime.LockOSThread()
}

// Init initializes glfw and the Vulkan loader. It must be called on the main thread before any
// window or driver is created.
func Init() error {
	if err := glfw.Init(); err != nil {
		return errors.Wrap(err, "glfw init")
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return errors.New("glfw: vulkan loader not found")
	}
	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	if err := vk.Init(); err != nil {
		glfw.Terminate()
		return errors.Wrap(err, "vulkan init")
	}
	return nil
}

// Terminate shuts glfw down. Call it last, on the main thread.
func Terminate() {
	glfw.Terminate()
}

// Window is a glfw window without a client API, ready for a Vulkan surface.
type Window struct {
	win     *glfw.Window
	title   string
	resized bool
}

var _ dieselrhi.Window = (*Window)(nil)

func NewWindow(title string, width, height int) (*Window, error) {
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	win, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create window")
	}
	w := &Window{win: win, title: title}
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		w.resized = true
		dieselrhi.Logger().Debug("window resized", "width", width, "height", height)
	})
	return w, nil
}

func (w *Window) GetRequiredInstanceExtensions() []string {
	return w.win.GetRequiredInstanceExtensions()
}

func (w *Window) CreateSurface(instance interface{}) (uintptr, error) {
	return w.win.CreateWindowSurface(instance, nil)
}

func (w *Window) GetWidth() int {
	width, _ := w.win.GetFramebufferSize()
	return width
}

func (w *Window) GetHeight() int {
	_, height := w.win.GetFramebufferSize()
	return height
}

func (w *Window) GetTitle() string {
	return w.title
}

// TakeResized reports whether the framebuffer changed size since the last call.
func (w *Window) TakeResized() bool {
	r := w.resized
	w.resized = false
	return r
}

func (w *Window) ShouldClose() bool {
	return w.win.ShouldClose()
}

// PollEvents processes pending window events. While the window is minimized it blocks until an
// event arrives instead.
func (w *Window) PollEvents() {
	if w.GetWidth() == 0 || w.GetHeight() == 0 {
		glfw.WaitEvents()
		return
	}
	glfw.PollEvents()
}

func (w *Window) Destroy() {
	if w.win != nil {
		w.win.Destroy()
		w.win = nil
	}
}
