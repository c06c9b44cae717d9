package dieselrhi

// Window is the host window the RHI presents into.
type Window interface {
	// GetRequiredInstanceExtensions lists the instance extensions surface creation needs.
	GetRequiredInstanceExtensions() []string
	// CreateSurface creates a presentation surface for instance and returns its raw handle.
	CreateSurface(instance interface{}) (uintptr, error)
	// GetWidth and GetHeight report the framebuffer size in pixels. Zero while minimized.
	GetWidth() int
	GetHeight() int
	GetTitle() string
}

func windowExtent(w Window) Extent2D {
	width, height := w.GetWidth(), w.GetHeight()
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return Extent2D{Width: uint32(width), Height: uint32(height)}
}
