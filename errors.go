package dieselrhi

import (
	"fmt"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

var (
	ErrNoPhysicalDevice        = errors.New("no usable physical device")
	ErrDeviceCreation          = errors.New("logical device creation failed")
	ErrNoSurfaceFormat         = errors.New("no supported surface format")
	ErrNoPresentMode           = errors.New("no supported present mode")
	ErrNoPresentQueue          = errors.New("no queue family supports present")
	ErrNoSwapchainImages       = errors.New("swapchain has no images")
	ErrNoFormats               = errors.New("no supported pixel formats")
	ErrDescriptorLimits        = errors.New("descriptor usage exceeds device limits")
	ErrLayoutCreation          = errors.New("layout creation failed")
	ErrPipelineCreation        = errors.New("pipeline creation failed")
	ErrCommandBufferAllocation = errors.New("command buffer allocation failed")
	ErrFenceAllocation         = errors.New("fence allocation failed")
	ErrDeviceLost              = errors.New("device lost")
	ErrOutOfMemory             = errors.New("out of device memory")
	ErrNoMemoryType            = errors.New("no memory type matches the requested properties")
	ErrInvalidShader           = errors.New("invalid shader binary")
	ErrShaderLoad              = errors.New("shader load failed")
	ErrMissingExtension        = errors.New("required extension unavailable")
	ErrInvalidConfig           = errors.New("invalid configuration")
	ErrDescriptorMismatch      = errors.New("descriptor write does not match the layout")
	ErrPoolAllocation          = errors.New("descriptor set allocation failed")
)

// ResultError carries the driver result of a failed call.
type ResultError struct {
	Result vk.Result
	Op     string
}

func (e *ResultError) Error() string {
	msg := "vulkan: success"
	if err := vk.Error(e.Result); err != nil {
		msg = err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s (%d)", msg, e.Result)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Op, msg, e.Result)
}

func isError(ret vk.Result) bool {
	return ret != vk.Success
}

// NewError returns nil for vk.Success and a stack-carrying *ResultError otherwise.
func NewError(ret vk.Result) error {
	return NewOpError("", ret)
}

// NewOpError is NewError with the name of the failing call attached.
func NewOpError(op string, ret vk.Result) error {
	if !isError(ret) {
		return nil
	}
	return errors.WithStack(&ResultError{Result: ret, Op: op})
}

// stageError joins a sentinel with the failure that triggered it, so callers can match either.
func stageError(sentinel, cause error, op string) error {
	if cause == nil {
		return errors.Wrap(sentinel, op)
	}
	return errors.WithStack(fmt.Errorf("%s: %w: %w", op, sentinel, cause))
}

// ResultOf digs the driver result out of an error chain. It reports vk.Success when none is found.
func ResultOf(err error) vk.Result {
	var re *ResultError
	if errors.As(err, &re) {
		return re.Result
	}
	return vk.Success
}

// FatalError is the single "request process exit" signal. The core never exits on its own; the
// host decides what to do with it.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func (e *FatalError) Cause() error { return e.Err }

// Fatal logs err against stage and wraps it as a FatalError. Finalizers run first, mirroring the
// cleanup a caller would otherwise skip. Fatal returns nil when err is nil, and err itself when it
// is already fatal.
func Fatal(stage string, err error, finalizers ...func()) error {
	if err == nil {
		return nil
	}
	for _, fn := range finalizers {
		fn()
	}
	if IsFatal(err) {
		return err
	}
	attrs := []any{"stage", stage, "err", err}
	if ret := ResultOf(err); ret != vk.Success {
		attrs = append(attrs, "result", int32(ret))
	}
	Logger().Error("fatal", attrs...)
	return &FatalError{Stage: stage, Err: err}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
