package dieselrhi

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

type FenceState uint8

const (
	FenceNotReady FenceState = iota
	FenceSignaled
)

func (s FenceState) String() string {
	if s == FenceSignaled {
		return "Signaled"
	}
	return "NotReady"
}

// Fence wraps a driver fence with its last known state, so polling a fence already seen signaled
// costs no driver call.
type Fence struct {
	handle   Handle
	state    FenceState
	owner    *FenceManager
	timeouts int
}

func (f *Fence) Handle() Handle {
	return f.handle
}

func (f *Fence) State() FenceState {
	return f.state
}

func (f *Fence) IsSignaled() bool {
	return f.state == FenceSignaled
}

// FenceManager keeps track of fences which in turn are used to keep track of GPU progress. A fence
// is either in use or on the free list. Only the manager destroys fences; callers hand them back
// with ReleaseFence.
//
// The manager is not thread-safe. Each frame-loop context owns its own.
type FenceManager struct {
	driver      Driver
	retryBudget int
	free        []*Fence
	used        []*Fence
}

// NewFenceManager creates a manager. retryBudget is the number of consecutive timeouts on one fence
// after which WaitForFence reports the device as lost.
func NewFenceManager(driver Driver, retryBudget int) *FenceManager {
	if retryBudget <= 0 {
		retryBudget = 3
	}
	return &FenceManager{
		driver:      driver,
		retryBudget: retryBudget,
	}
}

// CreateFence returns a fence from the free list, or a new one when the list is empty.
func (m *FenceManager) CreateFence(signaled bool) (*Fence, error) {
	if n := len(m.free); n > 0 {
		f := m.free[n-1]
		m.free = m.free[:n-1]
		m.used = append(m.used, f)
		f.timeouts = 0
		if signaled {
			f.state = FenceSignaled
		}
		return f, nil
	}
	h, err := m.driver.CreateFence(signaled)
	if err != nil {
		return nil, Fatal("create fence", stageError(ErrFenceAllocation, err, "create fence"))
	}
	f := &Fence{handle: h, owner: m}
	if signaled {
		f.state = FenceSignaled
	}
	m.used = append(m.used, f)
	return f, nil
}

// WaitForFence blocks until the fence signals or timeout nanoseconds pass. A timeout returns false
// and leaves the state alone; once the same fence has timed out retryBudget times in a row the
// error is ErrDeviceLost. Other driver failures are logged and reported as false.
func (m *FenceManager) WaitForFence(f *Fence, timeout uint64) (bool, error) {
	ret := m.driver.WaitForFence(f.handle, timeout)
	switch ret {
	case vk.Success:
		f.state = FenceSignaled
		f.timeouts = 0
		return true, nil
	case vk.Timeout:
		f.timeouts++
		Logger().Warn("fence wait timed out", "timeouts", f.timeouts, "budget", m.retryBudget)
		if f.timeouts >= m.retryBudget {
			return false, errors.Wrapf(ErrDeviceLost, "fence timed out %d times in a row", f.timeouts)
		}
		return false, nil
	case vk.ErrorDeviceLost:
		Logger().Error("fence wait failed", "result", int32(ret))
		return false, stageError(ErrDeviceLost, NewOpError("vkWaitForFences", ret), "wait for fence")
	default:
		Logger().Warn("fence wait failed", "result", int32(ret))
		return false, nil
	}
}

// IsFenceSignaled answers from the cached state and polls the driver only while NotReady.
func (m *FenceManager) IsFenceSignaled(f *Fence) bool {
	if f.state == FenceSignaled {
		return true
	}
	return m.checkFenceState(f)
}

func (m *FenceManager) checkFenceState(f *Fence) bool {
	switch ret := m.driver.GetFenceStatus(f.handle); ret {
	case vk.Success:
		f.state = FenceSignaled
		f.timeouts = 0
		return true
	case vk.NotReady:
	default:
		Logger().Warn("fence status query failed", "result", int32(ret))
	}
	return false
}

// ResetFence returns a signaled fence to NotReady. A fence already NotReady is left alone.
func (m *FenceManager) ResetFence(f *Fence) {
	if f.state == FenceNotReady {
		return
	}
	if ret := m.driver.ResetFence(f.handle); isError(ret) {
		Logger().Warn("fence reset failed", "result", int32(ret))
		return
	}
	f.state = FenceNotReady
}

// ReleaseFence resets the fence, moves it to the free list and clears the caller's reference.
func (m *FenceManager) ReleaseFence(pf **Fence) {
	f := *pf
	if f == nil {
		return
	}
	m.ResetFence(f)
	for i, u := range m.used {
		if u == f {
			m.used = append(m.used[:i], m.used[i+1:]...)
			m.free = append(m.free, f)
			break
		}
	}
	*pf = nil
}

// WaitAndReleaseFence is the per-frame idiom: wait unless already signaled, then release.
func (m *FenceManager) WaitAndReleaseFence(pf **Fence, timeout uint64) (bool, error) {
	f := *pf
	if f == nil {
		return true, nil
	}
	signaled := f.IsSignaled()
	var err error
	if !signaled {
		signaled, err = m.WaitForFence(f, timeout)
	}
	m.ReleaseFence(pf)
	return signaled, err
}

func (m *FenceManager) FreeCount() int {
	return len(m.free)
}

func (m *FenceManager) UsedCount() int {
	return len(m.used)
}

// Destroy destroys the free fences. Fences still in use mean GPU work may be in flight; they are
// reported and destroyed as well.
func (m *FenceManager) Destroy() {
	if len(m.used) > 0 {
		Logger().Warn("fence manager destroyed with fences in use", "used", len(m.used))
	}
	for _, f := range m.free {
		m.driver.DestroyFence(f.handle)
		f.handle = NullHandle
	}
	for _, f := range m.used {
		m.driver.DestroyFence(f.handle)
		f.handle = NullHandle
	}
	m.free = nil
	m.used = nil
}

// SemaphoreManager pools semaphores the same way FenceManager pools fences. A semaphore carries no
// state of its own; Put hands it back once the wait that consumed it has completed.
type SemaphoreManager struct {
	driver  Driver
	free    []Handle
	created int
}

func NewSemaphoreManager(driver Driver) *SemaphoreManager {
	return &SemaphoreManager{driver: driver}
}

func (m *SemaphoreManager) Get() (Handle, error) {
	if n := len(m.free); n > 0 {
		s := m.free[n-1]
		m.free = m.free[:n-1]
		return s, nil
	}
	s, err := m.driver.CreateSemaphore()
	if err != nil {
		return NullHandle, errors.Wrap(err, "create semaphore")
	}
	m.created++
	return s, nil
}

func (m *SemaphoreManager) Put(s Handle) {
	if s != NullHandle {
		m.free = append(m.free, s)
	}
}

// Discard destroys s instead of pooling it. A semaphore left signaled with nothing waiting on it
// must not be handed out again.
func (m *SemaphoreManager) Discard(s Handle) {
	if s == NullHandle {
		return
	}
	m.driver.DestroySemaphore(s)
	m.created--
}

func (m *SemaphoreManager) FreeCount() int {
	return len(m.free)
}

// Destroy destroys the pooled semaphores. Semaphores not returned with Put are reported.
func (m *SemaphoreManager) Destroy() {
	if out := m.created - len(m.free); out > 0 {
		Logger().Warn("semaphore manager destroyed with semaphores outstanding", "outstanding", out)
	}
	for _, s := range m.free {
		m.driver.DestroySemaphore(s)
	}
	m.free = nil
	m.created = 0
}
