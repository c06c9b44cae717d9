package dieselrhi

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// CommandBufferPool owns one driver command pool and every CommandBuffer allocated from it.
// Buffers freed by FreeUnusedCmdBuffers keep their Go object on the free list and get a new driver
// buffer when Create picks them up again.
type CommandBufferPool struct {
	driver Driver
	fences *FenceManager
	handle Handle
	family uint32

	used []*CommandBuffer
	free []*CommandBuffer

	submits uint64
}

func NewCommandBufferPool(driver Driver, fences *FenceManager, family uint32) (*CommandBufferPool, error) {
	h, err := driver.CreateCommandPool(family)
	if err != nil {
		return nil, Fatal("command pool", stageError(ErrCommandBufferAllocation, err, "create command pool"))
	}
	return &CommandBufferPool{
		driver: driver,
		fences: fences,
		handle: h,
		family: family,
	}, nil
}

func (p *CommandBufferPool) Handle() Handle {
	return p.handle
}

func (p *CommandBufferPool) UsedCount() int {
	return len(p.used)
}

func (p *CommandBufferPool) FreeCount() int {
	return len(p.free)
}

// Create allocates a buffer in ReadyForBegin, reusing a freed Go object when one is available.
func (p *CommandBufferPool) Create(isUpload bool) (*CommandBuffer, error) {
	var cmd *CommandBuffer
	if n := len(p.free); n > 0 {
		cmd = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		cmd = &CommandBuffer{pool: p, driver: p.driver}
	}
	cmd.upload = isUpload
	if err := cmd.allocate(); err != nil {
		p.free = append(p.free, cmd)
		return nil, err
	}
	p.used = append(p.used, cmd)
	return cmd, nil
}

// RefreshFenceStatus polls every submitted buffer except skip.
func (p *CommandBufferPool) RefreshFenceStatus(skip *CommandBuffer) {
	for _, cmd := range p.used {
		if cmd != skip {
			cmd.RefreshFenceStatus()
		}
	}
}

// FreeUnusedCmdBuffers releases buffers in ReadyForBegin that have not been submitted during the
// last maxIdle submits from this pool. Buffers in use by the caller are passed in keep.
func (p *CommandBufferPool) FreeUnusedCmdBuffers(maxIdle uint64, keep ...*CommandBuffer) int {
	freed := 0
	used := p.used[:0]
next:
	for _, cmd := range p.used {
		for _, k := range keep {
			if k == cmd {
				used = append(used, cmd)
				continue next
			}
		}
		if cmd.state == CmdReadyForBegin && p.submits-cmd.lastSubmit > maxIdle {
			cmd.FreeMemory()
			p.free = append(p.free, cmd)
			freed++
			continue
		}
		used = append(used, cmd)
	}
	p.used = used
	if freed > 0 {
		Logger().Debug("freed idle command buffers", "freed", freed, "used", len(p.used))
	}
	return freed
}

func (p *CommandBufferPool) Destroy() {
	for _, cmd := range p.used {
		cmd.FreeMemory()
	}
	p.used = nil
	p.free = nil
	if p.handle != NullHandle {
		p.driver.DestroyCommandPool(p.handle)
		p.handle = NullHandle
	}
}

// DefaultCmdBufferWait is the fence wait WaitForCmdBuffer uses when given zero.
const DefaultCmdBufferWait uint64 = 1_000_000_000

// CommandBufferManager hands out the active command buffer of a queue, where a frame is recorded,
// and an upload command buffer for transfers that must run before it. Pending uploads are always
// submitted ahead of the active buffer.
type CommandBufferManager struct {
	pool   *CommandBufferPool
	queue  *Queue
	fences *FenceManager

	active *CommandBuffer
	upload *CommandBuffer
}

// NewCommandBufferManager creates the pool for queue's family and begins a first active buffer.
func NewCommandBufferManager(driver Driver, fences *FenceManager, queue *Queue) (*CommandBufferManager, error) {
	pool, err := NewCommandBufferPool(driver, fences, queue.FamilyIndex())
	if err != nil {
		return nil, err
	}
	m := &CommandBufferManager{pool: pool, queue: queue, fences: fences}
	m.active, err = pool.Create(false)
	if err != nil {
		pool.Destroy()
		return nil, err
	}
	m.active.Begin()
	return m, nil
}

func (m *CommandBufferManager) Pool() *CommandBufferPool {
	return m.pool
}

func (m *CommandBufferManager) Queue() *Queue {
	return m.queue
}

func (m *CommandBufferManager) HasPendingActiveCmdBuffer() bool {
	return m.active != nil
}

func (m *CommandBufferManager) HasPendingUploadCmdBuffer() bool {
	return m.upload != nil
}

// GetActiveCmdBuffer submits a pending upload buffer, then returns the active buffer, beginning a
// new one if the last was submitted.
func (m *CommandBufferManager) GetActiveCmdBuffer() (*CommandBuffer, error) {
	if m.upload != nil {
		m.SubmitUploadCmdBuffer()
	}
	if m.active == nil {
		if err := m.NewActiveCommandBuffer(); err != nil {
			return nil, err
		}
	}
	return m.active, nil
}

// GetUploadCmdBuffer returns the pending upload buffer, or begins one. Completed upload buffers
// are reused before a new one is allocated.
func (m *CommandBufferManager) GetUploadCmdBuffer() (*CommandBuffer, error) {
	if m.upload != nil {
		return m.upload, nil
	}
	m.pool.RefreshFenceStatus(nil)
	for _, cmd := range m.pool.used {
		if cmd.upload && cmd.state == CmdReadyForBegin {
			m.upload = cmd
			break
		}
	}
	if m.upload == nil {
		cmd, err := m.pool.Create(true)
		if err != nil {
			return nil, err
		}
		m.upload = cmd
	}
	m.upload.Begin()
	return m.upload, nil
}

// SubmitUploadCmdBuffer ends and submits the upload buffer. A buffer never begun or already
// submitted is left alone. Either way the manager no longer holds a pending upload.
func (m *CommandBufferManager) SubmitUploadCmdBuffer(signal ...Handle) {
	cmd := m.upload
	if cmd == nil {
		return
	}
	m.upload = nil
	m.submit(cmd, signal)
}

// SubmitActiveCmdBuffer ends and submits the active buffer, signaling signal on completion.
func (m *CommandBufferManager) SubmitActiveCmdBuffer(signal ...Handle) {
	cmd := m.active
	if cmd == nil {
		return
	}
	m.active = nil
	m.submit(cmd, signal)
}

func (m *CommandBufferManager) submit(cmd *CommandBuffer, signal []Handle) {
	if cmd.IsSubmitted() || !cmd.HasBegun() {
		return
	}
	if !cmd.End() {
		cmd.dropSubmit()
		return
	}
	if err := m.queue.Submit(cmd, signal...); err != nil {
		Logger().Error("command buffer submit failed, frame dropped", "err", err)
	}
}

// NewActiveCommandBuffer begins a fresh active buffer, reusing a completed one when possible. Any
// active buffer still held is submitted first.
func (m *CommandBufferManager) NewActiveCommandBuffer() error {
	if m.active != nil {
		m.SubmitActiveCmdBuffer()
	}
	m.pool.RefreshFenceStatus(nil)
	for _, cmd := range m.pool.used {
		if !cmd.upload && cmd.state == CmdReadyForBegin {
			m.active = cmd
			break
		}
	}
	if m.active == nil {
		cmd, err := m.pool.Create(false)
		if err != nil {
			return err
		}
		m.active = cmd
	}
	m.active.Begin()
	return nil
}

// WaitForCmdBuffer blocks until cmd's fence signals or timeout nanoseconds pass (one second when
// zero), then refreshes the pool.
func (m *CommandBufferManager) WaitForCmdBuffer(cmd *CommandBuffer, timeout uint64) (bool, error) {
	if cmd == nil || !cmd.IsSubmitted() {
		return true, nil
	}
	if timeout == 0 {
		timeout = DefaultCmdBufferWait
	}
	ok, err := m.fences.WaitForFence(cmd.fence, timeout)
	if err != nil {
		return false, errors.Wrap(err, "wait for command buffer")
	}
	m.pool.RefreshFenceStatus(nil)
	return ok, nil
}

// FreeUnusedCmdBuffers frees idle buffers other than the active and upload ones.
func (m *CommandBufferManager) FreeUnusedCmdBuffers(maxIdle uint64) int {
	m.pool.RefreshFenceStatus(nil)
	return m.pool.FreeUnusedCmdBuffers(maxIdle, m.active, m.upload)
}

// Destroy waits for the queue to drain and releases the pool. Recording in progress is dropped.
func (m *CommandBufferManager) Destroy() {
	if ret := m.queue.WaitIdle(); isError(ret) && ret != vk.ErrorDeviceLost {
		Logger().Warn("queue wait idle failed", "result", int32(ret))
	}
	m.active = nil
	m.upload = nil
	m.pool.Destroy()
}
