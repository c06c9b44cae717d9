package vkdriver

import (
	"github.com/andewx/dieselrhi"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

func (d *Driver) AvailableInstanceExtensions() ([]string, error) {
	return InstanceExtensions()
}

func (d *Driver) AvailableLayers() ([]string, error) {
	return ValidationLayers()
}

func (d *Driver) CreateInstance(info dieselrhi.InstanceCreateInfo) error {
	if d.instance != nil {
		return errors.New("vulkan: instance already created")
	}
	extensions := safeStrings(info.Extensions)
	layers := safeStrings(info.Layers)
	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         info.APIVersion,
			ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
			PApplicationName:   safeString(info.AppName),
			PEngineName:        safeString(info.EngineName),
		},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}, nil, &instance)
	if ret != vk.Success {
		return dieselrhi.NewOpError("create instance", ret)
	}
	d.instance = instance
	if err := vk.InitInstance(instance); err != nil {
		return errors.Wrap(err, "vulkan: init instance")
	}
	dieselrhi.Logger().Info("vulkan: instance created", "extensions", len(extensions), "layers", len(layers))

	if info.Debug {
		ret := vk.CreateDebugReportCallback(instance, &vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(debugReportFlags),
			PfnCallback: dbgCallbackFunc,
		}, nil, &d.debug)
		if ret != vk.Success {
			dieselrhi.Logger().Warn("vulkan: debug report callback unavailable", "err", dieselrhi.NewError(ret))
		} else {
			dieselrhi.Logger().Info("vulkan: debug report callback enabled")
		}
	}
	return nil
}

func (d *Driver) DestroyInstance() {
	if d.instance == nil {
		return
	}
	if d.debug != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(d.instance, d.debug, nil)
		d.debug = vk.NullDebugReportCallback
	}
	vk.DestroyInstance(d.instance, nil)
	d.instance = nil
	d.gpus = nil
	d.infos = nil
}

func (d *Driver) EnumeratePhysicalDevices() (int, error) {
	var count uint32
	ret := vk.EnumeratePhysicalDevices(d.instance, &count, nil)
	if ret != vk.Success {
		return 0, dieselrhi.NewOpError("enumerate physical devices", ret)
	}
	gpus := make([]vk.PhysicalDevice, count)
	ret = vk.EnumeratePhysicalDevices(d.instance, &count, gpus)
	if ret != vk.Success {
		return 0, dieselrhi.NewOpError("enumerate physical devices", ret)
	}
	d.gpus = gpus[:count]
	d.infos = make([]dieselrhi.PhysicalDeviceInfo, len(d.gpus))
	for i, gpu := range d.gpus {
		d.infos[i] = describe(i, gpu)
	}
	return len(d.gpus), nil
}

func (d *Driver) PhysicalDevice(index int) dieselrhi.PhysicalDeviceInfo {
	if index < 0 || index >= len(d.infos) {
		return dieselrhi.PhysicalDeviceInfo{Index: index}
	}
	return d.infos[index]
}

func (d *Driver) FormatProperties(gpu int, format vk.Format) dieselrhi.FormatProperties {
	if gpu < 0 || gpu >= len(d.gpus) {
		return dieselrhi.FormatProperties{}
	}
	var props vk.FormatProperties
	vk.GetPhysicalDeviceFormatProperties(d.gpus[gpu], format, &props)
	props.Deref()
	return dieselrhi.FormatProperties{
		Linear:  props.LinearTilingFeatures,
		Optimal: props.OptimalTilingFeatures,
		Buffer:  props.BufferFeatures,
	}
}

func (d *Driver) CreateDevice(info dieselrhi.DeviceCreateInfo) error {
	if info.PhysicalDevice < 0 || info.PhysicalDevice >= len(d.gpus) {
		return errors.Errorf("vulkan: no physical device %d", info.PhysicalDevice)
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(info.Queues))
	for i, q := range info.Queues {
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: q.FamilyIndex,
			QueueCount:       uint32(len(q.Priorities)),
			PQueuePriorities: q.Priorities,
		}
	}
	extensions := safeStrings(info.Extensions)
	layers := safeStrings(info.Layers)
	gpu := d.gpus[info.PhysicalDevice]
	var device vk.Device
	ret := vk.CreateDevice(gpu, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}, nil, &device)
	if ret != vk.Success {
		return dieselrhi.NewOpError("create device", ret)
	}
	d.gpu = gpu
	d.device = device
	return nil
}

func (d *Driver) DestroyDevice() {
	if d.device == nil {
		return
	}
	vk.DestroyDevice(d.device, nil)
	d.device = nil
	d.mu.Lock()
	d.queues = dieselrhi.Slots[vk.Queue]{}
	d.queueHandles = make(map[[2]uint32]dieselrhi.Handle)
	d.mu.Unlock()
}

func (d *Driver) DeviceWaitIdle() vk.Result {
	if d.device == nil {
		return vk.Success
	}
	return vk.DeviceWaitIdle(d.device)
}

func (d *Driver) GetQueue(family, index uint32) dieselrhi.Handle {
	key := [2]uint32{family, index}
	d.mu.RLock()
	h, ok := d.queueHandles[key]
	d.mu.RUnlock()
	if ok {
		return h
	}
	var queue vk.Queue
	vk.GetDeviceQueue(d.device, family, index, &queue)
	h = put(d, &d.queues, queue)
	d.mu.Lock()
	d.queueHandles[key] = h
	d.mu.Unlock()
	return h
}

func (d *Driver) QueueSubmit(queue dieselrhi.Handle, submits []dieselrhi.SubmitInfo, fence dieselrhi.Handle) vk.Result {
	infos := make([]vk.SubmitInfo, len(submits))
	for i, s := range submits {
		cmds := make([]vk.CommandBuffer, len(s.CommandBuffers))
		for j, c := range getAll(d, &d.commandBuffers, s.CommandBuffers) {
			cmds[j] = c.cmd
		}
		wait := getAll(d, &d.semaphores, s.WaitSemaphores)
		signal := getAll(d, &d.semaphores, s.SignalSemaphores)
		infos[i] = vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(wait)),
			PWaitSemaphores:      wait,
			PWaitDstStageMask:    s.WaitStages,
			CommandBufferCount:   uint32(len(cmds)),
			PCommandBuffers:      cmds,
			SignalSemaphoreCount: uint32(len(signal)),
			PSignalSemaphores:    signal,
		}
	}
	return vk.QueueSubmit(get(d, &d.queues, queue), uint32(len(infos)), infos, get(d, &d.fences, fence))
}

func (d *Driver) QueueWaitIdle(queue dieselrhi.Handle) vk.Result {
	return vk.QueueWaitIdle(get(d, &d.queues, queue))
}
