package vkdriver

import (
	"github.com/andewx/dieselrhi"
	vk "github.com/vulkan-go/vulkan"
)

// InstanceExtensions lists the instance extensions available on the platform.
func InstanceExtensions() ([]string, error) {
	var count uint32
	ret := vk.EnumerateInstanceExtensionProperties("", &count, nil)
	if ret != vk.Success {
		return nil, dieselrhi.NewOpError("enumerate instance extensions", ret)
	}
	list := make([]vk.ExtensionProperties, count)
	ret = vk.EnumerateInstanceExtensionProperties("", &count, list)
	if ret != vk.Success {
		return nil, dieselrhi.NewOpError("enumerate instance extensions", ret)
	}
	names := make([]string, 0, count)
	for _, ext := range list[:count] {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, nil
}

// DeviceExtensions lists the extensions gpu supports.
func DeviceExtensions(gpu vk.PhysicalDevice) ([]string, error) {
	var count uint32
	ret := vk.EnumerateDeviceExtensionProperties(gpu, "", &count, nil)
	if ret != vk.Success {
		return nil, dieselrhi.NewOpError("enumerate device extensions", ret)
	}
	list := make([]vk.ExtensionProperties, count)
	ret = vk.EnumerateDeviceExtensionProperties(gpu, "", &count, list)
	if ret != vk.Success {
		return nil, dieselrhi.NewOpError("enumerate device extensions", ret)
	}
	names := make([]string, 0, count)
	for _, ext := range list[:count] {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, nil
}

// ValidationLayers lists the instance layers available on the platform.
func ValidationLayers() ([]string, error) {
	var count uint32
	ret := vk.EnumerateInstanceLayerProperties(&count, nil)
	if ret != vk.Success {
		return nil, dieselrhi.NewOpError("enumerate layers", ret)
	}
	list := make([]vk.LayerProperties, count)
	ret = vk.EnumerateInstanceLayerProperties(&count, list)
	if ret != vk.Success {
		return nil, dieselrhi.NewOpError("enumerate layers", ret)
	}
	names := make([]string, 0, count)
	for _, layer := range list[:count] {
		layer.Deref()
		names = append(names, vk.ToString(layer.LayerName[:]))
	}
	return names, nil
}

func queueFamilies(gpu vk.PhysicalDevice) []dieselrhi.QueueFamily {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, props)
	families := make([]dieselrhi.QueueFamily, 0, count)
	for _, p := range props[:count] {
		p.Deref()
		families = append(families, dieselrhi.QueueFamily{
			Flags:              p.QueueFlags,
			Count:              p.QueueCount,
			TimestampValidBits: p.TimestampValidBits,
		})
	}
	return families
}

func memoryProperties(gpu vk.PhysicalDevice) dieselrhi.MemoryProperties {
	var props vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(gpu, &props)
	props.Deref()
	var out dieselrhi.MemoryProperties
	for i := uint32(0); i < props.MemoryTypeCount; i++ {
		t := props.MemoryTypes[i]
		t.Deref()
		out.Types = append(out.Types, dieselrhi.MemoryType{Flags: t.PropertyFlags, HeapIndex: t.HeapIndex})
	}
	for i := uint32(0); i < props.MemoryHeapCount; i++ {
		h := props.MemoryHeaps[i]
		h.Deref()
		out.Heaps = append(out.Heaps, dieselrhi.MemoryHeap{Size: uint64(h.Size), Flags: h.Flags})
	}
	return out
}

func describe(index int, gpu vk.PhysicalDevice) dieselrhi.PhysicalDeviceInfo {
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(gpu, &props)
	props.Deref()
	limits := props.Limits
	limits.Deref()

	exts, err := DeviceExtensions(gpu)
	if err != nil {
		dieselrhi.Logger().Warn("vulkan: device extension enumeration failed", "gpu", index, "err", err)
	}
	return dieselrhi.PhysicalDeviceInfo{
		Index:         index,
		Name:          vk.ToString(props.DeviceName[:]),
		VendorID:      props.VendorID,
		DeviceID:      props.DeviceID,
		Type:          props.DeviceType,
		APIVersion:    props.ApiVersion,
		DriverVersion: props.DriverVersion,
		Limits: dieselrhi.DeviceLimits{
			MaxBoundDescriptorSets:                limits.MaxBoundDescriptorSets,
			MaxDescriptorSetSamplers:              limits.MaxDescriptorSetSamplers,
			MaxDescriptorSetUniformBuffers:        limits.MaxDescriptorSetUniformBuffers,
			MaxDescriptorSetUniformBuffersDynamic: limits.MaxDescriptorSetUniformBuffersDynamic,
			MaxDescriptorSetStorageBuffers:        limits.MaxDescriptorSetStorageBuffers,
			MaxDescriptorSetStorageBuffersDynamic: limits.MaxDescriptorSetStorageBuffersDynamic,
			MaxDescriptorSetSampledImages:         limits.MaxDescriptorSetSampledImages,
			MaxDescriptorSetStorageImages:         limits.MaxDescriptorSetStorageImages,
			MaxDescriptorSetInputAttachments:      limits.MaxDescriptorSetInputAttachments,
			MaxMemoryAllocationCount:              limits.MaxMemoryAllocationCount,
			NonCoherentAtomSize:                   uint64(limits.NonCoherentAtomSize),
			BufferImageGranularity:                uint64(limits.BufferImageGranularity),
			MinUniformBufferOffsetAlignment:       uint64(limits.MinUniformBufferOffsetAlignment),
		},
		Memory:        memoryProperties(gpu),
		QueueFamilies: queueFamilies(gpu),
		Extensions:    exts,
	}
}
