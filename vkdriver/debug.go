package vkdriver

import (
	"context"
	"log/slog"
	"unsafe"

	"github.com/andewx/dieselrhi"
	vk "github.com/vulkan-go/vulkan"
)

const debugReportFlags = vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit

func debugLevel(flags vk.DebugReportFlags) slog.Level {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		return slog.LevelError
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		return slog.LevelWarn
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	dieselrhi.Logger().Log(context.Background(), debugLevel(flags), "vulkan: validation",
		"layer", pLayerPrefix,
		"code", messageCode,
		"object_type", int(objectType),
		"message", pMessage,
	)
	return vk.Bool32(vk.False)
}
