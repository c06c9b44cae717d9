package vkdriver

import (
	"log/slog"
	"testing"

	"github.com/andewx/dieselrhi"
	"github.com/stretchr/testify/assert"
	vk "github.com/vulkan-go/vulkan"
)

func TestSafeString(t *testing.T) {
	assert.Equal(t, "VK_KHR_surface\x00", safeString("VK_KHR_surface"))
	assert.Equal(t, "main\x00", safeString("main\x00"))
	assert.Equal(t, "\x00", safeString(""))
	assert.Equal(t, []string{"a\x00", "b\x00"}, safeStrings([]string{"a", "b\x00"}))
}

func TestBool32(t *testing.T) {
	assert.Equal(t, vk.Bool32(vk.True), bool32(true))
	assert.Equal(t, vk.Bool32(vk.False), bool32(false))
}

func TestDebugLevel(t *testing.T) {
	tests := []struct {
		flags vk.DebugReportFlagBits
		want  slog.Level
	}{
		{vk.DebugReportErrorBit, slog.LevelError},
		{vk.DebugReportErrorBit | vk.DebugReportWarningBit, slog.LevelError},
		{vk.DebugReportPerformanceWarningBit, slog.LevelWarn},
		{vk.DebugReportDebugBit, slog.LevelDebug},
		{vk.DebugReportInformationBit, slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, debugLevel(vk.DebugReportFlags(tt.flags)), "flags %#x", tt.flags)
	}
}

func TestHandleArenas(t *testing.T) {
	d := New()
	var fence vk.Fence
	h := put(d, &d.fences, fence)
	assert.NotEqual(t, dieselrhi.NullHandle, h)

	_, ok := take(d, &d.fences, h)
	assert.True(t, ok)
	_, ok = take(d, &d.fences, h)
	assert.False(t, ok, "a handle is released once")

	h2 := put(d, &d.fences, fence)
	assert.NotEqual(t, h, h2, "a reused slot gets a new generation")
	assert.Len(t, getAll(d, &d.fences, []dieselrhi.Handle{h2, h}), 2)
}
