package vulkan

import (
	"errors"
	"log/slog"
)

// ErrUnavailable is returned by Open when no Vulkan loader can be used.
var ErrUnavailable = errors.New("vulkan: loader unavailable")

const validationLayer = "VK_LAYER_KHRONOS_validation"

type Options struct {
	AppName string
	// Validation enables the Khronos validation layer when it is installed.
	Validation bool
	Logger     *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

func (o Options) appName() string {
	if o.AppName == "" {
		return "nbodyvk"
	}
	return o.AppName
}
