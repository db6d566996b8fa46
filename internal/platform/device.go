package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// HostDevice reports device metadata. The model comes from modelFunc, falling
// back to the OS platform name; the version is the OS platform version.
type HostDevice struct {
	modelFunc func(ctx context.Context) (string, error)
	infoFunc  func(ctx context.Context) (*host.InfoStat, error)
}

// DeviceInfo returns the model as "<manufacturer> <model>" and the OS version.
func (d *HostDevice) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	info, err := d.infoFunc(ctx)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to read host info: %w", err)
	}

	model := ""
	if d.modelFunc != nil {
		model, err = d.modelFunc(ctx)
		if err != nil {
			model = ""
		}
	}
	if model == "" {
		model = strings.TrimSpace(info.Platform + " " + info.KernelArch)
	}

	version := info.PlatformVersion
	if version == "" {
		version = info.KernelVersion
	}

	return DeviceInfo{Model: model, Version: version}, nil
}

func joinModel(manufacturer, model string) string {
	manufacturer = strings.TrimSpace(manufacturer)
	model = strings.TrimSpace(model)
	switch {
	case manufacturer == "":
		return model
	case model == "":
		return manufacturer
	default:
		return manufacturer + " " + model
	}
}
