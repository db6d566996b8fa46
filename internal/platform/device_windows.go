//go:build windows

package platform

import (
	"context"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/yusufpapurcu/wmi"
)

type win32ComputerSystem struct {
	Manufacturer string
	Model        string
}

// NewDeviceReader creates the platform device reader. The model is read from
// Win32_ComputerSystem; dmiRoot is unused on Windows.
func NewDeviceReader(_ string) DeviceReader {
	return &HostDevice{
		modelFunc: func(_ context.Context) (string, error) {
			var dst []win32ComputerSystem
			if err := wmi.Query("SELECT Manufacturer, Model FROM Win32_ComputerSystem", &dst); err != nil {
				return "", err
			}
			if len(dst) == 0 {
				return "", nil
			}
			return joinModel(dst[0].Manufacturer, dst[0].Model), nil
		},
		infoFunc: host.InfoWithContext,
	}
}
