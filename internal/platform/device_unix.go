//go:build !windows

package platform

import (
	"context"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/host"
)

// NewDeviceReader creates the platform device reader. dmiRoot is the sysfs
// DMI id directory (/sys/class/dmi/id).
func NewDeviceReader(dmiRoot string) DeviceReader {
	return &HostDevice{
		modelFunc: func(_ context.Context) (string, error) {
			return joinModel(
				readTrimmed(filepath.Join(dmiRoot, "sys_vendor")),
				readTrimmed(filepath.Join(dmiRoot, "product_name")),
			), nil
		},
		infoFunc: host.InfoWithContext,
	}
}
