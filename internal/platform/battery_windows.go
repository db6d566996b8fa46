//go:build windows

package platform

import (
	"context"
	"fmt"

	"github.com/yusufpapurcu/wmi"
)

type win32Battery struct {
	EstimatedChargeRemaining *uint16
}

// WMIBattery reads the charge from Win32_Battery.
type WMIBattery struct{}

// NewBatteryReader creates the platform battery reader. root is unused on
// Windows.
func NewBatteryReader(_ string) BatteryReader {
	return &WMIBattery{}
}

// BatteryLevel returns EstimatedChargeRemaining of the first battery.
func (b *WMIBattery) BatteryLevel(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var dst []win32Battery
	if err := wmi.Query("SELECT EstimatedChargeRemaining FROM Win32_Battery", &dst); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, bat := range dst {
		if bat.EstimatedChargeRemaining != nil {
			return int(*bat.EstimatedChargeRemaining), nil
		}
	}
	return 0, ErrUnavailable
}
