//go:build !windows

package platform

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
)

// SysfsBattery reads the charge of the first battery under a power_supply
// class directory (/sys/class/power_supply).
type SysfsBattery struct {
	root string
}

// NewBatteryReader creates the platform battery reader. root is the sysfs
// power_supply directory.
func NewBatteryReader(root string) BatteryReader {
	return &SysfsBattery{root: root}
}

// BatteryLevel returns the capacity of the first supply whose type is Battery.
func (b *SysfsBattery) BatteryLevel(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	supplies, err := filepath.Glob(filepath.Join(b.root, "*", "type"))
	if err != nil {
		return 0, fmt.Errorf("failed to list power supplies: %w", err)
	}
	sort.Strings(supplies)

	for _, typePath := range supplies {
		if readTrimmed(typePath) != "Battery" {
			continue
		}
		capacity := readTrimmed(filepath.Join(filepath.Dir(typePath), "capacity"))
		if capacity == "" {
			continue
		}
		level, err := strconv.Atoi(capacity)
		if err != nil {
			return 0, fmt.Errorf("%w: malformed capacity %q", ErrUnavailable, capacity)
		}
		return level, nil
	}
	return 0, ErrUnavailable
}
