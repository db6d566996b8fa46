// Package platform implements the native accessors the bridge exposes to the
// host: battery state, device metadata, desktop notifications and motion
// sensors.
package platform

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the platform cannot report a value.
var ErrUnavailable = errors.New("platform: value not available")

// BatteryReader reports the battery charge as a percentage. The value is
// passed through as the platform reports it.
type BatteryReader interface {
	BatteryLevel(ctx context.Context) (int, error)
}

// DeviceInfo describes the host device.
type DeviceInfo struct {
	Model   string
	Version string
}

// DeviceReader reports device metadata.
type DeviceReader interface {
	DeviceInfo(ctx context.Context) (DeviceInfo, error)
}

// Notification is a single user-visible notification.
type Notification struct {
	ID        int
	ChannelID string
	Title     string
	Message   string
}

// NotificationChannel groups notifications that share presentation settings.
type NotificationChannel struct {
	ID          string
	Name        string
	Description string
	Importance  string
	Icon        string
}

// Notifier shows notifications on a registered channel.
type Notifier interface {
	CreateChannel(ch NotificationChannel) error
	Notify(ctx context.Context, n Notification) error
}
