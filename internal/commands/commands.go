// Package commands implements the method-channel commands the bridge serves.
package commands

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"platformbridge/internal/dispatch"
	"platformbridge/internal/logger"
	"platformbridge/internal/platform"
)

// Command names shared with the host application.
const (
	GetBatteryLevel  = "getBatteryLevel"
	GetDeviceInfo    = "getDeviceInfo"
	ShowNotification = "showNotification"
)

const (
	defaultTitle   = "Default Title"
	defaultMessage = "Default Message"

	// notificationIDs bounds the random notification id.
	notificationIDs = 1000
)

// Deps are the platform accessors the commands read from.
type Deps struct {
	Battery  platform.BatteryReader
	Device   platform.DeviceReader
	Notifier platform.Notifier

	// ChannelID returns the notification channel to post on. It is read on
	// every call so a reloaded configuration takes effect immediately.
	ChannelID func() string

	// Rand supplies notification ids; nil uses a time-seeded source.
	Rand *rand.Rand
}

// Register adds every command to reg.
func Register(reg *dispatch.Registry, deps Deps) error {
	rnd := deps.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	handlers := []dispatch.Handler{
		&batteryLevel{battery: deps.Battery},
		&deviceInfo{device: deps.Device},
		&showNotification{notifier: deps.Notifier, channelID: deps.ChannelID, rnd: rnd},
	}
	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return fmt.Errorf("failed to register %s: %w", h.Name(), err)
		}
	}
	return nil
}

type batteryLevel struct {
	battery platform.BatteryReader
}

func (h *batteryLevel) Name() string { return GetBatteryLevel }

// Handle returns the battery percentage. The value is not clamped.
func (h *batteryLevel) Handle(ctx context.Context, _ dispatch.Arguments) (any, error) {
	level, err := h.battery.BatteryLevel(ctx)
	if err != nil || level < 0 {
		if err != nil {
			log := logger.WithComponent("commands")
			log.Debug().Err(err).Msg("Battery level unavailable")
		}
		return nil, dispatch.Unavailable("Battery level not available.")
	}
	return level, nil
}

type deviceInfo struct {
	device platform.DeviceReader
}

func (h *deviceInfo) Name() string { return GetDeviceInfo }

// Handle returns a map with "model" and "version" keys selected by the
// includeModel and includeVersion arguments. With both false the map is empty
// and the device is not queried.
func (h *deviceInfo) Handle(ctx context.Context, args dispatch.Arguments) (any, error) {
	includeModel := args.Bool("includeModel", true)
	includeVersion := args.Bool("includeVersion", true)

	result := make(map[string]string)
	if !includeModel && !includeVersion {
		return result, nil
	}

	info, err := h.device.DeviceInfo(ctx)
	if err != nil {
		return nil, dispatch.Errorf("Failed to get device info: %v", err)
	}
	if includeModel {
		result["model"] = info.Model
	}
	if includeVersion {
		result["version"] = info.Version
	}
	return result, nil
}

type showNotification struct {
	notifier  platform.Notifier
	channelID func() string

	mu  sync.Mutex
	rnd *rand.Rand
}

func (h *showNotification) Name() string { return ShowNotification }

// Handle posts a notification built from the title and message arguments.
func (h *showNotification) Handle(ctx context.Context, args dispatch.Arguments) (any, error) {
	n := platform.Notification{
		ID:      h.nextID(),
		Title:   args.String("title", defaultTitle),
		Message: args.String("message", defaultMessage),
	}
	if h.channelID != nil {
		n.ChannelID = h.channelID()
	}

	if err := h.notifier.Notify(ctx, n); err != nil {
		return nil, dispatch.Errorf("Failed to show notification: %v", err)
	}
	return nil, nil
}

func (h *showNotification) nextID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rnd.Intn(notificationIDs)
}
