package platform

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/beeep"

	"platformbridge/internal/logger"
)

// DesktopNotifier shows notifications through the desktop notification
// service. Channels must be registered before they can be posted to.
type DesktopNotifier struct {
	notify func(title, message string, icon any) error

	mu       sync.RWMutex
	channels map[string]NotificationChannel
}

// NewDesktopNotifier creates a notifier backed by beeep.
func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{
		notify:   beeep.Notify,
		channels: make(map[string]NotificationChannel),
	}
}

// CreateChannel registers ch. Registering an existing ID replaces its
// settings.
func (n *DesktopNotifier) CreateChannel(ch NotificationChannel) error {
	if ch.ID == "" {
		return fmt.Errorf("notification channel ID must not be empty")
	}

	n.mu.Lock()
	n.channels[ch.ID] = ch
	n.mu.Unlock()

	log := logger.WithComponent("notifier")
	log.Info().
		Str("channel_id", ch.ID).
		Str("channel_name", ch.Name).
		Str("importance", ch.Importance).
		Msg("Notification channel registered")
	return nil
}

// Notify shows notification on its channel.
func (n *DesktopNotifier) Notify(ctx context.Context, notification Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.RLock()
	ch, ok := n.channels[notification.ChannelID]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("notification channel %q is not registered", notification.ChannelID)
	}

	if err := n.notify(notification.Title, notification.Message, ch.Icon); err != nil {
		return err
	}

	log := logger.WithComponent("notifier")
	log.Debug().
		Int("id", notification.ID).
		Str("channel_id", ch.ID).
		Str("title", notification.Title).
		Msg("Notification shown")
	return nil
}
