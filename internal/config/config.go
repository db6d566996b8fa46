// Package config provides configuration management for the platform bridge.
package config

import "time"

// Config is the root configuration structure (Bridge.json).
type Config struct {
	Channels     ChannelsConfig     `json:"Channels"`
	HostLink     HostLinkConfig     `json:"HostLink"`
	Stream       StreamConfig       `json:"Stream"`
	Notification NotificationConfig `json:"Notification"`
	Platform     PlatformConfig     `json:"Platform"`
}

// ChannelsConfig names the method and event channels. Both sides of the link
// must agree on them.
type ChannelsConfig struct {
	Method string `json:"Method"`
	Event  string `json:"Event"`
}

// HostLinkConfig contains settings for the local websocket link to the host.
type HostLinkConfig struct {
	Address      string        `json:"Address"`
	Path         string        `json:"Path"`
	WriteTimeout time.Duration `json:"WriteTimeout"`
	ReadLimit    int64         `json:"ReadLimit"`
	SendQueue    int           `json:"SendQueue"` // outbound frames buffered per connection
}

// StreamConfig controls the sensor stream.
type StreamConfig struct {
	SimulatedInterval time.Duration `json:"SimulatedInterval"`
	SimulatedRange    float64       `json:"SimulatedRange"`
	SensorDelay       time.Duration `json:"SensorDelay"`
	ForceSimulated    bool          `json:"ForceSimulated"`
	IIORoot           string        `json:"IIORoot"`
}

// NotificationConfig describes the notification channel registered at startup.
type NotificationConfig struct {
	ChannelID   string `json:"ChannelID"`
	ChannelName string `json:"ChannelName"`
	Description string `json:"Description"`
	Importance  string `json:"Importance"`
	Icon        string `json:"Icon"`
}

// PlatformConfig points the platform readers at their sysfs roots.
type PlatformConfig struct {
	PowerSupplyRoot string `json:"PowerSupplyRoot"`
	DMIRoot         string `json:"DMIRoot"`
}

// Default channel names shared with the host application.
const (
	DefaultMethodChannel = "com.hongdroid.method_channel"
	DefaultEventChannel  = "com.hongdroid.event_channel"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Channels: ChannelsConfig{
			Method: DefaultMethodChannel,
			Event:  DefaultEventChannel,
		},
		HostLink: HostLinkConfig{
			Address:      "127.0.0.1:8765",
			Path:         "/bridge",
			WriteTimeout: 5 * time.Second,
			ReadLimit:    1 << 20,
			SendQueue:    256,
		},
		Stream: StreamConfig{
			SimulatedInterval: time.Second,
			SimulatedRange:    10.0,
			SensorDelay:       200 * time.Millisecond,
			IIORoot:           "/sys/bus/iio/devices",
		},
		Notification: NotificationConfig{
			ChannelID:   "flutter_channel",
			ChannelName: "Flutter Channel",
			Description: "Channel for Flutter notifications",
			Importance:  "default",
		},
		Platform: PlatformConfig{
			PowerSupplyRoot: "/sys/class/power_supply",
			DMIRoot:         "/sys/class/dmi/id",
		},
	}
}

// Merge applies non-zero values from other to this config.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Channels.Method != "" {
		c.Channels.Method = other.Channels.Method
	}
	if other.Channels.Event != "" {
		c.Channels.Event = other.Channels.Event
	}

	if other.HostLink.Address != "" {
		c.HostLink.Address = other.HostLink.Address
	}
	if other.HostLink.Path != "" {
		c.HostLink.Path = other.HostLink.Path
	}
	if other.HostLink.WriteTimeout != 0 {
		c.HostLink.WriteTimeout = other.HostLink.WriteTimeout
	}
	if other.HostLink.ReadLimit != 0 {
		c.HostLink.ReadLimit = other.HostLink.ReadLimit
	}
	if other.HostLink.SendQueue != 0 {
		c.HostLink.SendQueue = other.HostLink.SendQueue
	}

	if other.Stream.SimulatedInterval != 0 {
		c.Stream.SimulatedInterval = other.Stream.SimulatedInterval
	}
	if other.Stream.SimulatedRange != 0 {
		c.Stream.SimulatedRange = other.Stream.SimulatedRange
	}
	if other.Stream.SensorDelay != 0 {
		c.Stream.SensorDelay = other.Stream.SensorDelay
	}
	c.Stream.ForceSimulated = other.Stream.ForceSimulated
	if other.Stream.IIORoot != "" {
		c.Stream.IIORoot = other.Stream.IIORoot
	}

	c.Notification.Merge(other.Notification)

	if other.Platform.PowerSupplyRoot != "" {
		c.Platform.PowerSupplyRoot = other.Platform.PowerSupplyRoot
	}
	if other.Platform.DMIRoot != "" {
		c.Platform.DMIRoot = other.Platform.DMIRoot
	}
}

// Merge applies non-empty values from other.
func (n *NotificationConfig) Merge(other NotificationConfig) {
	if other.ChannelID != "" {
		n.ChannelID = other.ChannelID
	}
	if other.ChannelName != "" {
		n.ChannelName = other.ChannelName
	}
	if other.Description != "" {
		n.Description = other.Description
	}
	if other.Importance != "" {
		n.Importance = other.Importance
	}
	if other.Icon != "" {
		n.Icon = other.Icon
	}
}
