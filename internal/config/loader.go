package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"platformbridge/internal/logger"
)

// rawConfig mirrors Config with durations as strings ("1s", "200ms").
type rawConfig struct {
	Channels     ChannelsConfig     `json:"Channels"`
	HostLink     rawHostLinkConfig  `json:"HostLink"`
	Stream       rawStreamConfig    `json:"Stream"`
	Notification NotificationConfig `json:"Notification"`
	Platform     PlatformConfig     `json:"Platform"`
}

type rawHostLinkConfig struct {
	Address      string `json:"Address"`
	Path         string `json:"Path"`
	WriteTimeout string `json:"WriteTimeout"`
	ReadLimit    int64  `json:"ReadLimit"`
	SendQueue    int    `json:"SendQueue"`
}

type rawStreamConfig struct {
	SimulatedInterval string  `json:"SimulatedInterval"`
	SimulatedRange    float64 `json:"SimulatedRange"`
	SensorDelay       string  `json:"SensorDelay"`
	ForceSimulated    bool    `json:"ForceSimulated"`
	IIORoot           string  `json:"IIORoot"`
}

type rawLoggingConfig struct {
	Level      string `json:"Level"`
	FilePath   string `json:"FilePath"`
	Format     string `json:"Format"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	MaxAgeDays int    `json:"MaxAgeDays"`
	Compress   *bool  `json:"Compress"`
	Console    *bool  `json:"Console"`
}

// Load reads configuration from the specified file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from JSON bytes and merges it over the defaults.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	parsed, err := convertRawConfig(&raw)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Merge(parsed)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func convertRawConfig(raw *rawConfig) (*Config, error) {
	cfg := &Config{
		Channels:     raw.Channels,
		Notification: raw.Notification,
		Platform:     raw.Platform,
		HostLink: HostLinkConfig{
			Address:   raw.HostLink.Address,
			Path:      raw.HostLink.Path,
			ReadLimit: raw.HostLink.ReadLimit,
			SendQueue: raw.HostLink.SendQueue,
		},
		Stream: StreamConfig{
			SimulatedRange: raw.Stream.SimulatedRange,
			ForceSimulated: raw.Stream.ForceSimulated,
			IIORoot:        raw.Stream.IIORoot,
		},
	}

	var err error
	if cfg.HostLink.WriteTimeout, err = parseDuration("HostLink.WriteTimeout", raw.HostLink.WriteTimeout); err != nil {
		return nil, err
	}
	if cfg.Stream.SimulatedInterval, err = parseDuration("Stream.SimulatedInterval", raw.Stream.SimulatedInterval); err != nil {
		return nil, err
	}
	if cfg.Stream.SensorDelay, err = parseDuration("Stream.SensorDelay", raw.Stream.SensorDelay); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", field)
	}
	return d, nil
}

// Validate rejects configurations the bridge cannot run with.
func (c *Config) Validate() error {
	if c.Channels.Method == c.Channels.Event {
		return fmt.Errorf("method and event channels must differ, both are %q", c.Channels.Method)
	}
	if c.HostLink.SendQueue < 0 {
		return fmt.Errorf("HostLink.SendQueue must not be negative, got %d", c.HostLink.SendQueue)
	}
	if c.Stream.SimulatedRange < 0 {
		return fmt.Errorf("Stream.SimulatedRange must not be negative, got %v", c.Stream.SimulatedRange)
	}
	return nil
}

// LoadLogging reads logging configuration from the specified file path.
func LoadLogging(path string) (*logger.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read logging config file: %w", err)
	}
	return ParseLogging(data)
}

// ParseLogging parses logging configuration from JSON bytes.
func ParseLogging(data []byte) (*logger.Config, error) {
	var raw rawLoggingConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse logging config JSON: %w", err)
	}

	lc := logger.DefaultConfig()
	if raw.Level != "" {
		lc.Level = raw.Level
	}
	if raw.FilePath != "" {
		lc.FilePath = raw.FilePath
	}
	if raw.Format != "" {
		lc.Format = raw.Format
	}
	if raw.MaxSizeMB != 0 {
		lc.MaxSizeMB = raw.MaxSizeMB
	}
	if raw.MaxBackups != 0 {
		lc.MaxBackups = raw.MaxBackups
	}
	if raw.MaxAgeDays != 0 {
		lc.MaxAgeDays = raw.MaxAgeDays
	}
	if raw.Compress != nil {
		lc.Compress = *raw.Compress
	}
	if raw.Console != nil {
		lc.Console = *raw.Console
	}
	return &lc, nil
}

// LoadSplit loads Bridge.json and Logging.json.
func LoadSplit(configPath, loggingPath string) (*Config, *logger.Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	lc, err := LoadLogging(loggingPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load logging config: %w", err)
	}

	return cfg, lc, nil
}
