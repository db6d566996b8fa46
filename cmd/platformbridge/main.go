// Package main is the entry point for the PlatformBridge application.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/benbjohnson/clock"

	"platformbridge/internal/channel"
	"platformbridge/internal/commands"
	"platformbridge/internal/config"
	"platformbridge/internal/dispatch"
	"platformbridge/internal/hostlink"
	"platformbridge/internal/logger"
	"platformbridge/internal/looper"
	"platformbridge/internal/platform"
	"platformbridge/internal/service"
	"platformbridge/internal/stream"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "conf/PlatformBridge/Bridge.json", "Path to bridge configuration file")
		loggingPath = flag.String("logging", "conf/PlatformBridge/Logging.json", "Path to logging configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("PlatformBridge %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// An absolute config path means we were started by a supervisor with an
	// arbitrary cwd: base dir is three levels up (base/conf/PlatformBridge/Bridge.json).
	const startupErrorLogDir = "log/PlatformBridge"

	if filepath.IsAbs(*configPath) {
		basePath := filepath.Dir(filepath.Dir(filepath.Dir(*configPath)))
		if err := os.Chdir(basePath); err != nil {
			service.ReportStartupError(service.Name, fmt.Errorf("failed to chdir to %s: %w", basePath, err))
			fmt.Fprintf(os.Stderr, "Failed to change directory to %s: %v\n", basePath, err)
			os.Exit(1)
		}
	}

	if service.NewService(nil).IsService() {
		logger.SetServiceMode(true)
	}

	cfg, lc, err := config.LoadSplit(*configPath, *loggingPath)
	if err != nil {
		fail(startupErrorLogDir, "Failed to load configuration", err)
	}

	if err := logger.Init(*lc); err != nil {
		fail(startupErrorLogDir, "Failed to initialize logger", err)
	}
	defer logger.Close()

	log := logger.WithComponent("main")
	log.Info().
		Str("version", version).
		Str("config", *configPath).
		Str("logging", *loggingPath).
		Msg("Starting PlatformBridge")

	svc := service.NewService(func(ctx context.Context) error {
		return run(ctx, cfg, *configPath, *loggingPath)
	})

	if err := svc.Run(context.Background()); err != nil {
		service.ReportStartupError(service.Name, err)
		log.Error().Err(err).Msg("Service exited with error")
		logger.Close()
		os.Exit(1)
	}

	log.Info().Msg("PlatformBridge stopped")
}

func fail(logDir, msg string, err error) {
	service.ReportStartupError(service.Name, err)
	service.WriteStartupErrorFile(logDir, err)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

// notificationState holds the notification channel currently in effect so a
// reloaded Bridge.json can switch it without restarting.
type notificationState struct {
	mu       sync.RWMutex
	cfg      config.NotificationConfig
	notifier platform.Notifier
}

func (n *notificationState) apply(nc config.NotificationConfig) error {
	err := n.notifier.CreateChannel(platform.NotificationChannel{
		ID:          nc.ChannelID,
		Name:        nc.ChannelName,
		Description: nc.Description,
		Importance:  nc.Importance,
		Icon:        nc.Icon,
	})
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.cfg = nc
	n.mu.Unlock()
	return nil
}

func (n *notificationState) channelID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cfg.ChannelID
}

// setupCommands registers the method-channel commands.
func setupCommands(cfg *config.Config, notifications *notificationState) (*dispatch.Dispatcher, error) {
	reg := dispatch.NewRegistry()
	err := commands.Register(reg, commands.Deps{
		Battery:   platform.NewBatteryReader(cfg.Platform.PowerSupplyRoot),
		Device:    platform.NewDeviceReader(cfg.Platform.DMIRoot),
		Notifier:  notifications.notifier,
		ChannelID: notifications.channelID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register commands: %w", err)
	}

	log := logger.WithComponent("main")
	log.Info().
		Strs("commands", reg.Names()).
		Msg("Commands registered")
	return dispatch.NewDispatcher(reg), nil
}

// setupWatchers creates hot-reload watchers for Bridge.json and Logging.json.
// Only the notification channel and logging settings are applied live; other
// Bridge.json changes take effect on restart. Returns a cleanup function
// that stops all started watchers.
func setupWatchers(notifications *notificationState, configPath, loggingPath string) func() {
	log := logger.WithComponent("main")
	var watcherMu sync.Mutex
	var cleanups []func()

	start := func(name string, w *config.FileWatcher, err error) {
		if err != nil {
			log.Warn().Err(err).Str("watcher", name).Msg("Failed to create watcher, hot reload disabled")
			return
		}
		if err := w.Start(); err != nil {
			log.Warn().Err(err).Str("watcher", name).Msg("Failed to start watcher")
			return
		}
		cleanups = append(cleanups, func() {
			log.Info().Str("watcher", name).Msg("Stopping watcher")
			if err := w.Stop(); err != nil {
				log.Error().Err(err).Str("watcher", name).Msg("Error stopping watcher")
			}
		})
	}

	bridgeWatcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		watcherMu.Lock()
		defer watcherMu.Unlock()

		if err := notifications.apply(newCfg.Notification); err != nil {
			log.Error().Err(err).Msg("Failed to update notification channel")
			return
		}
		log.Info().Str("channel_id", newCfg.Notification.ChannelID).Msg("Notification channel updated")
	})
	start("bridge", bridgeWatcher, err)

	loggingWatcher, err := config.NewLoggingWatcher(loggingPath, func(newLC *logger.Config) {
		watcherMu.Lock()
		defer watcherMu.Unlock()

		if err := logger.Init(*newLC); err != nil {
			log.Error().Err(err).Msg("Failed to update logging configuration")
			return
		}
		reloaded := logger.WithComponent("main")
		reloaded.Info().Str("level", newLC.Level).Msg("Logging configuration updated")
	})
	start("logging", loggingWatcher, err)

	return func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
}

func run(ctx context.Context, cfg *config.Config, configPath, loggingPath string) error {
	log := logger.WithComponent("main")
	clk := clock.New()

	// Phase 1: delivery context
	lp := looper.New(clk)
	if err := lp.Start(ctx); err != nil {
		return fmt.Errorf("failed to start looper: %w", err)
	}
	defer lp.Stop()

	// Phase 2: platform accessors and commands
	notifications := &notificationState{notifier: platform.NewDesktopNotifier()}
	if err := notifications.apply(cfg.Notification); err != nil {
		return fmt.Errorf("failed to create notification channel: %w", err)
	}
	dispatcher, err := setupCommands(cfg, notifications)
	if err != nil {
		return err
	}

	// Phase 3: sensor stream
	sensors := platform.NewIIOSource(cfg.Stream.IIORoot, clk)
	defer sensors.Close()
	if s, ok := sensors.DefaultSensor(platform.Accelerometer); ok {
		log.Info().Str("sensor", s.Name).Msg("Accelerometer found")
	} else {
		log.Info().Str("iio_root", cfg.Stream.IIORoot).Msg("No accelerometer found, streams will be simulated")
	}

	manager := stream.NewManager(cfg.Stream, sensors, lp, clk)
	defer manager.Close()

	// Phase 4: channels
	messenger := channel.NewMessenger()
	if _, err := channel.NewMethodChannel(cfg.Channels.Method, messenger, dispatcher); err != nil {
		return fmt.Errorf("failed to create method channel: %w", err)
	}
	events, err := channel.NewEventChannel(cfg.Channels.Event, messenger, manager)
	if err != nil {
		return fmt.Errorf("failed to create event channel: %w", err)
	}

	// Phase 5: host link
	server := hostlink.NewServer(cfg.HostLink, messenger)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start host link: %w", err)
	}
	defer server.Stop()
	// Runs before server.Stop so the host still receives end of stream.
	defer events.Close()

	// Phase 6: watchers
	cleanupWatchers := setupWatchers(notifications, configPath, loggingPath)
	defer cleanupWatchers()

	log.Info().
		Str("method_channel", cfg.Channels.Method).
		Str("event_channel", cfg.Channels.Event).
		Msg("Bridge ready")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	return nil
}
