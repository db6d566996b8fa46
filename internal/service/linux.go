//go:build !windows

package service

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"platformbridge/internal/logger"
)

// shutdownSignals end the bridge. The second one received while draining
// skips the wait.
var shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

type unixService struct {
	runner
}

// NewService returns the signal-driven service used outside Windows.
func NewService(runFunc RunFunc) Service {
	return &unixService{runner: runner{runFunc: runFunc}}
}

func (s *unixService) Run(ctx context.Context) error {
	log := logger.WithComponent("service")

	sigs := make(chan os.Signal, len(shutdownSignals))
	signal.Notify(sigs, shutdownSignals...)
	defer signal.Stop(sigs)

	done := s.begin(ctx)
	log.Info().Str("service", Name).Int("pid", os.Getpid()).Msg("Bridge running")

	select {
	case err := <-done:
		return err
	case sig := <-sigs:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	_ = s.Stop()
	return s.drain(done, sigs, stopTimeout)
}

// IsService treats a non-terminal stdin as supervised (systemd, launchd).
func (s *unixService) IsService() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice == 0
}
