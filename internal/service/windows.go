//go:build windows

package service

import (
	"context"
	"time"

	"golang.org/x/sys/windows/svc"

	"platformbridge/internal/logger"
)

const scmAccepts = svc.AcceptStop | svc.AcceptShutdown

type windowsService struct {
	runner
}

// NewService returns the SCM-aware service used on Windows. From a console
// it simply runs until ctx ends.
func NewService(runFunc RunFunc) Service {
	return &windowsService{runner: runner{runFunc: runFunc}}
}

func (s *windowsService) Run(ctx context.Context) error {
	if s.IsService() {
		return svc.Run(Name, s)
	}
	return <-s.begin(ctx)
}

func (s *windowsService) IsService() bool {
	ok, err := svc.IsWindowsService()
	return err == nil && ok
}

// Execute is the svc.Handler entry point.
func (s *windowsService) Execute(_ []string, requests <-chan svc.ChangeRequest, status chan<- svc.Status) (bool, uint32) {
	log := logger.WithComponent("service")

	status <- svc.Status{State: svc.StartPending}
	done := s.begin(context.Background())
	status <- svc.Status{State: svc.Running, Accepts: scmAccepts}
	log.Info().Str("service", Name).Msg("Registered with service control manager")

	for {
		select {
		case err := <-done:
			status <- svc.Status{State: svc.Stopped}
			if err != nil {
				log.Error().Err(err).Msg("Bridge exited with error")
				return true, 1
			}
			return false, 0

		case req := <-requests:
			switch req.Cmd {
			case svc.Stop, svc.Shutdown:
				log.Info().Uint32("cmd", uint32(req.Cmd)).Msg("Stop requested by service control manager")
				status <- svc.Status{State: svc.StopPending}
				_ = s.Stop()
				_ = s.drain(done, nil, stopTimeout)
				status <- svc.Status{State: svc.Stopped}
				return false, 0

			case svc.Interrogate:
				// Answered twice; the SCM may drop the first reply.
				status <- req.CurrentStatus
				time.Sleep(100 * time.Millisecond)
				status <- req.CurrentStatus

			default:
				log.Warn().Uint32("cmd", uint32(req.Cmd)).Msg("Ignoring service control request")
			}
		}
	}
}
