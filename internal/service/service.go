// Package service runs the bridge under the host OS's process supervisor:
// signal handling on Unix and the service control manager on Windows.
package service

import (
	"context"
	"os"
	"sync"
	"time"

	"platformbridge/internal/logger"
)

// Name is the service name registered with the OS and the event log.
const Name = "PlatformBridge"

// stopTimeout bounds how long a stop request waits for RunFunc to return.
const stopTimeout = 30 * time.Second

// Service runs a RunFunc until the OS or the user asks it to stop.
type Service interface {
	// Run blocks until RunFunc returns or a stop is requested.
	Run(ctx context.Context) error

	// Stop cancels the context passed to RunFunc.
	Stop() error

	// IsService reports whether the process was started by a supervisor
	// rather than from an interactive terminal.
	IsService() bool
}

// RunFunc wires up the bridge and blocks until ctx is cancelled.
type RunFunc func(ctx context.Context) error

// runner owns the lifetime of one RunFunc invocation. A Stop that arrives
// before begin is remembered and cancels the run as soon as it starts.
type runner struct {
	runFunc RunFunc

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopping bool
}

// begin starts runFunc under a context derived from parent. The returned
// channel yields its result exactly once.
func (r *runner) begin(parent context.Context) <-chan error {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	r.cancel = cancel
	if r.stopping {
		cancel()
	}
	r.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- r.runFunc(ctx)
	}()
	return done
}

// Stop cancels the run context. Calling it more than once is harmless.
func (r *runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopping = true
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// drain waits for a cancelled run to return. It gives up after stopTimeout
// or when interrupt fires; a nil interrupt never fires.
func (r *runner) drain(done <-chan error, interrupt <-chan os.Signal, timeout time.Duration) error {
	log := logger.WithComponent("service")
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case sig := <-interrupt:
		log.Warn().Str("signal", sig.String()).Msg("Abandoning graceful shutdown")
	case <-timer.C:
		log.Warn().Dur("timeout", timeout).Msg("Bridge did not stop in time")
	}
	return nil
}
