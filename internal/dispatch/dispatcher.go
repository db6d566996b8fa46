// Package dispatch routes named commands from the host to their handlers and
// converts every outcome into a Result.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"platformbridge/internal/logger"
)

// Handler serves one named command.
type Handler interface {
	Name() string
	Handle(ctx context.Context, args Arguments) (any, error)
}

type handlerFunc struct {
	name string
	fn   func(ctx context.Context, args Arguments) (any, error)
}

func (h handlerFunc) Name() string { return h.name }

func (h handlerFunc) Handle(ctx context.Context, args Arguments) (any, error) {
	return h.fn(ctx, args)
}

// NewHandler adapts fn into a Handler named name.
func NewHandler(name string, fn func(ctx context.Context, args Arguments) (any, error)) Handler {
	return handlerFunc{name: name, fn: fn}
}

// Registry holds the command handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.Name()
	if name == "" {
		return fmt.Errorf("handler name must not be empty")
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler %s already registered", name)
	}

	r.handlers[name] = h
	return nil
}

// Get retrieves a handler by name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatcher resolves commands against a Registry.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch runs the handler for cmd. It never panics: unknown names produce
// NotImplemented, handler errors and panics produce Failure.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (res Result) {
	log := logger.WithComponent("dispatcher")
	start := time.Now()

	h, ok := d.registry.Get(cmd.Name)
	if !ok {
		log.Debug().Str("command", cmd.Name).Msg("No handler for command")
		return NotImplemented()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("command", cmd.Name).
				Str("panic", fmt.Sprint(r)).
				Msg("Handler panicked")
			res = Failure(CodeError, fmt.Sprint(r), nil)
		}
		log.Debug().
			Str("command", cmd.Name).
			Str("disposition", res.Disposition.String()).
			Str("code", res.Code).
			Dur("duration", time.Since(start)).
			Msg("Command dispatched")
	}()

	args := cmd.Arguments
	if args == nil {
		args = Arguments{}
	}

	value, err := h.Handle(ctx, args)
	if err != nil {
		var cmdErr *Error
		if errors.As(err, &cmdErr) {
			return Failure(cmdErr.Code, cmdErr.Message, cmdErr.Details)
		}
		return Failure(CodeError, err.Error(), nil)
	}
	return Success(value)
}
