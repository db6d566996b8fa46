package channel

import (
	"context"
	"fmt"
	"sync"

	"platformbridge/internal/logger"
)

// Conn is the outbound half of the host link.
type Conn interface {
	WriteEnvelope(env Envelope) error
}

// Handler serves every inbound envelope addressed to one channel.
type Handler interface {
	HandleEnvelope(ctx context.Context, env Envelope)
}

// Detacher is implemented by handlers that hold per-host state.
type Detacher interface {
	OnDetach()
}

// Messenger routes envelopes between the host connection and the registered
// channel handlers. At most one connection is attached at a time.
type Messenger struct {
	mu       sync.RWMutex
	conn     Conn
	handlers map[string]Handler
}

// NewMessenger creates a messenger with no connection attached.
func NewMessenger() *Messenger {
	return &Messenger{
		handlers: make(map[string]Handler),
	}
}

// Register binds h to channel name.
func (m *Messenger) Register(name string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" {
		return fmt.Errorf("channel name must not be empty")
	}
	if _, exists := m.handlers[name]; exists {
		return fmt.Errorf("channel %s already registered", name)
	}
	m.handlers[name] = h
	return nil
}

// Attach makes conn the outbound connection. It returns false if another
// connection is already attached.
func (m *Messenger) Attach(conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return false
	}
	m.conn = conn
	log := logger.WithComponent("messenger")
	log.Info().Msg("Host attached")
	return true
}

// Detach drops conn if it is the attached connection and notifies handlers
// so they can release per-host state.
func (m *Messenger) Detach(conn Conn) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	handlers := make([]Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	log := logger.WithComponent("messenger")
	log.Info().Msg("Host detached")
	for _, h := range handlers {
		if d, ok := h.(Detacher); ok {
			d.OnDetach()
		}
	}
}

// Attached reports whether a host connection is attached.
func (m *Messenger) Attached() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn != nil
}

// Send writes env to the attached connection. Without a connection it does
// nothing and returns nil.
func (m *Messenger) Send(env Envelope) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil {
		return nil
	}
	return conn.WriteEnvelope(env)
}

// Handle routes an inbound envelope to its channel. Calls on unknown
// channels are answered as not implemented; anything else is dropped.
func (m *Messenger) Handle(ctx context.Context, env Envelope) {
	m.mu.RLock()
	h, ok := m.handlers[env.Channel]
	m.mu.RUnlock()

	if ok {
		h.HandleEnvelope(ctx, env)
		return
	}

	log := logger.WithComponent("messenger")
	log.Debug().
		Str("channel", env.Channel).
		Str("type", env.Type).
		Msg("Envelope for unknown channel")
	if env.Type == TypeCall {
		m.reply(notImplementedTo(env))
	}
}

func (m *Messenger) reply(env Envelope) {
	if err := m.Send(env); err != nil {
		log := logger.WithComponent("messenger")
		log.Warn().
			Err(err).
			Str("channel", env.Channel).
			Str("type", env.Type).
			Uint64("id", env.ID).
			Msg("Failed to send reply")
	}
}
