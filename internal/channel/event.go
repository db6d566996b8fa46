package channel

import (
	"context"
	"sync"
	"sync/atomic"

	"platformbridge/internal/logger"
	"platformbridge/internal/stream"
)

// Failure code sent when a stream cannot be opened.
const CodeListenFailed = "LISTEN_FAILED"

// StreamHandler opens and closes the stream behind an event channel.
type StreamHandler interface {
	Listen(sink stream.Sink) error
	Cancel()
}

// EventChannel serves listen and cancel envelopes and forwards stream events
// to the host. One subscription is active at a time.
type EventChannel struct {
	name      string
	messenger *Messenger
	handler   StreamHandler

	mu   sync.Mutex
	sink *eventSink
}

// NewEventChannel registers an event channel on messenger.
func NewEventChannel(name string, messenger *Messenger, handler StreamHandler) (*EventChannel, error) {
	ec := &EventChannel{name: name, messenger: messenger, handler: handler}
	if err := messenger.Register(name, ec); err != nil {
		return nil, err
	}
	return ec, nil
}

// Name returns the channel name.
func (ec *EventChannel) Name() string { return ec.name }

// HandleEnvelope handles listen and cancel requests.
func (ec *EventChannel) HandleEnvelope(_ context.Context, env Envelope) {
	switch env.Type {
	case TypeListen:
		ec.listen(env)
	case TypeCancel:
		ec.cancel()
		ec.messenger.reply(replyTo(env))
	default:
		log := logger.WithComponent("event-channel")
		log.Debug().
			Str("channel", ec.name).
			Str("type", env.Type).
			Msg("Ignoring envelope")
	}
}

// listen replaces any active subscription with a new one.
func (ec *EventChannel) listen(env Envelope) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if ec.sink != nil {
		log := logger.WithComponent("event-channel")
		log.Debug().
			Str("channel", ec.name).
			Msg("Listen while active, cancelling previous subscription")
		ec.stopLocked()
	}

	sink := &eventSink{channel: ec.name, messenger: ec.messenger}
	if err := ec.handler.Listen(sink); err != nil {
		sink.closed.Store(true)
		log := logger.WithComponent("event-channel")
		log.Warn().
			Err(err).
			Str("channel", ec.name).
			Msg("Failed to open stream")
		ec.messenger.reply(errorTo(env, CodeListenFailed, err.Error(), nil))
		return
	}
	ec.sink = sink
	ec.messenger.reply(replyTo(env))
}

func (ec *EventChannel) cancel() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.stopLocked()
}

// stopLocked makes the sink inert before cancelling the stream so nothing
// reaches the host once it returns.
func (ec *EventChannel) stopLocked() {
	if ec.sink == nil {
		return
	}
	ec.sink.closed.Store(true)
	ec.sink = nil
	ec.handler.Cancel()
}

// OnDetach tears the subscription down when the host goes away.
func (ec *EventChannel) OnDetach() {
	ec.cancel()
}

// Close ends any subscription and tells the host the stream is over.
func (ec *EventChannel) Close() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.sink == nil {
		return
	}
	ec.stopLocked()
	if err := ec.messenger.Send(Envelope{Channel: ec.name, Type: TypeEnd}); err != nil {
		log := logger.WithComponent("event-channel")
		log.Debug().Err(err).Msg("Failed to send end of stream")
	}
}

// eventSink writes stream events to the host until it is closed.
type eventSink struct {
	channel   string
	messenger *Messenger
	closed    atomic.Bool
}

// Deliver sends event unless the subscription has ended. Write errors are
// logged and otherwise ignored.
func (s *eventSink) Deliver(event string) {
	if s.closed.Load() {
		return
	}
	if err := s.messenger.Send(Envelope{Channel: s.channel, Type: TypeEvent, Event: event}); err != nil {
		log := logger.WithComponent("event-channel")
		log.Debug().
			Err(err).
			Str("channel", s.channel).
			Msg("Dropped stream event")
	}
}
