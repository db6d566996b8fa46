package stream

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"platformbridge/internal/config"
	"platformbridge/internal/logger"
	"platformbridge/internal/looper"
	"platformbridge/internal/platform"
)

var (
	// ErrSessionActive is returned by Listen while a session is running.
	ErrSessionActive = errors.New("stream session already active")
	// ErrClosed is returned by Listen after Close.
	ErrClosed = errors.New("stream manager closed")
	// ErrNilSink is returned by Listen without a sink.
	ErrNilSink = errors.New("stream sink must not be nil")
)

// State is the Manager's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type session struct {
	id       uint64
	sink     Sink
	producer Producer
	origin   Origin
	started  time.Time
	samples  atomic.Uint64
}

// Manager runs at most one stream session. Listen, Cancel and Close are
// serialized; samples are delivered on the looper and only while the session
// that produced them is current.
type Manager struct {
	cfg    config.StreamConfig
	source platform.SensorSource
	looper *looper.Looper
	clock  clock.Clock

	mu     sync.Mutex
	state  State
	nextID uint64
	closed bool

	// current is read lock-free by producers; deliverMu orders the final
	// Deliver against the clear in teardown.
	current   atomic.Pointer[session]
	deliverMu sync.Mutex
}

// NewManager creates a session manager. A nil source always falls back to
// the simulated producer.
func NewManager(cfg config.StreamConfig, source platform.SensorSource, lp *looper.Looper, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		cfg:    cfg,
		source: source,
		looper: lp,
		clock:  clk,
	}
}

// Listen opens a session delivering to sink. The real producer is tried
// first unless ForceSimulated is set; any failure falls back to the simulated
// producer. The choice holds for the whole session.
func (m *Manager) Listen(sink Sink) error {
	if sink == nil {
		return ErrNilSink
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.state != StateIdle {
		return ErrSessionActive
	}

	m.state = StateStarting
	m.nextID++
	s := &session{id: m.nextID, sink: sink, started: m.clock.Now()}
	m.current.Store(s)

	emit := func(sample Sample) bool { return m.deliver(s, sample) }
	log := logger.WithComponent("stream")

	var fallback error
	if m.cfg.ForceSimulated {
		fallback = errors.New("simulation forced by configuration")
	} else {
		rp := NewRealProducer(m.source, m.looper, m.clock, m.cfg.SensorDelay)
		if fallback = rp.Start(emit); fallback == nil {
			s.producer, s.origin = rp, OriginReal
		}
	}

	if s.producer == nil {
		sim := NewSimulatedProducer(m.looper, m.clock, m.cfg.SimulatedInterval, m.cfg.SimulatedRange,
			rand.New(rand.NewSource(time.Now().UnixNano())))
		if err := sim.Start(emit); err != nil {
			m.clear(s)
			m.state = StateIdle
			return fmt.Errorf("failed to start simulated producer: %w", err)
		}
		s.producer, s.origin = sim, OriginSimulated
	}

	m.state = StateStreaming

	event := log.Info().
		Uint64("session", s.id).
		Str("origin", s.origin.String())
	if fallback != nil {
		event = event.Str("fallback_reason", fallback.Error())
	}
	event.Msg("Stream session started")
	return nil
}

// Cancel ends the current session. After it returns the sink receives no
// further samples. Cancel is a no-op when idle.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardown("cancel")
}

// Close ends any session and rejects further Listen calls. It is safe to
// call in any state and more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardown("close")
	m.closed = true
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Origin reports which producer backs the current session.
func (m *Manager) Origin() (Origin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.current.Load()
	if s == nil || m.state != StateStreaming {
		return 0, false
	}
	return s.origin, true
}

// teardown must be called with m.mu held.
func (m *Manager) teardown(reason string) {
	if m.state == StateIdle {
		return
	}
	s := m.current.Load()
	m.clear(s)
	if s != nil && s.producer != nil {
		stopProducer(s.producer)
	}
	m.state = StateIdle

	if s != nil {
		log := logger.WithComponent("stream")
		log.Info().
			Uint64("session", s.id).
			Str("origin", s.origin.String()).
			Str("reason", reason).
			Uint64("samples", s.samples.Load()).
			Dur("duration", m.clock.Since(s.started)).
			Msg("Stream session stopped")
	}
}

// clear detaches s so no later delivery reaches its sink. It waits for at
// most one in-flight Deliver, which only queues the frame.
func (m *Manager) clear(s *session) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	m.current.CompareAndSwap(s, nil)
	if s != nil {
		s.sink = nil
	}
}

// deliver renders sample to s's sink if s is still the current session.
func (m *Manager) deliver(s *session, sample Sample) bool {
	if m.current.Load() != s {
		return false
	}

	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	if m.current.Load() != s || s.sink == nil {
		return false
	}
	s.sink.Deliver(sample.Render())
	s.samples.Add(1)
	return true
}

func stopProducer(p Producer) {
	defer func() {
		if r := recover(); r != nil {
			log := logger.WithComponent("stream")
			log.Error().
				Str("panic", fmt.Sprint(r)).
				Msg("Producer stop panicked")
		}
	}()
	p.Stop()
}
