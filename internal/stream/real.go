package stream

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"platformbridge/internal/looper"
	"platformbridge/internal/platform"
)

var (
	// ErrNoSensor is returned when the platform has no accelerometer.
	ErrNoSensor = errors.New("no accelerometer available")
	// ErrRegistrationFailed is returned when the source refuses the listener.
	ErrRegistrationFailed = errors.New("sensor listener registration failed")
)

// RealProducer forwards accelerometer readings from a SensorSource. Readings
// arrive on the source's goroutine and are hopped onto the looper before
// they are emitted.
type RealProducer struct {
	source platform.SensorSource
	looper *looper.Looper
	clock  clock.Clock
	delay  time.Duration

	mu       sync.Mutex
	listener *accelListener
	started  bool
}

// NewRealProducer creates a producer that asks source for readings every
// delay. The source decides the actual cadence.
func NewRealProducer(source platform.SensorSource, lp *looper.Looper, clk clock.Clock, delay time.Duration) *RealProducer {
	return &RealProducer{
		source: source,
		looper: lp,
		clock:  clk,
		delay:  delay,
	}
}

// Start acquires the default accelerometer and registers a listener on it.
func (p *RealProducer) Start(emit EmitFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errProducerStarted
	}
	if p.source == nil {
		return ErrNoSensor
	}

	sensor, ok := p.source.DefaultSensor(platform.Accelerometer)
	if !ok || sensor == nil {
		return ErrNoSensor
	}

	l := &accelListener{looper: p.looper, clock: p.clock, emit: emit}
	l.active.Store(true)
	if !p.source.RegisterListener(l, sensor, p.delay) {
		return ErrRegistrationFailed
	}

	p.started = true
	p.listener = l
	return nil
}

// Stop unregisters the listener. Readings already queued on the looper are
// dropped.
func (p *RealProducer) Stop() {
	p.mu.Lock()
	l := p.listener
	p.listener = nil
	p.mu.Unlock()

	if l == nil {
		return
	}
	l.active.Store(false)
	p.source.UnregisterListener(l)
}

type accelListener struct {
	looper *looper.Looper
	clock  clock.Clock
	emit   EmitFunc
	active atomic.Bool
}

func (l *accelListener) OnSensorChanged(event platform.SensorEvent) {
	if !l.active.Load() {
		return
	}
	sample := Sample{
		Values:    event.Values,
		Timestamp: l.clock.Now(),
		Origin:    OriginReal,
	}
	l.looper.Post(looper.NewTask(func() {
		if !l.active.Load() {
			return
		}
		if !l.emit(sample) {
			l.active.Store(false)
		}
	}))
}
