package stream

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"platformbridge/internal/looper"
)

var errProducerStarted = errors.New("producer already started")

// SimulatedProducer emits uniformly random samples on a fixed period. Each
// tick runs on the looper and schedules the next one only after a successful
// emit, so it stops by itself once the session loses its sink.
type SimulatedProducer struct {
	looper   *looper.Looper
	clock    clock.Clock
	interval time.Duration
	bound    float64
	rnd      *rand.Rand

	mu      sync.Mutex
	running bool
	started bool
	emit    EmitFunc
	task    *looper.Task
}

// NewSimulatedProducer creates a producer ticking every interval with values
// in [-bound, bound].
func NewSimulatedProducer(lp *looper.Looper, clk clock.Clock, interval time.Duration, bound float64, rnd *rand.Rand) *SimulatedProducer {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	p := &SimulatedProducer{
		looper:   lp,
		clock:    clk,
		interval: interval,
		bound:    bound,
		rnd:      rnd,
	}
	p.task = looper.NewTask(p.tick)
	return p
}

// Start posts the first tick right away; later ticks follow every interval.
func (p *SimulatedProducer) Start(emit EmitFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errProducerStarted
	}
	p.started = true
	p.emit = emit
	p.running = true

	if !p.looper.Post(p.task) {
		p.running = false
		return looper.ErrStopped
	}
	return nil
}

// Stop removes the pending tick. A tick already running finishes but does
// not reschedule.
func (p *SimulatedProducer) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.looper.RemoveCallbacks(p.task)
}

func (p *SimulatedProducer) tick() {
	p.mu.Lock()
	running, emit := p.running, p.emit
	p.mu.Unlock()
	if !running {
		return
	}

	sample := Sample{
		Values:    [3]float64{p.next(), p.next(), p.next()},
		Timestamp: p.clock.Now(),
		Origin:    OriginSimulated,
	}
	if !emit(sample) {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.looper.PostDelayed(p.task, p.interval)
	}
}

// next returns a value in [-bound, bound]. Only called on the looper.
func (p *SimulatedProducer) next() float64 {
	return -p.bound + p.rnd.Float64()*2*p.bound
}
