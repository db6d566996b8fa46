// Package looper provides the bridge's delivery context: one goroutine that
// runs posted tasks in FIFO order. Everything that touches the host-facing
// sink is funneled through it, whichever goroutine produced the data.
package looper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/deque"

	"platformbridge/internal/logger"
)

// ErrStopped is returned by Sync once the looper has been stopped.
var ErrStopped = errors.New("looper: stopped")

// Task is a unit of work that can be posted and later removed by identity.
type Task struct {
	fn func()
}

// NewTask wraps fn so it can be posted and removed.
func NewTask(fn func()) *Task {
	return &Task{fn: fn}
}

type message struct {
	task  *Task
	timer *clock.Timer
}

// Looper runs tasks on a single goroutine.
type Looper struct {
	clock clock.Clock

	mu      sync.Mutex
	ready   deque.Deque[*message]
	delayed map[*message]struct{}
	quit    bool
	running bool
	cancel  context.CancelFunc
	wake    chan struct{}
	wg      sync.WaitGroup
}

// New creates a looper. Tasks posted before Start are queued.
func New(clk clock.Clock) *Looper {
	if clk == nil {
		clk = clock.New()
	}
	return &Looper{
		clock:   clk,
		delayed: make(map[*message]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Start begins running tasks.
func (l *Looper) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quit {
		return ErrStopped
	}
	if l.running {
		return nil
	}
	l.running = true

	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.loop(ctx)
	l.signal()
	return nil
}

// Stop halts the loop, waits for the running task to return and discards
// everything still queued. A stopped looper rejects new posts.
func (l *Looper) Stop() {
	l.mu.Lock()
	if l.quit {
		l.mu.Unlock()
		return
	}
	l.quit = true
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()

	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	for m := range l.delayed {
		m.timer.Stop()
	}
	l.delayed = make(map[*message]struct{})
	l.ready.Clear()
	l.running = false
}

// Post queues task to run as soon as the loop reaches it. It never blocks and
// returns false if the looper has been stopped.
func (l *Looper) Post(task *Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quit {
		return false
	}
	l.ready.PushBack(&message{task: task})
	l.signal()
	return true
}

// PostDelayed queues task to run after d on the looper's clock.
func (l *Looper) PostDelayed(task *Task, d time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quit {
		return false
	}
	m := &message{task: task}
	l.delayed[m] = struct{}{}
	m.timer = l.clock.AfterFunc(d, func() { l.fire(m) })
	return true
}

// RemoveCallbacks drops every queued or delayed occurrence of task that has
// not started running yet. An occurrence already running is not affected.
func (l *Looper) RemoveCallbacks(task *Task) {
	l.mu.Lock()
	defer l.mu.Unlock()

	match := func(m *message) bool { return m.task == task }
	for i := l.ready.Index(match); i >= 0; i = l.ready.Index(match) {
		l.ready.Remove(i)
	}

	for m := range l.delayed {
		if m.task == task {
			m.timer.Stop()
			delete(l.delayed, m)
		}
	}
}

// HasCallbacks reports whether task has a queued or delayed occurrence.
func (l *Looper) HasCallbacks(task *Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready.Index(func(m *message) bool { return m.task == task }) >= 0 {
		return true
	}
	for m := range l.delayed {
		if m.task == task {
			return true
		}
	}
	return false
}

// Sync blocks until every task queued before the call has run.
func (l *Looper) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !l.Post(NewTask(func() { close(done) })) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Looper) fire(m *message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.delayed[m]; !ok {
		return
	}
	delete(l.delayed, m)
	l.ready.PushBack(m)
	l.signal()
}

// signal must be called with l.mu held.
func (l *Looper) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Looper) loop(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
		for ctx.Err() == nil {
			m := l.next()
			if m == nil {
				break
			}
			l.run(m.task)
		}
	}
}

func (l *Looper) next() *message {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready.Len() == 0 {
		return nil
	}
	return l.ready.PopFront()
}

// run shields the loop from a panicking task.
func (l *Looper) run(task *Task) {
	defer func() {
		if r := recover(); r != nil {
			log := logger.WithComponent("looper")
			log.Error().
				Str("panic", fmt.Sprint(r)).
				Msg("Task panicked")
		}
	}()
	task.fn()
}
