package looper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/goleak"

	"platformbridge/internal/logger"
)

func init() {
	_ = logger.Init(logger.Config{Level: "disabled"})
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startLooper(t *testing.T, clk clock.Clock) *Looper {
	t.Helper()
	l := New(clk)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(l.Stop)
	return l
}

func syncLooper(t *testing.T, l *Looper) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
}

func TestLooper_RunsTasksInOrder(t *testing.T) {
	l := startLooper(t, clock.NewMock())

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(NewTask(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	syncLooper(t, l)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 5 {
		t.Fatalf("expected 5 tasks to run, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Errorf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestLooper_PostBeforeStart(t *testing.T) {
	l := New(clock.NewMock())
	ran := make(chan struct{})
	if !l.Post(NewTask(func() { close(ran) })) {
		t.Fatal("Post before Start should be accepted")
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer l.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("queued task did not run after Start")
	}
}

func TestLooper_RemoveCallbacksDropsQueued(t *testing.T) {
	l := New(clock.NewMock())
	ran := false
	task := NewTask(func() { ran = true })
	l.Post(task)
	l.Post(task)
	if !l.HasCallbacks(task) {
		t.Fatal("expected task to be queued")
	}
	l.RemoveCallbacks(task)
	if l.HasCallbacks(task) {
		t.Fatal("expected task to be removed")
	}

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer l.Stop()
	syncLooper(t, l)

	if ran {
		t.Error("removed task should not run")
	}
}

func TestLooper_PostDelayed(t *testing.T) {
	mock := clock.NewMock()
	l := startLooper(t, mock)

	ran := make(chan struct{}, 1)
	l.PostDelayed(NewTask(func() { ran <- struct{}{} }), time.Second)

	mock.Add(500 * time.Millisecond)
	select {
	case <-ran:
		t.Fatal("delayed task ran early")
	case <-time.After(50 * time.Millisecond):
	}

	mock.Add(500 * time.Millisecond)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task did not run")
	}
}

func TestLooper_RemoveCallbacksCancelsDelayed(t *testing.T) {
	mock := clock.NewMock()
	l := startLooper(t, mock)

	ran := make(chan struct{}, 1)
	task := NewTask(func() { ran <- struct{}{} })
	l.PostDelayed(task, time.Second)
	l.RemoveCallbacks(task)

	mock.Add(2 * time.Second)
	syncLooper(t, l)

	select {
	case <-ran:
		t.Fatal("removed delayed task should not run")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLooper_SurvivesPanickingTask(t *testing.T) {
	l := startLooper(t, clock.NewMock())

	l.Post(NewTask(func() { panic("boom") }))
	ran := make(chan struct{})
	l.Post(NewTask(func() { close(ran) }))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("looper stopped after a task panicked")
	}
}

func TestLooper_PostAfterStopRejected(t *testing.T) {
	l := New(clock.NewMock())
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	l.Stop()
	l.Stop()

	if l.Post(NewTask(func() {})) {
		t.Error("Post after Stop should be rejected")
	}
	if l.PostDelayed(NewTask(func() {}), time.Second) {
		t.Error("PostDelayed after Stop should be rejected")
	}
	if err := l.Sync(context.Background()); err != ErrStopped {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	if err := l.Start(context.Background()); err != ErrStopped {
		t.Errorf("expected ErrStopped on restart, got %v", err)
	}
}
