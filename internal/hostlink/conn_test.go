package hostlink

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"platformbridge/internal/channel"
	"platformbridge/internal/config"
	"platformbridge/internal/looper"
	"platformbridge/internal/stream"
)

// stalledWriter holds every WriteMessage until release is closed, like a
// host that has stopped reading.
type stalledWriter struct {
	mu       sync.Mutex
	frames   []channel.Envelope
	controls []int
	closed   bool
	entered  chan struct{}
	release  chan struct{}
}

func newStalledWriter() *stalledWriter {
	return &stalledWriter{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (w *stalledWriter) SetWriteDeadline(time.Time) error { return nil }

func (w *stalledWriter) WriteMessage(_ int, data []byte) error {
	select {
	case w.entered <- struct{}{}:
	default:
	}
	<-w.release

	var env channel.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	w.mu.Lock()
	w.frames = append(w.frames, env)
	w.mu.Unlock()
	return nil
}

func (w *stalledWriter) WriteControl(messageType int, _ []byte, _ time.Time) error {
	w.mu.Lock()
	w.controls = append(w.controls, messageType)
	w.mu.Unlock()
	return nil
}

func (w *stalledWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *stalledWriter) snapshot() ([]channel.Envelope, []int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]channel.Envelope(nil), w.frames...), append([]int(nil), w.controls...), w.closed
}

func waitEntered(t *testing.T, w *stalledWriter) {
	t.Helper()
	select {
	case <-w.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never started a frame")
	}
}

// within fails the test if fn does not return within a second.
func within(t *testing.T, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("%s blocked on a stalled host write", what)
	}
}

func TestHostConn_WriteEnvelopeDoesNotWaitOnSocket(t *testing.T) {
	w := newStalledWriter()
	hc := newHostConn(time.Second, 2)

	if err := hc.WriteEnvelope(channel.Envelope{Type: channel.TypeEvent}); err != errConnClosed {
		t.Fatalf("expected errConnClosed before start, got %v", err)
	}
	if !hc.start(w) {
		t.Fatal("start failed")
	}

	if err := hc.WriteEnvelope(channel.Envelope{Type: channel.TypeEvent, ID: 1}); err != nil {
		t.Fatal(err)
	}
	waitEntered(t, w)

	var errs []error
	within(t, "WriteEnvelope", func() {
		for id := uint64(2); id <= 4; id++ {
			errs = append(errs, hc.WriteEnvelope(channel.Envelope{Type: channel.TypeEvent, ID: id}))
		}
	})
	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("expected two frames to fit the queue, got %v", errs)
	}
	if errs[2] != errQueueFull {
		t.Errorf("expected errQueueFull once the queue is full, got %v", errs[2])
	}

	close(w.release)
	hc.close()
	hc.close()

	frames, controls, closed := w.snapshot()
	if len(frames) != 3 {
		t.Fatalf("expected queued frames flushed on close, got %d", len(frames))
	}
	for i, env := range frames {
		if env.ID != uint64(i+1) {
			t.Errorf("frame %d has id %d, frames out of order", i, env.ID)
		}
	}
	if len(controls) != 1 || controls[0] != websocket.CloseMessage {
		t.Errorf("expected one close frame, got %v", controls)
	}
	if !closed {
		t.Error("socket not closed")
	}
	if err := hc.WriteEnvelope(channel.Envelope{Type: channel.TypeEvent}); err != errConnClosed {
		t.Errorf("expected errConnClosed after close, got %v", err)
	}
}

func TestHostConn_CancelNotHeldByStalledWrite(t *testing.T) {
	cfg := config.DefaultConfig()
	mock := clock.NewMock()
	lp := looper.New(mock)
	if err := lp.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	mgr := stream.NewManager(cfg.Stream, nil, lp, mock)
	defer lp.Stop()
	defer mgr.Close()

	m := channel.NewMessenger()
	if _, err := channel.NewEventChannel(cfg.Channels.Event, m, mgr); err != nil {
		t.Fatal(err)
	}

	w := newStalledWriter()
	hc := newHostConn(time.Second, cfg.HostLink.SendQueue)
	if !hc.start(w) {
		t.Fatal("start failed")
	}
	if !m.Attach(hc) {
		t.Fatal("attach failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	within(t, "listen", func() {
		m.Handle(ctx, channel.Envelope{Channel: cfg.Channels.Event, Type: channel.TypeListen, ID: 1})
	})
	waitEntered(t, w)
	// The opening sample has been handed to the sink while the host is stuck.
	if err := lp.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	within(t, "cancel", func() {
		m.Handle(ctx, channel.Envelope{Channel: cfg.Channels.Event, Type: channel.TypeCancel, ID: 2})
	})
	if mgr.State() != stream.StateIdle {
		t.Errorf("expected idle manager after cancel, got %v", mgr.State())
	}

	close(w.release)
	m.Detach(hc)
	hc.close()

	frames, _, _ := w.snapshot()
	if len(frames) != 3 {
		t.Fatalf("expected listen ack, one sample and cancel ack, got %+v", frames)
	}
	events := 0
	for _, env := range frames[:2] {
		if env.Type == channel.TypeEvent {
			events++
		}
	}
	if events != 1 {
		t.Errorf("expected exactly one sample before cancel, got %d", events)
	}
	if last := frames[2]; last.Type != channel.TypeReply || last.ID != 2 {
		t.Errorf("expected cancel ack last, got %+v", last)
	}
}
