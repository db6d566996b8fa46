package stream

import (
	"context"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/goleak"

	"platformbridge/internal/config"
	"platformbridge/internal/logger"
	"platformbridge/internal/looper"
	"platformbridge/internal/platform"
)

func init() {
	_ = logger.Init(logger.Config{Level: "disabled"})
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingSink collects delivered events.
type recordingSink struct {
	mu     sync.Mutex
	events []string
	got    chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan string, 64)}
}

func (r *recordingSink) Deliver(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	select {
	case r.got <- event:
	default:
	}
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// fakeSource is a SensorSource whose readings are pushed by the test.
type fakeSource struct {
	mu           sync.Mutex
	hasSensor    bool
	refuse       bool
	listener     platform.SensorListener
	delay        time.Duration
	unregistered int
}

func (f *fakeSource) DefaultSensor(t platform.SensorType) (*platform.Sensor, bool) {
	if !f.hasSensor || t != platform.Accelerometer {
		return nil, false
	}
	return &platform.Sensor{Name: "fake", Type: t}, true
}

func (f *fakeSource) RegisterListener(l platform.SensorListener, _ *platform.Sensor, delay time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse {
		return false
	}
	f.listener = l
	f.delay = delay
	return true
}

func (f *fakeSource) UnregisterListener(l platform.SensorListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener == l {
		f.listener = nil
	}
	f.unregistered++
}

func (f *fakeSource) push(values [3]float64) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l != nil {
		l.OnSensorChanged(platform.SensorEvent{Values: values})
	}
}

type harness struct {
	clock  *clock.Mock
	looper *looper.Looper
	source *fakeSource
	mgr    *Manager
	cfg    config.StreamConfig
}

func newHarness(t *testing.T, source *fakeSource) *harness {
	t.Helper()
	h := newIdleHarness(t, source)
	if err := h.looper.Start(context.Background()); err != nil {
		t.Fatalf("looper Start failed: %v", err)
	}
	return h
}

// newIdleHarness leaves the looper unstarted so posted ticks stay queued
// until the test starts it.
func newIdleHarness(t *testing.T, source *fakeSource) *harness {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC))

	lp := looper.New(mock)

	cfg := config.DefaultConfig().Stream
	var src platform.SensorSource
	if source != nil {
		src = source
	}
	h := &harness{
		clock:  mock,
		looper: lp,
		source: source,
		mgr:    NewManager(cfg, src, lp, mock),
		cfg:    cfg,
	}
	t.Cleanup(func() {
		h.mgr.Close()
		lp.Stop()
	})
	return h
}

// sync waits until every task queued on the looper has run.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.looper.Sync(ctx); err != nil {
		t.Fatalf("looper Sync failed: %v", err)
	}
}

// first waits for the sample a simulated session emits as soon as it opens.
func (h *harness) first(t *testing.T, sink *recordingSink) string {
	t.Helper()
	return h.await(t, sink)
}

// tick advances one simulated period and waits for the resulting sample.
func (h *harness) tick(t *testing.T, sink *recordingSink) string {
	t.Helper()
	h.clock.Add(h.cfg.SimulatedInterval)
	return h.await(t, sink)
}

func (h *harness) await(t *testing.T, sink *recordingSink) string {
	t.Helper()
	select {
	case ev := <-sink.got:
		h.sync(t)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no sample delivered")
		return ""
	}
}

// settle lets any stray timer goroutine run before asserting silence.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	time.Sleep(20 * time.Millisecond)
	h.sync(t)
}

var simulatedPattern = regexp.MustCompile(
	`^Simulated Sensor - X: (-?\d+\.\d{2}), Y: (-?\d+\.\d{2}), Z: (-?\d+\.\d{2}) \| \w{3} \w{3} \d{2} \d{2}:\d{2}:\d{2} \w+ \d{4}$`)

func TestSample_Render(t *testing.T) {
	s := Sample{
		Values:    [3]float64{1.005, -9.999, 0},
		Timestamp: time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC),
		Origin:    OriginReal,
	}
	want := "Accelerometer - X: 1.00, Y: -10.00, Z: 0.00 | Tue Mar 05 14:07:09 UTC 2024"
	if got := s.Render(); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}

	s.Origin = OriginSimulated
	if got := s.Render(); got[:16] != "Simulated Sensor" {
		t.Errorf("unexpected simulated prefix in %q", got)
	}
}

func TestManager_SimulatedFallbackOneSamplePerTick(t *testing.T) {
	h := newHarness(t, nil)
	sink := newRecordingSink()

	if err := h.mgr.Listen(sink); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if origin, ok := h.mgr.Origin(); !ok || origin != OriginSimulated {
		t.Fatalf("expected simulated origin, got %v (ok=%v)", origin, ok)
	}
	if h.mgr.State() != StateStreaming {
		t.Fatalf("expected streaming, got %v", h.mgr.State())
	}

	// The first sample does not wait for a period.
	h.first(t, sink)
	h.clock.Add(h.cfg.SimulatedInterval - time.Millisecond)
	h.settle(t)
	if n := sink.count(); n != 1 {
		t.Fatalf("expected only the opening sample before one period, got %d", n)
	}
	h.clock.Add(time.Millisecond)
	h.await(t, sink)

	for i := 0; i < 3; i++ {
		h.tick(t, sink)
	}
	h.settle(t)
	if n := sink.count(); n != 5 {
		t.Fatalf("expected exactly 5 samples for the opening tick and 4 periods, got %d", n)
	}

	sink.mu.Lock()
	events := append([]string(nil), sink.events...)
	sink.mu.Unlock()
	for _, ev := range events {
		m := simulatedPattern.FindStringSubmatch(ev)
		if m == nil {
			t.Errorf("sample %q does not match the simulated format", ev)
			continue
		}
		for _, raw := range m[1:] {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				t.Fatalf("bad value %q: %v", raw, err)
			}
			if v < -10.0 || v > 10.0 {
				t.Errorf("value %v out of [-10, 10] in %q", v, ev)
			}
		}
	}
}

func TestManager_CancelBeforeFirstTickDeliversNothing(t *testing.T) {
	h := newIdleHarness(t, nil)
	sink := newRecordingSink()

	if err := h.mgr.Listen(sink); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if !h.looper.HasCallbacks(h.mgr.current.Load().producer.(*SimulatedProducer).task) {
		t.Fatal("expected the opening tick to be queued")
	}
	h.mgr.Cancel()

	// The opening tick was queued but never ran; starting the looper now
	// must not let it through.
	if err := h.looper.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.clock.Add(10 * h.cfg.SimulatedInterval)
	h.settle(t)
	if n := sink.count(); n != 0 {
		t.Errorf("expected no samples after immediate cancel, got %d", n)
	}
	if h.mgr.State() != StateIdle {
		t.Errorf("expected idle, got %v", h.mgr.State())
	}
}

func TestManager_CancelIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)

	h.mgr.Cancel()
	h.mgr.Cancel()
	if h.mgr.State() != StateIdle {
		t.Fatalf("expected idle, got %v", h.mgr.State())
	}

	sink := newRecordingSink()
	if err := h.mgr.Listen(sink); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	h.first(t, sink)
	h.mgr.Cancel()
	h.mgr.Cancel()

	h.clock.Add(5 * h.cfg.SimulatedInterval)
	h.settle(t)
	if n := sink.count(); n != 1 {
		t.Errorf("expected 1 sample, got %d", n)
	}
}

func TestManager_SequentialCyclesAreIndependent(t *testing.T) {
	h := newHarness(t, nil)

	first := newRecordingSink()
	if err := h.mgr.Listen(first); err != nil {
		t.Fatalf("first Listen failed: %v", err)
	}
	h.first(t, first)
	h.tick(t, first)
	h.mgr.Cancel()
	firstCount := first.count()

	second := newRecordingSink()
	if err := h.mgr.Listen(second); err != nil {
		t.Fatalf("second Listen failed: %v", err)
	}
	h.first(t, second)
	for i := 0; i < 2; i++ {
		h.tick(t, second)
	}
	h.settle(t)

	if n := first.count(); n != firstCount || n != 2 {
		t.Errorf("first cycle received samples after cancel: %d (had %d)", n, firstCount)
	}
	if n := second.count(); n != 3 {
		t.Errorf("expected 3 samples in second cycle, got %d", n)
	}
}

func TestManager_ListenWhileActive(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.mgr.Listen(newRecordingSink()); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if err := h.mgr.Listen(newRecordingSink()); err != ErrSessionActive {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}
}

func TestManager_ListenNilSink(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.mgr.Listen(nil); err != ErrNilSink {
		t.Errorf("expected ErrNilSink, got %v", err)
	}
}

func TestManager_CloseRejectsListen(t *testing.T) {
	h := newHarness(t, nil)
	sink := newRecordingSink()
	if err := h.mgr.Listen(sink); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	h.first(t, sink)
	h.mgr.Close()
	h.mgr.Close()

	if err := h.mgr.Listen(newRecordingSink()); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	h.clock.Add(3 * h.cfg.SimulatedInterval)
	h.settle(t)
	if n := sink.count(); n != 1 {
		t.Errorf("expected no samples after Close, got %d in total", n)
	}
}

func TestManager_StaleSessionCannotDeliver(t *testing.T) {
	h := newIdleHarness(t, nil)

	first := newRecordingSink()
	if err := h.mgr.Listen(first); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	stale := h.mgr.current.Load()
	h.mgr.Cancel()

	second := newRecordingSink()
	if err := h.mgr.Listen(second); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	if h.mgr.deliver(stale, Sample{Origin: OriginSimulated}) {
		t.Error("stale session should not deliver")
	}
	if first.count() != 0 || second.count() != 0 {
		t.Errorf("stale delivery leaked: first=%d second=%d", first.count(), second.count())
	}
}

func TestManager_RealProducerPreferred(t *testing.T) {
	src := &fakeSource{hasSensor: true}
	h := newHarness(t, src)
	sink := newRecordingSink()

	if err := h.mgr.Listen(sink); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if origin, _ := h.mgr.Origin(); origin != OriginReal {
		t.Fatalf("expected real origin, got %v", origin)
	}
	if src.delay != h.cfg.SensorDelay {
		t.Errorf("expected requested delay %v, got %v", h.cfg.SensorDelay, src.delay)
	}

	src.push([3]float64{0.123, -9.876, 9.81})
	select {
	case ev := <-sink.got:
		want := "Accelerometer - X: 0.12, Y: -9.88, Z: 9.81 | Tue Mar 05 14:07:09 UTC 2024"
		if ev != want {
			t.Errorf("got %q, want %q", ev, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("real sample not delivered")
	}

	// Simulated ticks must not appear in a real session.
	h.clock.Add(3 * h.cfg.SimulatedInterval)
	h.settle(t)
	if n := sink.count(); n != 1 {
		t.Errorf("expected only the real sample, got %d", n)
	}
}

func TestManager_RealCancelSuppressesQueued(t *testing.T) {
	src := &fakeSource{hasSensor: true}
	h := newHarness(t, src)
	sink := newRecordingSink()

	if err := h.mgr.Listen(sink); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	l := src.listener

	h.mgr.Cancel()
	if src.unregistered != 1 {
		t.Errorf("expected listener unregistered once, got %d", src.unregistered)
	}
	// A late callback from the source after unregister.
	l.OnSensorChanged(platform.SensorEvent{Values: [3]float64{1, 2, 3}})
	h.settle(t)

	if n := sink.count(); n != 0 {
		t.Errorf("expected no samples after cancel, got %d", n)
	}
}

func TestManager_NoSensorFallsBack(t *testing.T) {
	h := newHarness(t, &fakeSource{hasSensor: false})
	if err := h.mgr.Listen(newRecordingSink()); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if origin, _ := h.mgr.Origin(); origin != OriginSimulated {
		t.Errorf("expected simulated origin, got %v", origin)
	}
}

func TestManager_RegistrationFailureFallsBack(t *testing.T) {
	src := &fakeSource{hasSensor: true, refuse: true}
	h := newHarness(t, src)
	sink := newRecordingSink()

	if err := h.mgr.Listen(sink); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if origin, _ := h.mgr.Origin(); origin != OriginSimulated {
		t.Fatalf("expected simulated origin, got %v", origin)
	}
	ev := h.first(t, sink)
	if !simulatedPattern.MatchString(ev) {
		t.Errorf("unexpected sample %q", ev)
	}

	// Fallback is decided once: the source recovering mid-session changes nothing.
	src.mu.Lock()
	src.refuse = false
	src.mu.Unlock()
	h.tick(t, sink)
	if origin, _ := h.mgr.Origin(); origin != OriginSimulated {
		t.Errorf("origin changed mid-session to %v", origin)
	}
}

func TestManager_ForceSimulated(t *testing.T) {
	src := &fakeSource{hasSensor: true}
	h := newHarness(t, src)
	h.mgr.cfg.ForceSimulated = true

	if err := h.mgr.Listen(newRecordingSink()); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if origin, _ := h.mgr.Origin(); origin != OriginSimulated {
		t.Errorf("expected simulated origin, got %v", origin)
	}
	if src.listener != nil {
		t.Error("real source should not be consulted when simulation is forced")
	}
}

func TestSimulatedProducer_StopsWhenSinkGone(t *testing.T) {
	mock := clock.NewMock()
	lp := looper.New(mock)
	if err := lp.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer lp.Stop()

	calls := make(chan struct{}, 8)
	p := NewSimulatedProducer(lp, mock, time.Second, 10, nil)
	if err := p.Start(func(Sample) bool {
		calls <- struct{}{}
		return false
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Start(func(Sample) bool { return true }); err == nil {
		t.Error("second Start should fail")
	}

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("opening tick did not run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := lp.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if lp.HasCallbacks(p.task) {
		t.Error("producer should not reschedule once emit reports no sink")
	}
	p.Stop()
	p.Stop()
}

func TestRealProducer_StartErrors(t *testing.T) {
	mock := clock.NewMock()
	lp := looper.New(mock)

	if err := NewRealProducer(nil, lp, mock, 0).Start(func(Sample) bool { return true }); err != ErrNoSensor {
		t.Errorf("expected ErrNoSensor for nil source, got %v", err)
	}
	if err := NewRealProducer(&fakeSource{}, lp, mock, 0).Start(func(Sample) bool { return true }); err != ErrNoSensor {
		t.Errorf("expected ErrNoSensor, got %v", err)
	}
	err := NewRealProducer(&fakeSource{hasSensor: true, refuse: true}, lp, mock, 0).Start(func(Sample) bool { return true })
	if err != ErrRegistrationFailed {
		t.Errorf("expected ErrRegistrationFailed, got %v", err)
	}

	p := NewRealProducer(&fakeSource{}, lp, mock, 0)
	p.Stop()
	p.Stop()
}
