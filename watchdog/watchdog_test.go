package watchdog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/st-keller/portal-client/types"
)

// fakeSource is a ConnectivitySource driven by the test.
type fakeSource struct {
	mu   sync.Mutex
	next int
	subs map[int]func(bool)
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: make(map[int]func(bool))}
}

func (s *fakeSource) Subscribe(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *fakeSource) Emit(available bool) {
	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(available)
	}
}

func (s *fakeSource) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// fakeProber answers with a fixed reachability.
type fakeProber struct {
	reachable atomic.Bool
	err       error
	calls     atomic.Int32
	mu        sync.Mutex
	hosts     []string
	timeouts  []time.Duration
}

func (p *fakeProber) Ping(_ context.Context, host string, timeout time.Duration) (bool, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.hosts = append(p.hosts, host)
	p.timeouts = append(p.timeouts, timeout)
	p.mu.Unlock()
	if p.err != nil {
		return false, p.err
	}
	return p.reachable.Load(), nil
}

// recorder collects relogin calls and status notifications.
type recorder struct {
	mu       sync.Mutex
	relogins []time.Time
	triggers []types.Trigger
	statuses []types.Status
	err      error
	panicMsg string
}

func (r *recorder) relogin(_ context.Context, trigger types.Trigger) error {
	r.mu.Lock()
	r.relogins = append(r.relogins, time.Now())
	r.triggers = append(r.triggers, trigger)
	err, panicMsg := r.err, r.panicMsg
	r.mu.Unlock()
	if panicMsg != "" {
		panic(panicMsg)
	}
	return err
}

func (r *recorder) status(s types.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) reloginCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.relogins)
}

func (r *recorder) statusSnapshot() []types.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Status, len(r.statuses))
	copy(out, r.statuses)
	return out
}

func newTestWatchdog(t *testing.T, rec *recorder, prober *fakeProber, source ConnectivitySource, heartbeat, debounce time.Duration) *Watchdog {
	t.Helper()
	w, err := New(Config{
		Relogin:           rec.relogin,
		Prober:            prober,
		Source:            source,
		OnStatus:          rec.status,
		HeartbeatInterval: heartbeat,
		DebounceDelay:     debounce,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func reachableProber() *fakeProber {
	p := &fakeProber{}
	p.reachable.Store(true)
	return p
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Prober: &fakeProber{}})
	assert.Error(t, err)

	_, err = New(Config{Relogin: func(context.Context, types.Trigger) error { return nil }})
	assert.Error(t, err)

	w, err := New(Config{Relogin: func(context.Context, types.Trigger) error { return nil }, Prober: &fakeProber{}})
	require.NoError(t, err)
	assert.Equal(t, DefaultProbeHost, w.config.ProbeHost)
	assert.Equal(t, HeartbeatInterval, w.config.HeartbeatInterval)
	assert.Equal(t, DebounceDelay, w.config.DebounceDelay)
	assert.Equal(t, ProbeTimeout, w.config.ProbeTimeout)
}

func TestRecordFailure_FreezesOnThirdWithSingleNotification(t *testing.T) {
	rec := &recorder{}
	w := newTestWatchdog(t, rec, reachableProber(), nil, time.Hour, time.Hour)

	w.RecordFailure()
	w.RecordFailure()
	assert.False(t, w.Frozen())
	assert.Empty(t, rec.statusSnapshot())

	w.RecordFailure()
	assert.True(t, w.Frozen())
	require.Len(t, rec.statusSnapshot(), 1)

	w.RecordFailure()
	assert.True(t, w.Frozen())
	assert.Len(t, rec.statusSnapshot(), 1)
	assert.Equal(t, 4, w.Failures())
}

func TestResetFailures_UnfreezesSilently(t *testing.T) {
	rec := &recorder{}
	w := newTestWatchdog(t, rec, reachableProber(), nil, time.Hour, time.Hour)
	w.Start()

	for i := 0; i < MaxFailures; i++ {
		w.RecordFailure()
	}
	assert.Equal(t, Frozen, w.State())
	before := len(rec.statusSnapshot())

	w.ResetFailures()
	assert.False(t, w.Frozen())
	assert.Equal(t, Running, w.State())
	assert.Len(t, rec.statusSnapshot(), before)
}

func TestRecordFailure_ConcurrentCallers(t *testing.T) {
	rec := &recorder{}
	w := newTestWatchdog(t, rec, reachableProber(), nil, time.Hour, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.RecordFailure()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, w.Failures())
	assert.Len(t, rec.statusSnapshot(), 1)
}

func TestConnectivity_DebouncesBurst(t *testing.T) {
	const debounce = 300 * time.Millisecond
	rec := &recorder{}
	src := newFakeSource()
	w := newTestWatchdog(t, rec, reachableProber(), src, time.Hour, debounce)
	w.Start()

	src.Emit(true)
	time.Sleep(100 * time.Millisecond)
	second := time.Now()
	src.Emit(true)

	require.Eventually(t, func() bool { return rec.reloginCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(2 * debounce)
	assert.Equal(t, 1, rec.reloginCount())

	rec.mu.Lock()
	fired := rec.relogins[0]
	trigger := rec.triggers[0]
	rec.mu.Unlock()

	assert.GreaterOrEqual(t, fired.Sub(second), debounce)
	assert.Less(t, fired.Sub(second), debounce+250*time.Millisecond)
	assert.Equal(t, types.TriggerConnectivity, trigger)

	// One "reconnected" notification per event, no notification for the cancelled one.
	statuses := rec.statusSnapshot()
	assert.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.False(t, s.Fault)
		assert.Equal(t, types.TriggerConnectivity, s.Trigger)
	}
}

func TestConnectivity_IgnoredWhenUnavailableStoppedOrFrozen(t *testing.T) {
	const debounce = 50 * time.Millisecond
	rec := &recorder{}
	src := newFakeSource()
	w := newTestWatchdog(t, rec, reachableProber(), src, time.Hour, debounce)

	// Not started: nobody is subscribed, direct calls are ignored too.
	w.OnConnectivityChanged(true)

	w.Start()
	src.Emit(false)

	for i := 0; i < MaxFailures; i++ {
		w.RecordFailure()
	}
	src.Emit(true)

	time.Sleep(4 * debounce)
	assert.Equal(t, 0, rec.reloginCount())
}

func TestConnectivity_FreezeDuringDebounceSuppressesRelogin(t *testing.T) {
	const debounce = 150 * time.Millisecond
	rec := &recorder{}
	src := newFakeSource()
	w := newTestWatchdog(t, rec, reachableProber(), src, time.Hour, debounce)
	w.Start()

	src.Emit(true)
	for i := 0; i < MaxFailures; i++ {
		w.RecordFailure()
	}

	time.Sleep(3 * debounce)
	assert.Equal(t, 0, rec.reloginCount())
}

func TestStop_CancelsPendingDebounceSilently(t *testing.T) {
	const debounce = 100 * time.Millisecond
	rec := &recorder{}
	src := newFakeSource()
	w := newTestWatchdog(t, rec, reachableProber(), src, time.Hour, debounce)
	w.Start()
	assert.Equal(t, 1, src.Subscribers())

	src.Emit(true)
	w.Stop()
	assert.Equal(t, 0, src.Subscribers())
	assert.Equal(t, Stopped, w.State())

	time.Sleep(3 * debounce)
	assert.Equal(t, 0, rec.reloginCount())
	assert.Len(t, rec.statusSnapshot(), 1) // only the "reconnected" notice
}

// gateMetrics blocks ObserveRelogin until release is closed.
type gateMetrics struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGateMetrics() *gateMetrics {
	return &gateMetrics{entered: make(chan struct{}), release: make(chan struct{})}
}

func (m *gateMetrics) ObserveRelogin(types.Trigger) {
	m.once.Do(func() { close(m.entered) })
	<-m.release
}

func (m *gateMetrics) SetConsecutiveFailures(int) {}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestStop_WaitsForDispatchedRelogin(t *testing.T) {
	rec := &recorder{}
	gate := newGateMetrics()
	var cancelled atomic.Bool
	w, err := New(Config{
		Relogin: func(ctx context.Context, trigger types.Trigger) error {
			cancelled.Store(ctx.Err() != nil)
			return rec.relogin(ctx, trigger)
		},
		Prober:            reachableProber(),
		OnStatus:          rec.status,
		HeartbeatInterval: time.Hour,
		DebounceDelay:     10 * time.Millisecond,
		Metrics:           gate,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	w.Start()
	w.OnConnectivityChanged(true)
	waitClosed(t, gate.entered, "relogin dispatch")

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	assert.Never(t, func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}, 100*time.Millisecond, 10*time.Millisecond)

	close(gate.release)
	waitClosed(t, stopped, "Stop")

	// The relogin finished before Stop returned and saw the cancelled run.
	assert.Equal(t, 1, rec.reloginCount())
	assert.True(t, cancelled.Load())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.reloginCount())
}

func TestStop_CancelsReloginInProgressSilently(t *testing.T) {
	rec := &recorder{}
	entered := make(chan struct{})
	var once sync.Once
	w, err := New(Config{
		Relogin: func(ctx context.Context, _ types.Trigger) error {
			once.Do(func() { close(entered) })
			<-ctx.Done()
			return ctx.Err()
		},
		Prober:            reachableProber(),
		OnStatus:          rec.status,
		HeartbeatInterval: time.Hour,
		DebounceDelay:     10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	w.Start()
	w.OnConnectivityChanged(true)
	waitClosed(t, entered, "relogin")

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	waitClosed(t, stopped, "Stop")

	for _, s := range rec.statusSnapshot() {
		assert.False(t, s.Fault, s.Message)
	}
}

func TestStop_WaitsForHeartbeatRelogin(t *testing.T) {
	rec := &recorder{}
	gate := newGateMetrics()
	w, err := New(Config{
		Relogin:           rec.relogin,
		Prober:            &fakeProber{},
		OnStatus:          rec.status,
		HeartbeatInterval: 20 * time.Millisecond,
		DebounceDelay:     time.Hour,
		Metrics:           gate,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	w.Start()
	waitClosed(t, gate.entered, "heartbeat relogin")

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	time.Sleep(50 * time.Millisecond)
	close(gate.release)
	waitClosed(t, stopped, "Stop")

	n := rec.reloginCount()
	assert.GreaterOrEqual(t, n, 1)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, rec.reloginCount())
}

func TestHeartbeat_UnreachableRequestsOneRelogin(t *testing.T) {
	const heartbeat = 100 * time.Millisecond
	rec := &recorder{}
	prober := &fakeProber{} // unreachable

	w := newTestWatchdog(t, rec, prober, nil, heartbeat, time.Hour)
	w.Start()

	require.Eventually(t, func() bool { return rec.reloginCount() == 1 }, time.Second, 5*time.Millisecond)
	prober.reachable.Store(true)
	w.Stop()

	assert.Equal(t, 1, rec.reloginCount())
	statuses := rec.statusSnapshot()
	require.Len(t, statuses, 1)
	assert.Equal(t, types.TriggerHeartbeat, statuses[0].Trigger)

	prober.mu.Lock()
	defer prober.mu.Unlock()
	assert.Equal(t, DefaultProbeHost, prober.hosts[0])
	assert.Equal(t, ProbeTimeout, prober.timeouts[0])
}

func TestHeartbeat_ReachableDoesNothing(t *testing.T) {
	const heartbeat = 30 * time.Millisecond
	rec := &recorder{}
	prober := reachableProber()
	w := newTestWatchdog(t, rec, prober, nil, heartbeat, time.Hour)
	w.Start()

	require.Eventually(t, func() bool { return prober.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, rec.reloginCount())
	assert.Empty(t, rec.statusSnapshot())
}

func TestHeartbeat_SkippedWhileFrozen(t *testing.T) {
	const heartbeat = 30 * time.Millisecond
	rec := &recorder{}
	prober := &fakeProber{}
	w := newTestWatchdog(t, rec, prober, nil, heartbeat, time.Hour)
	for i := 0; i < MaxFailures; i++ {
		w.RecordFailure()
	}
	w.Start()

	time.Sleep(5 * heartbeat)
	assert.Equal(t, int32(0), prober.calls.Load())
	assert.Equal(t, 0, rec.reloginCount())
}

func TestHeartbeat_FaultsBecomeNotificationsAndTimerSurvives(t *testing.T) {
	const heartbeat = 30 * time.Millisecond
	rec := &recorder{panicMsg: "callback exploded"}
	prober := &fakeProber{}
	w := newTestWatchdog(t, rec, prober, nil, heartbeat, time.Hour)
	w.Start()

	require.Eventually(t, func() bool { return rec.reloginCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
	w.Stop()

	faults := 0
	for _, s := range rec.statusSnapshot() {
		if s.Fault {
			faults++
			assert.Contains(t, s.Message, "callback exploded")
		}
	}
	assert.GreaterOrEqual(t, faults, 3)
}

func TestHeartbeat_ProbeErrorIsNotification(t *testing.T) {
	const heartbeat = 30 * time.Millisecond
	rec := &recorder{}
	prober := &fakeProber{err: errors.New("socket: permission denied")}
	w := newTestWatchdog(t, rec, prober, nil, heartbeat, time.Hour)
	w.Start()

	require.Eventually(t, func() bool { return len(rec.statusSnapshot()) >= 2 }, time.Second, 5*time.Millisecond)
	w.Stop()

	assert.Equal(t, 0, rec.reloginCount())
	for _, s := range rec.statusSnapshot() {
		assert.True(t, s.Fault)
		assert.Contains(t, s.Message, "permission denied")
	}
}

func TestConnectivity_ReloginErrorIsNotification(t *testing.T) {
	const debounce = 30 * time.Millisecond
	rec := &recorder{err: errors.New("credentials unavailable")}
	src := newFakeSource()
	w := newTestWatchdog(t, rec, reachableProber(), src, time.Hour, debounce)
	w.Start()

	src.Emit(true)
	require.Eventually(t, func() bool { return len(rec.statusSnapshot()) == 2 }, time.Second, 5*time.Millisecond)

	statuses := rec.statusSnapshot()
	assert.False(t, statuses[0].Fault)
	assert.True(t, statuses[1].Fault)
	assert.Contains(t, statuses[1].Message, "credentials unavailable")

	// The watchdog keeps handling events.
	src.Emit(true)
	require.Eventually(t, func() bool { return rec.reloginCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestStopStart_NoDuplicateHeartbeats(t *testing.T) {
	const heartbeat = 100 * time.Millisecond
	rec := &recorder{}
	prober := reachableProber()
	w := newTestWatchdog(t, rec, prober, nil, heartbeat, time.Hour)

	w.Start()
	for i := 0; i < 5; i++ {
		w.Stop()
		w.Start()
	}
	w.Start() // idempotent

	time.Sleep(350 * time.Millisecond)
	w.Stop()

	calls := prober.calls.Load()
	assert.GreaterOrEqual(t, calls, int32(2))
	assert.LessOrEqual(t, calls, int32(4))
}

func TestClose_Idempotent(t *testing.T) {
	rec := &recorder{}
	src := newFakeSource()
	w := newTestWatchdog(t, rec, reachableProber(), src, time.Hour, time.Hour)
	w.Start()

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, 0, src.Subscribers())

	w.Start()
	assert.False(t, w.Running())
	assert.Equal(t, 0, src.Subscribers())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "frozen", Frozen.String())
}
