// Package watchdog keeps a portal session alive.
//
// A Watchdog reacts to two independent trigger sources:
//  1. Connectivity - a "network available" transition schedules a relogin
//     after a 3s debounce. A newer event cancels and replaces the pending one.
//  2. Heartbeat - every 5 minutes the external resolver is pinged; if it is
//     unreachable a relogin is requested immediately.
//
// The sources may request relogins concurrently with each other. After
// MaxFailures consecutive failed attempts (reported by the owner through
// RecordFailure) the watchdog is frozen: neither source requests a relogin
// until ResetFailures is called.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/st-keller/portal-client/internal/i18n"
	"github.com/st-keller/portal-client/types"
)

const (
	MaxFailures       = 3
	HeartbeatInterval = 5 * time.Minute
	DebounceDelay     = 3 * time.Second
	ProbeTimeout      = 3 * time.Second
	DefaultProbeHost  = "114.114.114.114"
)

// Prober checks whether host answers within timeout.
// Unreachability is (false, nil); an error means the probe itself broke.
type Prober interface {
	Ping(ctx context.Context, host string, timeout time.Duration) (bool, error)
}

// ConnectivitySource delivers network availability transitions.
// The returned function unsubscribes.
type ConnectivitySource interface {
	Subscribe(fn func(available bool)) (cancel func())
}

// Metrics receives watchdog observations. A nil Metrics is valid.
type Metrics interface {
	ObserveRelogin(trigger types.Trigger)
	SetConsecutiveFailures(n int)
}

// State is the externally visible lifecycle state.
type State int

const (
	Stopped State = iota
	Running
	Frozen
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Frozen:
		return "frozen"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds watchdog configuration. Zero durations use the package defaults.
type Config struct {
	Relogin  types.ReloginFunc  // required
	Prober   Prober             // required
	Source   ConnectivitySource // optional, heartbeat only if nil
	OnStatus types.StatusFunc   // optional

	ProbeHost         string
	HeartbeatInterval time.Duration
	DebounceDelay     time.Duration
	ProbeTimeout      time.Duration

	Logger  *slog.Logger
	Metrics Metrics
}

// Validate checks if all required config fields are present.
func (c Config) Validate() error {
	if c.Relogin == nil {
		return fmt.Errorf("Relogin required")
	}
	if c.Prober == nil {
		return fmt.Errorf("Prober required")
	}
	if c.HeartbeatInterval < 0 || c.DebounceDelay < 0 || c.ProbeTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// debounceTask is the single pending connectivity relogin.
type debounceTask struct {
	cancel context.CancelFunc
}

// Watchdog monitors connectivity and requests relogins.
type Watchdog struct {
	config Config
	log    *slog.Logger

	failures atomic.Int32

	mu          sync.Mutex
	running     bool
	closed      bool
	generation  uint64 // bumped on every Start and Stop
	runCtx      context.Context
	runCancel   context.CancelFunc
	dispatch    *sync.WaitGroup // trigger work of the current run
	heartbeat   *time.Timer
	pending     *debounceTask
	unsubscribe func()
}

// New creates a stopped watchdog.
func New(config Config) (*Watchdog, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.ProbeHost == "" {
		config.ProbeHost = DefaultProbeHost
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = HeartbeatInterval
	}
	if config.DebounceDelay == 0 {
		config.DebounceDelay = DebounceDelay
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = ProbeTimeout
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watchdog{
		config: config,
		log:    logger.With("component", "watchdog"),
	}, nil
}

// Start arms the heartbeat and subscribes to connectivity changes.
// It is a no-op when already running or after Close.
func (w *Watchdog) Start() {
	w.mu.Lock()
	if w.running || w.closed {
		w.mu.Unlock()
		return
	}

	w.running = true
	w.generation++
	gen := w.generation
	w.runCtx, w.runCancel = context.WithCancel(context.Background())
	w.dispatch = &sync.WaitGroup{}
	w.heartbeat = time.AfterFunc(w.config.HeartbeatInterval, func() { w.onHeartbeatFire(gen) })
	w.mu.Unlock()

	w.log.Info("Watchdog started",
		"heartbeat", w.config.HeartbeatInterval.String(),
		"debounce", w.config.DebounceDelay.String(),
		"probe_host", w.config.ProbeHost)

	if w.config.Source == nil {
		return
	}

	// Subscribe outside the lock: a source may deliver the current state synchronously.
	unsubscribe := w.config.Source.Subscribe(w.OnConnectivityChanged)

	w.mu.Lock()
	if w.running && w.generation == gen {
		w.unsubscribe = unsubscribe
		unsubscribe = nil
	}
	w.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Stop cancels the pending debounce, disarms the heartbeat and unsubscribes.
// A relogin already in progress sees a cancelled context and Stop waits for
// it, so nothing scheduled by this watchdog runs after Stop returns.
// Stop must not be called from the Relogin or OnStatus callbacks.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}

	w.running = false
	w.generation++

	if w.heartbeat != nil {
		w.heartbeat.Stop()
		w.heartbeat = nil
	}
	if w.pending != nil {
		w.pending.cancel()
		w.pending = nil
	}
	if w.runCancel != nil {
		w.runCancel()
	}
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	dispatch := w.dispatch
	w.dispatch = nil
	w.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if dispatch != nil {
		dispatch.Wait()
	}

	w.log.Info("Watchdog stopped")
}

// Close stops the watchdog for good. Safe to call more than once.
func (w *Watchdog) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.Stop()
	return nil
}

// ============================================================================
// CIRCUIT BREAKER
// ============================================================================

// ResetFailures clears the failure counter after a successful login.
// A frozen watchdog resumes immediately and silently.
func (w *Watchdog) ResetFailures() {
	w.failures.Store(0)
	if w.config.Metrics != nil {
		w.config.Metrics.SetConsecutiveFailures(0)
	}
}

// RecordFailure counts a failed login. Reaching MaxFailures emits exactly
// one status notification.
func (w *Watchdog) RecordFailure() {
	n := w.failures.Add(1)
	if w.config.Metrics != nil {
		w.config.Metrics.SetConsecutiveFailures(int(n))
	}
	if n == MaxFailures {
		w.notify("", i18n.T("watchdog.frozen", map[string]any{"Count": MaxFailures}), false)
	}
}

// Failures returns the consecutive failure count.
func (w *Watchdog) Failures() int {
	return int(w.failures.Load())
}

// Frozen reports whether automatic relogin is suspended.
func (w *Watchdog) Frozen() bool {
	return w.failures.Load() >= MaxFailures
}

// Running reports whether Start has been called without a matching Stop.
func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// State returns Stopped, Running or Frozen.
func (w *Watchdog) State() State {
	if !w.Running() {
		return Stopped
	}
	if w.Frozen() {
		return Frozen
	}
	return Running
}

// ============================================================================
// CONNECTIVITY TRIGGER
// ============================================================================

// OnConnectivityChanged handles a connectivity transition. Only transitions
// to "available" while running and not frozen schedule a relogin.
func (w *Watchdog) OnConnectivityChanged(available bool) {
	if !available {
		return
	}

	w.mu.Lock()
	if !w.running || w.Frozen() {
		w.mu.Unlock()
		return
	}

	if w.pending != nil {
		w.pending.cancel()
	}
	ctx, cancel := context.WithCancel(w.runCtx)
	task := &debounceTask{cancel: cancel}
	w.pending = task
	runCtx := w.runCtx
	delay := w.config.DebounceDelay
	w.mu.Unlock()

	w.notify(types.TriggerConnectivity, i18n.T("watchdog.reconnected", map[string]any{"Delay": delay.String()}), false)

	go w.runDebounced(ctx, runCtx, task, delay)
}

// runDebounced waits out the debounce delay and requests a relogin unless
// the task was cancelled or replaced in the meantime.
func (w *Watchdog) runDebounced(ctx, runCtx context.Context, task *debounceTask, delay time.Duration) {
	defer task.cancel()
	defer w.recoverFault(types.TriggerConnectivity)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	// pending is cleared by Stop, so a current task belongs to the running generation.
	w.mu.Lock()
	current := w.running && w.pending == task && ctx.Err() == nil
	var dispatch *sync.WaitGroup
	if current {
		w.pending = nil
		dispatch = w.dispatch
		dispatch.Add(1)
	}
	w.mu.Unlock()

	if !current {
		return
	}
	defer dispatch.Done()
	defer w.recoverFault(types.TriggerConnectivity)

	if w.Frozen() {
		return
	}

	w.relogin(runCtx, types.TriggerConnectivity)
}

// ============================================================================
// HEARTBEAT TRIGGER
// ============================================================================

// onHeartbeatFire is called when the heartbeat timer fires.
func (w *Watchdog) onHeartbeatFire(gen uint64) {
	w.mu.Lock()
	if !w.running || w.generation != gen {
		w.mu.Unlock()
		return
	}
	ctx := w.runCtx
	dispatch := w.dispatch
	dispatch.Add(1)
	// Re-arm before probing so the period does not drift with probe time.
	w.heartbeat.Reset(w.config.HeartbeatInterval)
	w.mu.Unlock()

	defer dispatch.Done()
	w.checkHeartbeat(ctx, gen)
}

// checkHeartbeat probes the external resolver and requests a relogin when
// it is unreachable.
func (w *Watchdog) checkHeartbeat(ctx context.Context, gen uint64) {
	defer w.recoverFault(types.TriggerHeartbeat)

	if w.Frozen() {
		return
	}

	reachable, err := w.config.Prober.Ping(ctx, w.config.ProbeHost, w.config.ProbeTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.fault(types.TriggerHeartbeat, err)
		return
	}
	if reachable {
		w.log.Debug("Heartbeat ok", "probe_host", w.config.ProbeHost)
		return
	}

	if !w.current(gen) {
		return
	}

	w.notify(types.TriggerHeartbeat, i18n.T("watchdog.heartbeat_unreachable"), false)
	w.relogin(ctx, types.TriggerHeartbeat)
}

// current reports whether gen is still the active run.
func (w *Watchdog) current(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running && w.generation == gen
}

// ============================================================================
// TRIGGER BOUNDARY
// ============================================================================

// relogin invokes the owner's callback; its error becomes a notification.
func (w *Watchdog) relogin(ctx context.Context, trigger types.Trigger) {
	if w.config.Metrics != nil {
		w.config.Metrics.ObserveRelogin(trigger)
	}
	w.log.Info("Relogin requested", "trigger", string(trigger), "failures", w.Failures())

	if err := w.config.Relogin(ctx, trigger); err != nil {
		if ctx.Err() != nil {
			w.log.Debug("Relogin cancelled by stop", "trigger", string(trigger))
			return
		}
		w.fault(trigger, err)
	}
}

// recoverFault turns a panic inside a trigger into a notification.
func (w *Watchdog) recoverFault(trigger types.Trigger) {
	if r := recover(); r != nil {
		w.fault(trigger, fmt.Errorf("panic: %v", r))
	}
}

func (w *Watchdog) fault(trigger types.Trigger, err error) {
	id := "watchdog.heartbeat_fault"
	if trigger == types.TriggerConnectivity {
		id = "watchdog.connectivity_fault"
	}
	w.log.Warn("Watchdog trigger fault", "trigger", string(trigger), "error", err.Error())
	w.notify(trigger, i18n.T(id, map[string]any{"Error": err.Error()}), true)
}

// notify delivers a status notification. A panicking subscriber is logged
// and otherwise ignored.
func (w *Watchdog) notify(trigger types.Trigger, message string, fault bool) {
	if w.config.OnStatus == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Status subscriber panicked", "panic", fmt.Sprint(r))
		}
	}()
	w.config.OnStatus(types.Status{
		Time:    time.Now(),
		Trigger: trigger,
		Message: message,
		Fault:   fault,
	})
}
