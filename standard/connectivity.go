// Package standard provides the bookkeeping components shared by the CLI:
// call statistics and the recent status ring.
package standard

import (
	"sort"
	"sync"
	"time"

	"github.com/st-keller/portal-client/types"
)

// Window is how long call records are kept.
const Window = time.Hour

// Call is a single call to the portal or the probe target.
type Call struct {
	Timestamp time.Time
	Success   bool
	Latency   time.Duration
	Kind      types.Kind
	Error     string
}

// target tracks calls to a single remote endpoint.
type target struct {
	name  string
	url   string
	calls []Call
}

// TargetStats summarises one endpoint over the window.
type TargetStats struct {
	Name         string
	URL          string
	Status       string // healthy, degraded, unhealthy
	LastCall     time.Time
	Total        int
	SuccessRate  float64
	P50, P95     time.Duration
	P99          time.Duration
	RecentErrors []string
}

// ConnectivityTracker tracks calls to the portal and the probe target.
type ConnectivityTracker struct {
	mu      sync.Mutex
	targets map[string]*target
	now     func() time.Time
}

// NewConnectivityTracker creates a new tracker.
func NewConnectivityTracker() *ConnectivityTracker {
	return &ConnectivityTracker{
		targets: make(map[string]*target),
		now:     time.Now,
	}
}

// TrackSuccess records a successful call.
func (t *ConnectivityTracker) TrackSuccess(name, url string, latency time.Duration) {
	t.track(name, url, Call{Success: true, Latency: latency, Kind: types.KindNone})
}

// TrackFailure records a failed call.
func (t *ConnectivityTracker) TrackFailure(name, url string, latency time.Duration, kind types.Kind, errorMsg string) {
	t.track(name, url, Call{Success: false, Latency: latency, Kind: kind, Error: errorMsg})
}

func (t *ConnectivityTracker) track(name, url string, call Call) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	call.Timestamp = t.now().UTC()

	tg, ok := t.targets[name]
	if !ok {
		tg = &target{name: name, url: url}
		t.targets[name] = tg
	}
	tg.calls = append(tg.calls, call)
	t.prune(tg)
}

// prune removes calls older than Window.
func (t *ConnectivityTracker) prune(tg *target) {
	cutoff := t.now().Add(-Window)
	for i, call := range tg.calls {
		if call.Timestamp.After(cutoff) {
			tg.calls = tg.calls[i:]
			return
		}
	}
	tg.calls = tg.calls[:0]
}

// Snapshot returns per-target statistics sorted by name.
func (t *ConnectivityTracker) Snapshot() []TargetStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TargetStats, 0, len(t.targets))
	for _, tg := range t.targets {
		t.prune(tg)
		if len(tg.calls) == 0 {
			continue
		}

		stats := TargetStats{Name: tg.name, URL: tg.url, Total: len(tg.calls)}
		latencies := make([]time.Duration, 0, len(tg.calls))
		successes := 0

		for _, call := range tg.calls {
			if call.Success {
				successes++
			} else if len(stats.RecentErrors) < 5 {
				stats.RecentErrors = append(stats.RecentErrors, call.Error)
			}
			latencies = append(latencies, call.Latency)
			if call.Timestamp.After(stats.LastCall) {
				stats.LastCall = call.Timestamp
			}
		}

		stats.SuccessRate = float64(successes) / float64(stats.Total)

		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		stats.P50 = percentile(latencies, 0.50)
		stats.P95 = percentile(latencies, 0.95)
		stats.P99 = percentile(latencies, 0.99)

		switch {
		case stats.SuccessRate < 0.9:
			stats.Status = "unhealthy"
		case stats.SuccessRate < 0.95:
			stats.Status = "degraded"
		default:
			stats.Status = "healthy"
		}

		out = append(out, stats)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// percentile returns the p-th value of a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}
