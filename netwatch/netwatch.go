// Package netwatch reports network availability transitions by polling the
// host's interface table.
package netwatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// DefaultPollInterval is how often the interface table is read.
const DefaultPollInterval = 2 * time.Second

// InterfacesFunc lists the host's interfaces.
type InterfacesFunc func(ctx context.Context) (psnet.InterfaceStatList, error)

// Config holds watcher configuration.
type Config struct {
	PollInterval time.Duration
	Interfaces   InterfacesFunc // defaults to gopsutil
	Logger       *slog.Logger
}

// Watcher polls interfaces and notifies subscribers when availability flips.
type Watcher struct {
	interval   time.Duration
	interfaces InterfacesFunc
	log        *slog.Logger

	mu        sync.Mutex
	subs      map[int]func(bool)
	nextID    int
	available bool
	known     bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a stopped watcher.
func New(config Config) (*Watcher, error) {
	if config.PollInterval < 0 {
		return nil, fmt.Errorf("invalid config: poll interval must not be negative")
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Interfaces == nil {
		config.Interfaces = psnet.InterfacesWithContext
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		interval:   config.PollInterval,
		interfaces: config.Interfaces,
		log:        logger.With("component", "netwatch"),
		subs:       make(map[int]func(bool)),
	}, nil
}

// Subscribe registers fn for availability transitions. The first poll only
// establishes the baseline and is not delivered.
func (w *Watcher) Subscribe(fn func(available bool)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.subs[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs, id)
	}
}

// Start begins polling. Calling Start on a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	go w.run(ctx, done)
}

// Stop halts polling and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.known = false
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Available reports the last observed availability.
func (w *Watcher) Available() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.available
}

func (w *Watcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll reads the interface table once and notifies on a transition.
func (w *Watcher) Poll(ctx context.Context) {
	ifaces, err := w.interfaces(ctx)
	if err != nil {
		w.log.Warn("Failed to list interfaces", "error", err.Error())
		return
	}
	available := HasUsableInterface(ifaces)

	w.mu.Lock()
	changed := w.known && available != w.available
	w.available = available
	w.known = true
	var fns []func(bool)
	if changed {
		fns = make([]func(bool), 0, len(w.subs))
		for _, fn := range w.subs {
			fns = append(fns, fn)
		}
	}
	w.mu.Unlock()

	if !changed {
		return
	}
	w.log.Info("Network availability changed", "available", available)
	for _, fn := range fns {
		fn(available)
	}
}

// HasUsableInterface reports whether any interface is up, not loopback and
// carries an address that is neither loopback nor link-local.
func HasUsableInterface(ifaces psnet.InterfaceStatList) bool {
	for _, iface := range ifaces {
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		for _, a := range iface.Addrs {
			prefix, err := netip.ParsePrefix(a.Addr)
			if err != nil {
				continue
			}
			addr := prefix.Addr()
			if addr.IsLoopback() || addr.IsLinkLocalUnicast() {
				continue
			}
			return true
		}
	}
	return false
}
