// Package events fans watchdog status notifications out to named subscribers.
package events

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/st-keller/portal-client/types"
)

// Bus delivers each published status to every subscriber, in name order.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]types.StatusFunc
	log  *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs: make(map[string]types.StatusFunc),
		log:  logger.With("component", "events"),
	}
}

// Subscribe registers fn under name.
func (b *Bus) Subscribe(name string, fn types.StatusFunc) error {
	if name == "" {
		return fmt.Errorf("subscriber name required")
	}
	if fn == nil {
		return fmt.Errorf("subscriber func required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[name]; ok {
		return fmt.Errorf("subscriber %s already registered", name)
	}
	b.subs[name] = fn
	return nil
}

// Unsubscribe removes the named subscriber. Unknown names are ignored.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, name)
}

// Subscribers returns the registered names, sorted.
func (b *Bus) Subscribers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.subs))
	for name := range b.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Publish delivers s to every subscriber. A panicking subscriber is logged
// and skipped. Publish has the types.StatusFunc signature.
func (b *Bus) Publish(s types.Status) {
	b.mu.RLock()
	names := make([]string, 0, len(b.subs))
	for name := range b.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]types.StatusFunc, len(names))
	for i, name := range names {
		fns[i] = b.subs[name]
	}
	b.mu.RUnlock()

	for i, fn := range fns {
		b.deliver(names[i], fn, s)
	}
}

func (b *Bus) deliver(name string, fn types.StatusFunc, s types.Status) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Subscriber panicked", "subscriber", name, "panic", fmt.Sprint(r))
		}
	}()
	fn(s)
}
