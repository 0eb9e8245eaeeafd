package standard

import (
	"sync"

	"github.com/st-keller/portal-client/types"
)

// StatusLog keeps the most recent watchdog status notifications.
type StatusLog struct {
	mu         sync.Mutex
	entries    []types.Status
	maxEntries int
}

// NewStatusLog creates a ring of at most maxEntries notifications.
func NewStatusLog(maxEntries int) *StatusLog {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &StatusLog{
		entries:    make([]types.Status, 0, maxEntries),
		maxEntries: maxEntries,
	}
}

// Record appends a notification, dropping the oldest beyond capacity.
// It has the types.StatusFunc signature so it can subscribe directly.
func (r *StatusLog) Record(s types.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, s)
	if len(r.entries) > r.maxEntries {
		r.entries = r.entries[len(r.entries)-r.maxEntries:]
	}
}

// Entries returns a copy, oldest first.
func (r *StatusLog) Entries() []types.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.Status, len(r.entries))
	copy(out, r.entries)
	return out
}

// Faults counts recorded notifications produced from recovered faults.
func (r *StatusLog) Faults() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if e.Fault {
			n++
		}
	}
	return n
}
