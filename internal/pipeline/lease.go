package pipeline

import (
	"sync"

	"github.com/clauselens/clauselens/internal/types"
)

// leases maps a contract identity to the run currently holding it.
type leases struct {
	mu     sync.Mutex
	active map[string]string
}

func newLeases() *leases {
	return &leases{active: map[string]string{}}
}

// acquire grants identity to runID, or returns the holder and
// ErrConcurrencyConflict.
func (l *leases) acquire(identity, runID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if holder, ok := l.active[identity]; ok {
		return holder, types.ErrConcurrencyConflict
	}
	l.active[identity] = runID
	return runID, nil
}

func (l *leases) release(identity, runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[identity] == runID {
		delete(l.active, identity)
	}
}

func (l *leases) holder(identity string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.active[identity]
	return id, ok
}
