package vm

import (
	"fmt"
	"sync"

	"github.com/NadimPy/virtualization-implementation/store"
)

// allocator hands out host ports monotonically: the next port is one past
// the highest port in the catalog. Freed ports are never reused, which keeps
// allocation race-free under the catalog's single-writer discipline and
// avoids colliding with stale firewall state. Ports handed to in-flight
// provisionings that have not reached the catalog yet are tracked in a
// reservation set so concurrent creates get distinct ports; the catalog's
// UNIQUE host_port column is the backstop.
type allocator struct {
	store     store.Store
	startPort int
	endPort   int

	mu       sync.Mutex
	reserved map[int]struct{}
}

func newAllocator(s store.Store, startPort, endPort int) *allocator {
	return &allocator{
		store:     s,
		startPort: startPort,
		endPort:   endPort,
		reserved:  make(map[int]struct{}),
	}
}

func (a *allocator) allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	max, ok, err := a.store.MaxHostPort()
	if err != nil {
		return 0, fmt.Errorf("querying max host port: %w", err)
	}

	if !ok || max < a.startPort-1 {
		max = a.startPort - 1
	}

	for port := range a.reserved {
		if port > max {
			max = port
		}
	}

	next := max + 1

	if next > a.endPort {
		return 0, fmt.Errorf("%w: %d-%d", ErrPortExhausted, a.startPort, a.endPort)
	}

	a.reserved[next] = struct{}{}

	return next, nil
}
