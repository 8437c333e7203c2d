package txn

import (
	"sync"
)

// Registry tracks active transactions. Close uses it to log a warning
// when transactions are still active; a transaction leaves the registry
// when it reaches a terminal state.
type Registry struct {
	mu     sync.Mutex
	active map[*Txn]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		active: make(map[*Txn]struct{}),
	}
}

// Register adds a transaction to the registry.
func (r *Registry) Register(tx *Txn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[tx] = struct{}{}
}

// Unregister removes a transaction from the registry.
func (r *Registry) Unregister(tx *Txn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, tx)
}

// ActiveCount returns the number of transactions not yet terminal.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
