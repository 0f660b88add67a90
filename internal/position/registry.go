package position

import (
	"sync"

	"github.com/wnt/farmdash/internal/utils"
)

// Registry holds the latest snapshot of every tracked position
type Registry struct {
	mutex     sync.RWMutex
	positions map[string]Position
	order     []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		positions: make(map[string]Position),
	}
}

// Put replaces the snapshot for p.ID and returns the one it replaced
func (r *Registry) Put(p Position) *Position {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	prev, exists := r.positions[p.ID]
	r.positions[p.ID] = p
	if !exists {
		r.order = append(r.order, p.ID)
		return nil
	}
	return &prev
}

// Get returns the latest snapshot for id
func (r *Registry) Get(id string) (Position, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	p, ok := r.positions[id]
	return p, ok
}

// All returns every snapshot in registration order
func (r *Registry) All() []Position {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]Position, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.positions[id])
	}
	return out
}

// Active returns only positions with a non-zero stake
func (r *Registry) Active() []Position {
	return utils.Filter(r.All(), Position.IsActive)
}
