package link

import (
	"sync"

	"github.com/google/uuid"
)

// CallbackID identifies a registered listener.
type CallbackID = uuid.UUID

// Registry is an ordered set of listeners guarded by one mutex. Dispatch calls
// every listener in registration order while holding the lock, so a listener
// removed concurrently is either called to completion or not at all.
// Listeners must not add or remove listeners from inside a callback.
type Registry[T any] struct {
	mu    sync.Mutex
	order []CallbackID
	items map[CallbackID]T
}

// Add registers fn and returns its id.
func (r *Registry[T]) Add(fn T) CallbackID {
	id := uuid.New()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items == nil {
		r.items = make(map[CallbackID]T)
	}
	r.items[id] = fn
	r.order = append(r.order, id)
	return id
}

// Remove unregisters id. It reports whether id was registered.
func (r *Registry[T]) Remove(id CallbackID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return false
	}
	delete(r.items, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of registered listeners.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Dispatch calls call for every listener in registration order.
func (r *Registry[T]) Dispatch(call func(T)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		call(r.items[id])
	}
}
