package tracker

import "sync"

// registry holds listeners in registration order.
type registry[T any] struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(T)
}

func (r *registry[T]) add(fn func(T)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fns == nil {
		r.fns = make(map[int]func(T))
	}
	id := r.nextID
	r.nextID++
	r.fns[id] = fn

	return func() {
		r.mu.Lock()
		delete(r.fns, id)
		r.mu.Unlock()
	}
}

func (r *registry[T]) all() []func(T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]func(T), 0, len(r.fns))
	for id := 0; id < r.nextID; id++ {
		if fn, ok := r.fns[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
