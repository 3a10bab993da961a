package chatclient

import "sync"

// Subscription cancels a handler registration. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

type subscriptionFunc struct {
	once   sync.Once
	cancel func()
}

func (s *subscriptionFunc) Unsubscribe() {
	s.once.Do(s.cancel)
}

// registry keeps handlers in registration order.
type registry[T any] struct {
	mu       sync.Mutex
	next     uint64
	handlers []registered[T]
}

type registered[T any] struct {
	id uint64
	fn func(T)
}

func (r *registry[T]) add(fn func(T)) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	id := r.next
	r.handlers = append(r.handlers, registered[T]{id: id, fn: fn})

	return &subscriptionFunc{cancel: func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, h := range r.handlers {
			if h.id == id {
				r.handlers = append(r.handlers[:i:i], r.handlers[i+1:]...)
				return
			}
		}
	}}
}

func (r *registry[T]) snapshot() []func(T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fns := make([]func(T), len(r.handlers))
	for i, h := range r.handlers {
		fns[i] = h.fn
	}
	return fns
}
