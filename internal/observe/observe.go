// Package observe is a typed publish/subscribe list whose unsubscribe
// functions are safe to call any number of times from any goroutine.
package observe

import "sync"

type Topic[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]func(T)
}

// Subscribe registers fn and returns its unsubscribe function. Only the first
// call of the returned function has an effect.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	t.mu.Lock()
	if t.subs == nil {
		t.subs = make(map[uint64]func(T))
	}
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// Publish calls every current subscriber synchronously, in no particular
// order. Subscribers may unsubscribe from inside the callback.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	fns := make([]func(T), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Clear drops every subscriber.
func (t *Topic[T]) Clear() {
	t.mu.Lock()
	clear(t.subs)
	t.mu.Unlock()
}
