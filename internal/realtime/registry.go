package realtime

import "sync"

type handlerEntry[T any] struct {
	id uint64
	fn func(T)
}

// handlerList keeps callbacks in registration order and hands out a
// disposer per registration, so mount/unmount cycles in the consuming UI
// cannot accumulate stale handlers.
type handlerList[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []handlerEntry[T]
}

func (l *handlerList[T]) add(fn func(T)) (unregister func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, handlerEntry[T]{id: id, fn: fn})

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, e := range l.entries {
			if e.id == id {
				l.entries = append(l.entries[:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

// snapshot copies the current callbacks so dispatch runs without holding
// the lock.
func (l *handlerList[T]) snapshot() []func(T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fns := make([]func(T), len(l.entries))
	for i, e := range l.entries {
		fns[i] = e.fn
	}
	return fns
}

func (l *handlerList[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
