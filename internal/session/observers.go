package session

import "sync"

// observers is a multi-subscriber callback list. Registration order is
// notification order; removing one subscriber never affects another.
type observers[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []observer[T]
}

type observer[T any] struct {
	id int
	fn func(T)
}

func (o *observers[T]) add(fn func(T)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs = append(o.subs, observer[T]{id: id, fn: fn})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			for i, s := range o.subs {
				if s.id == id {
					o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// notify calls every subscriber outside the lock, so a subscriber may
// unsubscribe itself.
func (o *observers[T]) notify(v T) {
	o.mu.Lock()
	subs := append([]observer[T](nil), o.subs...)
	o.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}
