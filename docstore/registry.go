package docstore

import "sync"

// Registry owns live subscriptions of a view and releases them together.
type Registry struct {
	mtx    sync.Mutex
	subs   []Subscription
	closed bool
}

func (r *Registry) Add(sub Subscription) Subscription {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.closed {
		sub.Close()
		return sub
	}
	r.subs = append(r.subs, sub)
	return sub
}

func (r *Registry) Len() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.subs)
}

func (r *Registry) Close() {
	r.mtx.Lock()
	subs := r.subs
	r.subs = nil
	r.closed = true
	r.mtx.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// SubscriptionFunc adapts a cancel function to a Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Close() { f() }
