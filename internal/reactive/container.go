// Package reactive provides an observable value holder.
package reactive

import "sync"

// Container holds a value of T and notifies subscribers on every change.
// Get returns a synchronous snapshot; callers must not mutate shared
// backing arrays of slice values.
type Container[T any] struct {
	mu     sync.RWMutex
	val    T
	nextID int
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// New returns a Container seeded with v.
func New[T any](v T) *Container[T] {
	return &Container[T]{val: v}
}

// Get returns the current value.
func (c *Container[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val
}

// Set replaces the value and notifies subscribers.
func (c *Container[T]) Set(v T) {
	c.mu.Lock()
	c.val = v
	subs := c.snapshotSubs()
	c.mu.Unlock()
	notify(subs, v)
}

// Update applies fn to the current value atomically and notifies subscribers
// with the result.
func (c *Container[T]) Update(fn func(T) T) T {
	c.mu.Lock()
	c.val = fn(c.val)
	v := c.val
	subs := c.snapshotSubs()
	c.mu.Unlock()
	notify(subs, v)
	return v
}

// Subscribe registers fn, calls it once with the current value and returns
// a function that removes the subscription.
func (c *Container[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscriber[T]{id: id, fn: fn})
	v := c.val
	c.mu.Unlock()

	fn(v)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Container[T]) snapshotSubs() []func(T) {
	out := make([]func(T), len(c.subs))
	for i, s := range c.subs {
		out[i] = s.fn
	}
	return out
}

// subscribers run outside the lock so they may call Get.
func notify[T any](subs []func(T), v T) {
	for _, fn := range subs {
		fn(v)
	}
}
