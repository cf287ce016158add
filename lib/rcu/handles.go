package rcu

import (
	"github.com/ValentinKolb/sgkv/lib/evctx"
)

// --------------------------------------------------------------------------
// Read
// --------------------------------------------------------------------------

// Read is a view of one version of an object.
type Read[T any] struct {
	p *T
}

// Get returns the value the view was created with.
func (r Read[T]) Get() *T {
	return r.p
}

// --------------------------------------------------------------------------
// ReadQuiesce
// --------------------------------------------------------------------------

// ReadQuiesce is a view of one version of an object. Closing it declares the
// slot quiescent on the object, the value must not be used afterwards.
type ReadQuiesce[T any] struct {
	obj *Object[T]
	ctx evctx.Context
	p   *T
}

// Get returns the value the view was created with.
func (r *ReadQuiesce[T]) Get() *T {
	return r.p
}

// Close declares the slot of the view quiescent.
func (r *ReadQuiesce[T]) Close() error {
	r.p = nil
	return r.obj.Quiescent(r.ctx)
}

// --------------------------------------------------------------------------
// Update
// --------------------------------------------------------------------------

// Update holds the mutex of an object. Only one Update exists per object at
// any time.
type Update[T any] struct {
	obj    *Object[T]
	ctx    evctx.Context
	closed bool
}

// Get returns the current value.
func (u *Update[T]) Get() *T {
	return u.obj.current.Load()
}

// Update publishes p as the new current value. The replaced value is retired
// with a grace period covering every slot except the one of the handle.
func (u *Update[T]) Update(p *T) {
	if u.closed {
		panic("rcu: update on a closed handle")
	}
	u.obj.publish(u.ctx, p)
}

// Discard retires p while the lock is held.
func (u *Update[T]) Discard(p *T) {
	if u.closed {
		panic("rcu: discard on a closed handle")
	}
	if p != nil {
		u.obj.pushGarbage(u.ctx, p)
		discardsTotal.Inc()
	}
}

// Close releases the lock. Closing twice is a no-op.
func (u *Update[T]) Close() {
	if u.closed {
		return
	}
	u.closed = true
	u.obj.mu.Unlock()
}
