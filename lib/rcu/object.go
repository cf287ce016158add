package rcu

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/sgkv/lib/evctx"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
	"sync/atomic"
)

var log = logger.GetLogger("rcu")

var (
	updatesTotal     = metrics.NewCounter(`sgkv_rcu_updates_total`)
	discardsTotal    = metrics.NewCounter(`sgkv_rcu_discards_total`)
	reclaimedTotal   = metrics.NewCounter(`sgkv_rcu_reclaimed_total`)
	quiescentSlowOps = metrics.NewCounter(`sgkv_rcu_quiescent_locked_total`)
)

// ErrSlotOutOfRange is returned by Quiescent() for a slot >= the number of
// slots the object was created with.
var ErrSlotOutOfRange = errors.New("rcu: slot out of range")

// IQuiescer is anything a slot can be declared quiescent on.
type IQuiescer interface {
	Quiescent(ctx evctx.Context) error
}

// --------------------------------------------------------------------------
// ObjectBase (type independent part)
// --------------------------------------------------------------------------

// ObjectBase holds the retired values of an object together with the grace
// bookkeeping. It does not know the type of the values.
type ObjectBase struct {
	mu sync.Mutex

	// retired values, oldest first. The first nOld of them belong to the old tier.
	garbage  []any
	grace    Grace
	oldGrace Grace
	nOld     int

	// set while garbage is not empty, read without the lock
	dirty atomic.Bool

	reclaim func(v any)
}

func newObjectBase(nSlots int, reclaim func(v any)) ObjectBase {
	if nSlots < 1 {
		nSlots = 1
	}
	return ObjectBase{
		grace:    NewGrace(nSlots),
		oldGrace: NewGrace(nSlots),
		reclaim:  reclaim,
	}
}

// NumSlots returns the number of slots the object tracks.
func (b *ObjectBase) NumSlots() int {
	return b.grace.Len()
}

// Quiescent declares that the slot of ctx no longer references any value
// retired from this object. Values whose grace period ended are reclaimed.
// Contexts without a slot are ignored.
//
// Thread-safety: Returns after a single atomic load if nothing is pending.
func (b *ObjectBase) Quiescent(ctx evctx.Context) error {
	if !ctx.Valid() {
		return nil
	}
	if ctx.Slot >= b.grace.Len() {
		return fmt.Errorf("%w: slot %d, object has %d slots", ErrSlotOutOfRange, ctx.Slot, b.grace.Len())
	}
	if !b.dirty.Load() {
		return nil
	}

	quiescentSlowOps.Inc()
	b.mu.Lock()
	freed := b.endGrace(ctx.Slot)
	b.mu.Unlock()

	b.free(freed)
	return nil
}

// NumGarbage returns the number of retired values that were not reclaimed yet.
func (b *ObjectBase) NumGarbage() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.garbage)
}

// NumOld returns how many of the retired values belong to the old tier.
func (b *ObjectBase) NumOld() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nOld
}

// --------------------------------------------------------------------------
// Helpers (caller must hold b.mu)
// --------------------------------------------------------------------------

// pushGarbage retires v and starts a new grace period for it.
func (b *ObjectBase) pushGarbage(ctx evctx.Context, v any) {
	b.makeOld()
	b.garbage = append(b.garbage, v)
	b.setGrace(ctx)
	b.dirty.Store(true)
}

// makeOld moves all values of the current batch into the old tier. The old
// tier then waits for the union of both grace sets.
func (b *ObjectBase) makeOld() {
	if len(b.garbage) > b.nOld {
		b.oldGrace.Or(&b.grace)
		b.nOld = len(b.garbage)
	}
}

// setGrace puts every slot except the one of ctx into the grace set.
func (b *ObjectBase) setGrace(ctx evctx.Context) {
	b.grace.SetAll(ctx.Slot)
}

// endGrace clears slot from the grace sets and detaches everything that
// became reclaimable. Each tier is reclaimed only once its own grace set is
// empty, the old tier may outlive a newer current tier. The detached values
// are returned so they can be freed after the lock was released.
func (b *ObjectBase) endGrace(slot int) []any {
	var freed []any

	b.grace.Clear(slot)
	if b.nOld > 0 {
		b.oldGrace.Clear(slot)
		if b.oldGrace.None() {
			freed = append(freed, b.garbage[:b.nOld]...)
			b.garbage = append(b.garbage[:0:0], b.garbage[b.nOld:]...)
			b.nOld = 0
			b.oldGrace.Reset()
		}
	}

	if b.grace.None() && len(b.garbage) > b.nOld {
		freed = append(freed, b.garbage[b.nOld:]...)
		b.garbage = append(b.garbage[:0:0], b.garbage[:b.nOld]...)
	}

	if len(b.garbage) == 0 {
		b.garbage = nil
		b.oldGrace.Reset()
		b.dirty.Store(false)
	}
	return freed
}

// free hands reclaimed values to the deleter. Called without the lock.
func (b *ObjectBase) free(values []any) {
	if len(values) == 0 {
		return
	}
	reclaimedTotal.Add(len(values))
	if b.reclaim == nil {
		return
	}
	for _, v := range values {
		b.reclaim(v)
	}
	log.Debugf("reclaimed %d retired values", len(values))
}

// --------------------------------------------------------------------------
// Object[T]
// --------------------------------------------------------------------------

// Object is a versioned value of type T with deferred reclamation of
// replaced versions.
type Object[T any] struct {
	ObjectBase
	current atomic.Pointer[T]
}

// New creates an object tracking nSlots slots with initial as its current value.
func New[T any](nSlots int, initial *T, opts ...Option[T]) *Object[T] {
	o := &options[T]{}
	for _, opt := range opts {
		opt(o)
	}

	obj := &Object[T]{}
	var reclaim func(v any)
	if o.deleter != nil {
		deleter := o.deleter
		reclaim = func(v any) {
			deleter(v.(*T))
		}
	}
	obj.ObjectBase = newObjectBase(nSlots, reclaim)
	obj.current.Store(initial)
	return obj
}

// Load returns the current value.
//
// Thread-safety: Lock-free, may run concurrently with updates.
func (o *Object[T]) Load() *T {
	return o.current.Load()
}

// Reader returns a view of the current value.
func (o *Object[T]) Reader() Read[T] {
	return Read[T]{p: o.current.Load()}
}

// ReaderQuiesce returns a view of the current value that declares the slot
// of ctx quiescent when it is closed.
func (o *Object[T]) ReaderQuiesce(ctx evctx.Context) *ReadQuiesce[T] {
	return &ReadQuiesce[T]{obj: o, ctx: ctx, p: o.current.Load()}
}

// Updater locks the object and returns a handle to publish a new value.
// The lock is held until the handle is closed.
func (o *Object[T]) Updater(ctx evctx.Context) *Update[T] {
	o.mu.Lock()
	return &Update[T]{obj: o, ctx: ctx}
}

// Discard retires a value that is not the current one, it is reclaimed with
// the same grace period rules as a replaced value.
func (o *Object[T]) Discard(ctx evctx.Context, p *T) {
	if p == nil {
		return
	}
	o.mu.Lock()
	o.pushGarbage(ctx, p)
	o.mu.Unlock()
	discardsTotal.Inc()
}

// publish swaps in p and retires the previous value (caller must hold o.mu).
func (o *Object[T]) publish(ctx evctx.Context, p *T) {
	old := o.current.Swap(p)
	if old != nil {
		o.pushGarbage(ctx, old)
	}
	updatesTotal.Inc()
}
