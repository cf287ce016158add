/*
Package rcu implements read-copy-update objects with per-slot grace periods.

An Object holds the current version of a value. Readers dereference the
current version without taking any lock. An updater takes the object's mutex,
publishes a new version and retires the previous one. A retired version is
kept alive until every execution slot has declared itself quiescent, that is,
until no slot can still hold a pointer obtained before the update.

Grace tracking:

Each object keeps two per-slot bitsets. The grace set belongs to the most
recent batch of retired values, the old grace set to everything retired
before it. When an update arrives while retired values are still pending, the
pending values are moved into the old tier (oldGrace |= grace) before the
grace set is reset for the new batch. Frequent updates therefore never reset
the tracking of values that are already waiting, and every batch is reclaimed
once the slots that could see it went quiescent.

	FRESH -> PARTIALLY_QUIESCENT -> RECLAIMABLE -> DELETED

Slots and contexts:

The slot comes from an explicit evctx.Context. The updating slot is not put
into the grace set (it just replaced the value it could have referenced). A
context without a slot (evctx.None) puts every slot into the grace set and is
ignored by Quiescent().

Handles:

  - Read: a plain view of the current value, no side effects
  - ReadQuiesce: a view that declares the slot quiescent on Close()
  - Update: holds the object's mutex until Close(), Update() publishes

Thread-safety:

Reader(), Load() and the Read handles never block and are safe to use
concurrently with updates and Quiescent(). Quiescent() is a single atomic
load as long as nothing is waiting for reclamation. Updater() blocks on the
object's mutex. Values passed to the deleter are never referenced by the
object again, the deleter is called exactly once per retired value and never
while the object's mutex is held.

Svc keeps a registry of objects so that a slot can be declared quiescent on
all of them at once, typically when an event store is cleared.

Usage:

	obj := rcu.New[Conditions](nSlots, &Conditions{Run: 1}, rcu.WithDeleter(func(c *Conditions) {
		c.Release()
	}))

	// reader side
	cond := obj.Reader().Get()

	// updater side
	u := obj.Updater(ctx)
	u.Update(&Conditions{Run: 2})
	u.Close()

	// end of event in slot ctx.Slot
	_ = obj.Quiescent(ctx)
*/
package rcu
