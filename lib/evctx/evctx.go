// Package evctx defines the event context that is passed explicitly through
// every call that needs to know which execution slot it runs in.
//
// A slot is an independent execution context (usually one concurrently
// processed event). Slot numbers are small integers in [0, nSlots) and are
// stable for the lifetime of a processing pipeline. Code that is not bound to
// any slot (initialization, finalization, conditions updates from a
// background goroutine) uses a context with InvalidSlot.
package evctx

import "fmt"

// InvalidSlot marks a context that is not bound to an execution slot.
const InvalidSlot = -1

// Context identifies the execution slot and the event processed in it.
type Context struct {
	Slot        int
	EventNumber uint64
}

// None is the context used outside of event processing.
var None = Context{Slot: InvalidSlot}

// New creates a context for the given slot and event number.
func New(slot int, evt uint64) Context {
	return Context{Slot: slot, EventNumber: evt}
}

// Valid reports whether the context is bound to a slot.
func (c Context) Valid() bool {
	return c.Slot >= 0
}

// Next returns the context for the following event in the same slot.
func (c Context) Next() Context {
	return Context{Slot: c.Slot, EventNumber: c.EventNumber + 1}
}

func (c Context) String() string {
	if !c.Valid() {
		return "s: INVALID"
	}
	return fmt.Sprintf("s: %d  e: %d", c.Slot, c.EventNumber)
}
