/*
Package incident provides a small incident bus used to notify interested
components about lifecycle transitions of the event loop and the stores.

Incidents:

  - BeginEvent: a slot starts processing an event
  - EndEvent: a slot finished processing an event
  - StoreCleared: a store (or one slot of a store) has been cleared

Listeners register for one incident type with a priority. Listeners with a
higher priority are called first, listeners with equal priority are called in
registration order.

Delivery:

  - Fire() enqueues the incident on a lock-free MPSC queue and returns
    immediately. A single dispatcher goroutine delivers incidents in the order
    they were dequeued, so Fire() can be called while holding a store mutex.
  - FireSync() delivers the incident on the calling goroutine.
  - Flush() blocks until every incident fired before the call was delivered.
  - Close() delivers the remaining incidents and stops the dispatcher.

A panicking listener is logged and does not stop the dispatcher.

Usage:

	bus := incident.NewBus()
	defer bus.Close()

	id := bus.AddListener(incident.StoreCleared, incident.ListenerFunc(func(inc incident.Incident) {
		fmt.Println("cleared", inc.Source, inc.Context)
	}), 0)
	defer bus.RemoveListener(id)

	bus.Fire(incident.New(incident.StoreCleared, "StoreGateSvc", ctx))
*/
package incident
