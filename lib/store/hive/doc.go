// Package hive is the slot-aware facade over the local stores of a process.
//
// A hive.Store stands for one store role (event store, detector store, ...).
// The event store holds one store.IStore per event slot, every other role a
// single store shared by all slots. Callers pass their evctx.Context
// explicitly and the call is forwarded to the store of their slot, there is
// no implicit per-goroutine "current store".
//
// Clearing a store fires an incident.StoreCleared on the incident bus. The
// RCU service listens for it and declares the slot quiescent, so versions of
// conditions objects the event referenced can be reclaimed.
//
// The Manager owns all stores and tears them down in dependency order:
//
//	mgr := hive.NewManager()
//	events := hive.NewStore("StoreGateSvc", datastore.EventStore, nSlots,
//		hive.LocalFactory(datastore.EventStore, nSlots, nil), bus)
//	detector := hive.NewStore("DetectorStore", datastore.DetectorStore, nSlots,
//		hive.LocalFactory(datastore.DetectorStore, nSlots, nil), bus)
//	mgr.Register(events, 10)
//	mgr.Register(detector, 5)
//
//	// per event
//	hive.Record(events, ctx, &Track{}, "tracks")
//	events.ClearStore(ctx, false)
//
//	// shutdown: event stores first, then by priority
//	err := mgr.Finalize()
package hive
