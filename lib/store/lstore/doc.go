// Package lstore implements a local, in-memory transient object store based on
// the store.IStore interface. It provides a thin wrapper around one
// datastore.DataStore, adding the store mutex, object bookkeeping and the
// mapping of registry failures to store.Error codes.
//
// Key Features:
//   - One mutex per store, held for every index operation and released before
//     objects are loaded, so loaders may use the store themselves
//   - Recorded objects are found again by their address (Remove, SetAlias, SymLink)
//   - Automatic type links: an object is also visible under every registered
//     base type of its CLID
//   - Reset-only objects keep their keys across clears and are filled again by
//     the next Record of the same (CLID, key)
//   - Lazy objects through RecordAddress (loader on first retrieval) and
//     RegisterDummy (hashed key only, resolved on the first lookup)
//
// Implementation Details:
//
//   - Duplicate Detection: Record rejects an object that is already recorded and
//     a (CLID, key) that already holds an object. Both are reported as
//     store.RetCDuplicateKey, the store is left unchanged.
//
//   - Retrieval: A retrieved proxy gets an extra reference while its object is
//     loaded, a concurrent ClearStore can therefore not destroy it half way.
//
//   - Clearing: With more than one slot (StoreOptions.NumSlots) the store is
//     cleared hard, reset-only proxies lose their loaders as well.
//
// Thread Safety:
//
//	All operations in the local store are thread-safe. Index operations are
//	serialized by the store mutex, ProxyExact reads the hashed key index
//	without it.
//
// Usage Example:
//
//	s := lstore.NewLocalStore(nil)
//
//	// record an object and find it again by type and key
//	err := store.Record(s, &Track{Pt: 42}, "tracks")
//	trk, found, err := store.Retrieve[*Track](s, "tracks")
//
//	// end of event
//	err = s.ClearStore(false)
//
// For slot-aware access and ordered teardown of several stores, use the hive
// package, which creates one local store per event slot.
package lstore
