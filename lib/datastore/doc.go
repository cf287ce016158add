/*
Package datastore implements the proxy registry behind every store.

A Proxy stands in for one transient object and carries its identity: the
exact type id (CLID), a primary name, alias names and the additional type ids
it answers to (symlinks). The DataStore indexes proxies three ways:

  - per type: CLID -> name or alias -> Proxy (ordered by key)
  - by hashed key: SGKey -> Proxy, readable without the store lock
  - the list of registered proxies, used for clearing

Hashed keys come from a StringPool shared between the stores of a process.
HashKey(name, clid) is a seeded xxhash truncated to 63 bits; the pool
remembers the pair for every key it handed out and panics with a
*CollisionError if two different pairs hash to the same key.

Types are registered once per process with RegisterType, which also records
the base types used to validate symlinks:

	var TrackCLID = datastore.MustRegisterType[Track](1001, "Track")
	var MuonCLID = datastore.MustRegisterType[Muon](1002, "Muon", TrackCLID)

Locking:

Mutating and name index methods take a Locked token obtained from Lock().
The token is proof that the caller holds the lock, the method never acquires
it itself:

	l := ds.Lock()
	defer l.Unlock()
	if err := ds.AddToStore(l, TrackCLID, datastore.NewProxy(TrackCLID, "tracks", tracks)); err != nil {
		return err
	}

Reference counting:

Every name index entry pointing at a proxy holds one reference, a dummy
proxy holds one for its hashed key entry. Removing a proxy releases one
reference per removed entry. When the count reaches zero the proxy drops its
object and runs its destroy hook, exactly once.

Errors:

Ordinary failures (nil or unregistered proxy, duplicate key, alias or
symlink conflicts) are returned as errors wrapping one of the Err* values
and leave the store unchanged. A hashed key resolving to a proxy that cannot
be the requested (CLID, name) is a corrupted index: the lookup panics with a
*CollisionError. ClearStore is the only way to recover from it.
*/
package datastore
