// Package store provides a high-level interface for transient object storage
// with typed retrieval, aliasing, type links and unified error handling.
// It serves as an abstraction layer over the lower-level datastore.DataStore
// proxy registry, adding locking, object bookkeeping and standardized error
// reporting.
//
// The package focuses on:
//   - A unified interface (IStore) for record/retrieve operations across store roles
//   - Typed access through generic helpers keyed by registered CLIDs
//
// Key Components:
//
//   - IStore Interface: The core abstraction defining operations for interacting with
//     a transient store. Objects are addressed by (CLID, key), a hashed key, or the
//     object itself once it is recorded. The interface methods return custom Error
//     types that provide detailed information about operation results.
//
//   - Error System: A structured error reporting mechanism using typed error codes
//     and descriptive messages. CodeOf extracts the code of any returned error.
//     Hash collisions are not reported through this system, they panic.
//
//   - Factory: A function type that creates the store of one slot, used by the
//     hive facade to build one store per concurrently processed event.
//
//   - Typed Helpers: Record, RecordConst, Retrieve, RetrieveDefault and Contains
//     look up the CLID of their type parameter:
//
//     datastore.MustRegisterType[*Track](1001, "Track")
//     store.Record(s, &Track{Pt: 42}, "tracks")
//     trk, found, err := store.Retrieve[*Track](s, "tracks")
//
// Implementations:
//
//	- Local Store (lstore): A store backed by a single datastore.DataStore with
//	  its own mutex. Available in the "github.com/ValentinKolb/sgkv/lib/store/lstore"
//	  package.
//
//	- Hive (hive): The slot-aware facade. It holds one local store per event slot
//	  (or one shared store for non-event stores), forwards calls to the store of
//	  the slot named by an evctx.Context, announces cleared stores on the incident
//	  bus and finalizes stores in priority order.
//	  Available in the "github.com/ValentinKolb/sgkv/lib/store/hive" package.
package store
