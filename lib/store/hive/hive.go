package hive

import (
	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/sgkv/lib/datastore"
	"github.com/ValentinKolb/sgkv/lib/evctx"
	"github.com/ValentinKolb/sgkv/lib/incident"
	"github.com/ValentinKolb/sgkv/lib/store"
	"github.com/ValentinKolb/sgkv/lib/store/lstore"
	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/multierr"
)

var log = logger.GetLogger("hive")

var clearsFired = metrics.NewCounter(`sgkv_hive_store_cleared_incidents_total`)

// LocalFactory returns a factory for local stores of role id. The stores of
// all slots share one string pool. The auditor (optional) is shared as well
// and must be safe for concurrent use.
func LocalFactory(id datastore.StoreID, nSlots int, auditor datastore.IAuditor) store.Factory {
	pool := datastore.NewStringPool()
	return func(slot int) store.IStore {
		return lstore.NewLocalStore(&lstore.StoreOptions{
			ID:       id,
			Pool:     pool,
			NumSlots: nSlots,
			Auditor:  auditor,
		})
	}
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// Store is the slot-aware facade of one store role. An event store holds one
// store per slot, every other role one store shared by all slots. Calls take
// the context of the caller and are forwarded to the store of its slot.
//
// Thread-safety: All methods are safe for concurrent use. Calls for different
// slots of an event store do not contend.
type Store struct {
	name  string
	id    datastore.StoreID
	slots []store.IStore
	bus   incident.IBus
}

// NewStore creates the facade named name for role id. factory is called once
// per slot for event stores and once otherwise. bus may be nil, cleared stores
// are then not announced.
func NewStore(name string, id datastore.StoreID, nSlots int, factory store.Factory, bus incident.IBus) *Store {
	if nSlots < 1 {
		panic("hive: a store needs at least one slot")
	}
	n := 1
	if id == datastore.EventStore {
		n = nSlots
	}
	h := &Store{
		name:  name,
		id:    id,
		slots: make([]store.IStore, n),
		bus:   bus,
	}
	for i := range h.slots {
		h.slots[i] = factory(i)
	}
	return h
}

// Name returns the name of the store.
func (h *Store) Name() string {
	return h.name
}

// StoreID returns the role of the store.
func (h *Store) StoreID() datastore.StoreID {
	return h.id
}

// NumSlots returns the number of underlying stores.
func (h *Store) NumSlots() int {
	return len(h.slots)
}

// shared reports whether all slots use the same store.
func (h *Store) shared() bool {
	return h.id != datastore.EventStore
}

// Slot returns the store serving ctx. Shared stores ignore ctx, event stores
// need a valid slot.
func (h *Store) Slot(ctx evctx.Context) (store.IStore, error) {
	if h.shared() {
		return h.slots[0], nil
	}
	if !ctx.Valid() {
		return nil, store.Errorf(store.RetCInvalidOperation, "%s: no slot in context (%s)", h.name, ctx)
	}
	if ctx.Slot >= len(h.slots) {
		return nil, store.Errorf(store.RetCInvalidOperation, "%s: slot %d out of range [0, %d)", h.name, ctx.Slot, len(h.slots))
	}
	return h.slots[ctx.Slot], nil
}

// --------------------------------------------------------------------------
// Forwarding (docu see store/interface.go)
// --------------------------------------------------------------------------

func (h *Store) Record(ctx evctx.Context, clid datastore.CLID, obj any, key string, allowMods, resetOnly bool) error {
	s, err := h.Slot(ctx)
	if err != nil {
		return err
	}
	return s.Record(clid, obj, key, allowMods, resetOnly)
}

func (h *Store) Retrieve(ctx evctx.Context, clid datastore.CLID, key string) (any, bool, error) {
	s, err := h.Slot(ctx)
	if err != nil {
		return nil, false, err
	}
	return s.Retrieve(clid, key)
}

func (h *Store) Contains(ctx evctx.Context, clid datastore.CLID, key string) (bool, error) {
	s, err := h.Slot(ctx)
	if err != nil {
		return false, err
	}
	return s.Contains(clid, key), nil
}

func (h *Store) Remove(ctx evctx.Context, obj any) error {
	s, err := h.Slot(ctx)
	if err != nil {
		return err
	}
	return s.Remove(obj)
}

func (h *Store) Keys(ctx evctx.Context, clid datastore.CLID, includeAlias, onlyValid bool) ([]string, error) {
	s, err := h.Slot(ctx)
	if err != nil {
		return nil, err
	}
	return s.Keys(clid, includeAlias, onlyValid), nil
}

func (h *Store) Dump(ctx evctx.Context) (string, error) {
	s, err := h.Slot(ctx)
	if err != nil {
		return "", err
	}
	return s.Dump(), nil
}

// ClearStore clears the store of ctx and announces it with a StoreCleared
// incident. The incident carries ctx for event stores and evctx.None for
// shared stores, which are not bound to a slot.
func (h *Store) ClearStore(ctx evctx.Context, force bool) error {
	s, err := h.Slot(ctx)
	if err != nil {
		return err
	}
	if err := s.ClearStore(force); err != nil {
		return err
	}
	if h.shared() {
		ctx = evctx.None
	}
	h.announce(ctx)
	return nil
}

// ClearAll clears the stores of all slots. Every store is cleared even if
// one fails, the errors are combined.
func (h *Store) ClearAll(force bool) error {
	var err error
	for i, s := range h.slots {
		if e := s.ClearStore(force); e != nil {
			err = multierr.Append(err, e)
			continue
		}
		ctx := evctx.None
		if !h.shared() {
			ctx = evctx.New(i, 0)
		}
		h.announce(ctx)
	}
	return err
}

func (h *Store) announce(ctx evctx.Context) {
	if h.bus == nil {
		return
	}
	h.bus.FireSync(incident.New(incident.StoreCleared, h.name, ctx))
	clearsFired.Inc()
}

// --------------------------------------------------------------------------
// Typed Helpers
// --------------------------------------------------------------------------

// Record stores obj of type T as key in the store of ctx.
func Record[T any](h *Store, ctx evctx.Context, obj T, key string) error {
	s, err := h.Slot(ctx)
	if err != nil {
		return err
	}
	return store.Record(s, obj, key)
}

// Retrieve returns the object of type T stored as key in the store of ctx.
func Retrieve[T any](h *Store, ctx evctx.Context, key string) (T, bool, error) {
	s, err := h.Slot(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	return store.Retrieve[T](s, key)
}
