package lstore

import (
	"errors"
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/sgkv/lib/datastore"
	"github.com/ValentinKolb/sgkv/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"strings"
)

var log = logger.GetLogger("store")

var (
	recordedTotal  = metrics.NewCounter(`sgkv_store_records_total`)
	retrievedTotal = metrics.NewCounter(`sgkv_store_retrievals_total{result="hit"}`)
	missedTotal    = metrics.NewCounter(`sgkv_store_retrievals_total{result="miss"}`)
	loadedTotal    = metrics.NewCounter(`sgkv_store_loads_total`)
	clearedTotal   = metrics.NewCounter(`sgkv_store_clears_total`)
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// StoreOptions configures a local store during initialization
type StoreOptions struct {
	ID       datastore.StoreID     // Role of the store
	Pool     *datastore.StringPool // Shared string pool (nil = own pool)
	NumSlots int                   // Number of concurrent slots of the process (> 1 = hard reset on clear)
	Auditor  datastore.IAuditor    // Lookup hook (nil = none)
}

// DefaultOptions returns the default store options
func DefaultOptions() *StoreOptions {
	return &StoreOptions{
		ID:       datastore.EventStore,
		NumSlots: 1,
	}
}

// --------------------------------------------------------------------------
// Local Store
// --------------------------------------------------------------------------

type storeImpl struct {
	ds *datastore.DataStore
	// clearing with more than one slot drops loaders too, a loader may hold
	// state of the slot that cleared the store
	hard bool
}

// NewLocalStore creates a new local store instance backed by one DataStore.
// The options are optional.
func NewLocalStore(opts *StoreOptions) store.IStore {
	if opts == nil {
		opts = DefaultOptions()
	}
	s := &storeImpl{
		ds:   datastore.NewDataStore(opts.ID, opts.Pool),
		hard: opts.NumSlots > 1,
	}
	if opts.Auditor != nil {
		l := s.ds.Lock()
		s.ds.SetAuditor(l, opts.Auditor)
		l.Unlock()
	}
	return s
}

// mapError converts a datastore error to a *store.Error.
func mapError(err error) error {
	var code store.RetCode
	switch {
	case err == nil:
		return nil
	case errors.Is(err, datastore.ErrNullProxy), errors.Is(err, datastore.ErrInvalidProxy):
		code = store.RetCInvalidOperation
	case errors.Is(err, datastore.ErrDuplicateKey),
		errors.Is(err, datastore.ErrAliasConflict),
		errors.Is(err, datastore.ErrSymLinkConflict):
		code = store.RetCDuplicateKey
	case errors.Is(err, datastore.ErrNotRegistered):
		code = store.RetCNotFound
	case errors.Is(err, datastore.ErrCollision):
		code = store.RetCCollision
	default:
		code = store.RetCInternalError
	}
	return store.NewError(code, err.Error())
}

// locate returns the proxy holding obj.
func (s *storeImpl) locate(obj any) (*datastore.Proxy, error) {
	if obj == nil {
		return nil, store.NewError(store.RetCInvalidOperation, "nil object")
	}
	p := s.ds.LocatePersistent(obj)
	if p == nil {
		return nil, store.Errorf(store.RetCNotFound, "object %T is not recorded in %s", obj, s.ds.StoreID())
	}
	return p, nil
}

// linkBases symlinks p to every registered base of its type. A base already
// taken by another object only gets a warning.
func (s *storeImpl) linkBases(l datastore.Locked, p *datastore.Proxy) {
	for _, base := range datastore.Bases(p.CLID()) {
		if err := s.ds.AddSymLink(l, base, p); err != nil {
			log.Warningf("%s: %s is not visible as %s: %v", s.ds.StoreID(), p, datastore.TypeName(base), err)
		}
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) StoreID() datastore.StoreID {
	return s.ds.StoreID()
}

func (s *storeImpl) Record(clid datastore.CLID, obj any, key string, allowMods, resetOnly bool) error {
	l := s.ds.Lock()
	defer l.Unlock()
	return s.record(l, clid, obj, key, allowMods, resetOnly)
}

func (s *storeImpl) record(l datastore.Locked, clid datastore.CLID, obj any, key string, allowMods, resetOnly bool) error {
	switch {
	case obj == nil:
		return store.Errorf(store.RetCInvalidOperation, "cannot record a nil object as %s/%s", datastore.TypeName(clid), key)
	case clid == datastore.CLIDNull:
		return store.Errorf(store.RetCInvalidOperation, "cannot record %T without a CLID", obj)
	case key == "":
		return store.Errorf(store.RetCInvalidOperation, "cannot record %s without a key", datastore.TypeName(clid))
	}
	if p := s.ds.LocatePersistent(obj); p != nil {
		return store.Errorf(store.RetCDuplicateKey, "object %T is already recorded as %s", obj, p)
	}

	// an empty proxy (reset in place, or registered without an object) is filled
	if existing := s.ds.ProxyExactCLID(l, clid, key); existing != nil {
		if existing.IsValidObject() {
			return store.Errorf(store.RetCDuplicateKey, "%s/%s is already recorded", datastore.TypeName(clid), key)
		}
		existing.SetObject(obj)
		if !allowMods {
			existing.SetConst()
		}
		s.ds.T2PRegister(l, obj, existing)
		recordedTotal.Inc()
		return nil
	}

	opts := []datastore.ProxyOption{datastore.WithResetOnly(resetOnly)}
	if !allowMods {
		opts = append(opts, datastore.WithConst())
	}
	p := datastore.NewProxy(clid, key, obj, opts...)
	if err := s.ds.AddToStore(l, clid, p); err != nil {
		return mapError(err)
	}
	s.ds.T2PRegister(l, obj, p)
	s.linkBases(l, p)
	recordedTotal.Inc()
	return nil
}

func (s *storeImpl) Overwrite(clid datastore.CLID, obj any, key string, allowMods bool) error {
	l := s.ds.Lock()
	defer l.Unlock()

	resetOnly := false
	if existing := s.ds.ProxyExactCLID(l, clid, key); existing != nil {
		resetOnly = existing.IsResetOnly()
		if err := s.ds.RemoveProxy(l, existing, true, false); err != nil {
			return mapError(err)
		}
	}
	return s.record(l, clid, obj, key, allowMods, resetOnly)
}

func (s *storeImpl) RecordAddress(clid datastore.CLID, key string, loader datastore.ILoader, resetOnly bool) error {
	if clid == datastore.CLIDNull || key == "" || loader == nil {
		return store.Errorf(store.RetCInvalidOperation, "address %s/%q needs a CLID, a key and a loader", datastore.TypeName(clid), key)
	}
	l := s.ds.Lock()
	defer l.Unlock()

	p := datastore.NewProxy(clid, key, nil, datastore.WithLoader(loader), datastore.WithResetOnly(resetOnly))
	if err := s.ds.AddToStore(l, clid, p); err != nil {
		return mapError(err)
	}
	s.linkBases(l, p)
	return nil
}

func (s *storeImpl) RegisterDummy(sgkey datastore.SGKey, loader datastore.ILoader) error {
	if sgkey == 0 {
		return store.NewError(store.RetCInvalidOperation, "dummy proxy needs a hashed key")
	}
	l := s.ds.Lock()
	defer l.Unlock()

	var opts []datastore.ProxyOption
	if loader != nil {
		opts = append(opts, datastore.WithLoader(loader))
	}
	return mapError(s.ds.AddToStore(l, datastore.CLIDNull, datastore.NewDummyProxy(sgkey, opts...)))
}

// lookupHeld looks up (clid, key) and adds a reference to a usable proxy, so
// it survives a concurrent removal while its object is loaded.
func (s *storeImpl) lookupHeld(clid datastore.CLID, key string) *datastore.Proxy {
	l := s.ds.Lock()
	defer l.Unlock()
	p := s.ds.Proxy(l, clid, key)
	if p == nil || !p.IsValid() {
		return nil
	}
	p.AddRef()
	return p
}

// access materializes the object of a held proxy without holding the lock,
// the loader may use the store.
func (s *storeImpl) access(p *datastore.Proxy) (any, error) {
	loaded := !p.IsValidObject()
	obj, err := p.AccessData()
	if err != nil {
		return nil, store.NewError(store.RetCInternalError, err.Error())
	}
	if obj != nil && loaded {
		loadedTotal.Inc()
		l := s.ds.Lock()
		if p.Store() == s.ds {
			s.ds.T2PRegister(l, obj, p)
		}
		l.Unlock()
	}
	return obj, nil
}

func (s *storeImpl) Retrieve(clid datastore.CLID, key string) (any, bool, error) {
	if key == "" {
		key = datastore.DefaultKey
	}
	p := s.lookupHeld(clid, key)
	if p == nil {
		missedTotal.Inc()
		return nil, false, nil
	}
	defer p.Release()

	obj, err := s.access(p)
	if err != nil || obj == nil {
		missedTotal.Inc()
		return nil, false, err
	}
	retrievedTotal.Inc()
	return obj, true, nil
}

func (s *storeImpl) RetrieveAll(clid datastore.CLID) ([]any, error) {
	var held []*datastore.Proxy
	l := s.ds.Lock()
	s.ds.PRange(l, clid, func(_ string, p *datastore.Proxy) bool {
		for _, h := range held {
			if h == p {
				return true
			}
		}
		if p.IsValid() {
			p.AddRef()
			held = append(held, p)
		}
		return true
	})
	l.Unlock()

	defer func() {
		for _, p := range held {
			p.Release()
		}
	}()

	objs := make([]any, 0, len(held))
	for _, p := range held {
		obj, err := s.access(p)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			objs = append(objs, obj)
		}
	}
	return objs, nil
}

func (s *storeImpl) Contains(clid datastore.CLID, key string) bool {
	l := s.ds.Lock()
	defer l.Unlock()
	p := s.ds.Proxy(l, clid, key)
	return p != nil && p.IsValid()
}

func (s *storeImpl) TransientContains(clid datastore.CLID, key string) bool {
	l := s.ds.Lock()
	defer l.Unlock()
	p := s.ds.Proxy(l, clid, key)
	return p != nil && p.IsValidObject()
}

func (s *storeImpl) ProxyExact(sgkey datastore.SGKey) (*datastore.Proxy, bool) {
	p := s.ds.ResolveKey(sgkey)
	return p, p != nil
}

func (s *storeImpl) Remove(obj any) error {
	return s.remove(obj, false)
}

func (s *storeImpl) RemoveDataAndProxy(obj any) error {
	return s.remove(obj, true)
}

func (s *storeImpl) remove(obj any, force bool) error {
	l := s.ds.Lock()
	defer l.Unlock()
	p, err := s.locate(obj)
	if err != nil {
		return err
	}
	s.ds.T2PRemove(l, obj)
	return mapError(s.ds.RemoveProxy(l, p, force, false))
}

func (s *storeImpl) SetAlias(obj any, alias string) error {
	l := s.ds.Lock()
	defer l.Unlock()
	p, err := s.locate(obj)
	if err != nil {
		return err
	}
	return mapError(s.ds.AddAlias(l, alias, p))
}

func (s *storeImpl) SymLink(obj any, linkID datastore.CLID) error {
	l := s.ds.Lock()
	defer l.Unlock()
	p, err := s.locate(obj)
	if err != nil {
		return err
	}
	return mapError(s.ds.AddSymLink(l, linkID, p))
}

func (s *storeImpl) Keys(clid datastore.CLID, includeAlias, onlyValid bool) []string {
	l := s.ds.Lock()
	defer l.Unlock()
	return s.ds.Keys(l, clid, includeAlias, onlyValid)
}

func (s *storeImpl) TypeCount(clid datastore.CLID) int {
	l := s.ds.Lock()
	defer l.Unlock()
	return s.ds.TypeCount(l, clid)
}

func (s *storeImpl) Clids() []datastore.CLID {
	l := s.ds.Lock()
	defer l.Unlock()
	return s.ds.Clids(l)
}

func (s *storeImpl) ClearStore(force bool) error {
	l := s.ds.Lock()
	defer l.Unlock()
	s.ds.ClearStore(l, force, s.hard)
	clearedTotal.Inc()
	return nil
}

func (s *storeImpl) Dump() string {
	l := s.ds.Lock()
	defer l.Unlock()

	var b strings.Builder
	proxies := s.ds.Proxies(l)
	fmt.Fprintf(&b, "===== %s: %d proxies, %d hashed keys =====\n", s.ds.StoreID(), len(proxies), s.ds.KeyMapSize())
	for _, clid := range s.ds.Clids(l) {
		fmt.Fprintf(&b, "%s (CLID %d): %d keys\n", datastore.TypeName(clid), clid, s.ds.TypeCount(l, clid))
		s.ds.PRange(l, clid, func(key string, p *datastore.Proxy) bool {
			fmt.Fprintf(&b, "  %-24s refs=%d %s%s\n", key, p.RefCount(), proxyFlags(p), proxyRelation(clid, key, p))
			return true
		})
	}
	for _, p := range proxies {
		if p.IsDummy() {
			fmt.Fprintf(&b, "unresolved: %s refs=%d %s\n", p, p.RefCount(), proxyFlags(p))
		}
	}
	return b.String()
}

func proxyFlags(p *datastore.Proxy) string {
	var flags []string
	switch {
	case p.IsValidObject():
		flags = append(flags, "valid")
	case p.IsValid():
		flags = append(flags, "loadable")
	default:
		flags = append(flags, "empty")
	}
	if p.IsConst() {
		flags = append(flags, "const")
	}
	if p.IsResetOnly() {
		flags = append(flags, "reset-only")
	}
	return "[" + strings.Join(flags, ",") + "]"
}

func proxyRelation(clid datastore.CLID, key string, p *datastore.Proxy) string {
	var rel []string
	if key != p.Name() {
		rel = append(rel, "alias of "+p.Name())
	}
	if p.CLID() != clid {
		rel = append(rel, "link to "+datastore.TypeName(p.CLID()))
	}
	if len(rel) == 0 {
		return ""
	}
	return " (" + strings.Join(rel, ", ") + ")"
}
