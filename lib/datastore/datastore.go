package datastore

import (
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
)

var log = logger.GetLogger("datastore")

var (
	proxiesAdded    = metrics.NewCounter(`sgkv_datastore_proxies_added_total`)
	proxiesRemoved  = metrics.NewCounter(`sgkv_datastore_proxies_removed_total`)
	dummiesPromoted = metrics.NewCounter(`sgkv_datastore_dummies_promoted_total`)
	aliasesStolen   = metrics.NewCounter(`sgkv_datastore_aliases_stolen_total`)
	keyMapRebuilds  = metrics.NewCounter(`sgkv_datastore_keymap_rebuilds_total`)
)

// keyMap is the hashed key index. It is replaced as a whole by ClearStore,
// readers load the current map through an atomic pointer.
type keyMap = xsync.MapOf[SGKey, *Proxy]

// --------------------------------------------------------------------------
// Lock token
// --------------------------------------------------------------------------

// Locked proves that the lock of a DataStore is held. Methods that need the
// lock take the token instead of acquiring the lock themselves.
type Locked struct {
	ds *DataStore
}

// Unlock releases the lock the token stands for and runs the destroy hooks
// of the proxies the store released while it was held.
func (l Locked) Unlock() {
	destroyed := l.ds.destroyed
	l.ds.destroyed = nil
	l.ds.mu.Unlock()

	for _, d := range destroyed {
		d.hook(d.proxy)
	}
}

// Store returns the store the token belongs to.
func (l Locked) Store() *DataStore {
	return l.ds
}

// --------------------------------------------------------------------------
// DataStore
// --------------------------------------------------------------------------

// DataStore is the proxy registry of one store. It indexes proxies by
// (CLID, name), by (CLID, alias) and by hashed key.
//
// Index layout:
//
//   - storeMap: CLID -> ProxyMap (name or alias -> proxy). A symlinked proxy
//     appears in the ProxyMap of every CLID it answers to.
//   - keyMap: hashed key -> proxy for every (name, CLID) and (alias, CLID)
//     pair of every proxy, plus the bare key of dummy proxies.
//   - proxies: every registered proxy, in registration order.
//
// Reference counting: a proxy holds one reference per name index entry
// pointing at it (a dummy holds one for its hashed key entry). External
// holders add their own references.
//
// Thread-safety: storeMap, proxies and all mutations require the lock
// (see Lock and Locked). ProxyExact, LocatePersistent and KeyMapSize read
// the concurrent indexes without the lock.
type DataStore struct {
	mu sync.Mutex

	id       StoreID
	pool     *StringPool
	storeMap map[CLID]*ProxyMap
	keyMap   atomic.Pointer[keyMap]
	proxies  []*Proxy
	t2p      *xsync.MapOf[uintptr, *Proxy]
	auditor  IAuditor

	// destroy hooks queued until Unlock
	destroyed []destroyedProxy
}

type destroyedProxy struct {
	proxy *Proxy
	hook  func(*Proxy)
}

// NewDataStore creates an empty store. Stores sharing a pool share their
// hashed keys, a nil pool gives the store its own.
func NewDataStore(id StoreID, pool *StringPool) *DataStore {
	if pool == nil {
		pool = NewStringPool()
	}
	ds := &DataStore{
		id:       id,
		pool:     pool,
		storeMap: make(map[CLID]*ProxyMap),
		t2p:      xsync.NewMapOf[uintptr, *Proxy](),
	}
	ds.keyMap.Store(xsync.NewMapOf[SGKey, *Proxy]())
	return ds
}

// Lock acquires the lock of the store.
func (ds *DataStore) Lock() Locked {
	ds.mu.Lock()
	return Locked{ds: ds}
}

// mustHold panics if l is the token of another store.
func (ds *DataStore) mustHold(l Locked) {
	if l.ds != ds {
		panic("datastore: lock token belongs to another store")
	}
}

// StoreID returns the role of the store.
func (ds *DataStore) StoreID() StoreID {
	return ds.id
}

// Pool returns the string pool of the store.
func (ds *DataStore) Pool() *StringPool {
	return ds.pool
}

// SetAuditor sets the hook informed about lookups, nil removes it.
func (ds *DataStore) SetAuditor(l Locked, a IAuditor) {
	ds.mustHold(l)
	ds.auditor = a
}

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

// AddToStore registers dp under clid. A proxy that is not registered yet is
// appended to the proxy list, a dummy proxy (no CLID, no name, but a hashed
// key) only goes into the hashed key index. If clid differs from the exact
// type of dp, dp is registered under the secondary key of (name, clid) and
// answers to clid from then on.
//
// On failure the store is left unchanged.
func (ds *DataStore) AddToStore(l Locked, clid CLID, dp *Proxy) error {
	ds.mustHold(l)
	if dp == nil {
		return ErrNullProxy
	}
	if owner := dp.Store(); owner != nil && owner != ds {
		return fmt.Errorf("%w: %s belongs to another store", ErrInvalidProxy, dp)
	}

	appended := false
	if dp.Store() == nil {
		ds.proxies = append(ds.proxies, dp)
		appended = true
	}
	rollback := func() {
		if appended {
			ds.proxies = ds.proxies[:len(ds.proxies)-1]
		}
	}

	km := ds.keyMap.Load()
	if clid == CLIDNull && dp.IsDummy() {
		if _, loaded := km.LoadOrStore(dp.SGKey(), dp); loaded {
			rollback()
			return fmt.Errorf("%w: dummy key %d", ErrDuplicateKey, dp.SGKey())
		}
	} else {
		name := dp.Name()
		if clid == CLIDNull || dp.CLID() == CLIDNull || name == "" {
			rollback()
			return fmt.Errorf("%w: %s under CLID %d", ErrInvalidProxy, dp, clid)
		}

		primary := ds.pool.StringToKey(name, dp.CLID())
		sgkey := primary
		if clid != dp.CLID() {
			sgkey = ds.pool.StringToKey(name, clid)
		}
		if dp.SGKey() == 0 {
			dp.SetSGKey(primary)
		}

		if _, loaded := km.LoadOrStore(sgkey, dp); loaded {
			rollback()
			return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, TypeName(clid), name)
		}
		if !ds.proxyMap(clid, true).Emplace(name, dp) {
			km.Delete(sgkey)
			rollback()
			return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, TypeName(clid), name)
		}
		// removal walks the transient ids, every CLID dp is indexed under must be one
		dp.SetTransientID(clid)
	}

	dp.AddRef()
	dp.SetStore(ds)
	proxiesAdded.Inc()
	return nil
}

// RemoveProxy removes dp from every index and releases one reference per
// removed name index entry. A reset-only proxy is reset in place instead,
// unless forceRemove is set.
func (ds *DataStore) RemoveProxy(l Locked, dp *Proxy, forceRemove, hard bool) error {
	ds.mustHold(l)
	if dp == nil {
		return ErrNullProxy
	}
	if dp.Store() != ds {
		return fmt.Errorf("%w: %s", ErrNotRegistered, dp)
	}
	if !forceRemove && dp.IsResetOnly() {
		dp.Reset(hard)
		return nil
	}

	idx := slices.Index(ds.proxies, dp)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotRegistered, dp)
	}
	ds.removeProxyImpl(dp, idx, true)
	return nil
}

// removeProxyImpl removes the proxy at ds.proxies[idx]. The hashed key index
// is only touched if eraseKeys is set, ClearStore rebuilds it instead.
func (ds *DataStore) removeProxyImpl(dp *Proxy, idx int, eraseKeys bool) {
	if eraseKeys {
		ds.removeFromKeyMap(dp)
	}
	if obj := dp.Object(); obj != nil {
		ds.t2pErase(obj, dp)
	}

	name := dp.Name()
	aliases := dp.Aliases()

	releases := 0
	if dp.IsDummy() {
		releases++
	} else {
		for _, tid := range dp.TransientIDs() {
			pm := ds.storeMap[tid]
			if pm == nil {
				continue
			}
			for _, a := range aliases {
				if pm.DeleteIf(a, dp) {
					releases++
				}
			}
			if pm.DeleteIf(name, dp) {
				releases++
			}
			if pm.Len() == 0 {
				delete(ds.storeMap, tid)
			}
		}
	}

	ds.proxies = slices.Delete(ds.proxies, idx, idx+1)
	dp.SetStore(nil)
	proxiesRemoved.Inc()

	for i := 0; i < releases; i++ {
		ds.release(dp)
	}
}

// release drops one reference of dp. A destroy hook is queued for Unlock.
func (ds *DataStore) release(dp *Proxy) {
	if _, hook := dp.release(); hook != nil {
		ds.destroyed = append(ds.destroyed, destroyedProxy{proxy: dp, hook: hook})
	}
}

// removeFromKeyMap erases the hashed keys of every name and alias of dp
// under every CLID it answers to. Entries that are missing or point at
// another proxy are left alone.
func (ds *DataStore) removeFromKeyMap(dp *Proxy) {
	km := ds.keyMap.Load()
	erase := func(key SGKey) {
		km.Compute(key, func(old *Proxy, loaded bool) (*Proxy, bool) {
			return old, !loaded || old == dp
		})
	}

	if k := dp.SGKey(); k != 0 {
		erase(k)
	}
	name := dp.Name()
	if name == "" {
		return
	}
	aliases := dp.Aliases()
	for _, tid := range dp.TransientIDs() {
		erase(HashKey(name, tid))
		for _, a := range aliases {
			erase(HashKey(a, tid))
		}
	}
}

// AddAlias makes dp answer to alias under every CLID it answers to. An
// alias held by another proxy of the same exact type is taken over, the
// other proxy loses the alias and the references it held for it. An alias
// that is the name of another proxy or an alias of a proxy of another type
// is a conflict, nothing is changed in that case.
func (ds *DataStore) AddAlias(l Locked, alias string, dp *Proxy) error {
	ds.mustHold(l)
	if dp == nil {
		return ErrNullProxy
	}
	if dp.Store() != ds {
		return fmt.Errorf("%w: %s", ErrNotRegistered, dp)
	}
	if alias == "" {
		return fmt.Errorf("%w: empty alias for %s", ErrAliasConflict, dp)
	}
	if alias == dp.Name() {
		return nil
	}

	tids := dp.TransientIDs()
	var victims []*Proxy
	for _, tid := range tids {
		pm := ds.storeMap[tid]
		if pm == nil {
			continue
		}
		cur, ok := pm.Get(alias)
		if !ok || cur == dp || slices.Contains(victims, cur) {
			continue
		}
		if cur.CLID() != dp.CLID() || cur.Name() == alias || !cur.HasAlias(alias) {
			return fmt.Errorf("%w: %q is used by %s", ErrAliasConflict, alias, cur)
		}
		victims = append(victims, cur)
	}

	for _, v := range victims {
		ds.dropAlias(v, alias)
		aliasesStolen.Inc()
		log.Debugf("alias %q moved from %s to %s", alias, v, dp)
	}

	km := ds.keyMap.Load()
	for _, tid := range tids {
		pm := ds.proxyMap(tid, true)
		if cur, ok := pm.Get(alias); ok && cur == dp {
			continue
		}
		pm.Set(alias, dp)
		dp.AddRef()
		km.Store(ds.pool.StringToKey(alias, tid), dp)
	}
	dp.SetAlias(alias)
	return nil
}

// dropAlias removes alias from v in every index and releases the references
// the alias entries held.
func (ds *DataStore) dropAlias(v *Proxy, alias string) {
	v.RemoveAlias(alias)
	km := ds.keyMap.Load()
	for _, tid := range v.TransientIDs() {
		if pm := ds.storeMap[tid]; pm != nil && pm.DeleteIf(alias, v) {
			ds.release(v)
		}
		km.Compute(HashKey(alias, tid), func(old *Proxy, loaded bool) (*Proxy, bool) {
			return old, !loaded || old == v
		})
	}
}

// AddSymLink makes dp answer to linkid under its own name.
//
// If a proxy is already registered as (linkid, name):
//   - it is dp: nothing to do
//   - it holds an object: success only if it is the object of dp
//   - it is empty, has no loader and the types are related: it is
//     redirected to the object of dp
//   - otherwise: conflict
func (ds *DataStore) AddSymLink(l Locked, linkid CLID, dp *Proxy) error {
	ds.mustHold(l)
	if dp == nil {
		return ErrNullProxy
	}
	if dp.Store() != ds {
		return fmt.Errorf("%w: %s", ErrNotRegistered, dp)
	}
	if linkid == CLIDNull {
		return fmt.Errorf("%w: symlink to CLID 0", ErrInvalidProxy)
	}

	name := dp.Name()
	if pm := ds.storeMap[linkid]; pm != nil {
		if exist, ok := pm.Get(name); ok {
			switch {
			case exist == dp:
				return nil
			case exist.IsValidObject():
				if sameObject(exist.Object(), dp.Object()) {
					return nil
				}
			case exist.Loader() == nil && IsRelated(dp.CLID(), exist.CLID()):
				exist.SetObject(dp.Object())
				return nil
			}
			log.Warningf("cannot link %s to %s: %s is already registered", dp, TypeName(linkid), exist)
			return fmt.Errorf("%w: %s/%s", ErrSymLinkConflict, TypeName(linkid), name)
		}
	}

	return ds.AddToStore(l, linkid, dp)
}

// --------------------------------------------------------------------------
// Lookup
// --------------------------------------------------------------------------

// Proxy looks up (clid, key).
//
// Resolution order:
//  1. the exact key
//  2. for DefaultKey: the single distinct proxy of the type (aliases of one
//     proxy count once)
//  3. for DefaultKey: the single distinct proxy whose exact type is clid
//  4. a dummy proxy registered under the hashed key of (key, clid), which is
//     promoted to (clid, key)
//
// Ambiguous default lookups return nil. A hashed key pointing at a proxy
// that cannot be (clid, key) panics with a *CollisionError.
func (ds *DataStore) Proxy(l Locked, clid CLID, key string) *Proxy {
	ds.mustHold(l)

	var p *Proxy
	pm := ds.storeMap[clid]
	if pm != nil {
		p, _ = pm.Get(key)
	}
	if p == nil && key == DefaultKey && pm != nil {
		p = uniqueProxy(pm, clid)
	}
	if p == nil && key != DefaultKey {
		p = ds.findDummy(clid, key)
	}

	if p != nil {
		ds.audit(p, clid)
	}
	return p
}

// ProxyExactCLID looks up the exact (clid, key) pair without any fallback.
func (ds *DataStore) ProxyExactCLID(l Locked, clid CLID, key string) *Proxy {
	ds.mustHold(l)
	pm := ds.storeMap[clid]
	if pm == nil {
		return nil
	}
	p, ok := pm.Get(key)
	if !ok {
		return nil
	}
	ds.audit(p, clid)
	return p
}

// ProxyExact looks up a hashed key.
//
// Thread-safety: Lock-free.
func (ds *DataStore) ProxyExact(sgkey SGKey) *Proxy {
	p, _ := ds.keyMap.Load().Load(sgkey)
	return p
}

// ResolveKey looks up a hashed key and promotes a dummy proxy if the string
// pool knows which (name, CLID) the key stands for. The lock is only taken
// for the promotion, callers must not hold it.
func (ds *DataStore) ResolveKey(sgkey SGKey) *Proxy {
	p := ds.ProxyExact(sgkey)
	if p == nil || !p.IsDummy() {
		return p
	}
	name, clid, ok := ds.pool.KeyToString(sgkey)
	if !ok {
		return p
	}

	l := ds.Lock()
	defer l.Unlock()
	if p.IsDummy() {
		if promoted := ds.findDummy(clid, name); promoted != nil {
			return promoted
		}
	}
	return ds.ProxyExact(sgkey)
}

// findDummy resolves (clid, key) through the hashed key index. A dummy found
// there is promoted and entered into the name index.
func (ds *DataStore) findDummy(clid CLID, key string) *Proxy {
	if clid == CLIDNull || key == "" {
		return nil
	}
	// missed lookups must not grow the pool, the key is registered on promotion only
	sgkey := HashKey(key, clid)
	p := ds.ProxyExact(sgkey)
	if p == nil {
		return nil
	}

	pm := ds.proxyMap(clid, true)
	if existing, ok := pm.Get(key); ok && existing != p {
		panic(&CollisionError{Key: sgkey, CLID: clid, Name: key, ExistingCLID: existing.CLID(), ExistingName: existing.Name()})
	}

	if p.IsDummy() {
		ds.pool.StringToKey(key, clid)
		// the reference held for the hashed key entry now stands for the name entry
		p.setID(clid, key)
		pm.Emplace(key, p)
		dummiesPromoted.Inc()
		log.Debugf("promoted dummy %d to %s", sgkey, p)
		return p
	}

	if (p.Name() != key && !p.HasAlias(key)) || !p.HasTransientID(clid) {
		panic(&CollisionError{Key: sgkey, CLID: clid, Name: key, ExistingCLID: p.CLID(), ExistingName: p.Name()})
	}
	// hashed key present but the name entry went missing
	if pm.Emplace(key, p) {
		p.AddRef()
	}
	return p
}

// uniqueProxy returns the single distinct proxy of pm, first among all
// entries and then among those whose exact type is clid.
func uniqueProxy(pm *ProxyMap, clid CLID) *Proxy {
	pick := func(filter func(p *Proxy) bool) (*Proxy, bool) {
		var cand *Proxy
		unique := true
		pm.Ascend(func(_ string, p *Proxy) bool {
			if !filter(p) {
				return true
			}
			if cand == nil {
				cand = p
			} else if p != cand {
				unique = false
				return false
			}
			return true
		})
		return cand, unique
	}

	if p, ok := pick(func(*Proxy) bool { return true }); ok {
		return p
	}
	if p, ok := pick(func(p *Proxy) bool { return p.CLID() == clid }); ok {
		return p
	}
	return nil
}

func (ds *DataStore) audit(p *Proxy, clid CLID) {
	if ds.auditor != nil {
		ds.auditor.Audit(p.Name(), clid, AccessRead, ds.id)
	}
}

// --------------------------------------------------------------------------
// Clearing
// --------------------------------------------------------------------------

// ClearStore asks every proxy whether it may be released. Proxies that
// agree are removed, reset-only proxies reset themselves and keep their
// keys (unless force is set). The hashed key index is rebuilt from the kept
// proxies instead of erasing the removed ones one by one.
func (ds *DataStore) ClearStore(l Locked, force, hard bool) {
	ds.mustHold(l)

	for i := 0; i < len(ds.proxies); {
		dp := ds.proxies[i]
		if dp.RequestRelease(force, hard) {
			ds.removeProxyImpl(dp, i, false)
		} else {
			i++
		}
	}
	ds.t2p.Clear()

	old := ds.keyMap.Load()
	fresh := xsync.NewMapOfPresized[SGKey, *Proxy](old.Size())
	old.Range(func(k SGKey, p *Proxy) bool {
		if p.Store() == ds {
			fresh.Store(k, p)
		}
		return true
	})
	ds.keyMap.Store(fresh)
	keyMapRebuilds.Inc()

	log.Debugf("cleared %s (force=%v, hard=%v), %d proxies kept", ds.id, force, hard, len(ds.proxies))
}

// --------------------------------------------------------------------------
// Transient pointer index
// --------------------------------------------------------------------------

// T2PRegister remembers that obj is held by dp. It returns false if obj is
// not a pointer-like value or is already registered.
func (ds *DataStore) T2PRegister(l Locked, obj any, dp *Proxy) bool {
	ds.mustHold(l)
	key, ok := objectKey(obj)
	if !ok {
		return false
	}
	_, loaded := ds.t2p.LoadOrStore(key, dp)
	return !loaded
}

// T2PRemove forgets obj.
func (ds *DataStore) T2PRemove(l Locked, obj any) {
	ds.mustHold(l)
	if key, ok := objectKey(obj); ok {
		ds.t2p.Delete(key)
	}
}

// LocatePersistent returns the proxy holding obj.
//
// Thread-safety: Lock-free.
func (ds *DataStore) LocatePersistent(obj any) *Proxy {
	key, ok := objectKey(obj)
	if !ok {
		return nil
	}
	p, _ := ds.t2p.Load(key)
	return p
}

func (ds *DataStore) t2pErase(obj any, dp *Proxy) {
	key, ok := objectKey(obj)
	if !ok {
		return
	}
	ds.t2p.Compute(key, func(old *Proxy, loaded bool) (*Proxy, bool) {
		return old, !loaded || old == dp
	})
}

// objectKey returns the address of a pointer-like value.
func objectKey(obj any) (uintptr, bool) {
	if obj == nil {
		return 0, false
	}
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Slice, reflect.UnsafePointer:
		if v.IsNil() {
			return 0, false
		}
		return v.Pointer(), true
	default:
		return 0, false
	}
}

// sameObject reports whether a and b are the same object.
func sameObject(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	ka, okA := objectKey(a)
	kb, okB := objectKey(b)
	if okA || okB {
		return okA && okB && ka == kb
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) || !reflect.TypeOf(a).Comparable() {
		return false
	}
	return a == b
}

// --------------------------------------------------------------------------
// Enumeration
// --------------------------------------------------------------------------

// proxyMap returns the name index of clid, creating it if asked to.
func (ds *DataStore) proxyMap(clid CLID, create bool) *ProxyMap {
	pm := ds.storeMap[clid]
	if pm == nil && create {
		pm = NewProxyMap()
		ds.storeMap[clid] = pm
	}
	return pm
}

// Keys returns the keys registered for clid in key order. Aliases are only
// included if includeAlias is set, proxies without an object or loader are
// skipped if onlyValid is set.
func (ds *DataStore) Keys(l Locked, clid CLID, includeAlias, onlyValid bool) []string {
	ds.mustHold(l)
	pm := ds.storeMap[clid]
	if pm == nil {
		return nil
	}
	var keys []string
	pm.Ascend(func(key string, p *Proxy) bool {
		if !includeAlias && key != p.Name() {
			return true
		}
		if onlyValid && !p.IsValid() {
			return true
		}
		keys = append(keys, key)
		return true
	})
	return keys
}

// TypeCount returns the number of keys (names and aliases) registered for clid.
func (ds *DataStore) TypeCount(l Locked, clid CLID) int {
	ds.mustHold(l)
	if pm := ds.storeMap[clid]; pm != nil {
		return pm.Len()
	}
	return 0
}

// Clids returns every CLID with at least one key, sorted.
func (ds *DataStore) Clids(l Locked) []CLID {
	ds.mustHold(l)
	out := make([]CLID, 0, len(ds.storeMap))
	for clid := range ds.storeMap {
		out = append(out, clid)
	}
	slices.Sort(out)
	return out
}

// Proxies returns a copy of the proxy list in registration order.
func (ds *DataStore) Proxies(l Locked) []*Proxy {
	ds.mustHold(l)
	return slices.Clone(ds.proxies)
}

// PRange calls fn for every (key, proxy) of clid in key order until fn
// returns false.
func (ds *DataStore) PRange(l Locked, clid CLID, fn func(key string, p *Proxy) bool) {
	ds.mustHold(l)
	if pm := ds.storeMap[clid]; pm != nil {
		pm.Ascend(fn)
	}
}

// KeyMapSize returns the number of hashed keys.
//
// Thread-safety: Lock-free.
func (ds *DataStore) KeyMapSize() int {
	return ds.keyMap.Load().Size()
}
