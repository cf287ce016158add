package datastore

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Loader
// --------------------------------------------------------------------------

// ILoader materializes the object of a proxy on first access.
type ILoader interface {
	Load(p *Proxy) (any, error)
}

// LoaderFunc adapts a plain function to ILoader.
type LoaderFunc func(p *Proxy) (any, error)

// Load calls f(p).
func (f LoaderFunc) Load(p *Proxy) (any, error) {
	return f(p)
}

// --------------------------------------------------------------------------
// Proxy
// --------------------------------------------------------------------------

// Proxy stands in for one transient object. It carries the identity of the
// object (type, name, aliases, symlinked types) independent of whether the
// object is currently materialized.
//
// A proxy is either resolved (it has a CLID and a name) or a dummy that only
// knows its hashed key. A dummy is promoted to a resolved proxy the first
// time it is looked up by (CLID, name).
//
// The reference count is the number of index entries of the owning store
// pointing at the proxy plus external holds. When it drops to zero the
// object is dropped and the destroy hook runs, exactly once.
//
// Thread-safety: All methods are safe for concurrent use. Identity changes
// (aliases, transient ids, promotion) are made by the owning DataStore while
// its lock is held.
type Proxy struct {
	mu     sync.RWMutex
	loadMu sync.Mutex

	clid    CLID
	name    string
	sgkey   SGKey
	tids    []CLID // sorted, contains clid once the proxy is resolved
	aliases map[string]struct{}

	object    any
	loader    ILoader
	resetOnly bool
	isConst   bool

	refs      atomic.Int32
	destroyed atomic.Bool
	onDestroy func(*Proxy)

	store atomic.Pointer[DataStore]
}

// ProxyOption configures a proxy.
type ProxyOption func(*Proxy)

// WithResetOnly marks the proxy as reset-only: clearing the store resets the
// proxy in place instead of removing it, unless removal is forced.
func WithResetOnly(resetOnly bool) ProxyOption {
	return func(p *Proxy) {
		p.resetOnly = resetOnly
	}
}

// WithConst marks the object of the proxy as read-only.
func WithConst() ProxyOption {
	return func(p *Proxy) {
		p.isConst = true
	}
}

// WithLoader sets a loader used to materialize the object on first access.
func WithLoader(l ILoader) ProxyOption {
	return func(p *Proxy) {
		p.loader = l
	}
}

// WithOnDestroy sets a hook called once the last reference is released.
// When the last reference is dropped by the store (removal, alias takeover,
// clear) the hook runs after the store lock was released, so it may lock the
// store again.
func WithOnDestroy(fn func(*Proxy)) ProxyOption {
	return func(p *Proxy) {
		p.onDestroy = fn
	}
}

// NewProxy creates a proxy for obj of type clid named name. obj may be nil
// if a loader is given.
func NewProxy(clid CLID, name string, obj any, opts ...ProxyOption) *Proxy {
	p := &Proxy{
		clid:    clid,
		name:    name,
		object:  obj,
		aliases: make(map[string]struct{}),
	}
	if clid != CLIDNull {
		p.tids = []CLID{clid}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDummyProxy creates a proxy that only knows its hashed key.
func NewDummyProxy(sgkey SGKey, opts ...ProxyOption) *Proxy {
	p := NewProxy(CLIDNull, "", nil, opts...)
	p.sgkey = sgkey
	return p
}

// --------------------------------------------------------------------------
// Identity
// --------------------------------------------------------------------------

// Name returns the primary name.
func (p *Proxy) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// CLID returns the exact type id.
func (p *Proxy) CLID() CLID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clid
}

// SGKey returns the primary hashed key, 0 if not set yet.
func (p *Proxy) SGKey() SGKey {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sgkey
}

// SetSGKey sets the primary hashed key.
func (p *Proxy) SetSGKey(key SGKey) {
	p.mu.Lock()
	p.sgkey = key
	p.mu.Unlock()
}

// IsDummy reports whether the proxy only knows its hashed key.
func (p *Proxy) IsDummy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clid == CLIDNull && p.name == "" && p.sgkey != 0
}

// TransientIDs returns all type ids the proxy answers to, sorted.
func (p *Proxy) TransientIDs() []CLID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.tids)
}

// HasTransientID reports whether the proxy answers to clid.
func (p *Proxy) HasTransientID(clid CLID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, found := slices.BinarySearch(p.tids, clid)
	return found
}

// SetTransientID makes the proxy answer to clid. It returns false if it
// already did.
func (p *Proxy) SetTransientID(clid CLID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addTIDLocked(clid)
}

func (p *Proxy) addTIDLocked(clid CLID) bool {
	i, found := slices.BinarySearch(p.tids, clid)
	if found {
		return false
	}
	p.tids = slices.Insert(p.tids, i, clid)
	return true
}

// Aliases returns the alias names, sorted.
func (p *Proxy) Aliases() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.aliases))
	for a := range p.aliases {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// HasAlias reports whether name is an alias of the proxy.
func (p *Proxy) HasAlias(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.aliases[name]
	return ok
}

// SetAlias adds an alias name.
func (p *Proxy) SetAlias(name string) {
	p.mu.Lock()
	p.aliases[name] = struct{}{}
	p.mu.Unlock()
}

// RemoveAlias removes an alias name. It returns false if name was not an alias.
func (p *Proxy) RemoveAlias(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.aliases[name]; !ok {
		return false
	}
	delete(p.aliases, name)
	return true
}

// setID resolves a dummy proxy.
func (p *Proxy) setID(clid CLID, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clid = clid
	p.name = name
	p.addTIDLocked(clid)
}

// --------------------------------------------------------------------------
// Ownership
// --------------------------------------------------------------------------

// AddRef adds a reference and returns the new count.
func (p *Proxy) AddRef() int32 {
	return p.refs.Add(1)
}

// Release drops a reference and returns the new count. Dropping the last
// reference drops the object and calls the destroy hook.
func (p *Proxy) Release() int32 {
	n, hook := p.release()
	if hook != nil {
		hook(p)
	}
	return n
}

// release is Release without calling the destroy hook, the hook is returned
// if this call dropped the last reference.
func (p *Proxy) release() (int32, func(*Proxy)) {
	n := p.refs.Add(-1)
	if n < 0 {
		log.Errorf("proxy %s released more often than referenced (%d)", p, n)
		return n, nil
	}
	if n != 0 || !p.destroyed.CompareAndSwap(false, true) {
		return n, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.object = nil
	p.loader = nil
	return n, p.onDestroy
}

// RefCount returns the current reference count.
func (p *Proxy) RefCount() int32 {
	return p.refs.Load()
}

// IsDestroyed reports whether the last reference was released.
func (p *Proxy) IsDestroyed() bool {
	return p.destroyed.Load()
}

// Store returns the store the proxy is registered in, nil if none.
func (p *Proxy) Store() *DataStore {
	return p.store.Load()
}

// SetStore records the owning store.
func (p *Proxy) SetStore(ds *DataStore) {
	p.store.Store(ds)
}

// --------------------------------------------------------------------------
// Object
// --------------------------------------------------------------------------

// IsValidObject reports whether the object is materialized.
func (p *Proxy) IsValidObject() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.object != nil
}

// IsValid reports whether the object is materialized or can be loaded.
func (p *Proxy) IsValid() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.object != nil || p.loader != nil
}

// Object returns the materialized object without loading it.
func (p *Proxy) Object() any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.object
}

// SetObject replaces the object.
func (p *Proxy) SetObject(obj any) {
	p.mu.Lock()
	p.object = obj
	p.mu.Unlock()
}

// Loader returns the loader, nil if none.
func (p *Proxy) Loader() ILoader {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loader
}

// SetLoader replaces the loader.
func (p *Proxy) SetLoader(l ILoader) {
	p.mu.Lock()
	p.loader = l
	p.mu.Unlock()
}

// AccessData returns the object, loading it through the loader if needed.
// Concurrent callers load at most once.
func (p *Proxy) AccessData() (any, error) {
	if obj := p.Object(); obj != nil {
		return obj, nil
	}

	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	// another goroutine may have loaded it in the meantime
	if obj := p.Object(); obj != nil {
		return obj, nil
	}
	loader := p.Loader()
	if loader == nil {
		return nil, nil
	}
	loaded, err := loader.Load(p)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", p, err)
	}
	p.SetObject(loaded)
	return loaded, nil
}

// IsResetOnly reports whether the proxy is reset instead of removed on clear.
func (p *Proxy) IsResetOnly() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.resetOnly
}

// SetResetOnly changes the reset-only flag.
func (p *Proxy) SetResetOnly(resetOnly bool) {
	p.mu.Lock()
	p.resetOnly = resetOnly
	p.mu.Unlock()
}

// IsConst reports whether the object is read-only.
func (p *Proxy) IsConst() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isConst
}

// SetConst marks the object as read-only.
func (p *Proxy) SetConst() {
	p.mu.Lock()
	p.isConst = true
	p.mu.Unlock()
}

// Reset drops the object and the const flag. A hard reset also drops the
// loader, the proxy then has to be given a new one before its next use.
func (p *Proxy) Reset(hard bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.object = nil
	p.isConst = false
	if hard {
		p.loader = nil
	}
}

// RequestRelease asks the proxy whether it may be removed from its store.
// A reset-only proxy that is not forced resets itself and declines.
func (p *Proxy) RequestRelease(force, hard bool) bool {
	if force || !p.IsResetOnly() {
		return true
	}
	p.Reset(hard)
	return false
}

func (p *Proxy) String() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.clid == CLIDNull && p.name == "" {
		return fmt.Sprintf("dummy(%d)", p.sgkey)
	}
	return fmt.Sprintf("%s/%s", TypeName(p.clid), p.name)
}
