package datastore

import (
	"github.com/google/btree"
)

// btreeDegree is the degree of the name index trees. Most types hold only a
// handful of names per event.
const btreeDegree = 8

type pmEntry struct {
	key   string
	proxy *Proxy
}

// ProxyMap is the name index of one type: key (primary name or alias) to
// proxy, enumerated in key order.
//
// Thread-safety: Not safe for concurrent use, the owning DataStore guards it
// with its lock.
type ProxyMap struct {
	tree *btree.BTreeG[pmEntry]
}

// NewProxyMap creates an empty name index.
func NewProxyMap() *ProxyMap {
	return &ProxyMap{
		tree: btree.NewG[pmEntry](btreeDegree, func(a, b pmEntry) bool {
			return a.key < b.key
		}),
	}
}

// Get returns the proxy registered under key.
func (m *ProxyMap) Get(key string) (*Proxy, bool) {
	e, ok := m.tree.Get(pmEntry{key: key})
	return e.proxy, ok
}

// Emplace inserts key -> p if key is not present yet. It returns false and
// leaves the index unchanged otherwise.
func (m *ProxyMap) Emplace(key string, p *Proxy) bool {
	if m.tree.Has(pmEntry{key: key}) {
		return false
	}
	m.tree.ReplaceOrInsert(pmEntry{key: key, proxy: p})
	return true
}

// Set inserts or replaces key -> p and returns the replaced proxy, if any.
func (m *ProxyMap) Set(key string, p *Proxy) (*Proxy, bool) {
	old, replaced := m.tree.ReplaceOrInsert(pmEntry{key: key, proxy: p})
	return old.proxy, replaced
}

// Delete removes key and returns the proxy it pointed at.
func (m *ProxyMap) Delete(key string) (*Proxy, bool) {
	old, ok := m.tree.Delete(pmEntry{key: key})
	return old.proxy, ok
}

// DeleteIf removes key only if it points at p.
func (m *ProxyMap) DeleteIf(key string, p *Proxy) bool {
	cur, ok := m.Get(key)
	if !ok || cur != p {
		return false
	}
	m.tree.Delete(pmEntry{key: key})
	return true
}

// Len returns the number of keys.
func (m *ProxyMap) Len() int {
	return m.tree.Len()
}

// Ascend calls fn for every key in order until fn returns false.
func (m *ProxyMap) Ascend(fn func(key string, p *Proxy) bool) {
	m.tree.Ascend(func(e pmEntry) bool {
		return fn(e.key, e.proxy)
	})
}
