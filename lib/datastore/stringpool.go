package datastore

import (
	"github.com/ValentinKolb/sgkv/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// keyMask keeps hashed keys within 63 bits.
const keyMask = (uint64(1) << 63) - 1

type poolEntry struct {
	str  string
	clid CLID
}

// StringPool maps (name, CLID) pairs to hashed keys and back.
//
// Thread-safety: All methods are safe for concurrent use.
type StringPool struct {
	keys *xsync.MapOf[SGKey, poolEntry]
}

// NewStringPool creates an empty pool.
func NewStringPool() *StringPool {
	return &StringPool{keys: xsync.NewMapOf[SGKey, poolEntry]()}
}

// HashKey returns the hashed key of (str, clid) without registering it.
func HashKey(str string, clid CLID) SGKey {
	k := uint64(util.HashString(str, uint64(clid))) & keyMask
	if k == 0 {
		k = 1
	}
	return SGKey(k)
}

// StringToKey returns the hashed key of (str, clid) and remembers the pair.
// Two different pairs hashing to the same key panic with a *CollisionError.
func (p *StringPool) StringToKey(str string, clid CLID) SGKey {
	key := HashKey(str, clid)
	if !p.RegisterKey(key, str, clid) {
		existing, _ := p.keys.Load(key)
		panic(&CollisionError{
			Key:          key,
			CLID:         clid,
			Name:         str,
			ExistingCLID: existing.clid,
			ExistingName: existing.str,
		})
	}
	return key
}

// KeyToString returns the pair a key was created from.
func (p *StringPool) KeyToString(key SGKey) (string, CLID, bool) {
	e, ok := p.keys.Load(key)
	return e.str, e.clid, ok
}

// RegisterKey records that key stands for (str, clid). It returns false if
// key is already registered for a different pair.
func (p *StringPool) RegisterKey(key SGKey, str string, clid CLID) bool {
	e, _ := p.keys.LoadOrStore(key, poolEntry{str: str, clid: clid})
	return e.str == str && e.clid == clid
}

// Size returns the number of registered keys.
func (p *StringPool) Size() int {
	return p.keys.Size()
}
