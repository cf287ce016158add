package store

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/sgkv/lib/datastore"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Factory is a function type that creates the store of one slot.
// This is used to abstract the creation of the per-slot stores from the facade.
type Factory func(slot int) IStore

// IStore is the generic interface for interacting with a transient object store.
// Objects are identified by their type id (CLID) and a key. All write operations
// return only an error (a *Error, nil on success), read operations return the
// requested data along with a flag whether it was found.
//
// Hash collisions in the key space are not ordinary failures, they panic with
// a *datastore.CollisionError.
type IStore interface {
	// StoreID returns the role of the store.
	StoreID() datastore.StoreID

	// Record stores obj as (clid, key). The object is also registered under every
	// registered base type of clid. allowMods=false marks the object as read-only,
	// resetOnly keeps the proxy (and its keys) when the store is cleared.
	// An existing (clid, key) that currently holds no object is reused.
	Record(clid datastore.CLID, obj any, key string, allowMods, resetOnly bool) (err error)
	// Overwrite stores obj as (clid, key), removing an object already stored there.
	Overwrite(clid datastore.CLID, obj any, key string, allowMods bool) (err error)
	// RecordAddress registers (clid, key) without an object. The loader is
	// called on the first retrieval.
	RecordAddress(clid datastore.CLID, key string, loader datastore.ILoader, resetOnly bool) (err error)
	// RegisterDummy registers a hashed key whose type and name are not known yet.
	// The first lookup by (clid, name) resolves it.
	RegisterDummy(sgkey datastore.SGKey, loader datastore.ILoader) (err error)

	// Retrieve returns the object stored as (clid, key), loading it if needed.
	// datastore.DefaultKey returns the only object of the type.
	Retrieve(clid datastore.CLID, key string) (obj any, found bool, err error)
	// RetrieveAll returns every distinct object registered for clid, in key order.
	RetrieveAll(clid datastore.CLID) (objs []any, err error)
	// Contains returns whether (clid, key) holds an object or can load one.
	Contains(clid datastore.CLID, key string) (found bool)
	// TransientContains returns whether (clid, key) currently holds an object.
	TransientContains(clid datastore.CLID, key string) (found bool)
	// ProxyExact returns the proxy of a hashed key, resolving a dummy proxy if
	// the key is known.
	ProxyExact(sgkey datastore.SGKey) (p *datastore.Proxy, found bool)

	// Remove removes a recorded object. Reset-only objects are reset in place.
	Remove(obj any) (err error)
	// RemoveDataAndProxy removes a recorded object and its proxy unconditionally.
	RemoveDataAndProxy(obj any) (err error)
	// SetAlias makes a recorded object answer to alias.
	SetAlias(obj any, alias string) (err error)
	// SymLink makes a recorded object answer to the type linkID.
	SymLink(obj any, linkID datastore.CLID) (err error)

	// Keys returns the keys of clid in key order.
	Keys(clid datastore.CLID, includeAlias, onlyValid bool) (keys []string)
	// TypeCount returns the number of keys of clid.
	TypeCount(clid datastore.CLID) (n int)
	// Clids returns every type id with at least one key.
	Clids() (clids []datastore.CLID)

	// ClearStore removes all objects. Reset-only objects are reset in place
	// unless force is set.
	ClearStore(force bool) (err error)
	// Dump returns a textual report of the store content.
	Dump() string
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new StoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new StoreError with a formatted message.
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// CodeOf returns the return code of err: RetCSuccess for nil, the code of a
// wrapped *Error, RetCInternalError otherwise.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the store.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCNotFound                            // 4: Object or proxy is not registered.
	RetCDuplicateKey                        // 5: Key or object is already registered.
	RetCCollision                           // 6: Two different keys hashed to the same value.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotFound:
		return "NotFound"
	case RetCDuplicateKey:
		return "DuplicateKey"
	case RetCCollision:
		return "Collision"
	default:
		return "Unknown"
	}
}
