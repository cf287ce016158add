package datastore

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Identifiers
// --------------------------------------------------------------------------

// CLID is the process-wide numeric id of a stored type.
type CLID uint32

// CLIDNull is the type id of a dummy proxy whose type is not known yet.
const CLIDNull CLID = 0

// SGKey is the hash of a (name, CLID) pair. The zero key is never produced
// by the string pool and means "no key".
type SGKey uint64

// DefaultKey is the sentinel name that asks Proxy() to pick the single
// unambiguous proxy of a type.
const DefaultKey = "<default>"

// StoreID names the role of a store.
type StoreID int

const (
	EventStore StoreID = iota
	DetectorStore
	ConditionStore
	MetaDataStore
	InputMetaDataStore
	SimpleStore
	SpareStore
	UnknownStore
)

func (id StoreID) String() string {
	switch id {
	case EventStore:
		return "EventStore"
	case DetectorStore:
		return "DetectorStore"
	case ConditionStore:
		return "ConditionStore"
	case MetaDataStore:
		return "MetaDataStore"
	case InputMetaDataStore:
		return "InputMetaDataStore"
	case SimpleStore:
		return "SimpleStore"
	case SpareStore:
		return "SpareStore"
	default:
		return "UnknownStore"
	}
}

// AccessMode is reported to the auditor for every lookup.
type AccessMode int

const (
	AccessRead AccessMode = iota
	AccessWrite
	AccessUnknown
)

// IAuditor is informed about successful lookups.
type IAuditor interface {
	Audit(name string, clid CLID, mode AccessMode, store StoreID)
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	ErrNullProxy       = errors.New("datastore: nil proxy")
	ErrInvalidProxy    = errors.New("datastore: proxy cannot be registered")
	ErrDuplicateKey    = errors.New("datastore: key already registered")
	ErrNotRegistered   = errors.New("datastore: proxy is not registered in this store")
	ErrAliasConflict   = errors.New("datastore: alias is used by an unrelated proxy")
	ErrSymLinkConflict = errors.New("datastore: symlink target is used by another proxy")
	ErrCollision       = errors.New("datastore: key collision")
)

// CollisionError describes two different live entries for what must be a
// unique key. Lookups panic with a *CollisionError, the index can only be
// recovered by clearing the store.
type CollisionError struct {
	Key          SGKey
	CLID         CLID
	Name         string
	ExistingCLID CLID
	ExistingName string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("datastore: key collision for %d/%s (sgkey %d) with existing %d/%s",
		e.CLID, e.Name, e.Key, e.ExistingCLID, e.ExistingName)
}

func (e *CollisionError) Unwrap() error {
	return ErrCollision
}
