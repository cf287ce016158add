package store

import (
	"github.com/ValentinKolb/sgkv/lib/datastore"
)

// --------------------------------------------------------------------------
// Typed Helpers
// --------------------------------------------------------------------------

// The helpers below derive the CLID from the type parameter, which must be
// registered with datastore.RegisterType. T is the type the caller works
// with: the stored type itself (e.g. *Track) or an interface registered as a
// base of it.

func classID[T any]() (datastore.CLID, error) {
	clid, ok := datastore.ClassID[T]()
	if !ok {
		var zero T
		return datastore.CLIDNull, Errorf(RetCInvalidOperation, "type %T is not registered", zero)
	}
	return clid, nil
}

// Record stores obj under key as a modifiable object.
func Record[T any](s IStore, obj T, key string) error {
	clid, err := classID[T]()
	if err != nil {
		return err
	}
	return s.Record(clid, obj, key, true, false)
}

// RecordConst stores obj under key as a read-only object.
func RecordConst[T any](s IStore, obj T, key string) error {
	clid, err := classID[T]()
	if err != nil {
		return err
	}
	return s.Record(clid, obj, key, false, false)
}

// Retrieve returns the object of type T stored under key.
func Retrieve[T any](s IStore, key string) (T, bool, error) {
	var zero T
	clid, err := classID[T]()
	if err != nil {
		return zero, false, err
	}
	obj, found, err := s.Retrieve(clid, key)
	if err != nil || !found {
		return zero, false, err
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, false, Errorf(RetCInvalidOperation, "%s/%s holds %T, not %T", datastore.TypeName(clid), key, obj, zero)
	}
	return typed, true, nil
}

// RetrieveDefault returns the only object of type T.
func RetrieveDefault[T any](s IStore) (T, bool, error) {
	return Retrieve[T](s, datastore.DefaultKey)
}

// Contains returns whether an object of type T is stored (or loadable) under key.
func Contains[T any](s IStore, key string) (bool, error) {
	clid, err := classID[T]()
	if err != nil {
		return false, err
	}
	return s.Contains(clid, key), nil
}
