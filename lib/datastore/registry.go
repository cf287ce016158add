package datastore

import (
	"fmt"
	"github.com/puzpuzpuz/xsync/v3"
	"reflect"
)

// --------------------------------------------------------------------------
// Type registry
// --------------------------------------------------------------------------

type typeInfo struct {
	clid  CLID
	name  string
	typ   reflect.Type
	bases []CLID
}

var (
	typesByCLID = xsync.NewMapOf[CLID, *typeInfo]()
	typesByType = xsync.NewMapOf[reflect.Type, CLID]()
)

// RegisterType assigns clid to the Go type T and declares its direct bases.
// Registering the same type with the same id again is a no-op, anything
// else that reuses an id or a type fails.
func RegisterType[T any](clid CLID, name string, bases ...CLID) error {
	if clid == CLIDNull {
		return fmt.Errorf("datastore: CLID 0 is reserved")
	}
	typ := reflect.TypeFor[T]()
	info := &typeInfo{clid: clid, name: name, typ: typ, bases: append([]CLID(nil), bases...)}

	existing, loaded := typesByCLID.LoadOrStore(clid, info)
	if loaded && existing.typ != typ {
		return fmt.Errorf("datastore: CLID %d already used by %s", clid, existing.typ)
	}
	if got, loaded := typesByType.LoadOrStore(typ, clid); loaded && got != clid {
		return fmt.Errorf("datastore: type %s already registered with CLID %d", typ, got)
	}
	return nil
}

// MustRegisterType is RegisterType that panics on error.
func MustRegisterType[T any](clid CLID, name string, bases ...CLID) CLID {
	if err := RegisterType[T](clid, name, bases...); err != nil {
		panic(err)
	}
	return clid
}

// ClassID returns the CLID registered for T.
func ClassID[T any]() (CLID, bool) {
	return typesByType.Load(reflect.TypeFor[T]())
}

// CLIDOf returns the CLID registered for the dynamic type of obj.
func CLIDOf(obj any) (CLID, bool) {
	if obj == nil {
		return CLIDNull, false
	}
	return typesByType.Load(reflect.TypeOf(obj))
}

// TypeName returns the registered name of clid, or the number if unknown.
func TypeName(clid CLID) string {
	if info, ok := typesByCLID.Load(clid); ok {
		return info.name
	}
	return fmt.Sprintf("%d", clid)
}

// Bases returns all (direct and indirect) bases of clid, nearest first.
func Bases(clid CLID) []CLID {
	var out []CLID
	seen := map[CLID]bool{clid: true}
	queue := []CLID{clid}
	for len(queue) > 0 {
		info, ok := typesByCLID.Load(queue[0])
		queue = queue[1:]
		if !ok {
			continue
		}
		for _, b := range info.bases {
			if !seen[b] {
				seen[b] = true
				out = append(out, b)
				queue = append(queue, b)
			}
		}
	}
	return out
}

// IsBase reports whether base is a (possibly indirect) base of clid.
func IsBase(clid, base CLID) bool {
	for _, b := range Bases(clid) {
		if b == base {
			return true
		}
	}
	return false
}

// IsRelated reports whether one of a and b derives from the other.
func IsRelated(a, b CLID) bool {
	return a == b || IsBase(a, b) || IsBase(b, a)
}
