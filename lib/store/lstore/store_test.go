package lstore

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/sgkv/lib/datastore"
	"github.com/ValentinKolb/sgkv/lib/store"
	"testing"
)

type hit struct{ e float64 }

const hitCLID datastore.CLID = 7100

func init() {
	datastore.MustRegisterType[*hit](hitCLID, "Hit")
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err  error
		code store.RetCode
	}{
		{nil, store.RetCSuccess},
		{datastore.ErrNullProxy, store.RetCInvalidOperation},
		{fmt.Errorf("%w: x", datastore.ErrInvalidProxy), store.RetCInvalidOperation},
		{datastore.ErrDuplicateKey, store.RetCDuplicateKey},
		{datastore.ErrAliasConflict, store.RetCDuplicateKey},
		{datastore.ErrSymLinkConflict, store.RetCDuplicateKey},
		{datastore.ErrNotRegistered, store.RetCNotFound},
		{&datastore.CollisionError{Name: "a"}, store.RetCCollision},
		{errors.New("anything else"), store.RetCInternalError},
	}
	for _, tt := range tests {
		if got := store.CodeOf(mapError(tt.err)); got != tt.code {
			t.Errorf("mapError(%v): expected %s, got %s", tt.err, tt.code, got)
		}
	}
}

type countingAuditor struct {
	names []string
}

func (a *countingAuditor) Audit(name string, clid datastore.CLID, mode datastore.AccessMode, id datastore.StoreID) {
	a.names = append(a.names, name)
}

func TestAuditor(t *testing.T) {
	aud := &countingAuditor{}
	s := NewLocalStore(&StoreOptions{ID: datastore.DetectorStore, NumSlots: 1, Auditor: aud})
	if s.StoreID() != datastore.DetectorStore {
		t.Errorf("unexpected store id %s", s.StoreID())
	}

	if err := store.Record(s, &hit{}, "pixels"); err != nil {
		t.Fatal(err)
	}
	aud.names = nil
	store.Retrieve[*hit](s, "pixels")
	store.Retrieve[*hit](s, "strips")
	if len(aud.names) != 1 || aud.names[0] != "pixels" {
		t.Errorf("only successful lookups should be audited, got %v", aud.names)
	}
}

// TestLoaderUsesStore clears the store from inside a loader. The retrieval
// must neither deadlock nor hand out a destroyed object.
func TestLoaderUsesStore(t *testing.T) {
	s := NewLocalStore(nil)

	loader := datastore.LoaderFunc(func(p *datastore.Proxy) (any, error) {
		if err := s.ClearStore(true); err != nil {
			return nil, err
		}
		return &hit{e: 1}, nil
	})
	if err := s.RecordAddress(hitCLID, "lazy", loader, false); err != nil {
		t.Fatal(err)
	}
	p, found := s.ProxyExact(datastore.HashKey("lazy", hitCLID))
	if !found {
		t.Fatal("address should be registered")
	}

	obj, found, err := store.Retrieve[*hit](s, "lazy")
	if err != nil || !found || obj.e != 1 {
		t.Fatalf("expected the loaded hit, got %v %v %v", obj, found, err)
	}
	if !p.IsDestroyed() || s.TypeCount(hitCLID) != 0 {
		t.Error("the proxy removed during the load should be destroyed once the retrieval is done")
	}
}

func TestRetrieveEmptyKeyMeansDefault(t *testing.T) {
	s := NewLocalStore(nil)
	h := &hit{}
	if err := store.Record(s, h, "only"); err != nil {
		t.Fatal(err)
	}
	obj, found, err := s.Retrieve(hitCLID, "")
	if err != nil || !found || obj != any(h) {
		t.Errorf("empty key should resolve like the default key, got %v %v %v", obj, found, err)
	}
}
