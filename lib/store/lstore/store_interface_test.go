package lstore

import (
	"github.com/ValentinKolb/sgkv/lib/datastore"
	"github.com/ValentinKolb/sgkv/lib/store"
	storetesting "github.com/ValentinKolb/sgkv/lib/store/testing"
	"testing"
)

func Test(t *testing.T) {
	storetesting.RunIStoreTests(t, "LocalStore", func() store.IStore {
		return NewLocalStore(nil)
	})
	storetesting.RunIStoreTests(t, "LocalStore(slots=4)", func() store.IStore {
		return NewLocalStore(&StoreOptions{ID: datastore.EventStore, NumSlots: 4})
	})
}

func Benchmark(b *testing.B) {
	storetesting.RunIStoreBenchmarks(b, "LocalStore", func() store.IStore {
		return NewLocalStore(nil)
	})
}
