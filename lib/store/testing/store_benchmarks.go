package testing

import (
	"fmt"
	"github.com/ValentinKolb/sgkv/lib/datastore"
	"github.com/ValentinKolb/sgkv/lib/store"
	"github.com/valyala/fastrand"
	"testing"
)

// RunIStoreBenchmarks runs all benchmarks for an IStore implementation
func RunIStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Record", func(b *testing.B) {
			benchmarkRecord(b, factory())
		})

		b.Run("Retrieve", func(b *testing.B) {
			benchmarkRetrieve(b, factory())
		})

		b.Run("RetrieveDefault", func(b *testing.B) {
			benchmarkRetrieveDefault(b, factory())
		})

		b.Run("ProxyExact", func(b *testing.B) {
			benchmarkProxyExact(b, factory())
		})

		b.Run("EventCycle", func(b *testing.B) {
			benchmarkEventCycle(b, factory())
		})
	})
}

const benchKeys = 1024

func benchKey(i int) string {
	return fmt.Sprintf("key-%d", i)
}

// fill records benchKeys tracks
func fill(b *testing.B, s store.IStore) {
	for i := 0; i < benchKeys; i++ {
		if err := store.Record(s, &track{pt: float64(i)}, benchKey(i)); err != nil {
			b.Fatalf("Record failed: %v", err)
		}
	}
}

func benchmarkRecord(b *testing.B, s store.IStore) {
	defer s.ClearStore(true)

	objs := make([]*track, b.N)
	keys := make([]string, b.N)
	for i := range objs {
		objs[i] = &track{pt: float64(i)}
		keys[i] = benchKey(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.Record(trackCLID, objs[i], keys[i], true, false); err != nil {
			b.Fatalf("Record failed: %v", err)
		}
	}
}

func benchmarkRetrieve(b *testing.B, s store.IStore) {
	defer s.ClearStore(true)
	fill(b, s)

	keys := make([]string, benchKeys)
	for i := range keys {
		keys[i] = benchKey(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, found, _ := s.Retrieve(trackCLID, keys[fastrand.Uint32n(benchKeys)]); !found {
			b.Fatal("Retrieve missed a recorded key")
		}
	}
}

func benchmarkRetrieveDefault(b *testing.B, s store.IStore) {
	defer s.ClearStore(true)
	if err := store.Record(s, &jet{e: 1}, "only"); err != nil {
		b.Fatalf("Record failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, found, _ := s.Retrieve(jetCLID, datastore.DefaultKey); !found {
			b.Fatal("Default lookup missed the only jet")
		}
	}
}

func benchmarkProxyExact(b *testing.B, s store.IStore) {
	defer s.ClearStore(true)
	fill(b, s)

	sgkeys := make([]datastore.SGKey, benchKeys)
	for i := range sgkeys {
		sgkeys[i] = datastore.HashKey(benchKey(i), trackCLID)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, found := s.ProxyExact(sgkeys[fastrand.Uint32n(benchKeys)]); !found {
				b.Error("ProxyExact missed a recorded key")
				return
			}
		}
	})
}

// benchmarkEventCycle records, retrieves and clears a small event per iteration
func benchmarkEventCycle(b *testing.B, s store.IStore) {
	defer s.ClearStore(true)

	const perEvent = 16
	keys := make([]string, perEvent)
	for i := range keys {
		keys[i] = benchKey(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for k := 0; k < perEvent; k++ {
			if err := s.Record(trackCLID, &track{pt: float64(k)}, keys[k], true, false); err != nil {
				b.Fatalf("Record failed: %v", err)
			}
		}
		for k := 0; k < perEvent; k++ {
			s.Retrieve(trackCLID, keys[k])
		}
		if err := s.ClearStore(false); err != nil {
			b.Fatalf("ClearStore failed: %v", err)
		}
	}
}
