package testing

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/sgkv/lib/datastore"
	"github.com/ValentinKolb/sgkv/lib/store"
)

// StoreFactory is a function that creates a new, empty IStore implementation
type StoreFactory func() store.IStore

// --------------------------------------------------------------------------
// Test types
// --------------------------------------------------------------------------

type particle interface {
	Momentum() float64
}

type track struct{ pt float64 }

type jet struct{ e float64 }

func (j *jet) Momentum() float64 { return j.e }

type electron struct{ pt float64 }

func (e *electron) Momentum() float64 { return e.pt }

const (
	particleCLID datastore.CLID = 7000
	trackCLID    datastore.CLID = 7001
	jetCLID      datastore.CLID = 7002
	electronCLID datastore.CLID = 7003
)

func init() {
	datastore.MustRegisterType[particle](particleCLID, "Particle")
	datastore.MustRegisterType[*track](trackCLID, "Track")
	datastore.MustRegisterType[*jet](jetCLID, "Jet", particleCLID)
	datastore.MustRegisterType[*electron](electronCLID, "Electron", particleCLID)
}

// RunIStoreTests runs a comprehensive test suite for an IStore implementation.
func RunIStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Record&Retrieve", func(t *testing.T) {
			testRecordRetrieve(t, factory())
		})

		t.Run("Duplicates", func(t *testing.T) {
			testDuplicates(t, factory())
		})

		t.Run("InvalidRecord", func(t *testing.T) {
			testInvalidRecord(t, factory())
		})

		t.Run("BaseLinks", func(t *testing.T) {
			testBaseLinks(t, factory())
		})

		t.Run("Overwrite", func(t *testing.T) {
			testOverwrite(t, factory())
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, factory())
		})

		t.Run("Alias&SymLink", func(t *testing.T) {
			testAliasSymLink(t, factory())
		})

		t.Run("RecordAddress", func(t *testing.T) {
			testRecordAddress(t, factory())
		})

		t.Run("RegisterDummy", func(t *testing.T) {
			testRegisterDummy(t, factory())
		})

		t.Run("RetrieveAll", func(t *testing.T) {
			testRetrieveAll(t, factory())
		})

		t.Run("ClearStore", func(t *testing.T) {
			testClearStore(t, factory())
		})

		t.Run("Dump", func(t *testing.T) {
			testDump(t, factory())
		})

		t.Run("ConcurrentUsage", func(t *testing.T) {
			testConcurrentUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// requireCode fails the test if err does not carry the expected return code
func requireCode(t testing.TB, err error, code store.RetCode) {
	t.Helper()
	if got := store.CodeOf(err); got != code {
		t.Errorf("Expected return code %s, got %s (%v)", code, got, err)
	}
}

// countingLoader returns a loader that creates a track and counts its calls
func countingLoader(calls *atomic.Int32, pt float64) datastore.ILoader {
	return datastore.LoaderFunc(func(*datastore.Proxy) (any, error) {
		calls.Add(1)
		return &track{pt: pt}, nil
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testRecordRetrieve(t *testing.T, s store.IStore) {
	defer s.ClearStore(true)

	trk := &track{pt: 42}
	if err := store.Record(s, trk, "tracks"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, found, err := store.Retrieve[*track](s, "tracks")
	if err != nil || !found {
		t.Fatalf("Expected tracks to be found, got found=%v err=%v", found, err)
	}
	if got != trk {
		t.Errorf("Retrieve should return the recorded object, not a copy")
	}

	got, found, err = store.RetrieveDefault[*track](s)
	if err != nil || !found || got != trk {
		t.Errorf("The only track should be the default track, got %v %v %v", got, found, err)
	}

	if _, found, err = store.Retrieve[*track](s, "nonexistent"); found || err != nil {
		t.Errorf("Expected nonexistent key to return found=false without error, got %v %v", found, err)
	}

	if ok, _ := store.Contains[*track](s, "tracks"); !ok {
		t.Errorf("Contains should report the recorded track")
	}
	if !s.TransientContains(trackCLID, "tracks") {
		t.Errorf("TransientContains should report the materialized track")
	}
	if s.Contains(jetCLID, "tracks") {
		t.Errorf("Contains should not find the key under an unrelated type")
	}

	// a second track makes the default key ambiguous
	if err := store.Record(s, &track{pt: 1}, "more-tracks"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, found, _ := store.RetrieveDefault[*track](s); found {
		t.Errorf("Default lookup with two tracks must not pick one")
	}
}

func testDuplicates(t *testing.T, s store.IStore) {
	defer s.ClearStore(true)

	first := &track{pt: 1}
	if err := store.Record(s, first, "foo"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	requireCode(t, store.Record(s, &track{pt: 2}, "foo"), store.RetCDuplicateKey)
	requireCode(t, store.Record(s, first, "bar"), store.RetCDuplicateKey)

	got, found, _ := store.Retrieve[*track](s, "foo")
	if !found || got != first {
		t.Errorf("Failed records must leave the first object in place")
	}
	if n := s.TypeCount(trackCLID); n != 1 {
		t.Errorf("Expected one key after failed records, got %d", n)
	}
}

func testInvalidRecord(t *testing.T, s store.IStore) {
	defer s.ClearStore(true)

	requireCode(t, s.Record(trackCLID, nil, "nil", true, false), store.RetCInvalidOperation)
	requireCode(t, s.Record(trackCLID, &track{}, "", true, false), store.RetCInvalidOperation)
	requireCode(t, s.Record(datastore.CLIDNull, &track{}, "no-clid", true, false), store.RetCInvalidOperation)

	type unregistered struct{}
	requireCode(t, store.Record(s, &unregistered{}, "x"), store.RetCInvalidOperation)
	if _, _, err := store.Retrieve[*unregistered](s, "x"); store.CodeOf(err) != store.RetCInvalidOperation {
		t.Errorf("Retrieve of an unregistered type should fail, got %v", err)
	}

	if len(s.Clids()) != 0 {
		t.Errorf("Invalid records must not change the store, got types %v", s.Clids())
	}
}

func testBaseLinks(t *testing.T, s store.IStore) {
	defer s.ClearStore(true)

	j := &jet{e: 100}
	if err := store.Record(s, j, "jets"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	p, found, err := store.Retrieve[particle](s, "jets")
	if err != nil || !found {
		t.Fatalf("Jet should be visible as a particle, got found=%v err=%v", found, err)
	}
	if p.Momentum() != 100 {
		t.Errorf("Expected the recorded jet, got momentum %f", p.Momentum())
	}

	// the base key is taken, the electron is still recorded under its own type
	e := &electron{pt: 5}
	if err := store.Record(s, e, "jets"); err != nil {
		t.Fatalf("Record of a second type under the same key failed: %v", err)
	}
	if p, _, _ := store.Retrieve[particle](s, "jets"); p.Momentum() != 100 {
		t.Errorf("The base link must stay with the first object")
	}
	if got, found, _ := store.Retrieve[*electron](s, "jets"); !found || got != e {
		t.Errorf("Electron should be found under its own type")
	}

	clids := s.Clids()
	want := []datastore.CLID{particleCLID, jetCLID, electronCLID}
	if len(clids) != len(want) {
		t.Fatalf("Expected types %v, got %v", want, clids)
	}
	for i := range want {
		if clids[i] != want[i] {
			t.Errorf("Expected types %v, got %v", want, clids)
			break
		}
	}

	// retrieving as the wrong Go type is reported, not silently converted
	if _, _, err := store.Retrieve[*jet](s, "missing"); err != nil {
		t.Errorf("Missing key should not be an error, got %v", err)
	}
}

func testOverwrite(t *testing.T, s store.IStore) {
	defer s.ClearStore(true)

	old := &track{pt: 1}
	replacement := &track{pt: 2}
	if err := store.Record(s, old, "tracks"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Overwrite(trackCLID, replacement, "tracks", true); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}

	got, found, _ := store.Retrieve[*track](s, "tracks")
	if !found || got != replacement {
		t.Errorf("Overwrite should replace the object")
	}
	requireCode(t, s.Remove(old), store.RetCNotFound)

	// overwriting a free key records
	if err := s.Overwrite(trackCLID, &track{}, "fresh", false); err != nil {
		t.Errorf("Overwrite of a free key failed: %v", err)
	}
	if !s.Contains(trackCLID, "fresh") {
		t.Errorf("Overwrite of a free key should record the object")
	}
}

func testRemove(t *testing.T, s store.IStore) {
	defer s.ClearStore(true)

	trk := &track{}
	if err := store.Record(s, trk, "tracks"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Remove(trk); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if s.Contains(trackCLID, "tracks") || s.TypeCount(trackCLID) != 0 {
		t.Errorf("Removed object should be gone")
	}
	requireCode(t, s.Remove(trk), store.RetCNotFound)
	requireCode(t, s.Remove(nil), store.RetCInvalidOperation)

	// reset-only objects are reset in place and can be recorded again
	cached := &track{pt: 3}
	if err := s.Record(trackCLID, cached, "cached", true, true); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Remove(cached); err != nil {
		t.Fatalf("Remove of a reset-only object failed: %v", err)
	}
	if s.Contains(trackCLID, "cached") || s.TypeCount(trackCLID) != 1 {
		t.Errorf("Reset-only object should be reset but keep its key")
	}
	refill := &track{pt: 4}
	if err := store.Record(s, refill, "cached"); err != nil {
		t.Fatalf("Record into the reset key failed: %v", err)
	}
	if got, _, _ := store.Retrieve[*track](s, "cached"); got != refill {
		t.Errorf("Reset key should hold the new object")
	}

	if err := s.RemoveDataAndProxy(refill); err != nil {
		t.Fatalf("RemoveDataAndProxy failed: %v", err)
	}
	if s.TypeCount(trackCLID) != 0 {
		t.Errorf("RemoveDataAndProxy should remove reset-only keys too")
	}
}

func testAliasSymLink(t *testing.T, s store.IStore) {
	defer s.ClearStore(true)

	x := &track{pt: 1}
	y := &track{pt: 2}
	if err := store.Record(s, x, "x"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.Record(s, y, "y"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := s.SetAlias(x, "bar"); err != nil {
		t.Fatalf("SetAlias failed: %v", err)
	}
	if got, _, _ := store.Retrieve[*track](s, "bar"); got != x {
		t.Errorf("Alias should resolve to x")
	}
	if err := s.SetAlias(y, "bar"); err != nil {
		t.Fatalf("Moving the alias failed: %v", err)
	}
	if got, _, _ := store.Retrieve[*track](s, "bar"); got != y {
		t.Errorf("Alias should have moved to y")
	}
	requireCode(t, s.SetAlias(x, "y"), store.RetCDuplicateKey)
	requireCode(t, s.SetAlias(&track{}, "z"), store.RetCNotFound)

	keys := s.Keys(trackCLID, true, false)
	if strings.Join(keys, ",") != "bar,x,y" {
		t.Errorf("Expected keys bar,x,y, got %v", keys)
	}
	if names := s.Keys(trackCLID, false, false); strings.Join(names, ",") != "x,y" {
		t.Errorf("Expected names x,y, got %v", names)
	}

	j := &jet{e: 1}
	if err := store.Record(s, j, "j"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.SymLink(j, trackCLID); err != nil {
		t.Fatalf("SymLink failed: %v", err)
	}
	obj, found, err := s.Retrieve(trackCLID, "j")
	if err != nil || !found || obj != any(j) {
		t.Errorf("SymLink should make the jet visible under Track")
	}
	if _, _, err := store.Retrieve[*track](s, "j"); store.CodeOf(err) != store.RetCInvalidOperation {
		t.Errorf("Typed retrieval of a jet as track should fail, got %v", err)
	}
	requireCode(t, s.SymLink(j, datastore.CLIDNull), store.RetCInvalidOperation)
}

func testRecordAddress(t *testing.T, s store.IStore) {
	defer s.ClearStore(true)

	var calls atomic.Int32
	if err := s.RecordAddress(trackCLID, "lazy", countingLoader(&calls, 7), false); err != nil {
		t.Fatalf("RecordAddress failed: %v", err)
	}
	if !s.Contains(trackCLID, "lazy") || s.TransientContains(trackCLID, "lazy") {
		t.Errorf("Address should be loadable but not loaded")
	}

	first, found, err := store.Retrieve[*track](s, "lazy")
	if err != nil || !found || first.pt != 7 {
		t.Fatalf("Retrieve should load the object, got %v %v %v", first, found, err)
	}
	second, _, _ := store.Retrieve[*track](s, "lazy")
	if second != first || calls.Load() != 1 {
		t.Errorf("Loader should run once, ran %d times", calls.Load())
	}

	// loaded objects are known by address
	if err := s.SetAlias(first, "lazy-alias"); err != nil {
		t.Errorf("Loaded object should be recorded by address: %v", err)
	}

	broken := datastore.LoaderFunc(func(*datastore.Proxy) (any, error) {
		return nil, errors.New("file is gone")
	})
	if err := s.RecordAddress(trackCLID, "broken", broken, false); err != nil {
		t.Fatalf("RecordAddress failed: %v", err)
	}
	if _, found, err := s.Retrieve(trackCLID, "broken"); found || store.CodeOf(err) != store.RetCInternalError {
		t.Errorf("Failing loader should be reported, got found=%v err=%v", found, err)
	}

	requireCode(t, s.RecordAddress(trackCLID, "no-loader", nil, false), store.RetCInvalidOperation)
	requireCode(t, s.RecordAddress(trackCLID, "lazy", countingLoader(&calls, 0), false), store.RetCDuplicateKey)
}

func testRegisterDummy(t *testing.T, s store.IStore) {
	defer s.ClearStore(true)

	var calls atomic.Int32
	sgkey := datastore.HashKey("unresolved", trackCLID)
	if err := s.RegisterDummy(sgkey, countingLoader(&calls, 9)); err != nil {
		t.Fatalf("RegisterDummy failed: %v", err)
	}
	requireCode(t, s.RegisterDummy(sgkey, nil), store.RetCDuplicateKey)
	requireCode(t, s.RegisterDummy(0, nil), store.RetCInvalidOperation)

	if p, found := s.ProxyExact(sgkey); !found || !p.IsDummy() {
		t.Errorf("Hashed key should resolve to the unresolved proxy")
	}

	trk, found, err := store.Retrieve[*track](s, "unresolved")
	if err != nil || !found || trk.pt != 9 {
		t.Fatalf("Lookup by name should resolve and load the dummy, got %v %v %v", trk, found, err)
	}
	p, found := s.ProxyExact(sgkey)
	if !found || p.IsDummy() || p.Name() != "unresolved" || p.CLID() != trackCLID {
		t.Errorf("Resolved proxy should carry type and name, got %v", p)
	}
	if keys := s.Keys(trackCLID, false, false); len(keys) != 1 || keys[0] != "unresolved" {
		t.Errorf("Resolved proxy should be listed, got %v", keys)
	}
}

func testRetrieveAll(t *testing.T, s store.IStore) {
	defer s.ClearStore(true)

	var recorded []*track
	for i, key := range []string{"c", "a", "b"} {
		trk := &track{pt: float64(i)}
		if err := store.Record(s, trk, key); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		recorded = append(recorded, trk)
	}
	if err := s.SetAlias(recorded[0], "z"); err != nil {
		t.Fatalf("SetAlias failed: %v", err)
	}

	objs, err := s.RetrieveAll(trackCLID)
	if err != nil {
		t.Fatalf("RetrieveAll failed: %v", err)
	}
	// key order: a, b, c (z is an alias of c)
	want := []*track{recorded[1], recorded[2], recorded[0]}
	if len(objs) != len(want) {
		t.Fatalf("Expected %d objects, got %d", len(want), len(objs))
	}
	for i := range want {
		if objs[i] != any(want[i]) {
			t.Errorf("Object %d: expected %v, got %v", i, want[i], objs[i])
		}
	}

	if objs, _ := s.RetrieveAll(jetCLID); len(objs) != 0 {
		t.Errorf("Expected no jets, got %v", objs)
	}
}

func testClearStore(t *testing.T, s store.IStore) {
	for i := 0; i < 10; i++ {
		if err := store.Record(s, &track{pt: float64(i)}, fmt.Sprintf("track-%d", i)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	if err := s.Record(jetCLID, &jet{}, "conditions", false, true); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := s.ClearStore(false); err != nil {
		t.Fatalf("ClearStore failed: %v", err)
	}
	if s.TypeCount(trackCLID) != 0 {
		t.Errorf("Plain objects should be removed")
	}
	if s.TypeCount(jetCLID) != 1 || s.TransientContains(jetCLID, "conditions") {
		t.Errorf("Reset-only object should keep its key but lose its object")
	}

	// the next event fills the kept key again
	if err := s.Record(jetCLID, &jet{e: 2}, "conditions", false, true); err != nil {
		t.Fatalf("Record into the kept key failed: %v", err)
	}
	if !s.TransientContains(jetCLID, "conditions") {
		t.Errorf("Kept key should hold the new object")
	}

	if err := s.ClearStore(true); err != nil {
		t.Fatalf("Forced ClearStore failed: %v", err)
	}
	if len(s.Clids()) != 0 {
		t.Errorf("Forced clear should remove everything, got types %v", s.Clids())
	}
}

func testDump(t *testing.T, s store.IStore) {
	defer s.ClearStore(true)

	if err := store.RecordConst(s, &jet{}, "jets"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	dump := s.Dump()
	for _, want := range []string{"Jet", "Particle", "jets", "const", "link to Jet"} {
		if !strings.Contains(dump, want) {
			t.Errorf("Dump should mention %q:\n%s", want, dump)
		}
	}
}

func testConcurrentUsage(t *testing.T, s store.IStore) {
	defer s.ClearStore(true)

	const numGoroutines = 8
	const numOps = 200

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines)
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < numOps; i++ {
				key := fmt.Sprintf("g%d-%d", g, i)
				trk := &track{pt: float64(i)}
				if err := store.Record(s, trk, key); err != nil {
					errs <- err
					return
				}
				got, found, err := store.Retrieve[*track](s, key)
				if err != nil || !found || got != trk {
					errs <- fmt.Errorf("%s: found=%v err=%v", key, found, err)
					return
				}
				if i%2 == 0 {
					if err := s.Remove(trk); err != nil {
						errs <- err
						return
					}
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if n := s.TypeCount(trackCLID); n != numGoroutines*numOps/2 {
		t.Errorf("Expected %d tracks, got %d", numGoroutines*numOps/2, n)
	}
}
