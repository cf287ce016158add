package rcu

import (
	"errors"
	"github.com/ValentinKolb/sgkv/lib/evctx"
	"sync"
	"sync/atomic"
	"testing"
)

// payload is a test value that knows whether it was reclaimed
type payload struct {
	name    string
	deleted atomic.Int32
}

// tracker records reclaimed payloads
type tracker struct {
	mu      sync.Mutex
	deleted []string
}

func (tr *tracker) deleter(p *payload) {
	if p.deleted.Add(1) != 1 {
		panic("payload " + p.name + " deleted twice")
	}
	tr.mu.Lock()
	tr.deleted = append(tr.deleted, p.name)
	tr.mu.Unlock()
}

func (tr *tracker) names() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.deleted...)
}

func quiesceAll(t *testing.T, obj IQuiescer, nSlots int) {
	t.Helper()
	for s := 0; s < nSlots; s++ {
		if err := obj.Quiescent(evctx.New(s, 0)); err != nil {
			t.Fatalf("Quiescent(%d) failed: %v", s, err)
		}
	}
}

func TestReaderSeesCurrent(t *testing.T) {
	a := &payload{name: "A"}
	obj := New[payload](2, a)

	if obj.Reader().Get() != a || obj.Load() != a {
		t.Fatal("reader should see the initial value")
	}

	b := &payload{name: "B"}
	u := obj.Updater(evctx.New(0, 1))
	if u.Get() != a {
		t.Error("updater should see the current value")
	}
	u.Update(b)
	u.Close()

	if obj.Reader().Get() != b {
		t.Error("reader should see the published value")
	}
	if obj.NumGarbage() != 1 {
		t.Errorf("expected 1 retired value, got %d", obj.NumGarbage())
	}
}

func TestUpdaterSlotNotInGrace(t *testing.T) {
	tr := &tracker{}
	obj := New[payload](2, &payload{name: "A"}, WithDeleter(tr.deleter))

	u := obj.Updater(evctx.New(1, 1))
	u.Update(&payload{name: "B"})
	u.Close()

	// slot 1 did the update, only slot 0 has to go quiescent
	if err := obj.Quiescent(evctx.New(0, 1)); err != nil {
		t.Fatal(err)
	}
	if got := tr.names(); len(got) != 1 || got[0] != "A" {
		t.Errorf("expected A reclaimed, got %v", got)
	}
}

// TestTwoTierScenario: 4 slots, A -> B -> C before any slot went quiescent.
func TestTwoTierScenario(t *testing.T) {
	tr := &tracker{}
	a, b, c := &payload{name: "A"}, &payload{name: "B"}, &payload{name: "C"}
	obj := New[payload](4, a, WithDeleter(tr.deleter))

	held := obj.Reader().Get() // a reader holds A across the updates

	u := obj.Updater(evctx.None)
	u.Update(b)
	u.Close()

	u = obj.Updater(evctx.None)
	u.Update(c)
	u.Close()

	if obj.NumGarbage() != 2 || obj.NumOld() != 1 {
		t.Fatalf("expected A in the old tier and B in the current tier, got garbage=%d old=%d",
			obj.NumGarbage(), obj.NumOld())
	}
	obj.mu.Lock()
	if obj.grace.Count() != 4 || obj.oldGrace.Count() != 4 {
		t.Errorf("expected both grace sets all-4-set, got %s / %s", obj.grace.String(), obj.oldGrace.String())
	}
	obj.mu.Unlock()

	if held.deleted.Load() != 0 {
		t.Fatal("A must stay alive while slots are in grace")
	}

	for s := 0; s < 3; s++ {
		_ = obj.Quiescent(evctx.New(s, 0))
		if len(tr.names()) != 0 {
			t.Fatalf("nothing should be reclaimed before slot 3 is quiescent, got %v", tr.names())
		}
	}
	_ = obj.Quiescent(evctx.New(3, 0))

	got := tr.names()
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("expected A and B reclaimed in order, got %v", got)
	}
	if obj.Load() != c || c.deleted.Load() != 0 {
		t.Error("C must remain live")
	}
	if obj.NumGarbage() != 0 {
		t.Errorf("expected no garbage, got %d", obj.NumGarbage())
	}
}

// TestOldTierOutlivesCurrent: the slot that replaced B read A before, A
// stays alive until that slot is quiescent even if B's batch ends first.
func TestOldTierOutlivesCurrent(t *testing.T) {
	tr := &tracker{}
	a := &payload{name: "A"}
	obj := New[payload](2, a, WithDeleter(tr.deleter))

	held := obj.Load() // slot 1 reads A

	u := obj.Updater(evctx.New(0, 1))
	u.Update(&payload{name: "B"})
	u.Close()

	u = obj.Updater(evctx.New(1, 1))
	u.Update(&payload{name: "C"})
	u.Close()

	obj.mu.Lock()
	if !obj.oldGrace.Test(1) || obj.oldGrace.Test(0) || !obj.grace.Test(0) || obj.grace.Test(1) {
		t.Errorf("expected A waiting for slot 1 and B for slot 0, got old=%s cur=%s",
			obj.oldGrace.String(), obj.grace.String())
	}
	obj.mu.Unlock()

	_ = obj.Quiescent(evctx.New(0, 2))
	if got := tr.names(); len(got) != 1 || got[0] != "B" {
		t.Fatalf("expected only B reclaimed, got %v", got)
	}
	if held.deleted.Load() != 0 {
		t.Fatal("A was reclaimed while slot 1 still holds it")
	}
	if obj.NumGarbage() != 1 || obj.NumOld() != 1 {
		t.Errorf("expected A pending in the old tier, garbage=%d old=%d", obj.NumGarbage(), obj.NumOld())
	}

	// a new version while A is still pending keeps A in the old tier
	u = obj.Updater(evctx.New(0, 2))
	u.Update(&payload{name: "D"})
	u.Close()
	_ = obj.Quiescent(evctx.New(1, 2))

	got := tr.names()
	if len(got) != 3 || got[1] != "A" || got[2] != "C" {
		t.Errorf("expected A then C reclaimed, got %v", got)
	}
	if obj.NumGarbage() != 0 {
		t.Errorf("leaked %d entries", obj.NumGarbage())
	}
}

// TestEventualReclamation: update, partial quiescence, update, full quiescence.
func TestEventualReclamation(t *testing.T) {
	const nSlots = 5
	tr := &tracker{}
	obj := New[payload](nSlots, &payload{name: "v0"}, WithDeleter(tr.deleter))

	u := obj.Updater(evctx.None)
	u.Update(&payload{name: "v1"})
	u.Close()

	// slots 0..k-2 go quiescent, the last one does not
	for s := 0; s < nSlots-1; s++ {
		_ = obj.Quiescent(evctx.New(s, 1))
	}
	if len(tr.names()) != 0 {
		t.Fatalf("v0 must not be reclaimed yet, got %v", tr.names())
	}

	u = obj.Updater(evctx.None)
	u.Update(&payload{name: "v2"})
	u.Close()

	// only the straggler is left in the old tier
	obj.mu.Lock()
	if obj.oldGrace.Count() != 1 || !obj.oldGrace.Test(nSlots-1) || obj.grace.Count() != nSlots {
		t.Errorf("expected old tier waiting for the straggler, got old=%s cur=%s",
			obj.oldGrace.String(), obj.grace.String())
	}
	obj.mu.Unlock()

	quiesceAll(t, obj, nSlots)

	got := tr.names()
	if len(got) != 2 || got[0] != "v0" || got[1] != "v1" {
		t.Errorf("expected v0 and v1 reclaimed, got %v", got)
	}
	if obj.NumGarbage() != 0 {
		t.Errorf("leaked %d entries", obj.NumGarbage())
	}
}

// TestOldTierReclaimedFirst checks the old tier is freed as soon as its grace
// set is empty even though the current batch still waits.
func TestOldTierReclaimedFirst(t *testing.T) {
	tr := &tracker{}
	obj := New[payload](3, &payload{name: "v0"}, WithDeleter(tr.deleter))

	// slot 0 updates: v0 waits for slots 1 and 2
	u := obj.Updater(evctx.New(0, 0))
	u.Update(&payload{name: "v1"})
	u.Close()

	// slot 1 updates: v0 moves to the old tier (waits for 1,2), v1 waits for 0,2
	u = obj.Updater(evctx.New(1, 0))
	u.Update(&payload{name: "v2"})
	u.Close()

	_ = obj.Quiescent(evctx.New(1, 0))
	_ = obj.Quiescent(evctx.New(2, 0))

	got := tr.names()
	if len(got) != 1 || got[0] != "v0" {
		t.Fatalf("expected only v0 reclaimed, got %v", got)
	}
	if obj.NumGarbage() != 1 || obj.NumOld() != 0 {
		t.Errorf("expected v1 pending in the current tier, garbage=%d old=%d", obj.NumGarbage(), obj.NumOld())
	}

	_ = obj.Quiescent(evctx.New(0, 0))
	if got := tr.names(); len(got) != 2 || got[1] != "v1" {
		t.Errorf("expected v1 reclaimed, got %v", got)
	}
}

func TestDiscard(t *testing.T) {
	tr := &tracker{}
	obj := New[payload](2, &payload{name: "cur"}, WithDeleter(tr.deleter))

	obj.Discard(evctx.None, &payload{name: "ext"})
	obj.Discard(evctx.None, nil)
	if obj.Load().name != "cur" {
		t.Error("Discard must not change the current value")
	}
	if obj.NumGarbage() != 1 {
		t.Fatalf("expected 1 retired value, got %d", obj.NumGarbage())
	}

	quiesceAll(t, obj, 2)
	if got := tr.names(); len(got) != 1 || got[0] != "ext" {
		t.Errorf("expected ext reclaimed, got %v", got)
	}
}

func TestQuiescentSlots(t *testing.T) {
	obj := New[payload](2, &payload{name: "A"})

	if err := obj.Quiescent(evctx.None); err != nil {
		t.Errorf("invalid slot should be a no-op, got %v", err)
	}
	if err := obj.Quiescent(evctx.New(1, 0)); err != nil {
		t.Errorf("clean object should not fail, got %v", err)
	}
	if err := obj.Quiescent(evctx.New(2, 0)); !errors.Is(err, ErrSlotOutOfRange) {
		t.Errorf("expected ErrSlotOutOfRange, got %v", err)
	}
}

func TestReadQuiesce(t *testing.T) {
	tr := &tracker{}
	obj := New[payload](2, &payload{name: "A"}, WithDeleter(tr.deleter))

	u := obj.Updater(evctx.New(0, 0))
	u.Update(&payload{name: "B"})
	u.Close()

	r := obj.ReaderQuiesce(evctx.New(1, 0))
	if r.Get().name != "B" {
		t.Errorf("expected B, got %s", r.Get().name)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if got := tr.names(); len(got) != 1 || got[0] != "A" {
		t.Errorf("closing the quiescing reader should reclaim A, got %v", got)
	}
}

func TestUpdateWithoutPublish(t *testing.T) {
	a := &payload{name: "A"}
	obj := New[payload](2, a)

	u := obj.Updater(evctx.New(0, 0))
	u.Close()
	u.Close()

	if obj.Load() != a || obj.NumGarbage() != 0 {
		t.Error("closing an update handle without Update must not change the object")
	}

	defer func() {
		if recover() == nil {
			t.Error("Update on a closed handle should panic")
		}
	}()
	u.Update(&payload{name: "B"})
}

// TestSingleWriter checks that concurrent updaters never overlap and no update is lost.
func TestSingleWriter(t *testing.T) {
	type counter struct{ n int }
	obj := New[counter](4, &counter{})

	var inside atomic.Int32
	var wg sync.WaitGroup
	const writers, rounds = 8, 200
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				u := obj.Updater(evctx.New(slot%4, uint64(i)))
				if inside.Add(1) != 1 {
					t.Error("two updaters hold the lock at the same time")
				}
				u.Update(&counter{n: u.Get().n + 1})
				inside.Add(-1)
				u.Close()
				_ = obj.Quiescent(evctx.New(slot%4, uint64(i)))
			}
		}(w)
	}
	wg.Wait()

	if obj.Load().n != writers*rounds {
		t.Errorf("expected %d, got %d", writers*rounds, obj.Load().n)
	}
}

// TestReadSafety runs readers against an updater and checks no reader ever
// observes a reclaimed value.
func TestReadSafety(t *testing.T) {
	const nSlots = 4
	type versioned struct {
		v    int
		dead atomic.Bool
	}
	obj := New[versioned](nSlots, &versioned{}, WithDeleter(func(p *versioned) {
		p.dead.Store(true)
	}))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for s := 1; s < nSlots; s++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			var evt uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				p := obj.Reader().Get()
				for i := 0; i < 10; i++ {
					if p.dead.Load() {
						t.Errorf("slot %d observed a reclaimed value %d", slot, p.v)
						return
					}
				}
				evt++
				_ = obj.Quiescent(evctx.New(slot, evt))
			}
		}(s)
	}

	for i := 1; i <= 2000; i++ {
		u := obj.Updater(evctx.New(0, uint64(i)))
		u.Update(&versioned{v: i})
		u.Close()
	}
	close(stop)
	wg.Wait()

	// the readers are done, everything pending can go
	quiesceAll(t, obj, nSlots)
	if obj.NumGarbage() != 0 {
		t.Errorf("leaked %d entries", obj.NumGarbage())
	}
	if obj.Load().dead.Load() {
		t.Error("current value must never be reclaimed")
	}
}

func BenchmarkReader(b *testing.B) {
	obj := New[payload](4, &payload{name: "A"})
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = obj.Reader().Get()
		}
	})
}

func BenchmarkQuiescentClean(b *testing.B) {
	obj := New[payload](4, &payload{name: "A"})
	ctx := evctx.New(1, 0)
	for i := 0; i < b.N; i++ {
		_ = obj.Quiescent(ctx)
	}
}
