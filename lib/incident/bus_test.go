package incident

import (
	"github.com/ValentinKolb/sgkv/lib/evctx"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recorder collects the incidents it receives
type recorder struct {
	mu   sync.Mutex
	name string
	log  *[]string
	got  []Incident
}

func (r *recorder) Handle(inc Incident) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, inc)
	if r.log != nil {
		*r.log = append(*r.log, r.name)
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestFireDelivers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	rec := &recorder{}
	bus.AddListener(StoreCleared, rec, 0)

	ctx := evctx.New(2, 5)
	if !bus.Fire(New(StoreCleared, "StoreGateSvc", ctx)) {
		t.Fatal("Fire() should succeed on an open bus")
	}
	// other types are not delivered to rec
	bus.Fire(New(EndEvent, "loop", ctx))
	bus.Flush()

	if rec.count() != 1 {
		t.Fatalf("expected 1 incident, got %d", rec.count())
	}
	if rec.got[0].Source != "StoreGateSvc" || rec.got[0].Context != ctx {
		t.Errorf("unexpected incident %s", rec.got[0])
	}
}

func TestPriorityOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var order []string
	low := &recorder{name: "low", log: &order}
	high := &recorder{name: "high", log: &order}
	mid1 := &recorder{name: "mid1", log: &order}
	mid2 := &recorder{name: "mid2", log: &order}

	bus.AddListener(EndEvent, low, -10)
	bus.AddListener(EndEvent, mid1, 0)
	bus.AddListener(EndEvent, high, 100)
	bus.AddListener(EndEvent, mid2, 0)

	bus.FireSync(New(EndEvent, "loop", evctx.None))

	expected := []string{"high", "mid1", "mid2", "low"}
	if len(order) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, order)
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, order)
		}
	}
}

func TestRemoveListener(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	rec := &recorder{}
	id := bus.AddListener(BeginEvent, rec, 0)

	bus.FireSync(New(BeginEvent, "loop", evctx.None))
	if !bus.RemoveListener(id) {
		t.Fatal("RemoveListener should succeed for a registered listener")
	}
	if bus.RemoveListener(id) {
		t.Error("RemoveListener should fail the second time")
	}
	bus.FireSync(New(BeginEvent, "loop", evctx.None))

	if rec.count() != 1 {
		t.Errorf("expected 1 incident before removal, got %d", rec.count())
	}
}

func TestPanickingListener(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.AddListener(EndEvent, ListenerFunc(func(inc Incident) {
		panic("boom")
	}), 10)
	rec := &recorder{}
	bus.AddListener(EndEvent, rec, 0)

	bus.Fire(New(EndEvent, "loop", evctx.None))
	bus.Fire(New(EndEvent, "loop", evctx.None))
	bus.Flush()

	if rec.count() != 2 {
		t.Errorf("listener after a panicking one should still be called, got %d", rec.count())
	}
}

func TestCloseDrains(t *testing.T) {
	bus := NewBus()

	var n atomic.Int32
	bus.AddListener(StoreCleared, ListenerFunc(func(inc Incident) {
		time.Sleep(time.Millisecond)
		n.Add(1)
	}), 0)

	for i := 0; i < 20; i++ {
		bus.Fire(New(StoreCleared, "StoreGateSvc", evctx.New(i%4, uint64(i))))
	}
	bus.Close()

	if n.Load() != 20 {
		t.Errorf("expected all 20 incidents delivered before Close returns, got %d", n.Load())
	}
	if bus.Fire(New(StoreCleared, "StoreGateSvc", evctx.None)) {
		t.Error("Fire() after Close() should fail")
	}
	// must not block
	bus.Flush()
}

func TestConcurrentFire(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var n atomic.Int32
	bus.AddListener(EndEvent, ListenerFunc(func(inc Incident) { n.Add(1) }), 0)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				bus.Fire(New(EndEvent, "loop", evctx.New(slot, uint64(i))))
			}
		}(g)
	}
	wg.Wait()
	bus.Flush()

	if n.Load() != 800 {
		t.Errorf("expected 800 deliveries, got %d", n.Load())
	}
}
