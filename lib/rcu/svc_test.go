package rcu

import (
	"errors"
	"github.com/ValentinKolb/sgkv/lib/evctx"
	"github.com/ValentinKolb/sgkv/lib/incident"
	"testing"
)

func TestSvcQuiescentAll(t *testing.T) {
	svc := NewSvc(2)
	tr := &tracker{}

	o1 := NewObject[payload](svc, &payload{name: "a1"}, WithDeleter(tr.deleter))
	o2 := NewObject[payload](svc, &payload{name: "b1"}, WithDeleter(tr.deleter))
	if svc.Count() != 2 {
		t.Fatalf("expected 2 registered objects, got %d", svc.Count())
	}

	for _, o := range []*Object[payload]{o1, o2} {
		u := o.Updater(evctx.None)
		u.Update(&payload{name: "next"})
		u.Close()
	}

	for s := 0; s < 2; s++ {
		if err := svc.QuiescentAll(evctx.New(s, 0)); err != nil {
			t.Fatal(err)
		}
	}
	if len(tr.names()) != 2 {
		t.Errorf("expected both initial values reclaimed, got %v", tr.names())
	}

	if !svc.Remove(o1) || svc.Remove(o1) {
		t.Error("Remove should succeed exactly once")
	}
	if svc.Count() != 1 {
		t.Errorf("expected 1 registered object, got %d", svc.Count())
	}
}

func TestSvcCombinesErrors(t *testing.T) {
	svc := NewSvc(2)
	svc.Add(New[payload](1, &payload{}))
	svc.Add(New[payload](1, &payload{}))
	svc.Add(New[payload](4, &payload{}))

	err := svc.QuiescentAll(evctx.New(2, 0))
	if !errors.Is(err, ErrSlotOutOfRange) {
		t.Fatalf("expected ErrSlotOutOfRange, got %v", err)
	}
}

func TestSvcSubscribe(t *testing.T) {
	bus := incident.NewBus()
	defer bus.Close()

	svc := NewSvc(2)
	svc.Subscribe(bus)
	svc.Subscribe(bus) // second call is a no-op

	tr := &tracker{}
	obj := NewObject[payload](svc, &payload{name: "A"}, WithDeleter(tr.deleter))
	u := obj.Updater(evctx.New(0, 0))
	u.Update(&payload{name: "B"})
	u.Close()

	// not bound to a slot: ignored
	bus.Fire(incident.New(incident.StoreCleared, "DetectorStore", evctx.None))
	bus.Flush()
	if len(tr.names()) != 0 {
		t.Fatal("incident without a slot must not reclaim anything")
	}

	bus.Fire(incident.New(incident.StoreCleared, "StoreGateSvc", evctx.New(1, 0)))
	bus.Flush()
	if got := tr.names(); len(got) != 1 || got[0] != "A" {
		t.Errorf("expected A reclaimed after the store of slot 1 was cleared, got %v", got)
	}

	svc.Unsubscribe()
	u = obj.Updater(evctx.New(0, 1))
	u.Update(&payload{name: "C"})
	u.Close()
	bus.Fire(incident.New(incident.EndEvent, "loop", evctx.New(1, 1)))
	bus.Flush()
	if len(tr.names()) != 1 {
		t.Errorf("unsubscribed service must not react, got %v", tr.names())
	}
}
