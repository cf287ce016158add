package rcu

import (
	"github.com/ValentinKolb/sgkv/lib/evctx"
	"github.com/ValentinKolb/sgkv/lib/incident"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/multierr"
	"sync"
	"sync/atomic"
)

// Svc keeps track of RCU objects so that a slot can be declared quiescent on
// all of them at once.
//
// Thread-safety: All methods are safe for concurrent use.
type Svc struct {
	nSlots  int
	objects *xsync.MapOf[uint64, IQuiescer]
	nextID  atomic.Uint64

	mu        sync.Mutex
	bus       incident.IBus
	listeners []uint64
}

// NewSvc creates a registry for objects tracking nSlots slots.
func NewSvc(nSlots int) *Svc {
	return &Svc{
		nSlots:  nSlots,
		objects: xsync.NewMapOf[uint64, IQuiescer](),
	}
}

// NewObject creates an object with the number of slots of s and registers it.
func NewObject[T any](s *Svc, initial *T, opts ...Option[T]) *Object[T] {
	obj := New[T](s.nSlots, initial, opts...)
	s.Add(obj)
	return obj
}

// NumSlots returns the number of slots objects created by s track.
func (s *Svc) NumSlots() int {
	return s.nSlots
}

// Add registers an object and returns its registration id.
func (s *Svc) Add(obj IQuiescer) uint64 {
	id := s.nextID.Add(1)
	s.objects.Store(id, obj)
	return id
}

// Remove unregisters obj. It returns false if obj was not registered.
func (s *Svc) Remove(obj IQuiescer) bool {
	removed := false
	s.objects.Range(func(id uint64, o IQuiescer) bool {
		if o == obj {
			s.objects.Delete(id)
			removed = true
			return false
		}
		return true
	})
	return removed
}

// Count returns the number of registered objects.
func (s *Svc) Count() int {
	return s.objects.Size()
}

// QuiescentAll declares the slot of ctx quiescent on every registered object.
// All objects are visited, the errors of all failing objects are combined.
func (s *Svc) QuiescentAll(ctx evctx.Context) error {
	var err error
	s.objects.Range(func(_ uint64, o IQuiescer) bool {
		err = multierr.Append(err, o.Quiescent(ctx))
		return true
	})
	return err
}

// --------------------------------------------------------------------------
// Incident handling
// --------------------------------------------------------------------------

// Subscribe makes s declare a slot quiescent whenever an event ends in it or
// its event store is cleared.
func (s *Svc) Subscribe(bus incident.IBus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bus != nil {
		return
	}
	s.bus = bus
	s.listeners = []uint64{
		bus.AddListener(incident.EndEvent, s, 0),
		bus.AddListener(incident.StoreCleared, s, 0),
	}
}

// Unsubscribe removes the listeners added by Subscribe.
func (s *Svc) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bus == nil {
		return
	}
	for _, id := range s.listeners {
		s.bus.RemoveListener(id)
	}
	s.bus = nil
	s.listeners = nil
}

// Handle implements incident.IListener.
func (s *Svc) Handle(inc incident.Incident) {
	if !inc.Context.Valid() {
		return
	}
	if err := s.QuiescentAll(inc.Context); err != nil {
		log.Errorf("quiescence after %s failed: %v", inc, err)
	}
}
