package incident

import (
	"github.com/ValentinKolb/sgkv/lib/util"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"slices"
	"sync/atomic"
)

var log = logger.GetLogger("incident")

var (
	firedTotal     = metrics.NewCounter(`sgkv_incidents_fired_total`)
	deliveredTotal = metrics.NewCounter(`sgkv_incidents_delivered_total`)
	panicsTotal    = metrics.NewCounter(`sgkv_incident_listener_panics_total`)
)

type listenerEntry struct {
	id       uint64
	priority int
	l        IListener
}

// envelope is what travels through the queue. A flush marker carries no
// incident, only a channel that is closed once the dispatcher reaches it.
type envelope struct {
	inc   Incident
	flush chan struct{}
}

type busImpl struct {
	// listeners per type, replaced copy-on-write and sorted by priority
	listeners *xsync.MapOf[Type, []listenerEntry]
	// id -> type, needed to find a listener on removal
	ids    *xsync.MapOf[uint64, Type]
	nextID atomic.Uint64

	queue   *util.LockFreeMPSC[envelope]
	stopped chan struct{}
}

// NewBus creates a bus and starts its dispatcher goroutine.
func NewBus() IBus {
	b := &busImpl{
		listeners: xsync.NewMapOf[Type, []listenerEntry](),
		ids:       xsync.NewMapOf[uint64, Type](),
		queue:     util.NewLockFreeMPSC[envelope](),
		stopped:   make(chan struct{}),
	}
	go b.dispatcher()
	return b
}

// --------------------------------------------------------------------------
// Interface Methods (docu see incident/interface.go)
// --------------------------------------------------------------------------

func (b *busImpl) AddListener(typ Type, l IListener, priority int) uint64 {
	id := b.nextID.Add(1)
	entry := listenerEntry{id: id, priority: priority, l: l}

	b.ids.Store(id, typ)
	b.listeners.Compute(typ, func(old []listenerEntry, loaded bool) ([]listenerEntry, bool) {
		next := make([]listenerEntry, 0, len(old)+1)
		next = append(next, old...)
		next = append(next, entry)
		// stable: equal priorities keep registration order
		slices.SortStableFunc(next, func(a, b listenerEntry) int {
			return b.priority - a.priority
		})
		return next, false
	})

	log.Debugf("added listener %d for %s (priority %d)", id, typ, priority)
	return id
}

func (b *busImpl) RemoveListener(id uint64) bool {
	typ, ok := b.ids.LoadAndDelete(id)
	if !ok {
		return false
	}

	b.listeners.Compute(typ, func(old []listenerEntry, loaded bool) ([]listenerEntry, bool) {
		next := make([]listenerEntry, 0, len(old))
		for _, e := range old {
			if e.id != id {
				next = append(next, e)
			}
		}
		return next, len(next) == 0
	})
	return true
}

func (b *busImpl) Fire(inc Incident) bool {
	if !b.queue.Push(envelope{inc: inc}) {
		log.Warningf("dropping incident %s, bus is closed", inc)
		return false
	}
	firedTotal.Inc()
	return true
}

func (b *busImpl) FireSync(inc Incident) {
	firedTotal.Inc()
	b.deliver(inc)
}

func (b *busImpl) Flush() {
	done := make(chan struct{})
	if !b.queue.Push(envelope{flush: done}) {
		// closed: wait for the dispatcher to drain what is left
		<-b.stopped
		return
	}
	// a push racing with Close() may never reach the dispatcher
	select {
	case <-done:
	case <-b.stopped:
	}
}

func (b *busImpl) Close() {
	b.queue.Close()
	<-b.stopped
}

// --------------------------------------------------------------------------
// Dispatcher
// --------------------------------------------------------------------------

// dispatcher is the single consumer of the queue.
func (b *busImpl) dispatcher() {
	defer close(b.stopped)
	for env := range b.queue.Recv() {
		if env.flush != nil {
			close(env.flush)
			continue
		}
		b.deliver(env.inc)
	}
}

// deliver calls every listener registered for the incident type.
func (b *busImpl) deliver(inc Incident) {
	entries, ok := b.listeners.Load(inc.Type)
	if !ok {
		return
	}
	for _, e := range entries {
		b.call(e, inc)
	}
	deliveredTotal.Inc()
}

func (b *busImpl) call(e listenerEntry, inc Incident) {
	defer func() {
		if r := recover(); r != nil {
			panicsTotal.Inc()
			log.Errorf("listener %d panicked while handling %s: %v", e.id, inc, r)
		}
	}()
	e.l.Handle(inc)
}
