package run

import (
	"fmt"
	"github.com/ValentinKolb/sgkv/lib/common"
	"github.com/ValentinKolb/sgkv/lib/datastore"
	"github.com/ValentinKolb/sgkv/lib/evctx"
	"github.com/ValentinKolb/sgkv/lib/incident"
	"github.com/ValentinKolb/sgkv/lib/rcu"
	"github.com/ValentinKolb/sgkv/lib/store/hive"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/sourcegraph/conc"
	"github.com/valyala/fastrand"
	"go.uber.org/multierr"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var log = logger.GetLogger("sgkv")

var (
	eventsProcessed    = metrics.NewCounter(`sgkv_events_processed_total`)
	eventsFailed       = metrics.NewCounter(`sgkv_events_failed_total`)
	conditionsUpdates  = metrics.NewCounter(`sgkv_conditions_updates_total`)
	conditionsReleased = metrics.NewCounter(`sgkv_conditions_reclaimed_total`)
)

const (
	eventStoreName    = "StoreGateSvc"
	detectorStoreName = "DetectorStore"

	hitsKey     = "Hits"
	infoKey     = "EventInfo"
	geometryKey = "Geometry"
)

// Report is the outcome of an event loop run.
type Report struct {
	Events         int
	Duration       time.Duration
	TotalEnergy    float64
	Published      int
	Reclaimed      int
	PendingGarbage int
	// Dump of the event store taken before the last event was cleared
	Dump string
}

func (r *Report) String() string {
	var sb strings.Builder

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	sb.WriteString("\nREPORT\n")
	addField("Events", fmt.Sprintf("%d", r.Events))
	addField("Duration", r.Duration.String())
	if r.Duration > 0 {
		addField("Throughput", fmt.Sprintf("%.0f events/s", float64(r.Events)/r.Duration.Seconds()))
	}
	addField("Total Energy", fmt.Sprintf("%.2f", r.TotalEnergy))
	addField("Conditions Published", fmt.Sprintf("%d", r.Published))
	addField("Conditions Reclaimed", fmt.Sprintf("%d", r.Reclaimed))
	addField("Pending Garbage", fmt.Sprintf("%d", r.PendingGarbage))
	return sb.String()
}

// --------------------------------------------------------------------------
// Event Loop
// --------------------------------------------------------------------------

// eventLoop processes events concurrently, one worker per slot. Every event
// records its data in the event store of its slot, reads the shared detector
// store and the current conditions, and clears its slot store when done. The
// clear fires StoreCleared, which lets the RCU service reclaim conditions
// versions the slot no longer references.
type eventLoop struct {
	cfg *common.Config

	bus      incident.IBus
	svc      *rcu.Svc
	mgr      *hive.Manager
	events   *hive.Store
	detector *hive.Store
	conds    *rcu.Object[Conditions]

	next      atomic.Int64
	published atomic.Int64
	reclaimed atomic.Int64

	mu     sync.Mutex
	energy float64
	dump   string
}

// newEventLoop sets up the stores and services for cfg. cfg must be valid.
func newEventLoop(cfg *common.Config) (*eventLoop, error) {
	l := &eventLoop{
		cfg: cfg,
		bus: incident.NewBus(),
		svc: rcu.NewSvc(cfg.NumSlots),
		mgr: hive.NewManager(),
	}
	l.svc.Subscribe(l.bus)
	l.conds = rcu.NewObject(l.svc, &Conditions{Version: 0, Scale: 1}, rcu.WithDeleter(func(*Conditions) {
		l.reclaimed.Add(1)
		conditionsReleased.Inc()
	}))

	l.events = hive.NewStore(eventStoreName, datastore.EventStore, cfg.NumSlots,
		hive.LocalFactory(datastore.EventStore, cfg.NumSlots, nil), l.bus)
	l.detector = hive.NewStore(detectorStoreName, datastore.DetectorStore, cfg.NumSlots,
		hive.LocalFactory(datastore.DetectorStore, cfg.NumSlots, nil), l.bus)

	var err error
	err = multierr.Append(err, l.mgr.Register(l.events, 10))
	err = multierr.Append(err, l.mgr.Register(l.detector, 5))
	if err != nil {
		return nil, err
	}

	// the geometry lives until finalization
	if err := l.detector.Record(evctx.None, geometryCLID, &Geometry{Layers: 8}, geometryKey, false, true); err != nil {
		return nil, err
	}
	return l, nil
}

// Run processes cfg.NumEvents events and returns once all workers are done.
// A failing event stops its worker, the other workers continue.
func (l *eventLoop) Run() (*Report, error) {
	var (
		errMu sync.Mutex
		err   error
	)

	start := time.Now()
	wg := conc.NewWaitGroup()
	for slot := 0; slot < l.cfg.NumSlots; slot++ {
		wg.Go(func() {
			for {
				evt := l.next.Add(1) - 1
				if evt >= int64(l.cfg.NumEvents) {
					return
				}
				ctx := evctx.New(slot, uint64(evt))
				if e := l.processEvent(ctx); e != nil {
					eventsFailed.Inc()
					log.Errorf("event %d in slot %d failed: %v", evt, slot, e)
					errMu.Lock()
					err = multierr.Append(err, e)
					errMu.Unlock()
					return
				}
				eventsProcessed.Inc()
			}
		})
	}
	wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	return &Report{
		Events:      l.cfg.NumEvents,
		Duration:    time.Since(start),
		TotalEnergy: l.energy,
		Published:   int(l.published.Load()),
		Dump:        l.dump,
	}, err
}

// processEvent handles one event in the slot of ctx.
func (l *eventLoop) processEvent(ctx evctx.Context) error {
	l.bus.FireSync(incident.New(incident.BeginEvent, eventStoreName, ctx))

	conds := l.conds.Reader().Get()
	geo, found, err := hive.Retrieve[*Geometry](l.detector, ctx, geometryKey)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("event %d: no geometry in %s", ctx.EventNumber, detectorStoreName)
	}

	hits := make(HitCollection, l.cfg.ObjectsPerEvent)
	for i := range hits {
		hits[i] = &Hit{
			ID:     i,
			Layer:  fastrand.Uint32n(geo.Layers),
			Energy: float64(fastrand.Uint32n(1000)) * conds.Scale,
		}
	}
	if err := hive.Record(l.events, ctx, &hits, hitsKey); err != nil {
		return err
	}

	// downstream consumers find the hits through the store
	stored, found, err := hive.Retrieve[*HitCollection](l.events, ctx, hitsKey)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("event %d: %s not found after recording", ctx.EventNumber, hitsKey)
	}
	info := &EventInfo{Number: ctx.EventNumber, NumHits: len(*stored), ConditionsVersion: conds.Version}
	for _, h := range *stored {
		info.TotalEnergy += h.Energy
	}
	if err := hive.Record(l.events, ctx, info, infoKey); err != nil {
		return err
	}

	l.mu.Lock()
	l.energy += info.TotalEnergy
	if l.cfg.Dump && ctx.EventNumber == uint64(l.cfg.NumEvents-1) {
		l.dump, _ = l.events.Dump(ctx)
	}
	l.mu.Unlock()

	if l.cfg.UpdateEvery > 0 && ctx.EventNumber > 0 && ctx.EventNumber%uint64(l.cfg.UpdateEvery) == 0 {
		l.updateConditions(ctx)
	}

	if err := l.events.ClearStore(ctx, false); err != nil {
		return err
	}
	l.bus.FireSync(incident.New(incident.EndEvent, eventStoreName, ctx))
	return nil
}

// updateConditions publishes a new conditions version. The slot of ctx is
// done with the version it read, the others may still use the old one.
func (l *eventLoop) updateConditions(ctx evctx.Context) {
	u := l.conds.Updater(ctx)
	defer u.Close()
	old := u.Get()
	u.Update(&Conditions{Version: old.Version + 1, Scale: 1 + float64(fastrand.Uint32n(100))/1000})
	l.published.Add(1)
	conditionsUpdates.Inc()
	log.Debugf("published conditions version %d (%s)", old.Version+1, ctx)
}

// Finalize tears down all stores and the services. It is safe to call more
// than once. The report is updated with the reclamation counts.
func (l *eventLoop) Finalize(r *Report) error {
	err := l.mgr.Finalize()
	l.bus.Flush()
	if r != nil {
		r.Reclaimed = int(l.reclaimed.Load())
		r.PendingGarbage = l.conds.NumGarbage()
	}
	return err
}

// Close stops the incident bus.
func (l *eventLoop) Close() {
	l.svc.Unsubscribe()
	l.bus.Close()
}
