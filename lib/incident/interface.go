package incident

import (
	"fmt"
	"github.com/ValentinKolb/sgkv/lib/evctx"
)

// --------------------------------------------------------------------------
// Incident Types
// --------------------------------------------------------------------------

// Type names an incident.
type Type string

const (
	BeginEvent   Type = "BeginEvent"
	EndEvent     Type = "EndEvent"
	StoreCleared Type = "StoreCleared"
)

// Incident is a single notification. Source names the component that fired
// the incident, Context the slot (and event) it concerns.
type Incident struct {
	Type    Type
	Source  string
	Context evctx.Context
}

// New creates an incident.
func New(typ Type, source string, ctx evctx.Context) Incident {
	return Incident{Type: typ, Source: source, Context: ctx}
}

func (i Incident) String() string {
	return fmt.Sprintf("%s from %s (%s)", i.Type, i.Source, i.Context)
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IListener receives incidents it was registered for.
type IListener interface {
	Handle(inc Incident)
}

// ListenerFunc adapts a plain function to IListener.
type ListenerFunc func(inc Incident)

// Handle calls f(inc).
func (f ListenerFunc) Handle(inc Incident) {
	f(inc)
}

// IBus dispatches incidents to listeners.
type IBus interface {
	// AddListener registers l for incidents of type typ. The returned id is
	// used to remove the listener again.
	AddListener(typ Type, l IListener, priority int) (id uint64)
	// RemoveListener removes a listener. It returns false if the id is unknown.
	RemoveListener(id uint64) bool
	// Fire queues an incident for asynchronous delivery. It returns false if
	// the bus is closed.
	Fire(inc Incident) bool
	// FireSync delivers an incident on the calling goroutine.
	FireSync(inc Incident)
	// Flush waits until all incidents fired before the call were delivered.
	Flush()
	// Close delivers pending incidents and stops the bus.
	Close()
}
