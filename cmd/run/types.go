package run

import (
	"github.com/ValentinKolb/sgkv/lib/datastore"
)

// --------------------------------------------------------------------------
// Event Data
// --------------------------------------------------------------------------

// Hit is a single detector measurement.
type Hit struct {
	ID     int
	Layer  uint32
	Energy float64
}

// HitCollection holds the hits of one event.
type HitCollection []*Hit

// EventInfo summarizes a processed event.
type EventInfo struct {
	Number            uint64
	NumHits           int
	TotalEnergy       float64
	ConditionsVersion int
}

// Geometry describes the detector. It is recorded once in the detector store
// and shared by all slots.
type Geometry struct {
	Layers uint32
}

// Conditions is the calibration the events are processed with. New versions
// are published while events are in flight.
type Conditions struct {
	Version int
	Scale   float64
}

const (
	hitCollectionCLID datastore.CLID = 2101
	eventInfoCLID     datastore.CLID = 2102
	geometryCLID      datastore.CLID = 2103
)

func init() {
	datastore.MustRegisterType[*HitCollection](hitCollectionCLID, "HitCollection")
	datastore.MustRegisterType[*EventInfo](eventInfoCLID, "EventInfo")
	datastore.MustRegisterType[*Geometry](geometryCLID, "Geometry")
}
