package common

import (
	"fmt"
	"github.com/ValentinKolb/sgkv/lib/store"
	"strings"
)

// --------------------------------------------------------------------------
// Event loop configuration struct
// --------------------------------------------------------------------------

// Config holds all parameters of a simulated event loop.
type Config struct {
	// RunID identifies the run in the report
	RunID string

	// number of concurrently processed events
	NumSlots int
	// total number of events
	NumEvents int
	// objects recorded per event
	ObjectsPerEvent int
	// a new conditions version is published every UpdateEvery events (0 = never)
	UpdateEvery int

	// print the store content of the last event
	Dump bool
	// print the metrics in Prometheus text format at the end of the run
	Metrics bool

	// Logging configuration
	LogLevel string
}

// Validate checks the configuration for values the event loop cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.NumSlots < 1:
		return store.Errorf(store.RetCInvalidOperation, "slots must be at least 1, got %d", c.NumSlots)
	case c.NumEvents < 0:
		return store.Errorf(store.RetCInvalidOperation, "events must not be negative, got %d", c.NumEvents)
	case c.ObjectsPerEvent < 1:
		return store.Errorf(store.RetCInvalidOperation, "objects per event must be at least 1, got %d", c.ObjectsPerEvent)
	case c.UpdateEvery < 0:
		return store.Errorf(store.RetCInvalidOperation, "update interval must not be negative, got %d", c.UpdateEvery)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return store.NewError(store.RetCInvalidOperation, err.Error())
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Run")
	addField("Run ID", c.RunID)

	addSection("Event Loop")
	addField("Slots", fmt.Sprintf("%d", c.NumSlots))
	addField("Events", fmt.Sprintf("%d", c.NumEvents))
	addField("Objects per Event", fmt.Sprintf("%d", c.ObjectsPerEvent))
	if c.UpdateEvery > 0 {
		addField("Conditions Update", fmt.Sprintf("every %d events", c.UpdateEvery))
	} else {
		addField("Conditions Update", "never")
	}

	addSection("Output")
	addField("Store Dump", fmt.Sprintf("%t", c.Dump))
	addField("Metrics", fmt.Sprintf("%t", c.Metrics))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
