package model

import "time"

// EventKind identifies the type of a MeasurementEvent.
type EventKind string

const (
	// EventPhaseStarted announces that a phase began.
	EventPhaseStarted = EventKind("phase_started")

	// EventIntervalUpdate carries a live aggregate snapshot for an active
	// phase. Consumers may redraw on every update.
	EventIntervalUpdate = EventKind("interval_update")

	// EventPhaseCompleted carries the final aggregate for a phase. It is the
	// last event tagged with that phase.
	EventPhaseCompleted = EventKind("phase_completed")

	// EventError reports a phase-fatal error. The run degrades to a partial
	// report rather than aborting.
	EventError = EventKind("error")

	// EventFinished carries the full report. It is always the last event of
	// a run.
	EventFinished = EventKind("finished")
)

// MeasurementEvent is the unit pushed to external consumers of a run. Events
// for a given phase are emitted in non-decreasing time order.
type MeasurementEvent struct {
	Kind EventKind `json:"kind"`
	Time time.Time `json:"time"`

	// Phase tags the event with the phase it belongs to. Empty for Finished.
	Phase Phase `json:"phase,omitempty"`
	// During is set on loaded-latency events to the throughput phase they
	// overlap with, so interleaved events remain distinguishable.
	During Phase `json:"during,omitempty"`

	// Stat is present on IntervalUpdate and PhaseCompleted events.
	Stat *AggregateStat `json:"stat,omitempty"`

	// Error is present on Error events.
	Error ErrorKind `json:"error,omitempty"`
	// Message is an optional human-readable detail for Error events.
	Message string `json:"message,omitempty"`

	// Report is present on the Finished event.
	Report *Report `json:"report,omitempty"`
}
