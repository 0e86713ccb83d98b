package model

import "time"

// PhaseStatus describes how much of a phase's data made it into the report.
type PhaseStatus string

const (
	// StatusComplete means the phase ran to the end of its budget.
	StatusComplete = PhaseStatus("complete")

	// StatusPartial means the phase was interrupted but produced usable data.
	StatusPartial = PhaseStatus("partial")

	// StatusFailed means the phase hit a fatal error before producing data.
	StatusFailed = PhaseStatus("failed")

	// StatusSkipped means the phase never started.
	StatusSkipped = PhaseStatus("skipped")
)

// PhaseResult is the archival record of a single phase.
type PhaseResult struct {
	Status PhaseStatus    `json:"status"`
	Stat   *AggregateStat `json:"stat,omitempty"`
	Error  ErrorKind      `json:"error,omitempty"`
}

// Report is the full result of a measurement run. It is assembled during
// finalization from whatever the phases produced, so consumers can always
// tell degraded numbers from clean ones.
type Report struct {
	// MeasurementID identifies all the transfers belonging to this run.
	MeasurementID string `json:"measurement_id"`
	// Version is the symbolic version of the running code.
	Version string `json:"version,omitempty"`

	// Target is the base URL of the endpoint the run measured against.
	Target string `json:"target"`
	// BindInterface is the local interface name the run was bound to, if any.
	BindInterface string `json:"bind_interface,omitempty"`
	// BindAddress is the local source address the run was bound to, if any.
	BindAddress string `json:"bind_address,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	// Complete is true only if every non-skipped phase completed.
	Complete bool `json:"complete"`

	IdleLatency           PhaseResult `json:"idle_latency"`
	Download              PhaseResult `json:"download"`
	Upload                PhaseResult `json:"upload"`
	LoadedLatencyDownload PhaseResult `json:"loaded_latency_download"`
	LoadedLatencyUpload   PhaseResult `json:"loaded_latency_upload"`
}
