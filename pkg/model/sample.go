package model

import "time"

// Outcome classifies how a single transfer or probe ended.
type Outcome string

const (
	// OutcomeSuccess means the transfer or probe completed normally.
	OutcomeSuccess = Outcome("success")

	// OutcomeTimeout means the deadline expired before completion.
	OutcomeTimeout = Outcome("timeout")

	// OutcomeConnectionError means the connection failed or was reset.
	OutcomeConnectionError = Outcome("connection_error")

	// OutcomeCancelled means the run was cancelled while the transfer was in
	// flight. Bytes already transferred are still recorded on the sample.
	OutcomeCancelled = Outcome("cancelled")
)

// TimingSample is a single timed observation produced by the transport. For
// latency probes Bytes is zero and End-Start is the round-trip time. For
// throughput transfers a sample covers the bytes moved since the previous
// checkpoint of the same request. Samples are never mutated after creation.
type TimingSample struct {
	// Start is the instant the observation window opened.
	Start time.Time
	// End is the instant the observation window closed.
	End time.Time
	// Bytes is the number of payload bytes transferred during the window.
	Bytes int64
	// Outcome tags how the observation ended.
	Outcome Outcome
}

// RTT returns the elapsed time covered by the sample.
func (s TimingSample) RTT() time.Duration {
	return s.End.Sub(s.Start)
}

// OK reports whether the sample completed successfully.
func (s TimingSample) OK() bool {
	return s.Outcome == OutcomeSuccess
}
