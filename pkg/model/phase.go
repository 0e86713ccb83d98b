package model

// Phase identifies a stage of a measurement run.
type Phase string

const (
	// PhaseIdleLatency is the unloaded latency probing phase.
	PhaseIdleLatency = Phase("idle_latency")

	// PhaseDownload is the download saturation phase.
	PhaseDownload = Phase("download")

	// PhaseLoadedLatency is the latency-under-load phase. It runs concurrently
	// with PhaseDownload or PhaseUpload and shares their time window; its
	// events carry the paired phase in the During field.
	PhaseLoadedLatency = Phase("loaded_latency")

	// PhaseUpload is the upload saturation phase.
	PhaseUpload = Phase("upload")

	// PhaseFinalizing is the report assembly phase. It is bounded and does no
	// network I/O, so it completes even under cancellation.
	PhaseFinalizing = Phase("finalizing")

	// PhaseDone is the terminal phase.
	PhaseDone = Phase("done")
)

// Direction indicates the direction of a throughput transfer.
type Direction string

const (
	// DirectionDownload is a server-to-client transfer.
	DirectionDownload = Direction("download")

	// DirectionUpload is a client-to-server transfer.
	DirectionUpload = Direction("upload")
)

// Phase returns the measurement phase corresponding to this direction.
func (d Direction) Phase() Phase {
	if d == DirectionUpload {
		return PhaseUpload
	}
	return PhaseDownload
}
