package engine

import (
	"time"

	"github.com/wanprobe/wanprobe/internal/netx"
)

// Config enumerates everything a measurement run needs. The zero value of
// every optional field selects a sensible default.
type Config struct {
	// Endpoints is the target endpoint set, tried in order at startup until
	// one answers a reachability probe. At least one is required.
	Endpoints []string

	// DownloadPath, UploadPath and LatencyPath override the endpoint's
	// default test paths.
	DownloadPath string
	UploadPath   string
	LatencyPath  string

	// NoVerify disables TLS certificate verification.
	NoVerify bool

	// Binding restricts all outgoing connections to a local source address.
	// Nil means default routing. Interface-name resolution is the caller's
	// job; the engine takes an already-resolved address.
	Binding *netx.Binding

	// MeasurementID identifies the run's transfers. Empty generates one.
	MeasurementID string

	// IdleProbes is the number of idle latency probes.
	IdleProbes int

	// DownloadBudget and UploadBudget are the per-direction time budgets.
	DownloadBudget time.Duration
	UploadBudget   time.Duration

	// SkipDownload and SkipUpload exclude a direction from the run.
	SkipDownload bool
	SkipUpload   bool

	// Percentiles is the percentile set to report (e.g. 90, 99).
	Percentiles []float64

	// MaxPayload caps per-request payload growth during the ramp.
	MaxPayload int64

	// MaxStreams caps stream concurrency during the ramp.
	MaxStreams int

	// EventBuffer is the capacity of the event channel. Interval updates are
	// dropped rather than blocking the engine when the buffer is full;
	// lifecycle events are never dropped.
	EventBuffer int
}
