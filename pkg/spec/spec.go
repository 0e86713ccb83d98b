// Package spec contains tunable constants for the measurement engine.
package spec

import "time"

const (
	// SampleInterval is the fixed interval at which in-flight transfers emit
	// byte-count checkpoints and the throughput tester publishes snapshots.
	SampleInterval = 100 * time.Millisecond

	// MinProbeInterval is the minimum interval between loaded-latency probes.
	MinProbeInterval = 200 * time.Millisecond

	// AvgProbeInterval is the average interval between loaded-latency probes.
	// Probe spacing is memoryless so it cannot synchronize with the
	// throughput sampling tick.
	AvgProbeInterval = 350 * time.Millisecond

	// MaxProbeInterval is the maximum interval between loaded-latency probes.
	MaxProbeInterval = 500 * time.Millisecond

	// IdleProbeSpacing is the pause between sequential idle latency probes.
	IdleProbeSpacing = 100 * time.Millisecond

	// DefaultIdleProbes is the default number of idle latency probes.
	DefaultIdleProbes = 20

	// MinProbeSuccess is the minimum number of successful probes required to
	// report idle latency statistics.
	MinProbeSuccess = 3

	// InitialPayloadSize is the per-request payload size of the first ramp
	// round.
	InitialPayloadSize = 1 << 17 // 128 KiB

	// MaxPayloadSize is the default cap on per-request payload growth.
	MaxPayloadSize = 1 << 26 // 64 MiB

	// MinDownloadPayload is the floor for payload shrinking after a server
	// asks to back off.
	MinDownloadPayload = 100_000

	// InitialStreams is the number of concurrent streams of the first ramp
	// round.
	InitialStreams = 1

	// DefaultMaxStreams is the default cap on stream concurrency.
	DefaultMaxStreams = 8

	// MaxRampRounds bounds the ramp search regardless of convergence.
	MaxRampRounds = 6

	// RampImprovementMargin is the minimum relative round-over-round
	// throughput improvement for the ramp to keep growing. Two consecutive
	// rounds below this margin stop the ramp.
	RampImprovementMargin = 0.05

	// ConsecutiveFailureLimit is the number of consecutive stream failures
	// after which a throughput phase aborts as unreachable.
	ConsecutiveFailureLimit = 3

	// UploadChunkSize is the size of the buffers streamed as upload bodies.
	UploadChunkSize = 64 * 1024

	// SteadySkipFraction is the leading fraction of the sustain window
	// discarded as residual ramp noise when computing the final rate.
	SteadySkipFraction = 0.20

	// MinSteadySkip is the minimum leading span discarded from the sustain
	// window.
	MinSteadySkip = time.Second

	// DefaultDownloadPath asks the server to generate a payload of the size
	// given by the "bytes" query parameter.
	DefaultDownloadPath = "/wanprobe/v1/down"

	// DefaultUploadPath accepts and discards an uploaded payload.
	DefaultUploadPath = "/wanprobe/v1/up"

	// DefaultRequestTimeout is the per-request deadline ceiling.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultPhaseBudget is the default time budget for a throughput phase.
	DefaultPhaseBudget = 10 * time.Second
)

// DefaultPercentiles is the percentile set reported when none is configured.
var DefaultPercentiles = []float64{90, 99}
