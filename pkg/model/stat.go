package model

import "time"

// AggregateStat is the reduction of a set of TimingSamples into stable
// statistics. It is always recomputed from scratch over the full sample set,
// never updated incrementally, so the same samples always produce the same
// aggregate.
type AggregateStat struct {
	// Count is the number of samples in the statistical pool, after
	// discarding samples tagged timeout or connection_error.
	Count int
	// Errors is the number of discarded samples.
	Errors int
	// ErrorRate is Errors over the total of pooled and discarded samples.
	ErrorRate float64

	// Latency statistics over the pooled samples.
	MinRTT      time.Duration
	MaxRTT      time.Duration
	MedianRTT   time.Duration
	TrimmedMean time.Duration
	// Percentiles maps a percentile rank (e.g. 90, 99) to the corresponding
	// round-trip time.
	Percentiles map[float64]time.Duration
	// Jitter is the mean absolute difference between consecutive pooled
	// samples in arrival order.
	Jitter time.Duration

	// Bytes is the total number of payload bytes covered by the pooled
	// samples, including partial bytes from cancelled transfers.
	Bytes int64
	// Elapsed is the wall-clock span between the earliest sample start and
	// the latest sample end.
	Elapsed time.Duration
	// BitsPerSecond is Bytes over Elapsed. It is the saturation-window rate,
	// not an average of per-sample rates, so short bursts do not bias it.
	BitsPerSecond float64
}
