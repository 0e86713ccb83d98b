// Package stats reduces raw timing samples to aggregate statistics. Reduce
// is a pure function over its input: calling it twice on the same samples
// yields identical aggregates.
package stats

import (
	"sort"
	"time"

	"github.com/wanprobe/wanprobe/pkg/model"
	"github.com/wanprobe/wanprobe/pkg/spec"
)

// trimFraction is the fraction dropped from each tail for the trimmed mean.
const trimFraction = 0.10

// Reduce computes an AggregateStat over the given samples. Samples tagged
// timeout or connection_error are discarded from the statistical pool but
// counted toward the error rate. Cancelled samples are excluded from Count
// and the latency pool, and never count as errors; their partial bytes still
// contribute to the throughput figure. Reduce returns model.ErrNoData only
// when there is neither a latency pool nor any transferred bytes: a set of
// cancelled samples that moved bytes still yields a byte/rate aggregate.
//
// percentiles is the set of percentile ranks to report; nil selects
// spec.DefaultPercentiles.
func Reduce(samples []model.TimingSample, percentiles []float64) (model.AggregateStat, error) {
	if percentiles == nil {
		percentiles = spec.DefaultPercentiles
	}

	var (
		pool     []model.TimingSample
		errCount int
		bytes    int64
		first    time.Time
		last     time.Time
	)
	span := func(s model.TimingSample) {
		if first.IsZero() || s.Start.Before(first) {
			first = s.Start
		}
		if s.End.After(last) {
			last = s.End
		}
	}
	for _, s := range samples {
		switch s.Outcome {
		case model.OutcomeSuccess:
			pool = append(pool, s)
			bytes += s.Bytes
			span(s)
		case model.OutcomeCancelled:
			// Partial transfers still moved real bytes.
			bytes += s.Bytes
			span(s)
		default:
			errCount++
		}
	}

	stat := model.AggregateStat{
		Count:  len(pool),
		Errors: errCount,
	}
	if total := len(pool) + errCount; total > 0 {
		stat.ErrorRate = float64(errCount) / float64(total)
	}

	// Byte accounting does not depend on the latency pool: a transfer that
	// was cancelled before its first success checkpoint still moved bytes.
	stat.Bytes = bytes
	stat.Elapsed = last.Sub(first)
	if stat.Elapsed > 0 {
		stat.BitsPerSecond = float64(bytes) * 8 / stat.Elapsed.Seconds()
	}

	if len(pool) == 0 {
		if bytes > 0 {
			return stat, nil
		}
		return stat, model.ErrNoData
	}

	stat.Jitter = jitter(pool)

	rtts := make([]time.Duration, len(pool))
	for i, s := range pool {
		rtts[i] = s.RTT()
	}
	sort.Slice(rtts, func(i, j int) bool { return rtts[i] < rtts[j] })

	stat.MinRTT = rtts[0]
	stat.MaxRTT = rtts[len(rtts)-1]
	stat.MedianRTT = quantile(rtts, 50)
	stat.TrimmedMean = trimmedMean(rtts)
	stat.Percentiles = make(map[float64]time.Duration, len(percentiles))
	for _, p := range percentiles {
		stat.Percentiles[p] = quantile(rtts, p)
	}
	return stat, nil
}

// jitter is the mean absolute difference between consecutive successful
// samples in arrival order. Variability between neighbors, not total spread.
func jitter(pool []model.TimingSample) time.Duration {
	if len(pool) < 2 {
		return 0
	}
	var sum time.Duration
	for i := 1; i < len(pool); i++ {
		d := pool[i].RTT() - pool[i-1].RTT()
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / time.Duration(len(pool)-1)
}

// quantile returns the p-th percentile of sorted durations using the
// nearest-rank method. Full sort is fine at this data scale.
func quantile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p / 100 * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// trimmedMean averages the sorted durations after dropping trimFraction from
// each tail. Too few samples to trim means a plain mean.
func trimmedMean(sorted []time.Duration) time.Duration {
	drop := int(float64(len(sorted)) * trimFraction)
	trimmed := sorted[drop : len(sorted)-drop]
	var sum time.Duration
	for _, d := range trimmed {
		sum += d
	}
	return sum / time.Duration(len(trimmed))
}
