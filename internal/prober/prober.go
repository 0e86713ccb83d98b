// Package prober measures idle latency: sequential round-trips before any
// load starts. Probes are deliberately not concurrent, since concurrency
// would itself induce queueing latency and corrupt the idle measurement.
package prober

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/wanprobe/wanprobe/internal/stats"
	"github.com/wanprobe/wanprobe/pkg/model"
	"github.com/wanprobe/wanprobe/pkg/spec"
)

// Prober is anything that can issue a single latency probe. Implemented by
// transport.Client.
type Prober interface {
	Probe(ctx context.Context) model.TimingSample
}

// Options configures an idle latency measurement.
type Options struct {
	// Count is the number of probes to issue. Zero selects the default.
	Count int
	// Spacing is the pause between probes, to avoid connection reuse bias.
	// Zero selects the default.
	Spacing time.Duration
	// WarmConnection keeps the first sample instead of discarding it as
	// connection-establishment warm-up.
	WarmConnection bool
	// Percentiles is the percentile set for the aggregate.
	Percentiles []float64
	// Sink, if set, observes every sample as it is collected.
	Sink func(model.TimingSample)
}

// ProbeIdle runs sequential probes and aggregates them. If fewer than the
// minimum threshold of probes succeed it returns model.ErrInsufficientSamples
// instead of fabricating statistics from too small an N. The collected
// samples are returned in either case.
func ProbeIdle(ctx context.Context, p Prober, opts Options) (model.AggregateStat, []model.TimingSample, error) {
	count := opts.Count
	if count <= 0 {
		count = spec.DefaultIdleProbes
	}
	spacing := opts.Spacing
	if spacing <= 0 {
		spacing = spec.IdleProbeSpacing
	}

	var samples []model.TimingSample
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			break
		}
		s := p.Probe(ctx)
		log.Debug("idle probe", "seq", i, "rtt", s.RTT(), "outcome", s.Outcome)

		if i == 0 && !opts.WarmConnection && s.OK() {
			// The first round-trip pays for connection establishment.
			continue
		}
		samples = append(samples, s)
		if opts.Sink != nil {
			opts.Sink(s)
		}

		if i < count-1 {
			select {
			case <-ctx.Done():
			case <-time.After(spacing):
			}
		}
	}

	ok := 0
	for _, s := range samples {
		if s.OK() {
			ok++
		}
	}
	if ok < spec.MinProbeSuccess {
		return model.AggregateStat{}, samples, fmt.Errorf(
			"%w: %d of %d probes succeeded", model.ErrInsufficientSamples, ok, count)
	}

	stat, err := stats.Reduce(samples, opts.Percentiles)
	if err != nil {
		return stat, samples, err
	}
	return stat, samples, nil
}
