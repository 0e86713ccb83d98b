package loadgen

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/m-lab/go/memoryless"
	"github.com/wanprobe/wanprobe/internal/prober"
	"github.com/wanprobe/wanprobe/internal/stats"
	"github.com/wanprobe/wanprobe/pkg/model"
	"github.com/wanprobe/wanprobe/pkg/spec"
)

// Sampler measures latency under load. It fires probes at a low rate while a
// throughput test saturates the path; the probes race the saturating streams
// for bandwidth on purpose, since their elevated round-trips quantify
// queueing delay. Each probe uses a separate connection: a probe reused on a
// saturated connection would measure head-of-line blocking instead.
type Sampler struct {
	prober      prober.Prober
	interval    memoryless.Config
	percentiles []float64
	sink        func(model.TimingSample)
}

// NewSampler returns a Sampler probing through p. The probe cadence is
// memoryless, so it cannot synchronize with the throughput sampling tick.
// sink, if non-nil, observes every sample as it is collected.
func NewSampler(p prober.Prober, percentiles []float64, sink func(model.TimingSample)) *Sampler {
	return &Sampler{
		prober: p,
		interval: memoryless.Config{
			Min:      spec.MinProbeInterval,
			Expected: spec.AvgProbeInterval,
			Max:      spec.MaxProbeInterval,
		},
		percentiles: percentiles,
		sink:        sink,
	}
}

// Run probes until the context expires. The context should be the same one
// bounding the paired throughput phase, so both share the time window. It
// returns model.ErrNoData if no probe succeeded.
func (s *Sampler) Run(ctx context.Context) (model.AggregateStat, []model.TimingSample, error) {
	var samples []model.TimingSample
	err := memoryless.Run(ctx, func() {
		ts := s.prober.Probe(ctx)
		log.Debug("loaded probe", "rtt", ts.RTT(), "outcome", ts.Outcome)
		samples = append(samples, ts)
		if s.sink != nil {
			s.sink(ts)
		}
	}, s.interval)
	if err != nil {
		return model.AggregateStat{}, samples, err
	}

	stat, err := stats.Reduce(samples, s.percentiles)
	return stat, samples, err
}
