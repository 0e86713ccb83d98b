// Package loadgen saturates the path in one direction and measures the
// achieved rate. It runs in two stages: a ramp that searches for a
// saturating streams/payload configuration, then a sustain stage that holds
// the converged configuration until the time budget expires, replacing every
// completed stream immediately so the path never drains.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/wanprobe/wanprobe/internal/stats"
	"github.com/wanprobe/wanprobe/internal/transport"
	"github.com/wanprobe/wanprobe/pkg/model"
	"github.com/wanprobe/wanprobe/pkg/spec"
)

// Streamer issues a single sized transfer, streaming checkpoint samples.
// Implemented by transport.Client.
type Streamer interface {
	Download(ctx context.Context, size int64, samples chan<- model.TimingSample) error
	Upload(ctx context.Context, size int64, samples chan<- model.TimingSample) error
}

// Config configures a throughput test.
type Config struct {
	Direction model.Direction
	// TimeBudget bounds the whole test, ramp included.
	TimeBudget time.Duration
	// InitialPayload and MaxPayload bound per-request payload growth.
	InitialPayload int64
	MaxPayload     int64
	// InitialStreams and MaxStreams bound concurrency growth.
	InitialStreams int
	MaxStreams     int
	// Percentiles is the percentile set for aggregates.
	Percentiles []float64
	// Snapshot, if set, receives a live aggregate at every sampling tick.
	Snapshot func(model.AggregateStat)
}

// Tester runs a single throughput test. Not restartable: create a new Tester
// per test.
type Tester struct {
	streamer Streamer
	cfg      Config

	mu  sync.Mutex
	all []model.TimingSample

	consec atomic.Int32
	fatal  atomic.Bool
}

// New returns a Tester with defaults filled in.
func New(s Streamer, cfg Config) *Tester {
	if cfg.TimeBudget <= 0 {
		cfg.TimeBudget = spec.DefaultPhaseBudget
	}
	if cfg.InitialPayload <= 0 {
		cfg.InitialPayload = spec.InitialPayloadSize
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = spec.MaxPayloadSize
	}
	if cfg.InitialStreams <= 0 {
		cfg.InitialStreams = spec.InitialStreams
	}
	if cfg.MaxStreams <= 0 {
		cfg.MaxStreams = spec.DefaultMaxStreams
	}
	return &Tester{streamer: s, cfg: cfg}
}

// Run executes the ramp and sustain stages. It returns the final aggregate
// over the steady-state window, every sample collected, and an error when
// the phase aborted (model.ErrPathUnreachable) or produced no data
// (model.ErrNoData). Budget expiry and cancellation are normal exits: the
// samples collected so far still produce an aggregate.
func (t *Tester) Run(ctx context.Context) (model.AggregateStat, []model.TimingSample, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.TimeBudget)
	defer cancel()

	ch := make(chan model.TimingSample, 256)
	collectDone := make(chan struct{})
	go t.collect(ch, collectDone)

	streams, size := t.ramp(ctx, cancel, ch)

	var sustainStart time.Time
	if !t.fatal.Load() && ctx.Err() == nil {
		log.Debug("ramp converged", "direction", t.cfg.Direction,
			"streams", streams, "payload", size)
		sustainStart = time.Now()
		t.sustain(ctx, cancel, ch, streams, size)
	}

	close(ch)
	<-collectDone

	t.mu.Lock()
	all := t.all
	t.mu.Unlock()

	if t.fatal.Load() {
		return model.AggregateStat{}, all, fmt.Errorf(
			"%w: %d consecutive stream failures", model.ErrPathUnreachable, spec.ConsecutiveFailureLimit)
	}

	stat, err := stats.Reduce(t.steadyWindow(all, sustainStart), t.cfg.Percentiles)
	return stat, all, err
}

// collect owns the sample slice and the snapshot tick. It exits when the
// sample channel closes, after draining it.
func (t *Tester) collect(ch <-chan model.TimingSample, done chan<- struct{}) {
	defer close(done)
	tick := time.NewTicker(spec.SampleInterval)
	defer tick.Stop()
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return
			}
			t.mu.Lock()
			t.all = append(t.all, s)
			t.mu.Unlock()
		case <-tick.C:
			if t.cfg.Snapshot == nil {
				continue
			}
			t.mu.Lock()
			cp := append([]model.TimingSample(nil), t.all...)
			t.mu.Unlock()
			if stat, err := stats.Reduce(cp, t.cfg.Percentiles); err == nil {
				t.cfg.Snapshot(stat)
			}
		}
	}
}

// ramp searches for a saturating configuration: after each round it doubles
// the payload (then the stream count) until the rate stops improving by more
// than the margin across two consecutive rounds, or the caps are reached.
// It returns the converged configuration.
func (t *Tester) ramp(ctx context.Context, cancel context.CancelFunc, ch chan<- model.TimingSample) (int, int64) {
	streams := t.cfg.InitialStreams
	size := t.cfg.InitialPayload
	rampDeadline := time.Now().Add(t.cfg.TimeBudget / 2)

	var prevRate float64
	flat := 0
	for round := 0; round < spec.MaxRampRounds; round++ {
		if ctx.Err() != nil || t.fatal.Load() || time.Now().After(rampDeadline) {
			break
		}

		rate := t.rampRound(ctx, cancel, ch, streams, size)
		log.Debug("ramp round", "direction", t.cfg.Direction, "round", round,
			"streams", streams, "payload", size, "bps", rate)

		if prevRate > 0 && rate <= prevRate*(1+spec.RampImprovementMargin) {
			flat++
			if flat >= 2 {
				break
			}
		} else {
			flat = 0
		}
		prevRate = rate

		// Grow the payload first; only grow concurrency once the payload is
		// capped. Both capped means there is nothing left to try.
		switch {
		case size < t.cfg.MaxPayload:
			size *= 2
			if size > t.cfg.MaxPayload {
				size = t.cfg.MaxPayload
			}
		case streams < t.cfg.MaxStreams:
			streams *= 2
			if streams > t.cfg.MaxStreams {
				streams = t.cfg.MaxStreams
			}
		default:
			return streams, size
		}
	}
	return streams, size
}

// rampRound runs one transfer per stream and returns the aggregate rate of
// the round, derived from the round's own sample timestamps.
func (t *Tester) rampRound(ctx context.Context, cancel context.CancelFunc, ch chan<- model.TimingSample, streams int, size int64) float64 {
	// Round samples are teed off so the round rate can be computed without
	// racing the collector.
	roundCh := make(chan model.TimingSample, 64)
	var roundSamples []model.TimingSample
	fwdDone := make(chan struct{})
	go func() {
		defer close(fwdDone)
		for s := range roundCh {
			roundSamples = append(roundSamples, s)
			ch <- s
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < streams; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.stream(ctx, cancel, roundCh, size, true)
		}()
	}
	wg.Wait()
	close(roundCh)
	<-fwdDone

	return windowRate(roundSamples)
}

// sustain holds the converged configuration until the context expires. Every
// completed stream is immediately replaced by a new one of the same size, so
// the path stays continuously saturated.
func (t *Tester) sustain(ctx context.Context, cancel context.CancelFunc, ch chan<- model.TimingSample, streams int, size int64) {
	var wg sync.WaitGroup
	for i := 0; i < streams; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sz := size
			for ctx.Err() == nil && !t.fatal.Load() {
				sz = t.stream(ctx, cancel, ch, sz, false)
			}
		}()
	}
	wg.Wait()
}

// stream performs transfers of the given size until one succeeds (or, with
// once=false, a single transfer attempt) and returns the possibly adjusted
// size. Connection errors discard the stream and count toward the
// consecutive-failure limit; hitting the limit aborts the whole phase.
func (t *Tester) stream(ctx context.Context, cancel context.CancelFunc, ch chan<- model.TimingSample, size int64, once bool) int64 {
	for ctx.Err() == nil && !t.fatal.Load() {
		err := t.transfer(ctx, size, ch)
		switch {
		case err == nil:
			t.consec.Store(0)
			return size
		case errors.Is(err, transport.ErrServerBusy):
			// The server asked to back off: shrink the payload instead of
			// treating it as a path failure.
			if next := size / 2; next >= spec.MinDownloadPayload {
				size = next
				log.Debug("server busy, shrinking payload", "payload", size)
			}
		case ctx.Err() != nil:
			return size
		default:
			log.Debug("stream failed", "direction", t.cfg.Direction, "err", err)
			if t.consec.Add(1) >= spec.ConsecutiveFailureLimit {
				t.fatal.Store(true)
				cancel()
				return size
			}
		}
		if once {
			// Ramp rounds retry in place: the failed stream's replacement.
			continue
		}
		return size
	}
	return size
}

func (t *Tester) transfer(ctx context.Context, size int64, ch chan<- model.TimingSample) error {
	if t.cfg.Direction == model.DirectionUpload {
		return t.streamer.Upload(ctx, size, ch)
	}
	return t.streamer.Download(ctx, size, ch)
}

// steadyWindow returns the samples of the steady-state part of the sustain
// window, discarding the leading fraction as residual ramp noise. It falls
// back to the full sustain window, then to all samples, when the window is
// too small to trim.
func (t *Tester) steadyWindow(all []model.TimingSample, sustainStart time.Time) []model.TimingSample {
	if sustainStart.IsZero() {
		return all
	}
	skip := time.Duration(float64(time.Since(sustainStart)) * spec.SteadySkipFraction)
	if skip < spec.MinSteadySkip {
		skip = spec.MinSteadySkip
	}
	cut := sustainStart.Add(skip)

	var window, sustain []model.TimingSample
	for _, s := range all {
		if s.Start.Before(sustainStart) {
			continue
		}
		sustain = append(sustain, s)
		if !s.Start.Before(cut) {
			window = append(window, s)
		}
	}
	if len(window) >= 2 {
		return window
	}
	if len(sustain) > 0 {
		return sustain
	}
	return all
}

// windowRate computes bits per second over the wall span of the samples.
func windowRate(samples []model.TimingSample) float64 {
	var bytes int64
	var first, last time.Time
	for _, s := range samples {
		if s.Outcome != model.OutcomeSuccess && s.Outcome != model.OutcomeCancelled {
			continue
		}
		bytes += s.Bytes
		if first.IsZero() || s.Start.Before(first) {
			first = s.Start
		}
		if s.End.After(last) {
			last = s.End
		}
	}
	span := last.Sub(first)
	if span <= 0 {
		return 0
	}
	return float64(bytes) * 8 / span.Seconds()
}
