// Package engine sequences the phases of a measurement run and exposes the
// live event stream consumed by renderers, formatters and history stores.
// Every run is an independently constructed object: there is no process-wide
// state, and any number of runs can execute in the same process.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/wanprobe/wanprobe/internal/loadgen"
	"github.com/wanprobe/wanprobe/internal/prober"
	"github.com/wanprobe/wanprobe/internal/stats"
	"github.com/wanprobe/wanprobe/internal/targets"
	"github.com/wanprobe/wanprobe/internal/transport"
	"github.com/wanprobe/wanprobe/pkg/model"
	"github.com/wanprobe/wanprobe/pkg/spec"
	"github.com/wanprobe/wanprobe/pkg/version"
)

// ErrNoEndpoints is returned by Start when the config names no endpoints.
var ErrNoEndpoints = errors.New("no endpoints configured")

// Run is a handle on an in-progress measurement.
type Run struct {
	events chan model.MeasurementEvent
	done   chan struct{}

	cancel     context.CancelFunc
	cancelOnce sync.Once
}

// Events returns the live event stream. The channel is closed after the
// terminal Finished event.
func (r *Run) Events() <-chan model.MeasurementEvent { return r.events }

// Done is closed when the run has fully finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel requests cooperative termination. The run transitions to
// finalization and still emits a Finished event with whatever data was
// collected. Idempotent.
func (r *Run) Cancel() { r.cancelOnce.Do(r.cancel) }

// Start validates the configuration and begins a measurement run.
//
// Binding validation happens before anything else: a binding that cannot
// bind fails here, before a single byte of traffic is sent. Endpoint
// reachability is checked next; if no endpoint answers, Start fails with
// model.ErrNoTargets. Both are startup configuration errors, the only class
// of error that aborts a run before any phase executes.
func Start(ctx context.Context, cfg Config) (*Run, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if cfg.MeasurementID == "" {
		cfg.MeasurementID = uuid.NewString()
	}
	if cfg.DownloadBudget <= 0 {
		cfg.DownloadBudget = spec.DefaultPhaseBudget
	}
	if cfg.UploadBudget <= 0 {
		cfg.UploadBudget = spec.DefaultPhaseBudget
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 512
	}

	if err := cfg.Binding.Validate(); err != nil {
		return nil, err
	}

	clients := make([]*transport.Client, 0, len(cfg.Endpoints))
	for _, e := range cfg.Endpoints {
		ep, err := transport.ParseEndpoint(e)
		if err != nil {
			return nil, err
		}
		if cfg.DownloadPath != "" {
			ep.DownloadPath = cfg.DownloadPath
		}
		if cfg.UploadPath != "" {
			ep.UploadPath = cfg.UploadPath
		}
		if cfg.LatencyPath != "" {
			ep.LatencyPath = cfg.LatencyPath
		}
		ep.NoVerify = cfg.NoVerify
		clients = append(clients, transport.New(ep, cfg.Binding, cfg.MeasurementID))
	}

	picker := targets.NewPicker(targets.DefaultTTL)
	client, err := picker.Pick(ctx, clients)
	if err != nil {
		picker.Close()
		return nil, err
	}
	picker.Close()

	runCtx, cancel := context.WithCancel(ctx)
	r := &Run{
		events: make(chan model.MeasurementEvent, cfg.EventBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go r.run(runCtx, cfg, client)
	return r, nil
}

// runner holds the state of one executing run.
type runner struct {
	cfg    Config
	client *transport.Client
	events chan<- model.MeasurementEvent

	report     *model.Report
	incomplete bool
}

func (r *Run) run(ctx context.Context, cfg Config, client *transport.Client) {
	defer close(r.done)
	defer close(r.events)

	rn := &runner{
		cfg:    cfg,
		client: client,
		events: r.events,
		report: newReport(cfg, client),
	}

	fatal := rn.idlePhase(ctx)

	if !fatal && ctx.Err() == nil && !cfg.SkipDownload {
		fatal = rn.throughputPhase(ctx, model.DirectionDownload)
	}
	if !fatal && ctx.Err() == nil && !cfg.SkipUpload {
		fatal = rn.throughputPhase(ctx, model.DirectionUpload)
	}
	if ctx.Err() != nil || fatal {
		rn.incomplete = true
	}

	rn.finalize()
}

func newReport(cfg Config, client *transport.Client) *model.Report {
	report := &model.Report{
		MeasurementID: cfg.MeasurementID,
		Version:       version.Version,
		Target:        client.Endpoint().BaseURL.String(),
		StartTime:     time.Now(),
	}
	if cfg.Binding != nil {
		report.BindAddress = cfg.Binding.Addr.String()
		report.BindInterface = cfg.Binding.Interface
	}
	skipped := model.PhaseResult{Status: model.StatusSkipped}
	report.IdleLatency = skipped
	report.Download = skipped
	report.Upload = skipped
	report.LoadedLatencyDownload = skipped
	report.LoadedLatencyUpload = skipped
	return report
}

// emit sends a lifecycle event. Lifecycle events are never dropped; the
// buffer is sized so this does not block in practice.
func (rn *runner) emit(e model.MeasurementEvent) {
	e.Time = time.Now()
	rn.events <- e
}

// emitUpdate sends an interval update, dropping it if the consumer is not
// keeping up. Dropping intermediate snapshots preserves event ordering.
func (rn *runner) emitUpdate(e model.MeasurementEvent) {
	e.Time = time.Now()
	select {
	case rn.events <- e:
	default:
	}
}

// idlePhase measures idle latency. It returns true if the run must degrade
// straight to finalization: too few successful probes mean every later
// number would be built on an unreachable or unusable path.
func (rn *runner) idlePhase(ctx context.Context) bool {
	rn.emit(model.MeasurementEvent{Kind: model.EventPhaseStarted, Phase: model.PhaseIdleLatency})
	log.Info("measuring idle latency", "target", rn.report.Target)

	var collected []model.TimingSample
	stat, _, err := prober.ProbeIdle(ctx, rn.client, prober.Options{
		Count:       rn.cfg.IdleProbes,
		Percentiles: rn.cfg.Percentiles,
		Sink: func(s model.TimingSample) {
			collected = append(collected, s)
			if st, rerr := stats.Reduce(collected, rn.cfg.Percentiles); rerr == nil {
				rn.emitUpdate(model.MeasurementEvent{
					Kind: model.EventIntervalUpdate, Phase: model.PhaseIdleLatency, Stat: &st,
				})
			}
		},
	})

	switch {
	case err == nil && ctx.Err() == nil:
		rn.report.IdleLatency = model.PhaseResult{Status: model.StatusComplete, Stat: &stat}
		rn.emit(model.MeasurementEvent{
			Kind: model.EventPhaseCompleted, Phase: model.PhaseIdleLatency, Stat: &stat,
		})
		return false
	case err == nil:
		// Cancelled mid-phase but with enough data to report.
		rn.incomplete = true
		rn.report.IdleLatency = model.PhaseResult{Status: model.StatusPartial, Stat: &stat}
		rn.emit(model.MeasurementEvent{
			Kind: model.EventPhaseCompleted, Phase: model.PhaseIdleLatency, Stat: &stat,
		})
		return false
	default:
		log.Error("idle latency failed", "err", err)
		rn.incomplete = true
		rn.report.IdleLatency = model.PhaseResult{Status: model.StatusFailed, Error: model.KindOf(err)}
		rn.emit(model.MeasurementEvent{
			Kind: model.EventError, Phase: model.PhaseIdleLatency,
			Error: model.KindOf(err), Message: err.Error(),
		})
		return true
	}
}

// throughputPhase saturates one direction while sampling loaded latency in
// the same time window. It returns true on a phase-fatal error.
func (rn *runner) throughputPhase(ctx context.Context, dir model.Direction) bool {
	phase := dir.Phase()
	budget := rn.cfg.DownloadBudget
	if dir == model.DirectionUpload {
		budget = rn.cfg.UploadBudget
	}

	rn.emit(model.MeasurementEvent{Kind: model.EventPhaseStarted, Phase: phase})
	rn.emit(model.MeasurementEvent{
		Kind: model.EventPhaseStarted, Phase: model.PhaseLoadedLatency, During: phase,
	})
	log.Info("starting throughput phase", "direction", dir, "budget", budget)

	phaseCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	tester := loadgen.New(rn.client, loadgen.Config{
		Direction:   dir,
		TimeBudget:  budget,
		MaxPayload:  rn.cfg.MaxPayload,
		MaxStreams:  rn.cfg.MaxStreams,
		Percentiles: rn.cfg.Percentiles,
		Snapshot: func(stat model.AggregateStat) {
			rn.emitUpdate(model.MeasurementEvent{
				Kind: model.EventIntervalUpdate, Phase: phase, Stat: &stat,
			})
		},
	})

	var loadedCollected []model.TimingSample
	sampler := loadgen.NewSampler(rn.client, rn.cfg.Percentiles, func(s model.TimingSample) {
		loadedCollected = append(loadedCollected, s)
		if st, err := stats.Reduce(loadedCollected, rn.cfg.Percentiles); err == nil {
			rn.emitUpdate(model.MeasurementEvent{
				Kind: model.EventIntervalUpdate, Phase: model.PhaseLoadedLatency,
				During: phase, Stat: &st,
			})
		}
	})

	var loadedStat model.AggregateStat
	var loadedErr error
	loadedDone := make(chan struct{})
	go func() {
		defer close(loadedDone)
		loadedStat, _, loadedErr = sampler.Run(phaseCtx)
	}()

	stat, _, err := tester.Run(phaseCtx)
	cancel()
	<-loadedDone

	cancelled := ctx.Err() != nil

	loadedResult := model.PhaseResult{Status: model.StatusComplete, Stat: &loadedStat}
	if loadedErr != nil {
		log.Error("loaded latency failed", "direction", dir, "err", loadedErr)
		loadedResult = model.PhaseResult{Status: model.StatusFailed, Error: model.KindOf(loadedErr)}
		rn.incomplete = true
		rn.emit(model.MeasurementEvent{
			Kind: model.EventError, Phase: model.PhaseLoadedLatency, During: phase,
			Error: model.KindOf(loadedErr), Message: loadedErr.Error(),
		})
	} else if cancelled {
		loadedResult.Status = model.StatusPartial
		rn.incomplete = true
	}

	var result model.PhaseResult
	fatal := false
	switch {
	case err == nil && !cancelled:
		result = model.PhaseResult{Status: model.StatusComplete, Stat: &stat}
	case err == nil:
		result = model.PhaseResult{Status: model.StatusPartial, Stat: &stat}
		rn.incomplete = true
	default:
		log.Error("throughput phase failed", "direction", dir, "err", err)
		result = model.PhaseResult{Status: model.StatusFailed, Error: model.KindOf(err)}
		rn.incomplete = true
		rn.emit(model.MeasurementEvent{
			Kind: model.EventError, Phase: phase,
			Error: model.KindOf(err), Message: err.Error(),
		})
		fatal = errors.Is(err, model.ErrPathUnreachable)
	}

	if result.Stat != nil {
		rn.emit(model.MeasurementEvent{Kind: model.EventPhaseCompleted, Phase: phase, Stat: result.Stat})
	}
	if loadedResult.Stat != nil {
		rn.emit(model.MeasurementEvent{
			Kind: model.EventPhaseCompleted, Phase: model.PhaseLoadedLatency,
			During: phase, Stat: loadedResult.Stat,
		})
	}

	if dir == model.DirectionUpload {
		rn.report.Upload = result
		rn.report.LoadedLatencyUpload = loadedResult
	} else {
		rn.report.Download = result
		rn.report.LoadedLatencyDownload = loadedResult
	}
	return fatal
}

// finalize assembles the report from whatever the phases produced. It is
// bounded and does no I/O, so it completes even under cancellation.
func (rn *runner) finalize() {
	rn.emit(model.MeasurementEvent{Kind: model.EventPhaseStarted, Phase: model.PhaseFinalizing})

	rn.report.EndTime = time.Now()
	rn.report.Complete = !rn.incomplete
	log.Info("run finished", "mid", rn.report.MeasurementID, "complete", rn.report.Complete)

	rn.emit(model.MeasurementEvent{Kind: model.EventFinished, Report: rn.report})
}
