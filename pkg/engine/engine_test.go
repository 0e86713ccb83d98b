package engine

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-lab/go/testingx"
	"github.com/wanprobe/wanprobe/internal/netx"
	"github.com/wanprobe/wanprobe/internal/transport"
	"github.com/wanprobe/wanprobe/pkg/model"
	"github.com/wanprobe/wanprobe/pkg/spec"
)

// newTestServer serves the download/upload endpoints with an artificial
// per-request delay, approximating a fast path with non-zero latency.
func newTestServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(spec.DefaultDownloadPath, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		n, err := strconv.ParseInt(r.URL.Query().Get("bytes"), 10, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		chunk := make([]byte, 64*1024)
		for n > 0 {
			c := int64(len(chunk))
			if c > n {
				c = n
			}
			if _, err := w.Write(chunk[:c]); err != nil {
				return
			}
			n -= c
		}
	})
	mux.HandleFunc(spec.DefaultUploadPath, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		io.Copy(io.Discard, r.Body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func collectEvents(t *testing.T, run *Run) []model.MeasurementEvent {
	t.Helper()
	var events []model.MeasurementEvent
	for e := range run.Events() {
		events = append(events, e)
	}
	return events
}

func TestRun_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("full measurement run")
	}
	srv := newTestServer(t, 20*time.Millisecond)

	run, err := Start(context.Background(), Config{
		Endpoints:      []string{srv.URL},
		IdleProbes:     6,
		DownloadBudget: 2 * time.Second,
		UploadBudget:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	events := collectEvents(t, run)
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}

	first := events[0]
	if first.Kind != model.EventPhaseStarted || first.Phase != model.PhaseIdleLatency {
		t.Errorf("wrong first event: %+v", first)
	}
	last := events[len(events)-1]
	if last.Kind != model.EventFinished || last.Report == nil {
		t.Fatalf("wrong terminal event: %+v", last)
	}

	// Per phase, the lifecycle must read started -> updates -> completed,
	// with nothing trailing after completion.
	type key struct {
		phase, during model.Phase
	}
	done := map[key]bool{}
	started := map[key]bool{}
	for _, e := range events {
		k := key{e.Phase, e.During}
		switch e.Kind {
		case model.EventPhaseStarted:
			started[k] = true
		case model.EventIntervalUpdate:
			if !started[k] {
				t.Errorf("update before start for %v", k)
			}
			if done[k] {
				t.Errorf("update after completion for %v", k)
			}
		case model.EventPhaseCompleted:
			done[k] = true
		}
	}

	report := last.Report
	if !report.Complete {
		t.Errorf("report not complete: %+v", report)
	}
	if report.IdleLatency.Status != model.StatusComplete || report.IdleLatency.Stat == nil {
		t.Fatalf("idle latency phase did not complete: %+v", report.IdleLatency)
	}
	median := report.IdleLatency.Stat.MedianRTT
	if median < 15*time.Millisecond || median > 150*time.Millisecond {
		t.Errorf("idle median far from the server delay: %s", median)
	}
	for name, pr := range map[string]model.PhaseResult{
		"download": report.Download,
		"upload":   report.Upload,
	} {
		if pr.Status != model.StatusComplete || pr.Stat == nil {
			t.Errorf("%s phase did not complete: %+v", name, pr)
			continue
		}
		if pr.Stat.Bytes == 0 || pr.Stat.BitsPerSecond <= 0 {
			t.Errorf("%s produced no throughput: %+v", name, pr.Stat)
		}
	}
	for name, pr := range map[string]model.PhaseResult{
		"loaded latency (down)": report.LoadedLatencyDownload,
		"loaded latency (up)":   report.LoadedLatencyUpload,
	} {
		if pr.Status != model.StatusComplete || pr.Stat == nil || pr.Stat.Count == 0 {
			t.Errorf("%s missing: %+v", name, pr)
		}
	}
	if report.EndTime.Before(report.StartTime) {
		t.Errorf("report times inverted: %s / %s", report.StartTime, report.EndTime)
	}

	select {
	case <-run.Done():
	case <-time.After(time.Second):
		t.Error("Done not closed after the event stream ended")
	}
}

func TestRun_Cancel(t *testing.T) {
	if testing.Short() {
		t.Skip("full measurement run")
	}
	srv := newTestServer(t, 10*time.Millisecond)

	run, err := Start(context.Background(), Config{
		Endpoints:      []string{srv.URL},
		IdleProbes:     4,
		DownloadBudget: 30 * time.Second,
		UploadBudget:   30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	events := make(chan model.MeasurementEvent, 1024)
	go func() {
		defer close(events)
		for e := range run.Events() {
			events <- e
			if e.Kind == model.EventPhaseStarted && e.Phase == model.PhaseDownload {
				run.Cancel()
				run.Cancel() // idempotent
			}
		}
	}()

	var last model.MeasurementEvent
	deadline := time.After(10 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				if last.Kind != model.EventFinished || last.Report == nil {
					t.Fatalf("wrong terminal event after cancel: %+v", last)
				}
				report := last.Report
				if report.Complete {
					t.Error("cancelled run reported as complete")
				}
				if report.Upload.Status != model.StatusSkipped {
					t.Errorf("upload ran after cancellation: %+v", report.Upload)
				}
				return
			}
			last = e
		case <-deadline:
			t.Fatal("cancelled run did not finish in time")
		}
	}
}

func TestThroughputPhase_LoadedLatencyFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("full throughput phase")
	}
	// Transfers succeed but every loaded-latency probe fails, so the phase
	// must report the throughput result while flagging the latency side.
	srv := newTestServer(t, time.Millisecond)
	srv.Config.Handler.(*http.ServeMux).HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ep, err := transport.ParseEndpoint(srv.URL)
	testingx.Must(t, err, "parse endpoint")
	ep.LatencyPath = "/broken"
	client := transport.New(ep, nil, "test-mid")

	cfg := Config{DownloadBudget: 900 * time.Millisecond}
	events := make(chan model.MeasurementEvent, 512)
	rn := &runner{cfg: cfg, client: client, events: events, report: newReport(cfg, client)}

	rn.throughputPhase(context.Background(), model.DirectionDownload)
	close(events)

	if got := rn.report.LoadedLatencyDownload.Status; got != model.StatusFailed {
		t.Errorf("loaded latency status: got %s, want %s", got, model.StatusFailed)
	}
	if got := rn.report.Download.Status; got != model.StatusComplete {
		t.Errorf("download status: got %s, want %s", got, model.StatusComplete)
	}

	sawError := false
	for e := range events {
		if e.Kind == model.EventError && e.Phase == model.PhaseLoadedLatency {
			sawError = true
			if e.During != model.PhaseDownload {
				t.Errorf("error event not tagged with its throughput phase: %+v", e)
			}
			if e.Error == "" {
				t.Errorf("error event without a kind: %+v", e)
			}
		}
	}
	if !sawError {
		t.Error("no error event for the failed loaded-latency measurement")
	}
}

func TestStart_NoEndpoints(t *testing.T) {
	if _, err := Start(context.Background(), Config{}); !errors.Is(err, ErrNoEndpoints) {
		t.Errorf("expected ErrNoEndpoints, got %v", err)
	}
}

func TestStart_BindFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	_, err := Start(context.Background(), Config{
		Endpoints: []string{srv.URL},
		Binding:   &netx.Binding{Addr: net.ParseIP("192.0.2.1")},
	})
	if !errors.Is(err, model.ErrBindFailed) {
		t.Fatalf("expected ErrBindFailed, got %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("traffic sent despite an unusable binding: %d requests", hits.Load())
	}
}

func TestStart_NoTargets(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	_, err := Start(context.Background(), Config{Endpoints: []string{dead.URL}})
	if !errors.Is(err, model.ErrNoTargets) {
		t.Errorf("expected ErrNoTargets, got %v", err)
	}
}

func TestStart_BadEndpoint(t *testing.T) {
	if _, err := Start(context.Background(), Config{Endpoints: []string{"ftp://x"}}); err == nil {
		t.Error("expected an error for an unsupported scheme")
	}
}
