package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wanprobe/wanprobe/pkg/model"
)

// emitter renders the live event stream for the terminal. With json set, the
// final report is printed as JSON instead of a summary table.
type emitter struct {
	json   bool
	report *model.Report
}

func (e *emitter) onEvent(ev model.MeasurementEvent) {
	switch ev.Kind {
	case model.EventPhaseStarted:
		e.onPhaseStarted(ev)
	case model.EventIntervalUpdate:
		e.onUpdate(ev)
	case model.EventPhaseCompleted:
		fmt.Print("\r\033[K")
		fmt.Printf("%s: %s\n", phaseLabel(ev.Phase, ev.During), statLine(ev.Phase, ev.Stat))
	case model.EventError:
		fmt.Print("\r\033[K")
		fmt.Printf("%s failed: %s\n", phaseLabel(ev.Phase, ev.During), ev.Message)
	case model.EventFinished:
		e.report = ev.Report
		e.onFinished(ev.Report)
	}
}

func (e *emitter) onPhaseStarted(ev model.MeasurementEvent) {
	switch ev.Phase {
	case model.PhaseIdleLatency:
		fmt.Println("Measuring idle latency...")
	case model.PhaseDownload:
		fmt.Println("Measuring download...")
	case model.PhaseUpload:
		fmt.Println("Measuring upload...")
	}
}

func (e *emitter) onUpdate(ev model.MeasurementEvent) {
	// Live updates redraw a single line; loaded-latency updates are too
	// chatty for a plain terminal and are only shown in summaries.
	if ev.Phase == model.PhaseDownload || ev.Phase == model.PhaseUpload {
		fmt.Printf("\r\033[K%s: %8.2f Mbit/s", phaseLabel(ev.Phase, ev.During),
			ev.Stat.BitsPerSecond/1e6)
	}
}

func (e *emitter) onFinished(report *model.Report) {
	if e.json {
		b, err := json.MarshalIndent(report, "", "  ")
		if err == nil {
			fmt.Println(string(b))
		}
		return
	}

	fmt.Println()
	fmt.Printf("Test results (target: %s):\n", report.Target)
	printPhase := func(name string, r model.PhaseResult, throughput bool) {
		if r.Status == model.StatusSkipped {
			return
		}
		if r.Stat == nil {
			fmt.Printf("  %-24s %s (%s)\n", name+":", r.Status, r.Error)
			return
		}
		fmt.Printf("  %-24s %s", name+":", statLineKind(throughput, r.Stat))
		if r.Status != model.StatusComplete {
			fmt.Printf(" [%s]", r.Status)
		}
		fmt.Println()
	}
	printPhase("idle latency", report.IdleLatency, false)
	printPhase("download", report.Download, true)
	printPhase("loaded latency (down)", report.LoadedLatencyDownload, false)
	printPhase("upload", report.Upload, true)
	printPhase("loaded latency (up)", report.LoadedLatencyUpload, false)
	if !report.Complete {
		fmt.Println("  note: run incomplete, some figures are partial or missing")
	}
}

func phaseLabel(p, during model.Phase) string {
	if p == model.PhaseLoadedLatency {
		if during == model.PhaseUpload {
			return "loaded latency (up)"
		}
		return "loaded latency (down)"
	}
	switch p {
	case model.PhaseIdleLatency:
		return "idle latency"
	case model.PhaseDownload:
		return "download"
	case model.PhaseUpload:
		return "upload"
	default:
		return string(p)
	}
}

func statLine(p model.Phase, s *model.AggregateStat) string {
	return statLineKind(p == model.PhaseDownload || p == model.PhaseUpload, s)
}

func statLineKind(throughput bool, s *model.AggregateStat) string {
	if s == nil {
		return "no data"
	}
	if throughput {
		return fmt.Sprintf("%.2f Mbit/s (%d samples, %.0f%% errors)",
			s.BitsPerSecond/1e6, s.Count, s.ErrorRate*100)
	}
	return fmt.Sprintf("median %s, jitter %s (%d samples, %.0f%% loss)",
		s.MedianRTT.Round(10*time.Microsecond), s.Jitter.Round(10*time.Microsecond),
		s.Count, s.ErrorRate*100)
}
