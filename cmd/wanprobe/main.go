// wanprobe measures idle latency, loaded latency and throughput against a
// speed-test endpoint, optionally bound to a specific local interface or
// source address.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/wanprobe/wanprobe/internal/netx"
	"github.com/wanprobe/wanprobe/internal/persistence"
	"github.com/wanprobe/wanprobe/pkg/engine"
	"github.com/wanprobe/wanprobe/pkg/spec"
)

var (
	flagServers = flagx.StringArray{}

	flagConfig    = flag.String("config", "", "Path to a YAML run configuration file")
	flagInterface = flag.String("interface", "", "Bind outgoing connections to this network interface")
	flagSourceIP  = flag.String("source-ip", "", "Bind outgoing connections to this source IP")

	flagDownloadBudget = flag.Duration("duration.download", spec.DefaultPhaseBudget, "Download phase time budget")
	flagUploadBudget   = flag.Duration("duration.upload", spec.DefaultPhaseBudget, "Upload phase time budget")
	flagIdleProbes     = flag.Int("idle-probes", spec.DefaultIdleProbes, "Number of idle latency probes")
	flagMaxStreams     = flag.Int("streams.max", spec.DefaultMaxStreams, "Maximum number of concurrent streams")
	flagMaxPayload     = flag.Int64("payload.max", spec.MaxPayloadSize, "Maximum per-request payload size in bytes")
	flagSkipDownload   = flag.Bool("skip-download", false, "Skip the download phase")
	flagSkipUpload     = flag.Bool("skip-upload", false, "Skip the upload phase")

	flagNoVerify = flag.Bool("no-verify", false, "Skip TLS certificate verification")
	flagOutput   = flag.String("output", "", "Directory to write the measurement report to")
	flagJSON     = flag.Bool("json", false, "Print the final report as JSON")
	flagDebug    = flag.Bool("debug", false, "Enable debug logging")
	flagMetrics  = flag.Bool("metrics", false, "Serve Prometheus metrics")
)

func init() {
	flag.Var(&flagServers, "server", "Base URL of a measurement endpoint (repeatable)")
}

// resolveBinding turns the -interface/-source-ip flags into a Binding.
// Interface-name resolution happens here, outside the engine: the engine
// only accepts already-resolved addresses.
func resolveBinding(iface, sourceIP string) (*netx.Binding, error) {
	if iface != "" && sourceIP != "" {
		return nil, fmt.Errorf("-interface and -source-ip are mutually exclusive")
	}
	if sourceIP != "" {
		ip := net.ParseIP(sourceIP)
		if ip == nil {
			return nil, fmt.Errorf("invalid source IP %q", sourceIP)
		}
		return &netx.Binding{Addr: ip}, nil
	}
	if iface == "" {
		return nil, nil
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("unknown interface %q: %w", iface, err)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.To4() == nil {
			continue
		}
		return &netx.Binding{Addr: ipNet.IP, Interface: iface}, nil
	}
	return nil, fmt.Errorf("interface %q has no usable IPv4 address", iface)
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "cannot parse env args")

	log.SetReportTimestamp(true)
	if *flagDebug {
		log.SetLevel(log.DebugLevel)
	}

	if *flagConfig != "" {
		rtx.Must(applyFileConfig(*flagConfig), "cannot load config file")
	}
	if len(flagServers) == 0 {
		log.Fatal("at least one -server is required")
	}

	if *flagMetrics {
		promSrv := prometheusx.MustServeMetrics()
		defer promSrv.Close()
	}

	binding, err := resolveBinding(*flagInterface, *flagSourceIP)
	rtx.Must(err, "cannot resolve local binding")
	if binding != nil {
		log.Info("binding outgoing connections", "source", binding)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	mid := uuid.NewString()
	run, err := engine.Start(context.Background(), engine.Config{
		Endpoints:      flagServers,
		Binding:        binding,
		MeasurementID:  mid,
		IdleProbes:     *flagIdleProbes,
		DownloadBudget: *flagDownloadBudget,
		UploadBudget:   *flagUploadBudget,
		SkipDownload:   *flagSkipDownload,
		SkipUpload:     *flagSkipUpload,
		MaxPayload:     *flagMaxPayload,
		MaxStreams:     *flagMaxStreams,
		NoVerify:       *flagNoVerify,
	})
	rtx.Must(err, "cannot start measurement")

	go func() {
		<-ctx.Done()
		run.Cancel()
	}()

	em := &emitter{json: *flagJSON}
	for e := range run.Events() {
		em.onEvent(e)
	}

	if em.report != nil && *flagOutput != "" {
		df, err := persistence.WriteDataFile(*flagOutput, "report", mid, em.report)
		rtx.Must(err, "cannot write report")
		log.Info("report written", "path", df.Path)
	}
}
