package main

import (
	"flag"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the command-line flags for YAML-based configuration.
type fileConfig struct {
	Servers        []string      `yaml:"servers"`
	Interface      string        `yaml:"interface"`
	SourceIP       string        `yaml:"source_ip"`
	DownloadBudget time.Duration `yaml:"download_duration"`
	UploadBudget   time.Duration `yaml:"upload_duration"`
	IdleProbes     int           `yaml:"idle_probes"`
	MaxStreams     int           `yaml:"max_streams"`
	MaxPayload     int64         `yaml:"max_payload"`
	NoVerify       bool          `yaml:"no_verify"`
	Output         string        `yaml:"output"`
}

// applyFileConfig loads a YAML config file and applies its values to every
// flag the user did not set explicitly, so command-line flags always win.
func applyFileConfig(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return err
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["server"] && len(fc.Servers) > 0 {
		flagServers = fc.Servers
	}
	if !set["interface"] && fc.Interface != "" {
		*flagInterface = fc.Interface
	}
	if !set["source-ip"] && fc.SourceIP != "" {
		*flagSourceIP = fc.SourceIP
	}
	if !set["duration.download"] && fc.DownloadBudget > 0 {
		*flagDownloadBudget = fc.DownloadBudget
	}
	if !set["duration.upload"] && fc.UploadBudget > 0 {
		*flagUploadBudget = fc.UploadBudget
	}
	if !set["idle-probes"] && fc.IdleProbes > 0 {
		*flagIdleProbes = fc.IdleProbes
	}
	if !set["streams.max"] && fc.MaxStreams > 0 {
		*flagMaxStreams = fc.MaxStreams
	}
	if !set["payload.max"] && fc.MaxPayload > 0 {
		*flagMaxPayload = fc.MaxPayload
	}
	if !set["no-verify"] && fc.NoVerify {
		*flagNoVerify = true
	}
	if !set["output"] && fc.Output != "" {
		*flagOutput = fc.Output
	}
	return nil
}
