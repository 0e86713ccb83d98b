package transport

import (
	"fmt"
	"net/url"
	"time"

	"github.com/wanprobe/wanprobe/pkg/spec"
)

// Endpoint describes the remote speed-test service. It is created once at
// startup and never mutated.
type Endpoint struct {
	// BaseURL is the scheme://host[:port] of the service.
	BaseURL *url.URL
	// DownloadPath serves a payload sized by the "bytes" query parameter.
	DownloadPath string
	// UploadPath accepts and discards an uploaded body.
	UploadPath string
	// LatencyPath answers a minimal request. Empty selects a zero-byte
	// download, which most speed-test services use as their latency probe.
	LatencyPath string
	// NoVerify disables TLS certificate verification.
	NoVerify bool
	// Timeout is the per-request deadline ceiling.
	Timeout time.Duration
}

// ParseEndpoint builds an Endpoint from a base URL string, filling in
// default paths and timeout.
func ParseEndpoint(base string) (*Endpoint, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: unsupported scheme %q", base, u.Scheme)
	}
	return &Endpoint{
		BaseURL:      u,
		DownloadPath: spec.DefaultDownloadPath,
		UploadPath:   spec.DefaultUploadPath,
		Timeout:      spec.DefaultRequestTimeout,
	}, nil
}

func (e *Endpoint) urlFor(path string, q url.Values) string {
	u := *e.BaseURL
	u.Path = path
	u.RawQuery = q.Encode()
	return u.String()
}

// DownloadURL returns the URL asking the server to generate size bytes.
func (e *Endpoint) DownloadURL(size int64, mid string) string {
	q := url.Values{}
	q.Set("bytes", fmt.Sprint(size))
	q.Set("mid", mid)
	return e.urlFor(e.DownloadPath, q)
}

// UploadURL returns the URL accepting an uploaded payload.
func (e *Endpoint) UploadURL(mid string) string {
	q := url.Values{}
	q.Set("mid", mid)
	return e.urlFor(e.UploadPath, q)
}

// LatencyURL returns the URL for a minimal round-trip probe.
func (e *Endpoint) LatencyURL(mid string) string {
	if e.LatencyPath != "" {
		q := url.Values{}
		q.Set("mid", mid)
		return e.urlFor(e.LatencyPath, q)
	}
	return e.DownloadURL(0, mid)
}
