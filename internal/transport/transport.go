// Package transport issues individual timed HTTP transfers against the
// remote service: latency probes, sized downloads and sized uploads. Every
// transfer reports byte-for-byte progress as TimingSamples. Clients hold no
// cross-call state, so concurrent calls never share mutable data.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wanprobe/wanprobe/internal/netx"
	"github.com/wanprobe/wanprobe/pkg/model"
	"github.com/wanprobe/wanprobe/pkg/spec"
	"github.com/wanprobe/wanprobe/pkg/version"
)

const libraryName = "wanprobe-engine"

// ErrServerBusy is returned when the server asks the client to back off
// (HTTP 429). The throughput tester reacts by shrinking its payloads.
var ErrServerBusy = errors.New("server busy")

var (
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wanprobe_transfers_total",
		Help: "Transfers issued, by direction and outcome.",
	}, []string{"direction", "outcome"})
	transferBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wanprobe_transfer_bytes_total",
		Help: "Payload bytes moved, by direction.",
	}, []string{"direction"})
	probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wanprobe_probes_total",
		Help: "Latency probes issued, by outcome.",
	}, []string{"outcome"})
)

// Client performs timed transfers against one endpoint, optionally bound to
// a local source address.
type Client struct {
	endpoint *Endpoint
	mid      string

	// hc reuses connections across requests; it carries the saturating
	// streams. probeClient opens a fresh connection per request; it carries
	// latency probes.
	hc          *http.Client
	probeClient *http.Client

	userAgent string
}

// New returns a Client for the given endpoint, bound to binding. The caller
// is expected to have validated the binding already; a binding that fails at
// dial time still surfaces as a connection error, never as silent fallback
// to default routing.
func New(endpoint *Endpoint, binding *netx.Binding, mid string) *Client {
	return &Client{
		endpoint: endpoint,
		mid:      mid,
		hc: &http.Client{
			Transport: netx.NewHTTPTransport(binding, endpoint.NoVerify, true),
		},
		probeClient: &http.Client{
			Transport: netx.NewHTTPTransport(binding, endpoint.NoVerify, false),
		},
		userAgent: libraryName + "/" + version.Version,
	}
}

// Endpoint returns the endpoint this client measures against.
func (c *Client) Endpoint() *Endpoint { return c.endpoint }

// outcomeOf classifies a transfer error against the request context.
func outcomeOf(ctx context.Context, err error) model.Outcome {
	switch {
	case err == nil:
		return model.OutcomeSuccess
	case ctx.Err() == context.Canceled || errors.Is(err, context.Canceled):
		return model.OutcomeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return model.OutcomeTimeout
	default:
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return model.OutcomeTimeout
		}
		return model.OutcomeConnectionError
	}
}

// Probe issues one minimal round-trip on a fresh connection and returns its
// TimingSample. The sample's outcome reflects deadline expiry, cancellation
// or connection failure; Probe itself never fails.
func (c *Client) Probe(ctx context.Context) model.TimingSample {
	ctx, cancel := context.WithTimeout(ctx, c.endpoint.Timeout)
	defer cancel()

	start := time.Now()
	sample := func(outcome model.Outcome) model.TimingSample {
		probesTotal.WithLabelValues(string(outcome)).Inc()
		return model.TimingSample{Start: start, End: time.Now(), Outcome: outcome}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.LatencyURL(c.mid), nil)
	if err != nil {
		return sample(model.OutcomeConnectionError)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.probeClient.Do(req)
	if err != nil {
		return sample(outcomeOf(ctx, err))
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return sample(outcomeOf(ctx, err))
	}
	if resp.StatusCode != http.StatusOK {
		return sample(model.OutcomeConnectionError)
	}
	return sample(model.OutcomeSuccess)
}

// Download requests a payload of size bytes and drains it, emitting a
// checkpoint TimingSample on the samples channel at every sampling interval
// so long transfers still produce intermediate data. Each checkpoint covers
// the bytes moved since the previous one. The caller must drain samples.
//
// On deadline expiry or cancellation the partial tail is still emitted,
// tagged accordingly. The response body is closed on every exit path.
func (c *Client) Download(ctx context.Context, size int64, samples chan<- model.TimingSample) error {
	ctx, cancel := context.WithTimeout(ctx, c.endpoint.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.DownloadURL(size, c.mid), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.hc.Do(req)
	if err != nil {
		transfersTotal.WithLabelValues(string(model.DirectionDownload), string(outcomeOf(ctx, err))).Inc()
		return fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		transfersTotal.WithLabelValues(string(model.DirectionDownload), string(model.OutcomeConnectionError)).Inc()
		return ErrServerBusy
	}
	if resp.StatusCode != http.StatusOK {
		transfersTotal.WithLabelValues(string(model.DirectionDownload), string(model.OutcomeConnectionError)).Inc()
		return fmt.Errorf("download request: unexpected status %d", resp.StatusCode)
	}

	buf := make([]byte, 32*1024)
	checkpoint := time.Now()
	var window int64
	emit := func(outcome model.Outcome) {
		samples <- model.TimingSample{
			Start:   checkpoint,
			End:     time.Now(),
			Bytes:   window,
			Outcome: outcome,
		}
		checkpoint = time.Now()
		window = 0
	}

	for {
		n, err := resp.Body.Read(buf)
		window += int64(n)
		transferBytes.WithLabelValues(string(model.DirectionDownload)).Add(float64(n))
		if err == io.EOF {
			emit(model.OutcomeSuccess)
			transfersTotal.WithLabelValues(string(model.DirectionDownload), string(model.OutcomeSuccess)).Inc()
			return nil
		}
		if err != nil {
			outcome := outcomeOf(ctx, err)
			emit(outcome)
			transfersTotal.WithLabelValues(string(model.DirectionDownload), string(outcome)).Inc()
			return fmt.Errorf("download read: %w", err)
		}
		if time.Since(checkpoint) >= spec.SampleInterval {
			emit(model.OutcomeSuccess)
		}
	}
}

// Upload sends a zero-filled payload of size bytes, emitting checkpoint
// TimingSamples as bytes are handed to the connection. Byte counts are
// recorded as chunks are produced, which closely tracks bytes on the wire
// and yields a stable live rate. The caller must drain samples.
func (c *Client) Upload(ctx context.Context, size int64, samples chan<- model.TimingSample) error {
	ctx, cancel := context.WithTimeout(ctx, c.endpoint.Timeout)
	defer cancel()

	body := &uploadBody{remaining: size, samples: samples, checkpoint: time.Now()}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.UploadURL(c.mid), body)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = size

	resp, err := c.hc.Do(req)
	if err != nil {
		outcome := outcomeOf(ctx, err)
		body.flush(outcome)
		transfersTotal.WithLabelValues(string(model.DirectionUpload), string(outcome)).Inc()
		return fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		transfersTotal.WithLabelValues(string(model.DirectionUpload), string(model.OutcomeConnectionError)).Inc()
		return ErrServerBusy
	}
	if resp.StatusCode != http.StatusOK {
		transfersTotal.WithLabelValues(string(model.DirectionUpload), string(model.OutcomeConnectionError)).Inc()
		return fmt.Errorf("upload request: unexpected status %d", resp.StatusCode)
	}
	body.flush(model.OutcomeSuccess)
	transfersTotal.WithLabelValues(string(model.DirectionUpload), string(model.OutcomeSuccess)).Inc()
	transferBytes.WithLabelValues(string(model.DirectionUpload)).Add(float64(size - body.remaining))
	return nil
}

// uploadBody serves size zero-filled bytes in fixed chunks, counting them as
// produced and emitting checkpoint samples at the sampling interval.
type uploadBody struct {
	remaining  int64
	samples    chan<- model.TimingSample
	checkpoint time.Time
	window     int64
	flushed    bool
}

var zeroes = make([]byte, spec.UploadChunkSize)

func (b *uploadBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	n := len(p)
	if int64(n) > b.remaining {
		n = int(b.remaining)
	}
	if n > len(zeroes) {
		n = len(zeroes)
	}
	copy(p, zeroes[:n])
	b.remaining -= int64(n)
	b.window += int64(n)
	if time.Since(b.checkpoint) >= spec.SampleInterval {
		b.emit(model.OutcomeSuccess)
	}
	return n, nil
}

func (b *uploadBody) emit(outcome model.Outcome) {
	b.samples <- model.TimingSample{
		Start:   b.checkpoint,
		End:     time.Now(),
		Bytes:   b.window,
		Outcome: outcome,
	}
	b.checkpoint = time.Now()
	b.window = 0
}

// flush emits the final, possibly partial, window exactly once.
func (b *uploadBody) flush(outcome model.Outcome) {
	if b.flushed {
		return
	}
	b.flushed = true
	b.emit(outcome)
}
