package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/wanprobe/wanprobe/pkg/model"
	"github.com/wanprobe/wanprobe/pkg/spec"
)

func TestParseEndpoint(t *testing.T) {
	e, err := ParseEndpoint("https://speed.example.net:8443")
	if err != nil {
		t.Fatalf("ParseEndpoint() error: %v", err)
	}
	if e.DownloadPath != spec.DefaultDownloadPath || e.UploadPath != spec.DefaultUploadPath {
		t.Errorf("default paths not applied: %+v", e)
	}
	if e.Timeout != spec.DefaultRequestTimeout {
		t.Errorf("default timeout not applied: %s", e.Timeout)
	}

	for _, bad := range []string{"ftp://example.net", "example.net", ""} {
		if _, err := ParseEndpoint(bad); err == nil {
			t.Errorf("ParseEndpoint(%q) succeeded, want error", bad)
		}
	}
}

func TestEndpoint_URLs(t *testing.T) {
	e, err := ParseEndpoint("http://example.net")
	if err != nil {
		t.Fatalf("ParseEndpoint() error: %v", err)
	}
	down := e.DownloadURL(1000, "mid-1")
	if down != "http://example.net"+spec.DefaultDownloadPath+"?bytes=1000&mid=mid-1" {
		t.Errorf("wrong download URL: %s", down)
	}
	// Without a dedicated latency path, probes use a zero-byte download.
	if got, want := e.LatencyURL("mid-1"), e.DownloadURL(0, "mid-1"); got != want {
		t.Errorf("wrong latency URL: got %s, want %s", got, want)
	}
	e.LatencyPath = "/ping"
	if got := e.LatencyURL("mid-1"); got != "http://example.net/ping?mid=mid-1" {
		t.Errorf("wrong latency URL: %s", got)
	}
}

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	e, err := ParseEndpoint(srv.URL)
	if err != nil {
		t.Fatalf("ParseEndpoint() error: %v", err)
	}
	return New(e, nil, "test-mid"), srv
}

// runTransfer drives a transfer while draining its samples channel, as the
// load generator does.
func runTransfer(fn func(chan<- model.TimingSample) error) ([]model.TimingSample, error) {
	ch := make(chan model.TimingSample)
	var samples []model.TimingSample
	done := make(chan struct{})
	go func() {
		for s := range ch {
			samples = append(samples, s)
		}
		close(done)
	}()
	err := fn(ch)
	close(ch)
	<-done
	return samples, err
}

func TestClient_Probe(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("mid") != "test-mid" {
			t.Errorf("probe request missing measurement ID: %s", r.URL)
		}
	}))
	s := c.Probe(context.Background())
	if s.Outcome != model.OutcomeSuccess {
		t.Fatalf("wrong probe outcome: %s", s.Outcome)
	}
	if s.RTT() <= 0 {
		t.Errorf("non-positive probe RTT: %s", s.RTT())
	}
}

func TestClient_Probe_BadStatus(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	if s := c.Probe(context.Background()); s.Outcome != model.OutcomeConnectionError {
		t.Errorf("wrong probe outcome for 500: %s", s.Outcome)
	}
}

func TestClient_Probe_Unreachable(t *testing.T) {
	c, srv := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	if s := c.Probe(context.Background()); s.Outcome != model.OutcomeConnectionError {
		t.Errorf("wrong probe outcome for closed server: %s", s.Outcome)
	}
}

func TestClient_Download(t *testing.T) {
	const size = 500_000
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.ParseInt(r.URL.Query().Get("bytes"), 10, 64)
		if err != nil {
			t.Errorf("bad bytes parameter: %v", err)
		}
		io.CopyN(w, zeroReader{}, n)
	}))

	samples, err := runTransfer(func(ch chan<- model.TimingSample) error {
		return c.Download(context.Background(), size, ch)
	})
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	var total int64
	for _, s := range samples {
		if s.Outcome != model.OutcomeSuccess {
			t.Errorf("unexpected sample outcome: %s", s.Outcome)
		}
		total += s.Bytes
	}
	if total != size {
		t.Errorf("sample bytes do not cover the payload: got %d, want %d", total, size)
	}
}

func TestClient_Download_ServerBusy(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	_, err := runTransfer(func(ch chan<- model.TimingSample) error {
		return c.Download(context.Background(), 1000, ch)
	})
	if !errors.Is(err, ErrServerBusy) {
		t.Errorf("expected ErrServerBusy, got %v", err)
	}
}

func TestClient_Download_PartialOnTimeout(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 10_000))
		w.(http.Flusher).Flush()
		time.Sleep(time.Second)
	}))
	c.endpoint.Timeout = 100 * time.Millisecond

	samples, err := runTransfer(func(ch chan<- model.TimingSample) error {
		return c.Download(context.Background(), 1_000_000, ch)
	})
	if err == nil {
		t.Fatal("expected an error from a stalled transfer")
	}
	if len(samples) == 0 {
		t.Fatal("partial transfer emitted no samples")
	}
	last := samples[len(samples)-1]
	if last.Outcome != model.OutcomeTimeout {
		t.Errorf("wrong final outcome: got %s, want %s", last.Outcome, model.OutcomeTimeout)
	}
	var total int64
	for _, s := range samples {
		total += s.Bytes
	}
	if total != 10_000 {
		t.Errorf("partial bytes not accounted: got %d, want 10000", total)
	}
}

func TestClient_Download_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1000))
		w.(http.Flusher).Flush()
		cancel()
		time.Sleep(time.Second)
	}))

	samples, err := runTransfer(func(ch chan<- model.TimingSample) error {
		return c.Download(ctx, 1_000_000, ch)
	})
	if err == nil {
		t.Fatal("expected an error from a cancelled transfer")
	}
	if len(samples) == 0 {
		t.Fatal("cancelled transfer emitted no samples")
	}
	if last := samples[len(samples)-1]; last.Outcome != model.OutcomeCancelled {
		t.Errorf("wrong final outcome: got %s, want %s", last.Outcome, model.OutcomeCancelled)
	}
}

func TestClient_Upload(t *testing.T) {
	const size = 300_000
	var received int64
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := io.Copy(io.Discard, r.Body)
		if err != nil {
			t.Errorf("reading upload body: %v", err)
		}
		received = n
	}))

	samples, err := runTransfer(func(ch chan<- model.TimingSample) error {
		return c.Upload(context.Background(), size, ch)
	})
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if received != size {
		t.Errorf("server received %d bytes, want %d", received, size)
	}
	var total int64
	for _, s := range samples {
		total += s.Bytes
	}
	if total != size {
		t.Errorf("sample bytes do not cover the payload: got %d, want %d", total, size)
	}
}

func TestClient_Upload_ServerBusy(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	_, err := runTransfer(func(ch chan<- model.TimingSample) error {
		return c.Upload(context.Background(), 1000, ch)
	})
	if !errors.Is(err, ErrServerBusy) {
		t.Errorf("expected ErrServerBusy, got %v", err)
	}
}

// zeroReader is an endless stream of zero bytes.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func ExampleEndpoint_DownloadURL() {
	e, _ := ParseEndpoint("https://speed.example.net")
	fmt.Println(e.DownloadURL(1<<20, "a1b2"))
	// Output: https://speed.example.net/wanprobe/v1/down?bytes=1048576&mid=a1b2
}
