package targets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wanprobe/wanprobe/internal/transport"
	"github.com/wanprobe/wanprobe/pkg/model"
)

func newClient(t *testing.T, base string) *transport.Client {
	t.Helper()
	e, err := transport.ParseEndpoint(base)
	if err != nil {
		t.Fatalf("ParseEndpoint() error: %v", err)
	}
	return transport.New(e, nil, "test-mid")
}

func TestPicker_Pick(t *testing.T) {
	var hits atomic.Int32
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer live.Close()
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	p := NewPicker(DefaultTTL)
	defer p.Close()

	clients := []*transport.Client{newClient(t, dead.URL), newClient(t, live.URL)}
	picked, err := p.Pick(context.Background(), clients)
	if err != nil {
		t.Fatalf("Pick() error: %v", err)
	}
	if picked != clients[1] {
		t.Errorf("picked the wrong client: %s", picked.Endpoint().BaseURL)
	}
	if hits.Load() != 1 {
		t.Errorf("live endpoint probed %d times, want 1", hits.Load())
	}

	// A second pick must answer from the cache without re-probing.
	picked, err = p.Pick(context.Background(), clients)
	if err != nil {
		t.Fatalf("Pick() error on cached verdicts: %v", err)
	}
	if picked != clients[1] {
		t.Errorf("cached pick chose the wrong client: %s", picked.Endpoint().BaseURL)
	}
	if hits.Load() != 1 {
		t.Errorf("cached verdict not used: %d probes", hits.Load())
	}
}

func TestPicker_NoTargets(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	p := NewPicker(time.Minute)
	defer p.Close()

	_, err := p.Pick(context.Background(), []*transport.Client{newClient(t, dead.URL)})
	if !errors.Is(err, model.ErrNoTargets) {
		t.Errorf("expected ErrNoTargets, got %v", err)
	}
}
