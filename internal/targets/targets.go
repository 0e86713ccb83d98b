// Package targets selects a reachable endpoint from the configured target
// set. Reachability results are cached with a TTL so repeated runs in the
// same process skip re-probing recently checked endpoints.
package targets

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jellydator/ttlcache/v3"
	"github.com/wanprobe/wanprobe/internal/transport"
	"github.com/wanprobe/wanprobe/pkg/model"
)

// DefaultTTL is how long a reachability verdict stays valid.
const DefaultTTL = 1 * time.Minute

// Picker probes candidate endpoints and remembers the verdicts.
type Picker struct {
	cache *ttlcache.Cache[string, bool]
}

// NewPicker returns a Picker whose verdicts expire after ttl.
func NewPicker(ttl time.Duration) *Picker {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, bool](ttl),
		ttlcache.WithDisableTouchOnHit[string, bool](),
	)
	go cache.Start()
	return &Picker{cache: cache}
}

// Close stops the cache's cleanup goroutine.
func (p *Picker) Close() {
	p.cache.Stop()
}

// Pick returns the first client whose endpoint answers a probe, trying
// candidates in order. If every candidate is unreachable it returns
// model.ErrNoTargets.
func (p *Picker) Pick(ctx context.Context, clients []*transport.Client) (*transport.Client, error) {
	for _, c := range clients {
		host := c.Endpoint().BaseURL.Host
		if item := p.cache.Get(host); item != nil {
			if item.Value() {
				return c, nil
			}
			continue
		}
		s := c.Probe(ctx)
		p.cache.Set(host, s.OK(), ttlcache.DefaultTTL)
		if s.OK() {
			log.Debug("endpoint reachable", "host", host, "rtt", s.RTT())
			return c, nil
		}
		log.Warn("endpoint unreachable", "host", host, "outcome", s.Outcome)
	}
	return nil, model.ErrNoTargets
}
