// Package netx builds the network substrate for measurement transfers:
// dialers and HTTP transports optionally bound to a specific local source
// address, for multi-WAN, VPN and proxy setups.
package netx

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/wanprobe/wanprobe/pkg/model"
)

// Binding restricts outbound connections to a local source address. It is
// resolved once by the caller (interface-name resolution is not this
// package's job) and never mutated, so it is safe for concurrent reads by
// all workers. A nil *Binding means default routing.
type Binding struct {
	// Addr is the local source IP to bind outgoing sockets to.
	Addr net.IP
	// Interface is the name the address was resolved from, if any. It is
	// carried for reporting only.
	Interface string
}

// String returns a loggable description of the binding.
func (b *Binding) String() string {
	if b == nil {
		return "default"
	}
	if b.Interface != "" {
		return fmt.Sprintf("%s (%s)", b.Addr, b.Interface)
	}
	return b.Addr.String()
}

// Validate checks that the binding's address can actually be bound on this
// host, without sending any traffic. A binding that does not validate must
// fail the run before any phase executes.
func (b *Binding) Validate() error {
	if b == nil {
		return nil
	}
	if b.Addr == nil {
		return fmt.Errorf("%w: no address", model.ErrBindFailed)
	}
	l, err := net.ListenTCP("tcp", &net.TCPAddr{IP: b.Addr})
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrBindFailed, err)
	}
	return l.Close()
}

// Dialer returns a net.Dialer whose outgoing sockets are bound to the
// binding's source address before connecting.
func (b *Binding) Dialer(timeout time.Duration) *net.Dialer {
	d := &net.Dialer{Timeout: timeout}
	if b != nil {
		d.LocalAddr = &net.TCPAddr{IP: b.Addr}
	}
	return d
}

// DialTimeout bounds connection establishment for all transfers.
const DialTimeout = 10 * time.Second

// NewHTTPTransport returns an HTTP transport dialing through the binding.
// Transports with keepalives disabled open a fresh connection per request,
// which latency probes require: a reused connection would measure head-of-
// line blocking behind a saturating transfer instead of queueing delay.
func NewHTTPTransport(b *Binding, noVerify bool, keepalives bool) *http.Transport {
	dialer := b.Dialer(DialTimeout)
	return &http.Transport{
		DialContext:         dialer.DialContext,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: noVerify},
		DisableKeepAlives:   !keepalives,
		MaxIdleConnsPerHost: 32,
	}
}
