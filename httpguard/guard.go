// Package httpguard provides outbound HTTP clients that refuse to connect to
// reserved/internal IPv4 ranges unless explicitly trusted or allow-listed.
//
// Design Notes:
//   - IPv4 only. IPv6 addresses are never blocked: there is no reliable way
//     to classify which IPv6 ranges are "internal" for an arbitrary deployer,
//     so guarding IPv6 would give a false sense of safety. Deployments that
//     need this guarantee on IPv6 must not route untrusted fetches over it.
//   - The check runs at dial time (net.Dialer.Control), after DNS resolution,
//     so DNS-rebinding against an allow-listed hostname is still caught.
//   - Trusted clients (internal-to-internal calls) and a per-deployment
//     AllowReservedIPs escape hatch both skip the guard entirely.
//
// Trade-offs:
//   - Blocking at dial time vs resolve time: dial time sees the exact
//     address the connection will use, closing the TOCTOU window a
//     resolve-then-check approach would leave open.
//   - A fixed reserved-block table vs OS-provided classification: Go's
//     net.IP has no "is this reserved" helper, so the table is maintained by
//     hand against the IANA special-purpose registry.
package httpguard

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/getsentry/symbolicator-go/metrics"
)

// reservedBlocks is the IANA-reserved IPv4 CIDR table. See
// https://en.wikipedia.org/wiki/Reserved_IP_addresses#IPv4.
var reservedBlocks = mustParseCIDRs(
	"0.0.0.0/8", "10.0.0.0/8", "100.64.0.0/10", "127.0.0.0/8", "169.254.0.0/16", "172.16.0.0/12",
	"192.0.0.0/29", "192.0.2.0/24", "192.88.99.0/24", "192.168.0.0/16", "198.18.0.0/15",
	"198.51.100.0/24", "224.0.0.0/4", "240.0.0.0/4", "255.255.255.255/32",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("httpguard: invalid reserved CIDR %q: %v", c, err))
		}
		out = append(out, n)
	}
	return out
}

// BlockedIPHook is invoked (if non-nil) every time a dial is refused because
// the target resolved to a reserved IPv4 address. It defaults to
// incrementing the §4.D http.blocked_ip counter; tests override it to
// observe blocks without a live statsd sink.
var BlockedIPHook = func() { metrics.Incr("http.blocked_ip", 1) }

// IsExternalIP reports whether ip is safe for an untrusted client to
// connect to. IPv6 addresses always return true (unguarded, see package
// doc). An IPv4 address inside reservedBlocks returns false.
func IsExternalIP(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return true
	}
	for _, block := range reservedBlocks {
		if block.Contains(v4) {
			if BlockedIPHook != nil {
				BlockedIPHook()
			}
			return false
		}
	}
	return true
}

// Config carries the deployment-level escape hatch for the guard. It
// mirrors the single knob the rest of the service needs; broader client
// tuning (timeouts, proxies) lives on the caller's http.Transport.
type Config struct {
	// AllowReservedIPs disables the guard for untrusted clients too. Useful
	// for local development against a loopback-only origin.
	AllowReservedIPs bool

	// PerHostRateLimit caps requests/second to a single host across the
	// lifetime of the returned client. Zero disables throttling.
	PerHostRateLimit rate.Limit
	PerHostBurst     int
}

// NewClient builds an *http.Client. When trusted is false and
// AllowReservedIPs is false, outbound connections to reserved IPv4 ranges
// are refused at dial time.
func NewClient(cfg Config, trusted bool) *http.Client {
	dialer := &net.Dialer{Timeout: 30 * time.Second}

	if !trusted && !cfg.AllowReservedIPs {
		dialer.Control = func(network, address string, c syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip := net.ParseIP(host)
			if ip == nil {
				return fmt.Errorf("httpguard: could not parse dial address %q", address)
			}
			if !IsExternalIP(ip) {
				return fmt.Errorf("httpguard: refusing to connect to reserved IP address %s", ip)
			}
			return nil
		}
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	var rt http.RoundTripper = transport
	if cfg.PerHostRateLimit > 0 {
		rt = &rateLimitedTransport{
			next:    transport,
			limit:   cfg.PerHostRateLimit,
			burst:   cfg.PerHostBurst,
			byHost:  map[string]*rate.Limiter{},
			makeNew: func() *rate.Limiter { return rate.NewLimiter(cfg.PerHostRateLimit, cfg.PerHostBurst) },
		}
	}

	return &http.Client{Transport: rt}
}

// rateLimitedTransport throttles outbound requests per destination host.
// Bursting through an allow-listed origin still costs real sockets on the
// far end, so this applies independently of the reserved-IP guard above.
type rateLimitedTransport struct {
	next  http.RoundTripper
	limit rate.Limit
	burst int

	mu      sync.Mutex
	byHost  map[string]*rate.Limiter
	makeNew func() *rate.Limiter
}

func (t *rateLimitedTransport) limiterFor(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.byHost[host]
	if !ok {
		l = t.makeNew()
		t.byHost[host] = l
	}
	return l
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	limiter := t.limiterFor(req.URL.Hostname())
	if err := limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}
