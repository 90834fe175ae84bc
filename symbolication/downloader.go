package symbolication

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/getsentry/symbolicator-go/httpguard"
	"github.com/getsentry/symbolicator-go/pkg/middleware"
)

// HTTPDownloader is a Downloader backed by an httpguard-wrapped
// *http.Client. source is interpreted as a raw URL; untrusted sources
// (third-party symbol servers) should be constructed with trusted=false so
// the reserved-IP guard applies.
//
// hostAdmission is a second, independent throttle from httpguard's own
// per-host rate.Limiter: httpguard throttles at the dial/transport level for
// one *http.Client, while hostAdmission gates at the Download() call itself,
// keyed by the request's own host rather than the client's. It is a token
// bucket: each host may start up to maxConcurrentPerHost downloads at once,
// then maxConcurrentPerHost more per second. A finished download does not
// return its token, so this bounds the start rate per host, not the number
// of downloads in flight.
type HTTPDownloader struct {
	client        *http.Client
	hostAdmission *middleware.TokenBucket
}

// NewHTTPDownloader builds an HTTPDownloader whose client is guarded per
// cfg and trusted, per §4.D. maxConcurrentPerHost is both the burst and the
// per-second refill of each source host's admission bucket; 0 disables the
// admission gate.
func NewHTTPDownloader(cfg httpguard.Config, trusted bool, maxConcurrentPerHost int) *HTTPDownloader {
	d := &HTTPDownloader{client: httpguard.NewClient(cfg, trusted)}
	if maxConcurrentPerHost > 0 {
		d.hostAdmission = middleware.NewTokenBucket(float64(maxConcurrentPerHost), int64(maxConcurrentPerHost))
	}
	return d
}

func (d *HTTPDownloader) Download(ctx context.Context, source []byte) ([]byte, error) {
	rawURL := string(source)

	if d.hostAdmission != nil {
		host := sourceHost(rawURL)
		if !d.hostAdmission.Allow(host) {
			return nil, fmt.Errorf("symbolication: download %s: host fetch rate exceeded", rawURL)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("symbolication: download %s: unexpected status %s", rawURL, resp.Status)
	}

	return io.ReadAll(resp.Body)
}

// sourceHost extracts the admission-gate key from a source URL, falling
// back to the raw string for malformed URLs so every source still gets some
// per-key bucket rather than silently bypassing the gate.
func sourceHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
