// Package probe performs single HTTP reachability checks.
package probe

import (
	"context"
	"io"
	"net/http"
	"time"
)

// StatusUnreachable is recorded when no HTTP response was received: network
// error, timeout, bad URL or malformed response. It is never a real HTTP status.
const StatusUnreachable = 0

const userAgent = "updown/1.0 (+uptime monitor)"

// Prober reduces one request against url to a status code.
type Prober interface {
	Probe(ctx context.Context, url string) int
}

type HTTPProber struct {
	Client *http.Client
}

// NewHTTPProber returns a prober whose requests give up after timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		Client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Probe issues one GET. It never retries; the next tick is the retry.
func (p *HTTPProber) Probe(ctx context.Context, url string) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StatusUnreachable
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.Client.Do(req)
	if err != nil {
		return StatusUnreachable
	}
	defer resp.Body.Close()
	// Drain a little so the connection can be reused.
	_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)

	return resp.StatusCode
}
