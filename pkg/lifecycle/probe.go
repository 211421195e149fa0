package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HealthCheckResult is the outcome of a single liveness probe. It is
// transient: produced, reported, and discarded.
type HealthCheckResult struct {
	// Reachable is true when any HTTP response was received in time.
	Reachable bool `json:"reachable" yaml:"reachable"`
	// StatusCode is the HTTP status, 0 when unreachable.
	StatusCode int `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	// Latency is the time to first response.
	Latency time.Duration `json:"latency" yaml:"latency"`
	// Timestamp is when the probe was issued.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	// Err holds the transport error, if any.
	Err error `json:"-" yaml:"-"`
}

// Healthy reports whether the probe counts as success: any response with a
// 2xx status within the timeout.
func (r HealthCheckResult) Healthy() bool {
	return r.Reachable && r.StatusCode >= 200 && r.StatusCode < 300
}

// Prober issues a single bounded-time HTTP GET against the target server's
// health endpoint on localhost. One probe per invocation, no retry loop.
type Prober struct {
	url    string
	client *http.Client
}

// NewProber creates a Prober for http://localhost:<port><path>.
func NewProber(port int, path string, timeout time.Duration) *Prober {
	return &Prober{
		url:    fmt.Sprintf("http://localhost:%d%s", port, path),
		client: &http.Client{Timeout: timeout},
	}
}

// URL returns the probed endpoint.
func (p *Prober) URL() string {
	return p.url
}

// Probe performs the liveness check.
func (p *Prober) Probe(ctx context.Context) HealthCheckResult {
	result := HealthCheckResult{Timestamp: time.Now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		result.Err = err
		return result
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	result.Latency = time.Since(start)
	if err != nil {
		result.Err = err
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	result.Reachable = true
	result.StatusCode = resp.StatusCode
	return result
}
