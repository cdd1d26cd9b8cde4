package sync

import (
	"context"
	"net/http"
	"time"
)

// HealthProber answers whether the cloud endpoint is currently reachable.
// A negative answer skips the whole sync cycle; it is not an error.
type HealthProber struct {
	url    string
	client *http.Client
}

// NewHealthProber probes baseURL + "/health" with the given timeout.
func NewHealthProber(baseURL string, timeout time.Duration) *HealthProber {
	return &HealthProber{
		url:    baseURL + "/health",
		client: &http.Client{Timeout: timeout},
	}
}

// Reachable performs a single GET against the health endpoint. Any transport
// error or non-2xx status counts as unreachable.
func (p *HealthProber) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
