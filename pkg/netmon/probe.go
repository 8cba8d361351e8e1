package netmon

import (
	"context"
	"net/http"
	"time"
)

// HTTPProbe checks connectivity by fetching the remote health endpoint.
type HTTPProbe struct {
	// URL is the full health URL (e.g. "https://api.example.org/health")
	URL string

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHTTPProbe creates a probe against url.
func NewHTTPProbe(url string) *HTTPProbe {
	return &HTTPProbe{
		URL: url,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Check performs one probe. Any 2xx-3xx response counts as online; a
// transport error or server error means the API is unusable and the
// agent should behave as offline.
func (p *HTTPProbe) Check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode <= 399
}
