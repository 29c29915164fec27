package ai

import (
	"context"
	"net/http"
	"strings"
)

// Ping checks that the inference endpoint answers 200 on /ping or, failing
// that, on its root.
func (c *Client) Ping(ctx context.Context, endpoint string) error {
	base := strings.TrimRight(endpoint, "/")

	var lastErr error
	for _, path := range []string{"/ping", "/"} {
		err := c.get(ctx, endpoint, base+path)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (c *Client) get(ctx context.Context, endpoint, url string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &TransportError{Endpoint: endpoint, Cause: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Endpoint: endpoint, Cause: err}
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ServerError{StatusCode: resp.StatusCode}
	}
	return nil
}
