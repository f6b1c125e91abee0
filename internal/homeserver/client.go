// Package homeserver is the write-through client for authoritative
// mutation persistence. The contract is one idempotent call: request an
// action (PUT or DELETE) against a URL with an optional JSON body; any
// non-success status rejects. Callers never inspect status codes beyond
// success/failure.
package homeserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// Action is the HTTP verb of a write-through request.
type Action string

const (
	ActionPut    Action = http.MethodPut
	ActionDelete Action = http.MethodDelete
)

// Client is the write-through surface the mutation layer consumes.
type Client interface {
	Request(ctx context.Context, action Action, path string, body any) error
}

// HTTPClient performs write-through requests against a homeserver, with
// a per-request correlation id in X-Request-Id and on the log line.
type HTTPClient struct {
	base   *url.URL
	client *http.Client
	log    *slog.Logger
}

// NewHTTPClient creates a client for the given base URL. httpClient and
// log may be nil.
func NewHTTPClient(baseURL string, httpClient *http.Client, log *slog.Logger) (*HTTPClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("homeserver base url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &HTTPClient{base: base, client: httpClient, log: log}, nil
}

// Request performs one write-through call. A nil body sends no payload.
func (c *HTTPClient) Request(ctx context.Context, action Action, path string, body any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("homeserver path %q: %w", path, err)
	}
	u := c.base.ResolveReference(ref)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("homeserver encode body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, string(action), u.String(), reader)
	if err != nil {
		return fmt.Errorf("homeserver build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Debug("homeserver request", "action", action, "path", u.Path, "request_id", requestID)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("homeserver %s %s: %w", action, u.Path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("homeserver %s %s: status %d (request_id=%s)", action, u.Path, resp.StatusCode, requestID)
	}
	return nil
}
