// Package nexus is the client for the remote content API: entity details
// by id, stream pages by cursor, and file metadata by id. The engine
// depends only on the Client interface; the HTTP implementation carries
// no retry or backoff (retry policy belongs to the caller, and the batch
// layer's next-access-refetches behavior is the passive retry).
package nexus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/quillsocial/quill/internal/model"
)

// Cursor is the remote pagination position. Offset-mode stream kinds use
// Offset (item count so far); time-mode kinds use Since (epoch millis of
// the last seen item).
type Cursor struct {
	Offset int
	Since  int64
}

// Page is one stream page from the remote API. An empty IDs slice is the
// authoritative end-of-stream signal.
type Page struct {
	IDs []string `json:"ids"`
}

// Client is the content-API surface the engine consumes.
type Client interface {
	// FetchEntitiesByIDs returns full entity records for ids, in no
	// guaranteed order; ids the remote no longer knows are simply absent
	// from the result. Must tolerate (and short-circuit) empty input.
	FetchEntitiesByIDs(ctx context.Context, ids []string, viewerID string) ([]model.Entity, error)

	// FetchStreamPage returns up to limit ids of a stream after cursor.
	FetchStreamPage(ctx context.Context, streamID string, cursor Cursor, limit int, viewerID string) (Page, error)

	// FetchFilesByIDs returns attachment metadata for file ids.
	FetchFilesByIDs(ctx context.Context, ids []string) ([]model.File, error)
}

// HTTPClient talks to a Nexus instance over HTTP with JSON bodies.
type HTTPClient struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPClient creates a client for the given base URL. httpClient may
// be nil, in which case http.DefaultClient is used (timeouts are the
// transport's concern, not modeled here).
func NewHTTPClient(baseURL string, httpClient *http.Client) (*HTTPClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("nexus base url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{base: base, client: httpClient}, nil
}

func (c *HTTPClient) FetchEntitiesByIDs(ctx context.Context, ids []string, viewerID string) ([]model.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	body := struct {
		IDs      []string `json:"ids"`
		ViewerID string   `json:"viewer_id,omitempty"`
	}{IDs: ids, ViewerID: viewerID}

	var entities []model.Entity
	if err := c.post(ctx, "/v0/entities", body, &entities); err != nil {
		return nil, fmt.Errorf("fetch entities (%d ids): %w", len(ids), err)
	}
	return entities, nil
}

func (c *HTTPClient) FetchStreamPage(ctx context.Context, streamID string, cursor Cursor, limit int, viewerID string) (Page, error) {
	q := url.Values{}
	switch model.StreamKindOf(streamID).CursorMode {
	case model.CursorByTime:
		q.Set("since", strconv.FormatInt(cursor.Since, 10))
	default:
		q.Set("skip", strconv.Itoa(cursor.Offset))
	}
	q.Set("limit", strconv.Itoa(limit))
	if viewerID != "" {
		q.Set("viewer_id", viewerID)
	}

	var page Page
	path := "/v0/streams/" + url.PathEscape(streamID) + "?" + q.Encode()
	if err := c.get(ctx, path, &page); err != nil {
		return Page{}, fmt.Errorf("fetch stream %s page: %w", streamID, err)
	}
	return page, nil
}

func (c *HTTPClient) FetchFilesByIDs(ctx context.Context, ids []string) ([]model.File, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	body := struct {
		IDs []string `json:"ids"`
	}{IDs: ids}

	var files []model.File
	if err := c.post(ctx, "/v0/files", body, &files); err != nil {
		return nil, fmt.Errorf("fetch files (%d ids): %w", len(ids), err)
	}
	return files, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, encoded, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("request path %q: %w", path, err)
	}
	u := c.base.ResolveReference(ref)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d", method, u.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
