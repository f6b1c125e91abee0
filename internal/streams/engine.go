// Package streams implements cache-first stream pagination: successive
// pages of entity ids for a streamId, served from the local store when
// its cached prefix covers the request and fetched from the content API
// otherwise.
//
// The engine deliberately does not hydrate full entity details for the
// cache-miss ids it reports - that belongs to the TTL/batch layer, so
// overlapping consumers share one coalesced detail fetch instead of each
// triggering their own.
//
// Pagination of a single stream must be driven by one logical caller
// holding its own cursor; the engine does not coordinate two independent
// paginators of the same stream.
package streams

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quillsocial/quill/internal/metrics"
	"github.com/quillsocial/quill/internal/model"
	"github.com/quillsocial/quill/internal/nexus"
	"github.com/quillsocial/quill/internal/store"
)

// Source says where a slice's ids came from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)

// Request asks for one page of a stream.
type Request struct {
	StreamID string
	Skip     int // offset into the stream's known prefix
	Limit    int
	ViewerID string
}

// Slice is one returned page.
//
// NextCursor is nil exactly when the remote signalled end-of-stream
// (an empty page); callers must stop paginating then. CacheMissIDs are
// the returned ids with no full entity record locally, for the caller to
// hand to the hydration layer.
type Slice struct {
	IDs          []string
	Source       Source
	NextCursor   *int
	CacheMissIDs []string
}

// Engine pages streams cache-first.
type Engine struct {
	store  *store.Store
	client nexus.Client
	log    *slog.Logger
	met    *metrics.Metrics
	now    func() int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics sets the engine counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.met = m }
}

// WithNow overrides the wall clock (tests).
func WithNow(now func() int64) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine over the local store and content API client.
func New(st *store.Store, client nexus.Client, opts ...Option) *Engine {
	e := &Engine{store: st, client: client, log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetOrFetchSlice returns the page [Skip, Skip+Limit) of a stream.
//
// Cache path: when the stored prefix already covers the request, the
// page is sliced locally with no remote call. Miss path: the engine
// fetches exactly the missing range, appends it to the stored prefix
// (duplicates silently dropped, order preserved), and computes the next
// cursor as the pre-fetch prefix length plus the count of ids the remote
// actually returned.
//
// A remote failure propagates; it is never converted into a false
// end-of-stream.
func (e *Engine) GetOrFetchSlice(ctx context.Context, req Request) (Slice, error) {
	if req.Limit <= 0 {
		return Slice{}, fmt.Errorf("stream %s: limit must be positive, got %d", req.StreamID, req.Limit)
	}
	if req.Skip < 0 {
		return Slice{}, fmt.Errorf("stream %s: skip must be non-negative, got %d", req.StreamID, req.Skip)
	}

	kind := model.StreamKindOf(req.StreamID)

	rec, found, err := e.store.ReadStream(ctx, req.StreamID)
	if err != nil {
		return Slice{}, err
	}
	cached := rec.IDs

	if found && len(cached) >= req.Skip+req.Limit {
		ids := append([]string{}, cached[req.Skip:req.Skip+req.Limit]...)
		misses, err := e.missingEntityIDs(ctx, ids)
		if err != nil {
			return Slice{}, err
		}
		next := req.Skip + req.Limit
		e.met.StreamCacheHit(kind.Name)
		e.log.Debug("stream page from cache", "stream", req.StreamID, "skip", req.Skip, "limit", req.Limit)
		return Slice{IDs: ids, Source: SourceCache, NextCursor: &next, CacheMissIDs: misses}, nil
	}

	// Fetch exactly the missing range. The remote cursor depends on the
	// stream kind: ranked lists page by item-count-so-far, timelines by
	// the last-seen timestamp.
	offset := len(cached)
	want := req.Skip + req.Limit - offset
	cursor := nexus.Cursor{Offset: offset}
	if kind.CursorMode == model.CursorByTime {
		cursor = nexus.Cursor{Since: rec.UpdatedAt}
	}

	e.met.StreamCacheMiss(kind.Name)
	page, err := e.client.FetchStreamPage(ctx, req.StreamID, cursor, want, req.ViewerID)
	if err != nil {
		return Slice{}, fmt.Errorf("stream %s: fetch page at %d: %w", req.StreamID, offset, err)
	}
	e.met.StreamPageFetched(kind.Name)

	merged := cached
	if len(page.IDs) > 0 {
		if _, err := e.store.UpsertStreamIDs(ctx, req.StreamID, page.IDs, e.nowMillis()); err != nil {
			return Slice{}, err
		}
		merged = mergeIDs(cached, page.IDs)
	}

	end := req.Skip + req.Limit
	if end > len(merged) {
		end = len(merged)
	}
	var ids []string
	if req.Skip < len(merged) {
		ids = append([]string{}, merged[req.Skip:end]...)
	}

	misses, err := e.missingEntityIDs(ctx, ids)
	if err != nil {
		return Slice{}, err
	}

	slice := Slice{IDs: ids, Source: SourceNetwork, CacheMissIDs: misses}
	if len(page.IDs) > 0 {
		next := offset + len(page.IDs)
		slice.NextCursor = &next
	}
	// An empty remote page is the authoritative end of stream: nil
	// cursor, caller stops paginating.

	e.log.Debug("stream page from network",
		"stream", req.StreamID, "skip", req.Skip, "limit", req.Limit,
		"fetched", len(page.IDs), "misses", len(misses))
	return slice, nil
}

// missingEntityIDs returns the subset of ids with no details row yet,
// preserving order. Streams may mix families (hot-tag lists reference
// users, timelines reference posts), so each id is checked against its
// own family's table.
func (e *Engine) missingEntityIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var users, posts []string
	for _, id := range ids {
		if model.FamilyOf(id) == model.FamilyPost {
			posts = append(posts, id)
		} else {
			users = append(users, id)
		}
	}

	missing := make(map[string]struct{})
	for family, group := range map[model.Family][]string{
		model.FamilyUser: users,
		model.FamilyPost: posts,
	} {
		gone, err := e.store.MissingIDs(ctx, store.DetailsTable(family), group)
		if err != nil {
			return nil, err
		}
		for _, id := range gone {
			missing[id] = struct{}{}
		}
	}

	out := []string{}
	for _, id := range ids {
		if _, ok := missing[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// mergeIDs mirrors the store's append-with-dedup so the engine can slice
// the merged sequence without a re-read.
func mergeIDs(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	out := append([]string{}, existing...)
	for _, id := range incoming {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (e *Engine) nowMillis() int64 {
	if e.now != nil {
		return e.now()
	}
	return nowMillis()
}
