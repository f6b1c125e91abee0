// Package ttl tracks entity staleness and drives forced refresh.
//
// Every successful entity fetch stamps a last-confirmed-fresh time per
// id. An id with no stamp has never been confirmed and is stale by
// definition; an id whose stamp is older than the caller's max age is
// stale again. Staleness checks are pure store reads, cheap enough to
// run on every render-triggering read; refresh is the only network path.
package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quillsocial/quill/internal/metrics"
	"github.com/quillsocial/quill/internal/model"
	"github.com/quillsocial/quill/internal/nexus"
	"github.com/quillsocial/quill/internal/persist"
	"github.com/quillsocial/quill/internal/store"
)

// Tracker classifies entity staleness and performs forced refresh.
type Tracker struct {
	store   *store.Store
	client  nexus.Client
	persist *persist.Service
	log     *slog.Logger
	met     *metrics.Metrics
	now     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(log *slog.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

// WithMetrics sets the tracker counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.met = m }
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a tracker over the store, content client, and persistence
// service.
func New(st *store.Store, client nexus.Client, svc *persist.Service, opts ...Option) *Tracker {
	t := &Tracker{store: st, client: client, persist: svc, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FindStaleIDs returns the subset of ids that are stale against maxAge:
// ids with no TTL record, or whose last confirmed fetch is older than
// maxAge. Order of the result is not significant. No network access.
func (t *Tracker) FindStaleIDs(ctx context.Context, ids []string, maxAge time.Duration) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	stamps, err := t.store.ReadTTLs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find stale ids: %w", err)
	}

	cutoff := t.now().UnixMilli() - maxAge.Milliseconds()
	stale := []string{}
	for _, id := range ids {
		at, confirmed := stamps[id]
		if !confirmed || at < cutoff {
			stale = append(stale, id)
		}
	}
	t.met.TTLStale(len(stale))
	return stale, nil
}

// ForceRefresh unconditionally re-fetches ids from the content API in
// one batched call, bulk-persists the returned entities, hydrates file
// attachments referenced by returned posts, and then stamps a fresh TTL
// record for every id the remote actually returned.
//
// Ids the remote omitted get no stamp: they stay stale and are retried
// on next access instead of masquerading as confirmed-fresh-but-empty.
// Any failure before the stamp step leaves no stamps at all - the
// confirm-fresh signal is atomic with successful retrieval.
func (t *Tracker) ForceRefresh(ctx context.Context, ids []string, viewerID string) error {
	if len(ids) == 0 {
		return nil
	}

	entities, err := t.client.FetchEntitiesByIDs(ctx, ids, viewerID)
	if err != nil {
		return fmt.Errorf("force refresh (%d ids): %w", len(ids), err)
	}

	var users, posts []model.Entity
	var fileRefs []string
	for _, e := range entities {
		if model.FamilyOf(e.ID) == model.FamilyPost {
			posts = append(posts, e)
			fileRefs = append(fileRefs, e.FileRefs()...)
		} else {
			users = append(users, e)
		}
	}

	if err := t.persist.PersistEntities(ctx, model.FamilyUser, users); err != nil {
		return fmt.Errorf("force refresh: %w", err)
	}
	if err := t.persist.PersistEntities(ctx, model.FamilyPost, posts); err != nil {
		return fmt.Errorf("force refresh: %w", err)
	}

	if len(fileRefs) > 0 {
		files, err := t.client.FetchFilesByIDs(ctx, dedup(fileRefs))
		if err != nil {
			return fmt.Errorf("force refresh: hydrate files: %w", err)
		}
		if err := t.persist.PersistFiles(ctx, files); err != nil {
			return fmt.Errorf("force refresh: %w", err)
		}
	}

	returned := make([]string, 0, len(entities))
	for _, e := range entities {
		returned = append(returned, e.ID)
	}
	if err := t.store.StampTTL(ctx, returned, t.now().UnixMilli()); err != nil {
		return fmt.Errorf("force refresh: %w", err)
	}

	t.met.TTLRefreshed()
	t.log.Debug("force refresh complete",
		"requested", len(ids), "returned", len(returned), "files", len(fileRefs))
	return nil
}

func dedup(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
