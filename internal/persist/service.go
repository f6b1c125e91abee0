// Package persist is the sole write path from remote response shapes to
// local store rows. Each entity family fans into per-field-group bulk
// saves (details, counts, relationships, tags) that run concurrently;
// the operation completes only when all of them have, and any one
// failure fails the whole call. There is no automatic rollback across
// field groups - the cache is re-derivable from the remote source, and a
// TTL-driven refresh repairs a torn write.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/quillsocial/quill/internal/metrics"
	"github.com/quillsocial/quill/internal/model"
	"github.com/quillsocial/quill/internal/store"
)

// Service performs bulk ingestion into the local store.
type Service struct {
	store *store.Store
	log   *slog.Logger
	met   *metrics.Metrics
	now   func() int64 // epoch millis for stream upserts
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithMetrics sets the service counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.met = m }
}

// WithNow overrides the wall clock (tests).
func WithNow(now func() int64) Option {
	return func(s *Service) { s.now = now }
}

// New creates a persistence service over st.
func New(st *store.Store, opts ...Option) *Service {
	s := &Service{store: st, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StreamWrite is one named stream's page of ids to upsert.
type StreamWrite struct {
	StreamID string
	IDs      []string
}

// Bootstrap is the initial full-state payload.
type Bootstrap struct {
	Users []model.Entity
	Posts []model.Entity
	Lists []StreamWrite
}

// PersistEntities writes a batch of one family's entities: four bulk
// saves (details, counts, relationships, tags) issued concurrently, each
// all-or-nothing per table. For posts the id must be composite and the
// author field is stripped from the stored details - the id already
// encodes it, and storing it twice invites drift.
func (s *Service) PersistEntities(ctx context.Context, family model.Family, entities []model.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	details := make([]store.Row, 0, len(entities))
	counts := make([]store.Row, 0, len(entities))
	relationships := make([]store.Row, 0, len(entities))
	tags := make([]store.Row, 0, len(entities))

	for _, e := range entities {
		if family == model.FamilyPost {
			if _, err := model.ParsePostID(e.ID); err != nil {
				return fmt.Errorf("persist posts: %w", err)
			}
		}

		detailsPayload, err := detailsPayloadFor(family, e)
		if err != nil {
			return fmt.Errorf("persist %ss: id %s: %w", family, e.ID, err)
		}
		details = append(details, store.Row{ID: e.ID, Payload: detailsPayload})
		counts = append(counts, store.Row{ID: e.ID, Payload: rawOrEmpty(e.Counts)})
		relationships = append(relationships, store.Row{ID: e.ID, Payload: rawOrEmpty(e.Relationships)})

		tagsPayload, err := json.Marshal(e.Tags)
		if err != nil {
			return fmt.Errorf("persist %ss: id %s: encode tags: %w", family, e.ID, err)
		}
		tags = append(tags, store.Row{ID: e.ID, Payload: string(tagsPayload)})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.store.BulkSave(gctx, store.DetailsTable(family), details) })
	g.Go(func() error { return s.store.BulkSave(gctx, store.CountsTable(family), counts) })
	g.Go(func() error { return s.store.BulkSave(gctx, store.RelationshipsTable(family), relationships) })
	g.Go(func() error { return s.store.BulkSave(gctx, store.TagsTable(family), tags) })

	if err := g.Wait(); err != nil {
		s.met.PersistFailed()
		return fmt.Errorf("persist %ss: %w", family, err)
	}

	s.log.Debug("persisted entities", "family", family, "count", len(entities))
	return nil
}

// PersistFiles writes attachment metadata.
func (s *Service) PersistFiles(ctx context.Context, files []model.File) error {
	if len(files) == 0 {
		return nil
	}

	rows := make([]store.Row, 0, len(files))
	for _, f := range files {
		payload, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("persist files: id %s: %w", f.ID, err)
		}
		rows = append(rows, store.Row{ID: f.ID, Payload: string(payload)})
	}

	if err := s.store.BulkSave(ctx, store.TableFiles, rows); err != nil {
		s.met.PersistFailed()
		return fmt.Errorf("persist files: %w", err)
	}
	return nil
}

// PersistStreams upserts multiple named streams concurrently.
func (s *Service) PersistStreams(ctx context.Context, lists []StreamWrite) error {
	if len(lists) == 0 {
		return nil
	}

	at := s.nowMillis()
	g, gctx := errgroup.WithContext(ctx)
	for _, list := range lists {
		list := list
		g.Go(func() error {
			_, err := s.store.UpsertStreamIDs(gctx, list.StreamID, list.IDs, at)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.met.PersistFailed()
		return fmt.Errorf("persist streams: %w", err)
	}
	return nil
}

// PersistBootstrap writes the initial full-state load: users, posts, and
// stream lists, with the three legs running concurrently.
func (s *Service) PersistBootstrap(ctx context.Context, data Bootstrap) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.PersistEntities(gctx, model.FamilyUser, data.Users) })
	g.Go(func() error { return s.PersistEntities(gctx, model.FamilyPost, data.Posts) })
	g.Go(func() error { return s.PersistStreams(gctx, data.Lists) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("persist bootstrap: %w", err)
	}
	return nil
}

func (s *Service) nowMillis() int64 {
	if s.now != nil {
		return s.now()
	}
	return nowMillis()
}

// detailsPayloadFor normalizes the details payload for storage. Post
// details drop the embedded author field.
func detailsPayloadFor(family model.Family, e model.Entity) (string, error) {
	if family != model.FamilyPost {
		return rawOrEmpty(e.Details), nil
	}

	var fields map[string]json.RawMessage
	if len(e.Details) == 0 {
		return "{}", nil
	}
	if err := json.Unmarshal(e.Details, &fields); err != nil {
		return "", fmt.Errorf("decode details: %w", err)
	}
	delete(fields, "author")
	out, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode details: %w", err)
	}
	return string(out), nil
}

func rawOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
