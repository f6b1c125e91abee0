package ttl

import (
	"context"

	"github.com/quillsocial/quill/internal/batch"
	"github.com/quillsocial/quill/internal/model"
	"github.com/quillsocial/quill/internal/store"
)

// Hydrator coalesces entity hydration requests through a batch queue:
// many concurrent stream consumers asking for overlapping ids share one
// ForceRefresh call per debounce window. The per-key result is the
// entity's details payload read back from the store, so "batch failed"
// surfaces as an absent result, never an error.
//
// One hydrator per viewer lifetime; Close on teardown.
type Hydrator struct {
	queue *batch.Queue[string, string]
}

// NewHydrator builds the hydration queue on top of a tracker. opts are
// passed through to the underlying queue (delay, logger, metrics).
func NewHydrator(tracker *Tracker, viewerID string, opts ...batch.Option[string, string]) *Hydrator {
	execute := func(ctx context.Context, ids []string) (map[string]string, error) {
		return nil, tracker.ForceRefresh(ctx, ids, viewerID)
	}
	lookup := func(ctx context.Context, id string) (string, bool) {
		table := store.DetailsTable(model.FamilyOf(id))
		payload, found, err := tracker.store.FindByID(ctx, table, id)
		if err != nil || !found {
			return "", false
		}
		return payload, true
	}
	opts = append([]batch.Option[string, string]{batch.WithLookup(lookup)}, opts...)
	return &Hydrator{queue: batch.New("entity-hydration", execute, opts...)}
}

// Hydrate requests one entity's details, coalescing with concurrent
// requests. ok=false means the refresh produced nothing for this id.
func (h *Hydrator) Hydrate(ctx context.Context, id string) (string, bool, error) {
	return h.queue.Enqueue(ctx, id)
}

// HydrateAll requests a set of ids and waits for the covering batches.
func (h *Hydrator) HydrateAll(ctx context.Context, ids []string) error {
	return h.queue.EnqueueMany(ctx, ids)
}

// Close discards the queue's pending state.
func (h *Hydrator) Close() {
	h.queue.Close()
}
