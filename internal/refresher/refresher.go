// Package refresher keeps the cache from going permanently stale. On a
// cron schedule it gathers every id the cache knows about, asks the TTL
// tracker which of them have aged out, and refreshes those in chunks.
// A sweep that partially fails logs and moves on; the next tick retries.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quillsocial/quill/internal/store"
	"github.com/quillsocial/quill/internal/ttl"
)

// ErrStopped is returned by Start on a refresher that was already
// stopped. A stopped refresher is not restartable.
var ErrStopped = errors.New("refresher: stopped")

const (
	// DefaultSchedule sweeps every five minutes, matching the default
	// freshness window so an untouched id is refreshed roughly once
	// per window.
	DefaultSchedule = "*/5 * * * *"

	// DefaultChunkSize bounds one refresh batch so a large stale
	// backlog does not turn into one huge upstream request.
	DefaultChunkSize = 25

	sweepTimeout = 5 * time.Minute
)

// Refresher runs the periodic staleness sweep.
type Refresher struct {
	store    *store.Store
	tracker  *ttl.Tracker
	maxAge   time.Duration
	viewerID string
	schedule string
	chunk    int
	log      *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	stopped bool
}

type Option func(*Refresher)

// WithSchedule overrides the cron expression (standard 5-field format).
func WithSchedule(schedule string) Option {
	return func(r *Refresher) { r.schedule = schedule }
}

// WithChunkSize overrides how many stale ids one refresh call covers.
// Values below 1 fall back to the default.
func WithChunkSize(n int) Option {
	return func(r *Refresher) { r.chunk = n }
}

// WithLogger sets the sweep logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Refresher) { r.log = log }
}

// New creates a refresher. maxAge is the freshness window applied to
// every tracked id; viewerID scopes the refreshed relationship data.
func New(st *store.Store, tracker *ttl.Tracker, maxAge time.Duration, viewerID string, opts ...Option) *Refresher {
	r := &Refresher{
		store:    st,
		tracker:  tracker,
		maxAge:   maxAge,
		viewerID: viewerID,
		schedule: DefaultSchedule,
		chunk:    DefaultChunkSize,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.chunk < 1 {
		r.chunk = DefaultChunkSize
	}
	return r
}

// Start schedules the sweep and returns immediately. The first sweep
// runs at the first cron tick, not at Start.
func (r *Refresher) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	if r.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, r.tick); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.log.Info("refresher started", "schedule", r.schedule, "max_age", r.maxAge)
	return nil
}

// Stop cancels the schedule and waits for an in-flight sweep to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.stopped = true
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		r.log.Info("refresher stopped")
	}
}

func (r *Refresher) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if err := r.Sweep(ctx); err != nil {
		r.log.Warn("sweep failed", "error", err)
	}
}

// Sweep runs one full staleness pass: every id with a TTL record plus
// every cached stream member, stale ones refreshed in chunks. Chunk
// failures are logged and skipped so one bad id cannot starve the rest;
// only failure to even enumerate the candidates is returned.
func (r *Refresher) Sweep(ctx context.Context) error {
	tracked, err := r.store.AllTTLIDs(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	members, err := r.store.AllStreamMemberIDs(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	candidates := mergeUnique(tracked, members)
	stale, err := r.tracker.FindStaleIDs(ctx, candidates, r.maxAge)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	if len(stale) == 0 {
		r.log.Debug("sweep found nothing stale", "candidates", len(candidates))
		return nil
	}

	r.log.Debug("sweep refreshing", "stale", len(stale), "candidates", len(candidates))
	for start := 0; start < len(stale); start += r.chunk {
		end := start + r.chunk
		if end > len(stale) {
			end = len(stale)
		}
		if err := r.tracker.ForceRefresh(ctx, stale[start:end], r.viewerID); err != nil {
			r.log.Warn("sweep chunk failed", "from", stale[start], "size", end-start, "error", err)
		}
	}
	return nil
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, ids := range [][]string{a, b} {
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
