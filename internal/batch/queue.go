package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/quillsocial/quill/internal/metrics"
)

// ErrQueueClosed is returned by enqueues on a closed queue, and by waits
// whose batch was discarded by Close.
var ErrQueueClosed = errors.New("batch queue closed")

// DefaultDelay is the debounce window when WithDelay is not given.
const DefaultDelay = 50 * time.Millisecond

// ExecuteFunc performs the bulk fetch (or bulk side effect) for one
// batch. The returned map may be nil when results are read back through
// a LookupFunc instead.
type ExecuteFunc[K comparable, R any] func(ctx context.Context, keys []K) (map[K]R, error)

// LookupFunc is the per-key post-batch read-back, e.g. a re-read from the
// local store after the batch's bulk write. When set, it is the sole
// source of per-key results.
type LookupFunc[K comparable, R any] func(ctx context.Context, key K) (R, bool)

// Queue coalesces enqueued keys into debounced batches.
//
// Error semantics are deliberately best-effort: a failed execution never
// rejects the per-key waits. Each key still resolves through the lookup
// path, which legitimately reports "nothing landed" as a missing value.
// Callers that need the failure signal must let the execute func surface
// it through state the lookup can see. This trades a mandatory error for
// an optional result; the natural retry is the next enqueue.
type Queue[K comparable, R any] struct {
	name    string
	delay   time.Duration
	execute ExecuteFunc[K, R]
	lookup  LookupFunc[K, R]
	log     *slog.Logger
	met     *metrics.Metrics

	mu      sync.Mutex
	closed  bool
	pending *flight[K, R]       // accumulating, not yet fired
	calls   map[K]*flight[K, R] // key -> covering batch (pending or executing)
	timer   *time.Timer
}

// flight is one batch from accumulation through settlement.
type flight[K comparable, R any] struct {
	keys    map[K]struct{}
	done    chan struct{} // closed after results are final
	results map[K]result[R]
	err     error // only ErrQueueClosed; execution errors never land here
	settled bool  // guarded by the queue mutex; done closed exactly once
}

type result[R any] struct {
	val R
	ok  bool
}

// Option configures a Queue.
type Option[K comparable, R any] func(*Queue[K, R])

// WithDelay sets the debounce window.
func WithDelay[K comparable, R any](d time.Duration) Option[K, R] {
	return func(q *Queue[K, R]) { q.delay = d }
}

// WithLookup sets the per-key post-batch read-back.
func WithLookup[K comparable, R any](fn LookupFunc[K, R]) Option[K, R] {
	return func(q *Queue[K, R]) { q.lookup = fn }
}

// WithLogger sets the queue's logger.
func WithLogger[K comparable, R any](log *slog.Logger) Option[K, R] {
	return func(q *Queue[K, R]) { q.log = log }
}

// WithMetrics sets the queue's counters.
func WithMetrics[K comparable, R any](m *metrics.Metrics) Option[K, R] {
	return func(q *Queue[K, R]) { q.met = m }
}

// New creates a queue. name is diagnostic (logs and metric labels);
// execute performs the batched work.
func New[K comparable, R any](name string, execute ExecuteFunc[K, R], opts ...Option[K, R]) *Queue[K, R] {
	q := &Queue[K, R]{
		name:    name,
		delay:   DefaultDelay,
		execute: execute,
		log:     slog.Default(),
		calls:   make(map[K]*flight[K, R]),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds key to the current batch, or joins whatever batch already
// covers it, and blocks until that batch settles. ok=false means the
// batch produced nothing for this key. Cancelling ctx abandons the wait
// only; the batch itself still executes.
func (q *Queue[K, R]) Enqueue(ctx context.Context, key K) (R, bool, error) {
	var zero R

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return zero, false, ErrQueueClosed
	}
	fl, joined := q.calls[key]
	if joined {
		// Reuse pending or in-flight work; refresh the window only if the
		// covering batch has not fired yet.
		if fl == q.pending {
			q.resetTimerLocked()
		}
		q.met.BatchCoalesced(q.name)
	} else {
		fl = q.addToPendingLocked(key)
	}
	q.mu.Unlock()

	select {
	case <-fl.done:
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
	if fl.err != nil {
		return zero, false, fl.err
	}
	res := fl.results[key]
	return res.val, res.ok, nil
}

// EnqueueMany applies the same coalescing to a list of keys: keys already
// covered by a batch are awaited where they are, new keys merge into the
// single pending batch. Blocks until every involved batch settles. There
// are no per-key return values; this variant is fire-and-collect.
func (q *Queue[K, R]) EnqueueMany(ctx context.Context, keys []K) error {
	if len(keys) == 0 {
		return nil
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	flights := make(map[*flight[K, R]]struct{})
	for _, key := range keys {
		if fl, ok := q.calls[key]; ok {
			flights[fl] = struct{}{}
			q.met.BatchCoalesced(q.name)
			continue
		}
		flights[q.addToPendingLocked(key)] = struct{}{}
	}
	q.mu.Unlock()

	for fl := range flights {
		select {
		case <-fl.done:
			if fl.err != nil {
				return fl.err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close cancels the pending timer and discards all pending and in-flight
// bookkeeping; waiting callers receive ErrQueueClosed. Intended for
// teardown - mid-flight executions are not interrupted and their effects
// may still land.
func (q *Queue[K, R]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	seen := make(map[*flight[K, R]]struct{})
	for _, fl := range q.calls {
		seen[fl] = struct{}{}
	}
	if q.pending != nil {
		seen[q.pending] = struct{}{}
		q.pending = nil
	}
	for fl := range seen {
		if fl.settled {
			continue
		}
		fl.settled = true
		fl.err = ErrQueueClosed
		close(fl.done)
	}
	q.calls = make(map[K]*flight[K, R])
}

// addToPendingLocked joins key to the pending batch, creating it if this
// is the first key since the last fire, and restarts the debounce timer.
func (q *Queue[K, R]) addToPendingLocked(key K) *flight[K, R] {
	if q.pending == nil {
		q.pending = &flight[K, R]{
			keys:    make(map[K]struct{}),
			done:    make(chan struct{}),
			results: make(map[K]result[R]),
		}
	}
	q.pending.keys[key] = struct{}{}
	q.calls[key] = q.pending
	q.resetTimerLocked()
	return q.pending
}

func (q *Queue[K, R]) resetTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(q.delay, q.fire)
}

// fire detaches the pending batch and executes it. The batch's keys stay
// in q.calls until settlement so same-key enqueues reuse this flight;
// other keys start accumulating the next batch immediately.
func (q *Queue[K, R]) fire() {
	q.mu.Lock()
	fl := q.pending
	q.pending = nil
	q.timer = nil
	q.mu.Unlock()
	if fl == nil {
		return
	}

	keys := make([]K, 0, len(fl.keys))
	for key := range fl.keys {
		keys = append(keys, key)
	}

	// Callers may have long abandoned their waits; the batch runs on its
	// own context.
	ctx := context.Background()
	got, err := q.execute(ctx, keys)
	if err != nil {
		// Swallowed at the queue level: per-key resolution falls through
		// to the lookup path, which reports nothing landed.
		q.log.Warn("batch execute failed", "queue", q.name, "keys", len(keys), "error", err)
	}
	q.met.BatchFlushed(q.name, len(keys))

	for _, key := range keys {
		if q.lookup != nil {
			val, ok := q.lookup(ctx, key)
			fl.results[key] = result[R]{val: val, ok: ok}
			continue
		}
		if err == nil {
			val, ok := got[key]
			fl.results[key] = result[R]{val: val, ok: ok}
		}
	}

	q.mu.Lock()
	if !q.closed {
		for _, key := range keys {
			if q.calls[key] == fl {
				delete(q.calls, key)
			}
		}
	}
	if !fl.settled {
		fl.settled = true
		close(fl.done)
	}
	q.mu.Unlock()
}
