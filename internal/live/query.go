// Package live turns point-in-time cache reads into subscribable ones.
// A Query wraps a read function and a store change signal: it evaluates
// the read once synchronously, then re-evaluates on every signal and
// pushes the fresh value to subscribers.
package live

import (
	"context"
	"log/slog"
	"sync"
)

// ReadFunc produces the current value of the query.
type ReadFunc[T any] func(ctx context.Context) (T, error)

// Query is a single subscribable read. It owns one goroutine between
// New and Stop.
type Query[T any] struct {
	read     ReadFunc[T]
	updates  chan T
	stop     chan struct{}
	stopOnce sync.Once
	cancel   func()
	done     chan struct{}
	log      *slog.Logger
}

type Option func(*options)

type options struct {
	log     *slog.Logger
	onStart func()
}

// WithLogger sets the logger for re-read failures.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithStaleCheck registers a hook fired once, asynchronously, right
// after the initial value is produced. The engine uses it to kick a
// freshness check for the ids the query touched; the initial read never
// waits on it.
func WithStaleCheck(fn func()) Option {
	return func(o *options) { o.onStart = fn }
}

// New evaluates read once and returns the query plus that initial
// value. notify is a store change signal (Watch or WatchTable); cancel
// releases it and is called by Stop. If the initial read fails, nothing
// is started and cancel is called before returning.
func New[T any](notify <-chan struct{}, cancel func(), read ReadFunc[T], opts ...Option) (*Query[T], T, error) {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	initial, err := read(context.Background())
	if err != nil {
		var zero T
		if cancel != nil {
			cancel()
		}
		return nil, zero, err
	}

	q := &Query[T]{
		read:    read,
		updates: make(chan T, 1),
		stop:    make(chan struct{}),
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     o.log,
	}
	if o.onStart != nil {
		go o.onStart()
	}
	go q.run(notify)
	return q, initial, nil
}

// Updates delivers re-evaluated values. The channel holds at most one
// pending value; a slow consumer sees only the newest. It is closed by
// Stop.
func (q *Query[T]) Updates() <-chan T { return q.updates }

// Stop releases the store watch and closes Updates. Safe to call more
// than once.
func (q *Query[T]) Stop() {
	q.stopOnce.Do(func() {
		close(q.stop)
		if q.cancel != nil {
			q.cancel()
		}
		<-q.done
	})
}

func (q *Query[T]) run(notify <-chan struct{}) {
	defer close(q.done)
	defer close(q.updates)
	for {
		select {
		case <-q.stop:
			return
		case _, ok := <-notify:
			if !ok {
				return
			}
		}

		value, err := q.read(context.Background())
		if err != nil {
			q.log.Warn("live re-read failed; keeping previous value", "error", err)
			continue
		}

		// Replace any undelivered value so the consumer always
		// gets the newest state.
		select {
		case <-q.updates:
		default:
		}
		select {
		case q.updates <- value:
		case <-q.stop:
			return
		}
	}
}
