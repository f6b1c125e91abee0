// Package metrics defines the engine's Prometheus counters.
//
// Counters are plumbing, not an exposition surface: the engine increments
// them and leaves registration/scraping to the embedding process. A nil
// *Metrics is valid everywhere and counts nothing, so tests and the CLI
// can skip wiring entirely.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the sync engine's counters.
type Metrics struct {
	streamCacheHits   *prometheus.CounterVec
	streamCacheMisses *prometheus.CounterVec
	streamPageFetches *prometheus.CounterVec
	batchFlushes      *prometheus.CounterVec
	batchKeys         *prometheus.CounterVec
	batchCoalesced    *prometheus.CounterVec
	ttlRefreshes      prometheus.Counter
	ttlStaleIDs       prometheus.Counter
	persistFailures   prometheus.Counter
}

// New creates and registers the engine counters on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		streamCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_stream_cache_hits_total",
			Help: "Stream page requests served entirely from the local store.",
		}, []string{"stream_kind"}),
		streamCacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_stream_cache_misses_total",
			Help: "Stream page requests that required a remote fetch.",
		}, []string{"stream_kind"}),
		streamPageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_stream_page_fetches_total",
			Help: "Remote stream page fetches issued.",
		}, []string{"stream_kind"}),
		batchFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_batch_flushes_total",
			Help: "Batches executed, per queue.",
		}, []string{"queue"}),
		batchKeys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_batch_keys_total",
			Help: "Keys carried by executed batches, per queue.",
		}, []string{"queue"}),
		batchCoalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_batch_coalesced_total",
			Help: "Enqueues that joined an existing pending or in-flight batch.",
		}, []string{"queue"}),
		ttlRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_ttl_refreshes_total",
			Help: "Force-refresh operations completed.",
		}),
		ttlStaleIDs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_ttl_stale_ids_total",
			Help: "Ids classified stale by staleness checks.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_persist_failures_total",
			Help: "Bulk persistence operations that failed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.streamCacheHits, m.streamCacheMisses, m.streamPageFetches,
			m.batchFlushes, m.batchKeys, m.batchCoalesced,
			m.ttlRefreshes, m.ttlStaleIDs, m.persistFailures,
		)
	}
	return m
}

// StreamCacheHit records a page served from cache.
func (m *Metrics) StreamCacheHit(kind string) {
	if m == nil {
		return
	}
	m.streamCacheHits.WithLabelValues(kind).Inc()
}

// StreamCacheMiss records a page that needed the network.
func (m *Metrics) StreamCacheMiss(kind string) {
	if m == nil {
		return
	}
	m.streamCacheMisses.WithLabelValues(kind).Inc()
}

// StreamPageFetched records a remote page fetch.
func (m *Metrics) StreamPageFetched(kind string) {
	if m == nil {
		return
	}
	m.streamPageFetches.WithLabelValues(kind).Inc()
}

// BatchFlushed records one executed batch and its key count.
func (m *Metrics) BatchFlushed(queue string, keys int) {
	if m == nil {
		return
	}
	m.batchFlushes.WithLabelValues(queue).Inc()
	m.batchKeys.WithLabelValues(queue).Add(float64(keys))
}

// BatchCoalesced records an enqueue that reused existing work.
func (m *Metrics) BatchCoalesced(queue string) {
	if m == nil {
		return
	}
	m.batchCoalesced.WithLabelValues(queue).Inc()
}

// TTLRefreshed records a completed force refresh.
func (m *Metrics) TTLRefreshed() {
	if m == nil {
		return
	}
	m.ttlRefreshes.Inc()
}

// TTLStale records n ids classified stale.
func (m *Metrics) TTLStale(n int) {
	if m == nil {
		return
	}
	m.ttlStaleIDs.Add(float64(n))
}

// PersistFailed records a failed bulk persistence operation.
func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}
