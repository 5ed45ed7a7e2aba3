// Package storage provides the core storage engine components for PageDB.
package storage

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics holds the counters of one engine instance. Every engine has its
// own set, so several engines can live in one process.
type Metrics struct {
	set *metrics.Set

	Commits        *metrics.Counter
	Rollbacks      *metrics.Counter
	Checkpoints    *metrics.Counter
	LockTimeouts   *metrics.Counter
	CacheHits      *metrics.Counter
	CacheMisses    *metrics.Counter
	CacheEvictions *metrics.Counter
	LogFrames      *metrics.Counter
	CommitDuration *metrics.Histogram
}

// NewMetrics creates a metric set for one engine.
func NewMetrics() *Metrics {
	s := metrics.NewSet()
	return &Metrics{
		set:            s,
		Commits:        s.NewCounter("pagedb_commits_total"),
		Rollbacks:      s.NewCounter("pagedb_rollbacks_total"),
		Checkpoints:    s.NewCounter("pagedb_checkpoints_total"),
		LockTimeouts:   s.NewCounter("pagedb_lock_timeouts_total"),
		CacheHits:      s.NewCounter("pagedb_cache_hits_total"),
		CacheMisses:    s.NewCounter("pagedb_cache_misses_total"),
		CacheEvictions: s.NewCounter("pagedb_cache_evictions_total"),
		LogFrames:      s.NewCounter("pagedb_log_frames_written_total"),
		CommitDuration: s.NewHistogram("pagedb_commit_duration_seconds"),
	}
}

// Gauge registers a gauge computed by f.
func (m *Metrics) Gauge(name string, f func() float64) {
	m.set.NewGauge(name, f)
}

// WritePrometheus writes all metrics in Prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}
