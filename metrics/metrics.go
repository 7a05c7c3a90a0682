// Package metrics exposes Prometheus instrumentation for job
// processing, chunk outcomes, LLM calls and coverage runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors. One instance per process, registered
// on its own registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	JobsStarted   prometheus.Counter
	JobsFinished  *prometheus.CounterVec
	JobDuration   prometheus.Histogram
	ChunkOutcomes *prometheus.CounterVec
	ChunkDuration prometheus.Histogram
	RetryRounds   prometheus.Counter
	LLMCalls      *prometheus.CounterVec
	LLMTokens     prometheus.Counter
	CoverageRuns  *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
	WSConnections prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		JobsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "phraseforge_jobs_started_total",
			Help: "Jobs transitioned from pending to processing.",
		}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phraseforge_jobs_finished_total",
			Help: "Jobs reaching a terminal state, by state.",
		}, []string{"state"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "phraseforge_job_duration_seconds",
			Help:    "Wall time from start to terminal state.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		ChunkOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phraseforge_chunks_processed_total",
			Help: "Chunk task outcomes, by result and error code.",
		}, []string{"result", "code"}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "phraseforge_chunk_duration_seconds",
			Help:    "Per-chunk processing time.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		RetryRounds: factory.NewCounter(prometheus.CounterOpts{
			Name: "phraseforge_retry_rounds_total",
			Help: "Retry rounds dispatched by the finalizer.",
		}),
		LLMCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phraseforge_llm_calls_total",
			Help: "LLM completions, by tier and outcome.",
		}, []string{"tier", "outcome"}),
		LLMTokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "phraseforge_llm_tokens_total",
			Help: "Total LLM tokens consumed.",
		}),
		CoverageRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phraseforge_coverage_runs_total",
			Help: "Coverage runs finished, by mode and state.",
		}, []string{"mode", "state"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "phraseforge_queue_depth",
			Help: "Buffered tasks awaiting a worker (in-memory queue only).",
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "phraseforge_ws_connections",
			Help: "Open progress websocket connections.",
		}),
	}
}

// Handler serves the registry in Prometheus text format. Mounted on
// /metrics without authentication.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
