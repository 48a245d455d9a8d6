package bulkbatch

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusListener BatchListener exporting batch progress as Prometheus metrics on a private registry
type PrometheusListener struct {
	registry *prometheus.Registry

	chunksCreated    *prometheus.CounterVec
	chunksCompleted  *prometheus.CounterVec
	chunksFailed     *prometheus.CounterVec
	jobRetries       *prometheus.CounterVec
	batchesFinalized *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
}

// NewPrometheusListener creates a listener with its own registry
func NewPrometheusListener() *PrometheusListener {
	registry := prometheus.NewRegistry()
	l := &PrometheusListener{
		registry: registry,
		chunksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkbatch_chunks_created_total",
			Help: "Execution jobs created by seed jobs.",
		}, []string{"type"}),
		chunksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkbatch_chunks_completed_total",
			Help: "Execution jobs that finished successfully.",
		}, []string{"type"}),
		chunksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkbatch_chunks_failed_total",
			Help: "Execution jobs that ran out of retries.",
		}, []string{"type"}),
		jobRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkbatch_job_retries_total",
			Help: "Failed job invocations that were rescheduled.",
		}, []string{"job_type"}),
		batchesFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkbatch_batches_finalized_total",
			Help: "Batches removed by their monitor job.",
		}, []string{"type"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bulkbatch_batch_duration_seconds",
			Help:    "Time from batch creation to finalization.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"type"}),
	}
	registry.MustRegister(l.chunksCreated, l.chunksCompleted, l.chunksFailed, l.jobRetries, l.batchesFinalized, l.batchDuration)
	return l
}

// Registry the registry the metrics are registered with
func (l *PrometheusListener) Registry() *prometheus.Registry {
	return l.registry
}

// Handler serves the registry in the Prometheus exposition format
func (l *PrometheusListener) Handler() http.Handler {
	return promhttp.HandlerFor(l.registry, promhttp.HandlerOpts{})
}

func (l *PrometheusListener) OnChunksCreated(ctx context.Context, batch *Batch, n int) {
	l.chunksCreated.WithLabelValues(batch.Type).Add(float64(n))
}

func (l *PrometheusListener) OnChunkCompleted(ctx context.Context, batch *Batch, job *Job) {
	l.chunksCompleted.WithLabelValues(batch.Type).Inc()
}

func (l *PrometheusListener) OnChunkFailed(ctx context.Context, batch *Batch, job *Job, err error) {
	l.chunksFailed.WithLabelValues(batch.Type).Inc()
}

func (l *PrometheusListener) OnJobRetry(ctx context.Context, job *Job, err error) {
	l.jobRetries.WithLabelValues(job.Type).Inc()
}

func (l *PrometheusListener) OnBatchFinalized(ctx context.Context, batch *Batch) {
	l.batchesFinalized.WithLabelValues(batch.Type).Inc()
	if !batch.StartTime.IsZero() {
		l.batchDuration.WithLabelValues(batch.Type).Observe(time.Since(batch.StartTime).Seconds())
	}
}
