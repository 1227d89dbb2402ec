// Package observability exposes the service's Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PagesProcessed counts finished pipeline runs by terminal status.
	PagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagegraph_pages_processed_total",
		Help: "Pipeline runs by terminal page status.",
	}, []string{"status"})

	// StageDuration observes per-stage wall time.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagegraph_stage_duration_seconds",
		Help:    "Wall time per pipeline stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	// StageErrors counts stage failures by stage.
	StageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagegraph_stage_errors_total",
		Help: "Stage failures by stage.",
	}, []string{"stage"})

	// QueueDepth tracks pending submissions.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pagegraph_queue_depth",
		Help: "Pending URL submissions in the bounded queue.",
	})

	// KeywordsExtracted counts emitted keywords.
	KeywordsExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagegraph_keywords_extracted_total",
		Help: "Keywords emitted by the analysis stage.",
	})

	// TransactionRetries counts store transaction retry attempts.
	TransactionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagegraph_transaction_retries_total",
		Help: "Store transaction attempts beyond the first.",
	})

	// StorePoolInUse reports sessions currently checked out.
	StorePoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pagegraph_store_pool_in_use",
		Help: "Graph store sessions currently in use.",
	})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
