package metrics

import (
	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncMetrics records sync runs as Prometheus metrics
type SyncMetrics struct {
	// RunsTotal counts finished runs by final state and error kind
	RunsTotal *prometheus.CounterVec
	// TransitionsTotal counts state transitions by target state
	TransitionsTotal *prometheus.CounterVec
	// PagesTotal counts committed pages
	PagesTotal prometheus.Counter
	// ProductsUpserted counts products written by committed pages
	ProductsUpserted prometheus.Counter
	// VariantsUpserted counts variants written by committed pages
	VariantsUpserted prometheus.Counter
	// PageDuration observes fetch to commit time of a page, retries included
	PageDuration prometheus.Histogram
	// PageAttempts observes how many fetches a committed page needed
	PageAttempts prometheus.Histogram
	// ActiveRuns is the number of runs between Authenticating and a terminal state
	ActiveRuns prometheus.Gauge
}

var _ ports.SyncObserver = (*SyncMetrics)(nil)

// NewSyncMetrics registers the sync metrics on reg
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	factory := promauto.With(reg)
	return &SyncMetrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_sync_runs_total",
			Help: "The total number of finished sync runs by state and error kind",
		}, []string{"state", "error_kind"}),
		TransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_sync_transitions_total",
			Help: "The total number of sync state transitions by target state",
		}, []string{"state"}),
		PagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "catalog_sync_pages_total",
			Help: "The total number of committed sync pages",
		}),
		ProductsUpserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "catalog_sync_products_upserted_total",
			Help: "The total number of products written by sync pages",
		}),
		VariantsUpserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "catalog_sync_variants_upserted_total",
			Help: "The total number of variants written by sync pages",
		}),
		PageDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalog_sync_page_duration_seconds",
			Help:    "The time from first fetch to commit of a sync page",
			Buckets: prometheus.DefBuckets,
		}),
		PageAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalog_sync_page_attempts",
			Help:    "The number of fetch attempts a committed page needed",
			Buckets: []float64{1, 2, 3, 5, 8},
		}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_sync_active_runs",
			Help: "The number of sync runs in progress",
		}),
	}
}

func (m *SyncMetrics) OnTransition(event domain.SyncEvent) {
	m.TransitionsTotal.WithLabelValues(string(event.To)).Inc()

	switch {
	case event.To == domain.SyncStateAuthenticating:
		m.ActiveRuns.Inc()
	case event.To.IsTerminal():
		m.ActiveRuns.Dec()
		m.RunsTotal.WithLabelValues(string(event.To), string(event.Run.ErrorKind)).Inc()
	}
}

func (m *SyncMetrics) OnPageCommitted(_ domain.SyncRun, stats domain.PageStats) {
	m.PagesTotal.Inc()
	m.ProductsUpserted.Add(float64(stats.Products))
	m.VariantsUpserted.Add(float64(stats.Variants))
	m.PageDuration.Observe(stats.Duration.Seconds())
	m.PageAttempts.Observe(float64(stats.Attempts))
}
