package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers feed refreshes, dashboard recomputes and API queries.
type Metrics struct {
	RefreshTotal       *prometheus.CounterVec
	RefreshDuration    prometheus.Histogram
	StaleFetches       prometheus.Counter
	RecomputeDuration  prometheus.Histogram
	ActiveRecords      prometheus.Gauge
	LoadedRecords      prometheus.Gauge
	SnapshotsPublished prometheus.Counter
	QueryDuration      *prometheus.HistogramVec
}

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5}

// New registers every metric on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RefreshTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vadash_refresh_total",
			Help: "Feed refreshes by outcome",
		}, []string{"status"}),
		RefreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vadash_refresh_duration_seconds",
			Help:    "Duration of feed fetch, parse and persist",
			Buckets: durationBuckets,
		}),
		StaleFetches: f.NewCounter(prometheus.CounterOpts{
			Name: "vadash_stale_fetches_total",
			Help: "Fetch results dropped because a newer fetch superseded them",
		}),
		RecomputeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vadash_recompute_duration_seconds",
			Help:    "Duration of filter, aggregate and scale recomputation",
			Buckets: durationBuckets,
		}),
		ActiveRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "vadash_active_records",
			Help: "Records matching the current criteria",
		}),
		LoadedRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "vadash_loaded_records",
			Help: "Records in the current dataset",
		}),
		SnapshotsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "vadash_snapshots_published_total",
			Help: "Dashboard snapshots published to subscribers",
		}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vadash_query_duration_seconds",
			Help:    "Duration of API dashboard queries",
			Buckets: durationBuckets,
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) ObserveRefresh(status string, start time.Time) {
	m.RefreshTotal.WithLabelValues(status).Inc()
	m.RefreshDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveRecompute(start time.Time, loaded, active int) {
	m.RecomputeDuration.Observe(time.Since(start).Seconds())
	m.LoadedRecords.Set(float64(loaded))
	m.ActiveRecords.Set(float64(active))
	m.SnapshotsPublished.Inc()
}

func (m *Metrics) IncStaleFetch() {
	m.StaleFetches.Inc()
}

func (m *Metrics) ObserveQuery(endpoint string, start time.Time) {
	m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
