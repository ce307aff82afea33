package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the renewal module.
type Metrics struct {
	RecordsCreated   prometheus.Counter
	RecordsUpdated   prometheus.Counter
	RecordsDeleted   prometheus.Counter
	NextDueDerived   *prometheus.CounterVec
	DueSoonCount     prometheus.Gauge
	RefreshDuration  prometheus.Histogram
	RefreshFailures  prometheus.Counter
	NotificationsOut *prometheus.CounterVec
}

// New registers the renewal metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the renewal metrics with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecordsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "assetdesk_renewals_created_total",
			Help: "Total number of compliance records created",
		}),
		RecordsUpdated: f.NewCounter(prometheus.CounterOpts{
			Name: "assetdesk_renewals_updated_total",
			Help: "Total number of compliance records replaced",
		}),
		RecordsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "assetdesk_renewals_deleted_total",
			Help: "Total number of compliance records deleted",
		}),
		NextDueDerived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assetdesk_renewals_next_due_total",
			Help: "How the stored next due date was decided on save (explicit, derived, undetermined)",
		}, []string{"source"}),
		DueSoonCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "assetdesk_renewals_due_soon",
			Help: "Records inside the due-soon window at the last refresh",
		}),
		RefreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "assetdesk_renewals_refresh_duration_seconds",
			Help:    "Duration of due-soon refreshes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}),
		RefreshFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "assetdesk_renewals_refresh_failures_total",
			Help: "Due-soon refreshes that failed and kept the previous snapshot",
		}),
		NotificationsOut: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assetdesk_renewals_notifications_total",
			Help: "Due-soon notifications sent, by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveNextDue records how a save decided next_due_date.
func (m *Metrics) ObserveNextDue(source string) {
	m.NextDueDerived.WithLabelValues(source).Inc()
}

// ObserveRefresh records a finished refresh. Call with time.Now() at the start.
func (m *Metrics) ObserveRefresh(start time.Time, count int, err error) {
	m.RefreshDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.RefreshFailures.Inc()
		return
	}
	m.DueSoonCount.Set(float64(count))
}
