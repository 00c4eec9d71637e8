package export

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for export cycles.
type Metrics struct {
	cycles   *prometheus.CounterVec
	groups   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the export metrics against the provided registerer.
// When the registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerlink_export_cycles_total",
			Help: "Export cycles run, labelled by mode and outcome.",
		}, []string{"mode", "status"}),
		groups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerlink_export_groups_total",
			Help: "Expense groups processed, labelled by workspace and outcome.",
		}, []string{"workspace_id", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgerlink_export_cycle_duration_seconds",
			Help:    "Wall-clock duration of export cycles.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"mode"}),
	}
	registerer.MustRegister(m.cycles, m.groups, m.duration)
	return m
}

// Tracker instruments one export cycle.
type Tracker struct {
	metrics *Metrics
	mode    Mode
	start   time.Time
}

// Track spawns a tracker for a cycle.
func (m *Metrics) Track(mode Mode) *Tracker {
	if m == nil {
		return &Tracker{mode: mode, start: time.Now()}
	}
	return &Tracker{metrics: m, mode: mode, start: time.Now()}
}

// End finalises the tracker and returns the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	t.metrics.cycles.WithLabelValues(string(t.mode), status).Inc()
	t.metrics.duration.WithLabelValues(string(t.mode)).Observe(time.Since(t.start).Seconds())
	return err
}

// CountGroup records one expense group outcome.
func (m *Metrics) CountGroup(workspaceID int64, outcome string) {
	if m == nil {
		return
	}
	m.groups.WithLabelValues(strconv.FormatInt(workspaceID, 10), outcome).Inc()
}
