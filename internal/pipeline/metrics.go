package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"setforge/internal/faults"
)

// Metrics holds the per-run counters. They live in a private registry and
// are exported as a node_exporter textfile rather than served.
type Metrics struct {
	registry *prometheus.Registry

	Records     *prometheus.CounterVec
	Survivors   *prometheus.CounterVec
	Setfiles    *prometheus.CounterVec
	WriteErrors *prometheus.CounterVec
	Defaulted   *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	LastRun     *prometheus.GaugeVec
}

// NewMetrics registers every run metric in a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "setforge_records_total",
			Help: "Records read from input reports",
		}, []string{"stage"}),
		Survivors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "setforge_survivors_total",
			Help: "Records that passed every threshold",
		}, []string{"stage"}),
		Setfiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "setforge_setfiles_written_total",
			Help: "Setfiles written, counted once per destination",
		}, []string{"stage"}),
		WriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "setforge_write_errors_total",
			Help: "Failed setfile or report writes",
		}, []string{"stage"}),
		Defaulted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "setforge_defaulted_values_total",
			Help: "Metric values that could not be parsed and were set to zero",
		}, []string{"stage"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "setforge_run_duration_seconds",
			Help:    "Wall time of one pipeline stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		}, []string{"stage"}),
		LastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "setforge_last_run_timestamp_seconds",
			Help: "Unix time the stage last finished",
		}, []string{"stage", "outcome"}),
	}
	m.registry.MustRegister(m.Records, m.Survivors, m.Setfiles, m.WriteErrors, m.Defaulted, m.Duration, m.LastRun)
	return m
}

// Observe adds a finished run's counts.
func (m *Metrics) Observe(s *Summary) {
	if m == nil || s == nil {
		return
	}
	m.Records.WithLabelValues(s.Stage).Add(float64(s.Records))
	m.Survivors.WithLabelValues(s.Stage).Add(float64(s.Survivors))
	m.Setfiles.WithLabelValues(s.Stage).Add(float64(s.SetfilesWritten))
	m.WriteErrors.WithLabelValues(s.Stage).Add(float64(s.WriteErrors))
	m.Defaulted.WithLabelValues(s.Stage).Add(float64(s.Defaulted))
	m.Duration.WithLabelValues(s.Stage).Observe(s.Finished.Sub(s.Started).Seconds())
	m.LastRun.WithLabelValues(s.Stage, s.Outcome()).Set(float64(s.Finished.Unix()))
}

// WriteTextfile writes the registry in text exposition format to path.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return faults.WrapIO("write metrics", path, err)
	}
	return nil
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
