package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the workflow's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RunsStarted   prometheus.Counter
	RunsReady     prometheus.Counter
	Failures      *prometheus.CounterVec
	PhaseDuration *prometheus.HistogramVec
}

// NewMetrics registers the workflow collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "sandpreview_runs_started_total",
			Help: "Total number of preview workflows started",
		}),
		RunsReady: f.NewCounter(prometheus.CounterOpts{
			Name: "sandpreview_runs_ready_total",
			Help: "Total number of preview workflows that reached ready",
		}),
		Failures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandpreview_failures_total",
				Help: "Total number of workflow failures by kind",
			},
			[]string{"kind"},
		),
		PhaseDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandpreview_phase_duration_seconds",
				Help:    "Time spent in each workflow phase",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"phase"},
		),
	}
}

func (m *Metrics) started() {
	if m != nil {
		m.RunsStarted.Inc()
	}
}

func (m *Metrics) ready() {
	if m != nil {
		m.RunsReady.Inc()
	}
}

func (m *Metrics) failed(kind FailureKind) {
	if m != nil {
		m.Failures.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) phase(s Status, d time.Duration) {
	if m != nil {
		m.PhaseDuration.WithLabelValues(string(s)).Observe(d.Seconds())
	}
}
