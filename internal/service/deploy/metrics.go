package deploy

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var durationBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200}

// Metrics records run and component outcomes.
type Metrics struct {
	runs       *prometheus.CounterVec
	components *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	rejected   prometheus.Counter
	active     prometheus.Gauge
}

// NewMetrics registers deploy collectors with reg, reusing collectors that are
// already registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ignis",
			Subsystem: "deploy",
			Name:      "runs_total",
			Help:      "Deployment runs by outcome",
		}, []string{"status"}),
		components: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ignis",
			Subsystem: "deploy",
			Name:      "component_results_total",
			Help:      "Component deployments by outcome",
		}, []string{"component", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ignis",
			Subsystem: "deploy",
			Name:      "component_duration_seconds",
			Help:      "Time spent deploying a component",
			Buckets:   durationBuckets,
		}, []string{"component"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ignis",
			Subsystem: "deploy",
			Name:      "runs_rejected_total",
			Help:      "Webhooks rejected because a run was already in progress",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ignis",
			Subsystem: "deploy",
			Name:      "run_in_progress",
			Help:      "1 while a deployment run is executing",
		}),
	}
	if reg == nil {
		return m
	}
	m.runs = register(reg, m.runs)
	m.components = register(reg, m.components)
	m.duration = register(reg, m.duration)
	m.rejected = register(reg, m.rejected)
	m.active = register(reg, m.active)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) observeComponent(component, result string, seconds float64) {
	if m == nil {
		return
	}
	m.components.WithLabelValues(component, result).Inc()
	m.duration.WithLabelValues(component).Observe(seconds)
}

func (m *Metrics) observeRun(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

func (m *Metrics) observeRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func (m *Metrics) setActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.active.Set(1)
		return
	}
	m.active.Set(0)
}
