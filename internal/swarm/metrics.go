package swarm

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report pipeline activity.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	decisions     *prometheus.CounterVec
	rounds        prometheus.Histogram
	tasksActive   prometheus.Gauge
	patternsSaved prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. Collectors are created once to avoid
// duplicate-registration panics when multiple pipelines run in one process.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Pass a fresh registry in tests. Registration errors panic, mirroring
// promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sophia",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration spent in each pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage", "status"},
	)
	decisions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sophia",
			Subsystem: "pipeline",
			Name:      "decisions_total",
			Help:      "Judge decisions by verdict.",
		},
		[]string{"verdict"},
	)
	rounds := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sophia",
			Subsystem: "pipeline",
			Name:      "rounds_per_task",
			Help:      "Debate rounds consumed per task.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
	)
	tasksActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sophia",
			Subsystem: "pipeline",
			Name:      "tasks_active",
			Help:      "Tasks currently running through the pipeline.",
		},
	)
	patternsSaved := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sophia",
			Subsystem: "pipeline",
			Name:      "patterns_saved_total",
			Help:      "Patterns persisted after passing the quality gate.",
		},
	)

	collectors := []prometheus.Collector{stageDuration, decisions, rounds, tasksActive, patternsSaved}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector {
				case prometheus.Collector(stageDuration):
					stageDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case prometheus.Collector(decisions):
					decisions = already.ExistingCollector.(*prometheus.CounterVec)
				case prometheus.Collector(rounds):
					rounds = already.ExistingCollector.(prometheus.Histogram)
				case prometheus.Collector(tasksActive):
					tasksActive = already.ExistingCollector.(prometheus.Gauge)
				case prometheus.Collector(patternsSaved):
					patternsSaved = already.ExistingCollector.(prometheus.Counter)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		stageDuration: stageDuration,
		decisions:     decisions,
		rounds:        rounds,
		tasksActive:   tasksActive,
		patternsSaved: patternsSaved,
	}
}

// ObserveStage records the time spent in a stage with a status label.
func (m *Metrics) ObserveStage(stage State, status string, duration time.Duration) {
	if m == nil || m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage), status).Observe(duration.Seconds())
}

// IncDecision counts a Judge verdict.
func (m *Metrics) IncDecision(verdict Verdict) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.WithLabelValues(string(verdict)).Inc()
}

// ObserveRounds records the rounds a finished task consumed.
func (m *Metrics) ObserveRounds(rounds int) {
	if m == nil || m.rounds == nil {
		return
	}
	m.rounds.Observe(float64(rounds))
}

// IncActiveTasks marks a task as running.
func (m *Metrics) IncActiveTasks() {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.Inc()
}

// DecActiveTasks marks a task as finished.
func (m *Metrics) DecActiveTasks() {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.Dec()
}

// IncPatternsSaved counts a persisted pattern.
func (m *Metrics) IncPatternsSaved() {
	if m == nil || m.patternsSaved == nil {
		return
	}
	m.patternsSaved.Inc()
}
