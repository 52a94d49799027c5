package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	sophiaerrors "sophia/internal/errors"
)

// breakerCollector exports circuit breaker state at scrape time so the
// gauge never goes stale between state transitions.
type breakerCollector struct {
	breakers *sophiaerrors.BreakerSet
	desc     *prometheus.Desc
}

func newBreakerCollector(breakers *sophiaerrors.BreakerSet) *breakerCollector {
	return &breakerCollector{
		breakers: breakers,
		desc: prometheus.NewDesc(
			"sophia_circuit_breaker_state",
			"Circuit breaker state per dependency class (0 closed, 1 half-open, 2 open).",
			[]string{"name"}, nil,
		),
	}
}

func (c *breakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *breakerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.breakers.Metrics() {
		var v float64
		switch m.State {
		case sophiaerrors.StateHalfOpen:
			v = 1
		case sophiaerrors.StateOpen:
			v = 2
		}
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, v, m.Name)
	}
}

var registerBreakerCollector sync.Once

// RegisterBreakerMetrics exposes breaker states on the default registry.
// Safe to call more than once; only the first registration sticks.
func RegisterBreakerMetrics(breakers *sophiaerrors.BreakerSet) {
	registerBreakerCollector.Do(func() {
		prometheus.MustRegister(newBreakerCollector(breakers))
	})
}
