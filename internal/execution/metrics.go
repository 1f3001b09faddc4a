package execution

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ggonzalez94/solagent/internal/risk"
)

// Metrics holds the pipeline's prometheus collectors.
type Metrics struct {
	registry     *prometheus.Registry
	executions   *prometheus.CounterVec
	attempts     prometheus.Counter
	retries      prometheus.Counter
	vetoes       prometheus.Counter
	duration     prometheus.Histogram
	unitsUsed    prometheus.Histogram
	breakerState prometheus.Gauge
	dailyLoss    prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solagent_executions_total",
			Help: "Executions by terminal outcome code",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solagent_execution_attempts_total",
			Help: "Build-to-confirm attempts, including retries",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solagent_execution_retries_total",
			Help: "Attempts started after a retryable failure",
		}),
		vetoes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solagent_risk_vetoes_total",
			Help: "Actions rejected by the risk policy or circuit breaker",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solagent_execution_duration_seconds",
			Help:    "Wall time of Execute calls",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		unitsUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solagent_compute_units_consumed",
			Help:    "Compute units consumed by confirmed transactions",
			Buckets: prometheus.ExponentialBuckets(1_000, 2, 10),
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solagent_circuit_breaker_active",
			Help: "1 when the circuit breaker is tripped",
		}),
		dailyLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solagent_daily_loss_fiat",
			Help: "Realized loss accumulated in the current UTC day",
		}),
	}
	m.registry.MustRegister(
		m.executions,
		m.attempts,
		m.retries,
		m.vetoes,
		m.duration,
		m.unitsUsed,
		m.breakerState,
		m.dailyLoss,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile exports the current values in the node-exporter textfile
// format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) observeAttempt(attempt int) {
	if m == nil {
		return
	}
	m.attempts.Inc()
	if attempt > 1 {
		m.retries.Inc()
	}
}

func (m *Metrics) observeResult(res Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !res.Success {
		outcome = res.ErrorCode
	}
	m.executions.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
	if res.Success && res.ComputeUnits > 0 {
		m.unitsUsed.Observe(float64(res.ComputeUnits))
	}
}

func (m *Metrics) observeVeto() {
	if m == nil {
		return
	}
	m.vetoes.Inc()
}

// ObserveBreaker mirrors the breaker state into gauges.
func (m *Metrics) ObserveBreaker(state risk.BreakerState) {
	if m == nil {
		return
	}
	if state.IsActive {
		m.breakerState.Set(1)
	} else {
		m.breakerState.Set(0)
	}
	m.dailyLoss.Set(state.DailyLossFiat)
}
