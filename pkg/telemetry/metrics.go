package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for sluice.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Retry metrics
	retryAttempts *prometheus.CounterVec
	retryWait     *prometheus.HistogramVec

	// Scheduler metrics
	pollTicks    prometheus.Counter
	pollDuration prometheus.Histogram
	jobsFired    *prometheus.CounterVec

	// System metrics
	activeRuns      prometheus.Gauge
	activeSchedules prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of pipeline runs started",
			},
			[]string{"pipeline"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of pipeline runs completed",
			},
			[]string{"pipeline", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of pipeline run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"pipeline", "status"},
		),

		retryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts by pipeline",
			},
			[]string{"pipeline"},
		),
		retryWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retry_wait_seconds",
				Help:      "Backoff waits between retry attempts in seconds",
				Buckets:   buckets,
			},
			[]string{"pipeline"},
		),

		pollTicks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_poll_ticks_total",
				Help:      "Total number of scheduler poll ticks",
			},
		),
		pollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scheduler_poll_duration_seconds",
				Help:      "Duration of one scheduler poll tick in seconds",
				Buckets:   buckets,
			},
		),
		jobsFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_jobs_total",
				Help:      "Total number of scheduled jobs by outcome",
			},
			[]string{"outcome"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active pipeline runs",
			},
		),
		activeSchedules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_schedules",
				Help:      "Current number of unpaused schedules",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.retryAttempts,
		m.retryWait,
		m.pollTicks,
		m.pollDuration,
		m.jobsFired,
		m.activeRuns,
		m.activeSchedules,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(pipeline string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(pipeline).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(pipeline, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(pipeline, status).Inc()
	m.runDuration.WithLabelValues(pipeline, status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordRetry records one retry attempt and the wait that preceded it.
func (m *Metrics) RecordRetry(pipeline string, wait time.Duration) {
	if m.retryAttempts == nil {
		return
	}
	m.retryAttempts.WithLabelValues(pipeline).Inc()
	m.retryWait.WithLabelValues(pipeline).Observe(wait.Seconds())
}

// RecordPollTick records one scheduler poll tick and its duration.
func (m *Metrics) RecordPollTick(duration time.Duration) {
	if m.pollTicks == nil {
		return
	}
	m.pollTicks.Inc()
	m.pollDuration.Observe(duration.Seconds())
}

// RecordJob records a scheduled job by outcome (success, error, panic).
func (m *Metrics) RecordJob(outcome string) {
	if m.jobsFired == nil {
		return
	}
	m.jobsFired.WithLabelValues(outcome).Inc()
}

// SetActiveSchedules sets the current number of unpaused schedules.
func (m *Metrics) SetActiveSchedules(count float64) {
	if m.activeSchedules == nil {
		return
	}
	m.activeSchedules.Set(count)
}

// Enabled reports whether metrics collection is active.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
