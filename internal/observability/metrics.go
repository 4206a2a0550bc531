package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace prefixes every metric this process exports
const namespace = "swarm"

type moduleMetrics struct {
	buffersTotal   prometheus.Gauge
	evictionsTotal prometheus.Counter

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	agentRunTotal     *prometheus.CounterVec
	agentRunDuration  prometheus.Histogram
	agentRunsActive   prometheus.Gauge
	loopIterations    prometheus.Histogram
	decisionDuration  *prometheus.HistogramVec
	decisionErrors    *prometheus.CounterVec
	startRejectsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			buffersTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "session_buffers",
					Help:      "Current number of session buffers held in memory.",
				},
			),
			evictionsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_buffer_evictions_total",
					Help:      "Total session buffers evicted by the janitor.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_execution_total",
					Help:      "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_errors_total",
					Help:      "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_run_total",
					Help:      "Total agent runs by terminal status.",
				},
				[]string{"status"},
			),
			agentRunDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_run_duration_seconds",
					Help:      "Agent run duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			agentRunsActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "agent_runs_active",
					Help:      "Agent runs currently executing.",
				},
			),
			loopIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_loop_iterations",
					Help:      "Think steps taken per run.",
					Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
				},
			),
			decisionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "decision_duration_seconds",
					Help:      "Decision call duration in seconds by provider.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			decisionErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "decision_errors_total",
					Help:      "Total failed decision calls by provider.",
				},
				[]string{"provider"},
			),
			startRejectsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "run_start_rejected_total",
					Help:      "Start requests refused, by reason.",
				},
				[]string{"reason"},
			),
		}

		prometheus.MustRegister(
			m.buffersTotal,
			m.evictionsTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentRunsActive,
			m.loopIterations,
			m.decisionDuration,
			m.decisionErrors,
			m.startRejectsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetBuffers(count int) {
	getMetrics().buffersTotal.Set(float64(count))
}

func RecordEvictions(count int) {
	if count <= 0 {
		return
	}
	getMetrics().evictionsTotal.Add(float64(count))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordAgentRun(status string, duration time.Duration, iterations int) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(status).Inc()
	m.agentRunDuration.Observe(duration.Seconds())
	m.loopIterations.Observe(float64(iterations))
}

func SetActiveRuns(count int) {
	getMetrics().agentRunsActive.Set(float64(count))
}

func RecordDecision(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.decisionDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if !success {
		m.decisionErrors.WithLabelValues(provider).Inc()
	}
}

func RecordStartRejected(reason string) {
	getMetrics().startRejectsTotal.WithLabelValues(reason).Inc()
}
