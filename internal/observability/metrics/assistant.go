package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type AssistantMetrics struct {
	registry *prometheus.Registry

	turnsTotal    *prometheus.CounterVec
	plansTotal    *prometheus.CounterVec
	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	plansInFlight prometheus.Gauge
	llmFallbacks  prometheus.Counter
	cacheHits     prometheus.Counter
}

func NewAssistantMetrics(service string) *AssistantMetrics {
	registry := prometheus.NewRegistry()

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fba",
			Subsystem: "assistant",
			Name:      "turns_total",
			Help:      "Total handled chat turns by outcome.",
		},
		[]string{"service", "outcome"},
	)
	plansTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fba",
			Subsystem: "assistant",
			Name:      "plan_executions_total",
			Help:      "Total finished plan executions by final status.",
		},
		[]string{"service", "status"},
	)
	stepsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fba",
			Subsystem: "assistant",
			Name:      "plan_steps_total",
			Help:      "Total executed plan steps by action and status.",
		},
		[]string{"service", "action", "status"},
	)
	stepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fba",
			Subsystem: "assistant",
			Name:      "plan_step_duration_seconds",
			Help:      "Plan step execution duration in seconds by action.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "action"},
	)
	plansInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fba",
			Subsystem: "assistant",
			Name:      "plans_in_flight",
			Help:      "Number of currently running plans.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	llmFallbacks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fba",
			Subsystem: "assistant",
			Name:      "llm_fallbacks_total",
			Help:      "Total replies served by the deterministic fallback after an LLM failure.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fba",
			Subsystem: "assistant",
			Name:      "response_cache_hits_total",
			Help:      "Total chat turns answered from the response cache.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(turnsTotal, plansTotal, stepsTotal, stepDuration, plansInFlight, llmFallbacks, cacheHits)

	return &AssistantMetrics{
		registry:      registry,
		turnsTotal:    turnsTotal,
		plansTotal:    plansTotal,
		stepsTotal:    stepsTotal,
		stepDuration:  stepDuration,
		plansInFlight: plansInFlight,
		llmFallbacks:  llmFallbacks,
		cacheHits:     cacheHits,
	}
}

func (m *AssistantMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *AssistantMetrics) ObserveTurn(service, outcome string) {
	m.turnsTotal.WithLabelValues(service, outcome).Inc()
}

func (m *AssistantMetrics) StartPlan() {
	m.plansInFlight.Inc()
}

func (m *AssistantMetrics) FinishPlan(service, status string) {
	m.plansInFlight.Dec()
	m.plansTotal.WithLabelValues(service, status).Inc()
}

func (m *AssistantMetrics) ObserveStep(service, action, status string, duration time.Duration) {
	m.stepsTotal.WithLabelValues(service, action, status).Inc()
	m.stepDuration.WithLabelValues(service, action).Observe(duration.Seconds())
}

func (m *AssistantMetrics) ObserveLLMFallback() {
	m.llmFallbacks.Inc()
}

func (m *AssistantMetrics) ObserveCacheHit() {
	m.cacheHits.Inc()
}
