package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects engine metrics: provider call latency and retries, tool
// execution outcomes, and cache effectiveness. Retry attempt counts surface
// here so recovered turns remain observable.
type Metrics struct {
	// ProviderRequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts provider calls.
	// Labels: provider, model, status (success|recovered|error)
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderRetryCounter counts retry attempts beyond the first.
	// Labels: provider
	ProviderRetryCounter *prometheus.CounterVec

	// TokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	TokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by terminal status.
	// Labels: tool, status (ok|error|denied|cached|cancelled)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// CacheLookupCounter counts result-cache lookups.
	// Labels: outcome (hit|miss)
	CacheLookupCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the given registerer.
// Pass prometheus.DefaultRegisterer for the process-wide registry, or a fresh
// registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProviderRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tinker_provider_request_duration_seconds",
				Help:    "Duration of model provider requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ProviderRequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinker_provider_requests_total",
				Help: "Total model provider requests by status",
			},
			[]string{"provider", "model", "status"},
		),
		ProviderRetryCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinker_provider_retries_total",
				Help: "Total provider retry attempts beyond the first",
			},
			[]string{"provider"},
		),
		TokensUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinker_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinker_tool_executions_total",
				Help: "Total tool invocations by terminal status",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tinker_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		CacheLookupCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinker_cache_lookups_total",
				Help: "Result cache lookups by outcome",
			},
			[]string{"outcome"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.ProviderRequestDuration,
			m.ProviderRequestCounter,
			m.ProviderRetryCounter,
			m.TokensUsed,
			m.ToolExecutionCounter,
			m.ToolExecutionDuration,
			m.CacheLookupCounter,
		)
	}
	return m
}
