package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the kernel exports: per-tool
// call count, error count, and call duration. These mirror the registry's
// in-process ToolMetrics in a form a /metrics scrape endpoint can expose.
type Metrics struct {
	CallsTotal    *prometheus.CounterVec
	ErrorsTotal   *prometheus.CounterVec
	CallDuration  *prometheus.HistogramVec
	RateLimited   *prometheus.CounterVec
	ConsentDenied *prometheus.CounterVec
}

// NewMetrics registers the kernel's collectors on reg (typically
// prometheus.NewRegistry() so a process can host more than one kernel
// instance without collector name collisions).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpkernel",
			Name:      "tool_calls_total",
			Help:      "Total number of tools/call invocations, by tool name.",
		}, []string{"tool"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpkernel",
			Name:      "tool_call_errors_total",
			Help:      "Total number of tools/call invocations that returned isError=true.",
		}, []string{"tool"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcpkernel",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation latency in seconds, by tool name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpkernel",
			Name:      "rate_limited_total",
			Help:      "Total number of calls rejected by the rate limiter, by tool name.",
		}, []string{"tool"}),
		ConsentDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpkernel",
			Name:      "consent_denied_total",
			Help:      "Total number of calls denied by policy or declined consent, by tool name.",
		}, []string{"tool"}),
	}
	reg.MustRegister(m.CallsTotal, m.ErrorsTotal, m.CallDuration, m.RateLimited, m.ConsentDenied)
	return m
}

// ObserveToolCall records one completed tools/call invocation.
func (m *Metrics) ObserveToolCall(tool string, seconds float64, isError bool) {
	m.CallsTotal.WithLabelValues(tool).Inc()
	m.CallDuration.WithLabelValues(tool).Observe(seconds)
	if isError {
		m.ErrorsTotal.WithLabelValues(tool).Inc()
	}
}

// ObserveRateLimited records a policy rate-limit rejection.
func (m *Metrics) ObserveRateLimited(tool string) {
	m.RateLimited.WithLabelValues(tool).Inc()
}

// ObserveConsentDenied records a policy denial or declined consent.
func (m *Metrics) ObserveConsentDenied(tool string) {
	m.ConsentDenied.WithLabelValues(tool).Inc()
}

// SinkHandler adapts Metrics into an obs.Handler so it can subscribe to a
// Sink alongside tracing and logging observers.
func (m *Metrics) SinkHandler() Handler {
	return func(ev Event) {
		tool, _ := ev.Fields["tool"].(string)
		switch ev.Kind {
		case EventToolCallCompleted:
			seconds, _ := ev.Fields["duration_seconds"].(float64)
			isError, _ := ev.Fields["is_error"].(bool)
			m.ObserveToolCall(tool, seconds, isError)
		case EventRateLimited:
			m.ObserveRateLimited(tool)
		case EventConsentDenied:
			m.ObserveConsentDenied(tool)
		}
	}
}

// Event kind constants published by the kernel's registry/policy wiring.
const (
	EventToolCallCompleted = "tool_call_completed"
	EventRateLimited       = "rate_limited"
	EventConsentDenied     = "consent_denied"
	EventRequestDispatched = "request_dispatched"
)
