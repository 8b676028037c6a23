package kernel

import (
	"time"

	"github.com/lattice-mcp/kernel/internal/obs"
	"github.com/lattice-mcp/kernel/internal/policy"
	"github.com/lattice-mcp/kernel/internal/registry"
)

// WireToolMetrics hooks a ToolRegistry's completion callback to publish an
// obs.Event on sink, which any subscribed obs.Metrics/tracing observer then
// turns into Prometheus/OTel output.
func WireToolMetrics(tools *registry.ToolRegistry, sink *obs.Sink) {
	if tools == nil || sink == nil {
		return
	}
	tools.OnCallCompleted = func(tool string, elapsed time.Duration, isError bool) {
		sink.Publish(obs.Event{
			Kind: obs.EventToolCallCompleted,
			Fields: map[string]any{
				"tool":             tool,
				"duration_seconds": elapsed.Seconds(),
				"is_error":         isError,
			},
		})
	}
}

// WirePolicyEvents hooks pi's denial callback to publish rate-limited and
// consent-denied events on sink, which the Prometheus observer counts.
func WirePolicyEvents(pi *policy.Interceptor, sink *obs.Sink) {
	if pi == nil || sink == nil {
		return
	}
	pi.OnDenied = func(subject, outcome string) {
		kind := obs.EventConsentDenied
		if outcome == policy.OutcomeRateLimited {
			kind = obs.EventRateLimited
		}
		sink.Publish(obs.Event{
			Kind:   kind,
			Fields: map[string]any{"tool": subject},
		})
	}
}
