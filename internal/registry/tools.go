// Package registry implements the three typed method surfaces: tool/resource/prompt registries with uniform list/invoke shape,
// schema validation, subscription bookkeeping, and call metrics. Providers
// are small describe/invoke interfaces rather than a class hierarchy,
// since the set of surfaces is closed.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lattice-mcp/kernel/internal/protocol"
)

// ToolProvider is a registered tool implementation.
type ToolProvider interface {
	Describe() protocol.Tool
	Invoke(ctx context.Context, args json.RawMessage) (*protocol.ToolResult, error)
}

// ToolMetrics is the per-tool call metrics record: error-count <= call-count, average = total/calls when
// calls > 0.
type ToolMetrics struct {
	CallCount    int64
	ErrorCount   int64
	TotalElapsed time.Duration
}

// Average returns the mean call duration, or zero if there have been no
// calls yet.
func (m ToolMetrics) Average() time.Duration {
	if m.CallCount == 0 {
		return 0
	}
	return m.TotalElapsed / time.Duration(m.CallCount)
}

// Interceptor is the hook the tool registry calls before invoking a
// provider.
// It returns a non-nil *protocol.ToolResult to short-circuit the call
// (e.g. a denial), or nil to allow the call to proceed.
type Interceptor func(ctx context.Context, tool string, args json.RawMessage) (*protocol.ToolResult, error)

// ToolRegistry holds tool providers keyed by unique name and their call
// metrics.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]ToolProvider
	stats map[string]*ToolMetrics

	// interceptor is consulted by Call before invoking the provider.
	// Nil means every call is allowed through unconditionally.
	interceptor Interceptor

	// OnListChanged fires after a successful Register/Unregister once the
	// peer is Ready and the tools capability advertised list-changed=true.
	// The kernel wires this to a notification send; the registry itself has
	// no transport.
	OnListChanged func()

	// OnCallCompleted fires after every Call, successful or not, so an
	// observer (internal/obs) can publish a metrics/tracing event without
	// this package importing obs directly.
	OnCallCompleted func(tool string, elapsed time.Duration, isError bool)
}

// NewToolRegistry creates an empty registry. interceptor may be nil.
func NewToolRegistry(interceptor Interceptor) *ToolRegistry {
	return &ToolRegistry{
		tools:       make(map[string]ToolProvider),
		stats:       make(map[string]*ToolMetrics),
		interceptor: interceptor,
	}
}

// Register adds a provider. Fails atomically (no partial state) if the name
// is already present.
func (r *ToolRegistry) Register(p ToolProvider) error {
	name := p.Describe().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("kernel: tool %q already registered", name)
	}
	r.tools[name] = p
	r.stats[name] = &ToolMetrics{}
	r.notifyListChanged()
	return nil
}

// Unregister removes a provider by name; a no-op if absent.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	_, existed := r.tools[name]
	delete(r.tools, name)
	r.mu.Unlock()
	if existed {
		r.notifyListChanged()
	}
}

func (r *ToolRegistry) notifyListChanged() {
	if r.OnListChanged != nil {
		r.OnListChanged()
	}
}

// List returns every tool descriptor, sorted by name.
func (r *ToolRegistry) List() []protocol.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Tool, 0, len(r.tools))
	for _, p := range r.tools {
		out = append(out, p.Describe())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call runs the full tools/call pipeline: lookup, schema
// validation, policy interception, invocation, and metrics. Provider
// failures never surface as a JSON-RPC error; they come back as
// IsError=true in the result body.
func (r *ToolRegistry) Call(ctx context.Context, name string, args json.RawMessage) (*protocol.ToolResult, *protocol.Error) {
	r.mu.RLock()
	provider, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, protocol.ErrToolNotFound(name)
	}

	if schema := provider.Describe().InputSchema; len(schema) > 0 {
		if reasons := ValidateAgainstSchema(schema, args); len(reasons) > 0 {
			return nil, protocol.ErrInvalidParams(reasons)
		}
	}

	if r.interceptor != nil {
		if denied, err := r.interceptor(ctx, name, args); err != nil {
			return nil, protocol.NewError(protocol.CodeInternalError, "policy interceptor failed: "+err.Error(), nil)
		} else if denied != nil {
			r.recordCall(name, 0, denied.IsError)
			return denied, nil
		}
	}

	start := time.Now()
	result, err := r.safeInvoke(ctx, provider, args)
	elapsed := time.Since(start)

	if err != nil {
		result = &protocol.ToolResult{
			Content: []protocol.Content{protocol.TextContent(err.Error())},
			IsError: true,
		}
	}
	r.recordCall(name, elapsed, result.IsError)
	return result, nil
}

// safeInvoke recovers a provider panic and converts it to a ToolExecutionError-
// shaped failure result rather than crashing the peer.
func (r *ToolRegistry) safeInvoke(ctx context.Context, p ToolProvider, args json.RawMessage) (result *protocol.ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	return p.Invoke(ctx, args)
}

func (r *ToolRegistry) recordCall(name string, elapsed time.Duration, isError bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.stats[name]
	if !ok {
		m = &ToolMetrics{}
		r.stats[name] = m
	}
	m.CallCount++
	m.TotalElapsed += elapsed
	if isError {
		m.ErrorCount++
	}
	if r.OnCallCompleted != nil {
		r.OnCallCompleted(name, elapsed, isError)
	}
}

// Metrics returns a snapshot of one tool's call metrics.
func (r *ToolRegistry) Metrics(name string) ToolMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.stats[name]; ok {
		return *m
	}
	return ToolMetrics{}
}
