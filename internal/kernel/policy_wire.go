package kernel

import (
	"context"
	"encoding/json"

	"github.com/lattice-mcp/kernel/internal/policy"
	"github.com/lattice-mcp/kernel/internal/protocol"
	"github.com/lattice-mcp/kernel/internal/registry"
)

// ToolInterceptor adapts a *policy.Interceptor, bound to p's session at
// call time, into the registry.Interceptor shape the tool registry calls
// before invoking a provider. scopeFor maps a
// tool name to the scope consulted by scope_includes rules; nil means no
// scope is ever attached.
func ToolInterceptor(p *Peer, pi *policy.Interceptor, scopeFor func(tool string) string) registry.Interceptor {
	return func(ctx context.Context, tool string, args json.RawMessage) (*protocol.ToolResult, error) {
		var scope string
		if scopeFor != nil {
			scope = scopeFor(tool)
		}

		// p.Session() may be nil before initialize completes; pass an
		// untyped nil so policy.Interceptor.Check's `session == nil` check
		// sees a truly nil interface, not a non-nil interface wrapping a
		// nil *Session (the classic Go typed-nil trap).
		if sess := p.Session(); sess != nil {
			return pi.Check(ctx, tool, scope, sess)
		}
		return pi.Check(ctx, tool, scope, nil)
	}
}

// ResourceInterceptor adapts pi into the ResourceGuard shape for p's
// resource read path, with one fixed scope for every read.
func ResourceInterceptor(p *Peer, pi *policy.Interceptor, scope string) ResourceGuard {
	return func(ctx context.Context, uri string) *protocol.Error {
		if sess := p.Session(); sess != nil {
			return pi.CheckResource(ctx, uri, scope, sess)
		}
		return pi.CheckResource(ctx, uri, scope, nil)
	}
}
