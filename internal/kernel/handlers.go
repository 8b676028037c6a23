package kernel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lattice-mcp/kernel/internal/protocol"
	"github.com/lattice-mcp/kernel/internal/registry"
)

// ResourceGuard is the policy hook consulted before every resources/read
// reaches a provider. A non-nil return rejects the read.
type ResourceGuard func(ctx context.Context, uri string) *protocol.Error

// Surfaces bundles the three method-surface registries a server-role peer
// exposes, plus the policy guard on the resource read path.
type Surfaces struct {
	Tools     *registry.ToolRegistry
	Resources *registry.ResourceRegistry
	Prompts   *registry.PromptRegistry

	// ResourceGuard gates resources/read through the policy chain. Nil
	// means reads are not policy-checked (the tool surface still is,
	// through the registry's own interceptor).
	ResourceGuard ResourceGuard
}

// RegisterSurfaces wires tools/resources/prompts list & invoke handlers
// onto d. A nil field in s skips that surface entirely (its
// methods then fail with MethodNotFound, same as an unadvertised
// capability).
func RegisterSurfaces(d *Dispatcher, s Surfaces) {
	if s.Tools != nil {
		d.HandleRequest(protocol.MethodToolsList, handleToolsList(s.Tools))
		d.HandleRequest(protocol.MethodToolsCall, handleToolsCall(s.Tools))
	}
	if s.Resources != nil {
		d.HandleRequest(protocol.MethodResourcesList, handleResourcesList(s.Resources))
		d.HandleRequest(protocol.MethodResourcesRead, handleResourcesRead(s.Resources, s.ResourceGuard))
		d.HandleRequest(protocol.MethodResourcesSubscribe, handleResourcesSubscribe(s.Resources))
		d.HandleRequest(protocol.MethodResourcesUnsubscribe, handleResourcesUnsubscribe(s.Resources))
		d.HandleRequest(protocol.MethodResourcesTemplatesList, handleResourcesTemplatesList())
	}
	if s.Prompts != nil {
		d.HandleRequest(protocol.MethodPromptsList, handlePromptsList(s.Prompts))
		d.HandleRequest(protocol.MethodPromptsGet, handlePromptsGet(s.Prompts))
	}
}

// WireListChanged hooks each registry's change callbacks to emit the
// matching notification on p, gated on the capability bits advertised at
// initialize.
func WireListChanged(p *Peer, s Surfaces, caps protocol.Capabilities) {
	if s.Tools != nil && caps.Tools != nil && caps.Tools.ListChanged {
		s.Tools.OnListChanged = func() { emitListChanged(p, protocol.NotificationToolsListChanged) }
	}
	if s.Resources != nil && caps.Resources != nil && caps.Resources.ListChanged {
		s.Resources.OnListChanged = func() { emitListChanged(p, protocol.NotificationResourcesListChanged) }
	}
	if s.Resources != nil && caps.Resources != nil && caps.Resources.Subscribe {
		s.Resources.OnResourceUpdate = func(uri string) {
			if p.State() != StateReady {
				return
			}
			_ = p.SendNotification(context.Background(), protocol.NotificationResourcesUpdated, map[string]string{"uri": uri})
		}
	}
	if s.Prompts != nil && caps.Prompts != nil && caps.Prompts.ListChanged {
		s.Prompts.OnListChanged = func() { emitListChanged(p, protocol.NotificationPromptsListChanged) }
	}
}

func emitListChanged(p *Peer, method string) {
	if p.State() != StateReady {
		return
	}
	_ = p.SendNotification(context.Background(), method, nil)
}

func handleToolsList(tools *registry.ToolRegistry) RequestHandler {
	return func(ctx context.Context, p *Peer, id protocol.ID, raw json.RawMessage) (any, *protocol.Error) {
		return protocol.ListToolsResult{Tools: tools.List()}, nil
	}
}

func handleToolsCall(tools *registry.ToolRegistry) RequestHandler {
	return func(ctx context.Context, p *Peer, id protocol.ID, raw json.RawMessage) (any, *protocol.Error) {
		var params protocol.CallToolParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, protocol.ErrInvalidParams([]string{"malformed tools/call params: " + err.Error()})
		}
		result, rpcErr := tools.Call(ctx, params.Name, params.Arguments)
		if rpcErr != nil {
			return nil, rpcErr
		}
		return result, nil
	}
}

func handleResourcesList(resources *registry.ResourceRegistry) RequestHandler {
	return func(ctx context.Context, p *Peer, id protocol.ID, raw json.RawMessage) (any, *protocol.Error) {
		return protocol.ListResourcesResult{Resources: resources.List()}, nil
	}
}

func handleResourcesRead(resources *registry.ResourceRegistry, guard ResourceGuard) RequestHandler {
	return func(ctx context.Context, p *Peer, id protocol.ID, raw json.RawMessage) (any, *protocol.Error) {
		var params protocol.ReadResourceParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, protocol.ErrInvalidParams([]string{"malformed resources/read params: " + err.Error()})
		}
		if guard != nil {
			if rpcErr := guard(ctx, params.URI); rpcErr != nil {
				return nil, rpcErr
			}
		}
		contents, rpcErr := resources.Read(ctx, params.URI)
		if rpcErr != nil {
			return nil, rpcErr
		}
		return protocol.ReadResourceResult{Contents: []protocol.ResourceContents{*contents}}, nil
	}
}

func handleResourcesSubscribe(resources *registry.ResourceRegistry) RequestHandler {
	return func(ctx context.Context, p *Peer, id protocol.ID, raw json.RawMessage) (any, *protocol.Error) {
		var params protocol.SubscribeParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, protocol.ErrInvalidParams([]string{"malformed resources/subscribe params: " + err.Error()})
		}
		subscriberID := subscriberIDFor(p)
		if rpcErr := resources.Subscribe(ctx, params.URI, subscriberID); rpcErr != nil {
			return nil, rpcErr
		}
		return struct{}{}, nil
	}
}

func handleResourcesUnsubscribe(resources *registry.ResourceRegistry) RequestHandler {
	return func(ctx context.Context, p *Peer, id protocol.ID, raw json.RawMessage) (any, *protocol.Error) {
		var params protocol.SubscribeParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, protocol.ErrInvalidParams([]string{"malformed resources/unsubscribe params: " + err.Error()})
		}
		subscriberID := subscriberIDFor(p)
		if rpcErr := resources.Unsubscribe(ctx, params.URI, subscriberID); rpcErr != nil {
			return nil, rpcErr
		}
		return struct{}{}, nil
	}
}

// handleResourcesTemplatesList answers the optional resources/templates/list
// method with an empty set: no provider in this implementation registers
// URI templates, so the list is always empty rather than MethodNotFound.
func handleResourcesTemplatesList() RequestHandler {
	return func(ctx context.Context, p *Peer, id protocol.ID, raw json.RawMessage) (any, *protocol.Error) {
		return struct {
			ResourceTemplates []struct{} `json:"resourceTemplates"`
		}{}, nil
	}
}

func handlePromptsList(prompts *registry.PromptRegistry) RequestHandler {
	return func(ctx context.Context, p *Peer, id protocol.ID, raw json.RawMessage) (any, *protocol.Error) {
		return protocol.ListPromptsResult{Prompts: prompts.List()}, nil
	}
}

func handlePromptsGet(prompts *registry.PromptRegistry) RequestHandler {
	return func(ctx context.Context, p *Peer, id protocol.ID, raw json.RawMessage) (any, *protocol.Error) {
		var params protocol.GetPromptParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, protocol.ErrInvalidParams([]string{"malformed prompts/get params: " + err.Error()})
		}
		result, rpcErr := prompts.Get(ctx, params.Name, params.Arguments)
		if rpcErr != nil {
			return nil, rpcErr
		}
		return result, nil
	}
}

// subscriberIDFor derives a stable subscriber id from the peer's session,
// since resources/subscribe carries no explicit subscriber id on the wire
// but the registry keys subscriptions by one.
// A single connection is one subscriber for the duration of its session.
func subscriberIDFor(p *Peer) string {
	if sess := p.Session(); sess != nil {
		return sess.ID
	}
	return fmt.Sprintf("peer-%p", p)
}
