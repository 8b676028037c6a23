package kernel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lattice-mcp/kernel/internal/kerneltest"
	"github.com/lattice-mcp/kernel/internal/policy"
	"github.com/lattice-mcp/kernel/internal/protocol"
	"github.com/lattice-mcp/kernel/internal/registry"
)

// echoTool is the minimal schema-carrying ToolProvider used across the
// end-to-end tests.
type echoTool struct{}

func (echoTool) Describe() protocol.Tool {
	return protocol.Tool{
		Name:        "echo",
		Description: "echoes its message argument",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"message": {"type": "string"}},
			"required": ["message"]
		}`),
	}
}

func (echoTool) Invoke(ctx context.Context, args json.RawMessage) (*protocol.ToolResult, error) {
	var params struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}
	return &protocol.ToolResult{Content: []protocol.Content{protocol.TextContent(params.Message)}}, nil
}

type deleteFileTool struct{}

func (deleteFileTool) Describe() protocol.Tool {
	return protocol.Tool{Name: "delete_file"}
}

func (deleteFileTool) Invoke(ctx context.Context, args json.RawMessage) (*protocol.ToolResult, error) {
	return &protocol.ToolResult{Content: []protocol.Content{protocol.TextContent("deleted")}}, nil
}

func wireServerClient(t *testing.T, s Surfaces) (*Peer, *Peer) {
	t.Helper()
	serverTransport, clientTransport := kerneltest.Pipe()

	serverDispatch := NewDispatcher()
	serverDispatch.HandleRequest(protocol.MethodInitialize, ServerHandshakeHandler(
		protocol.Implementation{Name: "test-server", Version: "1.0"},
		protocol.Capabilities{Tools: &protocol.ToolsCapability{}, Resources: &protocol.ResourcesCapability{Subscribe: true}},
		"",
	))
	serverDispatch.HandleNotification(protocol.MethodInitialized, InitializedNotificationHandler())
	serverDispatch.HandleRequest(protocol.MethodPing, PingHandler())
	RegisterSurfaces(serverDispatch, s)

	server := NewPeer(serverTransport, serverDispatch)
	go server.Run(context.Background())
	t.Cleanup(func() { server.Close() })

	client := NewPeer(clientTransport, NewDispatcher())
	go client.Run(context.Background())
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := ClientHandshake(ctx, client, protocol.Implementation{Name: "test-client", Version: "1.0"}, protocol.Capabilities{}); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return server, client
}

// TestInitializeAndListTools runs the full handshake, then verifies
// tools/list returns a sorted tool array.
func TestInitializeAndListTools(t *testing.T) {
	tools := registry.NewToolRegistry(nil)
	if err := tools.Register(echoTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, client := wireServerClient(t, Surfaces{Tools: tools})

	raw, err := client.SendRequest(context.Background(), protocol.MethodToolsList, nil)
	if err != nil {
		t.Fatalf("tools/list: %v", err)
	}
	var result protocol.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.Tools) != 1 || result.Tools[0].Name != "echo" {
		t.Fatalf("expected [echo], got %+v", result.Tools)
	}
}

// TestEchoToolCall round-trips a tools/call through the full kernel.
func TestEchoToolCall(t *testing.T) {
	tools := registry.NewToolRegistry(nil)
	_ = tools.Register(echoTool{})
	_, client := wireServerClient(t, Surfaces{Tools: tools})

	raw, err := client.SendRequest(context.Background(), protocol.MethodToolsCall, protocol.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"message":"hi"}`),
	})
	if err != nil {
		t.Fatalf("tools/call: %v", err)
	}
	var result protocol.ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error result: %+v", result)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hi" {
		t.Fatalf("expected echoed text 'hi', got %+v", result.Content)
	}
}

// TestSchemaViolation: arguments that miss the declared schema come back
// as InvalidParams, not a tool-result error.
func TestSchemaViolation(t *testing.T) {
	tools := registry.NewToolRegistry(nil)
	_ = tools.Register(echoTool{})
	_, client := wireServerClient(t, Surfaces{Tools: tools})

	_, err := client.SendRequest(context.Background(), protocol.MethodToolsCall, protocol.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"wrong":"x"}`),
	})
	rpcErr, ok := err.(*protocol.Error)
	if !ok || rpcErr.Code != protocol.CodeInvalidParams {
		t.Fatalf("expected InvalidParams, got %v", err)
	}
}

// TestConsentDeny: a Deny rule surfaces as a successful response with
// isError=true, never a JSON-RPC error.
func TestConsentDeny(t *testing.T) {
	p := &policy.Policy{
		Rules: []policy.Rule{{
			Condition: policy.Condition{Kind: "tool_name_equals", ToolName: "delete_file"},
			Action:    policy.Action{Kind: policy.ActionDeny, Reason: "not allowed"},
		}},
	}
	interceptor := policy.NewInterceptor(p, nil, nil, nil)
	tools := registry.NewToolRegistry(func(ctx context.Context, tool string, args json.RawMessage) (*protocol.ToolResult, error) {
		return interceptor.Check(ctx, tool, "", nil)
	})
	_ = tools.Register(deleteFileTool{})
	_, client := wireServerClient(t, Surfaces{Tools: tools})

	raw, err := client.SendRequest(context.Background(), protocol.MethodToolsCall, protocol.CallToolParams{
		Name: "delete_file",
	})
	if err != nil {
		t.Fatalf("expected a successful response carrying isError, got transport error: %v", err)
	}
	var result protocol.ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected isError=true, got %+v", result)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "Permission denied: not allowed" {
		t.Fatalf("unexpected content: %+v", result.Content)
	}
}

// TestInitializeVersionMismatchClosesPeer: a failed version negotiation
// responds ProtocolVersionMismatch and then closes the connection.
func TestInitializeVersionMismatchClosesPeer(t *testing.T) {
	serverTransport, clientTransport := kerneltest.Pipe()
	serverDispatch := NewDispatcher()
	serverDispatch.HandleRequest(protocol.MethodInitialize, ServerHandshakeHandler(
		protocol.Implementation{Name: "test-server", Version: "1.0"},
		protocol.Capabilities{},
		"",
	))
	server := NewPeer(serverTransport, serverDispatch)
	go server.Run(context.Background())

	client := NewPeer(clientTransport, NewDispatcher())
	go client.Run(context.Background())
	defer client.Close()

	_, err := client.SendRequestTimeout(context.Background(), protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: "1999-01-01",
		ClientInfo:      protocol.Implementation{Name: "c", Version: "1"},
	}, 2*time.Second)
	rpcErr, ok := err.(*protocol.Error)
	if !ok || rpcErr.Code != protocol.CodeProtocolVersionMismatch {
		t.Fatalf("expected ProtocolVersionMismatch, got %v", err)
	}

	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected the server peer to close after the mismatch response")
	}
	if server.State() != StateClosed {
		t.Fatalf("expected state closed, got %s", server.State())
	}
}

// TestResourceReadPolicyGuard: resources/read passes through the policy
// guard before any provider runs, and a Deny surfaces as
// ResourceAccessDenied on the wire.
func TestResourceReadPolicyGuard(t *testing.T) {
	resources := registry.NewResourceRegistry()
	resources.AddProvider(&resourceProvider{uri: "file:///a"})

	pol := &policy.Policy{Rules: []policy.Rule{{
		Condition: policy.Condition{Kind: "scope_includes", Scope: "resources.read"},
		Action:    policy.Action{Kind: policy.ActionDeny, Reason: "reads disabled"},
	}}}
	interceptor := policy.NewInterceptor(pol, nil, nil, nil)
	guard := func(ctx context.Context, uri string) *protocol.Error {
		return interceptor.CheckResource(ctx, uri, "resources.read", nil)
	}

	_, client := wireServerClient(t, Surfaces{Resources: resources, ResourceGuard: guard})

	_, err := client.SendRequest(context.Background(), protocol.MethodResourcesRead, protocol.ReadResourceParams{URI: "file:///a"})
	rpcErr, ok := err.(*protocol.Error)
	if !ok || rpcErr.Code != protocol.CodeResourceAccessDenied {
		t.Fatalf("expected ResourceAccessDenied, got %v", err)
	}
}

// resourceProvider is a minimal registry.ResourceProvider for the
// subscription scenario.
type resourceProvider struct {
	uri          string
	subscribed   int
	unsubscribed int
}

func (r *resourceProvider) List() []protocol.Resource {
	return []protocol.Resource{{URI: r.uri, Name: "a"}}
}
func (r *resourceProvider) Read(ctx context.Context, uri string) (*protocol.ResourceContents, error) {
	if uri != r.uri {
		return nil, registry.ErrProviderDeclined
	}
	return &protocol.ResourceContents{URI: uri, Text: "contents"}, nil
}
func (r *resourceProvider) Subscribable() bool { return true }
func (r *resourceProvider) Subscribe(ctx context.Context, uri string) error {
	r.subscribed++
	return nil
}
func (r *resourceProvider) Unsubscribe(ctx context.Context, uri string) error {
	r.unsubscribed++
	return nil
}

// TestResourceSubscriptionLifecycle walks subscribe/unsubscribe through
// the resource registry, including the repeated-unsubscribe no-op.
func TestResourceSubscriptionLifecycle(t *testing.T) {
	resources := registry.NewResourceRegistry()
	rp := &resourceProvider{uri: "file:///a"}
	resources.AddProvider(rp)

	ctx := context.Background()
	if err := resources.Subscribe(ctx, "file:///a", "S1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if rp.subscribed != 1 {
		t.Fatalf("expected Subscribe called once, got %d", rp.subscribed)
	}
	if err := resources.Unsubscribe(ctx, "file:///a", "S1"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if rp.unsubscribed != 1 {
		t.Fatalf("expected Unsubscribe called once, got %d", rp.unsubscribed)
	}
	// Second unsubscribe for the same subscriber is a no-op.
	if err := resources.Unsubscribe(ctx, "file:///a", "S1"); err != nil {
		t.Fatalf("second unsubscribe: %v", err)
	}
	if rp.unsubscribed != 1 {
		t.Fatalf("expected no additional Unsubscribe call, got %d", rp.unsubscribed)
	}
}
