// Package tools holds the kernel's built-in demo tool providers, exposed by
// "mcpkernel serve" so the binary is runnable out of the box without a
// separate set of upstream servers to aggregate. A name-pattern heuristic
// classifies which tools are safe-by-default; "mcpkernel serve" uses it to
// map each tool name onto the scope that policy scope_includes rules match.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lattice-mcp/kernel/internal/protocol"
	"github.com/lattice-mcp/kernel/internal/registry"
)

// EchoTool returns its single argument's text back to the caller. It exists
// mainly as a wire-format smoke test: any client can call it to confirm a
// round trip without side effects.
type EchoTool struct{}

var echoSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"message": {"type": "string"}},
	"required": ["message"]
}`)

func (EchoTool) Describe() protocol.Tool {
	return protocol.Tool{
		Name:        "echo",
		Description: "Returns the message argument unchanged.",
		InputSchema: echoSchema,
	}
}

func (EchoTool) Invoke(ctx context.Context, args json.RawMessage) (*protocol.ToolResult, error) {
	var params struct {
		Message string `json:"message"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("echo: %w", err)
		}
	}
	return &protocol.ToolResult{Content: []protocol.Content{protocol.TextContent(params.Message)}}, nil
}

// CurrentTimeTool reports the server's current time in RFC 3339. It takes no
// required arguments and never mutates anything, so it is classified
// safe.
type CurrentTimeTool struct{}

var currentTimeSchema = json.RawMessage(`{"type": "object", "properties": {}}`)

func (CurrentTimeTool) Describe() protocol.Tool {
	return protocol.Tool{
		Name:        "get_current_time",
		Description: "Returns the server's current time in RFC 3339 form.",
		InputSchema: currentTimeSchema,
	}
}

func (CurrentTimeTool) Invoke(ctx context.Context, args json.RawMessage) (*protocol.ToolResult, error) {
	return &protocol.ToolResult{Content: []protocol.Content{protocol.TextContent(time.Now().Format(time.RFC3339))}}, nil
}

// unsafePatterns classifies a bare tool name: a substring match means the
// tool looks mutating, and "mcpkernel serve" gives it the tools.write scope
// instead of tools.read.
var unsafePatterns = []string{
	"write", "update", "delete", "execute", "run", "create", "set",
	"modify", "remove", "send", "install", "uninstall", "drop",
}

// IsUnsafe reports whether name looks mutating.
func IsUnsafe(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range unsafePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// Register adds the built-in demo providers to reg.
func Register(reg *registry.ToolRegistry) error {
	if err := reg.Register(EchoTool{}); err != nil {
		return err
	}
	if err := reg.Register(CurrentTimeTool{}); err != nil {
		return err
	}
	return nil
}
