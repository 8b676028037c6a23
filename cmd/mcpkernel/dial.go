package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lattice-mcp/kernel/internal/auth"
	"github.com/lattice-mcp/kernel/internal/kernel"
	"github.com/lattice-mcp/kernel/internal/protocol"
	"github.com/lattice-mcp/kernel/internal/transport"
)

var (
	dialTransport string
	dialBearer    string
	dialCallTool  string
	dialCallArgs  string
	dialGetPrompt string
	dialPromptArg []string
	dialReadURI   string
	dialTimeout   time.Duration
)

var (
	dialHeaderStyle = lipgloss.NewStyle().Bold(true)
	dialDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	dialErrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

var dialCmd = &cobra.Command{
	Use:   "dial <target> [-- command args...]",
	Short: "Connect to an MCP server as a client",
	Long: `Connect to an MCP server, run the initialize handshake, and either
list its tools, resources, and prompts (the default) or perform one call.

Targets by transport:
  --transport stdio      dial -t stdio -- some-server --flag
  --transport websocket  dial -t websocket ws://127.0.0.1:7450
  --transport sse        dial -t sse http://127.0.0.1:7450`,
	Args: cobra.MinimumNArgs(0),
	RunE: runDial,
}

func init() {
	dialCmd.Flags().StringVarP(&dialTransport, "transport", "t", "stdio", "Transport: stdio, websocket, or sse")
	dialCmd.Flags().StringVar(&dialBearer, "bearer-server", "", "Attach the keychain bearer token stored under this server name (sse only)")
	dialCmd.Flags().StringVar(&dialCallTool, "call", "", "Call this tool instead of listing")
	dialCmd.Flags().StringVar(&dialCallArgs, "args", "{}", "JSON arguments for --call")
	dialCmd.Flags().StringVar(&dialGetPrompt, "prompt", "", "Render this prompt instead of listing")
	dialCmd.Flags().StringArrayVar(&dialPromptArg, "prompt-arg", nil, "name=value argument for --prompt (repeatable)")
	dialCmd.Flags().StringVar(&dialReadURI, "read", "", "Read this resource URI instead of listing")
	dialCmd.Flags().DurationVar(&dialTimeout, "timeout", 30*time.Second, "Per-request deadline")

	rootCmd.AddCommand(dialCmd)
}

func runDial(cmd *cobra.Command, args []string) error {
	log.SetOutput(os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t, err := dialConnect(ctx, args)
	if err != nil {
		return err
	}

	peer := kernel.NewPeer(t, kernel.NewDispatcher())
	go func() {
		if err := peer.Run(ctx); err != nil {
			log.Printf("connection ended: %v", err)
		}
	}()
	defer peer.Close()

	hctx, hcancel := context.WithTimeout(ctx, dialTimeout)
	defer hcancel()
	result, err := kernel.ClientHandshake(hctx, peer,
		protocol.Implementation{Name: "mcpkernel-dial", Version: version},
		protocol.Capabilities{})
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	fmt.Println(dialDimStyle.Render(fmt.Sprintf("connected to %s %s (protocol %s)",
		result.ServerInfo.Name, result.ServerInfo.Version, result.ProtocolVersion)))
	if result.Instructions != "" {
		fmt.Println(dialDimStyle.Render("instructions: " + result.Instructions))
	}

	switch {
	case dialCallTool != "":
		return dialCall(ctx, peer)
	case dialReadURI != "":
		return dialRead(ctx, peer)
	case dialGetPrompt != "":
		return dialPrompt(ctx, peer)
	default:
		return dialList(ctx, peer)
	}
}

func dialConnect(ctx context.Context, args []string) (transport.Transport, error) {
	tcfg := transport.Config{}
	switch dialTransport {
	case "stdio":
		if len(args) == 0 {
			return nil, fmt.Errorf("stdio transport needs a command: dial -t stdio -- server-binary [args]")
		}
		return transport.LaunchStdio(ctx, args[0], args[1:], nil, tcfg)

	case "websocket":
		if len(args) != 1 {
			return nil, fmt.Errorf("websocket transport needs a single ws:// URL")
		}
		return transport.Dial(ctx, args[0], nil, tcfg)

	case "sse":
		if len(args) != 1 {
			return nil, fmt.Errorf("sse transport needs a single http(s):// base URL")
		}
		cfg := transport.HTTPSSEClientConfig{
			BaseURL:          args[0],
			ProtocolVersions: protocol.SupportedVersions,
		}
		if dialBearer != "" {
			cache, err := auth.NewTokenCache()
			if err != nil {
				return nil, err
			}
			cfg.BearerTokenProvider = cache.Provider(dialBearer)
		}
		return transport.DialHTTPSSE(ctx, cfg, tcfg)

	default:
		return nil, fmt.Errorf("unknown transport %q", dialTransport)
	}
}

func dialList(ctx context.Context, peer *kernel.Peer) error {
	raw, err := peer.SendRequestTimeout(ctx, protocol.MethodToolsList, nil, dialTimeout)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	var toolsResult protocol.ListToolsResult
	if err := json.Unmarshal(raw, &toolsResult); err != nil {
		return err
	}
	fmt.Println(dialHeaderStyle.Render(fmt.Sprintf("tools (%s)", humanize.Comma(int64(len(toolsResult.Tools))))))
	for _, tool := range toolsResult.Tools {
		fmt.Printf("  %s  %s\n", tool.Name, dialDimStyle.Render(tool.Description))
	}

	raw, err = peer.SendRequestTimeout(ctx, protocol.MethodResourcesList, nil, dialTimeout)
	if err == nil {
		var resResult protocol.ListResourcesResult
		if err := json.Unmarshal(raw, &resResult); err == nil {
			fmt.Println(dialHeaderStyle.Render(fmt.Sprintf("resources (%s)", humanize.Comma(int64(len(resResult.Resources))))))
			for _, r := range resResult.Resources {
				fmt.Printf("  %s  %s\n", r.URI, dialDimStyle.Render(r.MimeType))
			}
		}
	}

	raw, err = peer.SendRequestTimeout(ctx, protocol.MethodPromptsList, nil, dialTimeout)
	if err == nil {
		var promptsResult protocol.ListPromptsResult
		if err := json.Unmarshal(raw, &promptsResult); err == nil {
			fmt.Println(dialHeaderStyle.Render(fmt.Sprintf("prompts (%s)", humanize.Comma(int64(len(promptsResult.Prompts))))))
			for _, p := range promptsResult.Prompts {
				fmt.Printf("  %s  %s\n", p.Name, dialDimStyle.Render(p.Description))
			}
		}
	}
	return nil
}

func dialCall(ctx context.Context, peer *kernel.Peer) error {
	start := time.Now()
	raw, err := peer.SendRequestTimeout(ctx, protocol.MethodToolsCall, protocol.CallToolParams{
		Name:      dialCallTool,
		Arguments: json.RawMessage(dialCallArgs),
	}, dialTimeout)
	if err != nil {
		return fmt.Errorf("tools/call %s: %w", dialCallTool, err)
	}
	var result protocol.ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	if result.IsError {
		fmt.Println(dialErrStyle.Render(fmt.Sprintf("%s failed (%s)", dialCallTool, elapsed)))
	} else {
		fmt.Println(dialDimStyle.Render(fmt.Sprintf("%s ok (%s)", dialCallTool, elapsed)))
	}
	printContent(result.Content)
	return nil
}

func dialRead(ctx context.Context, peer *kernel.Peer) error {
	raw, err := peer.SendRequestTimeout(ctx, protocol.MethodResourcesRead, protocol.ReadResourceParams{URI: dialReadURI}, dialTimeout)
	if err != nil {
		return fmt.Errorf("resources/read %s: %w", dialReadURI, err)
	}
	var result protocol.ReadResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}
	for _, c := range result.Contents {
		if c.Text != "" {
			fmt.Println(c.Text)
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(c.Blob)
		if err != nil {
			return fmt.Errorf("decode blob for %s: %w", c.URI, err)
		}
		fmt.Println(dialDimStyle.Render(fmt.Sprintf("%s: %s binary (%s)",
			c.URI, humanize.IBytes(uint64(len(decoded))), c.MimeType)))
	}
	return nil
}

func dialPrompt(ctx context.Context, peer *kernel.Peer) error {
	promptArgs := make(map[string]string, len(dialPromptArg))
	for _, kv := range dialPromptArg {
		name, value, ok := cutArg(kv)
		if !ok {
			return fmt.Errorf("--prompt-arg must be name=value, got %q", kv)
		}
		promptArgs[name] = value
	}

	raw, err := peer.SendRequestTimeout(ctx, protocol.MethodPromptsGet, protocol.GetPromptParams{
		Name:      dialGetPrompt,
		Arguments: promptArgs,
	}, dialTimeout)
	if err != nil {
		return fmt.Errorf("prompts/get %s: %w", dialGetPrompt, err)
	}
	var result protocol.GetPromptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}
	for _, m := range result.Messages {
		fmt.Printf("%s %s\n", dialHeaderStyle.Render(m.Role+":"), m.Content.Text)
	}
	return nil
}

func printContent(content []protocol.Content) {
	for _, c := range content {
		switch c.Type {
		case "text":
			fmt.Println(c.Text)
		case "image":
			fmt.Println(dialDimStyle.Render(fmt.Sprintf("[image %s, %s base64]", c.MimeType, humanize.IBytes(uint64(len(c.Data))))))
		case "resource":
			fmt.Println(dialDimStyle.Render("[resource " + c.ResourceURI + "]"))
		}
	}
}

func cutArg(kv string) (name, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}
