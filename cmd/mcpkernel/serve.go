package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lattice-mcp/kernel/internal/consent"
	"github.com/lattice-mcp/kernel/internal/kernel"
	"github.com/lattice-mcp/kernel/internal/obs"
	"github.com/lattice-mcp/kernel/internal/policy"
	"github.com/lattice-mcp/kernel/internal/protocol"
	"github.com/lattice-mcp/kernel/internal/registry"
	"github.com/lattice-mcp/kernel/internal/tools"
	"github.com/lattice-mcp/kernel/internal/transport"
)

var (
	serveTransport     string
	serveListenAddr    string
	serveMetricsAddr   string
	serveConsentMode   string
	serveDebugFraming  bool
	serveTracing       bool
	serveMaxMsgBytes   int
	serveMaxConcurrent int
	serveResourceDir   string
	serveInstructions  string
	serveIdleTimeout   time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as an MCP server",
	Long: `Run mcpkernel as an MCP server exposing the built-in demo tools,
resources, and prompts behind the policy file.

Over stdio this mode is intended to be spawned by an MCP client:

  {
    "mcpkernel": {
      "command": "mcpkernel",
      "args": ["serve"]
    }
  }

With --transport websocket or --transport sse it listens on --listen and
accepts any number of concurrent client connections, each with its own
session.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveTransport, "transport", "t", "stdio", "Transport: stdio, websocket, or sse")
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "127.0.0.1:7450", "Listen address for websocket/sse transports")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-listen", "", "Expose Prometheus /metrics on this address (empty: disabled)")
	serveCmd.Flags().StringVar(&serveConsentMode, "consent", "prompt", "Consent handling: prompt, deny, or allow")
	serveCmd.Flags().BoolVar(&serveDebugFraming, "debug-framing", false, "Log every frame sent and received")
	serveCmd.Flags().BoolVar(&serveTracing, "trace", false, "Start an OpenTelemetry span per dispatched request")
	serveCmd.Flags().IntVar(&serveMaxMsgBytes, "max-message-bytes", 0, "Per-message size cap (0: 16 MiB default)")
	serveCmd.Flags().IntVar(&serveMaxConcurrent, "max-concurrent-requests", 0, "Cap on concurrently dispatched requests per peer (0: unbounded)")
	serveCmd.Flags().StringVar(&serveResourceDir, "resource-dir", "", "Expose files under this directory as file:// resources")
	serveCmd.Flags().StringVar(&serveInstructions, "instructions", "", "Model-facing guidance returned in the initialize result")
	serveCmd.Flags().DurationVar(&serveIdleTimeout, "session-idle-timeout", 0, "Close sessions idle for longer than this (0: never)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Over stdio the protocol owns stdout; everything else goes to stderr.
	log.SetOutput(os.Stderr)
	transport.DebugLogging = serveDebugFraming

	tcfg := transport.Config{MaxMessageBytes: serveMaxMsgBytes}.WithDefaults()
	log.Printf("mcpkernel serve starting (version=%s, transport=%s, max message %s)",
		version, serveTransport, humanize.IBytes(uint64(tcfg.MaxMessageBytes)))

	pol, err := policy.Load(resolvePolicyPath())
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	var prompt policy.ConsentPrompt
	switch serveConsentMode {
	case "prompt":
		// A stdio server has no terminal to prompt on; fail closed there.
		if serveTransport == "stdio" {
			prompt = consent.AlwaysDeny
		} else {
			prompt = consent.Prompt
		}
	case "deny":
		prompt = consent.AlwaysDeny
	case "allow":
		prompt = consent.AlwaysAllow
	default:
		return fmt.Errorf("unknown consent mode %q", serveConsentMode)
	}

	auditLog := policy.NewAuditLog(pol.AuditConfig)
	defer auditLog.Close()
	limiter := rateLimiterFromPolicy(pol)
	interceptor := policy.NewInterceptor(pol, limiter, auditLog, prompt)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Hot-reload the policy file for the lifetime of the server.
	go func() {
		for p := range policy.Watch(ctx, resolvePolicyPath()) {
			log.Printf("policy reloaded (%d rules, consent mode %s)", len(p.Rules), p.ConsentMode)
			interceptor.SetPolicy(p)
		}
	}()

	sink := obs.NewSink(256)
	defer sink.Close()
	kernel.WirePolicyEvents(interceptor, sink)
	if serveMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics := obs.NewMetrics(reg)
		sink.Subscribe(metrics.SinkHandler())
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Printf("metrics on http://%s/metrics", serveMetricsAddr)
			if err := http.ListenAndServe(serveMetricsAddr, mux); err != nil {
				log.Printf("metrics listener: %v", err)
			}
		}()
	}

	sessions := kernel.NewSessionManager()
	if serveIdleTimeout > 0 {
		go func() {
			ticker := time.NewTicker(serveIdleTimeout / 2)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					if n := sessions.ReapIdle(now, serveIdleTimeout); n > 0 {
						log.Printf("reaped %d idle session(s)", n)
					}
				}
			}
		}()
	}

	switch serveTransport {
	case "stdio":
		t := transport.NewStdio(os.Stdout, os.Stdin, tcfg)
		return servePeer(ctx, t, interceptor, sink, sessions)

	case "websocket":
		listener := transport.NewWebSocketListener(tcfg)
		mux := http.NewServeMux()
		mux.Handle("/", listener)
		go func() {
			log.Printf("websocket listening on ws://%s", serveListenAddr)
			if err := http.ListenAndServe(serveListenAddr, mux); err != nil {
				log.Printf("websocket listener: %v", err)
				stop()
			}
		}()
		return acceptLoop(ctx, listener, interceptor, sink, sessions)

	case "sse":
		listener := transport.NewHTTPSSEListener(tcfg)
		mux := http.NewServeMux()
		mux.Handle("/", listener)
		go func() {
			log.Printf("http+sse listening on http://%s (stream at /sse)", serveListenAddr)
			if err := http.ListenAndServe(serveListenAddr, mux); err != nil {
				log.Printf("sse listener: %v", err)
				stop()
			}
		}()
		return acceptLoop(ctx, listener, interceptor, sink, sessions)

	default:
		return fmt.Errorf("unknown transport %q", serveTransport)
	}
}

func acceptLoop(ctx context.Context, listener transport.ServerTransport, interceptor *policy.Interceptor, sink *obs.Sink, sessions *kernel.SessionManager) error {
	defer listener.Close()
	for {
		t, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			if err := servePeer(ctx, t, interceptor, sink, sessions); err != nil {
				log.Printf("peer ended: %v", err)
			}
		}()
	}
}

// servePeer wires one server-role peer over t and blocks until it ends.
// Each connection gets its own registries so tool metrics, subscriptions,
// and consent approvals stay per-session.
func servePeer(ctx context.Context, t transport.Transport, interceptor *policy.Interceptor, sink *obs.Sink, sessions *kernel.SessionManager) error {
	serverInfo := protocol.Implementation{Name: "mcpkernel", Version: version}
	serverCaps := protocol.Capabilities{
		Tools:     &protocol.ToolsCapability{ListChanged: true},
		Resources: &protocol.ResourcesCapability{Subscribe: true, ListChanged: true},
		Prompts:   &protocol.PromptsCapability{ListChanged: true},
	}

	dispatcher := kernel.NewDispatcher()
	dispatcher.HandleRequest(protocol.MethodInitialize, kernel.ServerHandshakeHandler(serverInfo, serverCaps, serveInstructions))
	dispatcher.HandleNotification(protocol.MethodInitialized, kernel.InitializedNotificationHandler())
	dispatcher.HandleRequest(protocol.MethodPing, kernel.PingHandler())

	var opts []kernel.Option
	if serveTracing {
		opts = append(opts, kernel.WithTracing())
	}
	if serveMaxConcurrent > 0 {
		opts = append(opts, kernel.WithMaxConcurrentRequests(serveMaxConcurrent))
	}
	peer := kernel.NewPeer(t, dispatcher, opts...)

	toolReg := registry.NewToolRegistry(kernel.ToolInterceptor(peer, interceptor, scopeForTool))
	if err := tools.Register(toolReg); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	resourceReg := registry.NewResourceRegistry()
	resourceReg.AddProvider(tools.NewMemoryNotes())
	if serveResourceDir != "" {
		resourceReg.AddProvider(tools.NewFileResources(serveResourceDir))
	}
	promptReg := registry.NewPromptRegistry()
	if err := promptReg.Register(tools.Greeting()); err != nil {
		return fmt.Errorf("register prompts: %w", err)
	}

	surfaces := kernel.Surfaces{
		Tools:         toolReg,
		Resources:     resourceReg,
		Prompts:       promptReg,
		ResourceGuard: kernel.ResourceInterceptor(peer, interceptor, "resources.read"),
	}
	kernel.RegisterSurfaces(dispatcher, surfaces)
	kernel.WireListChanged(peer, surfaces, serverCaps)
	kernel.WireToolMetrics(toolReg, sink)

	sessions.Add(peer)
	defer sessions.Remove(peer)
	defer peer.Close()
	return peer.Run(ctx)
}

// scopeForTool maps a tool name onto the scope the policy engine's
// scope_includes rules consult.
func scopeForTool(name string) string {
	if tools.IsUnsafe(name) {
		return "tools.write"
	}
	return "tools.read"
}

// rateLimiterFromPolicy builds one shared limiter from the first rate_limit
// rule in the policy, so the interceptor's rate checks match what the file
// declares. No rate_limit rule means no limiter.
func rateLimiterFromPolicy(pol *policy.Policy) *policy.RateLimiter {
	for _, rule := range pol.Rules {
		if rule.Condition.Kind == "rate_limit" && rule.Condition.MaxPerWindow > 0 {
			return policy.NewRateLimiterFromCondition(rule.Condition)
		}
	}
	return nil
}
