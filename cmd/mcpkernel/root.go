package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// policyPath is the custom policy file path (empty for default), available
// to every subcommand via a persistent flag.
var policyPath string

var rootCmd = &cobra.Command{
	Use:   "mcpkernel",
	Short: "Session kernel for the Model Context Protocol",
	Long: `mcpkernel runs a bidirectional MCP session kernel: typed tool,
resource, and prompt surfaces behind a policy/consent interceptor, over
stdio, WebSocket, or HTTP+SSE.

Use 'mcpkernel serve' to host a server, 'mcpkernel dial' to connect to one
as a client, and 'mcpkernel policy' to inspect or initialize the policy
file serve enforces.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.PersistentFlags().StringVarP(&policyPath, "policy", "p", "",
		"Path to policy file (default: ~/.config/mcpkernel/policy.toml)")
}

// Execute runs the root command, exiting non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
