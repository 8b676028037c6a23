package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lattice-mcp/kernel/internal/policy"
)

var (
	policyHeaderStyle = lipgloss.NewStyle().Bold(true)
	policyAllowStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	policyDenyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	policyDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect or initialize the policy file",
}

var policyInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter policy file",
	RunE:  runPolicyInit,
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective policy",
	RunE:  runPolicyShow,
}

var policyCheckCmd = &cobra.Command{
	Use:   "check <tool> [scope]",
	Short: "Evaluate the policy for one tool name",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runPolicyCheck,
}

func init() {
	policyCmd.AddCommand(policyInitCmd, policyShowCmd, policyCheckCmd)
	rootCmd.AddCommand(policyCmd)
}

// resolvePolicyPath honors --policy, falling back to the default location
// under the user config directory.
func resolvePolicyPath() string {
	if policyPath != "" {
		return policyPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "policy.toml"
	}
	return filepath.Join(home, ".config", "mcpkernel", "policy.toml")
}

func runPolicyInit(cmd *cobra.Command, args []string) error {
	path := resolvePolicyPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("policy file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create policy directory: %w", err)
	}

	scaffold := &policy.Policy{
		ConsentMode: policy.ConsentOnce,
		Rules: []policy.Rule{
			{
				Condition: policy.Condition{Kind: "scope_includes", Scope: "tools.write"},
				Action:    policy.Action{Kind: policy.ActionRequireConsent, Message: "This tool can modify state."},
			},
			{
				Condition: policy.Condition{Kind: "rate_limit", MaxPerWindow: 60, WindowSeconds: 60},
				Action:    policy.Action{Kind: policy.ActionDeny, Reason: "rate limit exceeded"},
			},
			{
				Condition: policy.Condition{Kind: "always"},
				Action:    policy.Action{Kind: policy.ActionAudit, Level: "info"},
			},
		},
		AuditConfig: policy.AuditConfig{Enabled: false},
	}
	if err := policy.Save(path, scaffold); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	path := resolvePolicyPath()
	pol, err := policy.Load(path)
	if err != nil {
		return err
	}

	fmt.Println(policyHeaderStyle.Render(path))
	fmt.Printf("consent mode: %s\n", pol.ConsentMode)
	if pol.AuditConfig.Enabled {
		fmt.Printf("audit sink: %s\n", pol.AuditConfig.FilePath)
	} else {
		fmt.Println(policyDimStyle.Render("audit sink: disabled"))
	}

	if len(pol.Rules) == 0 {
		fmt.Println(policyDimStyle.Render("no rules; every call is allowed"))
		return nil
	}
	fmt.Println(policyHeaderStyle.Render(fmt.Sprintf("rules (%s)", humanize.Comma(int64(len(pol.Rules))))))
	for i, rule := range pol.Rules {
		fmt.Printf("  %d. %s -> %s\n", i+1, describeCondition(rule.Condition), describeAction(rule.Action))
	}
	return nil
}

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	tool := args[0]
	var scope string
	if len(args) == 2 {
		scope = args[1]
	}

	pol, err := policy.Load(resolvePolicyPath())
	if err != nil {
		return err
	}

	// A fresh session with no cached approvals and an untouched rate window.
	action, sideEffects, err := pol.Evaluate(tool, scope,
		func(string) bool { return false },
		func(string) (bool, error) { return true, nil })
	if err != nil {
		return err
	}

	for _, se := range sideEffects {
		fmt.Println(policyDimStyle.Render("audit: level " + se.Level))
	}
	switch action.Kind {
	case policy.ActionAllow:
		fmt.Println(policyAllowStyle.Render("allow"))
	case policy.ActionDeny:
		fmt.Println(policyDenyStyle.Render("deny: " + action.Reason))
	case policy.ActionRequireConsent:
		fmt.Printf("require consent: %s\n", action.Message)
	}
	return nil
}

func describeCondition(c policy.Condition) string {
	switch c.Kind {
	case "always":
		return "always"
	case "tool_name_equals":
		return fmt.Sprintf("tool == %q", c.ToolName)
	case "scope_includes":
		return fmt.Sprintf("scope == %q", c.Scope)
	case "rate_limit":
		window := time.Duration(c.WindowSeconds) * time.Second
		return fmt.Sprintf("more than %s calls per %s", humanize.Comma(int64(c.MaxPerWindow)), window)
	default:
		return c.Kind
	}
}

func describeAction(a policy.Action) string {
	switch a.Kind {
	case policy.ActionAllow:
		return "allow"
	case policy.ActionDeny:
		return "deny (" + a.Reason + ")"
	case policy.ActionRequireConsent:
		return "require consent"
	case policy.ActionAudit:
		return "audit at " + a.Level
	default:
		return string(a.Kind)
	}
}
