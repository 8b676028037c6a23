// Package consent implements the interactive terminal consent prompt the
// policy interceptor's RequireConsent action uses when "mcpkernel serve"
// runs with --consent=prompt over a non-stdio transport: a single yes/no
// gate rather than a full TUI view.
package consent

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/lattice-mcp/kernel/internal/policy"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// Prompt runs an interactive huh.Confirm asking the user to approve tool's
// call. It satisfies policy.ConsentPrompt.
func Prompt(ctx context.Context, tool, message string) (bool, error) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Tool %q requests approval", tool)))
	if message != "" {
		fmt.Println(detailStyle.Render(message))
	}

	var approved bool
	confirm := huh.NewConfirm().
		Title("Allow this call?").
		Affirmative("Allow").
		Negative("Deny").
		Value(&approved)

	form := huh.NewForm(huh.NewGroup(confirm))
	if err := form.RunWithContext(ctx); err != nil {
		return false, fmt.Errorf("consent: prompt failed: %w", err)
	}
	return approved, nil
}

// AlwaysDeny is a policy.ConsentPrompt stub for non-interactive deployments
// that still configure RequireConsent rules: every request is refused
// rather than hanging on a TTY read that will never happen.
func AlwaysDeny(ctx context.Context, tool, message string) (bool, error) {
	return false, nil
}

// AlwaysAllow is a policy.ConsentPrompt stub for tests and trusted
// automation contexts.
func AlwaysAllow(ctx context.Context, tool, message string) (bool, error) {
	return true, nil
}

// compile-time checks that the stubs and Prompt satisfy the shape
// policy.Interceptor expects.
var (
	_ policy.ConsentPrompt = Prompt
	_ policy.ConsentPrompt = AlwaysDeny
	_ policy.ConsentPrompt = AlwaysAllow
)
