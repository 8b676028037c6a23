package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/lattice-mcp/kernel/internal/protocol"
)

// TemplatePrompt renders a single user message from a template whose
// {name} placeholders are substituted from the call's arguments. Required
// arguments are enforced by the registry before Render runs.
type TemplatePrompt struct {
	name        string
	description string
	template    string
	arguments   []protocol.PromptArgument
}

// NewTemplatePrompt creates a prompt named name rendering template.
func NewTemplatePrompt(name, template string) *TemplatePrompt {
	return &TemplatePrompt{name: name, template: template}
}

// WithDescription sets the prompt's description.
func (p *TemplatePrompt) WithDescription(description string) *TemplatePrompt {
	p.description = description
	return p
}

// WithArgument declares one template argument.
func (p *TemplatePrompt) WithArgument(name, description string, required bool) *TemplatePrompt {
	p.arguments = append(p.arguments, protocol.PromptArgument{
		Name:        name,
		Description: description,
		Required:    required,
	})
	return p
}

func (p *TemplatePrompt) Describe() protocol.Prompt {
	return protocol.Prompt{
		Name:        p.name,
		Description: p.description,
		Arguments:   p.arguments,
	}
}

func (p *TemplatePrompt) Render(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
	rendered := p.template
	for key, value := range args {
		rendered = strings.ReplaceAll(rendered, fmt.Sprintf("{%s}", key), value)
	}
	return &protocol.GetPromptResult{
		Description: p.description,
		Messages: []protocol.PromptMessage{
			{Role: "user", Content: protocol.TextContent(rendered)},
		},
	}, nil
}

// Greeting is the built-in demo prompt: one required "name" argument
// spliced into a short greeting.
func Greeting() *TemplatePrompt {
	return NewTemplatePrompt("greeting", "Say hello to {name}.").
		WithDescription("A short greeting addressed to the given name.").
		WithArgument("name", "Who to greet", true)
}
