// Package policy implements the policy/consent interceptor:
// rule evaluation, consent caching, sliding-window-equivalent rate
// limiting, secret redaction, and audit emission, backed by a TOML file on
// disk with fsnotify hot-reload.
package policy

import (
	"fmt"
)

// Condition is the predicate half of a policy Rule.
type Condition struct {
	Kind string `toml:"kind"` // "tool_name_equals" | "scope_includes" | "rate_limit" | "always"

	// ToolName is used by Kind == tool_name_equals.
	ToolName string `toml:"tool_name,omitempty"`
	// Scope is used by Kind == scope_includes.
	Scope string `toml:"scope,omitempty"`
	// MaxPerWindow and WindowSeconds are used by Kind == rate_limit.
	MaxPerWindow  int `toml:"max_per_window,omitempty"`
	WindowSeconds int `toml:"window_seconds,omitempty"`
}

// ActionKind enumerates the terminal/side-effectful actions a Rule can
// carry.
type ActionKind string

const (
	ActionAllow          ActionKind = "allow"
	ActionDeny           ActionKind = "deny"
	ActionRequireConsent ActionKind = "require_consent"
	ActionAudit          ActionKind = "audit"
)

// Action is the effect half of a Rule.
type Action struct {
	Kind    ActionKind `toml:"kind"`
	Reason  string     `toml:"reason,omitempty"`  // Deny
	Message string     `toml:"message,omitempty"` // RequireConsent
	Level   string     `toml:"level,omitempty"`   // Audit
}

// IsTerminal reports whether Kind ends rule evaluation.
func (k ActionKind) IsTerminal() bool {
	return k == ActionAllow || k == ActionDeny || k == ActionRequireConsent
}

// Rule is one {condition, action} pair in the ordered policy chain.
type Rule struct {
	Condition Condition `toml:"condition"`
	Action    Action    `toml:"action"`
}

// ConsentMode controls how RequireConsent is re-prompted across calls in
// the same session: Always re-prompts on every call and caches nothing;
// Once caches the first approval for the whole session, any tool; PerTool
// caches one approval per tool name; Never disables prompting entirely, so
// a RequireConsent rule behaves as a Deny.
type ConsentMode string

const (
	ConsentAlways  ConsentMode = "always"
	ConsentOnce    ConsentMode = "once"
	ConsentNever   ConsentMode = "never"
	ConsentPerTool ConsentMode = "per_tool"
)

// consentAllKey is the approval-cache key mode Once stores under: one
// approval unlocks the whole session rather than a single tool.
const consentAllKey = "*"

// Policy is the full evaluatable ruleset plus global settings.
type Policy struct {
	ConsentMode ConsentMode `toml:"consent_mode"`
	Rules       []Rule      `toml:"rules"`
	AuditConfig AuditConfig `toml:"audit"`
}

// AuditConfig controls where audit entries are written.
type AuditConfig struct {
	Enabled  bool   `toml:"enabled"`
	FilePath string `toml:"file_path,omitempty"`
}

// Default returns the built-in policy used when no file is present: allow
// everything, consent mode Once, audit disabled.
func Default() *Policy {
	return &Policy{
		ConsentMode: ConsentOnce,
		Rules:       nil,
		AuditConfig: AuditConfig{Enabled: false},
	}
}

// Evaluate runs the rule chain against one call. It is a pure function of
// (policy, tool, scope, approval set, rate state). It returns the first
// terminal action; Audit actions along the way are returned in sideEffects
// for the caller to emit, and evaluation continues past them.
func (p *Policy) Evaluate(tool, scope string, approved func(tool string) bool, rateCheck func(tool string) (bool, error)) (Action, []Action, error) {
	var sideEffects []Action
	for _, rule := range p.Rules {
		matched, err := matches(rule.Condition, tool, scope, rateCheck)
		if err != nil {
			return Action{}, sideEffects, err
		}
		if !matched {
			continue
		}
		if rule.Action.Kind == ActionAudit {
			sideEffects = append(sideEffects, rule.Action)
			continue
		}
		if rule.Action.Kind == ActionRequireConsent {
			switch p.ConsentMode {
			case ConsentNever:
				return Action{Kind: ActionDeny, Reason: "consent prompting disabled"}, sideEffects, nil
			case ConsentAlways:
				// Never cached; always reaches the prompt.
			case ConsentOnce:
				if approved(consentAllKey) {
					return Action{Kind: ActionAllow}, sideEffects, nil
				}
			default: // ConsentPerTool and the zero value
				if approved(tool) {
					return Action{Kind: ActionAllow}, sideEffects, nil
				}
			}
		}
		return rule.Action, sideEffects, nil
	}
	return Action{Kind: ActionAllow}, sideEffects, nil
}

func matches(c Condition, tool, scope string, rateCheck func(tool string) (bool, error)) (bool, error) {
	switch c.Kind {
	case "always":
		return true, nil
	case "tool_name_equals":
		return c.ToolName == tool, nil
	case "scope_includes":
		return c.Scope == scope, nil
	case "rate_limit":
		if rateCheck == nil {
			return false, fmt.Errorf("policy: rate_limit condition with no rate checker configured")
		}
		withinLimit, err := rateCheck(tool)
		if err != nil {
			return false, err
		}
		return !withinLimit, nil
	default:
		return false, fmt.Errorf("policy: unknown condition kind %q", c.Kind)
	}
}
