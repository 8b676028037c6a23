package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lattice-mcp/kernel/internal/protocol"
)

// ConsentPrompt asks a human to approve one call and reports whether they
// did. Implemented by internal/consent for interactive terminals; tests and
// non-interactive servers may supply an always-deny or always-allow stub.
type ConsentPrompt func(ctx context.Context, tool, message string) (approved bool, err error)

// SessionApprovals is the per-session consent cache the interceptor
// consults; *kernel.Session satisfies this through its
// ConsentApproved/ApproveConsent methods without the policy package
// importing kernel.
type SessionApprovals interface {
	ConsentApproved(tool string) bool
	ApproveConsent(tool string)
}

// Rejection outcomes reported through OnDenied and carried in tool-result
// metadata.
const (
	outcomeAllow         = "allow"
	OutcomeConsentDenied = "consent_denied"
	OutcomeRateLimited   = "rate_limited"
)

// Interceptor evaluates the policy chain for every tool call and resource
// read, producing the registry.Interceptor hook shape.
type Interceptor struct {
	mu     sync.RWMutex
	policy *Policy

	limiter *RateLimiter
	audit   *AuditLog
	prompt  ConsentPrompt

	// OnDenied fires after every rejection with OutcomeConsentDenied or
	// OutcomeRateLimited, so an observer can publish metrics without this
	// package importing obs. Set it before serving; nil means no observer.
	OnDenied func(subject, outcome string)
}

// NewInterceptor builds an Interceptor over the given policy, rate
// limiter, audit log, and consent prompt. prompt may be nil, in which case
// RequireConsent always denies (fail-closed default for non-interactive
// deployments).
func NewInterceptor(p *Policy, limiter *RateLimiter, audit *AuditLog, prompt ConsentPrompt) *Interceptor {
	return &Interceptor{policy: p, limiter: limiter, audit: audit, prompt: prompt}
}

// SetPolicy atomically swaps the active policy, called on a hot-reload
// event (internal/policy.Watch).
func (i *Interceptor) SetPolicy(p *Policy) {
	i.mu.Lock()
	i.policy = p
	i.mu.Unlock()
}

func (i *Interceptor) current() *Policy {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.policy
}

// decision is the surface-independent result of one policy-chain run;
// Check and CheckResource map it onto their respective wire shapes.
type decision struct {
	outcome    string
	reason     string
	retryAfter float64 // seconds until the window frees up; rate_limited only
}

// Check runs the full policy chain for one tool call against session's
// consent cache. It returns a non-nil *protocol.ToolResult to
// short-circuit the call, or nil to let the call proceed.
func (i *Interceptor) Check(ctx context.Context, tool, scope string, session SessionApprovals) (*protocol.ToolResult, error) {
	d, err := i.decide(ctx, tool, scope, session)
	if err != nil {
		return nil, err
	}
	if d.outcome == outcomeAllow {
		return nil, nil
	}
	return denyResult(d.reason, d.outcome, scope), nil
}

// CheckResource runs the policy chain for one resources/read. Unlike tool
// calls, a rejection surfaces as a JSON-RPC error (ResourceAccessDenied or
// RateLimitExceeded with a wire-accurate retry-after), never as an in-band
// result.
func (i *Interceptor) CheckResource(ctx context.Context, uri, scope string, session SessionApprovals) *protocol.Error {
	d, err := i.decide(ctx, uri, scope, session)
	if err != nil {
		return protocol.ErrInternalError(err.Error())
	}
	switch d.outcome {
	case outcomeAllow:
		return nil
	case OutcomeRateLimited:
		return protocol.ErrRateLimitExceeded(d.retryAfter)
	default:
		return protocol.ErrResourceAccessDenied(uri, d.reason)
	}
}

// decide evaluates the chain for one subject (a tool name or resource
// URI), emits audits and denial events, runs the consent prompt when a
// RequireConsent rule is live, and records approvals per the policy's
// consent mode.
func (i *Interceptor) decide(ctx context.Context, subject, scope string, session SessionApprovals) (decision, error) {
	p := i.current()

	var rateTripped bool
	rateCheck := func(t string) (bool, error) {
		if i.limiter == nil {
			return true, nil
		}
		ok := i.limiter.Allow(rateLimitKey(t))
		if !ok {
			rateTripped = true
		}
		return ok, nil
	}
	approved := func(t string) bool {
		if session == nil {
			return false
		}
		return session.ConsentApproved(t)
	}

	action, sideEffects, err := p.Evaluate(subject, scope, approved, rateCheck)
	if err != nil {
		return decision{}, fmt.Errorf("policy evaluation: %w", err)
	}

	for _, se := range sideEffects {
		i.emitAudit(subject, scope, se.Level, nil)
	}

	deny := func(reason string) decision {
		i.emitAudit(subject, scope, "warn", boolPtr(false))
		d := decision{outcome: OutcomeConsentDenied, reason: reason}
		if rateTripped {
			d.outcome = OutcomeRateLimited
			d.retryAfter = i.retryAfterSeconds(subject)
		}
		if i.OnDenied != nil {
			i.OnDenied(subject, d.outcome)
		}
		return d
	}

	switch action.Kind {
	case ActionAllow:
		i.emitAudit(subject, scope, "info", boolPtr(true))
		return decision{outcome: outcomeAllow}, nil

	case ActionDeny:
		return deny(action.Reason), nil

	case ActionRequireConsent:
		if i.prompt == nil {
			return deny("consent required but no prompt configured"), nil
		}
		approvedNow, err := i.prompt(ctx, subject, action.Message)
		if err != nil {
			return decision{}, fmt.Errorf("consent prompt: %w", err)
		}
		if !approvedNow {
			return deny("user declined"), nil
		}
		storeApproval(p, session, subject)
		i.emitAudit(subject, scope, "info", boolPtr(true))
		return decision{outcome: outcomeAllow}, nil

	default:
		return decision{}, fmt.Errorf("policy: unhandled action kind %q", action.Kind)
	}
}

// storeApproval records a granted consent under the key the active mode
// caches by: the whole session for Once, the subject for PerTool. Always
// caches nothing, and Never cannot reach this point.
func storeApproval(p *Policy, session SessionApprovals, subject string) {
	if session == nil {
		return
	}
	switch p.ConsentMode {
	case ConsentAlways, ConsentNever:
	case ConsentOnce:
		session.ApproveConsent(consentAllKey)
	default:
		session.ApproveConsent(subject)
	}
}

func (i *Interceptor) retryAfterSeconds(subject string) float64 {
	if i.limiter == nil {
		return 0
	}
	return i.limiter.RetryAfter(rateLimitKey(subject)).Seconds()
}

func (i *Interceptor) emitAudit(tool, scope, level string, approved *bool) {
	if i.audit == nil {
		return
	}
	i.audit.Append(AuditEntry{
		Timestamp: time.Now(),
		Tool:      tool,
		Scope:     scope,
		Level:     level,
		Approved:  approved,
	})
}

func denyResult(reason, code, scope string) *protocol.ToolResult {
	return &protocol.ToolResult{
		Content: []protocol.Content{protocol.TextContent("Permission denied: " + reason)},
		IsError: true,
		Meta: map[string]any{
			"reason": code,
			"scope":  scope,
		},
	}
}

func rateLimitKey(tool string) string { return tool }

func boolPtr(b bool) *bool { return &b }
