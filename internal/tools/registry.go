package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/quantumclaw/quantumclaw/internal/approvals"
	"github.com/quantumclaw/quantumclaw/internal/audit"
	"github.com/quantumclaw/quantumclaw/internal/providers"
	"github.com/quantumclaw/quantumclaw/internal/trust"
)

// Tool is anything the agent loop can hand to a model as a callable
// function and execute once the model asks for it.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// AsyncCallback delivers a tool's final result once an Async placeholder
// Result has already been returned to the model, e.g. for long-running
// exec approvals or subagent spawns.
type AsyncCallback func(toolName string, result *Result)

// ApprovalAware lets a tool learn its own call's approval decision before
// doing irreversible work, independent of the registry-level trust/approval
// pipeline (used by tools with their own finer-grained ask gates, like exec).
type ApprovalAware interface {
	SetApprovalDecision(allowed bool, reason string)
}

// PathAllowable is implemented by filesystem tools that can be scoped to
// an allow/deny prefix list at registration time (managed mode workspaces).
type PathAllowable interface {
	AllowPaths(prefixes ...string)
	DenyPaths(prefixes ...string)
}

// ToProviderDef converts a Tool into the wire schema sent to an LLM
// provider as a callable function.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// Registry holds every tool the runtime knows about and is the single
// choke point tool calls pass through: trust-kernel evaluation, approval
// enqueue/await, rate limiting, and audit logging all happen inside
// ExecuteWithContext before a tool's own Execute ever runs.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	rateLimiter *ToolRateLimiter
	scrub       bool

	trust     *trust.Kernel
	approvals *approvals.Store
	audit     *audit.Log

	approvalTimeout time.Duration
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:           make(map[string]Tool),
		approvalTimeout: approvals.DefaultTTL,
	}
}

// Register adds or replaces a tool under its own Name().
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool, e.g. when an MCP server disconnects.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool name, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ProviderDefs returns the full unfiltered tool list in provider wire
// format. Callers that need policy filtering should go through
// PolicyEngine.FilterTools instead.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		defs = append(defs, ToProviderDef(r.tools[name]))
	}
	return defs
}

// SetRateLimiter attaches a per-agent-per-hour tool call limiter.
func (r *Registry) SetRateLimiter(rl *ToolRateLimiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimiter = rl
}

// SetScrubbing records the credential-scrubbing flag. ExecuteWithContext
// does not read it: tool results reach the model unredacted either way.
func (r *Registry) SetScrubbing(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrub = enabled
}

// SetTrustKernel wires the hard/soft rule evaluator consulted before every
// tool call.
func (r *Registry) SetTrustKernel(k *trust.Kernel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trust = k
}

// SetApprovals wires the pending-approval queue and audit log consulted
// when the trust kernel returns EffectAsk.
func (r *Registry) SetApprovals(store *approvals.Store, log *audit.Log) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvals = store
	r.audit = log
}

// SetApprovalTimeout overrides how long ExecuteWithContext waits on a
// pending approval before treating it as denied.
func (r *Registry) SetApprovalTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvalTimeout = d
}

// Execute runs a tool call with no channel/session context attached. Used
// by subagents invoking tools on their own behalf.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	return r.ExecuteWithContext(ctx, name, args, "", "", "", "", nil)
}

// ExecuteWithContext is the single dispatch point every tool call in the
// runtime passes through:
//
//  1. look up the tool
//  2. consult the trust kernel (hard rules win, soft rules default allow)
//  3. on EffectDeny, return immediately without running the tool
//  4. on EffectAsk, enqueue an approval request and block (bounded by
//     approvalTimeout) until an operator resolves it or it expires
//  5. run the tool and record the outcome to the audit log
func (r *Registry) ExecuteWithContext(
	ctx context.Context,
	name string,
	args map[string]interface{},
	channel, chatID, peerKind, sessionKey string,
	asyncCB AsyncCallback,
) *Result {
	start := time.Now()

	r.mu.RLock()
	t, ok := r.tools[name]
	limiter := r.rateLimiter
	kernel := r.trust
	approvalStore := r.approvals
	auditLog := r.audit
	timeout := r.approvalTimeout
	r.mu.RUnlock()

	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	agent := sessionKey
	if agent == "" {
		agent = channel + ":" + chatID
	}

	if limiter != nil && !limiter.Allow(agent) {
		if auditLog != nil {
			auditLog.Record(ctx, audit.Entry{Agent: agent, Channel: channel, Kind: "tool", Name: name, Result: "deny", Reason: "rate limit exceeded"})
		}
		return ErrorResult("tool rate limit exceeded, try again later")
	}

	if kernel != nil {
		decision := kernel.Check(name, args)
		switch decision.Effect {
		case trust.EffectDeny:
			if auditLog != nil {
				auditLog.Record(ctx, audit.Entry{Agent: agent, Channel: channel, Kind: "policy", Name: name, Result: "deny", Reason: decision.Reason})
			}
			reason := decision.Reason
			if reason == "" {
				reason = "blocked by trust rule " + decision.Rule
			}
			return ErrorResult(fmt.Sprintf("tool call denied: %s", reason))

		case trust.EffectAsk:
			if approvalStore == nil {
				if auditLog != nil {
					auditLog.Record(ctx, audit.Entry{Agent: agent, Channel: channel, Kind: "policy", Name: name, Result: "deny", Reason: "approval required but no approval store configured"})
				}
				return ErrorResult("tool call requires approval, but approvals are not configured")
			}

			reqID, err := approvalStore.RequestApproval(name, agent, args)
			if err != nil {
				return ErrorResult(fmt.Sprintf("failed to request approval: %v", err))
			}
			if auditLog != nil {
				rawArgs, _ := json.Marshal(args)
				auditLog.Record(ctx, audit.Entry{Agent: agent, Channel: channel, Kind: "policy", Name: name, Args: rawArgs, Result: "pending", Reason: decision.Reason})
			}

			awaitCtx, cancel := context.WithTimeout(ctx, timeout)
			approved, err := approvalStore.Await(awaitCtx, reqID)
			cancel()
			if err != nil || approved != approvals.DecisionAllow {
				reason := "denied by operator"
				if err != nil {
					reason = "approval timed out"
				}
				if auditLog != nil {
					auditLog.Record(ctx, audit.Entry{Agent: agent, Channel: channel, Kind: "policy", Name: name, Result: "deny", Reason: reason})
				}
				return ErrorResult(fmt.Sprintf("tool call not approved: %s", reason))
			}
		}
	}

	if aware, ok := t.(ApprovalAware); ok {
		aware.SetApprovalDecision(true, "")
	}

	runCtx := WithToolAsyncCB(ctx, asyncCB)
	runCtx = WithToolChannel(runCtx, channel)
	runCtx = WithToolChatID(runCtx, chatID)
	runCtx = WithToolPeerKind(runCtx, peerKind)
	runCtx = WithToolSandboxKey(runCtx, sessionKey)

	result := t.Execute(runCtx, args)

	if auditLog != nil {
		status := "ok"
		reason := ""
		if result != nil && result.IsError {
			status = "error"
			if result.Err != nil {
				reason = result.Err.Error()
			}
		}
		auditLog.Record(ctx, audit.Entry{
			Agent:      agent,
			Channel:    channel,
			Kind:       "tool",
			Name:       name,
			Result:     status,
			Reason:     reason,
			DurationMS: time.Since(start).Milliseconds(),
		})
	}

	if result != nil && result.Async && asyncCB != nil {
		slog.Debug("tool returned async placeholder", "tool", name)
	}

	return result
}
