package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/fieldnote-ai/warden/internal/permissions"
	"github.com/fieldnote-ai/warden/internal/providers"
)

// Tool is spec §3's Tool descriptor made concrete: a name, a description and
// JSON-schema parameters for the LLM, and an executor.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// registeredTool pairs a Tool with the permission tier it was registered
// under (spec §3 "every tool descriptor carries a tier").
type registeredTool struct {
	tool Tool
	tier permissions.Tier
}

// Registry is spec §2's L1 Tool Registry: the catalogue of tools available
// to the agent loop, keyed by canonical name, each carrying its permission
// tier for the Permission Engine to evaluate against.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registeredTool)}
}

// Register adds a tool to the registry under the given permission tier.
// Re-registering a name replaces the previous entry.
func (r *Registry) Register(tool Tool, tier permissions.Tier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = &registeredTool{tool: tool, tier: tier}
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return rt.tool, true
}

// Tier returns the permission tier a tool was registered under. Unknown
// tools default to permissions.CRITICAL (fail toward requiring approval).
func (r *Registry) Tier(name string) permissions.Tier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rt, ok := r.tools[name]; ok {
		return rt.tier
	}
	return permissions.CRITICAL
}

// List returns the names of every registered tool.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// ProviderDefs returns every registered tool's provider-facing schema,
// unfiltered. Tier-based gating happens later, per call, in
// permissions.Engine.Evaluate — this just lists what's registered.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, rt := range r.tools {
		defs = append(defs, ToProviderDef(rt.tool))
	}
	return defs
}

// ToProviderDef converts a Tool into the provider wire schema.
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

// ExecuteWithContext runs the named tool with request-scoped context values
// populated (spec §3's execution context: channel/chat/peer/session plus an
// optional async completion callback). Returns an error-shaped Result for
// unknown tool names rather than an error return, matching how the agent
// loop already folds tool-call failures into ordinary tool messages.
func (r *Registry) ExecuteWithContext(
	ctx context.Context,
	name string,
	args map[string]interface{},
	channel, chatID, peerKind, sessionKey string,
	asyncCB AsyncCallback,
) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	ctx = WithToolChannel(ctx, channel)
	ctx = WithToolChatID(ctx, chatID)
	ctx = WithToolPeerKind(ctx, peerKind)
	ctx = WithToolSandboxKey(ctx, sessionKey)
	if asyncCB != nil {
		ctx = WithToolAsyncCB(ctx, asyncCB)
	}

	return tool.Execute(ctx, args)
}
