package agent

import (
	"fmt"
	"strings"

	"github.com/fieldnote-ai/warden/internal/llmrouter"
	"github.com/fieldnote-ai/warden/internal/permissions"
	"github.com/fieldnote-ai/warden/internal/tools"
)

// RuntimeStateInput carries everything BuildRuntimeState needs to render the
// fragment injected at the top of every turn (spec §4.2 "runtime-state
// block"). Ported from original_source/core/runtime_state.py's
// build_runtime_state.
type RuntimeStateInput struct {
	Fingerprint   string
	Registry      *tools.Registry
	CurrentUser   string
	Authority     permissions.AuthorityTier
	Channel       string
	ContextMode   string // "full" | "pruned" | "summarized"
	ActiveProcs   int
	MaxProcs      int
	ProviderNames []string // this task type's configured candidate chain, in fallback order

	// ProviderStats carries the router's per-provider call/failure/cost
	// counters (spec §4.4 "surface provider stats through the runtime-state
	// block so the model can react").
	ProviderStats []llmrouter.ProviderStat
	// LastCallTruncated reports whether the previous completion in this
	// session was flagged as suspected-truncated, so the model can decide
	// to ask a clarifying question or continue the thought instead of
	// silently treating a cut-off reply as complete.
	LastCallTruncated bool
}

// BuildRuntimeState renders the XML fragment the agent loop prepends to the
// system prompt each turn, giving the model an up-to-date picture of its
// own authority and tool surface without a tool call.
func BuildRuntimeState(in RuntimeStateInput) string {
	var safe, moderate, destructive, critical int
	if in.Registry != nil {
		for _, name := range in.Registry.List() {
			switch in.Registry.Tier(name) {
			case permissions.SAFE:
				safe++
			case permissions.MODERATE:
				moderate++
			case permissions.DESTRUCTIVE:
				destructive++
			case permissions.CRITICAL:
				critical++
			}
		}
	}
	total := safe + moderate + destructive + critical

	var b strings.Builder
	b.WriteString("<runtime-state>\n")
	fmt.Fprintf(&b, "  <fingerprint>%s</fingerprint>\n", in.Fingerprint)
	fmt.Fprintf(&b, "  <tools total=\"%d\" safe=\"%d\" moderate=\"%d\" destructive=\"%d\" critical=\"%d\"/>\n",
		total, safe, moderate, destructive, critical)
	fmt.Fprintf(&b, "  <authority current_user=%q channel=%q tier=%q/>\n", in.CurrentUser, in.Channel, string(in.Authority))
	fmt.Fprintf(&b, "  <context mode=%q/>\n", orDefault(in.ContextMode, "full"))
	fmt.Fprintf(&b, "  <processes active=\"%d\" max=\"%d\"/>\n", in.ActiveProcs, in.MaxProcs)
	if len(in.ProviderNames) > 0 {
		fmt.Fprintf(&b, "  <providers>%s</providers>\n", strings.Join(in.ProviderNames, ","))
	}
	for _, s := range in.ProviderStats {
		fmt.Fprintf(&b, "  <provider_stat name=%q calls=\"%d\" failures=\"%d\" cost_usd=\"%.4f\"/>\n",
			s.Provider, s.Calls, s.Failures, s.CostUSD)
	}
	if in.LastCallTruncated {
		b.WriteString("  <truncation suspected=\"true\"/>\n")
	}
	b.WriteString("</runtime-state>")
	return b.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
