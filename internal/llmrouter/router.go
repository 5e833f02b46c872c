// Package llmrouter implements spec §4.4's L2 LLM Router: it turns a
// task-type tag and a chat request into a completion while hiding provider
// selection, fallback, budget enforcement, and truncation detection from
// the agent loop.
package llmrouter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fieldnote-ai/warden/internal/config"
	"github.com/fieldnote-ai/warden/internal/providers"
	"github.com/fieldnote-ai/warden/internal/store"
)

// terminalChars mirrors original_source/core/provider_tracker.py's
// _TERMINAL_CHARS: punctuation that marks a complete sentence.
const terminalChars = ".!?}])\"'’”`"

// ProviderStat is a snapshot of one provider's in-memory call counters since
// process start. Complete/CompleteStream update these on every call; the
// agent loop surfaces them through the runtime-state block (spec §4.2
// "provider stats") so the model can see it is falling back or burning
// budget instead of that only showing up in operator-facing usage logs.
type ProviderStat struct {
	Provider string
	Calls    int
	Failures int
	CostUSD  float64
}

// Router resolves task types to ordered (provider, model) candidate chains,
// falls back across them on failure, and enforces the configured USD
// budgets. One Router is shared process-wide.
type Router struct {
	providers *providers.Registry
	cfg       config.RouterConfig
	usage     store.UsageStore

	mu        sync.Mutex
	taskSpent map[string]float64 // in-memory, reset with ResetTaskBudgets
	stats     map[string]*ProviderStat
}

// NewRouter builds a Router. cfg.Tasks maps task type -> ordered candidates;
// an unrecognized task type falls back to the "default" entry if present.
func NewRouter(reg *providers.Registry, cfg config.RouterConfig, usage store.UsageStore) *Router {
	if cfg.PerTaskBudgetUSD <= 0 {
		cfg.PerTaskBudgetUSD = 1.00
	}
	if cfg.PerDayBudgetUSD <= 0 {
		cfg.PerDayBudgetUSD = 20.00
	}
	return &Router{
		providers: reg,
		cfg:       cfg,
		usage:     usage,
		taskSpent: make(map[string]float64),
		stats:     make(map[string]*ProviderStat),
	}
}

// ResetTaskBudgets clears the in-memory per-task spend accumulator — called
// at the start of each new agent run, since the per-task ceiling in spec
// §4.4 bounds a single task's calls, not the store's full history.
func (r *Router) ResetTaskBudgets() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taskSpent = make(map[string]float64)
}

func (r *Router) candidates(taskType string) []config.RouterCandidate {
	if c, ok := r.cfg.Tasks[taskType]; ok && len(c) > 0 {
		return c
	}
	return r.cfg.Tasks["default"]
}

// CandidateProviders returns the ordered provider names configured for
// taskType's fallback chain, for the runtime-state block's <providers>
// list (spec §4.2 "provider stats").
func (r *Router) CandidateProviders(taskType string) []string {
	cands := r.candidates(taskType)
	if len(cands) == 0 {
		return nil
	}
	names := make([]string, 0, len(cands))
	for _, c := range cands {
		names = append(names, c.Provider)
	}
	return names
}

// Stats returns a snapshot of per-provider call/failure/cost counters
// accumulated since process start, sorted by provider name.
func (r *Router) Stats() []ProviderStat {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProviderStat, 0, len(r.stats))
	for _, s := range r.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// statFor returns provider's counter, creating it on first use. Callers
// must hold r.mu.
func (r *Router) statFor(provider string) *ProviderStat {
	s, ok := r.stats[provider]
	if !ok {
		s = &ProviderStat{Provider: provider}
		r.stats[provider] = s
	}
	return s
}

// Complete resolves taskType to its candidate chain and returns the first
// successful completion, falling back across candidates on provider error
// or a finish reason of "error". The returned UsageEntry is already
// recorded to the usage store.
func (r *Router) Complete(ctx context.Context, taskType string, req providers.ChatRequest, sessionKey string) (*providers.ChatResponse, *store.UsageEntry, error) {
	return r.run(ctx, taskType, req, sessionKey, func(p providers.Provider, model string, req providers.ChatRequest) (*providers.ChatResponse, error) {
		req.Model = model
		return p.Chat(ctx, req)
	})
}

// CompleteStream is Complete's streaming counterpart, forwarding chunks to
// onChunk. Mid-stream provider errors still trigger fallback to the next
// candidate — onChunk may therefore see a partial stream from a candidate
// that is ultimately discarded.
func (r *Router) CompleteStream(ctx context.Context, taskType string, req providers.ChatRequest, sessionKey string, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, *store.UsageEntry, error) {
	return r.run(ctx, taskType, req, sessionKey, func(p providers.Provider, model string, req providers.ChatRequest) (*providers.ChatResponse, error) {
		req.Model = model
		return p.ChatStream(ctx, req, onChunk)
	})
}

func (r *Router) run(
	ctx context.Context,
	taskType string,
	req providers.ChatRequest,
	sessionKey string,
	call func(p providers.Provider, model string, req providers.ChatRequest) (*providers.ChatResponse, error),
) (*providers.ChatResponse, *store.UsageEntry, error) {
	candidates := r.candidates(taskType)
	if len(candidates) == 0 {
		return nil, nil, fmt.Errorf("llmrouter: no candidates configured for task type %q", taskType)
	}

	if err := r.checkBudget(taskType); err != nil {
		return nil, nil, err
	}

	var lastErr error
	fallbackFrom := ""
	for _, cand := range candidates {
		p, err := r.providers.MustGet(cand.Provider)
		if err != nil {
			lastErr = err
			fallbackFrom = cand.Provider
			continue
		}

		start := time.Now()
		resp, callErr := call(p, cand.Model, req)
		latency := time.Since(start)

		if callErr != nil {
			lastErr = callErr
			r.recordFailure(cand.Provider, cand.Model, taskType, sessionKey, fallbackFrom, latency, callErr)
			fallbackFrom = cand.Provider
			continue
		}
		if resp.FinishReason == "error" {
			lastErr = fmt.Errorf("provider %s returned finish_reason=error", cand.Provider)
			r.recordFailure(cand.Provider, cand.Model, taskType, sessionKey, fallbackFrom, latency, lastErr)
			fallbackFrom = cand.Provider
			continue
		}

		entry := r.recordSuccess(cand.Provider, cand.Model, taskType, sessionKey, fallbackFrom, latency, resp)
		return resp, entry, nil
	}

	return nil, nil, fmt.Errorf("llmrouter: all candidates for task %q failed: %w", taskType, lastErr)
}

func (r *Router) checkBudget(taskType string) error {
	r.mu.Lock()
	spent := r.taskSpent[taskType]
	r.mu.Unlock()
	if spent >= r.cfg.PerTaskBudgetUSD {
		return fmt.Errorf("task %q: %w (spent $%.4f of $%.2f)", taskType, providers.ErrBudgetExceeded, spent, r.cfg.PerTaskBudgetUSD)
	}

	if r.usage != nil {
		dayStart := time.Now().UTC().Truncate(24 * time.Hour)
		total, err := r.usage.TotalCostSince(dayStart)
		if err == nil && total >= r.cfg.PerDayBudgetUSD {
			return fmt.Errorf("daily spend $%.2f: %w", total, providers.ErrBudgetExceeded)
		}
	}
	return nil
}

func (r *Router) recordFailure(provider, model, taskType, sessionKey, fallbackFrom string, latency time.Duration, err error) {
	entry := &store.UsageEntry{
		Timestamp:    time.Now().UTC(),
		Provider:     provider,
		Model:        model,
		TaskType:     taskType,
		SessionKey:   sessionKey,
		FallbackFrom: fallbackFrom,
		FinishReason: "error",
		LatencyMs:    int(latency.Milliseconds()),
	}
	if r.usage != nil {
		_ = r.usage.Record(entry)
	}

	r.mu.Lock()
	r.statFor(provider).Failures++
	r.mu.Unlock()
}

func (r *Router) recordSuccess(provider, model, taskType, sessionKey, fallbackFrom string, latency time.Duration, resp *providers.ChatResponse) *store.UsageEntry {
	var promptTokens, completionTokens int
	if resp.Usage != nil {
		promptTokens = resp.Usage.PromptTokens
		completionTokens = resp.Usage.CompletionTokens
	}
	cost := EstimateCostUSD(model, promptTokens, completionTokens)

	entry := &store.UsageEntry{
		Timestamp:          time.Now().UTC(),
		Provider:            provider,
		Model:                model,
		TaskType:            taskType,
		PromptTokens:        promptTokens,
		CompletionTokens:    completionTokens,
		CostUSD:              cost,
		SessionKey:           sessionKey,
		FallbackFrom:         fallbackFrom,
		FinishReason:         resp.FinishReason,
		LatencyMs:            int(latency.Milliseconds()),
		SuspectedTruncated:   DetectTruncation(resp.FinishReason, completionTokens, resp.Content),
	}

	r.mu.Lock()
	r.taskSpent[taskType] += cost
	stat := r.statFor(provider)
	stat.Calls++
	stat.CostUSD += cost
	r.mu.Unlock()

	if r.usage != nil {
		_ = r.usage.Record(entry)
	}
	return entry
}

// DetectTruncation classifies a completion as suspected-truncated, matching
// original_source/core/provider_tracker.py's detect_truncation: a "length"
// or "content_filter" finish reason is always truncated; a "stop" finish
// reason is heuristically truncated if the output is long and doesn't end
// on terminal punctuation.
func DetectTruncation(finishReason string, outputTokens int, content string) bool {
	switch finishReason {
	case "length", "content_filter":
		return true
	}
	if outputTokens > 500 {
		trimmed := strings.TrimRight(content, " \t\n\r")
		if trimmed != "" {
			last, _ := utf8.DecodeLastRuneInString(trimmed)
			if !strings.ContainsRune(terminalChars, last) {
				return true
			}
		}
	}
	return false
}
