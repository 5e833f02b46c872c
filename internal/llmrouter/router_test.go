package llmrouter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldnote-ai/warden/internal/config"
	"github.com/fieldnote-ai/warden/internal/providers"
	"github.com/fieldnote-ai/warden/internal/store"
)

type fakeProvider struct {
	name    string
	err     error
	resp    *providers.ChatResponse
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return f.Chat(ctx, req)
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return f.name }

type fakeUsageStore struct {
	entries []*store.UsageEntry
}

func (s *fakeUsageStore) Record(e *store.UsageEntry) error {
	s.entries = append(s.entries, e)
	return nil
}

func (s *fakeUsageStore) TotalCostSince(since time.Time) (float64, error) {
	var total float64
	for _, e := range s.entries {
		if !e.Timestamp.Before(since) {
			total += e.CostUSD
		}
	}
	return total, nil
}

func (s *fakeUsageStore) ListRecent(limit int) ([]*store.UsageEntry, error) {
	return s.entries, nil
}

func testConfig() config.RouterConfig {
	return config.RouterConfig{
		Tasks: map[string][]config.RouterCandidate{
			"planning": {
				{Provider: "primary", Model: "primary-model"},
				{Provider: "secondary", Model: "secondary-model"},
			},
		},
		PerTaskBudgetUSD: 1.0,
		PerDayBudgetUSD:  20.0,
	}
}

func TestRouter_Complete_UsesFirstCandidate(t *testing.T) {
	reg := providers.NewRegistry()
	reg.Register(&fakeProvider{name: "primary", resp: &providers.ChatResponse{
		Content: "done.", FinishReason: "stop",
		Usage: &providers.Usage{PromptTokens: 100, CompletionTokens: 50},
	}})
	usage := &fakeUsageStore{}
	router := NewRouter(reg, testConfig(), usage)

	resp, entry, err := router.Complete(context.Background(), "planning", providers.ChatRequest{}, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "done.", resp.Content)
	assert.Equal(t, "primary", entry.Provider)
	assert.Empty(t, entry.FallbackFrom)
	require.Len(t, usage.entries, 1)
}

func TestRouter_Complete_FallsBackOnProviderError(t *testing.T) {
	reg := providers.NewRegistry()
	reg.Register(&fakeProvider{name: "primary", err: errors.New("rate limited")})
	reg.Register(&fakeProvider{name: "secondary", resp: &providers.ChatResponse{
		Content: "done.", FinishReason: "stop",
		Usage: &providers.Usage{PromptTokens: 10, CompletionTokens: 10},
	}})
	usage := &fakeUsageStore{}
	router := NewRouter(reg, testConfig(), usage)

	resp, entry, err := router.Complete(context.Background(), "planning", providers.ChatRequest{}, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "done.", resp.Content)
	assert.Equal(t, "secondary", entry.Provider)
	assert.Equal(t, "primary", entry.FallbackFrom)
	require.Len(t, usage.entries, 2) // failure record + success record
}

func TestRouter_Complete_FallsBackOnFinishReasonError(t *testing.T) {
	reg := providers.NewRegistry()
	reg.Register(&fakeProvider{name: "primary", resp: &providers.ChatResponse{FinishReason: "error"}})
	reg.Register(&fakeProvider{name: "secondary", resp: &providers.ChatResponse{
		Content: "ok", FinishReason: "stop",
		Usage: &providers.Usage{PromptTokens: 1, CompletionTokens: 1},
	}})
	usage := &fakeUsageStore{}
	router := NewRouter(reg, testConfig(), usage)

	_, entry, err := router.Complete(context.Background(), "planning", providers.ChatRequest{}, "")
	require.NoError(t, err)
	assert.Equal(t, "secondary", entry.Provider)
	assert.Equal(t, "primary", entry.FallbackFrom)
}

func TestRouter_Complete_AllCandidatesFail(t *testing.T) {
	reg := providers.NewRegistry()
	reg.Register(&fakeProvider{name: "primary", err: errors.New("down")})
	reg.Register(&fakeProvider{name: "secondary", err: errors.New("also down")})
	usage := &fakeUsageStore{}
	router := NewRouter(reg, testConfig(), usage)

	_, _, err := router.Complete(context.Background(), "planning", providers.ChatRequest{}, "")
	require.Error(t, err)
}

func TestRouter_Complete_UnknownTaskType(t *testing.T) {
	reg := providers.NewRegistry()
	router := NewRouter(reg, testConfig(), &fakeUsageStore{})

	_, _, err := router.Complete(context.Background(), "unknown-task", providers.ChatRequest{}, "")
	require.Error(t, err)
}

func TestRouter_Complete_RefusesWhenTaskBudgetExceeded(t *testing.T) {
	reg := providers.NewRegistry()
	reg.Register(&fakeProvider{name: "primary", resp: &providers.ChatResponse{
		Content: "x", FinishReason: "stop",
		Usage: &providers.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}, // ~$18 on sonnet rate
	}})
	usage := &fakeUsageStore{}
	cfg := testConfig()
	cfg.PerTaskBudgetUSD = 1.0
	router := NewRouter(reg, cfg, usage)

	_, _, err := router.Complete(context.Background(), "planning", providers.ChatRequest{}, "")
	require.NoError(t, err) // first call succeeds despite exceeding budget after the fact

	_, _, err = router.Complete(context.Background(), "planning", providers.ChatRequest{}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, providers.ErrBudgetExceeded)
}

func TestRouter_ResetTaskBudgets(t *testing.T) {
	reg := providers.NewRegistry()
	reg.Register(&fakeProvider{name: "primary", resp: &providers.ChatResponse{
		Content: "x", FinishReason: "stop",
		Usage: &providers.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000},
	}})
	usage := &fakeUsageStore{}
	cfg := testConfig()
	cfg.PerTaskBudgetUSD = 1.0
	router := NewRouter(reg, cfg, usage)

	_, _, err := router.Complete(context.Background(), "planning", providers.ChatRequest{}, "")
	require.NoError(t, err)

	router.ResetTaskBudgets()

	_, _, err = router.Complete(context.Background(), "planning", providers.ChatRequest{}, "")
	require.NoError(t, err)
}
