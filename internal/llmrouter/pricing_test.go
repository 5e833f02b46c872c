package llmrouter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateCostUSD(t *testing.T) {
	cases := []struct {
		name             string
		model            string
		promptTokens     int
		completionTokens int
		want             float64
	}{
		{"claude sonnet", "claude-sonnet-4-5-20250929", 1_000_000, 1_000_000, 18.0},
		{"claude opus", "claude-opus-4-5", 1_000_000, 0, 15.0},
		{"claude haiku", "claude-haiku-4-5", 0, 1_000_000, 4.0},
		{"gpt-4o-mini", "gpt-4o-mini", 1_000_000, 1_000_000, 0.75},
		{"unknown model falls back to sonnet rate", "some-future-model-9000", 1_000_000, 0, 3.0},
		{"zero tokens", "claude-sonnet-4-5", 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EstimateCostUSD(tc.model, tc.promptTokens, tc.completionTokens)
			assert.InDelta(t, tc.want, got, 0.0001)
		})
	}
}

func TestDetectTruncation(t *testing.T) {
	longContent := func(endsWith string) string {
		body := ""
		for i := 0; i < 600; i++ {
			body += "a"
		}
		return body + endsWith
	}

	cases := []struct {
		name         string
		finishReason string
		outputTokens int
		content      string
		want         bool
	}{
		{"length finish reason always truncated", "length", 10, "short", true},
		{"content_filter always truncated", "content_filter", 10, "short", true},
		{"stop with short output never truncated", "stop", 50, "a fragment", false},
		{"stop with long output ending mid-sentence", "stop", 600, longContent("and then"), true},
		{"stop with long output ending on period", "stop", 600, longContent("."), false},
		{"stop with long output ending on closing quote", "stop", 600, longContent("”"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DetectTruncation(tc.finishReason, tc.outputTokens, tc.content)
			assert.Equal(t, tc.want, got)
		})
	}
}
