package llmrouter

import "strings"

// modelRate is a per-million-token USD rate pair.
type modelRate struct {
	inputPerMillion  float64
	outputPerMillion float64
}

// ratesBySubstring is checked in order against the model name; the first
// substring match wins. Rates are approximate published list prices,
// grounded the same way the bedrock Claude client estimates cost: a
// switch over model-ID substrings rather than an exact-match table, since
// provider model strings carry date suffixes that drift over time.
var ratesBySubstring = []struct {
	substr string
	rate   modelRate
}{
	{"claude-opus", modelRate{15.0, 75.0}},
	{"claude-sonnet", modelRate{3.0, 15.0}},
	{"claude-haiku", modelRate{0.8, 4.0}},
	{"gpt-4o-mini", modelRate{0.15, 0.6}},
	{"gpt-4o", modelRate{2.5, 10.0}},
	{"gpt-4.1-mini", modelRate{0.4, 1.6}},
	{"gpt-4.1", modelRate{2.0, 8.0}},
	{"o3-mini", modelRate{1.1, 4.4}},
	{"o3", modelRate{2.0, 8.0}},
	{"gemini-1.5-pro", modelRate{1.25, 5.0}},
	{"gemini-1.5-flash", modelRate{0.075, 0.3}},
	{"deepseek", modelRate{0.27, 1.1}},
}

// defaultRate is used for unrecognized models — Claude Sonnet pricing,
// matching the bedrock client's own fallback.
var defaultRate = modelRate{3.0, 15.0}

func rateFor(model string) modelRate {
	lower := strings.ToLower(model)
	for _, entry := range ratesBySubstring {
		if strings.Contains(lower, entry.substr) {
			return entry.rate
		}
	}
	return defaultRate
}

// EstimateCostUSD estimates a call's cost from token counts and the model's
// per-million-token rate (spec §4.4: "estimates cost from tokens × rate").
func EstimateCostUSD(model string, promptTokens, completionTokens int) float64 {
	rate := rateFor(model)
	in := float64(promptTokens) * rate.inputPerMillion / 1_000_000
	out := float64(completionTokens) * rate.outputPerMillion / 1_000_000
	return in + out
}
