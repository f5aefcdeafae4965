package usage

import "time"

// UsageData is the root structure stored in persistence.
type UsageData struct {
	Version   string          `json:"version"`
	Aggregate AggregatedStats `json:"aggregate"`
}

// AggregatedStats holds counters in total and broken down by model.
type AggregatedStats struct {
	Total   GenerationCounts            `json:"total"`
	ByModel map[string]GenerationCounts `json:"by_model"`
}

// GenerationCounts holds accounting sums for external generation calls.
type GenerationCounts struct {
	Generations    int64 `json:"generations"`
	Failures       int64 `json:"failures"`
	PromptChars    int64 `json:"prompt_chars"`
	OutputChars    int64 `json:"output_chars"`
	TotalLatencyMS int64 `json:"total_latency_ms"`
}

// Add accumulates one generation call into the counters.
func (g *GenerationCounts) Add(promptChars, outputChars int, latency time.Duration, failed bool) {
	if failed {
		g.Failures++
	} else {
		g.Generations++
	}
	g.PromptChars += int64(promptChars)
	g.OutputChars += int64(outputChars)
	g.TotalLatencyMS += latency.Milliseconds()
}
