package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"jitmod/cmd/jitmod/ui"
	"jitmod/internal/config"
	"jitmod/internal/store"
	"jitmod/internal/usage"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache and backend usage statistics",
	Long: `Prints the state of the module cache (ready, pending and failed
records) and the accumulated backend usage per model.`,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}

	styles := ui.DefaultStyles()

	cache := ui.NewTable("Module Cache", "Metric", "Value")
	cache.AddRow("Total records", fmt.Sprintf("%d", stats.TotalRecords))
	cache.AddRow("Ready", fmt.Sprintf("%d", stats.ReadyCount))
	cache.AddRow("Pending", fmt.Sprintf("%d", stats.PendingCount))
	cache.AddRow("Failed", fmt.Sprintf("%d", stats.FailedCount))
	cache.AddRow("Source bytes", formatBytes(stats.TotalSourceBytes))
	if !stats.OldestRecord.IsZero() {
		cache.AddRow("Oldest record", stats.OldestRecord.Local().Format(time.RFC3339))
		cache.AddRow("Newest record", stats.NewestRecord.Local().Format(time.RFC3339))
	}
	fmt.Print(cache.View(styles))

	if len(stats.ByModel) > 0 {
		byModel := ui.NewTable("Ready Modules by Model", "Model", "Modules")
		for _, model := range sortedKeys(stats.ByModel) {
			byModel.AddRow(model, fmt.Sprintf("%d", stats.ByModel[model]))
		}
		fmt.Println()
		fmt.Print(byModel.View(styles))
	}

	tracker, err := usage.NewTracker(cfg.UsagePath())
	if err != nil {
		// Stats still useful without the usage file.
		logger.Debug("Usage stats unavailable")
		return nil
	}
	summary := tracker.Summary()
	if summary.Total.Generations == 0 && summary.Total.Failures == 0 {
		return nil
	}

	usageTbl := ui.NewTable("Backend Usage", "Model", "Generations", "Failures", "Prompt Chars", "Output Chars", "Avg Latency")
	models := make([]string, 0, len(summary.ByModel))
	for model := range summary.ByModel {
		models = append(models, model)
	}
	sort.Strings(models)
	for _, model := range models {
		usageTbl.AddRow(usageRow(model, summary.ByModel[model])...)
	}
	usageTbl.AddRow(usageRow("(total)", summary.Total)...)
	fmt.Println()
	fmt.Print(usageTbl.View(styles))

	return nil
}

func usageRow(label string, c usage.GenerationCounts) []string {
	return []string{
		label,
		fmt.Sprintf("%d", c.Generations),
		fmt.Sprintf("%d", c.Failures),
		fmt.Sprintf("%d", c.PromptChars),
		fmt.Sprintf("%d", c.OutputChars),
		avgLatency(c),
	}
}

func avgLatency(c usage.GenerationCounts) string {
	calls := c.Generations + c.Failures
	if calls == 0 {
		return "-"
	}
	return (time.Duration(c.TotalLatencyMS/calls) * time.Millisecond).String()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
