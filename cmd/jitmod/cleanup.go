package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"jitmod/cmd/jitmod/ui"
	"jitmod/internal/config"
	"jitmod/internal/store"
)

var (
	cleanupMode       string
	cleanupFailedAge  float64
	cleanupPendingAge float64
	cleanupMaxBytes   int64
	cleanupDryRun     bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Apply the cache retention policy",
	Long: `Deletes Failed records past their retention age and resets stale
Pending reservations left behind by crashed generations, making those
keys reclaimable. Ready modules are never touched.

Flag defaults come from the cache section of the config file; an
explicitly set flag wins over the file.

With --dry-run, reports what the policy would remove without changing
anything.`,
	RunE: runCleanup,
}

func init() {
	d := store.DefaultCleanupConfig()
	cleanupCmd.Flags().StringVar(&cleanupMode, "mode", d.Mode, "Cleanup mode: age or size")
	cleanupCmd.Flags().Float64Var(&cleanupFailedAge, "max-failed-age-hours", d.MaxFailedAgeHours, "Delete Failed records older than this many hours (0 disables)")
	cleanupCmd.Flags().Float64Var(&cleanupPendingAge, "max-pending-age-minutes", d.MaxPendingAgeMinutes, "Reset Pending reservations older than this many minutes (0 disables)")
	cleanupCmd.Flags().Int64Var(&cleanupMaxBytes, "max-source-bytes", d.MaxSourceBytes, "Size mode: byte budget across Failed records (0 disables)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Report what would be removed without deleting")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	policy := cleanupConfigFrom(cfg)
	if cmd.Flags().Changed("mode") {
		policy.Mode = cleanupMode
	}
	if cmd.Flags().Changed("max-failed-age-hours") {
		policy.MaxFailedAgeHours = cleanupFailedAge
	}
	if cmd.Flags().Changed("max-pending-age-minutes") {
		policy.MaxPendingAgeMinutes = cleanupPendingAge
	}
	if cmd.Flags().Changed("max-source-bytes") {
		policy.MaxSourceBytes = cleanupMaxBytes
	}
	policy.DryRun = cleanupDryRun

	st, err := store.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stats, err := st.Cleanup(ctx, policy)
	if err != nil {
		return err
	}

	styles := ui.DefaultStyles()
	title := "Cleanup"
	if policy.DryRun {
		title = "Cleanup (dry run)"
	}
	tbl := ui.NewTable(title, "Result", "Value")
	if policy.DryRun {
		tbl.AddRow("Failed records eligible", fmt.Sprintf("%d", stats.FailedDeleted))
		tbl.AddRow("Stale reservations eligible", fmt.Sprintf("%d", stats.StalePendingReset))
		tbl.AddRow("Bytes reclaimable", formatBytes(stats.BytesFreed))
	} else {
		tbl.AddRow("Failed records deleted", fmt.Sprintf("%d", stats.FailedDeleted))
		tbl.AddRow("Stale reservations reset", fmt.Sprintf("%d", stats.StalePendingReset))
		tbl.AddRow("Bytes freed", formatBytes(stats.BytesFreed))
		tbl.AddRow("Duration", stats.Duration.Round(time.Millisecond).String())
	}
	fmt.Print(tbl.View(styles))

	return nil
}
