package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/backitup/backitup/internal/agent"
	"github.com/backitup/backitup/internal/cleanup"
	"github.com/backitup/backitup/internal/retention"
)

var (
	cleanupSchedule string
	cleanupDryRun   bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Enforce retention policies now",
	Long: `Enforce retention for one schedule, or for every configured schedule
when --schedule is omitted.

Each deletion candidate passes through the seven safety gates before
anything is removed; rejected candidates are recorded in the deletion
log and kept.

Examples:
  backitup cleanup
  backitup cleanup --schedule nightly
  backitup cleanup --schedule nightly --dry-run`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupSchedule, "schedule", "", "clean a single schedule (default: all)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would be deleted without deleting")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	logger, closeLogs := newLogger()
	defer func() { _ = closeLogs() }()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	agentCtx, err := agent.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = agentCtx.Close() }()

	var names []string
	if cleanupSchedule != "" {
		if _, ok := cfg.Schedules[cleanupSchedule]; !ok {
			return fmt.Errorf("unknown schedule %q", cleanupSchedule)
		}
		names = []string{cleanupSchedule}
	} else {
		for name := range cfg.Schedules {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	now := time.Now()
	for _, name := range names {
		sched := cfg.Schedules[name]
		outcome, err := agentCtx.Cleanup.Run(ctx, name, retention.Policy{
			MaxCount: sched.Retention.MaxCount,
			MaxDays:  sched.Retention.MaxDays,
		}, now, cleanupDryRun)
		if err != nil {
			return err
		}
		fmt.Printf("schedule %s:\n", name)
		printCleanupOutcome(outcome, cleanupDryRun)
	}
	return nil
}

func printCleanupOutcome(out cleanup.Outcome, dryRun bool) {
	if dryRun {
		for _, id := range out.WouldDrop {
			fmt.Printf("  would delete %s\n", id)
		}
		if len(out.WouldDrop) == 0 && out.Schedule != "" {
			fmt.Println("  nothing to delete")
		}
	}
	for _, id := range out.Deleted {
		fmt.Printf("  deleted %s\n", id)
	}
	for _, id := range out.Rejected {
		fmt.Printf("  rejected by safety gates: %s (kept)\n", id)
	}
	for _, id := range out.Failed {
		fmt.Printf("  delete failed: %s (still active)\n", id)
	}
}
