package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/backitup/backitup/internal/agent"
	"github.com/backitup/backitup/internal/backup"
	"github.com/backitup/backitup/internal/config"
	"github.com/backitup/backitup/internal/lockfile"
	"github.com/backitup/backitup/internal/scheduler"
)

var runDrainTimeout time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler daemon",
	Long: `Run the minute-granularity scheduler daemon.

Each configured schedule fires a backup-then-cleanup pipeline on every
minute its cron expression matches. A file lock next to the catalog
prevents two daemons from contending for the same store.

When the config file is edited while the daemon runs, schedules are
reloaded without a restart.

Examples:
  backitup run
  backitup run --config /etc/backitup/config.yaml --log-file /var/log/backitup.log`,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().DurationVar(&runDrainTimeout, "drain-timeout", 30*time.Second, "how long to wait for in-flight pipelines on shutdown")
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	logger, closeLogs := newLogger()
	defer func() { _ = closeLogs() }()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lockPath := filepath.Join(filepath.Dir(cfg.Database.Path), "backitup.lock")
	lock, ok, err := lockfile.TryAcquire(lockPath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("another backitup daemon already holds %s", lockPath)
	}
	defer func() { _ = lock.Release() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	reloadCh := make(chan struct{}, 1)
	if cfg.Path() != "" {
		watcher, err := watchConfig(cfg.Path(), logger, reloadCh)
		if err != nil {
			logger.Warn("config watcher unavailable, hot reload disabled", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	for {
		agentCtx, err := agent.New(ctx, cfg, logger)
		if err != nil {
			return err
		}

		sched := scheduler.New(cfg, scheduler.Options{
			Logger:       logger,
			DrainTimeout: runDrainTimeout,
			OnFire: func(fireCtx context.Context, fire scheduler.Fire) {
				logger.Info("schedule fired", "schedule", fire.Schedule, "at", fire.At)
				res, err := agentCtx.RunPipeline(fireCtx, fire.Schedule, backup.Flags{})
				if err != nil {
					logger.Error("pipeline failed", "schedule", fire.Schedule, "error", err)
					return
				}
				logger.Info("pipeline complete",
					"schedule", fire.Schedule,
					"artifact_id", res.Backup.ArtifactID,
					"volumes", len(res.Backup.VolumeResults),
					"deleted", len(res.Cleanup.Deleted),
					"rejected", len(res.Cleanup.Rejected),
					"duration", res.Backup.Duration)
			},
		})

		sched.Start(ctx)
		logger.Info("scheduler running", "schedules", len(cfg.Schedules), "lock", lockPath)

		reload := false
		select {
		case sig := <-sigCh:
			logger.Info("signal received, draining", "signal", sig.String())
		case <-ctx.Done():
		case <-reloadCh:
			logger.Info("config change detected, reloading schedules")
			reload = true
		}

		sched.Stop()
		if err := agentCtx.Close(); err != nil {
			logger.Warn("closing catalog", "error", err)
		}

		if !reload {
			return nil
		}

		newCfg, err := config.Load(cfg.Path())
		if err != nil {
			// Keep running on the last good configuration rather than
			// dying mid-edit.
			logger.Error("reloaded config is invalid, keeping previous", "error", err)
			continue
		}
		cfg = newCfg
	}
}
