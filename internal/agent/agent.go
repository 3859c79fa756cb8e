// Package agent wires the catalog, replicators, volume pipeline, and
// orchestrators into one explicit Context value. The CLI builds a
// Context per invocation and the run daemon owns one for its lifetime;
// nothing in this module reaches for package-level mutable state.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/backitup/backitup/internal/backup"
	"github.com/backitup/backitup/internal/catalog"
	"github.com/backitup/backitup/internal/cleanup"
	"github.com/backitup/backitup/internal/config"
	"github.com/backitup/backitup/internal/replicator"
	"github.com/backitup/backitup/internal/retention"
	"github.com/backitup/backitup/internal/safety"
	"github.com/backitup/backitup/internal/volume"
)

// Context bundles everything one agent process needs to run backups
// and cleanups: configuration, the open catalog, the enabled
// replicators, and the orchestrators built on top of them.
type Context struct {
	Cfg    *config.Config
	Logger *slog.Logger

	Catalog *catalog.Catalog
	Local   replicator.Replicator // nil when local destination disabled
	Remote  replicator.Replicator // nil when remote destination disabled
	Volumes *volume.Pipeline      // nil when volume backup disabled

	Backup  *backup.Orchestrator
	Cleanup *cleanup.Orchestrator

	// TempRoot is the staging prefix every archive build stages under;
	// the archive builder refuses to remove anything outside it.
	TempRoot string
}

// PipelineResult aggregates one backup-then-cleanup firing.
type PipelineResult struct {
	Backup  backup.Result
	Cleanup cleanup.Outcome
}

// New opens the catalog, constructs the enabled replicators and the
// volume pipeline, and returns a ready Context. The caller must Close
// it when done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Context, error) {
	cat, err := catalog.Init(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	a := &Context{
		Cfg:      cfg,
		Logger:   logger,
		Catalog:  cat,
		TempRoot: filepath.Join(os.TempDir(), "backitup"),
	}

	if err := os.MkdirAll(a.TempRoot, 0750); err != nil {
		_ = cat.Close()
		return nil, fmt.Errorf("agent: creating staging root: %w", err)
	}

	if cfg.Local.Enabled {
		a.Local = replicator.NewLocal(cfg.Local.Path)
	}
	if cfg.Remote.Enabled {
		remote, err := replicator.NewRemote(ctx, replicator.RemoteOptions{
			Bucket:          cfg.Remote.Bucket,
			Prefix:          cfg.Remote.Prefix,
			Region:          cfg.Remote.Region,
			Endpoint:        cfg.Remote.Endpoint,
			AccessKeyID:     cfg.Remote.AccessKeyID,
			SecretAccessKey: cfg.Remote.SecretAccessKey,
		})
		if err != nil {
			_ = cat.Close()
			return nil, err
		}
		a.Remote = remote
	}

	if cfg.Volumes.Enabled {
		rt, err := volume.NewDockerRuntime()
		if err != nil {
			// The agent stays useful for file backups when the container
			// runtime is unreachable; each firing logs the degradation.
			logger.Warn("container runtime unavailable, volume backups disabled", "error", err)
		} else {
			a.Volumes = volume.New(rt, cat, cfg, logger, a.TempRoot)
		}
	}

	validator := safety.New(cat, a.Local, a.Remote, safety.Config{
		ArchivePrefix:              cfg.Archive.Prefix,
		LocalRoot:                  cfg.Local.Path,
		RemotePrefix:               cfg.Remote.Prefix,
		RemoteBucket:               cfg.Remote.Bucket,
		VerifyChecksumBeforeDelete: cfg.Safety.VerifyChecksumBeforeDelete,
	})

	a.Backup = backup.New(cfg, cat, a.Local, a.Remote, a.Volumes, logger, a.TempRoot)
	a.Cleanup = cleanup.New(cat, validator, a.Local, a.Remote, logger)

	return a, nil
}

// Close releases the catalog handle.
func (a *Context) Close() error {
	return a.Catalog.Close()
}

// RunPipeline runs one full backup-then-cleanup firing for schedule,
// the same chain the dispatcher drives on every matching minute. The
// cleanup half is skipped when the backup half fails: enforcing
// retention right after a failed capture could delete the only copies.
func (a *Context) RunPipeline(ctx context.Context, schedule string, flags backup.Flags) (PipelineResult, error) {
	var result PipelineResult

	backupRes, err := a.Backup.Run(ctx, schedule, flags)
	result.Backup = backupRes
	if err != nil {
		return result, err
	}

	sched, ok := a.Cfg.Schedules[schedule]
	if !ok {
		return result, fmt.Errorf("agent: unknown schedule %q", schedule)
	}
	policy := retention.Policy{
		MaxCount: sched.Retention.MaxCount,
		MaxDays:  sched.Retention.MaxDays,
	}

	cleanupRes, err := a.Cleanup.Run(ctx, schedule, policy, time.Now(), flags.DryRun)
	result.Cleanup = cleanupRes
	if err != nil {
		return result, err
	}

	return result, nil
}
