// Package backup implements the end-to-end backup pipeline for one
// schedule firing: archive construction, catalog insertion, and
// per-destination replication
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/backitup/backitup/internal/archive"
	"github.com/backitup/backitup/internal/catalog"
	"github.com/backitup/backitup/internal/config"
	"github.com/backitup/backitup/internal/replicator"
	"github.com/backitup/backitup/internal/sourceset"
	"github.com/backitup/backitup/internal/volume"
	"github.com/google/uuid"
)

// Flags are the per-run overrides a caller (CLI or scheduler) may
// supply
type Flags struct {
	DryRun       bool
	LocalOnly    bool
	RemoteOnly   bool
	VolumesOnly  bool
	SkipVolumes  bool
	VolumeSubset []string
}

// Result aggregates one run's outcome: the primary archive's
// identifiers, per-volume results, duration, and warnings.
type Result struct {
	Schedule      string
	ArtifactID    string // set when a file-kind archive was produced
	ArchiveResult archive.Result
	LocalLocation string
	RemoteKey     string
	VolumeResults []volume.Result
	Duration      time.Duration
	Warnings      []string
}

// Orchestrator runs backups for one configuration.
type Orchestrator struct {
	cfg      *config.Config
	catalog  *catalog.Catalog
	local    replicator.Replicator
	remote   replicator.Replicator
	volumes  *volume.Pipeline
	logger   *slog.Logger
	tempRoot string
}

// New builds an Orchestrator. local, remote, and volumes may be nil
// when the corresponding feature is disabled.
func New(cfg *config.Config, cat *catalog.Catalog, local, remote replicator.Replicator, volumes *volume.Pipeline, logger *slog.Logger, tempRoot string) *Orchestrator {
	return &Orchestrator{cfg: cfg, catalog: cat, local: local, remote: remote, volumes: volumes, logger: logger, tempRoot: tempRoot}
}

// Run executes one schedule firing.
func (o *Orchestrator) Run(ctx context.Context, scheduleName string, flags Flags) (Result, error) {
	start := time.Now()
	result := Result{Schedule: scheduleName}

	sched, ok := o.cfg.Schedules[scheduleName]
	if !ok {
		return result, fmt.Errorf("backup: unknown schedule %q", scheduleName)
	}

	useLocal := o.cfg.Local.Enabled && !flags.RemoteOnly
	useRemote := o.cfg.Remote.Enabled && !flags.LocalOnly
	if !useLocal && !useRemote {
		return result, fmt.Errorf("backup: no destination enabled for schedule %q", scheduleName)
	}

	if !flags.VolumesOnly {
		if err := o.runFiles(ctx, scheduleName, sched, useLocal, useRemote, flags, &result); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
	}

	if !flags.SkipVolumes && o.cfg.Volumes.Enabled && o.volumes != nil {
		o.runVolumes(ctx, scheduleName, useLocal, useRemote, flags, &result)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (o *Orchestrator) runFiles(ctx context.Context, scheduleName string, sched config.ScheduleConfig, useLocal, useRemote bool, flags Flags, result *Result) error {
	sources, err := sourceset.FromConfig(o.cfg, sched.Sources)
	if err != nil {
		return fmt.Errorf("backup: resolve sources: %w", err)
	}

	var files []sourceset.CollectedFile
	for _, src := range sources {
		collected, err := sourceset.Collect(ctx, o.logger, src)
		if err != nil {
			return fmt.Errorf("backup: collect %s: %w", src.Name, err)
		}
		files = append(files, collected...)
	}

	grouping := sourceGrouping(sources)

	if flags.DryRun {
		names := make([]string, len(sources))
		for i, s := range sources {
			names[i] = s.Name
		}
		shortID, _ := archive.ShortID()
		filename := archive.GenerateFileName(o.cfg.Archive.Prefix, scheduleName, names, time.Now(), shortID)
		if useLocal {
			result.LocalLocation = fmt.Sprintf("%s/%s", strings.TrimRight(o.cfg.Local.Path, "/"), filename)
		}
		if useRemote {
			result.RemoteKey = replicator.ComposeKey(o.cfg.Remote.Prefix, grouping, filename)
		}
		return nil
	}

	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name
	}

	buildRes, err := archive.Build(ctx, o.logger, files, archive.Options{
		StagingRoot: o.tempRoot,
		Prefix:      o.cfg.Archive.Prefix,
		Schedule:    scheduleName,
		Sources:     names,
		Compression: o.cfg.Archive.Compression,
	})
	if err != nil {
		return fmt.Errorf("backup: build archive: %w", err)
	}
	defer archive.CleanupResult(o.logger, buildRes, o.tempRoot)

	artifactID := uuid.NewString()
	record := catalog.ArtifactRecord{
		ArtifactID:       artifactID,
		Schedule:         scheduleName,
		ArchiveFilename:  buildRes.Filename,
		ArchiveSizeBytes: buildRes.SizeBytes,
		Checksum:         buildRes.Checksum,
		FilesCount:       buildRes.FilesCount,
		SourcePaths:      names,
		CreatedAt:        time.Now(),
		Status:           catalog.StatusActive,
		Kind:             catalog.KindFiles,
	}

	// The record must exist before any destination save, so it is
	// inserted with null locations first.
	if useLocal {
		record.Local = catalog.DestinationState{}
	}
	if useRemote {
		record.Remote = catalog.RemoteDestinationState{}
	}

	stored, err := o.catalog.Insert(ctx, record)
	if err != nil {
		return fmt.Errorf("backup: insert catalog record: %w", err)
	}
	result.ArtifactID = artifactID

	if useLocal {
		loc, _, err := o.local.Save(ctx, buildRes.TempPath, buildRes.Filename, grouping)
		if err != nil {
			return fmt.Errorf("backup: save to local: %w", err)
		}
		if err := o.catalog.UpdateLocal(ctx, stored.ArtifactID, loc); err != nil {
			return fmt.Errorf("backup: record local location: %w", err)
		}
		result.LocalLocation = loc
	}

	if useRemote {
		loc, _, err := o.remote.Save(ctx, buildRes.TempPath, buildRes.Filename, grouping)
		if err != nil {
			return fmt.Errorf("backup: save to remote: %w", err)
		}
		if err := o.catalog.UpdateRemote(ctx, stored.ArtifactID, o.cfg.Remote.Bucket, loc); err != nil {
			return fmt.Errorf("backup: record remote location: %w", err)
		}
		result.RemoteKey = loc
	}

	result.ArchiveResult = buildRes
	return nil
}

func (o *Orchestrator) runVolumes(ctx context.Context, scheduleName string, useLocal, useRemote bool, flags Flags, result *Result) {
	items := o.cfg.Volumes.Items
	if len(flags.VolumeSubset) > 0 {
		items = filterVolumeItems(items, flags.VolumeSubset)
	}

	for _, item := range items {
		vr, err := o.volumes.Backup(ctx, scheduleName, item, volume.Destinations{
			Local:  pickReplicator(useLocal, o.local),
			Remote: pickReplicator(useRemote, o.remote),
		})
		if err != nil {
			o.logger.ErrorContext(ctx, "volume backup failed", "volume", item.Name, "error", err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("volume %s: %v", item.Name, err))
			continue
		}
		result.VolumeResults = append(result.VolumeResults, vr)
		result.Warnings = append(result.Warnings, vr.Warnings...)
	}
}

func pickReplicator(enabled bool, r replicator.Replicator) replicator.Replicator {
	if !enabled {
		return nil
	}
	return r
}

func filterVolumeItems(items []config.VolumeItemConfig, subset []string) []config.VolumeItemConfig {
	want := make(map[string]struct{}, len(subset))
	for _, n := range subset {
		want[n] = struct{}{}
	}
	var out []config.VolumeItemConfig
	for _, item := range items {
		if _, ok := want[item.Name]; ok {
			out = append(out, item)
		}
	}
	return out
}

// sourceGrouping computes the source-grouping segment used in the
// remote key: the single source's explicit remote
// sub-prefix if there is exactly one source and it has one, otherwise
// the source names joined with "-".
func sourceGrouping(sources []sourceset.Source) string {
	if len(sources) == 1 && sources[0].RemoteSubPrefix != "" {
		return sources[0].RemoteSubPrefix
	}
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name
	}
	return strings.Join(names, "-")
}
