package volume

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/backitup/backitup/internal/archive"
	"github.com/backitup/backitup/internal/catalog"
	"github.com/backitup/backitup/internal/config"
	"github.com/backitup/backitup/internal/replicator"
	"github.com/google/uuid"
)

// Destinations carries the enabled replicators for one backup run;
// either may be nil when that destination is disabled.
type Destinations struct {
	Local  replicator.Replicator
	Remote replicator.Replicator
}

// Result is one volume's backup outcome.
type Result struct {
	ArtifactID    string
	VolumeName    string
	ArchiveName   string
	SizeBytes     int64
	Checksum      string
	WasInUse      bool
	LocalLocation string
	RemoteKey     string
	Warnings      []string
}

// Pipeline runs the volume-kind archive builder against a Runtime.
type Pipeline struct {
	rt       Runtime
	catalog  *catalog.Catalog
	cfg      *config.Config
	logger   *slog.Logger
	tempRoot string
}

// New builds a Pipeline.
func New(rt Runtime, cat *catalog.Catalog, cfg *config.Config, logger *slog.Logger, tempRoot string) *Pipeline {
	return &Pipeline{rt: rt, catalog: cat, cfg: cfg, logger: logger, tempRoot: tempRoot}
}

// Backup runs the capture protocol for one configured volume item:
// resolve, check existence, optionally quiesce, pack, always restart,
// then record.
func (p *Pipeline) Backup(ctx context.Context, scheduleName string, item config.VolumeItemConfig, dest Destinations) (Result, error) {
	result := Result{VolumeName: item.Name}

	volumeName, err := ResolveVolumeName(ctx, p.rt, item)
	if err != nil {
		return result, fmt.Errorf("volume: resolve %q: %w", item.Name, err)
	}

	// Step 1: existence.
	exists, err := p.rt.VolumeExists(ctx, volumeName)
	if err != nil {
		return result, fmt.Errorf("volume: check existence: %w", err)
	}
	if !exists {
		return result, fmt.Errorf("volume: %q does not exist", volumeName)
	}

	// Step 2: mount enumeration.
	containers, err := p.rt.ContainersMounting(ctx, volumeName)
	if err != nil {
		return result, fmt.Errorf("volume: enumerate mounting containers: %w", err)
	}
	result.WasInUse = anyRunning(containers)

	policy := p.cfg.EffectiveContainerStop(item)

	// Step 3: optional quiesce.
	var stopped []ContainerInfo
	if policy.Stop {
		for _, c := range containers {
			if !c.Running {
				continue
			}
			if err := p.rt.StopContainer(ctx, c.ID, policy.StopTimeout); err != nil {
				p.logger.ErrorContext(ctx, "failed to stop container for quiesce", "container", c.Name, "error", err)
				continue
			}
			stopped = append(stopped, c)
			if AutoRestartPolicies[c.RestartPolicy] {
				result.Warnings = append(result.Warnings, fmt.Sprintf("container %s has auto-restart policy %q", c.Name, c.RestartPolicy))
			}
		}
	}

	// Step 5 (restart) always runs, regardless of step 4's outcome;
	// step 6 runs only when the pack succeeded.
	archiveName := archive.GenerateVolumeName(p.cfg.Archive.Prefix, volumeName, scheduleName, time.Now())
	stagingDir, err := os.MkdirTemp(p.tempRoot, "backitup-volume-*")
	if err != nil {
		p.restartStopped(ctx, stopped, policy, &result)
		return result, fmt.Errorf("volume: create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	packErr := p.rt.RunPacker(ctx, volumeName, stagingDir, archiveName)

	p.restartStopped(ctx, stopped, policy, &result)

	if packErr != nil {
		return result, fmt.Errorf("volume: pack: %w", packErr)
	}

	archivePath := filepath.Join(stagingDir, archiveName)
	size, checksum, err := statAndChecksum(archivePath)
	if err != nil {
		return result, fmt.Errorf("volume: stat archive: %w", err)
	}
	result.ArchiveName = archiveName
	result.SizeBytes = size
	result.Checksum = checksum

	artifactID := uuid.NewString()
	record := catalog.ArtifactRecord{
		ArtifactID:       artifactID,
		Schedule:         scheduleName,
		ArchiveFilename:  archiveName,
		ArchiveSizeBytes: size,
		Checksum:         checksum,
		FilesCount:       1,
		CreatedAt:        time.Now(),
		Status:           catalog.StatusActive,
		Kind:             catalog.KindVolume,
		VolumeName:       volumeName,
		VolumeWasInUse:   result.WasInUse,
	}

	stored, err := p.catalog.Insert(ctx, record)
	if err != nil {
		return result, fmt.Errorf("volume: insert catalog record: %w", err)
	}
	result.ArtifactID = artifactID

	grouping := replicator.VolumeGrouping(volumeName)

	if dest.Local != nil {
		loc, _, err := dest.Local.Save(ctx, archivePath, archiveName, grouping)
		if err != nil {
			return result, fmt.Errorf("volume: save to local: %w", err)
		}
		if err := p.catalog.UpdateLocal(ctx, stored.ArtifactID, loc); err != nil {
			return result, fmt.Errorf("volume: record local location: %w", err)
		}
		result.LocalLocation = loc
	}

	if dest.Remote != nil {
		loc, _, err := dest.Remote.Save(ctx, archivePath, archiveName, grouping)
		if err != nil {
			return result, fmt.Errorf("volume: save to remote: %w", err)
		}
		if err := p.catalog.UpdateRemote(ctx, stored.ArtifactID, p.cfg.Remote.Bucket, loc); err != nil {
			return result, fmt.Errorf("volume: record remote location: %w", err)
		}
		result.RemoteKey = loc
	}

	return result, nil
}

// restartStopped restarts every previously-stopped container with
// bounded retry, regardless of pack outcome.
// Failures are recorded as warnings, never raised.
func (p *Pipeline) restartStopped(ctx context.Context, stopped []ContainerInfo, policy config.ContainerStopConfig, result *Result) {
	for _, c := range stopped {
		var lastErr error
		for attempt := 0; attempt <= policy.RestartRetries; attempt++ {
			if attempt > 0 {
				time.Sleep(policy.RestartRetryDelay)
			}
			if err := p.rt.StartContainer(ctx, c.ID); err != nil {
				lastErr = err
				continue
			}
			lastErr = nil
			break
		}
		if lastErr != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("failed to restart container %s: %v", c.Name, lastErr))
		}
	}
}

func anyRunning(containers []ContainerInfo) bool {
	for _, c := range containers {
		if c.Running {
			return true
		}
	}
	return false
}

func statAndChecksum(path string) (int64, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, "", err
	}
	sum, err := checksumFile(path)
	if err != nil {
		return 0, "", err
	}
	return info.Size(), sum, nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
