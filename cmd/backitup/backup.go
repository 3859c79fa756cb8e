package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/backitup/backitup/internal/agent"
	"github.com/backitup/backitup/internal/backup"
)

var (
	backupSchedule    string
	backupDryRun      bool
	backupLocalOnly   bool
	backupRemoteOnly  bool
	backupVolumesOnly bool
	backupSkipVolumes bool
	backupVolumes     []string
	backupSkipCleanup bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run one backup for a schedule now",
	Long: `Run one backup firing for a schedule immediately, outside the
scheduler, then enforce that schedule's retention policy (unless
--skip-cleanup).

Examples:
  backitup backup --schedule nightly
  backitup backup --schedule nightly --dry-run
  backitup backup --schedule nightly --local-only --skip-volumes
  backitup backup --schedule nightly --volumes-only --volume pgdata`,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().StringVar(&backupSchedule, "schedule", "", "schedule to fire (required)")
	backupCmd.Flags().BoolVar(&backupDryRun, "dry-run", false, "compute would-be locations without writing anything")
	backupCmd.Flags().BoolVar(&backupLocalOnly, "local-only", false, "replicate to the local destination only")
	backupCmd.Flags().BoolVar(&backupRemoteOnly, "remote-only", false, "replicate to the remote destination only")
	backupCmd.Flags().BoolVar(&backupVolumesOnly, "volumes-only", false, "back up configured volumes, skip file sources")
	backupCmd.Flags().BoolVar(&backupSkipVolumes, "skip-volumes", false, "back up file sources, skip volumes")
	backupCmd.Flags().StringSliceVar(&backupVolumes, "volume", nil, "restrict volume backup to these configured volumes")
	backupCmd.Flags().BoolVar(&backupSkipCleanup, "skip-cleanup", false, "do not enforce retention after the backup")
	_ = backupCmd.MarkFlagRequired("schedule")
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, _ []string) error {
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

	flags := backup.Flags{
		DryRun:       backupDryRun,
		LocalOnly:    backupLocalOnly,
		RemoteOnly:   backupRemoteOnly,
		VolumesOnly:  backupVolumesOnly,
		SkipVolumes:  backupSkipVolumes,
		VolumeSubset: backupVolumes,
	}

	var res agent.PipelineResult
	if backupSkipCleanup {
		res.Backup, err = agentCtx.Backup.Run(ctx, backupSchedule, flags)
	} else {
		res, err = agentCtx.RunPipeline(ctx, backupSchedule, flags)
	}
	if err != nil {
		return err
	}

	printBackupResult(res, backupDryRun)
	return nil
}

func printBackupResult(res agent.PipelineResult, dryRun bool) {
	b := res.Backup
	if dryRun {
		fmt.Println("dry run, nothing was written")
	}
	if b.ArtifactID != "" {
		fmt.Printf("artifact %s (%s, %d files, %d bytes)\n",
			b.ArtifactID, b.ArchiveResult.Filename, b.ArchiveResult.FilesCount, b.ArchiveResult.SizeBytes)
	}
	if b.LocalLocation != "" {
		fmt.Printf("local:  %s\n", b.LocalLocation)
	}
	if b.RemoteKey != "" {
		fmt.Printf("remote: %s\n", b.RemoteKey)
	}
	for _, vr := range b.VolumeResults {
		fmt.Printf("volume %s: artifact %s (%s, %d bytes)\n",
			vr.VolumeName, vr.ArtifactID, vr.ArchiveName, vr.SizeBytes)
	}
	for _, w := range b.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	printCleanupOutcome(res.Cleanup, dryRun)
	if b.Duration > 0 {
		fmt.Printf("took %s\n", b.Duration.Round(time.Millisecond))
	}
}
