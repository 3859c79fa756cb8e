package volume

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/backitup/backitup/internal/archive"
	"github.com/backitup/backitup/internal/catalog"
	"github.com/backitup/backitup/internal/config"
	"github.com/backitup/backitup/internal/replicator"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	existing   map[string]bool
	containers map[string][]ContainerInfo
	stopped    []string
	started    []string
	packErr    error
}

func (f *fakeRuntime) VolumeExists(ctx context.Context, name string) (bool, error) {
	return f.existing[name], nil
}

func (f *fakeRuntime) ContainersMounting(ctx context.Context, volumeName string) ([]ContainerInfo, error) {
	return f.containers[volumeName], nil
}

func (f *fakeRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeRuntime) StartContainer(ctx context.Context, id string) error {
	f.started = append(f.started, id)
	return nil
}

func (f *fakeRuntime) RunPacker(ctx context.Context, volumeName, stagingDir, archiveName string) error {
	if f.packErr != nil {
		return f.packErr
	}
	return os.WriteFile(filepath.Join(stagingDir, archiveName), []byte("tarball"), 0o644)
}

func openTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Init(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBackup_HappyPathLocal(t *testing.T) {
	cat := openTestCatalog(t)
	cfg := &config.Config{
		Archive: config.ArchiveConfig{Prefix: "backitup"},
		Volumes: config.VolumesConfig{Enabled: true},
	}
	rt := &fakeRuntime{existing: map[string]bool{"db-data": true}}
	localRoot := t.TempDir()
	p := New(rt, cat, cfg, discardLogger(), t.TempDir())

	res, err := p.Backup(context.Background(), "nightly", config.VolumeItemConfig{Name: "db-data"}, Destinations{
		Local: replicator.NewLocal(localRoot),
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.ArtifactID)
	require.True(t, archive.IsVolumeName(res.ArchiveName))
	require.NotEmpty(t, res.LocalLocation)

	stored, err := cat.Get(context.Background(), res.ArtifactID)
	require.NoError(t, err)
	require.Equal(t, catalog.KindVolume, stored.Kind)
	require.Equal(t, "db-data", stored.VolumeName)
}

func TestBackup_MissingVolumeFails(t *testing.T) {
	cat := openTestCatalog(t)
	cfg := &config.Config{Archive: config.ArchiveConfig{Prefix: "backitup"}}
	rt := &fakeRuntime{existing: map[string]bool{}}
	p := New(rt, cat, cfg, discardLogger(), t.TempDir())

	_, err := p.Backup(context.Background(), "nightly", config.VolumeItemConfig{Name: "nope"}, Destinations{})
	require.Error(t, err)
}

func TestBackup_QuiesceStopsAndAlwaysRestarts(t *testing.T) {
	cat := openTestCatalog(t)
	cfg := &config.Config{Archive: config.ArchiveConfig{Prefix: "backitup"}}
	rt := &fakeRuntime{
		existing: map[string]bool{"db-data": true},
		containers: map[string][]ContainerInfo{
			"db-data": {{ID: "c1", Name: "app", Running: true, RestartPolicy: "always"}},
		},
	}
	localRoot := t.TempDir()
	p := New(rt, cat, cfg, discardLogger(), t.TempDir())

	item := config.VolumeItemConfig{
		Name:          "db-data",
		ContainerStop: &config.ContainerStopConfig{Stop: true, StopTimeout: time.Second, RestartRetries: 1, RestartRetryDelay: time.Millisecond},
	}

	res, err := p.Backup(context.Background(), "nightly", item, Destinations{Local: replicator.NewLocal(localRoot)})
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, rt.stopped)
	require.Equal(t, []string{"c1"}, rt.started)
	require.Contains(t, res.Warnings[0], "auto-restart policy")
}
