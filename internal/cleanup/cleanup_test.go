package cleanup

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
	"github.com/backitup/backitup/internal/replicator"
	"github.com/backitup/backitup/internal/retention"
	"github.com/backitup/backitup/internal/safety"
	"github.com/stretchr/testify/require"
)

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

func insertWithArchive(t *testing.T, c *catalog.Catalog, localRoot, id string, createdAt time.Time) string {
	t.Helper()
	name := archive.GenerateFileName("backitup", "nightly", []string{"app"}, createdAt, "ab12cd34")
	path := filepath.Join(localRoot, name)
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	sum, _, err := replicator.NewLocal(localRoot).Checksum(context.Background(), path)
	require.NoError(t, err)

	_, err = c.Insert(context.Background(), catalog.ArtifactRecord{
		ArtifactID:      id,
		Schedule:        "nightly",
		ArchiveFilename: name,
		Checksum:        sum,
		Kind:            catalog.KindFiles,
		CreatedAt:       createdAt,
		Local:           catalog.DestinationState{Present: true, Location: path},
	})
	require.NoError(t, err)
	return name
}

func TestRun_DeletesSelectedAndRecordsDeletionLog(t *testing.T) {
	c := openTestCatalog(t)
	localRoot := t.TempDir()
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	insertWithArchive(t, c, localRoot, "keep", now.Add(-1*time.Hour))
	insertWithArchive(t, c, localRoot, "drop", now.Add(-2*time.Hour))

	local := replicator.NewLocal(localRoot)
	validator := safety.New(c, local, nil, safety.Config{ArchivePrefix: "backitup", LocalRoot: localRoot})
	orch := New(c, validator, local, nil, discardLogger())

	outcome, err := orch.Run(context.Background(), "nightly", retention.Policy{MaxCount: 1, MaxDays: 365}, now, false)
	require.NoError(t, err)
	require.Equal(t, []string{"drop"}, outcome.Deleted)
	require.Empty(t, outcome.Rejected)
	require.Empty(t, outcome.Failed)

	dropped, err := c.Get(context.Background(), "drop")
	require.NoError(t, err)
	require.Equal(t, catalog.StatusDeleted, dropped.Status)

	kept, err := c.Get(context.Background(), "keep")
	require.NoError(t, err)
	require.Equal(t, catalog.StatusActive, kept.Status)
}

func TestRun_DryRunDoesNotMutateCatalog(t *testing.T) {
	c := openTestCatalog(t)
	localRoot := t.TempDir()
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	insertWithArchive(t, c, localRoot, "a", now.Add(-1*time.Hour))
	insertWithArchive(t, c, localRoot, "b", now.Add(-2*time.Hour))

	local := replicator.NewLocal(localRoot)
	validator := safety.New(c, local, nil, safety.Config{ArchivePrefix: "backitup", LocalRoot: localRoot})
	orch := New(c, validator, local, nil, discardLogger())

	outcome, err := orch.Run(context.Background(), "nightly", retention.Policy{MaxCount: 1, MaxDays: 365}, now, true)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, outcome.WouldDrop)
	require.Empty(t, outcome.Deleted)

	b, err := c.Get(context.Background(), "b")
	require.NoError(t, err)
	require.Equal(t, catalog.StatusActive, b.Status)
}

func TestRun_TamperedArtifactIsRejectedAndKept(t *testing.T) {
	c := openTestCatalog(t)
	localRoot := t.TempDir()
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	insertWithArchive(t, c, localRoot, "fresh", now.Add(-1*time.Hour))
	name := insertWithArchive(t, c, localRoot, "tampered", now.Add(-2*time.Hour))

	// Overwrite the archive so its checksum no longer matches the
	// recorded value.
	path := filepath.Join(localRoot, name)
	require.NoError(t, os.WriteFile(path, []byte("corrupted"), 0o644))

	local := replicator.NewLocal(localRoot)
	validator := safety.New(c, local, nil, safety.Config{
		ArchivePrefix:              "backitup",
		LocalRoot:                  localRoot,
		VerifyChecksumBeforeDelete: true,
	})
	orch := New(c, validator, local, nil, discardLogger())

	outcome, err := orch.Run(context.Background(), "nightly", retention.Policy{MaxCount: 1, MaxDays: 365}, now, false)
	require.NoError(t, err)
	require.Equal(t, []string{"tampered"}, outcome.Rejected)
	require.Empty(t, outcome.Deleted)

	require.FileExists(t, path, "a rejected candidate's archive must not be deleted")

	rec, err := c.Get(context.Background(), "tampered")
	require.NoError(t, err)
	require.Equal(t, catalog.StatusActive, rec.Status)
}

func TestRun_IdempotentSecondPass(t *testing.T) {
	c := openTestCatalog(t)
	localRoot := t.TempDir()
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	insertWithArchive(t, c, localRoot, "a", now.Add(-1*time.Hour))
	insertWithArchive(t, c, localRoot, "b", now.Add(-2*time.Hour))

	local := replicator.NewLocal(localRoot)
	validator := safety.New(c, local, nil, safety.Config{ArchivePrefix: "backitup", LocalRoot: localRoot})
	orch := New(c, validator, local, nil, discardLogger())

	policy := retention.Policy{MaxCount: 1, MaxDays: 365}
	_, err := orch.Run(context.Background(), "nightly", policy, now, false)
	require.NoError(t, err)

	second, err := orch.Run(context.Background(), "nightly", policy, now, false)
	require.NoError(t, err)
	require.Empty(t, second.Deleted, "nothing left to delete on the second pass")
}
