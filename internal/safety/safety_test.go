package safety

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/backitup/backitup/internal/catalog"
	"github.com/backitup/backitup/internal/replicator"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Init(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestValidate_RejectsUnknownArtifact(t *testing.T) {
	c := openTestCatalog(t)
	v := New(c, nil, nil, Config{ArchivePrefix: "backitup"})

	verdict, err := v.Validate(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, verdict.Valid)
	require.Equal(t, "not in catalog", verdict.Reason)
}

func TestValidate_RejectsBadNameConvention(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	localRoot := t.TempDir()

	_, err := c.Insert(ctx, catalog.ArtifactRecord{
		ArtifactID:      "art-1",
		Schedule:        "nightly",
		ArchiveFilename: "not-a-valid-name.tar.gz",
		Kind:            catalog.KindFiles,
		Local:           catalog.DestinationState{Present: true, Location: filepath.Join(localRoot, "x.tar.gz")},
	})
	require.NoError(t, err)

	v := New(c, replicator.NewLocal(localRoot), nil, Config{ArchivePrefix: "backitup", LocalRoot: localRoot})
	verdict, err := v.Validate(ctx, "art-1")
	require.NoError(t, err)
	require.False(t, verdict.Valid)
}

func TestValidate_RejectsPathTraversal(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	localRoot := t.TempDir()
	outside := t.TempDir()

	_, err := c.Insert(ctx, catalog.ArtifactRecord{
		ArtifactID:      "art-2",
		Schedule:        "nightly",
		ArchiveFilename: "backitup_app_nightly_2024-06-04_090000_ab12.tar.gz",
		Kind:            catalog.KindFiles,
		Local:           catalog.DestinationState{Present: true, Location: filepath.Join(outside, "backitup_app_nightly_2024-06-04_090000_ab12.tar.gz")},
	})
	require.NoError(t, err)

	v := New(c, replicator.NewLocal(localRoot), nil, Config{ArchivePrefix: "backitup", LocalRoot: localRoot})
	verdict, err := v.Validate(ctx, "art-2")
	require.NoError(t, err)
	require.False(t, verdict.Valid)
}

func TestValidate_WarnsWhenLocalAlreadyMissing(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	localRoot := t.TempDir()
	name := "backitup_app_nightly_2024-06-04_090000_ab12.tar.gz"

	_, err := c.Insert(ctx, catalog.ArtifactRecord{
		ArtifactID:      "art-3",
		Schedule:        "nightly",
		ArchiveFilename: name,
		Kind:            catalog.KindFiles,
		Local:           catalog.DestinationState{Present: true, Location: filepath.Join(localRoot, name)},
	})
	require.NoError(t, err)

	v := New(c, replicator.NewLocal(localRoot), nil, Config{ArchivePrefix: "backitup", LocalRoot: localRoot})
	verdict, err := v.Validate(ctx, "art-3")
	require.NoError(t, err)
	require.True(t, verdict.Valid)
	require.Contains(t, verdict.Warnings, "local artifact already missing")
}

func TestValidate_RejectsChecksumMismatchWhenVerifying(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	localRoot := t.TempDir()
	name := "backitup_app_nightly_2024-06-04_090000_ab12.tar.gz"
	path := filepath.Join(localRoot, name)
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))

	_, err := c.Insert(ctx, catalog.ArtifactRecord{
		ArtifactID:      "art-4",
		Schedule:        "nightly",
		ArchiveFilename: name,
		Checksum:        "0000000000000000000000000000000000000000000000000000000000000000",
		Kind:            catalog.KindFiles,
		Local:           catalog.DestinationState{Present: true, Location: path},
	})
	require.NoError(t, err)

	v := New(c, replicator.NewLocal(localRoot), nil, Config{ArchivePrefix: "backitup", LocalRoot: localRoot, VerifyChecksumBeforeDelete: true})
	verdict, err := v.Validate(ctx, "art-4")
	require.NoError(t, err)
	require.False(t, verdict.Valid)
	require.Equal(t, "local checksum does not match recorded value", verdict.Reason)
}

func TestValidate_RejectsRemoteBucketMismatch(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	name := "backitup_app_nightly_2024-06-04_090000_ab12.tar.gz"

	_, err := c.Insert(ctx, catalog.ArtifactRecord{
		ArtifactID:      "art-5",
		Schedule:        "nightly",
		ArchiveFilename: name,
		Kind:            catalog.KindFiles,
		Remote:          catalog.RemoteDestinationState{Present: true, Bucket: "other-bucket", Key: "backups/app/" + name},
	})
	require.NoError(t, err)

	v := New(c, nil, nil, Config{ArchivePrefix: "backitup", RemoteBucket: "my-bucket", RemotePrefix: "backups"})
	verdict, err := v.Validate(ctx, "art-5")
	require.NoError(t, err)
	require.False(t, verdict.Valid)
}

func TestValidate_RejectsRemoteKeyOutsidePrefix(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	name := "backitup_app_nightly_2024-06-04_090000_ab12.tar.gz"

	_, err := c.Insert(ctx, catalog.ArtifactRecord{
		ArtifactID:      "art-6",
		Schedule:        "nightly",
		ArchiveFilename: name,
		Kind:            catalog.KindFiles,
		Remote:          catalog.RemoteDestinationState{Present: true, Bucket: "my-bucket", Key: "elsewhere/app/" + name},
	})
	require.NoError(t, err)

	v := New(c, nil, nil, Config{ArchivePrefix: "backitup", RemoteBucket: "my-bucket", RemotePrefix: "backups"})
	verdict, err := v.Validate(ctx, "art-6")
	require.NoError(t, err)
	require.False(t, verdict.Valid)
}

func TestIsPathWithinDir_PrefixCollisionGuard(t *testing.T) {
	root := "/data/backups"
	within, err := isPathWithinDir("/data/backups-suffix/x.tar.gz", root)
	require.NoError(t, err)
	require.False(t, within)

	within, err = isPathWithinDir("/data/backups/x.tar.gz", root)
	require.NoError(t, err)
	require.True(t, within)

	within, err = isPathWithinDir(root, root)
	require.NoError(t, err)
	require.True(t, within)
}
