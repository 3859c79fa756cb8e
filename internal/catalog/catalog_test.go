package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Init(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sampleRecord(id string) ArtifactRecord {
	return ArtifactRecord{
		ArtifactID:       id,
		Schedule:         "nightly",
		ArchiveFilename:  "backitup_app_nightly_2024-06-04_090000_ab12.tar.gz",
		ArchiveSizeBytes: 1024,
		Checksum:         "deadbeef",
		FilesCount:       2,
		SourcePaths:      []string{"app"},
		Kind:             KindFiles,
		Local:            DestinationState{Present: true, Location: "/tmp/bk/backitup_app_nightly_2024-06-04_090000_ab12.tar.gz"},
	}
}

func TestInsertGet_RoundTrip(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	stored, err := c.Insert(ctx, sampleRecord("art-1"))
	require.NoError(t, err)
	require.NotZero(t, stored.RowID)

	got, err := c.Get(ctx, "art-1")
	require.NoError(t, err)
	require.Equal(t, stored.ArtifactID, got.ArtifactID)
	require.Equal(t, stored.ArchiveFilename, got.ArchiveFilename)
	require.Equal(t, []string{"app"}, got.SourcePaths)
	require.Equal(t, StatusActive, got.Status)
	require.True(t, got.Local.Present)
}

func TestInsert_IdempotentOnArtifactID(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	first, err := c.Insert(ctx, sampleRecord("art-2"))
	require.NoError(t, err)

	second, err := c.Insert(ctx, sampleRecord("art-2"))
	require.NoError(t, err)
	require.Equal(t, first.RowID, second.RowID)
}

func TestGet_NotFound(t *testing.T) {
	c := openTestCatalog(t)
	_, err := c.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMarkDeleted_TransitionsStatusWhenAllDestinationsStamped(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	r := sampleRecord("art-3")
	r.Remote = RemoteDestinationState{Present: true, Bucket: "b", Key: "k"}
	_, err := c.Insert(ctx, r)
	require.NoError(t, err)

	require.NoError(t, c.MarkDeleted(ctx, "art-3", DestinationLocal))
	mid, err := c.Get(ctx, "art-3")
	require.NoError(t, err)
	require.Equal(t, StatusActive, mid.Status, "status stays active until every destination is stamped")

	require.NoError(t, c.MarkDeleted(ctx, "art-3", DestinationRemote))
	final, err := c.Get(ctx, "art-3")
	require.NoError(t, err)
	require.Equal(t, StatusDeleted, final.Status)
	require.NotNil(t, final.Local.DeletedAt)
	require.NotNil(t, final.Remote.DeletedAt)
}

func TestMarkDeleted_BothAtOnce(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	r := sampleRecord("art-4")
	r.Remote = RemoteDestinationState{Present: true, Bucket: "b", Key: "k"}
	_, err := c.Insert(ctx, r)
	require.NoError(t, err)

	require.NoError(t, c.MarkDeleted(ctx, "art-4", DestinationBoth))
	final, err := c.Get(ctx, "art-4")
	require.NoError(t, err)
	require.Equal(t, StatusDeleted, final.Status)
}

func TestListActiveBySchedule_NewestFirst(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		r := sampleRecord("art-order-" + string(rune('a'+i)))
		r.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		_, err := c.Insert(ctx, r)
		require.NoError(t, err)
	}

	list, err := c.ListActiveBySchedule(ctx, "nightly")
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i := 0; i+1 < len(list); i++ {
		require.True(t, list[i].CreatedAt.After(list[i+1].CreatedAt) || list[i].CreatedAt.Equal(list[i+1].CreatedAt))
	}
}

func TestLogDeletion_Append(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	err := c.LogDeletion(ctx, DeletionLogEntry{
		ArtifactID: "art-5",
		Targeted:   DestinationLocal,
		LocalValue: "/tmp/bk/x.tar.gz",
		Reason:     ReasonRetentionCount,
		Success:    true,
	})
	require.NoError(t, err)
}

func TestInsert_AllowsNullLocationsAtInsertTime(t *testing.T) {
	c := openTestCatalog(t)
	r := sampleRecord("art-6")
	r.Local = DestinationState{}
	stored, err := c.Insert(context.Background(), r)
	require.NoError(t, err, "insert must precede any destination save")
	require.NotZero(t, stored.RowID)

	require.NoError(t, c.UpdateLocal(context.Background(), "art-6", "/tmp/bk/x.tar.gz"))
	got, err := c.Get(context.Background(), "art-6")
	require.NoError(t, err)
	require.True(t, got.Local.Present)
}
