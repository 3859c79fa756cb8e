package retention

import (
	"testing"
	"time"

	"github.com/backitup/backitup/internal/catalog"
	"github.com/stretchr/testify/require"
)

func recordsAt(times ...time.Time) []catalog.ArtifactRecord {
	out := make([]catalog.ArtifactRecord, len(times))
	for i, ts := range times {
		out[i] = catalog.ArtifactRecord{ArtifactID: ts.Format(time.RFC3339), CreatedAt: ts}
	}
	return out
}

func TestSelect_MaxCountSelectsTailByIndex(t *testing.T) {
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	records := recordsAt(
		now.Add(-1*time.Hour),
		now.Add(-2*time.Hour),
		now.Add(-3*time.Hour),
		now.Add(-4*time.Hour),
		now.Add(-5*time.Hour),
	)

	got := Select(records, Policy{MaxCount: 2, MaxDays: 365}, now)
	require.Len(t, got, 3)
	for _, c := range got {
		require.Equal(t, catalog.ReasonRetentionCount, c.Reason)
	}
	require.Equal(t, records[2].ArtifactID, got[0].Record.ArtifactID)
}

func TestSelect_MaxCountWinsTieOverMaxDays(t *testing.T) {
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -400)
	records := recordsAt(now, old)

	got := Select(records, Policy{MaxCount: 1, MaxDays: 30}, now)
	require.Len(t, got, 1)
	require.Equal(t, catalog.ReasonRetentionCount, got[0].Reason)
	require.Equal(t, old, got[0].Record.CreatedAt)
}

func TestSelect_MaxDaysCatchesWithinCountWindow(t *testing.T) {
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	recent := now.Add(-1 * time.Hour)
	old := now.AddDate(0, 0, -40)
	records := recordsAt(recent, old)

	got := Select(records, Policy{MaxCount: 10, MaxDays: 30}, now)
	require.Len(t, got, 1)
	require.Equal(t, catalog.ReasonRetentionDays, got[0].Reason)
}

func TestSelect_NoneSelected(t *testing.T) {
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	records := recordsAt(now.Add(-1 * time.Hour))

	got := Select(records, Policy{MaxCount: 7, MaxDays: 30}, now)
	require.Empty(t, got)
}

func TestSelect_ExactlyMaxMinusSizeOldest(t *testing.T) {
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	var times []time.Time
	for i := 0; i < 10; i++ {
		times = append(times, now.Add(-time.Duration(i)*time.Hour))
	}
	records := recordsAt(times...)

	got := Select(records, Policy{MaxCount: 7, MaxDays: 100000}, now)
	require.Len(t, got, 3, "size 10 minus maxCount 7 leaves 3 oldest")
	for i, c := range got {
		require.Equal(t, records[7+i].ArtifactID, c.Record.ArtifactID)
	}
}
