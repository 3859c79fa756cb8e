package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateFileName_RoundTrips(t *testing.T) {
	ts := time.Date(2024, 6, 4, 9, 0, 0, 0, time.UTC)
	name := GenerateFileName("backitup", "nightly", []string{"app", "db"}, ts, "ab12cd34")
	require.True(t, IsFileName(name), "generated name %q must match the file-kind pattern", name)

	info, err := ParseFileName(name)
	require.NoError(t, err)
	require.Equal(t, "backitup", info.Prefix)
	require.Equal(t, "nightly", info.Schedule)
	require.Equal(t, "app-db", info.Sources)
}

func TestGenerateFileName_DefaultsSourcesToAll(t *testing.T) {
	ts := time.Date(2024, 6, 4, 9, 0, 0, 0, time.UTC)
	name := GenerateFileName("backitup", "manual", nil, ts, "deadbeef")
	info, err := ParseFileName(name)
	require.NoError(t, err)
	require.Equal(t, "all", info.Sources)
}

func TestGenerateVolumeName_RoundTrips(t *testing.T) {
	ts := time.Date(2024, 6, 4, 9, 0, 0, 123000000, time.UTC)
	name := GenerateVolumeName("backitup", "my volume!", "nightly", ts)
	require.True(t, IsVolumeName(name), "generated name %q must match the volume-kind pattern", name)

	info, err := ParseVolumeName(name)
	require.NoError(t, err)
	require.Equal(t, "backitup", info.Prefix)
	require.Equal(t, "my_volume_", info.SanitizedName)
	require.Equal(t, "nightly", info.Schedule)
	require.Contains(t, name, "2024-06-04T09-00-00-123Z")
}

func TestSanitizeVolumeName(t *testing.T) {
	require.Equal(t, "db_vol-1", SanitizeVolumeName("db vol-1"))
	require.Equal(t, "a_b_c", SanitizeVolumeName("a/b:c"))
}

func TestParseFileName_RejectsMalformed(t *testing.T) {
	_, err := ParseFileName("not-a-valid-name.tar.gz")
	require.Error(t, err)
}

func TestParseVolumeName_RejectsMalformed(t *testing.T) {
	_, err := ParseVolumeName("backitup_app_nightly_2024-06-04_090000_ab12.tar.gz")
	require.Error(t, err)
}

func TestShortID_Uniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id, err := ShortID()
		require.NoError(t, err)
		seen[id] = struct{}{}
	}
	require.GreaterOrEqual(t, len(seen), 990)
}
