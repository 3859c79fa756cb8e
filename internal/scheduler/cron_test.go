package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse_CronMatchDeterminism(t *testing.T) {
	s, err := Parse("*/15 9-17 * * 1-5")
	require.NoError(t, err)

	require.True(t, s.Matches(mustParse(t, "2024-06-04T09:00:00")), "09:00 Tuesday should match")
	require.True(t, s.Matches(mustParse(t, "2024-06-04T09:15:00")), "09:15 Tuesday should match")
	require.False(t, s.Matches(mustParse(t, "2024-06-04T09:07:00")), "09:07 is not a /15 step")
	require.False(t, s.Matches(mustParse(t, "2024-06-04T18:00:00")), "18:00 is outside 9-17")
	require.False(t, s.Matches(mustParse(t, "2024-06-02T09:00:00")), "Sunday is outside 1-5")
}

func TestParse_DayOfWeekZeroAndSevenBothMeanSunday(t *testing.T) {
	sZero, err := Parse("0 0 * * 0")
	require.NoError(t, err)
	sSeven, err := Parse("0 0 * * 7")
	require.NoError(t, err)

	sunday := mustParse(t, "2024-06-02T00:00:00")
	require.True(t, sZero.Matches(sunday))
	require.True(t, sSeven.Matches(sunday))
}

func TestParse_RejectsWrongArity(t *testing.T) {
	_, err := Parse("* * * *")
	require.Error(t, err)
}

func TestParse_RejectsUnparseableField(t *testing.T) {
	_, err := Parse("* * * * monday")
	require.Error(t, err)
}

func TestParse_ListField(t *testing.T) {
	s, err := Parse("0,30 * * * *")
	require.NoError(t, err)
	require.True(t, s.Matches(mustParse(t, "2024-06-04T09:00:00")))
	require.True(t, s.Matches(mustParse(t, "2024-06-04T09:30:00")))
	require.False(t, s.Matches(mustParse(t, "2024-06-04T09:15:00")))
}

func TestNext_SkipsToFollowingMatch(t *testing.T) {
	s, err := Parse("*/15 9-17 * * 1-5")
	require.NoError(t, err)

	next, ok := s.Next(mustParse(t, "2024-06-04T09:07:00"))
	require.True(t, ok)
	require.Equal(t, mustParse(t, "2024-06-04T09:15:00"), next)

	// After the last slot on Friday, the next match is Monday morning.
	next, ok = s.Next(mustParse(t, "2024-06-07T17:45:00"))
	require.True(t, ok)
	require.Equal(t, mustParse(t, "2024-06-10T09:00:00"), next)
}

func TestNext_IsStrictlyAfterFrom(t *testing.T) {
	s, err := Parse("0 0 * * *")
	require.NoError(t, err)

	next, ok := s.Next(mustParse(t, "2024-06-04T00:00:00"))
	require.True(t, ok)
	require.Equal(t, mustParse(t, "2024-06-05T00:00:00"), next)
}

func TestNext_ImpossibleDateReportsNoMatch(t *testing.T) {
	s, err := Parse("0 0 30 2 *")
	require.NoError(t, err)

	_, ok := s.Next(mustParse(t, "2024-06-04T00:00:00"))
	require.False(t, ok)
}

func mustParse(t *testing.T, layout string) time.Time {
	t.Helper()
	tt, err := time.Parse("2006-01-02T15:04:05", layout)
	require.NoError(t, err)
	return tt
}
