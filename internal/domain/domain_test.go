package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOverviewDropsDetail(t *testing.T) {
	now := time.Now().UTC()
	detailed := ConditioningLog{
		EntityID: "log-a",
		UserID:   "user-1",
		Activity: ActivityRun,
		Start:    now,
		Duration: Quantity{Value: 1800, Unit: "s"},
		Laps:     []Lap{{Duration: Quantity{Value: 900, Unit: "s"}}},
		SensorLogs: []SensorLog{
			{Sensor: "heart_rate", Unit: "bpm", Samples: []Sample{{At: now, Value: 145}}},
		},
	}

	overview := detailed.Overview()
	require.True(t, overview.IsOverview)
	require.Nil(t, overview.Laps)
	require.Nil(t, overview.SensorLogs)
	require.Equal(t, detailed.EntityID, overview.EntityID)
	require.Equal(t, detailed.Duration, overview.Duration)

	require.Len(t, detailed.Laps, 1, "the receiver is untouched")
}

func TestIsDeleted(t *testing.T) {
	var l ConditioningLog
	require.False(t, l.IsDeleted())

	now := time.Now().UTC()
	l.DeletedOn = &now
	require.True(t, l.IsDeleted())
}

func TestUserLogList(t *testing.T) {
	u := User{UserID: "user-1"}

	u.AddLog("log-a")
	u.AddLog("log-b")
	u.AddLog("log-a")
	require.Equal(t, []string{"log-a", "log-b"}, u.Logs)

	u.AddLog("log-c")
	u.RemoveLog("log-b")
	require.Equal(t, []string{"log-a", "log-c"}, u.Logs)

	u.RemoveLog("log-ghost")
	require.Equal(t, []string{"log-a", "log-c"}, u.Logs)

	require.True(t, u.HasLog("log-a"))
	require.False(t, u.HasLog("log-b"))
}

func TestFilterMatches(t *testing.T) {
	start := time.Date(2026, time.March, 2, 7, 0, 0, 0, time.UTC)
	l := ConditioningLog{Activity: ActivityRun, Start: start}

	require.True(t, Filter{}.Matches(l))
	require.True(t, Filter{Activity: ActivityRun}.Matches(l))
	require.False(t, Filter{Activity: ActivityBike}.Matches(l))

	// From is inclusive, To exclusive.
	require.True(t, Filter{From: start}.Matches(l))
	require.False(t, Filter{From: start.Add(time.Second)}.Matches(l))
	require.False(t, Filter{To: start}.Matches(l))
	require.True(t, Filter{To: start.Add(time.Second)}.Matches(l))
}
