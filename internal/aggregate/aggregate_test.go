package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/conditioning/internal/domain"
)

func seriesOf(durations map[time.Time]float64) Series {
	s := make(Series, 0, len(durations))
	for ts, d := range durations {
		s = append(s, Entry{
			Timestamp: ts,
			Log: domain.ConditioningLog{
				Activity: domain.ActivityRun,
				Start:    ts,
				Duration: domain.Quantity{Value: d, Unit: "s"},
			},
		})
	}
	// Inputs arrive sorted from the read pipeline.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].Timestamp.Before(s[j-1].Timestamp); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
	return s
}

func TestAggregateCountPerDay(t *testing.T) {
	day1 := time.Date(2026, time.March, 2, 7, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, time.March, 3, 18, 30, 0, 0, time.UTC)
	series := seriesOf(map[time.Time]float64{
		day1:                    1800,
		day1.Add(5 * time.Hour): 2400,
		day2:                    3600,
	})

	got, err := BucketAggregator{}.Aggregate(series, Params{Window: 24 * time.Hour, Metric: MetricCount, Op: OpSum})
	require.NoError(t, err)
	require.Len(t, got.Buckets, 2)
	require.Equal(t, day1.Truncate(24*time.Hour), got.Buckets[0].Start)
	require.Equal(t, float64(2), got.Buckets[0].Value)
	require.Equal(t, 2, got.Buckets[0].Count)
	require.Equal(t, float64(1), got.Buckets[1].Value)
}

func TestAggregateDurationOps(t *testing.T) {
	day := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	series := seriesOf(map[time.Time]float64{
		day.Add(6 * time.Hour):  1800,
		day.Add(12 * time.Hour): 3600,
		day.Add(18 * time.Hour): 900,
	})

	cases := []struct {
		op   Op
		want float64
	}{
		{OpSum, 6300},
		{OpAvg, 2100},
		{OpMax, 3600},
		{OpMin, 900},
	}
	for _, tc := range cases {
		t.Run(string(tc.op), func(t *testing.T) {
			got, err := BucketAggregator{}.Aggregate(series, Params{Window: 24 * time.Hour, Metric: MetricDuration, Op: tc.op})
			require.NoError(t, err)
			require.Len(t, got.Buckets, 1)
			require.Equal(t, tc.want, got.Buckets[0].Value)
		})
	}
}

func TestAggregateDefaults(t *testing.T) {
	day := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	series := seriesOf(map[time.Time]float64{day: 1800})

	got, err := BucketAggregator{}.Aggregate(series, Params{})
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, got.Params.Window)
	require.Equal(t, MetricCount, got.Params.Metric)
	require.Equal(t, OpSum, got.Params.Op)
	require.Len(t, got.Buckets, 1)
}

func TestAggregateRejectsUnknownParams(t *testing.T) {
	_, err := BucketAggregator{}.Aggregate(nil, Params{Metric: "calories"})
	require.Error(t, err)

	_, err = BucketAggregator{}.Aggregate(nil, Params{Op: "median"})
	require.Error(t, err)
}

func TestAggregateEmptySeries(t *testing.T) {
	got, err := BucketAggregator{}.Aggregate(nil, Params{Window: time.Hour})
	require.NoError(t, err)
	require.Empty(t, got.Buckets)
}
