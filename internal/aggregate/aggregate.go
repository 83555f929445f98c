// Package aggregate defines the time-series aggregation contract consumed by
// the façade, plus a small default implementation. The aggregation algorithm
// itself is a pure function behind the Aggregator interface and can be
// swapped without touching the read pipeline.
package aggregate

import (
	"fmt"
	"time"

	"example.com/conditioning/internal/domain"
)

// Entry is one point of the input series: a log keyed by its start time.
type Entry struct {
	Timestamp time.Time
	Log       domain.ConditioningLog
}

// Series is an input time series sorted ascending by timestamp.
type Series []Entry

// Metric selects which value of each log is aggregated.
type Metric string

const (
	MetricCount    Metric = "count"
	MetricDuration Metric = "duration"
)

// Op selects how bucket values are combined.
type Op string

const (
	OpSum Op = "sum"
	OpAvg Op = "avg"
	OpMax Op = "max"
	OpMin Op = "min"
)

// Params configure one aggregation run.
type Params struct {
	Window time.Duration
	Metric Metric
	Op     Op
}

// Bucket is one aggregated window.
type Bucket struct {
	Start time.Time `json:"start"`
	Value float64   `json:"value"`
	Count int       `json:"count"`
}

// AggregatedSeries is the aggregation result, buckets ascending by start.
type AggregatedSeries struct {
	Params  Params   `json:"params"`
	Buckets []Bucket `json:"buckets"`
}

// Aggregator maps a time series and parameters to aggregated buckets. Pure:
// implementations must not retain or mutate the series.
type Aggregator interface {
	Aggregate(series Series, params Params) (AggregatedSeries, error)
}

// BucketAggregator is the default fixed-window implementation.
type BucketAggregator struct{}

// Aggregate implements Aggregator.
func (BucketAggregator) Aggregate(series Series, params Params) (AggregatedSeries, error) {
	if params.Window <= 0 {
		params.Window = 24 * time.Hour
	}
	if params.Metric == "" {
		params.Metric = MetricCount
	}
	if params.Op == "" {
		params.Op = OpSum
	}
	switch params.Metric {
	case MetricCount, MetricDuration:
	default:
		return AggregatedSeries{}, fmt.Errorf("unknown aggregation metric %q", params.Metric)
	}
	switch params.Op {
	case OpSum, OpAvg, OpMax, OpMin:
	default:
		return AggregatedSeries{}, fmt.Errorf("unknown aggregation op %q", params.Op)
	}

	out := AggregatedSeries{Params: params}
	var current *Bucket
	for _, entry := range series {
		value := metricValue(params.Metric, entry.Log)
		start := entry.Timestamp.Truncate(params.Window)

		if current == nil || !current.Start.Equal(start) {
			out.Buckets = append(out.Buckets, Bucket{Start: start, Value: value, Count: 1})
			current = &out.Buckets[len(out.Buckets)-1]
			continue
		}

		current.Count++
		switch params.Op {
		case OpSum, OpAvg:
			current.Value += value
		case OpMax:
			if value > current.Value {
				current.Value = value
			}
		case OpMin:
			if value < current.Value {
				current.Value = value
			}
		}
	}

	if params.Op == OpAvg {
		for i := range out.Buckets {
			out.Buckets[i].Value /= float64(out.Buckets[i].Count)
		}
	}
	return out, nil
}

func metricValue(metric Metric, log domain.ConditioningLog) float64 {
	switch metric {
	case MetricDuration:
		return log.Duration.Value
	default:
		return 1
	}
}
