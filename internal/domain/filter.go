package domain

import "time"

// Filter narrows a log query. Zero-value fields match everything.
type Filter struct {
	Activity Activity
	From     time.Time
	To       time.Time
}

// Matches reports whether the log satisfies every set filter field. The From
// and To bounds apply to the log's start timestamp, From inclusive and To
// exclusive.
func (f Filter) Matches(log ConditioningLog) bool {
	if f.Activity != "" && log.Activity != f.Activity {
		return false
	}
	if !f.From.IsZero() && log.Start.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !log.Start.Before(f.To) {
		return false
	}
	return true
}
