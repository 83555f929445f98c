// Package domain defines the conditioning log data model shared by every layer.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Activity identifies the kind of exercise a conditioning log records.
type Activity string

const (
	ActivityRun   Activity = "run"
	ActivityBike  Activity = "bike"
	ActivityMTB   Activity = "mtb"
	ActivitySwim  Activity = "swim"
	ActivitySki   Activity = "ski"
	ActivityRow   Activity = "row"
	ActivityOther Activity = "other"
)

// Quantity is a measured value with its unit, e.g. {2400, "s"}.
type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Lap is one timed segment of a session.
type Lap struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Duration Quantity  `json:"duration"`
	Note     string    `json:"note,omitempty"`
}

// Sample is a single sensor reading.
type Sample struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// SensorLog is the time series captured by one sensor channel during a session.
type SensorLog struct {
	Sensor  string   `json:"sensor"`
	Unit    string   `json:"unit"`
	Samples []Sample `json:"samples"`
}

// ConditioningLog records one exercise session. A log is either an overview
// (laps and sensor logs omitted) or detailed (fully populated); identity and
// the activity/time attributes are the same in both variants.
type ConditioningLog struct {
	EntityID   string      `json:"entity_id"`
	UserID     string      `json:"user_id"`
	Activity   Activity    `json:"activity"`
	Start      time.Time   `json:"start"`
	End        time.Time   `json:"end"`
	Duration   Quantity    `json:"duration"`
	Note       string      `json:"note,omitempty"`
	Laps       []Lap       `json:"laps,omitempty"`
	SensorLogs []SensorLog `json:"sensor_logs,omitempty"`
	DeletedOn  *time.Time  `json:"deleted_on,omitempty"`
	IsOverview bool        `json:"is_overview"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// NewLogID returns a fresh log entity id.
func NewLogID() string {
	return uuid.NewString()
}

// IsDeleted reports whether the log carries a soft-delete marker.
func (l ConditioningLog) IsDeleted() bool {
	return l.DeletedOn != nil
}

// Overview returns the summary variant of the log: identity and the
// activity/time attributes survive, laps and sensor series are dropped.
func (l ConditioningLog) Overview() ConditioningLog {
	out := l
	out.Laps = nil
	out.SensorLogs = nil
	out.IsOverview = true
	return out
}
