// Package store defines the contracts for the authoritative log and user
// stores and the update-event streams they publish.
package store

import (
	"context"

	"example.com/conditioning/internal/domain"
)

// LogEventType enumerates the mutations a log store announces.
type LogEventType string

const (
	LogCreated   LogEventType = "log.created"
	LogUpdated   LogEventType = "log.updated"
	LogDeleted   LogEventType = "log.deleted"
	LogUndeleted LogEventType = "log.undeleted"
)

// LogEvent announces a log store mutation. Deleted events may carry only the
// ids; the other types carry the log as stored (summary or detail).
type LogEvent struct {
	Type   LogEventType            `json:"type"`
	UserID string                  `json:"user_id"`
	LogID  string                  `json:"log_id"`
	Log    *domain.ConditioningLog `json:"log,omitempty"`
}

// UserEventType enumerates the mutations a user store announces.
type UserEventType string

const (
	UserUpdated UserEventType = "user.updated"
)

// UserEvent carries the user's full current state, including its log id list.
type UserEvent struct {
	Type UserEventType `json:"type"`
	User domain.User   `json:"user"`
}

// LogStore is the authoritative persistence for conditioning logs.
type LogStore interface {
	// Create persists the log and returns its assigned entity id.
	Create(ctx context.Context, log domain.ConditioningLog) (string, error)
	// Update replaces the stored log; the log must be the detailed variant.
	Update(ctx context.Context, log domain.ConditioningLog) error
	// Delete soft-deletes (sets the deleted marker) or hard-deletes
	// (removes the row) depending on soft.
	Delete(ctx context.Context, logID string, soft bool) error
	// Undelete clears the soft-delete marker.
	Undelete(ctx context.Context, logID string) error
	// FetchByID returns the detailed log or domain.ErrNotFound.
	FetchByID(ctx context.Context, logID string) (*domain.ConditioningLog, error)
	// FetchAll returns every log as an overview.
	FetchAll(ctx context.Context) ([]domain.ConditioningLog, error)
}

// UserStore is the authoritative persistence for user aggregates.
type UserStore interface {
	// FetchByID returns the user or domain.ErrNotFound.
	FetchByID(ctx context.Context, userID string) (*domain.User, error)
	FetchAll(ctx context.Context) ([]domain.User, error)
	Update(ctx context.Context, user domain.User) error
}

// LogEventSource exposes the log store's update stream. Subscribe returns a
// receive channel and a cancel function releasing the subscription; delivery
// is at-least-once, so consumers must apply events idempotently.
type LogEventSource interface {
	SubscribeLogs() (<-chan LogEvent, func())
}

// UserEventSource exposes the user store's update stream.
type UserEventSource interface {
	SubscribeUsers() (<-chan UserEvent, func())
}
