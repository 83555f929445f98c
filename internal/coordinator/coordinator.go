// Package coordinator performs writes that span the log and user stores as a
// best-effort atomic unit. No cross-store transaction exists, so a failed
// second step triggers an explicit compensating rollback with bounded
// retries.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"example.com/conditioning/internal/domain"
	"example.com/conditioning/internal/store"
)

// Option configures optional behaviour for the Coordinator.
type Option func(*Coordinator)

// WithLogger overrides the logger used to report rollback progress.
func WithLogger(logger *log.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithRollbackPolicy sets the bounded retry policy for compensating
// deletions.
func WithRollbackPolicy(maxRetries int, retryDelay time.Duration) Option {
	return func(c *Coordinator) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
		c.retryDelay = retryDelay
	}
}

// WithStoreTimeout bounds each individual store call.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.storeTimeout = timeout
	}
}

// Coordinator orchestrates multi-store writes for conditioning logs.
type Coordinator struct {
	logs  store.LogStore
	users store.UserStore

	maxRetries   int
	retryDelay   time.Duration
	storeTimeout time.Duration
	logger       *log.Logger
}

// New constructs a Coordinator with the default rollback policy.
func New(logs store.LogStore, users store.UserStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		logs:         logs,
		users:        users,
		maxRetries:   3,
		retryDelay:   250 * time.Millisecond,
		storeTimeout: 5 * time.Second,
		logger:       log.New(log.Writer(), "[coordinator] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateLog persists the log and appends its id to the owner's log list. If
// the user-store step fails, the just-created log is deleted again with
// bounded retries; exhausting them leaves a logged inconsistency but never
// panics the service. The returned id is the only immediately-consistent
// signal: the cache converges asynchronously via the synchronizer.
func (c *Coordinator) CreateLog(ctx context.Context, userID string, newLog domain.ConditioningLog) (string, error) {
	newLog.UserID = userID
	newLog.IsOverview = false

	callCtx, cancel := c.callContext(ctx)
	logID, err := c.logs.Create(callCtx, newLog)
	cancel()
	if err != nil {
		return "", persistence("create log", err)
	}

	callCtx, cancel = c.callContext(ctx)
	user, err := c.users.FetchByID(callCtx, userID)
	cancel()
	if err != nil {
		c.rollbackCreate(ctx, logID)
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: user %s", domain.ErrNotFound, userID)
		}
		return "", persistence("fetch user", err)
	}

	user.AddLog(logID)

	callCtx, cancel = c.callContext(ctx)
	err = c.users.Update(callCtx, *user)
	cancel()
	if err != nil {
		c.rollbackCreate(ctx, logID)
		return "", persistence("update user log list", err)
	}

	return logID, nil
}

// UpdateLog replaces an existing log with the provided detailed version. The
// owning user's id list is untouched; log ids never change.
func (c *Coordinator) UpdateLog(ctx context.Context, updated domain.ConditioningLog) error {
	callCtx, cancel := c.callContext(ctx)
	existing, err := c.logs.FetchByID(callCtx, updated.EntityID)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: log %s", domain.ErrNotFound, updated.EntityID)
		}
		return persistence("fetch log", err)
	}

	// Ownership is fixed at creation; updates may not move a log.
	updated.UserID = existing.UserID
	updated.IsOverview = false

	callCtx, cancel = c.callContext(ctx)
	err = c.logs.Update(callCtx, updated)
	cancel()
	if err != nil {
		return persistence("update log", err)
	}
	return nil
}

// DeleteLog soft-deletes by default: the deleted marker is set and the log id
// stays in the owner's list. A hard delete removes the row and the id; if the
// user-store step then fails the inconsistency is tolerated and logged, since
// the log store cannot recreate a hard-deleted log under the same identity.
func (c *Coordinator) DeleteLog(ctx context.Context, userID, logID string, soft bool) error {
	callCtx, cancel := c.callContext(ctx)
	err := c.logs.Delete(callCtx, logID, soft)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: log %s", domain.ErrNotFound, logID)
		}
		return persistence("delete log", err)
	}
	if soft {
		return nil
	}

	callCtx, cancel = c.callContext(ctx)
	user, err := c.users.FetchByID(callCtx, userID)
	cancel()
	if err == nil {
		user.RemoveLog(logID)
		callCtx, cancel = c.callContext(ctx)
		err = c.users.Update(callCtx, *user)
		cancel()
	}
	if err != nil {
		c.logger.Printf("hard delete of log %s succeeded but user %s log list was not updated: %v", logID, userID, err)
		recordInconsistency("hard_delete")
		return persistence("update user log list after hard delete", err)
	}
	return nil
}

// UndeleteLog clears the soft-delete marker.
func (c *Coordinator) UndeleteLog(ctx context.Context, logID string) error {
	callCtx, cancel := c.callContext(ctx)
	err := c.logs.Undelete(callCtx, logID)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: log %s", domain.ErrNotFound, logID)
		}
		return persistence("undelete log", err)
	}
	return nil
}

// rollbackCreate deletes a just-created log after the second write step
// failed. Retries are bounded with a fixed delay; the rollback runs even when
// the request context already expired, since the orphaned log exists
// regardless.
func (c *Coordinator) rollbackCreate(ctx context.Context, logID string) {
	base := context.WithoutCancel(ctx)

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		recordRollbackAttempt()

		callCtx, cancel := context.WithTimeout(base, c.storeTimeout)
		err := c.logs.Delete(callCtx, logID, false)
		cancel()
		if err == nil || errors.Is(err, domain.ErrNotFound) {
			c.logger.Printf("rolled back creation of log %s (attempt %d)", logID, attempt)
			return
		}

		c.logger.Printf("rollback of log %s failed (attempt %d/%d): %v", logID, attempt, c.maxRetries, err)
		if attempt < c.maxRetries {
			time.Sleep(c.retryDelay)
		}
	}

	c.logger.Printf("FATAL INCONSISTENCY: log %s is persisted but not referenced by any user; manual reconciliation required", logID)
	recordInconsistency("create_rollback")
}

func (c *Coordinator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.storeTimeout)
}

func persistence(op string, err error) error {
	if errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, op, err)
}
