package coordinator

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/conditioning/internal/domain"
	"example.com/conditioning/internal/store"
	"example.com/conditioning/internal/store/memory"
)

func newLog(userID string) domain.ConditioningLog {
	return domain.ConditioningLog{
		UserID:   userID,
		Activity: domain.ActivityBike,
		Start:    time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC),
		Duration: domain.Quantity{Value: 3600, Unit: "s"},
	}
}

func newCoordinator(t *testing.T, logs store.LogStore, users store.UserStore, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{
		WithLogger(log.New(testWriter{t}, "", 0)),
		WithRollbackPolicy(3, 0),
	}, opts...)
	return New(logs, users, opts...)
}

func TestCreateLogAppendsToUserList(t *testing.T) {
	ctx := context.Background()
	logs := memory.NewLogStore()
	users := memory.NewUserStore()
	users.Seed(domain.User{UserID: "user-1"})
	c := newCoordinator(t, logs, users)

	id, err := c.CreateLog(ctx, "user-1", newLog(""))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stored, err := logs.FetchByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "user-1", stored.UserID)
	require.False(t, stored.IsOverview)

	user, err := users.FetchByID(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, user.HasLog(id))
}

func TestCreateLogUnknownUserRollsBack(t *testing.T) {
	ctx := context.Background()
	logs := memory.NewLogStore()
	users := memory.NewUserStore()
	c := newCoordinator(t, logs, users)

	_, err := c.CreateLog(ctx, "user-ghost", newLog(""))
	require.ErrorIs(t, err, domain.ErrNotFound)

	all, err := logs.FetchAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all, "the orphaned log must be deleted again")
}

func TestCreateLogUserUpdateFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	logs := memory.NewLogStore()
	users := &stubUserStore{
		fetch: func(ctx context.Context, userID string) (*domain.User, error) {
			return &domain.User{UserID: userID}, nil
		},
		update: func(ctx context.Context, user domain.User) error {
			return errors.New("connection reset")
		},
	}
	c := newCoordinator(t, logs, users)

	_, err := c.CreateLog(ctx, "user-1", newLog(""))
	require.ErrorIs(t, err, domain.ErrPersistence)

	all, err := logs.FetchAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestCreateLogRollbackExhaustionIsTolerated(t *testing.T) {
	ctx := context.Background()
	deletes := 0
	logs := &stubLogStore{
		create: func(ctx context.Context, l domain.ConditioningLog) (string, error) {
			return "log-stuck", nil
		},
		delete: func(ctx context.Context, logID string, soft bool) error {
			deletes++
			return errors.New("store unavailable")
		},
	}
	users := &stubUserStore{
		fetch: func(ctx context.Context, userID string) (*domain.User, error) {
			return nil, errors.New("store unavailable")
		},
	}
	c := newCoordinator(t, logs, users)

	_, err := c.CreateLog(ctx, "user-1", newLog(""))
	require.ErrorIs(t, err, domain.ErrPersistence)
	require.Equal(t, 3, deletes, "rollback retries are bounded")
}

func TestUpdateLogPinsOwnership(t *testing.T) {
	ctx := context.Background()
	logs := memory.NewLogStore()
	users := memory.NewUserStore()
	c := newCoordinator(t, logs, users)

	id, err := logs.Create(ctx, newLog("user-1"))
	require.NoError(t, err)

	updated := newLog("user-2")
	updated.EntityID = id
	updated.Note = "tempo intervals"
	require.NoError(t, c.UpdateLog(ctx, updated))

	stored, err := logs.FetchByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "user-1", stored.UserID, "updates may not move a log between users")
	require.Equal(t, "tempo intervals", stored.Note)
}

func TestUpdateLogMissing(t *testing.T) {
	c := newCoordinator(t, memory.NewLogStore(), memory.NewUserStore())

	missing := newLog("user-1")
	missing.EntityID = "log-ghost"
	err := c.UpdateLog(context.Background(), missing)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteLogSoftKeepsListEntry(t *testing.T) {
	ctx := context.Background()
	logs := memory.NewLogStore()
	users := memory.NewUserStore()
	c := newCoordinator(t, logs, users)

	id, err := logs.Create(ctx, newLog("user-1"))
	require.NoError(t, err)
	users.Seed(domain.User{UserID: "user-1", Logs: []string{id}})

	require.NoError(t, c.DeleteLog(ctx, "user-1", id, true))

	stored, err := logs.FetchByID(ctx, id)
	require.NoError(t, err)
	require.True(t, stored.IsDeleted())

	user, err := users.FetchByID(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, user.HasLog(id), "soft deletion keeps the id in the user's list")
}

func TestDeleteLogHardRemovesListEntry(t *testing.T) {
	ctx := context.Background()
	logs := memory.NewLogStore()
	users := memory.NewUserStore()
	c := newCoordinator(t, logs, users)

	id, err := logs.Create(ctx, newLog("user-1"))
	require.NoError(t, err)
	users.Seed(domain.User{UserID: "user-1", Logs: []string{id}})

	require.NoError(t, c.DeleteLog(ctx, "user-1", id, false))

	_, err = logs.FetchByID(ctx, id)
	require.ErrorIs(t, err, domain.ErrNotFound)

	user, err := users.FetchByID(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, user.HasLog(id))
}

func TestDeleteLogHardToleratesUserListFailure(t *testing.T) {
	ctx := context.Background()
	deleted := false
	logs := &stubLogStore{
		delete: func(ctx context.Context, logID string, soft bool) error {
			deleted = true
			return nil
		},
	}
	users := &stubUserStore{
		fetch: func(ctx context.Context, userID string) (*domain.User, error) {
			return nil, errors.New("store unavailable")
		},
	}
	c := newCoordinator(t, logs, users)

	err := c.DeleteLog(ctx, "user-1", "log-a", false)
	require.ErrorIs(t, err, domain.ErrPersistence)
	require.True(t, deleted, "the hard deletion itself is not rolled back")
}

func TestUndeleteLogClearsMarker(t *testing.T) {
	ctx := context.Background()
	logs := memory.NewLogStore()
	c := newCoordinator(t, logs, memory.NewUserStore())

	id, err := logs.Create(ctx, newLog("user-1"))
	require.NoError(t, err)
	require.NoError(t, logs.Delete(ctx, id, true))

	require.NoError(t, c.UndeleteLog(ctx, id))

	stored, err := logs.FetchByID(ctx, id)
	require.NoError(t, err)
	require.False(t, stored.IsDeleted())
}

type stubLogStore struct {
	create func(ctx context.Context, l domain.ConditioningLog) (string, error)
	update func(ctx context.Context, l domain.ConditioningLog) error
	delete func(ctx context.Context, logID string, soft bool) error
}

func (s *stubLogStore) Create(ctx context.Context, l domain.ConditioningLog) (string, error) {
	if s.create == nil {
		return "", errors.New("unexpected Create")
	}
	return s.create(ctx, l)
}

func (s *stubLogStore) Update(ctx context.Context, l domain.ConditioningLog) error {
	if s.update == nil {
		return errors.New("unexpected Update")
	}
	return s.update(ctx, l)
}

func (s *stubLogStore) Delete(ctx context.Context, logID string, soft bool) error {
	if s.delete == nil {
		return errors.New("unexpected Delete")
	}
	return s.delete(ctx, logID, soft)
}

func (s *stubLogStore) Undelete(ctx context.Context, logID string) error {
	return errors.New("unexpected Undelete")
}

func (s *stubLogStore) FetchByID(ctx context.Context, logID string) (*domain.ConditioningLog, error) {
	return nil, errors.New("unexpected FetchByID")
}

func (s *stubLogStore) FetchAll(ctx context.Context) ([]domain.ConditioningLog, error) {
	return nil, errors.New("unexpected FetchAll")
}

type stubUserStore struct {
	fetch  func(ctx context.Context, userID string) (*domain.User, error)
	update func(ctx context.Context, user domain.User) error
}

func (s *stubUserStore) FetchByID(ctx context.Context, userID string) (*domain.User, error) {
	if s.fetch == nil {
		return nil, errors.New("unexpected FetchByID")
	}
	return s.fetch(ctx, userID)
}

func (s *stubUserStore) FetchAll(ctx context.Context) ([]domain.User, error) {
	return nil, errors.New("unexpected FetchAll")
}

func (s *stubUserStore) Update(ctx context.Context, user domain.User) error {
	if s.update == nil {
		return errors.New("unexpected Update")
	}
	return s.update(ctx, user)
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
