package cache

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/conditioning/internal/domain"
	"example.com/conditioning/internal/store/memory"
)

func newLog(id, userID string, start time.Time) domain.ConditioningLog {
	return domain.ConditioningLog{
		EntityID: id,
		UserID:   userID,
		Activity: domain.ActivityRun,
		Start:    start,
		Duration: domain.Quantity{Value: 1800, Unit: "s"},
	}
}

func seededStores(t *testing.T) (*memory.LogStore, *memory.UserStore) {
	t.Helper()
	ctx := context.Background()
	logs := memory.NewLogStore()
	users := memory.NewUserStore()

	start := time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)
	for _, l := range []domain.ConditioningLog{
		newLog("log-a", "user-1", start),
		newLog("log-b", "user-1", start.Add(time.Hour)),
		newLog("log-c", "user-2", start.Add(2*time.Hour)),
	} {
		_, err := logs.Create(ctx, l)
		require.NoError(t, err)
	}

	users.Seed(domain.User{UserID: "user-1", Logs: []string{"log-a", "log-b"}})
	users.Seed(domain.User{UserID: "user-2", Logs: []string{"log-c"}})
	return logs, users
}

func TestLoadPartitionsLogsByOwner(t *testing.T) {
	logs, users := seededStores(t)
	c, _ := New(WithLogger(log.New(testWriter{t}, "", 0)))

	require.NoError(t, c.Load(context.Background(), logs, users))

	snap := c.Snapshot()
	require.Len(t, snap.Entries, 2)
	require.Equal(t, "user-1", snap.Entries[0].UserID)
	require.Len(t, snap.Entries[0].Logs, 2)
	require.Equal(t, "user-2", snap.Entries[1].UserID)
	require.Len(t, snap.Entries[1].Logs, 1)

	for _, entry := range snap.Entries {
		for _, l := range entry.Logs {
			require.True(t, l.IsOverview, "load must cache logs as overviews")
		}
	}
}

func TestLoadSkipsUnreferencedAndUnknownLogs(t *testing.T) {
	logs, users := seededStores(t)
	ctx := context.Background()

	// Not referenced by any user's id list.
	_, err := logs.Create(ctx, newLog("log-orphan", "user-1", time.Now().UTC()))
	require.NoError(t, err)
	// Referenced id with no backing log.
	users.Seed(domain.User{UserID: "user-3", Logs: []string{"log-ghost"}})

	c, _ := New(WithLogger(log.New(testWriter{t}, "", 0)))
	require.NoError(t, c.Load(ctx, logs, users))

	snap := c.Snapshot()
	require.Len(t, snap.Entries, 3)
	for _, entry := range snap.Entries {
		for _, l := range entry.Logs {
			require.NotEqual(t, "log-orphan", l.EntityID)
			require.NotEqual(t, "log-ghost", l.EntityID)
		}
	}
}

func TestReplacePublishesNewValue(t *testing.T) {
	c, token := New(WithLogger(log.New(testWriter{t}, "", 0)))

	before := c.Snapshot()
	require.NoError(t, c.Replace(token, "user-1", []domain.ConditioningLog{newLog("log-a", "user-1", time.Now().UTC())}))
	after := c.Snapshot()

	require.Greater(t, after.Version, before.Version)
	require.Empty(t, before.Entries, "previous snapshot must be untouched")
	require.Len(t, after.Entries, 1)
}

func TestUpsertLogIsIdempotent(t *testing.T) {
	c, token := New(WithLogger(log.New(testWriter{t}, "", 0)))

	l := newLog("log-a", "user-1", time.Now().UTC())
	require.NoError(t, c.UpsertLog(token, "user-1", l))
	require.NoError(t, c.UpsertLog(token, "user-1", l))

	snap := c.Snapshot()
	require.Len(t, snap.Entries, 1)
	require.Len(t, snap.Entries[0].Logs, 1)
}

func TestUpsertNeverDowngradesDetail(t *testing.T) {
	c, token := New(WithLogger(log.New(testWriter{t}, "", 0)))

	detailed := newLog("log-a", "user-1", time.Now().UTC())
	detailed.Laps = []domain.Lap{{Duration: domain.Quantity{Value: 600, Unit: "s"}}}
	detailed.IsOverview = false
	require.NoError(t, c.UpsertLog(token, "user-1", detailed))

	overview := detailed.Overview()
	overview.Note = "updated note"
	require.NoError(t, c.UpsertLog(token, "user-1", overview))

	snap := c.Snapshot()
	got := snap.Entries[0].Logs[0]
	require.False(t, got.IsOverview)
	require.Len(t, got.Laps, 1, "detailed payload must survive an overview upsert")
	require.Equal(t, "updated note", got.Note, "scalar attributes must come from the newer event")
}

func TestRemoveLogByScan(t *testing.T) {
	c, token := New(WithLogger(log.New(testWriter{t}, "", 0)))
	require.NoError(t, c.UpsertLog(token, "user-1", newLog("log-a", "user-1", time.Now().UTC())))
	require.NoError(t, c.UpsertLog(token, "user-2", newLog("log-b", "user-2", time.Now().UTC())))

	// No owner hint: the log is removed from whichever entry holds it.
	require.NoError(t, c.RemoveLog(token, "", "log-b"))

	snap := c.Snapshot()
	require.Len(t, snap.Entries[0].Logs, 1)
	require.Empty(t, snap.Entries[1].Logs)

	// Removing again is a no-op.
	version := snap.Version
	require.NoError(t, c.RemoveLog(token, "", "log-b"))
	require.Equal(t, version, c.Snapshot().Version)
}

func TestMutationRequiresToken(t *testing.T) {
	c, _ := New(WithLogger(log.New(testWriter{t}, "", 0)))

	forged := &Token{}
	err := c.UpsertLog(forged, "user-1", newLog("log-a", "user-1", time.Now().UTC()))
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	err = c.Replace(nil, "user-1", nil)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	err = c.SetSnapshot(forged, nil)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Empty(t, c.Snapshot().Entries)
}

// tokenSink keeps forged tokens reachable so they are allocated on the heap,
// the same way a token smuggled across an API boundary would be.
var tokenSink *Token

func TestHeapAllocatedForgedTokenRejected(t *testing.T) {
	c, token := New(WithLogger(log.New(testWriter{t}, "", 0)))

	forged := new(Token)
	tokenSink = forged
	require.NotSame(t, token, forged)
	require.False(t, c.Authorized(forged))

	err := c.UpsertLog(forged, "user-1", newLog("log-a", "user-1", time.Now().UTC()))
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Empty(t, c.Snapshot().Entries)
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
