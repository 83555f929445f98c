// Package cache holds the in-memory projection of every user's conditioning
// logs. Reads observe immutable snapshots; all mutation is serialized through
// a single mutex-guarded path and gated by a capability token issued once at
// construction.
package cache

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"example.com/conditioning/internal/domain"
	"example.com/conditioning/internal/observability"
	"example.com/conditioning/internal/store"
)

// Entry pairs a user id with that user's cached logs.
type Entry struct {
	UserID string
	Logs   []domain.ConditioningLog
}

// Snapshot is an immutable cache value. Version advances on every committed
// mutation so observers can detect change without deep comparison.
type Snapshot struct {
	Version uint64
	Entries []Entry
}

// Token is the unforgeable capability required for cache mutation. Exactly
// one is issued per cache, by New; holders present it on every write. The id
// field keeps the struct non-zero-sized: zero-sized allocations that escape
// to the heap all share one address, which would make any heap-allocated
// Token pointer-equal to the real one.
type Token struct {
	id uint64
}

var tokenIDs atomic.Uint64

// Option configures optional behaviour for the Cache.
type Option func(*Cache)

// WithLogger overrides the logger used to report dropped records.
func WithLogger(logger *log.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// Cache owns the projection. Snapshot reads are lock-free; writes take the
// mutex, build a fresh entry slice, and publish it atomically.
type Cache struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	token   *Token
	logger  *log.Logger
}

// New constructs an empty Cache and its mutation capability.
func New(opts ...Option) (*Cache, *Token) {
	c := &Cache{
		token:  &Token{id: tokenIDs.Add(1)},
		logger: log.New(log.Writer(), "[cache] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.current.Store(&Snapshot{})
	return c, c.token
}

// Load builds the initial projection: every log fetched as an overview,
// partitioned by owner using each user's log id list. A failed store fetch is
// returned as-is; the service cannot become ready without a loaded cache.
func (c *Cache) Load(ctx context.Context, logs store.LogStore, users store.UserStore) error {
	allLogs, err := logs.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("cache load: fetch logs: %w", err)
	}
	allUsers, err := users.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("cache load: fetch users: %w", err)
	}

	byID := make(map[string]domain.ConditioningLog, len(allLogs))
	for _, l := range allLogs {
		byID[l.EntityID] = l
	}

	entries := make([]Entry, 0, len(allUsers))
	claimed := 0
	for _, user := range allUsers {
		entry := Entry{UserID: user.UserID}
		for _, id := range user.Logs {
			l, ok := byID[id]
			if !ok {
				c.logger.Printf("load: user %s references unknown log %s, skipping", user.UserID, id)
				continue
			}
			entry.Logs = append(entry.Logs, l)
			claimed++
		}
		entries = append(entries, entry)
	}
	if claimed < len(allLogs) {
		c.logger.Printf("load: %d logs are not referenced by any user and were not cached", len(allLogs)-claimed)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.publish(entries)
	return nil
}

// Snapshot returns the current cache value. It never blocks on I/O and is
// safe to call concurrently with writes.
func (c *Cache) Snapshot() Snapshot {
	return *c.current.Load()
}

// Replace produces a new cache value with the user's logs replaced wholesale.
// A missing entry is created; entries stay ordered by user id.
func (c *Cache) Replace(token *Token, userID string, logs []domain.ConditioningLog) error {
	if err := c.authorize(token); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.copyEntries()
	idx := entryIndex(entries, userID)
	if idx < 0 {
		entries = append(entries, Entry{UserID: userID, Logs: logs})
		sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	} else {
		entries[idx].Logs = logs
	}
	c.publish(entries)
	return nil
}

// UpsertLog inserts or replaces one log in the user's entry, keyed by entity
// id. A detailed cached variant is never downgraded: when the incoming log is
// an overview of an already-detailed entry, the scalar attributes are taken
// from the incoming log and the cached payload is kept.
func (c *Cache) UpsertLog(token *Token, userID string, log domain.ConditioningLog) error {
	if err := c.authorize(token); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.copyEntries()
	idx := entryIndex(entries, userID)
	if idx < 0 {
		entries = append(entries, Entry{UserID: userID, Logs: []domain.ConditioningLog{log}})
		sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
		c.publish(entries)
		return nil
	}

	logs := append([]domain.ConditioningLog(nil), entries[idx].Logs...)
	replaced := false
	for i, existing := range logs {
		if existing.EntityID != log.EntityID {
			continue
		}
		if !existing.IsOverview && log.IsOverview {
			merged := log
			merged.Laps = existing.Laps
			merged.SensorLogs = existing.SensorLogs
			merged.IsOverview = false
			logs[i] = merged
		} else {
			logs[i] = log
		}
		replaced = true
		break
	}
	if !replaced {
		logs = append(logs, log)
	}
	entries[idx].Logs = logs
	c.publish(entries)
	return nil
}

// RemoveLog drops the log from the user's entry. An empty user id removes the
// log from whichever entry currently holds it. Removing an absent log is a
// no-op, which keeps event application idempotent.
func (c *Cache) RemoveLog(token *Token, userID, logID string) error {
	if err := c.authorize(token); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.copyEntries()
	changed := false
	for i := range entries {
		if userID != "" && entries[i].UserID != userID {
			continue
		}
		logs := entries[i].Logs
		for j, l := range logs {
			if l.EntityID == logID {
				kept := make([]domain.ConditioningLog, 0, len(logs)-1)
				kept = append(kept, logs[:j]...)
				kept = append(kept, logs[j+1:]...)
				entries[i].Logs = kept
				changed = true
				break
			}
		}
		if changed {
			break
		}
	}
	if changed {
		c.publish(entries)
	}
	return nil
}

// SetSnapshot replaces the whole cache value. Privileged, intended for the
// synchronizer's collaborators.
func (c *Cache) SetSnapshot(token *Token, entries []Entry) error {
	if err := c.authorize(token); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.publish(append([]Entry(nil), entries...))
	return nil
}

// Authorized reports whether the token is this cache's mutation capability.
func (c *Cache) Authorized(token *Token) bool {
	return token != nil && token == c.token && token.id == c.token.id
}

func (c *Cache) authorize(token *Token) error {
	if !c.Authorized(token) {
		return fmt.Errorf("%w: cache mutation requires the cache token", domain.ErrUnauthorized)
	}
	return nil
}

// publish commits a new snapshot. Callers hold c.mu.
func (c *Cache) publish(entries []Entry) {
	prev := c.current.Load()
	next := &Snapshot{Version: prev.Version + 1, Entries: entries}
	c.current.Store(next)

	total := 0
	for _, e := range entries {
		total += len(e.Logs)
	}
	observability.RecordCacheSize(len(entries), total)
}

// copyEntries returns a fresh entry slice sharing the per-entry log slices.
// Callers must copy an entry's logs before mutating them.
func (c *Cache) copyEntries() []Entry {
	return append([]Entry(nil), c.current.Load().Entries...)
}

func entryIndex(entries []Entry, userID string) int {
	for i, e := range entries {
		if e.UserID == userID {
			return i
		}
	}
	return -1
}
