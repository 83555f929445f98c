// Package service exposes the authorized public operations over the
// conditioning log cache: reads are served from the cache (with lazy detail
// promotion), writes go through the consistency coordinator, and the cache
// converges asynchronously via the synchronizer.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"example.com/conditioning/internal/access"
	"example.com/conditioning/internal/aggregate"
	"example.com/conditioning/internal/cache"
	"example.com/conditioning/internal/coordinator"
	"example.com/conditioning/internal/domain"
	"example.com/conditioning/internal/observability"
	"example.com/conditioning/internal/store"
	logsync "example.com/conditioning/internal/sync"
)

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithLogger overrides the logger used for read-pipeline warnings.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAggregator swaps the aggregation implementation.
func WithAggregator(agg aggregate.Aggregator) Option {
	return func(s *Service) {
		s.aggregator = agg
	}
}

// Service is the query/aggregation façade.
type Service struct {
	cache        *cache.Cache
	promoter     *Promoter
	coordinator  *coordinator.Coordinator
	synchronizer *logsync.Synchronizer
	aggregator   aggregate.Aggregator
	logs         store.LogStore
	users        store.UserStore
	logger       *log.Logger
	ready        atomic.Bool
}

// New wires the façade. The cache token stays inside the service graph: the
// promoter and synchronizer hold it, external callers never see it.
func New(c *cache.Cache, token *cache.Token, coord *coordinator.Coordinator, sync *logsync.Synchronizer, logs store.LogStore, users store.UserStore, opts ...Option) *Service {
	s := &Service{
		cache:        c,
		coordinator:  coord,
		synchronizer: sync,
		aggregator:   aggregate.BucketAggregator{},
		logs:         logs,
		users:        users,
		logger:       log.New(log.Writer(), "[service] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.promoter = NewPromoter(c, token, logs, s.logger)
	return s
}

// Init loads the cache from both stores and starts the synchronizer. A load
// failure is fatal: the service never reports ready.
func (s *Service) Init(ctx context.Context) error {
	if err := s.cache.Load(ctx, s.logs, s.users); err != nil {
		return err
	}
	observability.RecordCacheLoaded(time.Now().UTC())
	if s.synchronizer != nil {
		s.synchronizer.Start(ctx)
	}
	s.ready.Store(true)
	return nil
}

// Shutdown releases the event subscriptions.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	if s.synchronizer != nil {
		s.synchronizer.Stop()
	}
	return nil
}

// Ready reports whether Init completed.
func (s *Service) Ready() bool {
	return s.ready.Load()
}

// FetchLog returns one log, promoted to full detail. Soft-deleted logs are
// hidden unless includeDeleted is set.
func (s *Service) FetchLog(ctx context.Context, caller access.Context, targetUserID, logID string, includeDeleted bool) (*domain.ConditioningLog, error) {
	if err := access.RequireAccess(caller, targetUserID); err != nil {
		return nil, err
	}
	target := access.ResolveTarget(caller, targetUserID)
	if target == "" {
		target = caller.UserID
	}

	found, err := s.promoter.Resolve(ctx, target, logID)
	if err != nil {
		return nil, err
	}
	if found.IsDeleted() && !includeDeleted {
		return nil, fmt.Errorf("%w: log %s", domain.ErrNotFound, logID)
	}
	return found, nil
}

// FetchLogs returns the target user's logs — every user's when an admin
// passes an empty target — filtered, stripped of soft-deleted entries unless
// requested, and sorted ascending by start time.
func (s *Service) FetchLogs(ctx context.Context, caller access.Context, targetUserID string, filter *domain.Filter, includeDeleted bool) ([]domain.ConditioningLog, error) {
	if err := access.RequireAccess(caller, targetUserID); err != nil {
		return nil, err
	}
	return s.selectLogs(caller, targetUserID, filter, includeDeleted)
}

// FetchActivityCounts reduces the same selection pipeline as FetchLogs to a
// per-activity count.
func (s *Service) FetchActivityCounts(ctx context.Context, caller access.Context, targetUserID string, filter *domain.Filter, includeDeleted bool) (map[domain.Activity]int, error) {
	if err := access.RequireAccess(caller, targetUserID); err != nil {
		return nil, err
	}
	logs, err := s.selectLogs(caller, targetUserID, filter, includeDeleted)
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.Activity]int, len(logs))
	for _, l := range logs {
		counts[l.Activity]++
	}
	return counts, nil
}

// FetchAggregatedLogs converts the caller-scoped selection into a time series
// keyed by start timestamp and delegates to the aggregator.
func (s *Service) FetchAggregatedLogs(ctx context.Context, caller access.Context, params aggregate.Params, filter *domain.Filter, includeDeleted bool) (aggregate.AggregatedSeries, error) {
	if err := access.RequireAccess(caller, ""); err != nil {
		return aggregate.AggregatedSeries{}, err
	}
	logs, err := s.selectLogs(caller, "", filter, includeDeleted)
	if err != nil {
		return aggregate.AggregatedSeries{}, err
	}

	series := make(aggregate.Series, 0, len(logs))
	for _, l := range logs {
		series = append(series, aggregate.Entry{Timestamp: l.Start, Log: l})
	}
	return s.aggregator.Aggregate(series, params)
}

// CreateLog persists a new log for the target user through the coordinator
// and returns its id. The cache converges asynchronously; callers must not
// assume an immediately-updated read view.
func (s *Service) CreateLog(ctx context.Context, caller access.Context, targetUserID string, newLog domain.ConditioningLog) (string, error) {
	if err := access.RequireAccess(caller, targetUserID); err != nil {
		return "", err
	}
	target := access.ResolveTarget(caller, targetUserID)
	if target == "" {
		target = caller.UserID
	}
	return s.coordinator.CreateLog(ctx, target, newLog)
}

// UpdateLog replaces an existing log owned by the target user with the
// provided detailed version.
func (s *Service) UpdateLog(ctx context.Context, caller access.Context, targetUserID string, updated domain.ConditioningLog) error {
	if err := access.RequireAccess(caller, targetUserID); err != nil {
		return err
	}
	target := access.ResolveTarget(caller, targetUserID)
	if target == "" {
		target = caller.UserID
	}
	if err := s.confirmOwnership(ctx, target, updated.EntityID); err != nil {
		return err
	}
	return s.coordinator.UpdateLog(ctx, updated)
}

// DeleteLog removes a log, softly by default.
func (s *Service) DeleteLog(ctx context.Context, caller access.Context, targetUserID, logID string, soft bool) error {
	if err := access.RequireAccess(caller, targetUserID); err != nil {
		return err
	}
	target := access.ResolveTarget(caller, targetUserID)
	if target == "" {
		target = caller.UserID
	}
	if err := s.confirmOwnership(ctx, target, logID); err != nil {
		return err
	}
	return s.coordinator.DeleteLog(ctx, target, logID, soft)
}

// UndeleteLog clears a log's soft-delete marker.
func (s *Service) UndeleteLog(ctx context.Context, caller access.Context, targetUserID, logID string) error {
	if err := access.RequireAccess(caller, targetUserID); err != nil {
		return err
	}
	target := access.ResolveTarget(caller, targetUserID)
	if target == "" {
		target = caller.UserID
	}
	if err := s.confirmOwnership(ctx, target, logID); err != nil {
		return err
	}
	return s.coordinator.UndeleteLog(ctx, logID)
}

// CacheSnapshot exposes the cache value to holders of the mutation token.
// Any other caller is rejected; the token is how the synchronizer's event
// handlers identify themselves.
func (s *Service) CacheSnapshot(token *cache.Token) (cache.Snapshot, error) {
	if !s.cache.Authorized(token) {
		return cache.Snapshot{}, fmt.Errorf("%w: cache access requires the cache token", domain.ErrUnauthorized)
	}
	return s.cache.Snapshot(), nil
}

// UpdateCache replaces the whole cache value. Same gating as CacheSnapshot.
func (s *Service) UpdateCache(token *cache.Token, entries []cache.Entry) error {
	return s.cache.SetSnapshot(token, entries)
}

// selectLogs is the shared read pipeline: entry selection, filter,
// soft-delete filter, start-ascending sort. Logs without a start timestamp
// are logged and excluded from ordered results.
func (s *Service) selectLogs(caller access.Context, targetUserID string, filter *domain.Filter, includeDeleted bool) ([]domain.ConditioningLog, error) {
	target := access.ResolveTarget(caller, targetUserID)

	snapshot := s.cache.Snapshot()
	var selected []domain.ConditioningLog
	if target == "" {
		for _, entry := range snapshot.Entries {
			selected = append(selected, entry.Logs...)
		}
	} else {
		idx := -1
		for i, entry := range snapshot.Entries {
			if entry.UserID == target {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, target)
		}
		selected = append(selected, snapshot.Entries[idx].Logs...)
	}

	out := make([]domain.ConditioningLog, 0, len(selected))
	for _, l := range selected {
		if l.IsDeleted() && !includeDeleted {
			continue
		}
		if filter != nil && !filter.Matches(l) {
			continue
		}
		if l.Start.IsZero() {
			s.logger.Printf("log %s has no start timestamp and is excluded from ordered results", l.EntityID)
			continue
		}
		out = append(out, l)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// confirmOwnership verifies the log exists and belongs to the target user,
// first against the cache, then against the store for logs not yet cached. A
// mismatch surfaces as not-found rather than revealing the true owner.
func (s *Service) confirmOwnership(ctx context.Context, userID, logID string) error {
	for _, entry := range s.cache.Snapshot().Entries {
		if entry.UserID != userID {
			continue
		}
		for _, l := range entry.Logs {
			if l.EntityID == logID {
				return nil
			}
		}
		break
	}

	existing, err := s.logs.FetchByID(ctx, logID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: log %s", domain.ErrNotFound, logID)
		}
		return fmt.Errorf("%w: fetch log %s: %v", domain.ErrPersistence, logID, err)
	}
	if existing.UserID != userID {
		return fmt.Errorf("%w: log %s", domain.ErrNotFound, logID)
	}
	return nil
}
