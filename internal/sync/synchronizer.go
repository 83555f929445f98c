// Package sync keeps the cache eventually consistent with the log and user
// stores by applying their update events. Application is idempotent by id:
// at-least-once delivery and any interleaving of the two streams are safe.
package sync

import (
	"context"
	"log"
	stdsync "sync"

	"example.com/conditioning/internal/cache"
	"example.com/conditioning/internal/domain"
	"example.com/conditioning/internal/store"
)

// Option configures optional behaviour for the Synchronizer.
type Option func(*Synchronizer)

// WithLogger overrides the logger used to report dropped events.
func WithLogger(logger *log.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// Synchronizer subscribes to both stores' update streams and applies
// incremental mutations to the cache. It holds the cache's mutation token;
// nothing else gains write access through it.
type Synchronizer struct {
	cache      *cache.Cache
	token      *cache.Token
	logs       store.LogStore
	logEvents  store.LogEventSource
	userEvents store.UserEventSource
	logger     *log.Logger

	mu      stdsync.Mutex
	cancels []func()
	wg      stdsync.WaitGroup
}

// New constructs a Synchronizer. The cache token must be the capability
// issued by cache.New.
func New(c *cache.Cache, token *cache.Token, logs store.LogStore, logEvents store.LogEventSource, userEvents store.UserEventSource, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		cache:      c,
		token:      token,
		logs:       logs,
		logEvents:  logEvents,
		userEvents: userEvents,
		logger:     log.New(log.Writer(), "[sync] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the in-process subscriptions and consumes them until Stop
// is called or the context is cancelled. A nil source is skipped: deployments
// whose store events arrive over Kafka feed ApplyLogEvent/ApplyUserEvent
// through the stream package instead.
func (s *Synchronizer) Start(ctx context.Context) {
	if s.logEvents != nil {
		logCh, cancelLogs := s.logEvents.SubscribeLogs()
		s.mu.Lock()
		s.cancels = append(s.cancels, cancelLogs)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-logCh:
					if !ok {
						return
					}
					s.ApplyLogEvent(ctx, event)
				}
			}
		}()
	}

	if s.userEvents != nil {
		userCh, cancelUsers := s.userEvents.SubscribeUsers()
		s.mu.Lock()
		s.cancels = append(s.cancels, cancelUsers)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-userCh:
					if !ok {
						return
					}
					s.ApplyUserEvent(ctx, event)
				}
			}
		}()
	}
}

// Stop releases the subscriptions and waits for the apply loops to drain.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.wg.Wait()
}

// ApplyLogEvent applies one log store event to the cache. Malformed events
// are logged and dropped; they never stop the subscription.
func (s *Synchronizer) ApplyLogEvent(ctx context.Context, event store.LogEvent) {
	switch event.Type {
	case store.LogCreated, store.LogUpdated, store.LogUndeleted:
		if event.Log == nil || event.Log.EntityID == "" {
			s.logger.Printf("dropping %s event without log payload (log_id=%s)", event.Type, event.LogID)
			recordDropped("logs")
			return
		}
		userID := event.UserID
		if userID == "" {
			userID = event.Log.UserID
		}
		if userID == "" {
			s.logger.Printf("dropping %s event without owner (log_id=%s)", event.Type, event.Log.EntityID)
			recordDropped("logs")
			return
		}
		if err := s.cache.UpsertLog(s.token, userID, *event.Log); err != nil {
			s.logger.Printf("upsert of log %s failed: %v", event.Log.EntityID, err)
			recordDropped("logs")
			return
		}
	case store.LogDeleted:
		if event.LogID == "" {
			s.logger.Printf("dropping deleted event without log id")
			recordDropped("logs")
			return
		}
		if err := s.cache.RemoveLog(s.token, event.UserID, event.LogID); err != nil {
			s.logger.Printf("removal of log %s failed: %v", event.LogID, err)
			recordDropped("logs")
			return
		}
	default:
		s.logger.Printf("dropping unknown log event type %q", event.Type)
		recordDropped("logs")
		return
	}
	recordApplied("logs", string(event.Type))
}

// ApplyUserEvent diffs the event's log id list against the user's cache
// entry: ids present only in the payload are additions (fetched on demand as
// summaries when unknown), ids present only in the entry are removals. The
// rebuilt entry follows the payload's id order.
func (s *Synchronizer) ApplyUserEvent(ctx context.Context, event store.UserEvent) {
	if event.Type != store.UserUpdated || event.User.UserID == "" {
		s.logger.Printf("dropping malformed user event (type=%q, user=%q)", event.Type, event.User.UserID)
		recordDropped("users")
		return
	}

	userID := event.User.UserID
	cached := make(map[string]domain.ConditioningLog)
	for _, entry := range s.cache.Snapshot().Entries {
		if entry.UserID != userID {
			continue
		}
		for _, l := range entry.Logs {
			cached[l.EntityID] = l
		}
		break
	}

	rebuilt := make([]domain.ConditioningLog, 0, len(event.User.Logs))
	seen := make(map[string]struct{}, len(event.User.Logs))
	for _, id := range event.User.Logs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if l, ok := cached[id]; ok {
			rebuilt = append(rebuilt, l)
			continue
		}
		fetched, err := s.logs.FetchByID(ctx, id)
		if err != nil {
			s.logger.Printf("user %s references log %s that could not be fetched: %v", userID, id, err)
			continue
		}
		rebuilt = append(rebuilt, fetched.Overview())
	}

	if err := s.cache.Replace(s.token, userID, rebuilt); err != nil {
		s.logger.Printf("replace of user %s entry failed: %v", userID, err)
		recordDropped("users")
		return
	}
	recordApplied("users", string(event.Type))
}
