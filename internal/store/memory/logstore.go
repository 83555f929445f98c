// Package memory provides in-memory store implementations with in-process
// update streams, used by tests and local development.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"example.com/conditioning/internal/domain"
	"example.com/conditioning/internal/store"
)

const subscriptionBuffer = 64

// LogStore keeps conditioning logs in a mutex-guarded map and fans out
// update events to in-process subscribers.
type LogStore struct {
	mu          sync.RWMutex
	logs        map[string]domain.ConditioningLog
	subscribers map[int]chan store.LogEvent
	nextSub     int
}

// NewLogStore constructs an empty LogStore.
func NewLogStore() *LogStore {
	return &LogStore{
		logs:        make(map[string]domain.ConditioningLog),
		subscribers: make(map[int]chan store.LogEvent),
	}
}

// Create implements store.LogStore.
func (s *LogStore) Create(ctx context.Context, log domain.ConditioningLog) (string, error) {
	if strings.TrimSpace(log.UserID) == "" {
		return "", fmt.Errorf("%w: log owner is required", domain.ErrPersistence)
	}
	if strings.TrimSpace(log.EntityID) == "" {
		log.EntityID = domain.NewLogID()
	}
	now := time.Now().UTC()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = now
	}
	log.UpdatedAt = now

	s.mu.Lock()
	if _, exists := s.logs[log.EntityID]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: log %s already exists", domain.ErrPersistence, log.EntityID)
	}
	s.logs[log.EntityID] = log
	s.mu.Unlock()

	s.publish(store.LogEvent{Type: store.LogCreated, UserID: log.UserID, LogID: log.EntityID, Log: &log})
	return log.EntityID, nil
}

// Update implements store.LogStore.
func (s *LogStore) Update(ctx context.Context, log domain.ConditioningLog) error {
	s.mu.Lock()
	existing, ok := s.logs[log.EntityID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: log %s", domain.ErrNotFound, log.EntityID)
	}
	log.CreatedAt = existing.CreatedAt
	log.UpdatedAt = time.Now().UTC()
	s.logs[log.EntityID] = log
	s.mu.Unlock()

	s.publish(store.LogEvent{Type: store.LogUpdated, UserID: log.UserID, LogID: log.EntityID, Log: &log})
	return nil
}

// Delete implements store.LogStore. Soft deletion stamps the deleted marker;
// hard deletion removes the row.
func (s *LogStore) Delete(ctx context.Context, logID string, soft bool) error {
	s.mu.Lock()
	log, ok := s.logs[logID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: log %s", domain.ErrNotFound, logID)
	}

	if soft {
		now := time.Now().UTC()
		log.DeletedOn = &now
		log.UpdatedAt = now
		s.logs[logID] = log
		s.mu.Unlock()
		s.publish(store.LogEvent{Type: store.LogUpdated, UserID: log.UserID, LogID: logID, Log: &log})
		return nil
	}

	delete(s.logs, logID)
	s.mu.Unlock()
	s.publish(store.LogEvent{Type: store.LogDeleted, UserID: log.UserID, LogID: logID})
	return nil
}

// Undelete implements store.LogStore.
func (s *LogStore) Undelete(ctx context.Context, logID string) error {
	s.mu.Lock()
	log, ok := s.logs[logID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: log %s", domain.ErrNotFound, logID)
	}
	log.DeletedOn = nil
	log.UpdatedAt = time.Now().UTC()
	s.logs[logID] = log
	s.mu.Unlock()

	s.publish(store.LogEvent{Type: store.LogUndeleted, UserID: log.UserID, LogID: logID, Log: &log})
	return nil
}

// FetchByID returns the detailed log.
func (s *LogStore) FetchByID(ctx context.Context, logID string) (*domain.ConditioningLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.logs[logID]
	if !ok {
		return nil, fmt.Errorf("%w: log %s", domain.ErrNotFound, logID)
	}
	out := log
	return &out, nil
}

// FetchAll returns every log as an overview.
func (s *LogStore) FetchAll(ctx context.Context) ([]domain.ConditioningLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ConditioningLog, 0, len(s.logs))
	for _, log := range s.logs {
		out = append(out, log.Overview())
	}
	return out, nil
}

// SubscribeLogs implements store.LogEventSource.
func (s *LogStore) SubscribeLogs() (<-chan store.LogEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan store.LogEvent, subscriptionBuffer)
	s.subscribers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (s *LogStore) publish(event store.LogEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Slow subscribers drop events rather than block the store.
		}
	}
}
