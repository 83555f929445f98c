package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"example.com/conditioning/internal/domain"
	"example.com/conditioning/internal/store"
)

// UserStore keeps user aggregates in a mutex-guarded map and fans out
// update events to in-process subscribers.
type UserStore struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	subscribers map[int]chan store.UserEvent
	nextSub     int
}

// NewUserStore constructs an empty UserStore.
func NewUserStore() *UserStore {
	return &UserStore{
		users:       make(map[string]domain.User),
		subscribers: make(map[int]chan store.UserEvent),
	}
}

// Seed inserts a user directly, without publishing an event. Intended for
// test setup and local bootstrap.
func (s *UserStore) Seed(user domain.User) {
	if strings.TrimSpace(user.EntityID) == "" {
		user.EntityID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.UserID] = cloneUser(user)
}

// FetchByID implements store.UserStore.
func (s *UserStore) FetchByID(ctx context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, userID)
	}
	out := cloneUser(user)
	return &out, nil
}

// FetchAll implements store.UserStore.
func (s *UserStore) FetchAll(ctx context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.User, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, cloneUser(user))
	}
	return out, nil
}

// Update implements store.UserStore.
func (s *UserStore) Update(ctx context.Context, user domain.User) error {
	s.mu.Lock()
	if _, ok := s.users[user.UserID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: user %s", domain.ErrNotFound, user.UserID)
	}
	s.users[user.UserID] = cloneUser(user)
	s.mu.Unlock()

	s.publish(store.UserEvent{Type: store.UserUpdated, User: cloneUser(user)})
	return nil
}

// SubscribeUsers implements store.UserEventSource.
func (s *UserStore) SubscribeUsers() (<-chan store.UserEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan store.UserEvent, subscriptionBuffer)
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

func (s *UserStore) publish(event store.UserEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func cloneUser(user domain.User) domain.User {
	out := user
	out.Logs = append([]string(nil), user.Logs...)
	return out
}
