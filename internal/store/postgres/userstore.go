package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/conditioning/internal/domain"
	"example.com/conditioning/internal/store"
)

// UserStore persists user aggregates in Postgres. The log id list is stored
// as a text array, preserving order.
type UserStore struct {
	pool        *pgxpool.Pool
	mu          sync.RWMutex
	subscribers map[int]chan store.UserEvent
	nextSub     int
}

// NewUserStore constructs a UserStore.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{
		pool:        pool,
		subscribers: make(map[int]chan store.UserEvent),
	}
}

// FetchByID implements store.UserStore.
func (s *UserStore) FetchByID(ctx context.Context, userID string) (*domain.User, error) {
	const query = `SELECT entity_id, user_id, logs FROM conditioning_users WHERE user_id=$1`

	var user domain.User
	err := s.pool.QueryRow(ctx, query, userID).Scan(&user.EntityID, &user.UserID, &user.Logs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, userID)
		}
		return nil, fmt.Errorf("%w: fetch user: %v", domain.ErrPersistence, err)
	}
	return &user, nil
}

// FetchAll implements store.UserStore.
func (s *UserStore) FetchAll(ctx context.Context) ([]domain.User, error) {
	const query = `SELECT entity_id, user_id, logs FROM conditioning_users ORDER BY user_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch users: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	out := make([]domain.User, 0)
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.EntityID, &user.UserID, &user.Logs); err != nil {
			return nil, fmt.Errorf("%w: scan user: %v", domain.ErrPersistence, err)
		}
		out = append(out, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch users: %v", domain.ErrPersistence, err)
	}
	return out, nil
}

// Update implements store.UserStore.
func (s *UserStore) Update(ctx context.Context, user domain.User) error {
	const query = `UPDATE conditioning_users SET logs=$2 WHERE user_id=$1 RETURNING entity_id`

	err := s.pool.QueryRow(ctx, query, user.UserID, user.Logs).Scan(&user.EntityID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: user %s", domain.ErrNotFound, user.UserID)
		}
		return fmt.Errorf("%w: update user: %v", domain.ErrPersistence, err)
	}

	user.Logs = append([]string(nil), user.Logs...)
	s.publish(store.UserEvent{Type: store.UserUpdated, User: user})
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
