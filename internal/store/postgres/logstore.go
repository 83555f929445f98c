// Package postgres provides pgx-backed implementations of the log and user
// store contracts. Both stores fan out update events to in-process
// subscribers so the write path can feed the cache synchronizer and the
// Kafka publisher.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/conditioning/internal/domain"
	"example.com/conditioning/internal/store"
)

const subscriptionBuffer = 64

// LogStore persists conditioning logs in Postgres. Laps and sensor series are
// stored as jsonb so overview fetches can skip them entirely.
type LogStore struct {
	pool        *pgxpool.Pool
	mu          sync.RWMutex
	subscribers map[int]chan store.LogEvent
	nextSub     int
}

// NewLogStore constructs a LogStore.
func NewLogStore(pool *pgxpool.Pool) *LogStore {
	return &LogStore{
		pool:        pool,
		subscribers: make(map[int]chan store.LogEvent),
	}
}

const logColumns = `entity_id, user_id, activity, start_at, end_at, duration_value, duration_unit, note, deleted_on, created_at, updated_at`

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

	laps, sensors, err := marshalDetail(log)
	if err != nil {
		return "", err
	}

	const query = `INSERT INTO conditioning_logs
        (entity_id, user_id, activity, start_at, end_at, duration_value, duration_unit, note, laps, sensor_logs, deleted_on, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	_, err = s.pool.Exec(ctx, query,
		log.EntityID,
		log.UserID,
		string(log.Activity),
		nullIfZeroTime(log.Start),
		nullIfZeroTime(log.End),
		log.Duration.Value,
		log.Duration.Unit,
		log.Note,
		laps,
		sensors,
		log.DeletedOn,
		log.CreatedAt,
		log.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert log: %v", domain.ErrPersistence, err)
	}

	s.publish(store.LogEvent{Type: store.LogCreated, UserID: log.UserID, LogID: log.EntityID, Log: &log})
	return log.EntityID, nil
}

// Update implements store.LogStore.
func (s *LogStore) Update(ctx context.Context, log domain.ConditioningLog) error {
	laps, sensors, err := marshalDetail(log)
	if err != nil {
		return err
	}
	log.UpdatedAt = time.Now().UTC()

	const query = `UPDATE conditioning_logs
        SET activity=$2, start_at=$3, end_at=$4, duration_value=$5, duration_unit=$6, note=$7, laps=$8, sensor_logs=$9, updated_at=$10
        WHERE entity_id=$1
        RETURNING created_at`

	err = s.pool.QueryRow(ctx, query,
		log.EntityID,
		string(log.Activity),
		nullIfZeroTime(log.Start),
		nullIfZeroTime(log.End),
		log.Duration.Value,
		log.Duration.Unit,
		log.Note,
		laps,
		sensors,
		log.UpdatedAt,
	).Scan(&log.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: log %s", domain.ErrNotFound, log.EntityID)
		}
		return fmt.Errorf("%w: update log: %v", domain.ErrPersistence, err)
	}

	log.IsOverview = false
	s.publish(store.LogEvent{Type: store.LogUpdated, UserID: log.UserID, LogID: log.EntityID, Log: &log})
	return nil
}

// Delete implements store.LogStore. Soft deletion stamps the deleted marker
// and is announced as an update carrying the full row; hard deletion removes
// the row and announces the bare ids.
func (s *LogStore) Delete(ctx context.Context, logID string, soft bool) error {
	if soft {
		query := `UPDATE conditioning_logs SET deleted_on=NOW(), updated_at=NOW() WHERE entity_id=$1
            RETURNING ` + logColumns + `, laps, sensor_logs`

		log, err := s.queryRowDetail(ctx, query, logID)
		if err != nil {
			return fmt.Errorf("delete log: %w", err)
		}
		s.publish(store.LogEvent{Type: store.LogUpdated, UserID: log.UserID, LogID: logID, Log: log})
		return nil
	}

	var userID string
	err := s.pool.QueryRow(ctx,
		`DELETE FROM conditioning_logs WHERE entity_id=$1 RETURNING user_id`, logID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: log %s", domain.ErrNotFound, logID)
		}
		return fmt.Errorf("%w: delete log: %v", domain.ErrPersistence, err)
	}

	s.publish(store.LogEvent{Type: store.LogDeleted, UserID: userID, LogID: logID})
	return nil
}

// Undelete implements store.LogStore.
func (s *LogStore) Undelete(ctx context.Context, logID string) error {
	query := `UPDATE conditioning_logs SET deleted_on=NULL, updated_at=NOW() WHERE entity_id=$1
        RETURNING ` + logColumns + `, laps, sensor_logs`

	log, err := s.queryRowDetail(ctx, query, logID)
	if err != nil {
		return fmt.Errorf("undelete log: %w", err)
	}
	s.publish(store.LogEvent{Type: store.LogUndeleted, UserID: log.UserID, LogID: logID, Log: log})
	return nil
}

// FetchByID returns the detailed log.
func (s *LogStore) FetchByID(ctx context.Context, logID string) (*domain.ConditioningLog, error) {
	query := `SELECT ` + logColumns + `, laps, sensor_logs FROM conditioning_logs WHERE entity_id=$1`

	log, err := s.queryRowDetail(ctx, query, logID)
	if err != nil {
		return nil, fmt.Errorf("fetch log: %w", err)
	}
	return log, nil
}

// FetchAll returns every log as an overview, without touching the jsonb
// detail columns.
func (s *LogStore) FetchAll(ctx context.Context) ([]domain.ConditioningLog, error) {
	query := `SELECT ` + logColumns + ` FROM conditioning_logs ORDER BY entity_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch logs: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	out := make([]domain.ConditioningLog, 0)
	for rows.Next() {
		log, _, _, err := scanLog(rows, false)
		if err != nil {
			return nil, fmt.Errorf("%w: scan log: %v", domain.ErrPersistence, err)
		}
		log.IsOverview = true
		out = append(out, *log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch logs: %v", domain.ErrPersistence, err)
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

// queryRowDetail runs a single-row query selecting the full column set and
// returns the decoded detailed log.
func (s *LogStore) queryRowDetail(ctx context.Context, query string, args ...any) (*domain.ConditioningLog, error) {
	row := s.pool.QueryRow(ctx, query, args...)
	log, laps, sensors, err := scanLog(row, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: log not found", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	if err := unmarshalDetail(log, laps, sensors); err != nil {
		return nil, err
	}
	log.IsOverview = false
	return log, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner, withDetail bool) (*domain.ConditioningLog, []byte, []byte, error) {
	var (
		log      domain.ConditioningLog
		activity string
		start    *time.Time
		end      *time.Time
		laps     []byte
		sensors  []byte
	)

	dest := []any{
		&log.EntityID, &log.UserID, &activity, &start, &end,
		&log.Duration.Value, &log.Duration.Unit, &log.Note,
		&log.DeletedOn, &log.CreatedAt, &log.UpdatedAt,
	}
	if withDetail {
		dest = append(dest, &laps, &sensors)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, nil, nil, err
	}

	log.Activity = domain.Activity(activity)
	if start != nil {
		log.Start = *start
	}
	if end != nil {
		log.End = *end
	}
	return &log, laps, sensors, nil
}

func marshalDetail(log domain.ConditioningLog) ([]byte, []byte, error) {
	laps, err := json.Marshal(log.Laps)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encode laps: %v", domain.ErrPersistence, err)
	}
	sensors, err := json.Marshal(log.SensorLogs)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encode sensor logs: %v", domain.ErrPersistence, err)
	}
	return laps, sensors, nil
}

func unmarshalDetail(log *domain.ConditioningLog, laps, sensors []byte) error {
	if len(laps) > 0 {
		if err := json.Unmarshal(laps, &log.Laps); err != nil {
			return fmt.Errorf("%w: decode laps: %v", domain.ErrPersistence, err)
		}
	}
	if len(sensors) > 0 {
		if err := json.Unmarshal(sensors, &log.SensorLogs); err != nil {
			return fmt.Errorf("%w: decode sensor logs: %v", domain.ErrPersistence, err)
		}
	}
	return nil
}

func nullIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
