// Package idempotency suppresses duplicate side effects per actor and action.
package idempotency

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Store records markers. Acquire returns false when a live marker already exists.
type Store interface {
	Acquire(ctx context.Context, actorID int64, action string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, actorID int64, action string) error
}

// Purger removes expired markers.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// PostgresStore keeps markers in the idempotency_keys table. An expired row is
// taken over in place so a retry after TTL succeeds.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore returns a Store over db.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const acquireSQL = `
INSERT INTO idempotency_keys (actor_id, action_key, created_at, expires_at)
VALUES ($1, $2, now(), now() + make_interval(secs => $3))
ON CONFLICT (actor_id, action_key) DO UPDATE
SET created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
WHERE idempotency_keys.expires_at <= now()
RETURNING actor_id`

// Acquire inserts the marker or reports a live duplicate.
func (s *PostgresStore) Acquire(ctx context.Context, actorID int64, action string, ttl time.Duration) (bool, error) {
	rows, err := s.db.QueryContext(ctx, acquireSQL, actorID, action, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("idempotency: acquire: %w", err)
	}
	defer rows.Close()
	acquired := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("idempotency: acquire: %w", err)
	}
	return acquired, nil
}

// Release deletes the marker.
func (s *PostgresStore) Release(ctx context.Context, actorID int64, action string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE actor_id = $1 AND action_key = $2`, actorID, action)
	if err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// PurgeExpired deletes markers past their expiry.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("idempotency: purge: %w", err)
	}
	return res.RowsAffected()
}

// RedisStore keeps markers as keys with a TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore returns a Store over client. Keys are prefixed with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "idem:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(actorID int64, action string) string {
	return s.prefix + strconv.FormatInt(actorID, 10) + ":" + action
}

// Acquire sets the key when absent.
func (s *RedisStore) Acquire(ctx context.Context, actorID int64, action string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(actorID, action), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency: acquire: %w", err)
	}
	return ok, nil
}

// Release deletes the key.
func (s *RedisStore) Release(ctx context.Context, actorID int64, action string) error {
	if err := s.client.Del(ctx, s.key(actorID, action)).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

type memoryKey struct {
	actor  int64
	action string
}

// MemoryStore is a process-local Store for tests and single-instance runs.
type MemoryStore struct {
	mu      sync.Mutex
	markers map[memoryKey]time.Time
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{markers: make(map[memoryKey]time.Time), now: time.Now}
}

// Acquire records the marker unless a live one exists.
func (s *MemoryStore) Acquire(_ context.Context, actorID int64, action string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey{actorID, action}
	now := s.now()
	if exp, ok := s.markers[k]; ok && now.Before(exp) {
		return false, nil
	}
	s.markers[k] = now.Add(ttl)
	return true, nil
}

// Release deletes the marker.
func (s *MemoryStore) Release(_ context.Context, actorID int64, action string) error {
	s.mu.Lock()
	delete(s.markers, memoryKey{actorID, action})
	s.mu.Unlock()
	return nil
}

// PurgeExpired deletes markers past their expiry.
func (s *MemoryStore) PurgeExpired(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for k, exp := range s.markers {
		if !now.Before(exp) {
			delete(s.markers, k)
			n++
		}
	}
	return n, nil
}
