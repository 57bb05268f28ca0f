package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	loadForUpdateSQL = `SELECT data FROM bot_sessions WHERE scope = $1 FOR UPDATE`
	loadSQL          = `SELECT data FROM bot_sessions WHERE scope = $1`
	saveSQL          = `
INSERT INTO bot_sessions (scope, data, updated_at)
VALUES ($1, $2::jsonb, now())
ON CONFLICT (scope) DO UPDATE
SET data = EXCLUDED.data, updated_at = now()`
	deleteSQL = `DELETE FROM bot_sessions WHERE scope = $1`
	// The advisory lock also covers scopes that have no row yet.
	scopeLockSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`
	purgeSQL     = `DELETE FROM bot_sessions WHERE updated_at < $1`
)

const defaultAcquireTimeout = 5 * time.Second

// PostgresStore keeps documents in the bot_sessions jsonb table.
type PostgresStore struct {
	db             *sqlx.DB
	acquireTimeout time.Duration
}

// NewPostgresStore returns a store backed by db. acquireTimeout bounds the wait
// for a pooled connection; zero selects five seconds.
func NewPostgresStore(db *sqlx.DB, acquireTimeout time.Duration) *PostgresStore {
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	return &PostgresStore{db: db, acquireTimeout: acquireTimeout}
}

// Begin pins a pooled connection and opens a read-committed transaction on it.
// A saturated pool fails the call after the acquire timeout instead of blocking.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	actx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	conn, err := s.db.Connx(actx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("state: acquire connection: %w", err)
	}
	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("state: begin: %w", err)
	}
	return &pgTx{tx: tx, conn: conn}, nil
}

// PurgeStale removes documents not written since now-retention.
func (s *PostgresStore) PurgeStale(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, purgeSQL, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("state: purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type pgTx struct {
	tx   *sqlx.Tx
	conn *sqlx.Conn
}

func (t *pgTx) Load(ctx context.Context, scope Scope, forUpdate bool) ([]byte, error) {
	query := loadSQL
	if forUpdate {
		if _, err := t.tx.ExecContext(ctx, scopeLockSQL, string(scope)); err != nil {
			return nil, fmt.Errorf("state: lock %s: %w", scope, err)
		}
		query = loadForUpdateSQL
	}
	var data []byte
	if err := t.tx.QueryRowxContext(ctx, query, string(scope)).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("state: load %s: %w", scope, err)
	}
	return data, nil
}

func (t *pgTx) Save(ctx context.Context, scope Scope, data []byte) error {
	if _, err := t.tx.ExecContext(ctx, saveSQL, string(scope), string(data)); err != nil {
		return fmt.Errorf("state: save %s: %w", scope, err)
	}
	return nil
}

func (t *pgTx) Delete(ctx context.Context, scope Scope) error {
	if _, err := t.tx.ExecContext(ctx, deleteSQL, string(scope)); err != nil {
		return fmt.Errorf("state: delete %s: %w", scope, err)
	}
	return nil
}

func (t *pgTx) Commit() error {
	err := t.tx.Commit()
	t.release()
	return err
}

func (t *pgTx) Rollback() error {
	err := t.tx.Rollback()
	t.release()
	return err
}

func (t *pgTx) release() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}
