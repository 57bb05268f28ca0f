package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/m3rciful/dispatchbot/core/logger"
)

const (
	defaultMaxConnections = 10
	defaultReadyTimeout   = 30 * time.Second
	readyPollInterval     = 2 * time.Second
	attemptTimeout        = 5 * time.Second
)

// Connect waits for Postgres to accept connections, then configures the pool.
// Each in-flight update pins one connection for its session transaction; see
// SessionSlots for how the pool is shared.
func Connect(cfg Config) (*sqlx.DB, error) {
	ctx := context.Background()
	start := time.Now()
	db, attempts, err := dialUntilReady(ctx, cfg.KeywordDSN(), defaultReadyTimeout)
	took := time.Since(start)
	base := []slog.Attr{
		slog.String("driver", "postgres"),
		slog.String("host", cfg.Host),
		slog.String("port", cfg.Port),
		slog.String("db", cfg.Name),
		slog.Int("attempts", attempts),
		slog.Duration("duration", logger.RoundMS(took)),
	}
	if err != nil {
		logger.Error(ctx, "db", "db.connect", append(base,
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)...)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	pool := cfg.PoolSize()
	db.SetMaxOpenConns(pool)
	db.SetMaxIdleConns(pool)
	db.SetConnMaxIdleTime(5 * time.Minute)

	logger.Info(ctx, "db", "db.connect", append(base,
		slog.String("status", "ok"),
		slog.Int("pool_open", pool),
	)...)
	return db, nil
}

func dialUntilReady(ctx context.Context, dsn string, timeout time.Duration) (*sqlx.DB, int, error) {
	deadline := time.Now().Add(timeout)
	attempts := 0
	for {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		db, err := sqlx.ConnectContext(attemptCtx, "postgres", dsn)
		cancel()
		if err == nil {
			return db, attempts, nil
		}
		if time.Now().Add(readyPollInterval).After(deadline) {
			return nil, attempts, fmt.Errorf("database not ready after %s: %w", timeout, err)
		}
		logger.Debug(ctx, "db", "db.wait",
			slog.Int("attempts", attempts),
			slog.String("err", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil, attempts, ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
}
