package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/dispatchbot/core/logger"
)

// Status is the outcome of a guarded call.
type Status string

const (
	StatusOK        Status = "ok"
	StatusDuplicate Status = "duplicate"
)

// DefaultTTL applies when neither the call nor the guard sets one.
const DefaultTTL = 30 * time.Second

// Result is the outcome of WithIdempotency.
type Result[T any] struct {
	Status Status
	Value  T
}

// Duplicate reports whether the handler was skipped.
func (r Result[T]) Duplicate() bool { return r.Status == StatusDuplicate }

// Guard runs handlers at most once per (actor, action) within a TTL.
//
// A marker survives a successful handler until it expires. A failed handler
// releases it so the user can retry. Store failures on acquire fail open.
type Guard struct {
	store Store
	ttl   time.Duration
}

// NewGuard returns a Guard over store. ttl <= 0 selects DefaultTTL.
func NewGuard(store Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{store: store, ttl: ttl}
}

// Do runs fn unless a live marker for (actorID, action) exists.
func (g *Guard) Do(ctx context.Context, actorID int64, action string, ttl time.Duration, fn func(ctx context.Context) error) (Status, error) {
	res, err := WithIdempotency(ctx, g, actorID, action, ttl, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return res.Status, err
}

// WithIdempotency runs fn under the guard and returns its value.
// The handler error is returned unchanged; cleanup failures are only logged.
func WithIdempotency[T any](ctx context.Context, g *Guard, actorID int64, action string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (Result[T], error) {
	if ttl <= 0 {
		ttl = g.ttl
	}

	acquired, err := g.store.Acquire(ctx, actorID, action, ttl)
	if err != nil {
		logger.Warn(ctx, "idempotency", "idempotency.acquire_failed",
			slog.Int64("actor_id", actorID),
			slog.String("action", action),
			slog.String("err", err.Error()),
		)
		acquired = true
	} else if !acquired {
		logger.Info(ctx, "idempotency", "idempotency.duplicate",
			slog.Int64("actor_id", actorID),
			slog.String("action", action),
		)
		return Result[T]{Status: StatusDuplicate}, nil
	}

	value, runErr := fn(ctx)
	if runErr != nil {
		if relErr := g.store.Release(context.WithoutCancel(ctx), actorID, action); relErr != nil {
			logger.Warn(ctx, "idempotency", "idempotency.release_failed",
				slog.Int64("actor_id", actorID),
				slog.String("action", action),
				slog.String("err", relErr.Error()),
			)
		}
		return Result[T]{Status: StatusOK, Value: value}, runErr
	}
	return Result[T]{Status: StatusOK, Value: value}, nil
}
