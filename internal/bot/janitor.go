package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/dispatchbot/core/logger"
	"github.com/m3rciful/dispatchbot/internal/idempotency"
)

// SessionPurger removes documents untouched for longer than retention.
type SessionPurger interface {
	PurgeStale(ctx context.Context, retention time.Duration) (int64, error)
}

// Janitor periodically purges stale sessions and expired idempotency markers.
type Janitor struct {
	Sessions  SessionPurger
	Markers   idempotency.Purger
	Retention time.Duration
	Interval  time.Duration
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	j.Sweep(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one purge pass. Failures are logged and retried next tick.
func (j *Janitor) Sweep(ctx context.Context) {
	if j.Sessions != nil && j.Retention > 0 {
		n, err := j.Sessions.PurgeStale(ctx, j.Retention)
		if err != nil {
			logger.Warn(ctx, "session", "janitor.sessions_failed", slog.String("err", err.Error()))
		} else if n > 0 {
			logger.Info(ctx, "session", "janitor.sessions_purged",
				slog.Int64("rows", n),
				slog.Duration("retention", j.Retention),
			)
		}
	}
	if j.Markers != nil {
		n, err := j.Markers.PurgeExpired(ctx)
		if err != nil {
			logger.Warn(ctx, "idempotency", "janitor.markers_failed", slog.String("err", err.Error()))
		} else if n > 0 {
			logger.Info(ctx, "idempotency", "janitor.markers_purged", slog.Int64("rows", n))
		}
	}
}
