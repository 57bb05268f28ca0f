package sender

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/dispatchbot/core/logger"
)

// RetryPolicy bounds how often and how long an outbound call is retried.
type RetryPolicy struct {
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	MaxRetryAfter time.Duration

	// Sleep waits between attempts; nil uses a timer bound to ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy mirrors the sender defaults from configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   4,
		BaseBackoff:   500 * time.Millisecond,
		MaxBackoff:    8 * time.Second,
		MaxRetryAfter: 30 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = def.BaseBackoff
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = p.BaseBackoff
	}
	if p.MaxRetryAfter <= 0 {
		p.MaxRetryAfter = def.MaxRetryAfter
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// Backoff returns the delay before the given retry (1-based), doubling up to MaxBackoff.
func (p RetryPolicy) Backoff(retry int) time.Duration {
	p = p.normalized()
	d := p.BaseBackoff
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// Retry runs fn until it succeeds, fails permanently, or attempts are exhausted.
// The last error from fn is returned unchanged.
func Retry(ctx context.Context, p RetryPolicy, action string, fn func() error) error {
	p = p.normalized()
	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			if attempt > 1 {
				logger.Info(ctx, "tg.sender", "send.retry.success",
					slog.String("action", action),
					slog.Int("attempt", attempt),
				)
			}
			return nil
		}

		f := Classify(err)
		if !f.Retryable || attempt == p.MaxAttempts {
			return err
		}

		delay := p.Backoff(attempt)
		if f.RetryAfter > 0 {
			if f.RetryAfter > p.MaxRetryAfter {
				logger.Warn(ctx, "tg.sender", "send.retry.give_up",
					slog.String("action", action),
					slog.Int("retry_after_s", int(f.RetryAfter/time.Second)),
				)
				return err
			}
			delay = f.RetryAfter
		}

		logger.Debug(ctx, "tg.sender", "send.retry.backoff",
			slog.String("action", action),
			slog.Int("attempt", attempt),
			slog.Int("code", f.Code),
			slog.String("error_kind", f.Kind),
			slog.Duration("delay", delay),
		)
		if sleepErr := p.Sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
