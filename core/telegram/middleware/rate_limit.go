package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/dispatchbot/core/logger"
	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval  time.Duration
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
}

// RateLimitMiddleware enforces a minimum interval between updates from the same user.
// Entries older than the interval are swept periodically so the table stays bounded.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	var (
		mu        sync.Mutex
		lastSeen  = make(map[int64]time.Time)
		lastSweep time.Time
	)
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			if _, skip := opts.Exclude[updateKind(c.Update())]; skip {
				return next(c)
			}

			now := time.Now()
			mu.Lock()
			if now.Sub(lastSweep) > time.Minute {
				for id, ts := range lastSeen {
					if now.Sub(ts) > opts.Interval {
						delete(lastSeen, id)
					}
				}
				lastSweep = now
			}
			if last, ok := lastSeen[user.ID]; ok && now.Sub(last) < opts.Interval {
				mu.Unlock()
				logger.Warn(tghelpers.BuildContext(c), "tg", "tg.rate_limit",
					slog.Int64("user_id", user.ID),
				)
				if opts.OnLimited != nil {
					_ = opts.OnLimited(c)
				}
				return nil
			}
			lastSeen[user.ID] = now
			mu.Unlock()
			return next(c)
		}
	}
}
