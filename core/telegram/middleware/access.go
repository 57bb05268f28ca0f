package middleware

import (
	"log/slog"

	"github.com/m3rciful/dispatchbot/core/logger"
	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// AccessOptions decide who may run restricted handlers.
type AccessOptions struct {
	// Allow reports whether the update's sender may proceed. Nil denies everyone.
	Allow    func(c tele.Context) bool
	OnReject tele.HandlerFunc
}

// Restrict wraps next so it only runs when opts.Allow approves the update.
func Restrict(opts AccessOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if opts.Allow != nil && opts.Allow(c) {
				return next(c)
			}
			var userID int64
			if u := c.Sender(); u != nil {
				userID = u.ID
			}
			logger.Info(tghelpers.BuildContext(c), "tg", "access.denied",
				slog.String("status", "skip"),
				slog.Int64("user_id", userID),
			)
			if opts.OnReject != nil {
				return opts.OnReject(c)
			}
			return nil
		}
	}
}
