package idempotency

import (
	"context"
	"strconv"
	"time"

	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// KeyFunc derives the action key of an update. An empty key bypasses the guard.
type KeyFunc func(c tele.Context) string

// Handler wraps next so repeated deliveries of the same action by the same
// sender run once. Duplicates are absorbed without a reply; callback routes
// have already answered the query.
func (g *Guard) Handler(key KeyFunc, ttl time.Duration, next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		action := key(c)
		if sender == nil || action == "" {
			return next(c)
		}
		ctx := tghelpers.BuildContext(c)
		status, err := g.Do(ctx, sender.ID, action, ttl, func(_ context.Context) error {
			return next(c)
		})
		if status == StatusDuplicate {
			return nil
		}
		return err
	}
}

// CallbackKey keys a callback by its data and source message.
func CallbackKey(prefix string) KeyFunc {
	return func(c tele.Context) string {
		cb := c.Callback()
		if cb == nil {
			return ""
		}
		key := prefix + ":" + cb.Unique + ":" + cb.Data
		if cb.Message != nil {
			key += ":" + strconv.Itoa(cb.Message.ID)
		}
		return key
	}
}
