package bot

import (
	"log/slog"

	"github.com/m3rciful/dispatchbot/core/logger"
	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// Housekeeping runs before handlers: it removes last update's ephemeral
// messages, tracks whether a phone is still needed and reconciles purchase state.
func (h *Handlers) Housekeeping(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		u, ok := h.update(c)
		if !ok {
			return next(c)
		}
		if n := len(u.Doc.EphemeralMessages); n > 0 {
			failed := 0
			for _, id := range u.Doc.EphemeralMessages {
				if err := tghelpers.DeleteLater(u.Ctx, h.transport, u.ChatID, id); err != nil {
					failed++
				}
			}
			u.Doc.EphemeralMessages = []int{}
			logger.Debug(u.Ctx, "tg", "ephemeral.cleaned",
				slog.Int("messages", n),
				slog.Int("failed", failed),
			)
		}
		if u.Auth != nil && !u.Auth.Stale {
			u.Doc.AwaitingPhone = !u.Auth.User.PhoneVerified
		}
		h.executor.Reconcile(u)
		return next(c)
	}
}
