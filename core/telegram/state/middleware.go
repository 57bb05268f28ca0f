package state

import (
	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

const sessionKey = "state_session"

// Middleware wraps every update with Do. Updates without a chat or sender pass through untouched.
func (m *Manager[D]) Middleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			scope, ok := ScopeFrom(c)
			if !ok {
				return next(c)
			}
			ctx := tghelpers.WithScope(c, string(scope))
			return m.Do(ctx, scope, func(s *Session[D]) error {
				if s.Degraded() {
					tghelpers.MarkDegraded(c)
				}
				c.Set(sessionKey, s)
				defer c.Set(sessionKey, nil)
				return next(c)
			})
		}
	}
}

// From returns the session attached to the current update.
func From[D any](c tele.Context) (*Session[D], bool) {
	if c == nil {
		return nil, false
	}
	s, ok := c.Get(sessionKey).(*Session[D])
	return s, ok && s != nil
}
