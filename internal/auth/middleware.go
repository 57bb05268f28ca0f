package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/dispatchbot/core/logger"
	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"
	"github.com/m3rciful/dispatchbot/internal/domain"
	"github.com/m3rciful/dispatchbot/internal/session"

	tele "gopkg.in/telebot.v4"
)

const stateKey = "auth_state"

// Resolver is the two-tier resolver: the authoritative Source first, the session
// snapshot second.
type Resolver struct {
	source Source
	now    func() time.Time
}

// NewResolver returns a Resolver over source.
func NewResolver(source Source) *Resolver {
	return &Resolver{source: source, now: time.Now}
}

// Resolve computes the State for id and reconciles the session document.
// doc may be nil for updates without a session. degraded skips the source.
func (r *Resolver) Resolve(ctx context.Context, id Identity, doc *session.Document, degraded bool) *State {
	if !degraded {
		st, err := r.source.Resolve(ctx, id)
		if err == nil {
			if doc != nil {
				doc.IsAuthenticated = true
				doc.AuthSnapshot = snapshotOf(st, r.now())
			}
			return st
		}
		logger.Warn(ctx, "auth", "auth.resolve_failed",
			slog.Int64("user_id", id.TelegramID),
			slog.Bool("stale", true),
			slog.String("err", err.Error()),
		)
	}
	return Fallback(id.TelegramID, doc)
}

// Fallback builds a stale State from the cached snapshot. The session's executor
// role is left as recorded so in-progress flows survive an outage.
func Fallback(telegramID int64, doc *session.Document) *State {
	st := Anonymous(telegramID)
	if doc == nil {
		return st
	}
	doc.IsAuthenticated = false
	snap := doc.AuthSnapshot
	if snap == nil {
		return st
	}
	st.User.Role = domain.NormalizeRole(string(snap.Role))
	st.User.PhoneVerified = snap.PhoneVerified
	st.IsModerator = snap.IsModerator
	st.Executor.HasActiveSubscription = snap.HasActiveSubscription
	for role, ok := range snap.VerifiedRoles {
		st.Executor.VerifiedRoles[role] = ok
	}
	return st
}

func snapshotOf(st *State, now time.Time) *session.AuthSnapshot {
	verified := make(map[domain.ExecutorRole]bool, len(st.Executor.VerifiedRoles))
	for role, ok := range st.Executor.VerifiedRoles {
		verified[role] = ok
	}
	return &session.AuthSnapshot{
		Role:                  st.User.Role,
		VerifiedRoles:         verified,
		HasActiveSubscription: st.Executor.HasActiveSubscription,
		IsModerator:           st.IsModerator,
		PhoneVerified:         st.User.PhoneVerified,
		CapturedAt:            now.UTC(),
	}
}

// Middleware resolves auth once per update and attaches it to the context.
func (r *Resolver) Middleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil {
				return next(c)
			}
			var (
				doc      *session.Document
				degraded bool
			)
			if s, ok := session.From(c); ok {
				doc = s.Data
				degraded = s.Degraded()
			}
			id := Identity{
				TelegramID: user.ID,
				Username:   user.Username,
				FirstName:  user.FirstName,
				LastName:   user.LastName,
			}
			st := r.Resolve(tghelpers.BuildContext(c), id, doc, degraded)
			c.Set(stateKey, st)
			tghelpers.WithRole(c, string(st.User.Role))
			if st.Stale {
				tghelpers.MarkStale(c)
			}
			return next(c)
		}
	}
}

// From returns the State attached to the update, or a stale anonymous state.
func From(c tele.Context) *State {
	if st, ok := c.Get(stateKey).(*State); ok && st != nil {
		return st
	}
	var id int64
	if u := c.Sender(); u != nil {
		id = u.ID
	}
	return Anonymous(id)
}

// IsModerator reports whether the sender resolved as a moderator from fresh data.
func IsModerator(c tele.Context) bool {
	st := From(c)
	return st.IsModerator && !st.Stale
}
