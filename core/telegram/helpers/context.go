package helpers

import (
	"context"

	"github.com/m3rciful/dispatchbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

const contextKey = "logger_ctx"

// StoreContext attaches reusable context to tele.Context for downstream helpers.
func StoreContext(c tele.Context, ctx context.Context) {
	if c == nil || ctx == nil {
		return
	}
	c.Set(contextKey, ctx)
}

// ContextFrom telegram context if previously stored by middleware.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	if v := c.Get(contextKey); v != nil {
		if ctx, ok := v.(context.Context); ok {
			return ctx, true
		}
	}
	return nil, false
}

// BuildContext constructs a context.Context from tele.Context,
// enriching it with RID and update/user/chat metadata for consistent service logging.
func BuildContext(c tele.Context) context.Context {
	if cached, ok := ContextFrom(c); ok {
		return cached
	}

	upd := c.Update()
	user := c.Sender()
	chat := c.Chat()

	var (
		chatID int64
		userID int64
	)
	if chat != nil {
		chatID = chat.ID
	}
	if user != nil {
		userID = user.ID
	}

	rid, _ := c.Get("rid").(string)
	if rid == "" {
		rid = logger.BuildRID(upd.ID, chatID, userID)
	}

	ctx := context.Background()
	ctx = logger.WithRID(ctx, rid)
	ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
	ctx = logger.WithLogger(ctx, logger.Component("tg"))
	StoreContext(c, ctx)
	return ctx
}

// WithHandler enriches stored context with handler metadata for downstream logs.
func WithHandler(c tele.Context, handler string) context.Context {
	return enrich(c, func(ctx context.Context) context.Context {
		return logger.WithHandler(ctx, handler)
	})
}

// WithScope binds the session scope to the update's log context.
func WithScope(c tele.Context, scope string) context.Context {
	return enrich(c, func(ctx context.Context) context.Context {
		return logger.WithScope(ctx, scope)
	})
}

// WithRole binds the resolved role to the update's log context.
func WithRole(c tele.Context, role string) context.Context {
	return enrich(c, func(ctx context.Context) context.Context {
		return logger.WithRole(ctx, role)
	})
}

// MarkDegraded tags the rest of the update's logs as running on the fallback session.
func MarkDegraded(c tele.Context) context.Context {
	return enrich(c, logger.MarkDegraded)
}

// MarkStale tags the rest of the update's logs as authorized from the cached snapshot.
func MarkStale(c tele.Context) context.Context {
	return enrich(c, logger.MarkStale)
}

func enrich(c tele.Context, fn func(context.Context) context.Context) context.Context {
	ctx := fn(BuildContext(c))
	StoreContext(c, ctx)
	return ctx
}
