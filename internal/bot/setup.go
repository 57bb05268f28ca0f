package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/dispatchbot/core/logger"
	coretelegram "github.com/m3rciful/dispatchbot/core/telegram"
	"github.com/m3rciful/dispatchbot/core/telegram/middleware"
	"github.com/m3rciful/dispatchbot/core/telegram/router"
	"github.com/m3rciful/dispatchbot/core/telegram/sender"
	"github.com/m3rciful/dispatchbot/core/telegram/state"
	"github.com/m3rciful/dispatchbot/core/telegram/ui"
	"github.com/m3rciful/dispatchbot/internal/auth"
	"github.com/m3rciful/dispatchbot/internal/executor"
	"github.com/m3rciful/dispatchbot/internal/idempotency"
	"github.com/m3rciful/dispatchbot/internal/moderation"
	"github.com/m3rciful/dispatchbot/internal/orders"
	"github.com/m3rciful/dispatchbot/internal/session"
	"github.com/m3rciful/dispatchbot/internal/support"
	"github.com/m3rciful/dispatchbot/internal/users"

	tele "gopkg.in/telebot.v4"
)

func (a *App) sessionCache() state.Cache {
	if a.redis != nil {
		return state.NewRedisCache(a.redis, a.cfg.Redis.Prefix+"session:", a.cfg.Bot.Session.CacheTTL())
	}
	ctx := context.Background()
	if !a.cfg.Bot.Session.LocalCache {
		logger.Warn(ctx, "session", "session.cache_disabled",
			slog.String("reason", "redis not configured"),
			slog.String("degraded_source", "default"),
		)
		return nil
	}
	logger.Warn(ctx, "session", "session.cache_local",
		slog.String("reason", "redis not configured"),
		slog.Bool("multi_instance_safe", false),
	)
	return state.NewMemoryCache()
}

func (a *App) sessionManager() (*session.Manager, *state.PostgresStore, error) {
	settings := a.cfg.Bot.Session
	store := state.NewPostgresStore(a.db, settings.LockTimeout())
	mgr, err := session.NewManager(store, a.sessionCache(), state.Limits{
		MaxInFlight: a.cfg.Database.SessionSlots(),
		LockTimeout: settings.LockTimeout(),
	})
	return mgr, store, err
}

func (a *App) idempotencyStore() (idempotency.Store, idempotency.Purger) {
	switch a.cfg.Bot.Idempotency.Backend {
	case "redis":
		if a.redis != nil {
			return idempotency.NewRedisStore(a.redis, a.cfg.Redis.Prefix+"idem:"), nil
		}
		logger.Warn(context.Background(), "idempotency", "idempotency.backend_fallback",
			slog.String("requested", "redis"),
			slog.String("using", "postgres"),
		)
	case "memory":
		s := idempotency.NewMemoryStore()
		return s, s
	}
	s := idempotency.NewPostgresStore(a.db)
	return s, s
}

// setup builds flows around the live bot and returns the bot-specific middlewares and routes.
func (a *App) setup(ctx context.Context, rt coretelegram.Runtime) (coretelegram.SetupResult, error) {
	settings := &a.cfg.Bot
	transport := sender.NewBotTransport(rt.Bot, coretelegram.RetryPolicyFromConfig(a.cfg.CoreConfig()))

	manager, sessionStore, err := a.sessionManager()
	if err != nil {
		return coretelegram.SetupResult{}, fmt.Errorf("bot: session manager: %w", err)
	}

	idemStore, purger := a.idempotencyStore()
	guard := idempotency.NewGuard(idemStore, settings.Idempotency.TTL())
	resolver := auth.NewResolver(auth.NewPostgresSource(a.db))
	channels := moderation.NewChannelRepository(a.db)
	queue := moderation.NewQueue(channels, transport)
	tracker := ui.NewTracker(transport, "")
	userRepo := users.NewRepository(a.db)

	h := &Handlers{
		settings:  settings,
		users:     userRepo,
		channels:  channels,
		tracker:   tracker,
		transport: transport,
		guard:     guard,
	}
	h.executor = executor.New(executor.Deps{
		Settings:  settings,
		Repo:      executor.NewPostgresRepository(a.db),
		Users:     userRepo,
		Queue:     queue,
		Channels:  channels,
		Transport: transport,
		Tracker:   tracker,
		Guard:     guard,
		Cities:    h,
		ExtraMenu: h.clientMenu,
	})
	h.orders = orders.New(orders.Deps{
		Repo:    orders.NewPostgresRepository(a.db),
		Queue:   queue,
		Tracker: tracker,
		Guard:   guard,
		Cities:  h,
	})
	h.support = support.New(support.NewPostgresRepository(a.db), queue, tracker)

	reg := rt.Registry
	h.Register(reg)
	reg.SetModeratorChats(settings.Moderators)

	var fb ui.FallbackProvider = h

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		Moderator: middleware.AccessOptions{
			Allow: func(c tele.Context) bool {
				if auth.IsModerator(c) {
					return true
				}
				u := c.Sender()
				return u != nil && settings.IsModerator(u.ID)
			},
			OnReject: func(c tele.Context) error { return c.Send(executor.AnswerNotAllowed) },
		},
	})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{NotFound: fb.UnknownCallback()}))
	routes = append(routes, router.TextRoutes(h, reg, router.TextOptions{
		UnknownText:     fb.UnknownText(),
		UnknownDocument: fb.UnknownDocument(),
		Contact:         h.Contact,
	})...)

	a.startJanitor(ctx, &Janitor{
		Sessions:  sessionStore,
		Markers:   purger,
		Retention: settings.Session.Retention(),
		Interval:  settings.Session.JanitorInterval(),
	})

	logger.Component("tg.wire").Info("tg.wire",
		slog.String("event", "setup"),
		slog.String("callbacks", strings.Join(reg.ListCallbacks(), ",")),
		slog.String("idempotency_backend", settings.Idempotency.Backend),
		slog.Bool("redis", a.redis != nil),
	)

	return coretelegram.SetupResult{
		Middlewares: []coretelegram.Middleware{
			{Name: "session", Use: manager.Middleware()},
			{Name: "auth", Use: resolver.Middleware()},
			{Name: "housekeeping", Use: h.Housekeeping},
		},
		Routes: routes,
	}, nil
}
