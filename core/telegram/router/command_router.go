package router

import (
	"log/slog"
	"time"

	"github.com/m3rciful/dispatchbot/core/logger"
	tg "github.com/m3rciful/dispatchbot/core/telegram"
	"github.com/m3rciful/dispatchbot/core/telegram/commands"
	"github.com/m3rciful/dispatchbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	Moderator middleware.AccessOptions
}

// CommandRoutes binds every registered command, gating moderator-only ones.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}

	restrict := middleware.Restrict(opts.Moderator)
	routes := make([]tg.Route, 0, len(reg.Commands()))
	for cmd, def := range reg.Commands() {
		h := summarized(cmd, def)
		if def.ModeratorOnly {
			h = restrict(h)
		}
		routes = append(routes, tg.Route{Endpoint: cmd, Handler: h})
	}

	logger.Component("tg.wire").Info("tg.wire",
		slog.String("event", "complete"),
		slog.Int("commands", len(reg.Commands())),
		slog.Int("callbacks", len(reg.ListCallbacks())),
	)
	return routes
}

func summarized(name string, def commands.Command) tele.HandlerFunc {
	handlerName := normalizeHandlerName(name)
	return func(c tele.Context) error {
		return handleWithSummary(c, handlerName, time.Now(), "", "", func() error {
			return def.Handler(c)
		})
	}
}
