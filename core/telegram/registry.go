package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/m3rciful/dispatchbot/core/logger"
	"github.com/m3rciful/dispatchbot/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

// Registry holds bot commands, callbacks and the chats that see moderator commands.
type Registry struct {
	commands         map[string]commands.Command
	callbacks        map[string]tele.HandlerFunc
	callbacksMu      sync.RWMutex
	callbackNotFound tele.HandlerFunc
	textFallback     tele.HandlerFunc
	moderatorChats   []int64
}

// NewRegistry creates an empty Registry with default fallbacks.
func NewRegistry() *Registry {
	return &Registry{
		commands:  make(map[string]commands.Command),
		callbacks: make(map[string]tele.HandlerFunc),
		callbackNotFound: func(c tele.Context) error {
			return c.Send("Unsupported action")
		},
	}
}

func wireSkip(event string, attrs ...slog.Attr) {
	logger.Warn(context.Background(), "tg.wire", event, attrs...)
}

// RegisterCommand adds a command keyed by its slash name. Invalid and duplicate
// registrations are logged and ignored.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) {
	switch {
	case r == nil || name == "" || cmd.Handler == nil || cmd.Description == "":
		wireSkip("register.command.skip", slog.String("name", name), slog.String("reason", "invalid"))
		return
	case !strings.HasPrefix(name, "/"):
		wireSkip("register.command.skip", slog.String("name", name), slog.String("reason", "no_slash_prefix"))
		return
	}
	if _, exists := r.commands[name]; exists {
		wireSkip("register.command.duplicate", slog.String("name", name))
		return
	}
	r.commands[name] = cmd
}

// ListCommands returns the menu entries sorted by name. Hidden commands are never
// listed; moderator-only commands only when withModerator is set.
func (r *Registry) ListCommands(withModerator bool) []tele.Command {
	var list []tele.Command
	for name, meta := range r.commands {
		if meta.Hidden || (meta.ModeratorOnly && !withModerator) {
			continue
		}
		list = append(list, tele.Command{Text: name, Description: meta.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

// LookupCommand resolves a name or alias to the canonical key and its metadata.
func (r *Registry) LookupCommand(name string) (string, commands.Command, bool) {
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	if cmd, ok := r.commands[name]; ok {
		return name, cmd, true
	}
	for key, cmd := range r.commands {
		for _, alias := range cmd.Aliases {
			if "/"+strings.TrimPrefix(alias, "/") == name {
				return key, cmd, true
			}
		}
	}
	return "", commands.Command{}, false
}

// Commands returns all registered commands.
func (r *Registry) Commands() map[string]commands.Command {
	return r.commands
}

// RegisterCallback maps a callback unique to its handler.
func (r *Registry) RegisterCallback(key string, handler tele.HandlerFunc) error {
	if r == nil || key == "" || handler == nil {
		wireSkip("register.callback.skip", slog.String("key", key), slog.Bool("handler_nil", handler == nil))
		return fmt.Errorf("telegram: invalid callback registration %q", key)
	}
	r.callbacksMu.Lock()
	defer r.callbacksMu.Unlock()
	if _, exists := r.callbacks[key]; exists {
		wireSkip("register.callback.duplicate", slog.String("key", key))
		return fmt.Errorf("telegram: callback already registered: %s", key)
	}
	r.callbacks[key] = handler
	return nil
}

// GetCallback returns the handler registered for key.
func (r *Registry) GetCallback(key string) (tele.HandlerFunc, bool) {
	r.callbacksMu.RLock()
	defer r.callbacksMu.RUnlock()
	h, ok := r.callbacks[key]
	return h, ok
}

// ListCallbacks returns sorted keys (for diagnostics).
func (r *Registry) ListCallbacks() []string {
	r.callbacksMu.RLock()
	defer r.callbacksMu.RUnlock()
	names := make([]string, 0, len(r.callbacks))
	for k := range r.callbacks {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// CallbackNotFound returns the fallback for unknown callback uniques.
func (r *Registry) CallbackNotFound() tele.HandlerFunc {
	return r.callbackNotFound
}

// SetTextFallback sets the handler for text no route or conversation claims.
func (r *Registry) SetTextFallback(h tele.HandlerFunc) {
	r.textFallback = h
}

// TextFallback returns the current text fallback handler.
func (r *Registry) TextFallback() tele.HandlerFunc {
	return r.textFallback
}

// SetModeratorChats lists the private chats that get the moderator command menu.
func (r *Registry) SetModeratorChats(ids []int64) {
	r.moderatorChats = append([]int64(nil), ids...)
}

// SetupCommands publishes the public command menu, then the extended menu to
// every moderator chat. Offline bots (tests) skip the API calls.
func SetupCommands(bot *tele.Bot, reg *Registry) {
	if bot == nil || reg == nil || bot.Token == "" {
		return
	}
	ctx := context.Background()
	public := reg.ListCommands(false)
	if len(public) == 0 {
		return
	}
	if err := bot.SetCommands(public); err != nil {
		logger.Error(ctx, "tg.wire", "register.commands.set_failed", slog.String("err", err.Error()))
		return
	}

	full := reg.ListCommands(true)
	scoped := 0
	if len(full) > len(public) {
		for _, id := range reg.moderatorChats {
			scope := tele.CommandScope{Type: tele.CommandScopeChat, ChatID: id}
			if err := bot.SetCommands(full, scope); err != nil {
				logger.Warn(ctx, "tg.wire", "register.commands.moderator_failed",
					slog.Int64("chat_id", id),
					slog.String("err", err.Error()),
				)
				continue
			}
			scoped++
		}
	}
	logger.Info(ctx, "tg.wire", "register.commands.set",
		slog.Int("commands", len(public)),
		slog.Int("moderator_chats", scoped),
	)
}
