package commands

import (
	tele "gopkg.in/telebot.v4"
)

// Command represents a bot command with its handler, description, and metadata.
// ModeratorOnly commands appear only in moderator chat menus and are gated by the access middleware.
type Command struct {
	Handler       tele.HandlerFunc
	Description   string
	ModeratorOnly bool
	Hidden        bool
	Aliases       []string
}
