// Package flow holds the per-update input shared by conversation flows.
package flow

import (
	"context"

	"github.com/m3rciful/dispatchbot/internal/auth"
	"github.com/m3rciful/dispatchbot/internal/session"
)

// Update is what a flow operation sees of the current update.
type Update struct {
	Ctx    context.Context
	ChatID int64
	Auth   *auth.State
	Doc    *session.Document
}

// TelegramID returns the sender id or 0.
func (u *Update) TelegramID() int64 {
	if u.Auth == nil {
		return 0
	}
	return u.Auth.User.TelegramID
}

// UserID returns the users.id of the sender or 0 when unresolved.
func (u *Update) UserID() int64 {
	if u.Auth == nil {
		return 0
	}
	return u.Auth.User.ID
}

// CityPrompter renders the city picker and remembers what to continue with.
type CityPrompter interface {
	PromptCity(u *Update, action string) error
}
