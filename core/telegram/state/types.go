package state

import (
	"context"
	"errors"
	"strconv"

	tele "gopkg.in/telebot.v4"
)

// ErrNotFound is returned by loads when no document exists for a scope.
var ErrNotFound = errors.New("state: session not found")

// Scope is the canonical session key: decimal chat id, or user id when no chat is known.
type Scope string

// ScopeOf picks the chat id when set and falls back to the user id.
func ScopeOf(chatID, userID int64) (Scope, bool) {
	switch {
	case chatID != 0:
		return Scope(strconv.FormatInt(chatID, 10)), true
	case userID != 0:
		return Scope(strconv.FormatInt(userID, 10)), true
	}
	return "", false
}

// ScopeFrom resolves the scope of an update. Anonymous updates have none.
func ScopeFrom(c tele.Context) (Scope, bool) {
	if c == nil {
		return "", false
	}
	var chatID, userID int64
	if chat := c.Chat(); chat != nil {
		chatID = chat.ID
	}
	if user := c.Sender(); user != nil {
		userID = user.ID
	}
	return ScopeOf(chatID, userID)
}

// Store opens transactions over serialized session documents.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one update's view of the store. Load with forUpdate holds the scope lock
// until Commit or Rollback.
type Tx interface {
	Load(ctx context.Context, scope Scope, forUpdate bool) ([]byte, error)
	Save(ctx context.Context, scope Scope, data []byte) error
	Delete(ctx context.Context, scope Scope) error
	Commit() error
	Rollback() error
}

// Cache keeps the last committed copy of each document for the degraded path.
type Cache interface {
	Get(ctx context.Context, scope Scope) ([]byte, error)
	Set(ctx context.Context, scope Scope, data []byte) error
	Delete(ctx context.Context, scope Scope) error
}
