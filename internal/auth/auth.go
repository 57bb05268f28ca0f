// Package auth derives the authorization state of the sender on every update.
package auth

import (
	"context"

	"github.com/m3rciful/dispatchbot/internal/domain"
)

// Identity is the Telegram profile of the sender.
type Identity struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
}

// User is the authoritative user record as seen by flows.
type User struct {
	ID            int64
	TelegramID    int64
	Role          domain.Role
	Status        string
	PhoneVerified bool
	City          string
	IsBlocked     bool
}

// CitySelected reports whether a city is on file.
func (u User) CitySelected() bool { return u.City != "" }

// Executor summarises executor access.
type Executor struct {
	VerifiedRoles         map[domain.ExecutorRole]bool
	HasActiveSubscription bool
}

// IsVerified reports whether any executor role is verified.
func (e Executor) IsVerified() bool {
	for _, ok := range e.VerifiedRoles {
		if ok {
			return true
		}
	}
	return false
}

// Verified reports whether role is verified.
func (e Executor) Verified(role domain.ExecutorRole) bool {
	return e.VerifiedRoles[role]
}

// State is the per-update authorization snapshot. Stale states come from the
// session cache and must not be used to grant anything new.
type State struct {
	User        User
	Executor    Executor
	IsModerator bool
	Stale       bool
}

// Anonymous returns a client state for id with nothing verified.
func Anonymous(telegramID int64) *State {
	return &State{
		User:     User{TelegramID: telegramID, Role: domain.RoleClient},
		Executor: Executor{VerifiedRoles: map[domain.ExecutorRole]bool{}},
		Stale:    true,
	}
}

// Source resolves a fresh State, upserting the user as a side effect.
type Source interface {
	Resolve(ctx context.Context, id Identity) (*State, error)
}
