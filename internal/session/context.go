package session

import (
	"github.com/m3rciful/dispatchbot/core/telegram/state"

	tele "gopkg.in/telebot.v4"
)

// From returns the session of the current update.
func From(c tele.Context) (*Session, bool) {
	return state.From[Document](c)
}

// Doc returns the document of the current update or nil.
func Doc(c tele.Context) *Document {
	s, ok := From(c)
	if !ok {
		return nil
	}
	return s.Data
}

// StringPtr returns a pointer to a copy of v.
func StringPtr(v string) *string { return &v }
