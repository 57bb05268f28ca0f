package state

import (
	"errors"
	"testing"

	"github.com/m3rciful/dispatchbot/core/logger"
	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

func messageContext(chatID int64) tele.Context {
	return tele.NewContext(nil, tele.Update{ID: 5, Message: &tele.Message{
		ID:     1,
		Sender: &tele.User{ID: chatID},
		Chat:   &tele.Chat{ID: chatID},
		Text:   "hi",
	}})
}

func TestMiddlewareTagsUpdateLogs(t *testing.T) {
	m := newTestManager(t, NewMemoryStore(), nil)
	c := messageContext(21)

	var fields logger.UpdateFields
	err := m.Middleware()(func(c tele.Context) error {
		if _, ok := From[testDoc](c); !ok {
			t.Fatal("session not attached")
		}
		fields = logger.FieldsFrom(tghelpers.BuildContext(c))
		return nil
	})(c)
	if err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if fields.Scope != "21" || fields.Degraded {
		t.Fatalf("fields = %+v", fields)
	}
	if _, ok := From[testDoc](c); ok {
		t.Fatal("session must be detached after the update")
	}
}

func TestMiddlewareMarksDegradedUpdates(t *testing.T) {
	m := newTestManager(t, failingStore{err: errors.New("connection refused")}, nil)
	c := messageContext(22)

	var fields logger.UpdateFields
	_ = m.Middleware()(func(c tele.Context) error {
		fields = logger.FieldsFrom(tghelpers.BuildContext(c))
		return nil
	})(c)
	if !fields.Degraded || fields.Scope != "22" {
		t.Fatalf("degraded update not tagged: %+v", fields)
	}
}

func TestMiddlewarePassesAnonymousUpdates(t *testing.T) {
	m := newTestManager(t, failingStore{err: errors.New("unused")}, nil)
	ran := false
	c := tele.NewContext(nil, tele.Update{ID: 6})
	if err := m.Middleware()(func(tele.Context) error {
		ran = true
		return nil
	})(c); err != nil || !ran {
		t.Fatalf("ran=%v err=%v", ran, err)
	}
}
