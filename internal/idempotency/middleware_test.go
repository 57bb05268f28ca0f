package idempotency

import (
	"errors"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func callbackContext(updateID int) tele.Context {
	return tele.NewContext(nil, tele.Update{ID: updateID, Callback: &tele.Callback{
		ID:      "cb",
		Sender:  &tele.User{ID: 7},
		Unique:  "approve",
		Data:    "12",
		Message: &tele.Message{ID: 300, Chat: &tele.Chat{ID: 7}},
	}})
}

func TestHandlerAbsorbsDuplicateCallback(t *testing.T) {
	g := NewGuard(NewMemoryStore(), time.Minute)
	runs := 0
	h := g.Handler(CallbackKey("review"), 0, func(tele.Context) error {
		runs++
		return nil
	})

	if err := h(callbackContext(1)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// A nil bot panics on any API call, so a second answer would fail here.
	if err := h(callbackContext(2)); err != nil {
		t.Fatalf("duplicate should be absorbed, got %v", err)
	}
	if runs != 1 {
		t.Fatalf("handler ran %d times", runs)
	}
}

func TestHandlerFailureAllowsRetry(t *testing.T) {
	g := NewGuard(NewMemoryStore(), time.Minute)
	boom := errors.New("boom")
	runs := 0
	h := g.Handler(CallbackKey("pay"), 0, func(tele.Context) error {
		runs++
		if runs == 1 {
			return boom
		}
		return nil
	})

	if err := h(callbackContext(1)); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if err := h(callbackContext(2)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if runs != 2 {
		t.Fatalf("handler ran %d times", runs)
	}
}

func TestHandlerWithoutKeyBypassesGuard(t *testing.T) {
	g := NewGuard(NewMemoryStore(), time.Minute)
	runs := 0
	h := g.Handler(CallbackKey("x"), 0, func(tele.Context) error {
		runs++
		return nil
	})
	msg := tele.NewContext(nil, tele.Update{ID: 1, Message: &tele.Message{
		ID: 1, Sender: &tele.User{ID: 7}, Chat: &tele.Chat{ID: 7}, Text: "hi",
	}})
	for i := 0; i < 2; i++ {
		if err := h(msg); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if runs != 2 {
		t.Fatalf("handler ran %d times", runs)
	}
}
