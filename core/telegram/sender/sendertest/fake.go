// Package sendertest provides a recording Transport for flow tests.
package sendertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/m3rciful/dispatchbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// Call records a single outbound operation.
type Call struct {
	Op        string
	ChatID    int64
	MessageID int
	Text      string
	FileID    string
	Markup    *tele.ReplyMarkup
}

// Transport records every call and returns sequential message ids.
// Fail hooks let tests inject errors per operation.
type Transport struct {
	mu     sync.Mutex
	nextID int
	calls  []Call

	FailSend      func(chatID int64, text string) error
	FailEdit      func(chatID int64, messageID int) error
	FailDelete    func(chatID int64, messageID int) error
	FailSendPhoto func(chatID int64, fileID string) error
	FailInvite    func(chatID int64) error
}

var _ sender.Transport = (*Transport)(nil)

// New returns a Transport whose first message id is 1000.
func New() *Transport {
	return &Transport{nextID: 1000}
}

func (t *Transport) record(c Call) {
	t.calls = append(t.calls, c)
}

func (t *Transport) id() int {
	t.nextID++
	return t.nextID
}

func markupOf(opts *tele.SendOptions) *tele.ReplyMarkup {
	if opts == nil {
		return nil
	}
	return opts.ReplyMarkup
}

func (t *Transport) Send(_ context.Context, chatID int64, text string, opts *tele.SendOptions) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailSend != nil {
		if err := t.FailSend(chatID, text); err != nil {
			return 0, err
		}
	}
	id := t.id()
	t.record(Call{Op: "send", ChatID: chatID, MessageID: id, Text: text, Markup: markupOf(opts)})
	return id, nil
}

func (t *Transport) Edit(_ context.Context, chatID int64, messageID int, text string, opts *tele.SendOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailEdit != nil {
		if err := t.FailEdit(chatID, messageID); err != nil {
			return err
		}
	}
	t.record(Call{Op: "edit", ChatID: chatID, MessageID: messageID, Text: text, Markup: markupOf(opts)})
	return nil
}

func (t *Transport) Delete(_ context.Context, chatID int64, messageID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailDelete != nil {
		if err := t.FailDelete(chatID, messageID); err != nil {
			return err
		}
	}
	t.record(Call{Op: "delete", ChatID: chatID, MessageID: messageID})
	return nil
}

func (t *Transport) SendPhoto(_ context.Context, chatID int64, fileID, caption string, opts *tele.SendOptions) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailSendPhoto != nil {
		if err := t.FailSendPhoto(chatID, fileID); err != nil {
			return 0, err
		}
	}
	id := t.id()
	t.record(Call{Op: "photo", ChatID: chatID, MessageID: id, Text: caption, FileID: fileID, Markup: markupOf(opts)})
	return id, nil
}

func (t *Transport) CreateInviteLink(_ context.Context, chatID int64, req sender.InviteLinkRequest) (sender.InviteLink, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailInvite != nil {
		if err := t.FailInvite(chatID); err != nil {
			return sender.InviteLink{}, err
		}
	}
	id := t.id()
	t.record(Call{Op: "invite", ChatID: chatID, MessageID: id})
	return sender.InviteLink{
		URL:       fmt.Sprintf("https://t.me/+invite%d", id),
		ExpiresAt: req.ExpiresAt.Truncate(time.Second),
	}, nil
}

// Calls returns a copy of the recorded calls.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Call, len(t.calls))
	copy(out, t.calls)
	return out
}

// CallsOf returns the recorded calls for one operation.
func (t *Transport) CallsOf(op string) []Call {
	var out []Call
	for _, c := range t.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset drops the recorded calls.
func (t *Transport) Reset() {
	t.mu.Lock()
	t.calls = nil
	t.mu.Unlock()
}
