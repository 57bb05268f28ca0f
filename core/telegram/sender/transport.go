package sender

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"
)

// InviteLink is the subset of chat invite link fields the bot issues.
type InviteLink struct {
	URL       string
	ExpiresAt time.Time
}

// InviteLinkRequest describes a single-purpose invite link.
type InviteLinkRequest struct {
	Name        string
	MemberLimit int
	ExpiresAt   time.Time
}

// Transport is the outbound Telegram surface used by flows.
// Implementations retry transient failures and return permanent ones unchanged.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string, opts *tele.SendOptions) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string, opts *tele.SendOptions) error
	Delete(ctx context.Context, chatID int64, messageID int) error
	SendPhoto(ctx context.Context, chatID int64, fileID, caption string, opts *tele.SendOptions) (int, error)
	CreateInviteLink(ctx context.Context, chatID int64, req InviteLinkRequest) (InviteLink, error)
}

// BotTransport implements Transport on top of *tele.Bot.
type BotTransport struct {
	bot    *tele.Bot
	policy RetryPolicy
}

// NewBotTransport wraps bot with the provided retry policy.
func NewBotTransport(bot *tele.Bot, policy RetryPolicy) *BotTransport {
	return &BotTransport{bot: bot, policy: policy}
}

func (t *BotTransport) Send(ctx context.Context, chatID int64, text string, opts *tele.SendOptions) (int, error) {
	var msg *tele.Message
	err := Retry(ctx, t.policy, "sendMessage", func() error {
		var sendErr error
		msg, sendErr = t.bot.Send(tele.ChatID(chatID), text, sendOptions(opts)...)
		return sendErr
	})
	if err != nil {
		return 0, err
	}
	CounterFrom(ctx).Add(hasMarkup(opts))
	return msg.ID, nil
}

func (t *BotTransport) Edit(ctx context.Context, chatID int64, messageID int, text string, opts *tele.SendOptions) error {
	target := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
	err := Retry(ctx, t.policy, "editMessageText", func() error {
		_, err := t.bot.Edit(target, text, sendOptions(opts)...)
		return err
	})
	if err == nil {
		CounterFrom(ctx).Add(hasMarkup(opts))
	}
	return err
}

func (t *BotTransport) Delete(ctx context.Context, chatID int64, messageID int) error {
	target := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
	return Retry(ctx, t.policy, "deleteMessage", func() error {
		return t.bot.Delete(target)
	})
}

func (t *BotTransport) SendPhoto(ctx context.Context, chatID int64, fileID, caption string, opts *tele.SendOptions) (int, error) {
	photo := &tele.Photo{File: tele.File{FileID: fileID}, Caption: caption}
	var msg *tele.Message
	err := Retry(ctx, t.policy, "sendPhoto", func() error {
		var sendErr error
		msg, sendErr = t.bot.Send(tele.ChatID(chatID), photo, sendOptions(opts)...)
		return sendErr
	})
	if err != nil {
		return 0, err
	}
	CounterFrom(ctx).Add(hasMarkup(opts))
	return msg.ID, nil
}

func (t *BotTransport) CreateInviteLink(ctx context.Context, chatID int64, req InviteLinkRequest) (InviteLink, error) {
	link := &tele.ChatInviteLink{
		Name:        req.Name,
		MemberLimit: req.MemberLimit,
	}
	if !req.ExpiresAt.IsZero() {
		link.ExpireUnixtime = req.ExpiresAt.Unix()
	}

	var created *tele.ChatInviteLink
	err := Retry(ctx, t.policy, "createChatInviteLink", func() error {
		var linkErr error
		created, linkErr = t.bot.CreateInviteLink(tele.ChatID(chatID), link)
		return linkErr
	})
	if err != nil {
		return InviteLink{}, err
	}
	if created == nil || created.InviteLink == "" {
		return InviteLink{}, fmt.Errorf("telegram sender: empty invite link for chat %d", chatID)
	}
	out := InviteLink{URL: created.InviteLink}
	if created.ExpireUnixtime > 0 {
		out.ExpiresAt = time.Unix(created.ExpireUnixtime, 0)
	}
	return out, nil
}

func sendOptions(opts *tele.SendOptions) []interface{} {
	if opts == nil {
		return nil
	}
	return []interface{}{opts}
}
