package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/m3rciful/dispatchbot/core/logger"
	"github.com/m3rciful/dispatchbot/core/telegram/callbacks"
	"github.com/m3rciful/dispatchbot/core/telegram/keyboard"
	"github.com/m3rciful/dispatchbot/core/telegram/sender"
	"github.com/m3rciful/dispatchbot/internal/domain"
	"github.com/m3rciful/dispatchbot/internal/session"

	tele "gopkg.in/telebot.v4"
)

// Review button uniques. Payloads are "<id>|<token>".
const (
	UniqueVerifyApprove = "mod_verify_ok"
	UniqueVerifyReject  = "mod_verify_no"
	UniquePayConfirm    = "mod_pay_ok"
	UniquePayReject     = "mod_pay_no"
)

// PublishStatus is the outcome of a publish call.
type PublishStatus string

const (
	StatusSuccess        PublishStatus = "success"
	StatusMissingChannel PublishStatus = "missing_channel"
)

// Publication describes where an item landed.
type Publication struct {
	Status    PublishStatus
	ChatID    int64
	MessageID int
	Token     string
}

// OK reports a successful publish.
func (p Publication) OK() bool { return p.Status == StatusSuccess }

// Application is a verification submission awaiting review.
type Application struct {
	ID         int64
	UserID     int64
	TelegramID int64
	Applicant  string
	Role       domain.ExecutorRole
	City       string
	Phone      string
	PhotoCount int
}

// Payment is a subscription receipt awaiting review.
type Payment struct {
	ID         int64
	TelegramID int64
	Applicant  string
	Role       domain.ExecutorRole
	PeriodID   string
	Title      string
	Price      string
	ReceiptID  string
}

// Queue posts review items into bound channels.
type Queue struct {
	channels  Channels
	transport sender.Transport
	newToken  func() string
}

// NewQueue returns a Queue.
func NewQueue(channels Channels, transport sender.Transport) *Queue {
	return &Queue{channels: channels, transport: transport, newToken: NewToken}
}

// NewToken returns a short random token carried in review buttons.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Transport exposes the outbound transport.
func (q *Queue) Transport() sender.Transport { return q.transport }

// PublishVerificationApplication posts a verification summary with approve and
// reject buttons. A missing verify channel yields StatusMissingChannel.
func (q *Queue) PublishVerificationApplication(ctx context.Context, app Application) (Publication, error) {
	b, ok, err := q.channels.GetChannelBinding(ctx, domain.ChannelVerify)
	if err != nil {
		return Publication{}, err
	}
	if !ok {
		logger.Warn(ctx, "moderation", "moderation.missing_channel",
			slog.String("channel", string(domain.ChannelVerify)),
			slog.Int64("application_id", app.ID),
		)
		return Publication{Status: StatusMissingChannel}, nil
	}

	token := q.newToken()
	payload := callbacks.Encode(strconv.FormatInt(app.ID, 10), token)
	kb := keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: "✅ Approve", Unique: UniqueVerifyApprove, Data: payload},
		{Text: "❌ Reject", Unique: UniqueVerifyReject, Data: payload},
	})

	id, err := q.transport.Send(ctx, b.ChatID, verificationText(app), &tele.SendOptions{ReplyMarkup: kb})
	if err != nil {
		return Publication{}, fmt.Errorf("moderation: publish application %d: %w", app.ID, err)
	}
	logger.Info(ctx, "moderation", "moderation.published",
		slog.String("kind", "verification"),
		slog.Int64("application_id", app.ID),
		slog.Int("photo_count", app.PhotoCount),
		slog.Int64("chat_id", b.ChatID),
	)
	return Publication{Status: StatusSuccess, ChatID: b.ChatID, MessageID: id, Token: token}, nil
}

func verificationText(app Application) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Verification application #%d\n", app.ID)
	fmt.Fprintf(&sb, "Applicant: %s (id %d)\n", app.Applicant, app.TelegramID)
	fmt.Fprintf(&sb, "Role: %s\n", app.Role)
	if app.City != "" {
		fmt.Fprintf(&sb, "City: %s\n", app.City)
	}
	if app.Phone != "" {
		fmt.Fprintf(&sb, "Phone: %s\n", app.Phone)
	}
	fmt.Fprintf(&sb, "Photos: %d", app.PhotoCount)
	return sb.String()
}

// ForwardPhotos sends each photo to chatID and returns the ones that failed.
func (q *Queue) ForwardPhotos(ctx context.Context, chatID int64, applicationID int64, photos []session.Photo) []session.Photo {
	var failed []session.Photo
	for i, p := range photos {
		caption := fmt.Sprintf("Application #%d, photo %d/%d", applicationID, i+1, len(photos))
		if _, err := q.transport.SendPhoto(ctx, chatID, p.FileID, caption, nil); err != nil {
			logger.Warn(ctx, "moderation", "moderation.forward_failed",
				slog.Int64("application_id", applicationID),
				slog.Int("message_id", p.MessageID),
				slog.String("err", err.Error()),
			)
			failed = append(failed, p)
		}
	}
	return failed
}

// PublishPayment posts a receipt photo with confirm and reject buttons.
func (q *Queue) PublishPayment(ctx context.Context, p Payment) (Publication, error) {
	b, ok, err := q.channels.GetChannelBinding(ctx, domain.ChannelPayments)
	if err != nil {
		return Publication{}, err
	}
	if !ok {
		logger.Warn(ctx, "moderation", "moderation.missing_channel",
			slog.String("channel", string(domain.ChannelPayments)),
			slog.Int64("payment_id", p.ID),
		)
		return Publication{Status: StatusMissingChannel}, nil
	}

	token := q.newToken()
	payload := callbacks.Encode(strconv.FormatInt(p.ID, 10), token)
	kb := keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: "✅ Confirm", Unique: UniquePayConfirm, Data: payload},
		{Text: "❌ Reject", Unique: UniquePayReject, Data: payload},
	})
	caption := fmt.Sprintf("Payment #%d\nApplicant: %s (id %d)\nRole: %s\nPeriod: %s\nPrice: %s",
		p.ID, p.Applicant, p.TelegramID, p.Role, p.Title, p.Price)

	id, err := q.transport.SendPhoto(ctx, b.ChatID, p.ReceiptID, caption, &tele.SendOptions{ReplyMarkup: kb})
	if err != nil {
		return Publication{}, fmt.Errorf("moderation: publish payment %d: %w", p.ID, err)
	}
	logger.Info(ctx, "moderation", "moderation.published",
		slog.String("kind", "payment"),
		slog.Int64("payment_id", p.ID),
		slog.Int64("chat_id", b.ChatID),
	)
	return Publication{Status: StatusSuccess, ChatID: b.ChatID, MessageID: id, Token: token}, nil
}

// Post sends plain text to the channel bound to t.
func (q *Queue) Post(ctx context.Context, t domain.ChannelType, text string, kb *tele.ReplyMarkup) (Publication, error) {
	b, ok, err := q.channels.GetChannelBinding(ctx, t)
	if err != nil {
		return Publication{}, err
	}
	if !ok {
		logger.Warn(ctx, "moderation", "moderation.missing_channel", slog.String("channel", string(t)))
		return Publication{Status: StatusMissingChannel}, nil
	}
	id, err := q.transport.Send(ctx, b.ChatID, text, &tele.SendOptions{ReplyMarkup: kb})
	if err != nil {
		return Publication{}, fmt.Errorf("moderation: post to %s: %w", t, err)
	}
	return Publication{Status: StatusSuccess, ChatID: b.ChatID, MessageID: id}, nil
}

// MarkReviewed replaces the review message text and drops its buttons.
func (q *Queue) MarkReviewed(ctx context.Context, chatID int64, messageID int, text string) {
	if chatID == 0 || messageID == 0 {
		return
	}
	err := q.transport.Edit(ctx, chatID, messageID, text, &tele.SendOptions{ReplyMarkup: &tele.ReplyMarkup{}})
	if err != nil && !sender.IsNotModified(err) {
		logger.Debug(ctx, "moderation", "moderation.mark_failed",
			slog.Int("message_id", messageID),
			slog.String("err", err.Error()),
		)
	}
}
