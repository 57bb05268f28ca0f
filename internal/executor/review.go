package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/m3rciful/dispatchbot/core/logger"
	"github.com/m3rciful/dispatchbot/core/telegram/keyboard"
	"github.com/m3rciful/dispatchbot/core/telegram/sender"
	"github.com/m3rciful/dispatchbot/internal/auth"
	"github.com/m3rciful/dispatchbot/internal/idempotency"

	tele "gopkg.in/telebot.v4"
)

// Answers returned to the reviewing moderator.
const (
	AnswerApproved        = "Approved"
	AnswerRejected        = "Rejected"
	AnswerAlreadyReviewed = "Already reviewed"
	AnswerNotAllowed      = "Moderators only"
	AnswerDuplicate       = "Already processing"
)

// ReviewVerification approves or rejects a verification application and
// notifies the applicant. The returned text answers the moderator's callback.
func (f *Flow) ReviewVerification(ctx context.Context, reviewer *auth.State, appID int64, token string, approve bool) (string, error) {
	if reviewer == nil || !reviewer.IsModerator || reviewer.Stale {
		return AnswerNotAllowed, nil
	}
	key := fmt.Sprintf("review:verify:%d", appID)
	res, err := idempotency.WithIdempotency(ctx, f.d.Guard, reviewer.User.TelegramID, key, 0, func(ctx context.Context) (string, error) {
		rec, err := f.d.Repo.ReviewApplication(ctx, appID, token, approve, reviewer.User.ID)
		if errors.Is(err, ErrAlreadyReviewed) {
			return AnswerAlreadyReviewed, nil
		}
		if err != nil {
			return "", err
		}
		role, _ := rec.ExecutorRole()

		answer := AnswerRejected
		text := fmt.Sprintf("Your %s verification was rejected. You can submit new documents.", role)
		var kb *tele.ReplyMarkup
		if approve {
			answer = AnswerApproved
			text = fmt.Sprintf("Your %s verification was approved.", role)
			kb = keyboard.InlineButtons([]keyboard.InlineBtn{{Text: "💳 Subscription", Unique: UniqueSubscribe}})
			if f.d.Users != nil {
				if _, err := f.d.Users.SetRole(ctx, rec.TelegramID, role.Role()); err != nil {
					logger.Warn(ctx, "executor", "review.role_failed", slog.Int64("user_id", rec.UserID), slog.String("err", err.Error()))
				}
			}
		} else {
			kb = keyboard.InlineButtons([]keyboard.InlineBtn{{Text: "📄 Verify again", Unique: UniqueVerify}})
		}

		f.d.Queue.MarkReviewed(ctx, rec.ModerationChatID.Int64, int(rec.ModerationMessageID.Int64),
			fmt.Sprintf("Verification application #%d: %s by id%d", rec.ID, answer, reviewer.User.TelegramID))
		f.notifyApplicant(ctx, rec.UserID, rec.TelegramID, text, kb)

		logger.Info(ctx, "executor", "review.verification",
			slog.Int64("application_id", rec.ID),
			slog.Bool("approved", approve),
			slog.Int64("reviewer", reviewer.User.TelegramID),
		)
		return answer, nil
	})
	if err != nil {
		return "", err
	}
	if res.Duplicate() {
		return AnswerDuplicate, nil
	}
	return res.Value, nil
}

// ReviewPayment confirms or rejects a subscription payment and notifies the payer.
func (f *Flow) ReviewPayment(ctx context.Context, reviewer *auth.State, paymentID int64, token string, approve bool) (string, error) {
	if reviewer == nil || !reviewer.IsModerator || reviewer.Stale {
		return AnswerNotAllowed, nil
	}
	key := fmt.Sprintf("review:payment:%d", paymentID)
	res, err := idempotency.WithIdempotency(ctx, f.d.Guard, reviewer.User.TelegramID, key, 0, func(ctx context.Context) (string, error) {
		rec, err := f.d.Repo.ReviewPayment(ctx, paymentID, token, approve, reviewer.User.ID, f.d.Settings.Subscription.GraceDays)
		if errors.Is(err, ErrAlreadyReviewed) {
			return AnswerAlreadyReviewed, nil
		}
		if err != nil {
			return "", err
		}

		answer := AnswerRejected
		text := "Your payment was not confirmed. Please contact support or try again."
		kb := keyboard.InlineButtons([]keyboard.InlineBtn{{Text: "💳 Subscription", Unique: UniqueSubscribe}})
		if approve {
			answer = AnswerApproved
			text = fmt.Sprintf("Your payment for %s was confirmed. Your subscription is active.", periodTitle(f.d.Settings, rec.PeriodID))
			kb = keyboard.InlineButtons([]keyboard.InlineBtn{{Text: "🔗 Get invite link", Unique: UniqueInvite}})
		}

		f.d.Queue.MarkReviewed(ctx, rec.ModerationChatID.Int64, int(rec.ModerationMessageID.Int64),
			fmt.Sprintf("Payment #%d: %s by id%d", rec.ID, answer, reviewer.User.TelegramID))
		f.notifyApplicant(ctx, rec.UserID, rec.TelegramID, text, kb)

		logger.Info(ctx, "executor", "review.payment",
			slog.Int64("payment_id", rec.ID),
			slog.Bool("approved", approve),
			slog.Int64("reviewer", reviewer.User.TelegramID),
		)
		return answer, nil
	})
	if err != nil {
		return "", err
	}
	if res.Duplicate() {
		return AnswerDuplicate, nil
	}
	return res.Value, nil
}

// notifyApplicant messages the applicant and marks them blocked on 403.
func (f *Flow) notifyApplicant(ctx context.Context, userID, telegramID int64, text string, kb *tele.ReplyMarkup) {
	_, err := f.d.Transport.Send(ctx, telegramID, text, &tele.SendOptions{ReplyMarkup: kb})
	if err == nil {
		return
	}
	if sender.IsForbidden(err) {
		logger.Info(ctx, "executor", "review.applicant_blocked", slog.Int64("user_id", userID))
		if f.d.Users != nil {
			if err := f.d.Users.MarkBlocked(ctx, userID); err != nil {
				logger.Warn(ctx, "executor", "review.mark_blocked_failed", slog.String("err", err.Error()))
			}
		}
		return
	}
	logger.Warn(ctx, "executor", "review.notify_failed",
		slog.Int64("user_id", userID),
		slog.String("err", err.Error()),
	)
}
