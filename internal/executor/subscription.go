package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/dispatchbot/core/logger"
	"github.com/m3rciful/dispatchbot/core/telegram/keyboard"
	"github.com/m3rciful/dispatchbot/core/telegram/sender"
	"github.com/m3rciful/dispatchbot/internal/config"
	"github.com/m3rciful/dispatchbot/internal/idempotency"
	"github.com/m3rciful/dispatchbot/internal/moderation"
	"github.com/m3rciful/dispatchbot/internal/session"
)

const verificationRequiredText = "Verification required. Finish document verification before buying a subscription."

// StartSubscription opens the subscription screen for the current role.
// It is rejected without state change until the role's verification is
// submitted or approved.
func (f *Flow) StartSubscription(u *Update) error {
	role, ok := u.Doc.Executor.CurrentRole()
	if !ok {
		return f.StartRoleSelection(u)
	}
	status := session.VerificationIdle
	if v, ok := u.Doc.Executor.Verification[role]; ok && v != nil {
		status = v.Status
	}
	if !f.verified(u, role) && status != session.VerificationSubmitted {
		logger.Info(u.Ctx, "executor", "subscription.blocked",
			slog.String("role", string(role)),
			slog.String("verification", status),
		)
		kb := keyboard.InlineButtons([]keyboard.InlineBtn{
			{Text: "📄 Verify", Unique: UniqueVerify},
		})
		return f.step(u, StepSubscription, verificationRequiredText, kb)
	}

	if u.Auth != nil && u.Auth.Executor.HasActiveSubscription {
		return f.IssueInvite(u, false)
	}

	sub := &u.Doc.Executor.Subscription
	switch sub.Status {
	case session.SubscriptionAwaitingReceipt:
		return f.promptReceipt(u, sub)
	case session.SubscriptionPendingModeration:
		if sub.PendingPaymentID != nil {
			st, err := f.d.Repo.PaymentStatus(u.Ctx, *sub.PendingPaymentID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return f.fail(u, "subscription.status_failed", err)
			}
			if st == PaymentInReview {
				return f.step(u, StepSubscription, "Your receipt is being reviewed.", nil)
			}
		}
		sub.ResetPurchase()
	}
	return f.showPeriods(u)
}

func (f *Flow) showPeriods(u *Update) error {
	periods := f.d.Settings.Subscription.Periods
	if len(periods) == 0 {
		return f.step(u, StepSubscription, "Subscriptions are not available yet.", nil)
	}
	btns := make([]keyboard.InlineBtn, 0, len(periods))
	for _, p := range periods {
		btns = append(btns, keyboard.InlineBtn{
			Text:   fmt.Sprintf("%s · %d", p.Title, p.Price),
			Unique: UniquePeriod,
			Data:   p.ID,
		})
	}
	u.Doc.Executor.Subscription.Status = session.SubscriptionSelectingPeriod
	return f.step(u, StepSubscription, "Choose a subscription period:", keyboard.InlineButtonsNPerRow(btns, 2))
}

// SelectPeriod opens a pending payment for periodID and asks for a receipt.
func (f *Flow) SelectPeriod(u *Update, periodID string) error {
	role, ok := u.Doc.Executor.CurrentRole()
	if !ok {
		return f.StartRoleSelection(u)
	}
	sub := &u.Doc.Executor.Subscription
	if sub.Status != session.SubscriptionSelectingPeriod {
		return f.StartSubscription(u)
	}
	period, ok := f.d.Settings.Subscription.Period(periodID)
	if !ok {
		return f.showPeriods(u)
	}
	if u.Auth == nil || u.Auth.User.ID == 0 {
		return f.fail(u, "subscription.period_failed", errNoApplicant)
	}

	res, err := idempotency.WithIdempotency(u.Ctx, f.d.Guard, u.Auth.User.TelegramID, "payment:create:"+period.ID, 0,
		func(ctx context.Context) (int64, error) {
			return f.d.Repo.CreatePayment(ctx, u.Auth.User.ID, role, period)
		})
	if err != nil {
		return f.fail(u, "subscription.payment_failed", err, slog.String("period", period.ID))
	}
	if res.Duplicate() {
		return f.notify(u, "Please wait a moment and try again.", nil)
	}
	paymentID := res.Value

	id := period.ID
	sub.Status = session.SubscriptionAwaitingReceipt
	sub.SelectedPeriodID = &id
	sub.PendingPaymentID = &paymentID
	logger.Info(u.Ctx, "executor", "subscription.period_selected",
		slog.String("role", string(role)),
		slog.String("period", period.ID),
		slog.Int64("payment_id", paymentID),
	)
	return f.promptReceipt(u, sub)
}

func (f *Flow) promptReceipt(u *Update, sub *session.SubscriptionState) error {
	title := ""
	if sub.SelectedPeriodID != nil {
		if p, ok := f.d.Settings.Subscription.Period(*sub.SelectedPeriodID); ok {
			title = fmt.Sprintf("%s for %d", p.Title, p.Price)
		}
	}
	var sb strings.Builder
	sb.WriteString("Pay for the subscription")
	if title != "" {
		sb.WriteString(": " + title)
	}
	sb.WriteString(".\n")
	if d := strings.TrimSpace(f.d.Settings.Subscription.PaymentDetails); d != "" {
		sb.WriteString(d + "\n")
	}
	sb.WriteString("Then send a photo of the receipt.")
	kb := keyboard.InlineButtons([]keyboard.InlineBtn{
		keyboard.Cancel(UniqueCancelPayment, ""),
	})
	return f.step(u, StepSubscription, sb.String(), kb)
}

// HandleReceipt forwards a receipt photo for review. It reports false when
// no receipt is expected.
func (f *Flow) HandleReceipt(u *Update, p session.Photo) (bool, error) {
	sub := &u.Doc.Executor.Subscription
	if sub.Status != session.SubscriptionAwaitingReceipt || sub.PendingPaymentID == nil || sub.SelectedPeriodID == nil {
		return false, nil
	}
	role, _ := u.Doc.Executor.CurrentRole()
	period, _ := f.d.Settings.Subscription.Period(*sub.SelectedPeriodID)

	pub, err := f.d.Queue.PublishPayment(u.Ctx, moderation.Payment{
		ID:         *sub.PendingPaymentID,
		TelegramID: u.Auth.User.TelegramID,
		Applicant:  fmt.Sprintf("id%d", u.Auth.User.TelegramID),
		Role:       role,
		PeriodID:   period.ID,
		Title:      period.Title,
		Price:      strconv.FormatInt(period.Price, 10),
		ReceiptID:  p.FileID,
	})
	if err != nil {
		return true, f.fail(u, "subscription.receipt_failed", err)
	}
	if !pub.OK() {
		return true, f.notify(u, "Payments cannot be reviewed right now. Please try again later.", nil)
	}
	if err := f.d.Repo.AttachPaymentReceipt(u.Ctx, *sub.PendingPaymentID, p.FileID, pub.ChatID, pub.MessageID, pub.Token); err != nil {
		return true, f.fail(u, "subscription.receipt_failed", err)
	}

	chatID, msgID := pub.ChatID, pub.MessageID
	sub.Status = session.SubscriptionPendingModeration
	sub.ModerationChatID = &chatID
	sub.ModerationMessageID = &msgID
	logger.Info(u.Ctx, "executor", "subscription.receipt",
		slog.Int64("payment_id", *sub.PendingPaymentID),
	)
	return true, f.step(u, StepSubscription, "Receipt sent. We will notify you once it is reviewed.", nil)
}

// CancelPurchase abandons a purchase that has not reached review.
func (f *Flow) CancelPurchase(u *Update) error {
	sub := &u.Doc.Executor.Subscription
	if sub.Status == session.SubscriptionAwaitingReceipt && sub.PendingPaymentID != nil {
		if err := f.d.Repo.CancelPayment(u.Ctx, *sub.PendingPaymentID); err != nil {
			logger.Warn(u.Ctx, "executor", "subscription.cancel_failed", slog.String("err", err.Error()))
		}
	}
	if sub.Status != session.SubscriptionPendingModeration {
		sub.ResetPurchase()
	}
	return f.RenderMenu(u)
}

// IssueInvite shows the access channel invite link. The last issued link is
// re-displayed while valid unless refresh is set.
func (f *Flow) IssueInvite(u *Update, refresh bool) error {
	role, ok := u.Doc.Executor.CurrentRole()
	if !ok {
		return f.StartRoleSelection(u)
	}
	if u.Auth == nil || !u.Auth.Executor.HasActiveSubscription {
		return f.StartSubscription(u)
	}
	sub := &u.Doc.Executor.Subscription
	ttl := f.d.Settings.Subscription.InviteLinkTTL()
	refreshKb := keyboard.InlineButtons([]keyboard.InlineBtn{
		{Text: "🔄 New link", Unique: UniqueInvite, Data: "refresh"},
	})

	if !refresh && sub.LastInviteLink != nil && sub.LastIssuedAt != nil && f.now().Sub(*sub.LastIssuedAt) < ttl {
		return f.step(u, StepSubscription, "Your subscription is active.\nJoin: "+*sub.LastInviteLink, refreshKb)
	}
	if u.Auth.Stale {
		return f.notify(u, tryLaterText, nil)
	}

	b, ok, err := f.d.Channels.GetChannelBinding(u.Ctx, role.AccessChannel())
	if err != nil {
		return f.fail(u, "subscription.invite_failed", err)
	}
	if !ok {
		logger.Warn(u.Ctx, "executor", "subscription.missing_channel", slog.String("channel", string(role.AccessChannel())))
		return f.notify(u, "The executors channel is not configured yet. Please try again later.", nil)
	}
	link, err := f.d.Transport.CreateInviteLink(u.Ctx, b.ChatID, sender.InviteLinkRequest{
		Name:        fmt.Sprintf("%s-%d", role, u.Auth.User.TelegramID),
		MemberLimit: 1,
		ExpiresAt:   f.now().Add(ttl),
	})
	if err != nil {
		return f.fail(u, "subscription.invite_failed", err)
	}
	now := f.now()
	sub.LastInviteLink = &link.URL
	sub.LastIssuedAt = &now
	logger.Info(u.Ctx, "executor", "subscription.invite_issued",
		slog.String("role", string(role)),
		slog.Bool("refresh", refresh),
	)
	return f.step(u, StepSubscription, "Your subscription is active.\nJoin: "+link.URL, refreshKb)
}

// Reconcile drops stale purchase state once the subscription is active.
func (f *Flow) Reconcile(u *Update) {
	if u.Auth == nil || u.Auth.Stale || !u.Auth.Executor.HasActiveSubscription {
		return
	}
	sub := &u.Doc.Executor.Subscription
	if sub.Status == session.SubscriptionIdle {
		return
	}
	logger.Debug(u.Ctx, "executor", "subscription.reconciled", slog.String("from", sub.Status))
	sub.ResetPurchase()
}

func periodTitle(s *config.Settings, id string) string {
	if p, ok := s.Subscription.Period(id); ok {
		return p.Title
	}
	return id
}
