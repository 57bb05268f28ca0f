package executor

import (
	"context"
	"database/sql"
	"testing"

	"github.com/m3rciful/dispatchbot/internal/auth"
	"github.com/m3rciful/dispatchbot/internal/domain"

	tele "gopkg.in/telebot.v4"
)

func moderatorState() *auth.State {
	return &auth.State{User: auth.User{ID: 9, TelegramID: 900, Role: domain.RoleModerator}, IsModerator: true}
}

func TestReviewRequiresFreshModerator(t *testing.T) {
	h := newHarness(t)
	stale := moderatorState()
	stale.Stale = true

	for _, reviewer := range []*auth.State{nil, {User: auth.User{ID: 1}}, stale} {
		answer, err := h.flow.ReviewVerification(context.Background(), reviewer, 1, "tok", true)
		if err != nil || answer != AnswerNotAllowed {
			t.Fatalf("answer=%q err=%v", answer, err)
		}
	}
}

func TestApproveVerificationNotifiesAndSetsRole(t *testing.T) {
	h := newHarness(t)
	h.repo.application = ApplicationRecord{
		ID: 4, UserID: 1, TelegramID: 77, Role: "courier", Status: ApplicationActive,
		ModerationChatID: sql.NullInt64{Int64: -100, Valid: true}, ModerationMessageID: sql.NullInt64{Int64: 55, Valid: true},
	}

	answer, err := h.flow.ReviewVerification(context.Background(), moderatorState(), 4, "tok", true)
	if err != nil || answer != AnswerApproved {
		t.Fatalf("answer=%q err=%v", answer, err)
	}
	if h.users.roles[77] != domain.RoleCourier {
		t.Fatalf("role = %q", h.users.roles[77])
	}
	edits := h.tr.CallsOf("edit")
	if len(edits) != 1 || edits[0].MessageID != 55 {
		t.Fatalf("moderation message not marked: %+v", edits)
	}
	sends := h.tr.CallsOf("send")
	if len(sends) != 1 || sends[0].ChatID != 77 {
		t.Fatalf("applicant not notified: %+v", sends)
	}

	answer, _ = h.flow.ReviewVerification(context.Background(), moderatorState(), 4, "tok", true)
	if answer != AnswerDuplicate {
		t.Fatalf("second press answer = %q", answer)
	}
}

func TestReviewAlreadySettled(t *testing.T) {
	h := newHarness(t)
	h.repo.reviewErr = ErrAlreadyReviewed
	answer, err := h.flow.ReviewPayment(context.Background(), moderatorState(), 3, "bad", true)
	if err != nil || answer != AnswerAlreadyReviewed {
		t.Fatalf("answer=%q err=%v", answer, err)
	}
}

func TestBlockedApplicantIsMarked(t *testing.T) {
	h := newHarness(t)
	h.repo.payment = PaymentRecord{ID: 2, UserID: 11, TelegramID: 1100, Role: "driver", PeriodID: "m1", Status: PaymentConfirmed}
	h.tr.FailSend = func(chatID int64, _ string) error {
		if chatID == 1100 {
			return &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}
		}
		return nil
	}

	answer, err := h.flow.ReviewPayment(context.Background(), moderatorState(), 2, "tok", true)
	if err != nil || answer != AnswerApproved {
		t.Fatalf("answer=%q err=%v", answer, err)
	}
	if len(h.users.blocked) != 1 || h.users.blocked[0] != 11 {
		t.Fatalf("blocked = %v", h.users.blocked)
	}
}
