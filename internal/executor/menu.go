package executor

import (
	"fmt"
	"strings"

	"github.com/m3rciful/dispatchbot/core/telegram/keyboard"
	"github.com/m3rciful/dispatchbot/core/telegram/ui"
	"github.com/m3rciful/dispatchbot/internal/domain"
	"github.com/m3rciful/dispatchbot/internal/session"
)

// RenderMenu renders the main menu. A due verification reminder is rendered
// first so the menu reflects the refreshed status.
func (f *Flow) RenderMenu(u *Update) error {
	if f.ReminderDue(u) {
		role, _ := u.Doc.Executor.CurrentRole()
		if err := f.promptPhotos(u, role, u.Doc.Executor.VerificationFor(role)); err != nil {
			return err
		}
	}

	var rows [][]keyboard.InlineBtn
	role, hasRole := u.Doc.Executor.CurrentRole()
	if hasRole {
		rows = append(rows,
			[]keyboard.InlineBtn{
				{Text: "📄 Verification", Unique: UniqueVerify},
				{Text: "💳 Subscription", Unique: UniqueSubscribe},
			},
			[]keyboard.InlineBtn{{Text: "🔁 Switch role", Unique: UniqueSwitchRole}},
		)
	} else {
		rows = append(rows, []keyboard.InlineBtn{{Text: "🧑‍💼 Become an executor", Unique: UniqueSwitchRole}})
	}
	if f.d.ExtraMenu != nil {
		rows = append(rows, f.d.ExtraMenu(u)...)
	}

	_, err := f.d.Tracker.Step(u.Ctx, &u.Doc.UI.State, u.ChatID, ui.StepOptions{
		ID:       StepMenu,
		Text:     f.menuText(u, role, hasRole),
		Keyboard: keyboard.InlineButtonsRows(rows...),
	})
	return err
}

func (f *Flow) menuText(u *Update, role domain.ExecutorRole, hasRole bool) string {
	var sb strings.Builder
	sb.WriteString("Main menu")
	if !hasRole {
		return sb.String()
	}
	fmt.Fprintf(&sb, "\nRole: %s", role)
	fmt.Fprintf(&sb, "\nVerification: %s", f.verificationStatus(u))
	fmt.Fprintf(&sb, "\nSubscription: %s", f.subscriptionStatus(u))
	if u.Auth != nil && u.Auth.Stale {
		sb.WriteString("\n(status may be outdated)")
	}
	return sb.String()
}

func (f *Flow) verificationStatus(u *Update) string {
	role, ok := u.Doc.Executor.CurrentRole()
	if !ok {
		return "-"
	}
	if f.verified(u, role) {
		return "approved"
	}
	v, ok := u.Doc.Executor.Verification[role]
	if !ok || v == nil {
		return session.VerificationIdle
	}
	if v.Status == session.VerificationCollecting {
		return fmt.Sprintf("collecting %d/%d", len(v.UploadedPhotos), f.required(v))
	}
	return v.Status
}

func (f *Flow) subscriptionStatus(u *Update) string {
	if u.Auth != nil && u.Auth.Executor.HasActiveSubscription {
		return "active"
	}
	switch u.Doc.Executor.Subscription.Status {
	case session.SubscriptionAwaitingReceipt:
		return "awaiting receipt"
	case session.SubscriptionPendingModeration:
		return "under review"
	}
	return "none"
}
