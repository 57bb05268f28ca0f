// Package executor drives role selection, document verification and
// subscription purchase for couriers and drivers.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/dispatchbot/core/logger"
	"github.com/m3rciful/dispatchbot/core/telegram/format"
	"github.com/m3rciful/dispatchbot/core/telegram/keyboard"
	"github.com/m3rciful/dispatchbot/core/telegram/sender"
	"github.com/m3rciful/dispatchbot/core/telegram/ui"
	"github.com/m3rciful/dispatchbot/internal/config"
	"github.com/m3rciful/dispatchbot/internal/domain"
	"github.com/m3rciful/dispatchbot/internal/flow"
	"github.com/m3rciful/dispatchbot/internal/idempotency"
	"github.com/m3rciful/dispatchbot/internal/moderation"
	"github.com/m3rciful/dispatchbot/internal/session"

	tele "gopkg.in/telebot.v4"
)

// ErrNoRole is returned when an operation needs a chosen executor role.
var ErrNoRole = errors.New("executor: no role selected")

// errNoApplicant marks an update whose user row could not be resolved.
var errNoApplicant = errors.New("executor: applicant unknown")

// Callback uniques handled by the flow.
const (
	UniqueRole          = "exec_role"
	UniqueSwitchRole    = "exec_switch"
	UniqueVerify        = "exec_verify"
	UniqueRetryForward  = "exec_retry_fwd"
	UniqueSubscribe     = "exec_sub"
	UniquePeriod        = "exec_period"
	UniqueCancelPayment = "exec_sub_cancel"
	UniqueInvite        = "exec_invite"
)

// Step ids rendered by the flow.
const (
	StepMenu         = "menu"
	StepRole         = "executor.role"
	StepVerification = "executor.verification"
	StepSubscription = "executor.subscription"
)

// HomeAction is registered on every executor step.
const HomeAction = "executor"

const tryLaterText = "Something went wrong. Please try again later."

// Users is the subset of the users repository the flow writes to.
type Users interface {
	SetRole(ctx context.Context, telegramID int64, role domain.Role) (domain.Role, error)
	MarkBlocked(ctx context.Context, userID int64) error
}

// Update is the per-update input of every flow operation.
type Update = flow.Update

// CityPrompter renders the city picker.
type CityPrompter = flow.CityPrompter

// Deps are the collaborators of Flow.
type Deps struct {
	Settings  *config.Settings
	Repo      Repository
	Users     Users
	Queue     *moderation.Queue
	Channels  moderation.Channels
	Transport sender.Transport
	Tracker   *ui.Tracker
	Guard     *idempotency.Guard
	Cities    CityPrompter

	// ExtraMenu returns additional menu rows shown below the executor entries.
	ExtraMenu func(u *Update) [][]keyboard.InlineBtn
	Now       func() time.Time
}

// Flow implements the executor state machine over the session document.
type Flow struct {
	d Deps
}

// New returns a Flow.
func New(d Deps) *Flow {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Tracker == nil {
		d.Tracker = ui.NewTracker(d.Transport, "")
	}
	if d.Guard == nil {
		d.Guard = idempotency.NewGuard(idempotency.NewMemoryStore(), 0)
	}
	return &Flow{d: d}
}

func (f *Flow) now() time.Time { return f.d.Now().UTC() }

func (f *Flow) step(u *Update, id, text string, kb *tele.ReplyMarkup) error {
	_, err := f.d.Tracker.Step(u.Ctx, &u.Doc.UI.State, u.ChatID, ui.StepOptions{
		ID:         id,
		Text:       text,
		Keyboard:   kb,
		HomeAction: HomeAction,
	})
	return err
}

// notify sends a transient message removed on the next update.
func (f *Flow) notify(u *Update, text string, kb *tele.ReplyMarkup) error {
	id, err := f.d.Transport.Send(u.Ctx, u.ChatID, text, &tele.SendOptions{ReplyMarkup: kb})
	if err != nil {
		return err
	}
	u.Doc.EphemeralMessages = append(u.Doc.EphemeralMessages, id)
	return nil
}

func (f *Flow) fail(u *Update, event string, err error, attrs ...slog.Attr) error {
	attrs = append(attrs, slog.String("err", err.Error()))
	logger.Error(u.Ctx, "executor", event, attrs...)
	return f.notify(u, tryLaterText, nil)
}

// StartRoleSelection asks which executor role to take.
func (f *Flow) StartRoleSelection(u *Update) error {
	u.Doc.Executor.SetAwaitingRole(true, session.StageExecutorKind)
	kb := keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: "🚚 Courier", Unique: UniqueRole, Data: string(domain.ExecutorCourier)},
		{Text: "🚕 Driver", Unique: UniqueRole, Data: string(domain.ExecutorDriver)},
	})
	return f.step(u, StepRole, "Who do you want to work as?", kb)
}

// SelectRole records the chosen role and continues with city selection or verification.
func (f *Flow) SelectRole(u *Update, role domain.ExecutorRole) error {
	current, hasRole := u.Doc.Executor.CurrentRole()
	if hasRole && current == role && !u.Doc.Executor.AwaitingRole() {
		return f.StartVerification(u)
	}
	if hasRole && current != role {
		u.Doc.Executor.VerificationFor(current).Reset()
		u.Doc.Executor.Subscription.ResetPurchase()
		logger.Info(u.Ctx, "executor", "executor.role_switch",
			slog.String("from", string(current)),
			slog.String("to", string(role)),
		)
	}

	stored := role.Role()
	if f.d.Users != nil && u.Auth != nil && u.Auth.User.TelegramID != 0 {
		r, err := f.d.Users.SetRole(u.Ctx, u.Auth.User.TelegramID, role.Role())
		if err != nil {
			return f.fail(u, "executor.role_failed", err, slog.String("role", string(role)))
		}
		stored = r
	}

	u.Doc.Executor.SetRole(role)
	u.Doc.Executor.SetAwaitingRole(false, "")
	logger.Info(u.Ctx, "executor", "executor.role_selected",
		slog.String("role", string(role)),
		slog.String("user_role", string(stored)),
	)

	if u.Doc.City == nil && f.d.Cities != nil {
		u.Doc.Executor.SetAwaitingRole(true, session.StageCity)
		return f.d.Cities.PromptCity(u, session.CityActionExecutor)
	}
	return f.StartVerification(u)
}

// CitySelected continues onboarding after the city picker.
func (f *Flow) CitySelected(u *Update) error {
	if u.Doc.Executor.Stage() == session.StageCity {
		u.Doc.Executor.SetAwaitingRole(false, "")
	}
	if _, ok := u.Doc.Executor.CurrentRole(); !ok {
		return f.StartRoleSelection(u)
	}
	return f.StartVerification(u)
}

// SwitchRole resets the current role's verification progress and asks for a new pick.
// The other role's state is left untouched.
func (f *Flow) SwitchRole(u *Update) error {
	if role, ok := u.Doc.Executor.CurrentRole(); ok {
		u.Doc.Executor.VerificationFor(role).Reset()
		logger.Info(u.Ctx, "executor", "executor.role_switch", slog.String("from", string(role)))
	}
	u.Doc.Executor.Role = nil
	u.Doc.Executor.SetAwaitingRole(false, "")
	u.Doc.Executor.Subscription.ResetPurchase()
	return f.StartRoleSelection(u)
}

func (f *Flow) verified(u *Update, role domain.ExecutorRole) bool {
	return u.Auth != nil && u.Auth.Executor.Verified(role)
}

// StartVerification opens document collection for the current role.
func (f *Flow) StartVerification(u *Update) error {
	role, ok := u.Doc.Executor.CurrentRole()
	if !ok {
		return f.StartRoleSelection(u)
	}
	if f.verified(u, role) {
		kb := keyboard.InlineButtons([]keyboard.InlineBtn{
			{Text: "💳 Subscription", Unique: UniqueSubscribe},
		})
		return f.step(u, StepVerification, fmt.Sprintf("You are already approved as a %s.", role), kb)
	}

	v := u.Doc.Executor.VerificationFor(role)
	switch v.Status {
	case session.VerificationSubmitted:
		return f.renderSubmitted(u, role, v)
	case session.VerificationIdle:
		v.Status = session.VerificationCollecting
		v.RequiredPhotos = f.d.Settings.Verification.RequiredPhotos
		v.UploadedPhotos = []session.Photo{}
		logger.Info(u.Ctx, "executor", "verification.start",
			slog.String("role", string(role)),
			slog.Int("required", v.RequiredPhotos),
		)
	case session.VerificationCollecting:
		if v.Complete() {
			return f.submit(u, role, v)
		}
	}
	return f.promptPhotos(u, role, v)
}

func (f *Flow) required(v *session.VerificationRoleState) int {
	if v.RequiredPhotos > 0 {
		return v.RequiredPhotos
	}
	return f.d.Settings.Verification.RequiredPhotos
}

func (f *Flow) promptPhotos(u *Update, role domain.ExecutorRole, v *session.VerificationRoleState) error {
	now := f.now()
	v.LastReminderAt = &now
	text := fmt.Sprintf("Send %d photos of your documents to verify as a %s.\nReceived: %d/%d",
		f.required(v), role, len(v.UploadedPhotos), f.required(v))
	return f.step(u, StepVerification, text, nil)
}

// promptResubmit is shown while a complete photo set waits for moderation to accept it.
func (f *Flow) promptResubmit(u *Update, role domain.ExecutorRole, v *session.VerificationRoleState) error {
	text := fmt.Sprintf("All %d photos for your %s application are saved, but moderation is not available yet.\n"+
		"Tap Retry to send them again.", len(v.UploadedPhotos), role)
	kb := keyboard.InlineButtons([]keyboard.InlineBtn{
		{Text: "🔁 Retry", Unique: UniqueRetryForward},
	})
	return f.step(u, StepVerification, text, kb)
}

func (f *Flow) renderSubmitted(u *Update, role domain.ExecutorRole, v *session.VerificationRoleState) error {
	text := fmt.Sprintf("Your %s application is under review.", role)
	var kb *tele.ReplyMarkup
	if len(v.UploadedPhotos) > 0 && v.Moderation != nil {
		text += fmt.Sprintf("\n%d photo(s) could not be delivered to moderators.", len(v.UploadedPhotos))
		kb = keyboard.InlineButtons([]keyboard.InlineBtn{
			{Text: "🔁 Retry sending photos", Unique: UniqueRetryForward},
		})
	}
	return f.step(u, StepVerification, text, kb)
}

// HandlePhoto consumes a verification photo. It reports false when no
// collection is in progress for the current role.
func (f *Flow) HandlePhoto(u *Update, p session.Photo) (bool, error) {
	role, ok := u.Doc.Executor.CurrentRole()
	if !ok {
		return false, nil
	}
	v := u.Doc.Executor.VerificationFor(role)
	switch v.Status {
	case session.VerificationCollecting:
	case session.VerificationIdle:
		if f.verified(u, role) || u.Doc.Executor.AwaitingRole() {
			return false, nil
		}
		v.Status = session.VerificationCollecting
		v.RequiredPhotos = f.d.Settings.Verification.RequiredPhotos
	default:
		return false, nil
	}

	if v.RequiredPhotos <= 0 {
		v.RequiredPhotos = f.d.Settings.Verification.RequiredPhotos
	}
	if v.Complete() {
		logger.Debug(u.Ctx, "executor", "verification.photo_extra",
			slog.String("role", string(role)),
			slog.Int("message_id", p.MessageID),
		)
		return true, f.promptResubmit(u, role, v)
	}
	if !v.AddPhoto(p) {
		logger.Debug(u.Ctx, "executor", "verification.photo_duplicate",
			slog.String("role", string(role)),
			slog.Int("message_id", p.MessageID),
		)
		return true, f.promptPhotos(u, role, v)
	}
	logger.Info(u.Ctx, "executor", "verification.photo",
		slog.String("role", string(role)),
		slog.Int("count", len(v.UploadedPhotos)),
		slog.Int("required", f.required(v)),
	)

	if len(v.UploadedPhotos) < f.required(v) {
		return true, f.promptPhotos(u, role, v)
	}
	return true, f.submit(u, role, v)
}

func (f *Flow) submit(u *Update, role domain.ExecutorRole, v *session.VerificationRoleState) error {
	if u.Auth == nil || u.Auth.User.ID == 0 {
		return f.fail(u, "verification.submit_failed", errNoApplicant, slog.String("role", string(role)))
	}

	var appID int64
	if v.Moderation != nil && v.Moderation.MessageID == 0 && v.Moderation.ApplicationID != 0 {
		appID = v.Moderation.ApplicationID
	} else {
		id, err := f.d.Repo.CreateApplication(u.Ctx, u.Auth.User.ID, role, v.UploadedPhotos)
		if err != nil {
			return f.fail(u, "verification.submit_failed", err, slog.String("role", string(role)))
		}
		appID = id
		v.Moderation = &session.ModerationRef{ApplicationID: appID}
	}

	pub, err := f.d.Queue.PublishVerificationApplication(u.Ctx, moderation.Application{
		ID:         appID,
		UserID:     u.Auth.User.ID,
		TelegramID: u.Auth.User.TelegramID,
		Applicant:  fmt.Sprintf("id%d", u.Auth.User.TelegramID),
		Role:       role,
		City:       format.DerefString(u.Doc.City, ""),
		Phone:      format.DerefString(u.Doc.PhoneNumber, ""),
		PhotoCount: len(v.UploadedPhotos),
	})
	if err != nil {
		return f.fail(u, "verification.publish_failed", err, slog.Int64("application_id", appID))
	}
	if !pub.OK() {
		logger.Warn(u.Ctx, "executor", "verification.channel_missing", slog.Int64("application_id", appID))
		return f.promptResubmit(u, role, v)
	}
	if err := f.d.Repo.AttachApplicationModeration(u.Ctx, appID, pub.ChatID, pub.MessageID, pub.Token); err != nil {
		logger.Warn(u.Ctx, "executor", "verification.attach_failed",
			slog.Int64("application_id", appID),
			slog.String("err", err.Error()),
		)
	}

	failed := f.d.Queue.ForwardPhotos(u.Ctx, pub.ChatID, appID, v.UploadedPhotos)
	now := f.now()
	v.UploadedPhotos = append([]session.Photo{}, failed...)
	v.Status = session.VerificationSubmitted
	v.SubmittedAt = &now
	v.LastReminderAt = nil
	v.Moderation = &session.ModerationRef{
		ApplicationID: appID,
		ChatID:        pub.ChatID,
		MessageID:     pub.MessageID,
		Token:         pub.Token,
	}
	logger.Info(u.Ctx, "executor", "verification.submitted",
		slog.String("role", string(role)),
		slog.Int64("application_id", appID),
		slog.Int("forward_failed", len(failed)),
	)
	return f.renderSubmitted(u, role, v)
}

// RetryForward re-sends photos that failed to reach the moderation chat, or
// resubmits a complete photo set that moderation could not accept earlier.
func (f *Flow) RetryForward(u *Update) error {
	role, ok := u.Doc.Executor.CurrentRole()
	if !ok {
		return f.StartRoleSelection(u)
	}
	v := u.Doc.Executor.VerificationFor(role)
	if v.Status == session.VerificationCollecting && v.Complete() {
		return f.submit(u, role, v)
	}
	if v.Status != session.VerificationSubmitted || v.Moderation == nil || len(v.UploadedPhotos) == 0 {
		return f.StartVerification(u)
	}
	failed := f.d.Queue.ForwardPhotos(u.Ctx, v.Moderation.ChatID, v.Moderation.ApplicationID, v.UploadedPhotos)
	v.UploadedPhotos = append([]session.Photo{}, failed...)
	return f.renderSubmitted(u, role, v)
}

// HandleText re-prompts while photos are being collected. It reports false
// when the text is not part of the verification flow.
func (f *Flow) HandleText(u *Update) (bool, error) {
	role, ok := u.Doc.Executor.CurrentRole()
	if !ok {
		return false, nil
	}
	v := u.Doc.Executor.VerificationFor(role)
	if v.Status != session.VerificationCollecting {
		return false, nil
	}
	now := f.now()
	v.LastReminderAt = &now
	text := fmt.Sprintf("Please send photos, not text. Received: %d/%d", len(v.UploadedPhotos), f.required(v))
	return true, f.notify(u, text, nil)
}

// ReminderDue reports whether the collecting prompt should be shown again.
func (f *Flow) ReminderDue(u *Update) bool {
	role, ok := u.Doc.Executor.CurrentRole()
	if !ok {
		return false
	}
	v, ok := u.Doc.Executor.Verification[role]
	if !ok || v == nil || v.Status != session.VerificationCollecting {
		return false
	}
	if v.LastReminderAt == nil {
		return true
	}
	return f.now().Sub(*v.LastReminderAt) >= f.d.Settings.Verification.ReminderInterval()
}
