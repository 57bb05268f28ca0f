package executor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/dispatchbot/core/telegram/sender/sendertest"
	"github.com/m3rciful/dispatchbot/internal/auth"
	"github.com/m3rciful/dispatchbot/internal/config"
	"github.com/m3rciful/dispatchbot/internal/domain"
	"github.com/m3rciful/dispatchbot/internal/moderation"
	"github.com/m3rciful/dispatchbot/internal/session"
)

type fakeRepo struct {
	mu           sync.Mutex
	applications [][]session.Photo
	attached     map[int64]string
	payments     map[int64]string
	reviewErr    error
	application  ApplicationRecord
	payment      PaymentRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{attached: map[int64]string{}, payments: map[int64]string{}}
}

func (r *fakeRepo) CreateApplication(_ context.Context, _ int64, _ domain.ExecutorRole, photos []session.Photo) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applications = append(r.applications, append([]session.Photo{}, photos...))
	return int64(len(r.applications)), nil
}

func (r *fakeRepo) AttachApplicationModeration(_ context.Context, id, _ int64, _ int, token string) error {
	r.attached[id] = token
	return nil
}

func (r *fakeRepo) ReviewApplication(context.Context, int64, string, bool, int64) (ApplicationRecord, error) {
	return r.application, r.reviewErr
}

func (r *fakeRepo) CreatePayment(context.Context, int64, domain.ExecutorRole, config.Period) (int64, error) {
	id := int64(len(r.payments) + 1)
	r.payments[id] = PaymentPending
	return id, nil
}

func (r *fakeRepo) AttachPaymentReceipt(_ context.Context, id int64, _ string, _ int64, _ int, _ string) error {
	r.payments[id] = PaymentInReview
	return nil
}

func (r *fakeRepo) PaymentStatus(_ context.Context, id int64) (string, error) {
	st, ok := r.payments[id]
	if !ok {
		return "", ErrNotFound
	}
	return st, nil
}

func (r *fakeRepo) CancelPayment(_ context.Context, id int64) error {
	r.payments[id] = PaymentCancelled
	return nil
}

func (r *fakeRepo) ReviewPayment(context.Context, int64, string, bool, int64, int) (PaymentRecord, error) {
	return r.payment, r.reviewErr
}

type fakeUsers struct {
	roles   map[int64]domain.Role
	blocked []int64
}

func (u *fakeUsers) SetRole(_ context.Context, telegramID int64, role domain.Role) (domain.Role, error) {
	if u.roles == nil {
		u.roles = map[int64]domain.Role{}
	}
	u.roles[telegramID] = domain.ChangeRole(u.roles[telegramID], role)
	return u.roles[telegramID], nil
}

func (u *fakeUsers) MarkBlocked(_ context.Context, userID int64) error {
	u.blocked = append(u.blocked, userID)
	return nil
}

type harness struct {
	flow     *Flow
	repo     *fakeRepo
	users    *fakeUsers
	tr       *sendertest.Transport
	channels moderation.StaticChannels
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	settings := &config.Settings{}
	settings.Subscription.Periods = []config.Period{{ID: "m1", Title: "30 days", Days: 30, Price: 500}}
	if err := config.NormalizeSettings(settings); err != nil {
		t.Fatalf("settings: %v", err)
	}
	h := &harness{
		repo:     newFakeRepo(),
		users:    &fakeUsers{},
		tr:       sendertest.New(),
		channels: moderation.StaticChannels{domain.ChannelVerify: -100, domain.ChannelPayments: -200, domain.ChannelCouriers: -300},
		now:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	h.flow = New(Deps{
		Settings:  settings,
		Repo:      h.repo,
		Users:     h.users,
		Queue:     moderation.NewQueue(h.channels, h.tr),
		Channels:  h.channels,
		Transport: h.tr,
		Now:       func() time.Time { return h.now },
	})
	return h
}

func courierUpdate(doc *session.Document) *Update {
	doc.Executor.SetRole(domain.ExecutorCourier)
	return &Update{
		Ctx:    context.Background(),
		ChatID: 77,
		Doc:    doc,
		Auth: &auth.State{
			User:     auth.User{ID: 1, TelegramID: 77, Role: domain.RoleClient},
			Executor: auth.Executor{VerifiedRoles: map[domain.ExecutorRole]bool{}},
		},
	}
}

func TestPhotoCollectionOrdersDedupsAndSubmits(t *testing.T) {
	h := newHarness(t)
	u := courierUpdate(session.New())

	if err := h.flow.StartVerification(u); err != nil {
		t.Fatalf("start: %v", err)
	}
	v := u.Doc.Executor.VerificationFor(domain.ExecutorCourier)
	if v.Status != session.VerificationCollecting || v.RequiredPhotos != 2 {
		t.Fatalf("after start: %+v", v)
	}

	photoA := session.Photo{FileID: "A", FileUniqueID: "ua", MessageID: 101}
	if handled, err := h.flow.HandlePhoto(u, photoA); !handled || err != nil {
		t.Fatalf("photo A: handled=%v err=%v", handled, err)
	}
	if v.Status != session.VerificationCollecting || len(v.UploadedPhotos) != 1 {
		t.Fatalf("after A: %+v", v)
	}

	dup := session.Photo{FileID: "A2", FileUniqueID: "ua", MessageID: 102}
	if _, err := h.flow.HandlePhoto(u, dup); err != nil {
		t.Fatalf("dup: %v", err)
	}
	if len(v.UploadedPhotos) != 1 {
		t.Fatalf("duplicate counted: %d", len(v.UploadedPhotos))
	}

	photoB := session.Photo{FileID: "B", FileUniqueID: "ub", MessageID: 100}
	if _, err := h.flow.HandlePhoto(u, photoB); err != nil {
		t.Fatalf("photo B: %v", err)
	}

	if v.Status != session.VerificationSubmitted || v.SubmittedAt == nil {
		t.Fatalf("not submitted: %+v", v)
	}
	if len(h.repo.applications) != 1 {
		t.Fatalf("applications = %d", len(h.repo.applications))
	}
	stored := h.repo.applications[0]
	if len(stored) != 2 || stored[0].FileID != "B" || stored[1].FileID != "A" {
		t.Fatalf("stored photos not ordered by message id: %+v", stored)
	}

	var published int
	for _, c := range h.tr.CallsOf("send") {
		if c.ChatID == -100 {
			published++
			if !strings.Contains(c.Text, "Photos: 2") {
				t.Fatalf("application text: %q", c.Text)
			}
		}
	}
	if published != 1 {
		t.Fatalf("moderation queue called %d times", published)
	}

	photos := h.tr.CallsOf("photo")
	if len(photos) != 2 || photos[0].FileID != "B" || photos[1].FileID != "A" {
		t.Fatalf("forwarded photos: %+v", photos)
	}
	if len(v.UploadedPhotos) != 0 {
		t.Fatalf("forwarded photos should be cleared: %+v", v.UploadedPhotos)
	}
	if v.Moderation == nil || v.Moderation.Token == "" || h.repo.attached[1] != v.Moderation.Token {
		t.Fatalf("moderation ref not recorded: %+v", v.Moderation)
	}
}

func TestFailedForwardsStayForRetry(t *testing.T) {
	h := newHarness(t)
	h.tr.FailSendPhoto = func(_ int64, fileID string) error {
		if fileID == "A" {
			return context.DeadlineExceeded
		}
		return nil
	}
	u := courierUpdate(session.New())
	_ = h.flow.StartVerification(u)
	_, _ = h.flow.HandlePhoto(u, session.Photo{FileID: "A", MessageID: 1})
	_, _ = h.flow.HandlePhoto(u, session.Photo{FileID: "B", MessageID: 2})

	v := u.Doc.Executor.VerificationFor(domain.ExecutorCourier)
	if v.Status != session.VerificationSubmitted {
		t.Fatalf("status = %s", v.Status)
	}
	if len(v.UploadedPhotos) != 1 || v.UploadedPhotos[0].FileID != "A" {
		t.Fatalf("failed photo not kept: %+v", v.UploadedPhotos)
	}

	h.tr.FailSendPhoto = nil
	if err := h.flow.RetryForward(u); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(v.UploadedPhotos) != 0 {
		t.Fatalf("retry did not clear photos: %+v", v.UploadedPhotos)
	}
}

func TestMissingChannelKeepsCollecting(t *testing.T) {
	h := newHarness(t)
	delete(h.channels, domain.ChannelVerify)
	u := courierUpdate(session.New())
	_ = h.flow.StartVerification(u)
	v := u.Doc.Executor.VerificationFor(domain.ExecutorCourier)

	for i, id := range []string{"A", "B", "C", "D"} {
		if _, err := h.flow.HandlePhoto(u, session.Photo{FileID: id, FileUniqueID: "u" + id, MessageID: i + 1}); err != nil {
			t.Fatalf("photo %s: %v", id, err)
		}
		if len(v.UploadedPhotos) > v.RequiredPhotos {
			t.Fatalf("collected %d photos, required %d", len(v.UploadedPhotos), v.RequiredPhotos)
		}
	}
	if v.Status != session.VerificationCollecting || len(v.UploadedPhotos) != 2 {
		t.Fatalf("state changed: %+v", v)
	}
	if len(h.tr.CallsOf("photo")) != 0 {
		t.Fatal("nothing should be forwarded without a channel")
	}

	h.channels[domain.ChannelVerify] = -100
	if _, err := h.flow.HandlePhoto(u, session.Photo{FileID: "E", FileUniqueID: "uE", MessageID: 5}); err != nil {
		t.Fatalf("photo E: %v", err)
	}
	if v.Status != session.VerificationCollecting || len(v.UploadedPhotos) != 2 {
		t.Fatalf("extra photo must not be collected: %+v", v)
	}

	if err := h.flow.RetryForward(u); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if v.Status != session.VerificationSubmitted {
		t.Fatalf("status = %s", v.Status)
	}
	if len(h.repo.applications) != 1 {
		t.Fatalf("application should be reused, got %d", len(h.repo.applications))
	}
	photos := h.tr.CallsOf("photo")
	if len(photos) != 2 || photos[0].FileID != "A" || photos[1].FileID != "B" {
		t.Fatalf("forwarded photos: %+v", photos)
	}
	for _, c := range h.tr.CallsOf("send") {
		if c.ChatID == -100 && !strings.Contains(c.Text, "Photos: 2") {
			t.Fatalf("application text: %q", c.Text)
		}
	}
}

func TestStartVerificationResubmitsCompleteSet(t *testing.T) {
	h := newHarness(t)
	delete(h.channels, domain.ChannelVerify)
	u := courierUpdate(session.New())
	_ = h.flow.StartVerification(u)
	_, _ = h.flow.HandlePhoto(u, session.Photo{FileID: "A", MessageID: 1})
	_, _ = h.flow.HandlePhoto(u, session.Photo{FileID: "B", MessageID: 2})

	h.channels[domain.ChannelVerify] = -100
	if err := h.flow.StartVerification(u); err != nil {
		t.Fatalf("start: %v", err)
	}
	v := u.Doc.Executor.VerificationFor(domain.ExecutorCourier)
	if v.Status != session.VerificationSubmitted || len(h.tr.CallsOf("photo")) != 2 {
		t.Fatalf("expected resubmission of stored photos: %+v", v)
	}
}

func TestUnknownApplicantLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	u := courierUpdate(session.New())
	u.Auth.User.ID = 0
	_ = h.flow.StartVerification(u)
	_, _ = h.flow.HandlePhoto(u, session.Photo{FileID: "A", MessageID: 1})
	_, err := h.flow.HandlePhoto(u, session.Photo{FileID: "B", MessageID: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := u.Doc.Executor.VerificationFor(domain.ExecutorCourier)
	if v.Status != session.VerificationCollecting || len(h.repo.applications) != 0 {
		t.Fatalf("state changed: %+v", v)
	}
}

func TestTextWhileCollectingReprompts(t *testing.T) {
	h := newHarness(t)
	u := courierUpdate(session.New())
	_ = h.flow.StartVerification(u)
	v := u.Doc.Executor.VerificationFor(domain.ExecutorCourier)

	h.now = h.now.Add(time.Minute)
	handled, err := h.flow.HandleText(u)
	if !handled || err != nil {
		t.Fatalf("handled=%v err=%v", handled, err)
	}
	if v.LastReminderAt == nil || !v.LastReminderAt.Equal(h.now) {
		t.Fatalf("lastReminderAt = %v", v.LastReminderAt)
	}
	if len(u.Doc.EphemeralMessages) != 1 {
		t.Fatalf("reprompt not tracked as ephemeral: %v", u.Doc.EphemeralMessages)
	}
}

func TestAlreadyVerifiedShortCircuits(t *testing.T) {
	h := newHarness(t)
	u := courierUpdate(session.New())
	u.Auth.Executor.VerifiedRoles[domain.ExecutorCourier] = true

	if err := h.flow.StartVerification(u); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st := u.Doc.Executor.VerificationFor(domain.ExecutorCourier).Status; st != session.VerificationIdle {
		t.Fatalf("verification reopened: %s", st)
	}
	sends := h.tr.CallsOf("send")
	if len(sends) != 1 || !strings.Contains(sends[0].Text, "already approved") {
		t.Fatalf("unexpected sends %+v", sends)
	}
	if sends[0].Markup.InlineKeyboard[0][0].Unique != UniqueSubscribe {
		t.Fatalf("missing subscription shortcut")
	}
}

func TestSubscriptionRequiresVerification(t *testing.T) {
	h := newHarness(t)
	u := courierUpdate(session.New())
	_ = h.flow.StartVerification(u)
	h.tr.Reset()

	if err := h.flow.StartSubscription(u); err != nil {
		t.Fatalf("subscription: %v", err)
	}
	if u.Doc.Executor.Subscription.Status != session.SubscriptionIdle {
		t.Fatalf("state changed: %s", u.Doc.Executor.Subscription.Status)
	}
	calls := h.tr.Calls()
	if len(calls) != 1 || calls[0].Text != verificationRequiredText {
		t.Fatalf("expected rejection message, got %+v", calls)
	}
}

func TestSubscriptionPurchaseFlow(t *testing.T) {
	h := newHarness(t)
	u := courierUpdate(session.New())
	u.Doc.Executor.VerificationFor(domain.ExecutorCourier).Status = session.VerificationSubmitted

	if err := h.flow.StartSubscription(u); err != nil {
		t.Fatalf("start: %v", err)
	}
	sub := &u.Doc.Executor.Subscription
	if sub.Status != session.SubscriptionSelectingPeriod {
		t.Fatalf("status = %s", sub.Status)
	}
	if err := h.flow.SelectPeriod(u, "m1"); err != nil {
		t.Fatalf("period: %v", err)
	}
	if sub.Status != session.SubscriptionAwaitingReceipt || sub.SelectedPeriodID == nil || sub.PendingPaymentID == nil {
		t.Fatalf("after period: %+v", sub)
	}

	handled, err := h.flow.HandleReceipt(u, session.Photo{FileID: "R", MessageID: 9})
	if !handled || err != nil {
		t.Fatalf("receipt: handled=%v err=%v", handled, err)
	}
	if sub.Status != session.SubscriptionPendingModeration || sub.ModerationChatID == nil || *sub.ModerationChatID != -200 {
		t.Fatalf("after receipt: %+v", sub)
	}
	if h.repo.payments[*sub.PendingPaymentID] != PaymentInReview {
		t.Fatalf("payment status = %s", h.repo.payments[*sub.PendingPaymentID])
	}

	u.Auth.Executor.HasActiveSubscription = true
	h.flow.Reconcile(u)
	if sub.Status != session.SubscriptionIdle || sub.SelectedPeriodID != nil {
		t.Fatalf("not reconciled: %+v", sub)
	}
}

func TestInviteLinkIsRedisplayed(t *testing.T) {
	h := newHarness(t)
	u := courierUpdate(session.New())
	u.Auth.Executor.VerifiedRoles[domain.ExecutorCourier] = true
	u.Auth.Executor.HasActiveSubscription = true

	if err := h.flow.IssueInvite(u, false); err != nil {
		t.Fatalf("issue: %v", err)
	}
	first := u.Doc.Executor.Subscription.LastInviteLink
	if first == nil || u.Doc.Executor.Subscription.LastIssuedAt == nil {
		t.Fatal("invite not recorded")
	}
	_ = h.flow.IssueInvite(u, false)
	if n := len(h.tr.CallsOf("invite")); n != 1 {
		t.Fatalf("invite requested %d times", n)
	}
	_ = h.flow.IssueInvite(u, true)
	if n := len(h.tr.CallsOf("invite")); n != 2 {
		t.Fatalf("refresh did not request a new link (%d)", n)
	}
	if *u.Doc.Executor.Subscription.LastInviteLink == *first {
		t.Fatal("refresh kept the old link")
	}
}

func TestSwitchRoleKeepsOtherRoleHistory(t *testing.T) {
	h := newHarness(t)
	u := courierUpdate(session.New())
	driver := u.Doc.Executor.VerificationFor(domain.ExecutorDriver)
	driver.Status = session.VerificationSubmitted
	_ = h.flow.StartVerification(u)
	_, _ = h.flow.HandlePhoto(u, session.Photo{FileID: "A", MessageID: 1})

	if err := h.flow.SwitchRole(u); err != nil {
		t.Fatalf("switch: %v", err)
	}
	courier := u.Doc.Executor.VerificationFor(domain.ExecutorCourier)
	if courier.Status != session.VerificationIdle || len(courier.UploadedPhotos) != 0 {
		t.Fatalf("courier not reset: %+v", courier)
	}
	if _, ok := u.Doc.Executor.CurrentRole(); ok {
		t.Fatal("role should be cleared")
	}
	if !u.Doc.Executor.AwaitingRole() {
		t.Fatal("role pick should be pending")
	}
	if u.Doc.Executor.Verification[domain.ExecutorDriver].Status != session.VerificationSubmitted {
		t.Fatal("driver history touched")
	}
}

func TestSelectRoleFromStalePickerResetsPreviousRole(t *testing.T) {
	h := newHarness(t)
	u := courierUpdate(session.New())
	_ = h.flow.StartVerification(u)
	_, _ = h.flow.HandlePhoto(u, session.Photo{FileID: "A", MessageID: 1})
	period := "month"
	u.Doc.Executor.Subscription.SelectedPeriodID = &period

	if err := h.flow.SelectRole(u, domain.ExecutorDriver); err != nil {
		t.Fatalf("select: %v", err)
	}
	if role, _ := u.Doc.Executor.CurrentRole(); role != domain.ExecutorDriver {
		t.Fatalf("role = %q", role)
	}
	courier := u.Doc.Executor.VerificationFor(domain.ExecutorCourier)
	if courier.Status != session.VerificationIdle || len(courier.UploadedPhotos) != 0 {
		t.Fatalf("courier not reset: %+v", courier)
	}
	if u.Doc.Executor.Subscription.SelectedPeriodID != nil {
		t.Fatal("purchase not reset")
	}
	if u.Doc.Executor.VerificationFor(domain.ExecutorDriver).Status != session.VerificationCollecting {
		t.Fatal("driver verification not started")
	}
}

func TestSelectRoleAsksForCity(t *testing.T) {
	h := newHarness(t)
	var action string
	h.flow.d.Cities = cityPrompterFunc(func(u *Update, a string) error {
		action = a
		return nil
	})
	doc := session.New()
	u := &Update{Ctx: context.Background(), ChatID: 5, Doc: doc, Auth: &auth.State{User: auth.User{ID: 3, TelegramID: 5}}}
	_ = h.flow.StartRoleSelection(u)
	if err := h.flow.SelectRole(u, domain.ExecutorDriver); err != nil {
		t.Fatalf("select: %v", err)
	}
	if action != session.CityActionExecutor || doc.Executor.Stage() != session.StageCity {
		t.Fatalf("city not requested: action=%q stage=%q", action, doc.Executor.Stage())
	}
	if h.users.roles[5] != domain.RoleDriver {
		t.Fatalf("role not stored: %v", h.users.roles)
	}

	doc.City = session.StringPtr("riga")
	if err := h.flow.CitySelected(u); err != nil {
		t.Fatalf("city: %v", err)
	}
	if doc.Executor.AwaitingRole() || doc.Executor.VerificationFor(domain.ExecutorDriver).Status != session.VerificationCollecting {
		t.Fatalf("verification not started: %+v", doc.Executor)
	}
}

type cityPrompterFunc func(u *Update, action string) error

func (f cityPrompterFunc) PromptCity(u *Update, action string) error { return f(u, action) }

func TestMenuRendersDueReminderFirst(t *testing.T) {
	h := newHarness(t)
	u := courierUpdate(session.New())
	_ = h.flow.StartVerification(u)
	h.tr.Reset()
	h.now = h.now.Add(time.Hour)

	if err := h.flow.RenderMenu(u); err != nil {
		t.Fatalf("menu: %v", err)
	}
	calls := h.tr.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %+v", calls)
	}
	if !strings.HasPrefix(calls[0].Text, "Send 2 photos") || !strings.HasPrefix(calls[1].Text, "Main menu") {
		t.Fatalf("wrong order: %q then %q", calls[0].Text, calls[1].Text)
	}

	h.tr.Reset()
	_ = h.flow.RenderMenu(u)
	if calls := h.tr.Calls(); len(calls) != 1 {
		t.Fatalf("reminder should not repeat within interval: %+v", calls)
	}
}
