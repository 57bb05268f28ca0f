package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/dispatchbot/core/logger"
	coretelegram "github.com/m3rciful/dispatchbot/core/telegram"
	"github.com/m3rciful/dispatchbot/core/telegram/callbacks"
	"github.com/m3rciful/dispatchbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"
	"github.com/m3rciful/dispatchbot/core/telegram/keyboard"
	"github.com/m3rciful/dispatchbot/core/telegram/sender"
	"github.com/m3rciful/dispatchbot/core/telegram/ui"
	"github.com/m3rciful/dispatchbot/internal/auth"
	"github.com/m3rciful/dispatchbot/internal/config"
	"github.com/m3rciful/dispatchbot/internal/domain"
	"github.com/m3rciful/dispatchbot/internal/executor"
	"github.com/m3rciful/dispatchbot/internal/flow"
	"github.com/m3rciful/dispatchbot/internal/idempotency"
	"github.com/m3rciful/dispatchbot/internal/moderation"
	"github.com/m3rciful/dispatchbot/internal/orders"
	"github.com/m3rciful/dispatchbot/internal/session"
	"github.com/m3rciful/dispatchbot/internal/support"

	tele "gopkg.in/telebot.v4"
)

// Profile is the subset of the users repository written by onboarding.
type Profile interface {
	SetPhone(ctx context.Context, telegramID int64, phone string) error
	SetCity(ctx context.Context, telegramID int64, city string) error
}

// Handlers binds telebot updates to the flows.
type Handlers struct {
	settings  *config.Settings
	users     Profile
	channels  moderation.Channels
	tracker   *ui.Tracker
	transport sender.Transport
	guard     *idempotency.Guard

	executor *executor.Flow
	orders   *orders.Flow
	support  *support.Flow
}

const (
	unknownText     = "I did not understand that. Open the menu with /menu."
	unknownDocument = "I was not expecting a file here. Open the menu with /menu."
	unknownCallback = "This button is no longer active"
	cancelledText   = "Cancelled."
)

// update builds the flow input of c. It reports false when no session is attached.
func (h *Handlers) update(c tele.Context) (*flow.Update, bool) {
	doc := session.Doc(c)
	if doc == nil {
		return nil, false
	}
	var chatID int64
	if chat := c.Chat(); chat != nil {
		chatID = chat.ID
	} else if u := c.Sender(); u != nil {
		chatID = u.ID
	}
	return &flow.Update{
		Ctx:    tghelpers.BuildContext(c),
		ChatID: chatID,
		Auth:   auth.From(c),
		Doc:    doc,
	}, true
}

func (h *Handlers) with(fn func(u *flow.Update) error) tele.HandlerFunc {
	return func(c tele.Context) error {
		u, ok := h.update(c)
		if !ok {
			return nil
		}
		return fn(u)
	}
}

func (h *Handlers) withPayload(fn func(u *flow.Update, payload string) error) tele.HandlerFunc {
	return func(c tele.Context) error {
		u, ok := h.update(c)
		if !ok {
			return nil
		}
		return fn(u, callbacks.CallbackPayload(c))
	}
}

func (h *Handlers) withKind(fn func(u *flow.Update, kind domain.OrderKind) error) tele.HandlerFunc {
	return h.withPayload(func(u *flow.Update, payload string) error {
		kind, ok := domain.ParseOrderKind(payload)
		if !ok {
			return nil
		}
		return fn(u, kind)
	})
}

// Register adds every command and callback to reg.
func (h *Handlers) Register(reg *coretelegram.Registry) {
	cmds := map[string]commands.Command{
		"/start":        {Handler: h.Start, Description: "Start over"},
		"/menu":         {Handler: h.with(h.executor.RenderMenu), Description: "Main menu", Aliases: []string{"menu"}},
		"/role":         {Handler: h.with(h.executor.SwitchRole), Description: "Choose or switch executor role"},
		"/verify":       {Handler: h.with(h.executor.StartVerification), Description: "Executor verification"},
		"/subscription": {Handler: h.with(h.executor.StartSubscription), Description: "Executor subscription"},
		"/taxi":         {Handler: h.with(h.startTaxi), Description: "Order a taxi"},
		"/delivery":     {Handler: h.with(h.startDelivery), Description: "Order a delivery"},
		"/support":      {Handler: h.with(h.support.Start), Description: "Contact support"},
		"/cancel":       {Handler: h.with(h.cancel), Description: "Cancel the current action"},
		"/logout":       {Handler: h.Logout, Description: "Reset the session", Hidden: true},
		"/channels":     {Handler: h.Channels, Description: "Show channel bindings", ModeratorOnly: true},
	}
	for name, cmd := range cmds {
		reg.RegisterCommand(name, cmd)
	}

	cbs := map[string]tele.HandlerFunc{
		executor.UniqueRole:          h.withPayload(h.selectRole),
		executor.UniqueSwitchRole:    h.with(h.executor.SwitchRole),
		executor.UniqueVerify:        h.with(h.executor.StartVerification),
		executor.UniqueRetryForward:  h.guard.Handler(idempotency.CallbackKey("retry"), 0, h.with(h.executor.RetryForward)),
		executor.UniqueSubscribe:     h.with(h.executor.StartSubscription),
		executor.UniquePeriod:        h.withPayload(h.executor.SelectPeriod),
		executor.UniqueCancelPayment: h.with(h.executor.CancelPurchase),
		executor.UniqueInvite: h.guard.Handler(idempotency.CallbackKey("invite"), 0, h.withPayload(func(u *flow.Update, payload string) error {
			return h.executor.IssueInvite(u, payload == "refresh")
		})),

		orders.UniqueStart:   h.withKind(h.orders.Start),
		orders.UniqueASAP:    h.withKind(h.orders.SetASAP),
		orders.UniqueSkip:    h.withKind(h.orders.SkipComment),
		orders.UniqueConfirm: h.withKind(h.orders.Confirm),
		orders.UniqueCancel:  h.withKind(h.orders.Cancel),

		support.UniqueOpen:   h.with(h.support.Start),
		support.UniqueCancel: h.with(h.support.Cancel),

		UniqueCity:    h.withPayload(h.SelectCity),
		ui.HomeUnique: h.withPayload(h.home),

		moderation.UniqueVerifyApprove: h.review(reviewVerification, true),
		moderation.UniqueVerifyReject:  h.review(reviewVerification, false),
		moderation.UniquePayConfirm:    h.review(reviewPayment, true),
		moderation.UniquePayReject:     h.review(reviewPayment, false),
	}
	for key, fn := range cbs {
		_ = reg.RegisterCallback(key, fn)
	}
}

// Start resets the conversation and greets the user. The cleared document is
// deleted at commit, so the next update begins from defaults.
func (h *Handlers) Start(c tele.Context) error {
	u, ok := h.update(c)
	if !ok {
		return nil
	}
	h.tracker.Cleanup(u.Ctx, &u.Doc.UI.State)
	h.clear(c)

	if u.Auth != nil && !u.Auth.Stale && !u.Auth.User.PhoneVerified {
		return h.requestPhone(u)
	}
	fresh := &flow.Update{Ctx: u.Ctx, ChatID: u.ChatID, Auth: u.Auth, Doc: session.New()}
	return h.executor.RenderMenu(fresh)
}

// Logout drops the session document.
func (h *Handlers) Logout(c tele.Context) error {
	u, ok := h.update(c)
	if !ok {
		return nil
	}
	h.tracker.Cleanup(u.Ctx, &u.Doc.UI.State)
	h.clear(c)
	_, err := h.transport.Send(u.Ctx, u.ChatID, "Session reset. Send /start to begin again.", nil)
	return err
}

func (h *Handlers) clear(c tele.Context) {
	if s, ok := session.From(c); ok {
		s.Clear(session.New())
		logger.Info(tghelpers.BuildContext(c), "session", "session.cleared")
	}
}

// Channels lists the channel bindings for moderators.
func (h *Handlers) Channels(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	var sb strings.Builder
	sb.WriteString("Channels:")
	for _, t := range domain.ChannelTypes {
		b, ok, err := h.channels.GetChannelBinding(ctx, t)
		switch {
		case err != nil:
			fmt.Fprintf(&sb, "\n%s: error", t)
		case !ok:
			fmt.Fprintf(&sb, "\n%s: not bound", t)
		default:
			fmt.Fprintf(&sb, "\n%s: %d", t, b.ChatID)
		}
	}
	return c.Send(sb.String())
}

func (h *Handlers) selectRole(u *flow.Update, payload string) error {
	role, ok := domain.ParseExecutorRole(payload)
	if !ok {
		return h.executor.StartRoleSelection(u)
	}
	return h.executor.SelectRole(u, role)
}

func (h *Handlers) startTaxi(u *flow.Update) error {
	return h.orders.Start(u, domain.OrderTaxi)
}

func (h *Handlers) startDelivery(u *flow.Update) error {
	return h.orders.Start(u, domain.OrderDelivery)
}

// cancel leaves whichever free-form flow is active and shows the menu.
func (h *Handlers) cancel(u *flow.Update) error {
	switch {
	case support.Awaiting(u.Doc):
		u.Doc.Support.Status = session.SupportIdle
	case u.Doc.UI.PendingCityAction != nil:
		u.Doc.UI.PendingCityAction = nil
		if u.Doc.Executor.Stage() == session.StageCity {
			u.Doc.Executor.SetAwaitingRole(false, "")
		}
	default:
		if kind, ok := orders.Active(u.Doc); ok {
			return h.orders.Cancel(u, kind)
		}
		if u.Doc.Executor.Subscription.Status != session.SubscriptionIdle &&
			u.Doc.Executor.Subscription.Status != session.SubscriptionPendingModeration {
			return h.executor.CancelPurchase(u)
		}
	}
	if _, err := h.transport.Send(u.Ctx, u.ChatID, cancelledText, nil); err != nil {
		return err
	}
	return h.executor.RenderMenu(u)
}

// home returns to the menu, cleaning up the flow the button belonged to.
func (h *Handlers) home(u *flow.Update, action string) error {
	if u.Doc.UI.IsHomeAction(action) {
		h.tracker.Cleanup(u.Ctx, &u.Doc.UI.State)
	}
	switch action {
	case orders.HomeAction:
		u.Doc.Client.Taxi.Reset()
		u.Doc.Client.Delivery.Reset()
	case support.HomeAction:
		u.Doc.Support.Status = session.SupportIdle
	}
	return h.executor.RenderMenu(u)
}

// clientMenu adds the client entries below the executor menu.
func (h *Handlers) clientMenu(*flow.Update) [][]keyboard.InlineBtn {
	return [][]keyboard.InlineBtn{
		{
			{Text: "🚕 Taxi", Unique: orders.UniqueStart, Data: string(domain.OrderTaxi)},
			{Text: "📦 Delivery", Unique: orders.UniqueStart, Data: string(domain.OrderDelivery)},
		},
		{{Text: "💬 Support", Unique: support.UniqueOpen}},
	}
}

type reviewKind int

const (
	reviewVerification reviewKind = iota
	reviewPayment
)

// review handles moderator buttons in moderation channels.
func (h *Handlers) review(kind reviewKind, approve bool) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		id, token, err := callbacks.PayloadIDToken(c)
		if err != nil {
			logger.Warn(ctx, "moderation", "review.bad_payload", slog.String("payload", callbacks.CallbackPayload(c)))
			return nil
		}
		reviewer := auth.From(c)
		var answer string
		switch kind {
		case reviewPayment:
			answer, err = h.executor.ReviewPayment(ctx, reviewer, id, token, approve)
		default:
			answer, err = h.executor.ReviewVerification(ctx, reviewer, id, token, approve)
		}
		if err != nil {
			return err
		}
		switch answer {
		case executor.AnswerApproved, executor.AnswerRejected:
			// The reviewed message itself shows the outcome.
			return nil
		}
		return h.ephemeral(c, answer)
	}
}

// ephemeral sends text that is removed on the next update of this scope.
func (h *Handlers) ephemeral(c tele.Context, text string) error {
	u, ok := h.update(c)
	if !ok {
		return c.Send(text)
	}
	id, err := h.transport.Send(u.Ctx, u.ChatID, text, nil)
	if err != nil {
		return err
	}
	u.Doc.EphemeralMessages = append(u.Doc.EphemeralMessages, id)
	return nil
}

// UnknownText answers text no flow claimed.
func (h *Handlers) UnknownText() tele.HandlerFunc {
	return func(c tele.Context) error {
		if doc := session.Doc(c); doc != nil && doc.AwaitingPhone {
			return h.with(h.requestPhone)(c)
		}
		return h.ephemeral(c, unknownText)
	}
}

// UnknownDocument answers files no flow claimed.
func (h *Handlers) UnknownDocument() tele.HandlerFunc {
	return func(c tele.Context) error {
		return h.ephemeral(c, unknownDocument)
	}
}

// UnknownCallback answers buttons without a registered handler.
func (h *Handlers) UnknownCallback() tele.HandlerFunc {
	return func(c tele.Context) error {
		logger.Debug(tghelpers.BuildContext(c), "tg", "callback.unknown",
			slog.String("cb_key", callbacks.CallbackKey(c)),
		)
		return h.ephemeral(c, unknownCallback)
	}
}
