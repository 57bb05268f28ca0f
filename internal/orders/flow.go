package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/dispatchbot/core/logger"
	"github.com/m3rciful/dispatchbot/core/telegram/format"
	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"
	"github.com/m3rciful/dispatchbot/core/telegram/keyboard"
	"github.com/m3rciful/dispatchbot/core/telegram/ui"
	"github.com/m3rciful/dispatchbot/internal/domain"
	"github.com/m3rciful/dispatchbot/internal/flow"
	"github.com/m3rciful/dispatchbot/internal/idempotency"
	"github.com/m3rciful/dispatchbot/internal/moderation"
	"github.com/m3rciful/dispatchbot/internal/session"

	tele "gopkg.in/telebot.v4"
)

// Callback uniques handled by the order flow. Payloads carry the order kind.
const (
	UniqueStart   = "order_start"
	UniqueASAP    = "order_asap"
	UniqueSkip    = "order_skip"
	UniqueConfirm = "order_confirm"
	UniqueCancel  = "order_cancel"
)

// HomeAction is registered on order steps.
const HomeAction = "orders"

var errNoCustomer = errors.New("orders: customer unknown")

// Deps are the collaborators of Flow.
type Deps struct {
	Repo    Repository
	Queue   *moderation.Queue
	Tracker *ui.Tracker
	Guard   *idempotency.Guard
	Cities  flow.CityPrompter
	Now     func() time.Time
}

// Flow walks a client through pickup, dropoff, time and comment.
type Flow struct {
	d Deps
}

// New returns a Flow.
func New(d Deps) *Flow {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Guard == nil {
		d.Guard = idempotency.NewGuard(idempotency.NewMemoryStore(), 0)
	}
	return &Flow{d: d}
}

func stepID(kind domain.OrderKind) string { return "order." + string(kind) }

func (f *Flow) step(u *flow.Update, kind domain.OrderKind, text string, kb *tele.ReplyMarkup) error {
	_, err := f.d.Tracker.Step(u.Ctx, &u.Doc.UI.State, u.ChatID, ui.StepOptions{
		ID:         stepID(kind),
		Text:       text,
		Keyboard:   kb,
		HomeAction: HomeAction,
	})
	return err
}

func cancelRow(kind domain.OrderKind) []keyboard.InlineBtn {
	return []keyboard.InlineBtn{keyboard.Cancel(UniqueCancel, string(kind))}
}

// Start opens a draft of kind. A city is requested first when none is set.
func (f *Flow) Start(u *flow.Update, kind domain.OrderKind) error {
	if u.Doc.City == nil && f.d.Cities != nil {
		action := session.CityActionTaxi
		if kind == domain.OrderDelivery {
			action = session.CityActionDelivery
		}
		return f.d.Cities.PromptCity(u, action)
	}
	d := u.Doc.Client.Draft(kind)
	d.Reset()
	d.Stage = session.DraftPickup
	logger.Info(u.Ctx, "orders", "order.draft_start", slog.String("kind", string(kind)))
	return f.render(u, kind)
}

// Active returns the kind of the draft currently waiting for text.
func Active(doc *session.Document) (domain.OrderKind, bool) {
	switch {
	case doc.Client.Taxi.Active():
		return domain.OrderTaxi, true
	case doc.Client.Delivery.Active():
		return domain.OrderDelivery, true
	}
	return "", false
}

// HandleText feeds text into the active draft. It reports false when no
// draft is waiting for input.
func (f *Flow) HandleText(u *flow.Update, text string) (bool, error) {
	kind, ok := Active(u.Doc)
	if !ok {
		return false, nil
	}
	d := u.Doc.Client.Draft(kind)
	text = strings.TrimSpace(text)
	if text == "" {
		return true, f.render(u, kind)
	}

	switch d.Stage {
	case session.DraftPickup:
		d.Pickup = session.StringPtr(text)
		d.Stage = session.DraftDropoff
	case session.DraftDropoff:
		d.Dropoff = session.StringPtr(text)
		d.Stage = session.DraftWhen
	case session.DraftWhen:
		if strings.EqualFold(text, "now") {
			d.ASAP = true
			d.When = nil
		} else {
			when, ok := tghelpers.ParseFlexibleDateAt(text, f.d.Now())
			if !ok {
				return true, f.step(u, kind, "Could not read the time. Use \"now\", \"15:04\" or \"02.01.2006 15:04\".",
					keyboard.InlineButtonsRows(f.whenRow(kind), cancelRow(kind)))
			}
			d.ASAP = false
			d.When = &when
		}
		d.Stage = session.DraftComment
	case session.DraftComment:
		d.Comment = session.StringPtr(text)
		d.Stage = session.DraftConfirm
	case session.DraftConfirm:
		return true, f.render(u, kind)
	}
	return true, f.render(u, kind)
}

// SetASAP answers the time question with "as soon as possible".
func (f *Flow) SetASAP(u *flow.Update, kind domain.OrderKind) error {
	d := u.Doc.Client.Draft(kind)
	if d.Stage != session.DraftWhen {
		return f.render(u, kind)
	}
	d.ASAP = true
	d.When = nil
	d.Stage = session.DraftComment
	return f.render(u, kind)
}

// SkipComment moves past the optional comment.
func (f *Flow) SkipComment(u *flow.Update, kind domain.OrderKind) error {
	d := u.Doc.Client.Draft(kind)
	if d.Stage == session.DraftComment {
		d.Comment = nil
		d.Stage = session.DraftConfirm
	}
	return f.render(u, kind)
}

func (f *Flow) whenRow(kind domain.OrderKind) []keyboard.InlineBtn {
	return []keyboard.InlineBtn{{Text: "⚡ Now", Unique: UniqueASAP, Data: string(kind)}}
}

func (f *Flow) render(u *flow.Update, kind domain.OrderKind) error {
	d := u.Doc.Client.Draft(kind)
	switch d.Stage {
	case session.DraftPickup:
		return f.step(u, kind, "Where should we pick up?", keyboard.InlineButtonsRows(cancelRow(kind)))
	case session.DraftDropoff:
		return f.step(u, kind, "Where to?", keyboard.InlineButtonsRows(cancelRow(kind)))
	case session.DraftWhen:
		return f.step(u, kind, "When? Send a time or tap Now.", keyboard.InlineButtonsRows(f.whenRow(kind), cancelRow(kind)))
	case session.DraftComment:
		return f.step(u, kind, "Any comment for the executor?", keyboard.InlineButtonsRows(
			[]keyboard.InlineBtn{{Text: "Skip", Unique: UniqueSkip, Data: string(kind)}},
			cancelRow(kind),
		))
	case session.DraftConfirm:
		return f.step(u, kind, Summary(kind, d, u.Doc.City), keyboard.InlineButtonsRows(
			[]keyboard.InlineBtn{{Text: "✅ Confirm", Unique: UniqueConfirm, Data: string(kind)}},
			cancelRow(kind),
		))
	}
	return nil
}

// Summary renders a draft for confirmation and for the orders channel.
func Summary(kind domain.OrderKind, d *session.OrderDraftState, city *string) string {
	var sb strings.Builder
	title := "Taxi"
	if kind == domain.OrderDelivery {
		title = "Delivery"
	}
	sb.WriteString(title + " order\n")
	if c := format.DerefString(city, ""); c != "" {
		fmt.Fprintf(&sb, "City: %s\n", c)
	}
	if d.Pickup != nil {
		fmt.Fprintf(&sb, "From: %s\n", *d.Pickup)
	}
	if d.Dropoff != nil {
		fmt.Fprintf(&sb, "To: %s\n", *d.Dropoff)
	}
	switch {
	case d.ASAP:
		sb.WriteString("When: now\n")
	case d.When != nil:
		fmt.Fprintf(&sb, "When: %s\n", d.When.Format("02.01.2006 15:04"))
	}
	if d.Comment != nil {
		fmt.Fprintf(&sb, "Comment: %s\n", *d.Comment)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Confirm stores the draft as an order and publishes it to the orders channel.
func (f *Flow) Confirm(u *flow.Update, kind domain.OrderKind) error {
	d := u.Doc.Client.Draft(kind)
	if d.Stage != session.DraftConfirm || d.Pickup == nil || d.Dropoff == nil {
		return f.render(u, kind)
	}
	if u.UserID() == 0 {
		logger.Error(u.Ctx, "orders", "order.create_failed", slog.String("err", errNoCustomer.Error()))
		return f.step(u, kind, "Something went wrong. Please try again later.", nil)
	}

	o := Order{
		UserID:  u.UserID(),
		Kind:    kind,
		Pickup:  *d.Pickup,
		Dropoff: *d.Dropoff,
		ASAP:    d.ASAP,
	}
	if u.Doc.City != nil && *u.Doc.City != "" {
		o.City = sql.NullString{String: *u.Doc.City, Valid: true}
	}
	if d.When != nil {
		o.When = sql.NullTime{Time: *d.When, Valid: true}
	}
	if d.Comment != nil {
		o.Comment = sql.NullString{String: *d.Comment, Valid: true}
	}
	summary := Summary(kind, d, u.Doc.City)

	res, err := idempotency.WithIdempotency(u.Ctx, f.d.Guard, u.TelegramID(), "order:confirm:"+string(kind), 0,
		func(ctx context.Context) (int64, error) {
			return f.d.Repo.Create(ctx, o)
		})
	if err != nil {
		logger.Error(u.Ctx, "orders", "order.create_failed", slog.String("err", err.Error()))
		return f.step(u, kind, "Something went wrong. Please try again later.", nil)
	}
	if res.Duplicate() {
		return nil
	}
	id := res.Value

	pub, err := f.d.Queue.Post(u.Ctx, domain.ChannelOrders, fmt.Sprintf("#%d %s", id, summary), nil)
	switch {
	case err != nil:
		logger.Warn(u.Ctx, "orders", "order.publish_failed", slog.Int64("order_id", id), slog.String("err", err.Error()))
	case pub.OK():
		if err := f.d.Repo.MarkPublished(u.Ctx, id, pub.ChatID, pub.MessageID); err != nil {
			logger.Warn(u.Ctx, "orders", "order.mark_failed", slog.Int64("order_id", id), slog.String("err", err.Error()))
		}
	}
	logger.Info(u.Ctx, "orders", "order.created",
		slog.Int64("order_id", id),
		slog.String("kind", string(kind)),
		slog.Bool("published", err == nil && pub.OK()),
	)

	d.Reset()
	return f.step(u, kind, fmt.Sprintf("Order #%d created. We will notify you when an executor takes it.", id), nil)
}

// Cancel drops the draft of kind.
func (f *Flow) Cancel(u *flow.Update, kind domain.OrderKind) error {
	u.Doc.Client.Draft(kind).Reset()
	return f.step(u, kind, "Order cancelled.", nil)
}
