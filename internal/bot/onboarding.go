package bot

import (
	"log/slog"
	"strings"

	"github.com/m3rciful/dispatchbot/core/logger"
	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"
	"github.com/m3rciful/dispatchbot/core/telegram/keyboard"
	"github.com/m3rciful/dispatchbot/core/telegram/ui"
	"github.com/m3rciful/dispatchbot/internal/domain"
	"github.com/m3rciful/dispatchbot/internal/flow"
	"github.com/m3rciful/dispatchbot/internal/session"

	tele "gopkg.in/telebot.v4"
)

// UniqueCity is the city picker button; its payload is the city code.
const UniqueCity = "city_pick"

const stepCity = "onboarding.city"

const (
	phoneRequestText = "Welcome! Share your phone number to continue."
	phoneButtonText  = "📱 Share phone"
	phoneForeignText = "Please share your own contact using the button."
	phoneSavedText   = "Thanks, your phone is saved."
)

// requestPhone shows the contact button.
func (h *Handlers) requestPhone(u *flow.Update) error {
	u.Doc.AwaitingPhone = true
	_, err := h.transport.Send(u.Ctx, u.ChatID, phoneRequestText, &tele.SendOptions{ReplyMarkup: keyboard.ContactRequest(phoneButtonText)})
	return err
}

// Contact stores the sender's own phone number.
func (h *Handlers) Contact(c tele.Context) error {
	u, ok := h.update(c)
	if !ok {
		return nil
	}
	msg := c.Message()
	sender := c.Sender()
	if msg == nil || msg.Contact == nil || sender == nil {
		return nil
	}
	if msg.Contact.UserID != sender.ID {
		logger.Info(u.Ctx, "auth", "onboarding.foreign_contact", slog.Int64("contact_user_id", msg.Contact.UserID))
		_, err := h.transport.Send(u.Ctx, u.ChatID, phoneForeignText, nil)
		return err
	}

	phone := normalizePhone(msg.Contact.PhoneNumber)
	if err := h.users.SetPhone(u.Ctx, sender.ID, phone); err != nil {
		logger.Error(u.Ctx, "auth", "onboarding.phone_failed", slog.String("err", err.Error()))
		_, serr := h.transport.Send(u.Ctx, u.ChatID, "Could not save your phone. Please try again later.", nil)
		return serr
	}
	u.Doc.PhoneNumber = &phone
	u.Doc.AwaitingPhone = false
	if u.Doc.AuthSnapshot != nil {
		u.Doc.AuthSnapshot.PhoneVerified = true
	}
	logger.Info(u.Ctx, "auth", "onboarding.phone_saved")

	if _, err := h.transport.Send(u.Ctx, u.ChatID, phoneSavedText, &tele.SendOptions{ReplyMarkup: keyboard.RemoveKeyboard()}); err != nil {
		return err
	}
	return h.executor.RenderMenu(u)
}

func normalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw != "" && !strings.HasPrefix(raw, "+") {
		raw = "+" + raw
	}
	return raw
}

// PromptCity renders the city picker and remembers what to continue with.
// Without configured cities the city is recorded as empty and the action
// continues immediately.
func (h *Handlers) PromptCity(u *flow.Update, action string) error {
	if len(h.settings.Cities) == 0 {
		none := ""
		u.Doc.City = &none
		return h.continueAfterCity(u, action)
	}
	u.Doc.UI.PendingCityAction = &action

	buttons := make([]keyboard.InlineBtn, 0, len(h.settings.Cities))
	for _, c := range h.settings.Cities {
		buttons = append(buttons, keyboard.InlineBtn{Text: c.Title, Unique: UniqueCity, Data: c.Code})
	}
	_, err := h.tracker.Step(u.Ctx, &u.Doc.UI.State, u.ChatID, ui.StepOptions{
		ID:       stepCity,
		Text:     "Choose your city:",
		Keyboard: keyboard.InlineButtonsNPerRow(buttons, 2),
		Cleanup:  true,
	})
	return err
}

// SelectCity stores the picked city and resumes the pending action.
func (h *Handlers) SelectCity(u *flow.Update, code string) error {
	city, ok := h.settings.City(code)
	if !ok {
		return h.PromptCity(u, pendingAction(u.Doc))
	}
	if tid := u.TelegramID(); tid != 0 {
		if err := h.users.SetCity(u.Ctx, tid, city.Code); err != nil {
			logger.Error(u.Ctx, "auth", "onboarding.city_failed", slog.String("err", err.Error()))
			_, serr := h.transport.Send(u.Ctx, u.ChatID, "Could not save your city. Please try again later.", nil)
			return serr
		}
	}
	u.Doc.City = &city.Code
	action := pendingAction(u.Doc)
	u.Doc.UI.PendingCityAction = nil
	logger.Info(u.Ctx, "auth", "onboarding.city_selected",
		slog.String("city", city.Code),
		slog.String("action", action),
	)

	if step, ok := u.Doc.UI.Steps[stepCity]; ok {
		if err := tghelpers.DeleteLater(u.Ctx, h.transport, step.ChatID, step.MessageID); err != nil {
			logger.Debug(u.Ctx, "tg", "onboarding.city_delete_failed", slog.String("err", err.Error()))
		}
		h.tracker.Forget(&u.Doc.UI.State, stepCity)
	}
	return h.continueAfterCity(u, action)
}

func pendingAction(doc *session.Document) string {
	if doc.UI.PendingCityAction == nil {
		return ""
	}
	return *doc.UI.PendingCityAction
}

func (h *Handlers) continueAfterCity(u *flow.Update, action string) error {
	switch action {
	case session.CityActionExecutor:
		return h.executor.CitySelected(u)
	case session.CityActionTaxi:
		return h.orders.Start(u, domain.OrderTaxi)
	case session.CityActionDelivery:
		return h.orders.Start(u, domain.OrderDelivery)
	default:
		return h.executor.RenderMenu(u)
	}
}
