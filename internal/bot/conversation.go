package bot

import (
	"log/slog"

	"github.com/m3rciful/dispatchbot/core/logger"
	"github.com/m3rciful/dispatchbot/internal/flow"
	"github.com/m3rciful/dispatchbot/internal/orders"
	"github.com/m3rciful/dispatchbot/internal/session"
	"github.com/m3rciful/dispatchbot/internal/support"

	tele "gopkg.in/telebot.v4"
)

// Active reports whether free-form input belongs to a flow. Photos always go
// through the flows since the first verification photo may start collection.
func (h *Handlers) Active(c tele.Context) bool {
	doc := session.Doc(c)
	if doc == nil {
		return false
	}
	if msg := c.Message(); msg != nil && msg.Photo != nil {
		return true
	}
	if support.Awaiting(doc) {
		return true
	}
	if _, ok := orders.Active(doc); ok {
		return true
	}
	role, ok := doc.Executor.CurrentRole()
	if !ok {
		return false
	}
	v, ok := doc.Executor.Verification[role]
	return ok && v != nil && v.Status == session.VerificationCollecting
}

// Handle routes text and photos to the first flow that claims them.
func (h *Handlers) Handle(c tele.Context) error {
	u, ok := h.update(c)
	if !ok {
		return nil
	}
	msg := c.Message()
	if msg != nil && msg.Photo != nil {
		return h.handlePhoto(c, u, photoOf(msg))
	}
	return h.handleText(c, u, c.Text())
}

func photoOf(msg *tele.Message) session.Photo {
	return session.Photo{
		FileID:       msg.Photo.FileID,
		FileUniqueID: msg.Photo.UniqueID,
		MessageID:    msg.ID,
	}
}

func (h *Handlers) handlePhoto(c tele.Context, u *flow.Update, p session.Photo) error {
	handled, err := h.executor.HandleReceipt(u, p)
	if handled || err != nil {
		return err
	}
	handled, err = h.executor.HandlePhoto(u, p)
	if handled || err != nil {
		return err
	}
	logger.Debug(u.Ctx, "tg", "conversation.photo_unclaimed", slog.Int("message_id", p.MessageID))
	return h.UnknownDocument()(c)
}

func (h *Handlers) handleText(c tele.Context, u *flow.Update, text string) error {
	handlers := []func() (bool, error){
		func() (bool, error) { return h.support.HandleText(u, text) },
		func() (bool, error) { return h.orders.HandleText(u, text) },
		func() (bool, error) { return h.executor.HandleText(u) },
	}
	for _, fn := range handlers {
		handled, err := fn()
		if handled || err != nil {
			return err
		}
	}
	return h.UnknownText()(c)
}
