package router

import (
	"time"

	tg "github.com/m3rciful/dispatchbot/core/telegram"

	tele "gopkg.in/telebot.v4"
)

// Conversation owns free-form input (text, photos, contacts) while a flow is active.
type Conversation interface {
	Active(c tele.Context) bool
	Handle(c tele.Context) error
}

// TextOptions controls fallback behaviour for message updates.
type TextOptions struct {
	UnknownText     tele.HandlerFunc
	UnknownDocument tele.HandlerFunc
	// Contact handles shared contacts regardless of conversation state.
	Contact tele.HandlerFunc
}

// TextRoutes builds handlers for text, photo, contact and document messages.
// Text matching a command alias wins over an active conversation so reply-keyboard
// buttons keep working mid-flow.
func TextRoutes(conv Conversation, reg *tg.Registry, opts TextOptions) []tg.Route {
	text := func(c tele.Context) error {
		start := time.Now()

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil {
				return handleWithSummary(c, normalizeHandlerName(key), start, "", "", func() error {
					return cmd.Handler(c)
				})
			}
		}

		if conv != nil && conv.Active(c) {
			return handleWithSummary(c, "conversation", start, "", "", func() error {
				return conv.Handle(c)
			})
		}

		if reg != nil {
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "fallback", start, "", "", func() error {
					return fb(c)
				})
			}
		}
		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, "", "", func() error {
				return opts.UnknownText(c)
			})
		}
		logHandlerSummary(c, "unknown_text", start, "skip", "ok", nil)
		return nil
	}

	media := func(name string, fallback tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			start := time.Now()
			if conv != nil && conv.Active(c) {
				return handleWithSummary(c, "conversation_"+name, start, "", "", func() error {
					return conv.Handle(c)
				})
			}
			if fallback != nil {
				return handleWithSummary(c, "unexpected_"+name, start, "", "", func() error {
					return fallback(c)
				})
			}
			logHandlerSummary(c, "unexpected_"+name, start, "skip", "ok", nil)
			return nil
		}
	}

	contact := func(c tele.Context) error {
		start := time.Now()
		if opts.Contact == nil {
			logHandlerSummary(c, "contact", start, "skip", "ok", nil)
			return nil
		}
		return handleWithSummary(c, "contact", start, "", "", func() error {
			return opts.Contact(c)
		})
	}

	return []tg.Route{
		{Endpoint: tele.OnText, Handler: text},
		{Endpoint: tele.OnPhoto, Handler: media("photo", opts.UnknownDocument)},
		{Endpoint: tele.OnDocument, Handler: media("document", opts.UnknownDocument)},
		{Endpoint: tele.OnContact, Handler: contact},
	}
}
