package middleware

import (
	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"
	"github.com/m3rciful/dispatchbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

const counterKey = "metrics_counter"

// metricsContext counts replies made directly through tele.Context.
// Flow messages go through sender.Transport and are counted there.
type metricsContext struct {
	tele.Context
	counter *sender.Counter
}

func hasKeyboard(opts []interface{}) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		case *tele.ReplyMarkup:
			if v != nil {
				return true
			}
		}
	}
	return false
}

func (m metricsContext) track(err error, opts []interface{}) error {
	if err == nil {
		m.counter.Add(hasKeyboard(opts))
	}
	return err
}

func (m metricsContext) Send(what interface{}, opts ...interface{}) error {
	return m.track(m.Context.Send(what, opts...), opts)
}

func (m metricsContext) Reply(what interface{}, opts ...interface{}) error {
	return m.track(m.Context.Reply(what, opts...), opts)
}

func (m metricsContext) Edit(what interface{}, opts ...interface{}) error {
	return m.track(m.Context.Edit(what, opts...), opts)
}

func (m metricsContext) EditOrSend(what interface{}, opts ...interface{}) error {
	return m.track(m.Context.EditOrSend(what, opts...), opts)
}

func (m metricsContext) EditOrReply(what interface{}, opts ...interface{}) error {
	return m.track(m.Context.EditOrReply(what, opts...), opts)
}

// MessageMetricsMiddleware binds a per-update sender.Counter to both the
// telebot context and the log context used by transports.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctr := &sender.Counter{}
		c.Set(counterKey, ctr)
		tghelpers.StoreContext(c, sender.WithCounter(tghelpers.BuildContext(c), ctr))
		return next(metricsContext{Context: c, counter: ctr})
	}
}

// GetCounters reads message count and keyboard presence for the current update.
func GetCounters(c tele.Context) (int, bool) {
	ctr, _ := c.Get(counterKey).(*sender.Counter)
	return ctr.Snapshot()
}
