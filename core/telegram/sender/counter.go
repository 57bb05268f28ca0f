package sender

import (
	"context"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"
)

type counterKey struct{}

// Counter tallies messages delivered while handling one update.
type Counter struct {
	messages atomic.Int64
	keyboard atomic.Bool
}

// WithCounter attaches c to ctx so transports can report deliveries.
func WithCounter(ctx context.Context, c *Counter) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, counterKey{}, c)
}

// CounterFrom returns the counter bound to ctx, or nil.
func CounterFrom(ctx context.Context) *Counter {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(counterKey{}).(*Counter)
	return c
}

// Add records one delivered message. Nil counters ignore the call.
func (c *Counter) Add(withKeyboard bool) {
	if c == nil {
		return
	}
	c.messages.Add(1)
	if withKeyboard {
		c.keyboard.Store(true)
	}
}

// Snapshot reports the messages delivered so far and whether any carried a keyboard.
func (c *Counter) Snapshot() (int, bool) {
	if c == nil {
		return 0, false
	}
	return int(c.messages.Load()), c.keyboard.Load()
}

func hasMarkup(opts *tele.SendOptions) bool {
	return opts != nil && opts.ReplyMarkup != nil
}
