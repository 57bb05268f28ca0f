package helpers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/dispatchbot/core/logger"
	"github.com/m3rciful/dispatchbot/core/telegram/sender"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by helper functions.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

// Async runs fn on the dispatcher, or inline when none is wired or the queue refuses it.
func Async(ctx context.Context, action, endpoint string, run func() error) error {
	disp := globalDispatcher.Load()
	if disp == nil {
		return run()
	}
	if err := disp.Enqueue(ctx, action, endpoint, run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(ctx, "tg.sender", "queue.fallback",
				slog.String("action", action),
				slog.String("endpoint", endpoint),
				slog.String("err", err.Error()),
			)
			return run()
		}
		return err
	}
	return nil
}

// Deleter removes a message from a chat.
type Deleter interface {
	Delete(ctx context.Context, chatID int64, messageID int) error
}

// DeleteLater removes a message on the dispatcher so cleanup does not hold the
// update. Without a dispatcher it deletes inline.
func DeleteLater(ctx context.Context, d Deleter, chatID int64, messageID int) error {
	return Async(ctx, "delete.message", "deleteMessage", func() error {
		return d.Delete(context.WithoutCancel(ctx), chatID, messageID)
	})
}
