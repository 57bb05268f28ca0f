// Package support relays user questions to the support channel.
package support

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/dispatchbot/core/logger"
	"github.com/m3rciful/dispatchbot/core/telegram/keyboard"
	"github.com/m3rciful/dispatchbot/core/telegram/ui"
	"github.com/m3rciful/dispatchbot/internal/domain"
	"github.com/m3rciful/dispatchbot/internal/flow"
	"github.com/m3rciful/dispatchbot/internal/moderation"
	"github.com/m3rciful/dispatchbot/internal/session"
)

// Callback uniques handled by support.
const (
	UniqueOpen   = "support_open"
	UniqueCancel = "support_cancel"
)

const stepID = "support"

// HomeAction is registered by support steps for home-button cleanup.
const HomeAction = stepID

// Thread is one support conversation.
type Thread struct {
	ID      int64  `db:"id"`
	ShortID string `db:"short_id"`
	UserID  int64  `db:"user_id"`
	Message string `db:"message"`
}

// Repository stores support threads.
type Repository interface {
	Open(ctx context.Context, t Thread) (int64, error)
	AttachChannelMessage(ctx context.Context, id, chatID int64, messageID int) error
}

// PostgresRepository implements Repository with sqlx.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a Repository over db.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Open inserts a thread and returns its id.
func (r *PostgresRepository) Open(ctx context.Context, t Thread) (int64, error) {
	var id int64
	err := r.db.GetContext(ctx, &id, `
		INSERT INTO support_threads (short_id, user_id, message, status)
		VALUES ($1, NULLIF($2::bigint, 0), $3, 'open')
		RETURNING id`, t.ShortID, t.UserID, t.Message)
	if err != nil {
		return 0, fmt.Errorf("support: open thread: %w", err)
	}
	return id, nil
}

// AttachChannelMessage records where the thread was posted.
func (r *PostgresRepository) AttachChannelMessage(ctx context.Context, id, chatID int64, messageID int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE support_threads SET channel_chat_id = $2, channel_message_id = $3 WHERE id = $1`,
		id, chatID, messageID)
	if err != nil {
		return fmt.Errorf("support: attach message %d: %w", id, err)
	}
	return nil
}

// NewShortID returns the 8-character public id of a thread.
func NewShortID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Flow runs the support conversation.
type Flow struct {
	repo    Repository
	queue   *moderation.Queue
	tracker *ui.Tracker
	newID   func() string
}

// New returns a Flow.
func New(repo Repository, queue *moderation.Queue, tracker *ui.Tracker) *Flow {
	return &Flow{repo: repo, queue: queue, tracker: tracker, newID: NewShortID}
}

func (f *Flow) step(u *flow.Update, text string, rows ...[]keyboard.InlineBtn) error {
	opts := ui.StepOptions{ID: stepID, Text: text, HomeAction: HomeAction}
	if len(rows) > 0 {
		opts.Keyboard = keyboard.InlineButtonsRows(rows...)
	}
	_, err := f.tracker.Step(u.Ctx, &u.Doc.UI.State, u.ChatID, opts)
	return err
}

// Start waits for the user's message.
func (f *Flow) Start(u *flow.Update) error {
	u.Doc.Support.Status = session.SupportAwaitingMessage
	return f.step(u, "Describe your question in one message.",
		[]keyboard.InlineBtn{keyboard.Cancel(UniqueCancel, "")})
}

// Cancel leaves the support conversation.
func (f *Flow) Cancel(u *flow.Update) error {
	u.Doc.Support.Status = session.SupportIdle
	return f.step(u, "Support request cancelled.")
}

// Awaiting reports whether the next text belongs to support.
func Awaiting(doc *session.Document) bool {
	return doc.Support.Status == session.SupportAwaitingMessage
}

// HandleText opens a thread from text. It reports false when support is idle.
func (f *Flow) HandleText(u *flow.Update, text string) (bool, error) {
	if !Awaiting(u.Doc) {
		return false, nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return true, f.Start(u)
	}

	short := f.newID()
	id, err := f.repo.Open(u.Ctx, Thread{ShortID: short, UserID: u.UserID(), Message: text})
	if err != nil {
		logger.Error(u.Ctx, "support", "support.open_failed", slog.String("err", err.Error()))
		return true, f.step(u, "Something went wrong. Please try again later.")
	}

	body := fmt.Sprintf("Support #%s from id%d\n\n%s", short, u.TelegramID(), text)
	pub, err := f.queue.Post(u.Ctx, domain.ChannelSupport, body, nil)
	switch {
	case err != nil:
		logger.Warn(u.Ctx, "support", "support.post_failed", slog.String("thread", short), slog.String("err", err.Error()))
	case pub.OK():
		if err := f.repo.AttachChannelMessage(u.Ctx, id, pub.ChatID, pub.MessageID); err != nil {
			logger.Warn(u.Ctx, "support", "support.attach_failed", slog.String("err", err.Error()))
		}
	}

	u.Doc.Support.Status = session.SupportIdle
	u.Doc.Support.LastThreadID = &id
	u.Doc.Support.LastThreadShortID = &short
	logger.Info(u.Ctx, "support", "support.thread_opened",
		slog.Int64("thread_id", id),
		slog.String("short_id", short),
	)
	return true, f.step(u, fmt.Sprintf("Thanks! Your request #%s was sent to support.", short))
}
