package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	coredatabase "github.com/m3rciful/dispatchbot/core/database"
	"github.com/m3rciful/dispatchbot/internal/config"
	"github.com/m3rciful/dispatchbot/internal/domain"
	"github.com/m3rciful/dispatchbot/internal/session"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("executor: not found")
	// ErrAlreadyReviewed is returned when a review targets a record that is no
	// longer pending or carries a different token.
	ErrAlreadyReviewed = errors.New("executor: already reviewed")
)

// Verification statuses stored in executor_verifications.
const (
	ApplicationPending  = "pending"
	ApplicationActive   = "active"
	ApplicationRejected = "rejected"
)

// Payment statuses stored in subscription_payments.
const (
	PaymentPending   = "pending"
	PaymentInReview  = "in_review"
	PaymentConfirmed = "confirmed"
	PaymentRejected  = "rejected"
	PaymentCancelled = "cancelled"
)

// ApplicationRecord is a reviewed or pending verification submission.
type ApplicationRecord struct {
	ID                  int64         `db:"id"`
	UserID              int64         `db:"user_id"`
	TelegramID          int64         `db:"telegram_id"`
	Role                string        `db:"role"`
	Status              string        `db:"status"`
	ModerationChatID    sql.NullInt64 `db:"moderation_chat_id"`
	ModerationMessageID sql.NullInt64 `db:"moderation_message_id"`
}

// ExecutorRole returns the parsed role.
func (a ApplicationRecord) ExecutorRole() (domain.ExecutorRole, bool) {
	return domain.ParseExecutorRole(a.Role)
}

// PaymentRecord is a subscription payment.
type PaymentRecord struct {
	ID                  int64         `db:"id"`
	UserID              int64         `db:"user_id"`
	TelegramID          int64         `db:"telegram_id"`
	Role                string        `db:"role"`
	PeriodID            string        `db:"period_id"`
	Days                int           `db:"days"`
	Status              string        `db:"status"`
	ModerationChatID    sql.NullInt64 `db:"moderation_chat_id"`
	ModerationMessageID sql.NullInt64 `db:"moderation_message_id"`
}

// Repository persists verification submissions, payments and subscriptions.
type Repository interface {
	CreateApplication(ctx context.Context, userID int64, role domain.ExecutorRole, photos []session.Photo) (int64, error)
	AttachApplicationModeration(ctx context.Context, id, chatID int64, messageID int, token string) error
	ReviewApplication(ctx context.Context, id int64, token string, approve bool, reviewerID int64) (ApplicationRecord, error)

	CreatePayment(ctx context.Context, userID int64, role domain.ExecutorRole, period config.Period) (int64, error)
	AttachPaymentReceipt(ctx context.Context, id int64, fileID string, chatID int64, messageID int, token string) error
	PaymentStatus(ctx context.Context, id int64) (string, error)
	CancelPayment(ctx context.Context, id int64) error
	ReviewPayment(ctx context.Context, id int64, token string, approve bool, reviewerID int64, graceDays int) (PaymentRecord, error)
}

// PostgresRepository implements Repository with sqlx.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a Repository over db.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateApplication stores a pending submission with its photo list.
func (r *PostgresRepository) CreateApplication(ctx context.Context, userID int64, role domain.ExecutorRole, photos []session.Photo) (int64, error) {
	data, err := json.Marshal(photos)
	if err != nil {
		return 0, fmt.Errorf("executor: encode photos: %w", err)
	}
	var id int64
	err = r.db.GetContext(ctx, &id, `
		INSERT INTO executor_verifications (user_id, role, status, photos, photo_count)
		VALUES ($1, $2, 'pending', $3, $4)
		RETURNING id`,
		userID, string(role), string(data), len(photos))
	if err != nil {
		return 0, fmt.Errorf("executor: create application: %w", err)
	}
	return id, nil
}

// AttachApplicationModeration records where the application was published.
func (r *PostgresRepository) AttachApplicationModeration(ctx context.Context, id, chatID int64, messageID int, token string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE executor_verifications
		SET moderation_chat_id = $2, moderation_message_id = $3, token = $4
		WHERE id = $1`, id, chatID, messageID, token)
	if err != nil {
		return fmt.Errorf("executor: attach moderation %d: %w", id, err)
	}
	return nil
}

// ReviewApplication settles a pending application whose token matches.
func (r *PostgresRepository) ReviewApplication(ctx context.Context, id int64, token string, approve bool, reviewerID int64) (ApplicationRecord, error) {
	status := ApplicationRejected
	if approve {
		status = ApplicationActive
	}
	var rec ApplicationRecord
	err := r.db.GetContext(ctx, &rec, `
		UPDATE executor_verifications v
		SET status = $3, reviewed_at = now(), reviewed_by = $4
		FROM users u
		WHERE v.id = $1 AND v.token = $2 AND v.status = 'pending' AND u.id = v.user_id
		RETURNING v.id, v.user_id, u.telegram_id, v.role, v.status, v.moderation_chat_id, v.moderation_message_id`,
		id, token, status, reviewerID)
	if errors.Is(err, sql.ErrNoRows) {
		return ApplicationRecord{}, ErrAlreadyReviewed
	}
	if err != nil {
		return ApplicationRecord{}, fmt.Errorf("executor: review application %d: %w", id, err)
	}
	return rec, nil
}

// CreatePayment opens a pending payment for period.
func (r *PostgresRepository) CreatePayment(ctx context.Context, userID int64, role domain.ExecutorRole, period config.Period) (int64, error) {
	var id int64
	err := r.db.GetContext(ctx, &id, `
		INSERT INTO subscription_payments (user_id, role, period_id, days, amount, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING id`,
		userID, string(role), period.ID, period.Days, period.Price)
	if err != nil {
		return 0, fmt.Errorf("executor: create payment: %w", err)
	}
	return id, nil
}

// AttachPaymentReceipt moves a payment into review.
func (r *PostgresRepository) AttachPaymentReceipt(ctx context.Context, id int64, fileID string, chatID int64, messageID int, token string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE subscription_payments
		SET receipt_file_id = $2, moderation_chat_id = $3, moderation_message_id = $4, token = $5, status = 'in_review'
		WHERE id = $1 AND status = 'pending'`, id, fileID, chatID, messageID, token)
	if err != nil {
		return fmt.Errorf("executor: attach receipt %d: %w", id, err)
	}
	return nil
}

// PaymentStatus returns the stored status of a payment.
func (r *PostgresRepository) PaymentStatus(ctx context.Context, id int64) (string, error) {
	var status string
	err := r.db.GetContext(ctx, &status, `SELECT status FROM subscription_payments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("executor: payment status %d: %w", id, err)
	}
	return status, nil
}

// CancelPayment cancels a payment that has not reached review.
func (r *PostgresRepository) CancelPayment(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE subscription_payments SET status = 'cancelled' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("executor: cancel payment %d: %w", id, err)
	}
	return nil
}

// ReviewPayment settles a payment in review. Confirmation activates or extends
// the user's subscription in the same transaction.
func (r *PostgresRepository) ReviewPayment(ctx context.Context, id int64, token string, approve bool, reviewerID int64, graceDays int) (PaymentRecord, error) {
	status := PaymentRejected
	if approve {
		status = PaymentConfirmed
	}
	var rec PaymentRecord
	err := coredatabase.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &rec, `
			UPDATE subscription_payments p
			SET status = $3, reviewed_at = now(), reviewed_by = $4
			FROM users u
			WHERE p.id = $1 AND p.token = $2 AND p.status = 'in_review' AND u.id = p.user_id
			RETURNING p.id, p.user_id, u.telegram_id, p.role, p.period_id, p.days, p.status,
			          p.moderation_chat_id, p.moderation_message_id`,
			id, token, status, reviewerID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAlreadyReviewed
		}
		if err != nil {
			return err
		}
		if !approve {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO subscriptions (user_id, role, payment_id, status, started_at, expires_at, grace_days)
			VALUES ($1, $2, $3, 'active', now(),
			        GREATEST(now(), COALESCE((SELECT max(s.expires_at) FROM subscriptions s
			                                  WHERE s.user_id = $1 AND s.status = 'active'), now()))
			        + make_interval(days => $4),
			        $5)`,
			rec.UserID, rec.Role, rec.ID, rec.Days, graceDays)
		return err
	})
	if errors.Is(err, ErrAlreadyReviewed) {
		return PaymentRecord{}, ErrAlreadyReviewed
	}
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("executor: review payment %d: %w", id, err)
	}
	return rec, nil
}
