// Package orders drafts client taxi and delivery orders and publishes them.
package orders

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/dispatchbot/internal/domain"
)

// Order is a confirmed client order.
type Order struct {
	ID        int64            `db:"id"`
	UserID    int64            `db:"user_id"`
	Kind      domain.OrderKind `db:"kind"`
	City      sql.NullString   `db:"city"`
	Pickup    string           `db:"pickup"`
	Dropoff   string           `db:"dropoff"`
	ASAP      bool             `db:"asap"`
	When      sql.NullTime     `db:"scheduled_at"`
	Comment   sql.NullString   `db:"comment"`
	Status    string           `db:"status"`
	CreatedAt time.Time        `db:"created_at"`
}

// Repository stores orders.
type Repository interface {
	Create(ctx context.Context, o Order) (int64, error)
	MarkPublished(ctx context.Context, id, chatID int64, messageID int) error
}

// PostgresRepository implements Repository with sqlx.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a Repository over db.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts o as a new order.
func (r *PostgresRepository) Create(ctx context.Context, o Order) (int64, error) {
	rows, err := r.db.NamedQueryContext(ctx, `
		INSERT INTO orders (user_id, kind, city, pickup, dropoff, asap, scheduled_at, comment, status)
		VALUES (:user_id, :kind, :city, :pickup, :dropoff, :asap, :scheduled_at, :comment, 'new')
		RETURNING id`, o)
	if err != nil {
		return 0, fmt.Errorf("orders: create: %w", err)
	}
	defer rows.Close()
	var id int64
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("orders: create: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("orders: create: %w", err)
	}
	return id, nil
}

// MarkPublished records the channel message of an order.
func (r *PostgresRepository) MarkPublished(ctx context.Context, id, chatID int64, messageID int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = 'published', channel_chat_id = $2, channel_message_id = $3
		WHERE id = $1`, id, chatID, messageID)
	if err != nil {
		return fmt.Errorf("orders: mark published %d: %w", id, err)
	}
	return nil
}
