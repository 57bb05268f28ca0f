// Package users persists Telegram users and their profile fields.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/dispatchbot/internal/domain"
)

// ErrNotFound is returned when no user matches.
var ErrNotFound = errors.New("users: not found")

// User is a row of the users table.
type User struct {
	ID            int64          `db:"id"`
	TelegramID    int64          `db:"telegram_id"`
	Username      sql.NullString `db:"username"`
	FirstName     sql.NullString `db:"first_name"`
	LastName      sql.NullString `db:"last_name"`
	Role          string         `db:"role"`
	Status        string         `db:"status"`
	Phone         sql.NullString `db:"phone"`
	PhoneVerified bool           `db:"phone_verified"`
	City          sql.NullString `db:"city"`
	IsBlocked     bool           `db:"is_blocked"`
}

// DisplayName returns @username or the first/last name.
func (u User) DisplayName() string {
	if u.Username.Valid && u.Username.String != "" {
		return "@" + u.Username.String
	}
	name := u.FirstName.String
	if u.LastName.Valid && u.LastName.String != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName.String
	}
	if name == "" {
		return fmt.Sprintf("id%d", u.TelegramID)
	}
	return name
}

// Repository reads and updates users.
type Repository struct {
	db *sqlx.DB
}

// NewRepository returns a Repository over db.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, telegram_id, username, first_name, last_name, role, status, phone, phone_verified, city, is_blocked`

// ByID loads a user by primary key.
func (r *Repository) ByID(ctx context.Context, id int64) (User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: by id %d: %w", id, err)
	}
	return u, nil
}

// ByTelegramID loads a user by Telegram id.
func (r *Repository) ByTelegramID(ctx context.Context, telegramID int64) (User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: by telegram id %d: %w", telegramID, err)
	}
	return u, nil
}

// SetPhone stores a verified phone number.
func (r *Repository) SetPhone(ctx context.Context, telegramID int64, phone string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE users SET phone = $2, phone_verified = true, updated_at = now()
WHERE telegram_id = $1`, telegramID, phone)
	if err != nil {
		return fmt.Errorf("users: set phone: %w", err)
	}
	return nil
}

// SetCity stores the selected city code.
func (r *Repository) SetCity(ctx context.Context, telegramID int64, city string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE users SET city = $2, updated_at = now()
WHERE telegram_id = $1`, telegramID, city)
	if err != nil {
		return fmt.Errorf("users: set city: %w", err)
	}
	return nil
}

// SetRole changes the role unless the user is a moderator. It returns the stored role.
func (r *Repository) SetRole(ctx context.Context, telegramID int64, role domain.Role) (domain.Role, error) {
	var stored string
	err := r.db.GetContext(ctx, &stored, `
UPDATE users
SET role = CASE WHEN role = 'moderator' THEN role ELSE $2 END, updated_at = now()
WHERE telegram_id = $1
RETURNING role`, telegramID, string(domain.NormalizeRole(string(role))))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("users: set role: %w", err)
	}
	return domain.NormalizeRole(stored), nil
}

// MarkBlocked records that the user blocked the bot.
func (r *Repository) MarkBlocked(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET is_blocked = true, updated_at = now() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("users: mark blocked: %w", err)
	}
	return nil
}

// EnsureModerators grants the moderator role to the given Telegram ids, creating rows as needed.
func (r *Repository) EnsureModerators(ctx context.Context, telegramIDs []int64) error {
	for _, id := range telegramIDs {
		_, err := r.db.ExecContext(ctx, `
INSERT INTO users (telegram_id, role) VALUES ($1, 'moderator')
ON CONFLICT (telegram_id) DO UPDATE SET role = 'moderator', updated_at = now()`, id)
		if err != nil {
			return fmt.Errorf("users: ensure moderator %d: %w", id, err)
		}
	}
	return nil
}
