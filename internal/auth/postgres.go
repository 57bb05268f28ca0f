package auth

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/dispatchbot/internal/domain"
)

const resolveSQL = `
WITH upserted AS (
	INSERT INTO users (telegram_id, username, first_name, last_name)
	VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''))
	ON CONFLICT (telegram_id) DO UPDATE
	SET username   = COALESCE(EXCLUDED.username, users.username),
	    first_name = COALESCE(EXCLUDED.first_name, users.first_name),
	    last_name  = COALESCE(EXCLUDED.last_name, users.last_name),
	    updated_at = now()
	RETURNING id, telegram_id, role, status, phone_verified, city, is_blocked
)
SELECT u.id, u.telegram_id, u.role, u.status, u.phone_verified, u.city, u.is_blocked,
       vc.id IS NOT NULL AS courier_verified,
       vd.id IS NOT NULL AS driver_verified,
       s.id IS NOT NULL  AS has_active_subscription
FROM upserted u
LEFT JOIN LATERAL (
	SELECT v.id FROM executor_verifications v
	WHERE v.user_id = u.id AND v.role = 'courier' AND v.status = 'active'
	  AND (v.expires_at IS NULL OR v.expires_at > now())
	LIMIT 1
) vc ON true
LEFT JOIN LATERAL (
	SELECT v.id FROM executor_verifications v
	WHERE v.user_id = u.id AND v.role = 'driver' AND v.status = 'active'
	  AND (v.expires_at IS NULL OR v.expires_at > now())
	LIMIT 1
) vd ON true
LEFT JOIN LATERAL (
	SELECT sub.id FROM subscriptions sub
	WHERE sub.user_id = u.id AND sub.status = 'active'
	  AND (sub.expires_at IS NULL OR sub.expires_at + make_interval(days => sub.grace_days) > now())
	LIMIT 1
) s ON true`

type resolveRow struct {
	ID                    int64          `db:"id"`
	TelegramID            int64          `db:"telegram_id"`
	Role                  string         `db:"role"`
	Status                string         `db:"status"`
	PhoneVerified         bool           `db:"phone_verified"`
	City                  sql.NullString `db:"city"`
	IsBlocked             bool           `db:"is_blocked"`
	CourierVerified       bool           `db:"courier_verified"`
	DriverVerified        bool           `db:"driver_verified"`
	HasActiveSubscription bool           `db:"has_active_subscription"`
}

// PostgresSource resolves State with one upsert-and-lookup statement.
type PostgresSource struct {
	db *sqlx.DB
}

// NewPostgresSource returns a Source over db.
func NewPostgresSource(db *sqlx.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// Resolve upserts the user identity fields and reads verification and subscription facts.
func (s *PostgresSource) Resolve(ctx context.Context, id Identity) (*State, error) {
	var row resolveRow
	if err := s.db.GetContext(ctx, &row, resolveSQL, id.TelegramID, id.Username, id.FirstName, id.LastName); err != nil {
		return nil, fmt.Errorf("auth: resolve %d: %w", id.TelegramID, err)
	}
	return row.state(), nil
}

func (r resolveRow) state() *State {
	role := domain.NormalizeRole(r.Role)
	return &State{
		User: User{
			ID:            r.ID,
			TelegramID:    r.TelegramID,
			Role:          role,
			Status:        r.Status,
			PhoneVerified: r.PhoneVerified,
			City:          r.City.String,
			IsBlocked:     r.IsBlocked,
		},
		Executor: Executor{
			VerifiedRoles: map[domain.ExecutorRole]bool{
				domain.ExecutorCourier: r.CourierVerified,
				domain.ExecutorDriver:  r.DriverVerified,
			},
			HasActiveSubscription: r.HasActiveSubscription,
		},
		IsModerator: role == domain.RoleModerator,
	}
}
