// Package moderation resolves moderation channels and publishes items for review.
package moderation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/dispatchbot/core/bootstrap"
	"github.com/m3rciful/dispatchbot/internal/domain"
)

// Binding ties a channel type to a Telegram chat.
type Binding struct {
	Type   domain.ChannelType `db:"type"`
	ChatID int64              `db:"chat_id"`
}

// Channels looks up bindings. A missing binding is reported with ok=false, not an error.
type Channels interface {
	GetChannelBinding(ctx context.Context, t domain.ChannelType) (Binding, bool, error)
}

// ChannelRepository stores bindings in the channels table.
type ChannelRepository struct {
	db *sqlx.DB
}

// NewChannelRepository returns a repository over db.
func NewChannelRepository(db *sqlx.DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// GetChannelBinding returns the binding for t.
func (r *ChannelRepository) GetChannelBinding(ctx context.Context, t domain.ChannelType) (Binding, bool, error) {
	var b Binding
	err := r.db.GetContext(ctx, &b, `SELECT type, chat_id FROM channels WHERE type = $1`, string(t))
	if errors.Is(err, sql.ErrNoRows) {
		return Binding{}, false, nil
	}
	if err != nil {
		return Binding{}, false, fmt.Errorf("moderation: channel %s: %w", t, err)
	}
	return b, true, nil
}

// Upsert binds t to chatID.
func (r *ChannelRepository) Upsert(ctx context.Context, t domain.ChannelType, chatID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channels (type, chat_id) VALUES ($1, $2)
		ON CONFLICT (type) DO UPDATE SET chat_id = EXCLUDED.chat_id, updated_at = now()`,
		string(t), chatID)
	if err != nil {
		return fmt.Errorf("moderation: upsert channel %s: %w", t, err)
	}
	return nil
}

// Seeder writes configured bindings at startup.
func Seeder(bindings map[domain.ChannelType]int64) bootstrap.Seeder {
	return bootstrap.SeederFunc{
		Label: "channels",
		Fn: func(ctx context.Context, db *sqlx.DB) error {
			repo := NewChannelRepository(db)
			types := make([]string, 0, len(bindings))
			for t := range bindings {
				types = append(types, string(t))
			}
			sort.Strings(types)
			for _, t := range types {
				ct := domain.ChannelType(t)
				if err := repo.Upsert(ctx, ct, bindings[ct]); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// StaticChannels serves bindings from memory.
type StaticChannels map[domain.ChannelType]int64

// GetChannelBinding returns the binding for t.
func (s StaticChannels) GetChannelBinding(_ context.Context, t domain.ChannelType) (Binding, bool, error) {
	id, ok := s[t]
	if !ok || id == 0 {
		return Binding{}, false, nil
	}
	return Binding{Type: t, ChatID: id}, true, nil
}
