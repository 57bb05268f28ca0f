package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/dispatchbot/core/logger"
)

// Seeder loads reference data (channel bindings, moderators) after migrations.
type Seeder interface {
	Name() string
	Seed(ctx context.Context, db *sqlx.DB) error
}

// SeederFunc adapts a bare function to the Seeder interface.
type SeederFunc struct {
	Label string
	Fn    func(ctx context.Context, db *sqlx.DB) error
}

// Name returns the seeder label used in logs.
func (f SeederFunc) Name() string { return f.Label }

// Seed executes the underlying function.
func (f SeederFunc) Seed(ctx context.Context, db *sqlx.DB) error {
	return f.Fn(ctx, db)
}

// RunSeeders executes seeders in order and stops at the first failure.
func RunSeeders(ctx context.Context, db *sqlx.DB, seeders []Seeder) error {
	for _, s := range seeders {
		if s == nil {
			continue
		}
		start := time.Now()
		if err := s.Seed(ctx, db); err != nil {
			logger.Error(ctx, "db.seed", "seed.fail",
				slog.String("seeder", s.Name()),
				slog.String("err", err.Error()),
			)
			return fmt.Errorf("seed %s: %w", s.Name(), err)
		}
		logger.Info(ctx, "db.seed", "seed.done",
			slog.String("seeder", s.Name()),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
	}
	return nil
}
