// Package bot wires the dispatch bot: storage, middlewares, flows and routes.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/dispatchbot/core/bootstrap"
	corecmd "github.com/m3rciful/dispatchbot/core/cmd"
	"github.com/m3rciful/dispatchbot/core/logger"
	coretelegram "github.com/m3rciful/dispatchbot/core/telegram"
	"github.com/m3rciful/dispatchbot/internal/config"
	"github.com/m3rciful/dispatchbot/internal/moderation"
	"github.com/m3rciful/dispatchbot/internal/users"
)

// App holds infrastructure shared by every update.
type App struct {
	cfg   *config.Config
	db    *sqlx.DB
	redis redis.UniversalClient

	janitorStop context.CancelFunc
	janitorDone chan struct{}
}

// Bootstrap connects storage, applies migrations and seeds reference data.
func Bootstrap(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg, ok := carrier.(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("bot: unexpected config type %T", carrier)
	}

	res, err := bootstrap.Run(bootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: cfg.Database,
		Seeders: []bootstrap.Seeder{
			moderation.Seeder(cfg.Bot.ChannelBindings()),
			bootstrap.SeederFunc{
				Label: "moderators",
				Fn: func(ctx context.Context, db *sqlx.DB) error {
					return users.NewRepository(db).EnsureModerators(ctx, cfg.Bot.Moderators)
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	app := &App{cfg: cfg, db: res.DB}
	if cfg.Redis.Enabled() {
		app.redis = connectRedis(cfg.Redis)
	}
	return app, nil
}

func connectRedis(rc config.RedisConfig) redis.UniversalClient {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{rc.Addr},
		Password: rc.Password,
		DB:       rc.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		// The client reconnects on demand; callers treat Redis as best effort.
		logger.Warn(ctx, "session", "redis.ping_failed",
			slog.String("addr", rc.Addr),
			slog.String("err", err.Error()),
		)
	} else {
		logger.Info(ctx, "session", "redis.connected", slog.String("addr", rc.Addr))
	}
	return client
}

// TelegramRunOptions builds the runtime options; flows are wired in Setup once the bot exists.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	core := a.cfg.CoreConfig()
	return coretelegram.RunOptions{
		Config:      core,
		Registry:    coretelegram.NewRegistry(),
		Middlewares: coretelegram.DefaultMiddlewares(core, nil),
		Setup:       a.setup,
		OnStop:      a.stop,
	}, nil
}

func (a *App) stop(ctx context.Context, _ coretelegram.Runtime) error {
	if a.janitorStop != nil {
		a.janitorStop()
		<-a.janitorDone
	}
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("db close: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn(ctx, "db", "shutdown.close_failed", slog.String("err", err.Error()))
		return err
	}
	return nil
}

func (a *App) startJanitor(ctx context.Context, j *Janitor) {
	jctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.janitorStop = cancel
	a.janitorDone = make(chan struct{})
	go func() {
		defer close(a.janitorDone)
		j.Run(jctx)
	}()
}
