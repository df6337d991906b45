// Package app wires the binaries together with fx.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/mohans/yebragi/asyncx"
	"github.com/mohans/yebragi/internal/config"
	"github.com/mohans/yebragi/internal/database"
	"github.com/mohans/yebragi/internal/jobs"
	"github.com/mohans/yebragi/internal/logger"
	"github.com/mohans/yebragi/internal/store"
)

// Core provides configuration, logging, storage and the queue client shared
// by every binary.
var Core = fx.Module("core",
	fx.Provide(
		config.Load,
		NewLogger,
		NewDB,
		NewRedisOpt,
		NewRedisClient,
		NewTopics,
		fx.Annotate(asyncx.NewSQLStore, fx.As(new(asyncx.Store))),
		store.New,
		NewQueueClient,
		NewProducer,
	),
)

// WithLogger routes fx's own events through zap.
func WithLogger() fx.Option {
	return fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log.Named("fx")}
	})
}

func NewLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	log, err := logger.New(cfg.LogLevel, cfg.IsDevelopment())
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() { _ = log.Sync() }))
	return log, nil
}

// NewDB opens the database and applies migrations when enabled.
func NewDB(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*sql.DB, error) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxIdleTime:  cfg.Database.MaxIdleTime,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, cfg.Database.Driver, log); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	lc.Append(fx.StopHook(db.Close))
	return db, nil
}

func NewRedisOpt(cfg *config.Config) asynq.RedisConnOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func NewRedisClient(lc fx.Lifecycle, cfg *config.Config) redis.UniversalClient {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.StopHook(rdb.Close))
	return rdb
}

func NewTopics(cfg *config.Config) (*asyncx.Topics, error) {
	topics, err := jobs.NewTopics(jobs.Policy{
		MaxAttempts:       cfg.Queue.MaxAttempts,
		BackoffBase:       cfg.Queue.BackoffBase,
		BackoffMax:        cfg.Queue.BackoffMax,
		ScrapeConcurrency: cfg.Queue.ScrapeConcurrency,
		MeetLinkPace:      cfg.Queue.MeetLinkPace,
	})
	if err != nil {
		return nil, fmt.Errorf("job topics: %w", err)
	}
	return topics, nil
}

func NewQueueClient(lc fx.Lifecycle, cfg *config.Config, opt asynq.RedisConnOpt, records asyncx.Store, topics *asyncx.Topics, log *zap.Logger) *asyncx.Client {
	c := asyncx.NewClient(opt, records, topics, asyncx.ClientOptions{
		Retention: cfg.Queue.Retention,
		Logger:    log,
	})
	lc.Append(fx.StopHook(c.Close))
	return c
}

func NewProducer(c *asyncx.Client, log *zap.Logger) *jobs.Producer {
	return jobs.NewProducer(c, log)
}
