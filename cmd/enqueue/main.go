// Command enqueue submits a single job and exits. It is meant for operators
// and scripts; job status is read back with the status subcommand.
package main

import (
	"context"
	"database/sql"
	"errors"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohans/yebragi/asyncx"
	"github.com/mohans/yebragi/internal/config"
	"github.com/mohans/yebragi/internal/database"
	"github.com/mohans/yebragi/internal/jobs"
	"github.com/mohans/yebragi/internal/logger"
	"github.com/mohans/yebragi/internal/otp"
)

func main() {
	if err := newRootCmd(openEnv).Execute(); err != nil {
		os.Exit(1)
	}
}

// env holds the connections a subcommand needs.
type env struct {
	queue    *asyncx.Client
	producer *jobs.Producer
	otps     *otp.Store
	close    func()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogLevel, cfg.IsDevelopment())
	if err != nil {
		return nil, err
	}
	db, err := database.Open(ctx, database.Options{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, MaxOpenConns: 2})
	if err != nil {
		return nil, err
	}
	topics, err := jobs.NewTopics(jobs.Policy{
		MaxAttempts:       cfg.Queue.MaxAttempts,
		BackoffBase:       cfg.Queue.BackoffBase,
		BackoffMax:        cfg.Queue.BackoffMax,
		ScrapeConcurrency: cfg.Queue.ScrapeConcurrency,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	opt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	return newEnv(db, opt, rdb, topics, cfg, log), nil
}

func newEnv(db *sql.DB, opt asynq.RedisClientOpt, rdb redis.UniversalClient, topics *asyncx.Topics, cfg *config.Config, log *zap.Logger) *env {
	queue := asyncx.NewClient(opt, asyncx.NewSQLStore(db), topics, asyncx.ClientOptions{Retention: cfg.Queue.Retention, Logger: log})
	return &env{
		queue:    queue,
		producer: jobs.NewProducer(queue, log),
		otps:     otp.NewStore(rdb, cfg.OTP.TTL, cfg.OTP.MaxTries),
		close: func() {
			_ = queue.Close()
			_ = rdb.Close()
			_ = db.Close()
			_ = log.Sync()
		},
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, asyncx.ErrQueueUnavailable):
		return "queue unavailable: " + err.Error()
	case errors.Is(err, asyncx.ErrJobNotFound):
		return "job not found"
	default:
		return err.Error()
	}
}
