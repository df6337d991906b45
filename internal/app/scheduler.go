package app

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/mohans/yebragi/asyncx"
	"github.com/mohans/yebragi/internal/config"
	"github.com/mohans/yebragi/internal/jobs"
	"github.com/mohans/yebragi/internal/reconcile"
	"github.com/mohans/yebragi/internal/store"
)

// Scheduler enqueues the periodic scrape and runs reconciliation and
// retention passes.
var Scheduler = fx.Module("scheduler",
	fx.Provide(NewReconciler, NewJobScheduler, reconcile.NewCron),
	fx.Invoke(StartScheduler),
)

func NewReconciler(cfg *config.Config, s *store.Store, producer *jobs.Producer, records asyncx.Store, log *zap.Logger) *reconcile.Reconciler {
	return reconcile.New(s.Appointments, s.Payments, producer, records, reconcile.Config{
		MeetLinkAge:     cfg.Reconcile.MeetLinkAge,
		PaymentAge:      cfg.Reconcile.PaymentAge,
		BatchSize:       cfg.Reconcile.BatchSize,
		RecordRetention: cfg.Queue.RecordRetention,
	}, log)
}

func NewJobScheduler(opt asynq.RedisConnOpt, records asyncx.Store, topics *asyncx.Topics, log *zap.Logger) *asyncx.Scheduler {
	return asyncx.NewScheduler(opt, records, topics, asyncx.SchedulerOptions{Logger: log})
}

func StartScheduler(lc fx.Lifecycle, cfg *config.Config, s *asyncx.Scheduler, c *cron.Cron, r *reconcile.Reconciler) error {
	if _, err := s.Register(cfg.Scraper.Schedule, jobs.TopicScrapeArticles, jobs.ScrapePayload{}); err != nil {
		return err
	}
	if err := r.Schedule(c, cfg.Reconcile.Schedule, cfg.Reconcile.PurgeSchedule); err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Start()
			return s.Start()
		},
		OnStop: func(ctx context.Context) error {
			s.Shutdown()
			select {
			case <-c.Stop().Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}
