package asyncx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Scheduler registers recurring jobs against the queue using cron
// expressions. Every enqueued occurrence gets its own job record.
type Scheduler struct {
	scheduler *asynq.Scheduler
	store     Store
	topics    *Topics
	log       *zap.Logger
}

type SchedulerOptions struct {
	Location *time.Location
	Logger   *zap.Logger
}

func NewScheduler(redisOpt asynq.RedisConnOpt, store Store, topics *Topics, opts SchedulerOptions) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{
		store:  store,
		topics: topics,
		log:    log.Named("asyncx.scheduler"),
	}
	s.scheduler = asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location:        opts.Location,
		Logger:          log.Named("asynq").Sugar(),
		LogLevel:        asynq.WarnLevel,
		PostEnqueueFunc: s.record,
	})
	return s
}

// Register schedules payload on topic at every cronspec occurrence.
func (s *Scheduler) Register(cronspec, topic string, payload any) (string, error) {
	tc, ok := s.topics.Get(topic)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", topic, err)
	}
	entryID, err := s.scheduler.Register(cronspec, asynq.NewTask(topic, b),
		asynq.Queue(topic),
		asynq.MaxRetry(tc.MaxAttempts-1),
		asynq.Timeout(tc.Timeout))
	if err != nil {
		return "", fmt.Errorf("register %s at %q: %w", topic, cronspec, err)
	}
	s.log.Info("registered recurring job",
		zap.String("topic", topic),
		zap.String("cron", cronspec),
		zap.String("entry_id", entryID))
	return entryID, nil
}

func (s *Scheduler) record(info *asynq.TaskInfo, err error) {
	if err != nil {
		s.log.Error("enqueue recurring job", zap.Error(err))
		return
	}
	rec := JobRecord{
		ID:          info.ID,
		Topic:       info.Queue,
		PayloadJSON: string(info.Payload),
		State:       StateQueued,
		MaxAttempts: info.MaxRetry + 1,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Insert(context.Background(), rec); err != nil {
		s.log.Warn("record recurring job, it will be adopted on delivery",
			zap.String("job_id", info.ID), zap.Error(err))
	}
}

func (s *Scheduler) Start() error { return s.scheduler.Start() }

// Run blocks until the process receives SIGTERM or SIGINT.
func (s *Scheduler) Run() error { return s.scheduler.Run() }

func (s *Scheduler) Shutdown() { s.scheduler.Shutdown() }
