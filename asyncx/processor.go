package asyncx

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Event describes one lifecycle transition of a job.
type Event struct {
	JobID   string    `json:"job_id"`
	Topic   string    `json:"topic"`
	State   State     `json:"state"`
	Attempt int       `json:"attempt"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// EventSink receives lifecycle events. Publishing is best effort.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// errClaim marks a task that could not be claimed in the record store. The
// handler never ran, so the delivery does not count against the retry budget.
var errClaim = errors.New("asyncx: claim job record")

// Processor manages background workers and updates the Store on lifecycle events.
type Processor struct {
	server   *asynq.Server
	store    Store
	topics   *Topics
	log      *zap.Logger
	metrics  *metrics
	events   EventSink
	limiters map[string]*rate.Limiter
	slots    map[string]*semaphore.Weighted
	now      func() time.Time
}

type ProcessorConfig struct {
	Concurrency     int
	ShutdownTimeout time.Duration
	// PollInterval is how often empty queues are checked for new jobs.
	PollInterval time.Duration
	// DelayedCheckInterval is how often due retries and delayed jobs are promoted.
	DelayedCheckInterval time.Duration
	Logger               *zap.Logger
	Registerer           prometheus.Registerer
	Events               EventSink
}

func NewProcessor(redisOpt asynq.RedisConnOpt, store Store, topics *Topics, cfg ProcessorConfig) *Processor {
	con := cfg.Concurrency
	if con <= 0 {
		con = 10
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	p := &Processor{
		store:    store,
		topics:   topics,
		log:      log.Named("asyncx.processor"),
		metrics:  newMetrics(cfg.Registerer),
		events:   cfg.Events,
		limiters: make(map[string]*rate.Limiter),
		slots:    make(map[string]*semaphore.Weighted),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, name := range topics.Names() {
		tc, _ := topics.Get(name)
		if tc.Pace > 0 {
			p.limiters[name] = rate.NewLimiter(rate.Every(tc.Pace), 1)
		}
		if tc.Concurrency > 0 {
			p.slots[name] = semaphore.NewWeighted(int64(tc.Concurrency))
		}
	}
	p.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:              con,
		Queues:                   topics.queues(),
		RetryDelayFunc:           p.retryDelay,
		IsFailure:                isHandlerFailure,
		ShutdownTimeout:          cfg.ShutdownTimeout,
		TaskCheckInterval:        cfg.PollInterval,
		DelayedTaskCheckInterval: cfg.DelayedCheckInterval,
		Logger:                   log.Named("asynq").Sugar(),
		LogLevel:                 asynq.WarnLevel,
	})
	return p
}

func isHandlerFailure(err error) bool { return !errors.Is(err, errClaim) }

func (p *Processor) retryDelay(n int, _ error, t *asynq.Task) time.Duration {
	tc, ok := p.topics.Get(t.Type())
	if !ok {
		return asynq.DefaultRetryDelayFunc(n, nil, t)
	}
	return tc.RetryDelay(n)
}

// lifecycleMiddleware claims the job record, runs the handler inside a fault
// boundary and records the outcome.
func (p *Processor) lifecycleMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		id, _ := asynq.GetTaskID(ctx)
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		topic := t.Type()
		attempt, maxAttempts := retried+1, maxRetry+1
		log := p.log.With(zap.String("job_id", id), zap.String("topic", topic), zap.Int("attempt", attempt))

		claimed, err := p.claim(ctx, id, t, attempt, maxAttempts)
		if err != nil {
			log.Error("claim job", zap.Error(err))
			return fmt.Errorf("%w: %w", errClaim, err)
		}
		if !claimed {
			log.Info("job already finished, acknowledging redelivery")
			p.metrics.observe(topic, outcomeDuplicate, 0)
			return nil
		}
		p.publish(ctx, Event{JobID: id, Topic: topic, State: StateActive, Attempt: attempt, At: p.now()})

		ctx, box := withResultBox(ctx)
		start := p.now()
		err = p.execute(ctx, topic, next, t)
		elapsed := p.now().Sub(start)

		switch {
		case err == nil:
			p.metrics.observe(topic, outcomeCompleted, elapsed)
			p.complete(ctx, id, topic, attempt, box.encode())
			log.Debug("job completed", zap.Duration("elapsed", elapsed))
			return nil

		case IsPermanent(err):
			log.Warn("job cannot succeed, completing as no-op", zap.Error(err))
			skipped := fmt.Sprintf(`{"skipped":%q}`, truncateError(err.Error()))
			p.metrics.observe(topic, outcomeSkipped, elapsed)
			p.complete(ctx, id, topic, attempt, &skipped)
			return nil

		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			// Shutdown: asynq puts the task back without consuming a retry.
			log.Info("job interrupted by shutdown")
			return err
		}

		state, ferr := p.store.Fail(context.WithoutCancel(ctx), id, attempt, maxAttempts, err.Error(), p.now())
		if ferr != nil {
			log.Error("record job failure", zap.Error(ferr))
			state = StateQueued
			if attempt >= maxAttempts {
				state = StateFailed
			}
		}
		if state == StateFailed {
			log.Error("job failed permanently", zap.Int("max_attempts", maxAttempts), zap.Error(err))
			p.metrics.observe(topic, outcomeFailed, elapsed)
		} else {
			log.Warn("job attempt failed, retry scheduled", zap.Int("max_attempts", maxAttempts), zap.Error(err))
			p.metrics.observe(topic, outcomeRetry, elapsed)
		}
		p.publish(ctx, Event{JobID: id, Topic: topic, State: state, Attempt: attempt, Error: truncateError(err.Error()), At: p.now()})
		return err
	})
}

// claim transitions the record to active. Tasks that were enqueued without a
// record (periodic scheduler, records lost to retention) are adopted first.
func (p *Processor) claim(ctx context.Context, id string, t *asynq.Task, attempt, maxAttempts int) (bool, error) {
	claimed, err := p.store.Claim(ctx, id, attempt, maxAttempts, p.now())
	if !errors.Is(err, ErrJobNotFound) {
		return claimed, err
	}
	rec := JobRecord{
		ID:          id,
		Topic:       t.Type(),
		PayloadJSON: string(t.Payload()),
		State:       StateQueued,
		MaxAttempts: maxAttempts,
		CreatedAt:   p.now(),
	}
	if err := p.store.Insert(ctx, rec); err != nil {
		return false, err
	}
	return p.store.Claim(ctx, id, attempt, maxAttempts, p.now())
}

// execute applies topic pacing and concurrency limits, then runs the handler.
// A panic in the handler is converted into an error.
func (p *Processor) execute(ctx context.Context, topic string, next asynq.Handler, t *asynq.Task) (err error) {
	if sem, ok := p.slots[topic]; ok {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer sem.Release(1)
	}
	if lim, ok := p.limiters[topic]; ok {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}

	gauge := p.metrics.inFlight.WithLabelValues(topic)
	gauge.Inc()
	defer gauge.Dec()

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("handler panic",
				zap.String("topic", topic),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return next.ProcessTask(ctx, t)
}

func (p *Processor) complete(ctx context.Context, id, topic string, attempt int, result *string) {
	if err := p.store.Complete(context.WithoutCancel(ctx), id, result, p.now()); err != nil {
		p.log.Error("record job completion", zap.String("job_id", id), zap.Error(err))
	}
	p.publish(ctx, Event{JobID: id, Topic: topic, State: StateCompleted, Attempt: attempt, At: p.now()})
}

func (p *Processor) publish(ctx context.Context, ev Event) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		p.log.Warn("publish job event", zap.String("job_id", ev.JobID), zap.Error(err))
	}
}

// Start runs the server in the background with the given handler registrations.
func (p *Processor) Start(mux *asynq.ServeMux) error {
	if mux == nil {
		mux = asynq.NewServeMux()
	}
	return p.server.Start(p.lifecycleMiddleware(mux))
}

// Run processes jobs until the process receives SIGTERM or SIGINT.
func (p *Processor) Run(mux *asynq.ServeMux) error {
	if mux == nil {
		mux = asynq.NewServeMux()
	}
	return p.server.Run(p.lifecycleMiddleware(mux))
}

// Shutdown stops claiming new jobs, waits for in-flight handlers up to the
// configured timeout and releases the Redis connection.
func (p *Processor) Shutdown() { p.server.Shutdown() }
