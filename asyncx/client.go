package asyncx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Client wraps asynq.Client and a Store to persist job records. It is the
// producer-facing half of the queue and also answers status queries.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	store     Store
	topics    *Topics
	retention time.Duration
	log       *zap.Logger
	now       func() time.Time
}

type ClientOptions struct {
	// Retention keeps completed tasks visible in Redis for this long.
	Retention time.Duration
	Logger    *zap.Logger
}

func NewClient(redisOpt asynq.RedisConnOpt, store Store, topics *Topics, opts ClientOptions) *Client {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		store:     store,
		topics:    topics,
		retention: opts.Retention,
		log:       log.Named("asyncx.client"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue records a job for topic and hands it to the queue. The payload is
// JSON encoded. The returned id identifies the job for status queries.
func (c *Client) Enqueue(ctx context.Context, topic string, payload any, opts EnqueueOptions) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("nil asynq client")
	}
	tc, ok := c.topics.Get(topic)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", topic, err)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = tc.MaxAttempts
	}

	rec := JobRecord{
		ID:          uuid.NewString(),
		Topic:       topic,
		PayloadJSON: string(payloadBytes),
		State:       StateQueued,
		MaxAttempts: maxAttempts,
		CreatedAt:   c.now(),
	}
	if err := c.store.Insert(ctx, rec); err != nil {
		return "", fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	taskOpts := c.taskOptions(tc, maxAttempts)
	if opts.Delay > 0 {
		taskOpts = append(taskOpts, asynq.ProcessIn(opts.Delay))
	}
	if err := c.submit(ctx, rec.ID, topic, payloadBytes, taskOpts); err != nil {
		return "", err
	}

	c.log.Debug("job enqueued",
		zap.String("job_id", rec.ID),
		zap.String("topic", topic),
		zap.Int("max_attempts", maxAttempts),
		zap.Duration("delay", opts.Delay))
	return rec.ID, nil
}

func (c *Client) taskOptions(tc TopicConfig, maxAttempts int) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(tc.Name),
		asynq.MaxRetry(maxAttempts - 1),
		asynq.Timeout(tc.Timeout),
	}
	if c.retention > 0 {
		opts = append(opts, asynq.Retention(c.retention))
	}
	return opts
}

// submit enqueues the asynq task for an already recorded job. When the
// backend refuses it, the record is abandoned so the job stays visible and
// can be requeued later.
func (c *Client) submit(ctx context.Context, id, topic string, payload []byte, opts []asynq.Option) error {
	t := asynq.NewTask(topic, payload)
	if _, err := c.client.EnqueueContext(ctx, t, append(opts, asynq.TaskID(id))...); err != nil {
		if aerr := c.store.Abandon(context.WithoutCancel(ctx), id, "enqueue: "+err.Error(), c.now()); aerr != nil {
			c.log.Error("abandon job after enqueue failure",
				zap.String("job_id", id),
				zap.String("topic", topic),
				zap.Error(aerr))
		}
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// Status returns the current lifecycle state of a job.
func (c *Client) Status(ctx context.Context, id string) (*JobStatus, error) {
	rec, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	st := rec.status()
	return &st, nil
}

// Requeue gives a failed job a fresh set of attempts.
func (c *Client) Requeue(ctx context.Context, id string) error {
	rec, err := c.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.State != StateFailed {
		return ErrNotRequeueable
	}
	tc, ok := c.topics.Get(rec.Topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, rec.Topic)
	}
	if err := c.inspector.DeleteTask(rec.Topic, id); err != nil &&
		!errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	if err := c.store.Requeue(ctx, id, c.now()); err != nil {
		return err
	}
	if err := c.submit(ctx, id, rec.Topic, []byte(rec.PayloadJSON), c.taskOptions(tc, rec.MaxAttempts)); err != nil {
		return err
	}
	c.log.Info("job requeued", zap.String("job_id", id), zap.String("topic", rec.Topic))
	return nil
}

func (c *Client) List(ctx context.Context, f ListFilter) ([]JobStatus, error) {
	recs, err := c.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]JobStatus, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].status())
	}
	return out, nil
}

func (c *Client) Stats(ctx context.Context, topic string) (*Stats, error) {
	return c.store.Stats(ctx, topic)
}

// Ping checks that the queue backend is reachable.
func (c *Client) Ping() error {
	if err := c.client.Ping(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

func (c *Client) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}
