package asyncx

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohans/yebragi/internal/testutil"
)

// flakyStore fails Claim for the first claimFailures calls and fails every
// Fail call when failFail is set.
type flakyStore struct {
	Store
	claimFailures int32
	failFail      bool
	claims        atomic.Int32
}

func (s *flakyStore) Claim(ctx context.Context, id string, attempt, maxAttempts int, at time.Time) (bool, error) {
	if s.claims.Add(1) <= s.claimFailures {
		return false, errors.New("connection reset by peer")
	}
	return s.Store.Claim(ctx, id, attempt, maxAttempts, at)
}

func (s *flakyStore) Fail(ctx context.Context, id string, attempt, maxAttempts int, errMsg string, at time.Time) (State, error) {
	if s.failFail {
		return "", errors.New("connection reset by peer")
	}
	return s.Store.Fail(ctx, id, attempt, maxAttempts, errMsg, at)
}

func TestIsHandlerFailure(t *testing.T) {
	if isHandlerFailure(fmt.Errorf("%w: %w", errClaim, errors.New("db down"))) {
		t.Fatalf("claim errors must not count as failures")
	}
	if !isHandlerFailure(errors.New("meet provider timeout")) {
		t.Fatalf("handler errors must count as failures")
	}
}

func TestProcessor_Integration_ClaimErrorKeepsRetryBudget(t *testing.T) {
	s := testutil.StartMiniRedis(t)
	redis := testutil.RedisOpt(s)
	base := NewSQLStore(openTestDB(t))
	store := &flakyStore{Store: base, claimFailures: 2}
	topics := fastTopics(t, TopicConfig{Name: "it-claim", MaxAttempts: 2})

	var calls atomic.Int32
	processor := NewProcessor(redis, store, topics, fastProcessorConfig())
	mux := asynq.NewServeMux()
	mux.HandleFunc("it-claim", func(ctx context.Context, tsk *asynq.Task) error {
		calls.Add(1)
		return nil
	})
	if err := processor.Start(mux); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer processor.Shutdown()

	client := NewClient(redis, base, topics, ClientOptions{})
	defer client.Close()

	id, err := client.Enqueue(context.Background(), "it-claim", itPayload{N: 1}, EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	rec := waitForState(t, base, id, StateCompleted)
	if rec.Attempts != 1 {
		t.Fatalf("expected claim errors to leave the attempt count at 1, got %d", rec.Attempts)
	}
	if n := store.claims.Load(); n != 3 {
		t.Fatalf("expected 3 claim calls, got %d", n)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected handler to run once, ran %d", n)
	}
}

func TestProcessor_Integration_FailRecordErrorStillCountsTerminal(t *testing.T) {
	s := testutil.StartMiniRedis(t)
	redis := testutil.RedisOpt(s)
	base := NewSQLStore(openTestDB(t))
	store := &flakyStore{Store: base, failFail: true}
	topics := fastTopics(t, TopicConfig{Name: "it-fail-record", MaxAttempts: 1})

	reg := prometheus.NewRegistry()
	cfg := fastProcessorConfig()
	cfg.Registerer = reg
	processor := NewProcessor(redis, store, topics, cfg)
	mux := asynq.NewServeMux()
	mux.HandleFunc("it-fail-record", func(ctx context.Context, tsk *asynq.Task) error {
		return errors.New("otp gateway down")
	})
	if err := processor.Start(mux); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer processor.Shutdown()

	client := NewClient(redis, base, topics, ClientOptions{})
	defer client.Close()

	if _, err := client.Enqueue(context.Background(), "it-fail-record", itPayload{N: 1}, EnqueueOptions{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	failed := processor.metrics.processed.WithLabelValues("it-fail-record", outcomeFailed)
	if err := testutil.PollUntil(5*time.Second, func() (bool, error) {
		return promtest.ToFloat64(failed) == 1, nil
	}); err != nil {
		t.Fatalf("expected 1 failed observation: %v", err)
	}
	if got := promtest.ToFloat64(processor.metrics.processed.WithLabelValues("it-fail-record", outcomeRetry)); got != 0 {
		t.Fatalf("expected no retry observation for the last attempt, got %v", got)
	}
}
