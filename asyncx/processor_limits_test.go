package asyncx

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mohans/yebragi/internal/testutil"
)

func TestProcessor_Integration_TopicLimits(t *testing.T) {
	s := testutil.StartMiniRedis(t)
	redis := testutil.RedisOpt(s)
	store := NewSQLStore(openTestDB(t))
	const pace = 150 * time.Millisecond
	topics := fastTopics(t, TopicConfig{Name: "it-capped", Concurrency: 1, Pace: pace})

	var (
		inFlight, peak atomic.Int32
		mu             sync.Mutex
		starts         []time.Time
	)
	processor := NewProcessor(redis, store, topics, fastProcessorConfig())
	mux := asynq.NewServeMux()
	mux.HandleFunc("it-capped", func(ctx context.Context, tsk *asynq.Task) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	if err := processor.Start(mux); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer processor.Shutdown()

	client := NewClient(redis, store, topics, ClientOptions{})
	defer client.Close()

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := client.Enqueue(context.Background(), "it-capped", itPayload{N: i}, EnqueueOptions{})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitForState(t, store, id, StateCompleted)
	}

	if got := peak.Load(); got != 1 {
		t.Fatalf("expected at most 1 concurrent job, saw %d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < pace-50*time.Millisecond {
			t.Fatalf("jobs %d and %d started %v apart, want about %v", i-1, i, gap, pace)
		}
	}
}
