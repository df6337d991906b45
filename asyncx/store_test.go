package asyncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/mohans/yebragi/internal/testutil"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return testutil.NewSQLite(t)
}

func insertJob(t *testing.T, store *SQLStore, id, topic string, maxAttempts int) {
	t.Helper()
	payloadBytes, _ := json.Marshal(map[string]any{"appointment_id": "apt-1"})
	rec := JobRecord{
		ID:          id,
		Topic:       topic,
		PayloadJSON: string(payloadBytes),
		State:       StateQueued,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func TestSQLStore_Lifecycle_Success(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	insertJob(t, store, "job-1", "generate-meeting-link", 3)

	claimed, err := store.Claim(ctx, "job-1", 1, 3, time.Now().UTC())
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !claimed {
		t.Fatalf("expected claim to succeed")
	}
	got, err := store.GetByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.State != StateActive || got.Attempts != 1 || got.StartedAt == nil {
		t.Fatalf("unexpected active record: %#v", got)
	}

	result := `{"link":"https://meet.mock/apt-1"}`
	if err := store.Complete(ctx, "job-1", &result, time.Now().UTC()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, err = store.GetByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.State != StateCompleted {
		t.Fatalf("expected completed, got %s", got.State)
	}
	if got.ResultJSON == nil || *got.ResultJSON != result {
		t.Fatalf("unexpected result: %v", got.ResultJSON)
	}
	if got.FinishedAt == nil {
		t.Fatalf("expected finished_at to be set")
	}

	// A redelivered task must not run again once the record is terminal.
	claimed, err = store.Claim(ctx, "job-1", 2, 3, time.Now().UTC())
	if err != nil {
		t.Fatalf("Claim after complete: %v", err)
	}
	if claimed {
		t.Fatalf("expected completed job not to be claimable")
	}
}

func TestSQLStore_Lifecycle_RetryThenFail(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	insertJob(t, store, "job-2", "verify-payment", 2)

	if _, err := store.Claim(ctx, "job-2", 1, 2, time.Now().UTC()); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	state, err := store.Fail(ctx, "job-2", 1, 2, "provider timeout", time.Now().UTC())
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if state != StateQueued {
		t.Fatalf("expected queued after first failure, got %s", state)
	}
	got, _ := store.GetByID(ctx, "job-2")
	if got.FinishedAt != nil {
		t.Fatalf("retrying job must not be finished")
	}

	if _, err := store.Claim(ctx, "job-2", 2, 2, time.Now().UTC()); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	state, err = store.Fail(ctx, "job-2", 2, 2, "provider timeout again", time.Now().UTC())
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if state != StateFailed {
		t.Fatalf("expected failed after last attempt, got %s", state)
	}
	got, _ = store.GetByID(ctx, "job-2")
	if got.Attempts != 2 || got.MaxAttempts != 2 {
		t.Fatalf("unexpected attempts %d/%d", got.Attempts, got.MaxAttempts)
	}
	if got.LastError == nil || *got.LastError != "provider timeout again" {
		t.Fatalf("unexpected last error: %v", got.LastError)
	}
	if got.FinishedAt == nil {
		t.Fatalf("expected finished_at to be set")
	}
}

func TestSQLStore_Requeue(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	insertJob(t, store, "job-3", "send-otp-email", 1)

	if err := store.Requeue(ctx, "job-3", time.Now().UTC()); err != ErrNotRequeueable {
		t.Fatalf("expected ErrNotRequeueable for queued job, got %v", err)
	}
	if _, err := store.Claim(ctx, "job-3", 1, 1, time.Now().UTC()); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := store.Fail(ctx, "job-3", 1, 1, "smtp down", time.Now().UTC()); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := store.Requeue(ctx, "job-3", time.Now().UTC()); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	got, _ := store.GetByID(ctx, "job-3")
	if got.State != StateQueued || got.Attempts != 0 || got.FinishedAt != nil {
		t.Fatalf("unexpected requeued record: %#v", got)
	}
	if got.LastError == nil {
		t.Fatalf("requeue should keep the last error for inspection")
	}
}

func TestSQLStore_ListAndStats(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	insertJob(t, store, "a", "scrape-articles", 3)
	insertJob(t, store, "b", "scrape-articles", 3)
	insertJob(t, store, "c", "send-otp-email", 3)

	if _, err := store.Claim(ctx, "a", 1, 3, time.Now().UTC()); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.Complete(ctx, "a", nil, time.Now().UTC()); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	recs, err := store.List(ctx, ListFilter{Topic: "scrape-articles"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 scrape jobs, got %d", len(recs))
	}
	recs, err = store.List(ctx, ListFilter{State: StateQueued})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 queued jobs, got %d", len(recs))
	}

	all, err := store.Stats(ctx, "")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if all.Queued != 2 || all.Completed != 1 || all.Failed != 0 {
		t.Fatalf("unexpected stats: %#v", all)
	}
	scrape, err := store.Stats(ctx, "scrape-articles")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if scrape.Queued != 1 || scrape.Completed != 1 {
		t.Fatalf("unexpected topic stats: %#v", scrape)
	}
}

func TestSQLStore_Purge(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	insertJob(t, store, "old", "scrape-articles", 3)
	insertJob(t, store, "failed", "scrape-articles", 1)
	insertJob(t, store, "pending", "scrape-articles", 3)

	past := time.Now().UTC().Add(-48 * time.Hour)
	if err := store.Complete(ctx, "old", nil, past); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := store.Fail(ctx, "failed", 1, 1, "boom", past); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	n, err := store.Purge(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged record, got %d", n)
	}
	if _, err := store.GetByID(ctx, "old"); err != ErrJobNotFound {
		t.Fatalf("expected purged record to be gone, got %v", err)
	}
	if _, err := store.GetByID(ctx, "failed"); err != nil {
		t.Fatalf("failed record must survive purge: %v", err)
	}
}
