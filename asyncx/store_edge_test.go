package asyncx

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSQLStore_GetByID_NotFound(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	if rec, err := store.GetByID(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got rec=%#v err=%v", rec, err)
	}
}

func TestSQLStore_Claim_NotFound(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	claimed, err := store.Claim(context.Background(), "missing", 1, 3, time.Now().UTC())
	if !errors.Is(err, ErrJobNotFound) || claimed {
		t.Fatalf("expected ErrJobNotFound, got claimed=%v err=%v", claimed, err)
	}
}

func TestSQLStore_Insert_Duplicate(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	insertJob(t, store, "dup", "scrape-articles", 3)
	if _, err := store.Claim(ctx, "dup", 1, 3, time.Now().UTC()); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	// Re-recording an existing id leaves the original row untouched.
	insertJob(t, store, "dup", "scrape-articles", 3)
	got, _ := store.GetByID(ctx, "dup")
	if got.State != StateActive {
		t.Fatalf("expected active record to survive duplicate insert, got %s", got.State)
	}
}

func TestSQLStore_Fail_TruncatesError(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	insertJob(t, store, "long", "verify-payment", 3)
	if _, err := store.Fail(ctx, "long", 1, 3, strings.Repeat("x", 2000), time.Now().UTC()); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got, _ := store.GetByID(ctx, "long")
	if got.LastError == nil || len(*got.LastError) != maxErrorLen {
		t.Fatalf("expected error truncated to %d bytes", maxErrorLen)
	}
}

func TestSQLStore_Abandon(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	insertJob(t, store, "lost", "send-otp-email", 3)
	if err := store.Abandon(ctx, "lost", "enqueue: connection refused", time.Now().UTC()); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	got, _ := store.GetByID(ctx, "lost")
	if got.State != StateFailed || got.Attempts != 0 {
		t.Fatalf("unexpected abandoned record: %#v", got)
	}
}

func TestSQLStore_NilDB(t *testing.T) {
	store := NewSQLStore(nil)
	if err := store.Insert(context.Background(), JobRecord{ID: "x"}); err == nil {
		t.Fatalf("expected error for nil db")
	}
}
