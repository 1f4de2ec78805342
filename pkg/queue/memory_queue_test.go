package queue

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryJobQueueDrainRunsJob(t *testing.T) {
	q := NewMemoryJobQueue(8, 3)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, KindProcessPost, Payload{PostID: "p1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var seen []Job
	q.Drain(ctx, func(_ context.Context, j Job) error {
		seen = append(seen, j)
		return nil
	})

	if len(seen) != 1 || seen[0].Payload.PostID != "p1" {
		t.Fatalf("handler calls = %+v", seen)
	}
	got, ok, _ := q.GetJob(ctx, job.ID)
	if !ok || got.Status != StatusDone {
		t.Fatalf("job after drain = %+v (ok=%v)", got, ok)
	}
}

func TestMemoryJobQueueRetriesUntilBudget(t *testing.T) {
	q := NewMemoryJobQueue(8, 2)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, KindProcessPost, Payload{PostID: "p1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var attempts int
	q.Drain(ctx, func(_ context.Context, _ Job) error {
		attempts++
		return errors.New("boom")
	})

	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	got, _, _ := q.GetJob(ctx, job.ID)
	if got.Status != StatusFailed || got.ErrorMessage != "boom" {
		t.Fatalf("job after retries = %+v", got)
	}
}

func TestMemoryJobQueueRejectsEmptyKind(t *testing.T) {
	q := NewMemoryJobQueue(8, 3)
	if _, err := q.Enqueue(context.Background(), "  ", Payload{}); err == nil {
		t.Fatal("expected error for empty kind")
	}
}
