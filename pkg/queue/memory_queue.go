package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"docgram/internal/util"
)

// MemoryJobQueue is an in-process Queue for tests and single-node
// development runs.
type MemoryJobQueue struct {
	mu         sync.Mutex
	jobs       map[string]Job
	work       chan string
	maxRetries int
}

func NewMemoryJobQueue(buffer, maxRetries int) *MemoryJobQueue {
	if buffer <= 0 {
		buffer = 128
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &MemoryJobQueue{
		jobs:       make(map[string]Job),
		work:       make(chan string, buffer),
		maxRetries: maxRetries,
	}
}

var _ Queue = (*MemoryJobQueue)(nil)

func (q *MemoryJobQueue) Enqueue(ctx context.Context, kind string, payload Payload) (Job, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return Job{}, errors.New("job kind required")
	}
	job := Job{
		ID:        util.NewID(),
		Kind:      kind,
		Payload:   payload,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	select {
	case q.work <- job.ID:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
	return job, nil
}

// GetJob reports a job's tracked status. Test helper.
func (q *MemoryJobQueue) GetJob(_ context.Context, jobID string) (Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	return job, ok, nil
}

func (q *MemoryJobQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		go q.consumeLoop(ctx, handler)
	}
}

func (q *MemoryJobQueue) consumeLoop(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-q.work:
			q.runJob(ctx, jobID, handler)
		}
	}
}

func (q *MemoryJobQueue) runJob(ctx context.Context, jobID string, handler Handler) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	q.jobs[jobID] = job
	q.mu.Unlock()

	err := handler(ctx, job)

	q.mu.Lock()
	defer q.mu.Unlock()
	job = q.jobs[jobID]
	switch {
	case err == nil:
		job.Status = StatusDone
		job.ErrorMessage = ""
	case job.Attempts >= q.maxRetries:
		job.Status = StatusFailed
		job.ErrorMessage = err.Error()
	default:
		job.Status = StatusQueued
		job.ErrorMessage = err.Error()
		select {
		case q.work <- jobID:
		default:
			job.Status = StatusFailed
		}
	}
	job.UpdatedAt = time.Now().UTC()
	q.jobs[jobID] = job
}

// Drain synchronously runs queued jobs until the queue is empty.
// Test helper; Start must not be running concurrently.
func (q *MemoryJobQueue) Drain(ctx context.Context, handler Handler) {
	for {
		select {
		case jobID := <-q.work:
			q.runJob(ctx, jobID, handler)
		default:
			return
		}
	}
}
