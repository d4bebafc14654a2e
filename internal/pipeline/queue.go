// Package pipeline runs the two-stage ingest chain as background jobs:
// clean_data normalizes one raw upload into a staged partition, and
// build_features rebuilds a source's aggregates from everything staged.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dx-insights/attp-pipeline/internal/logging"
)

// ErrQueueFull is returned when the job buffer has no room. Clients
// should retry after a short delay.
var ErrQueueFull = errors.New("job queue is full, please try again later")

// Job is one unit of background work.
type Job struct {
	ID      string
	Name    string
	Payload any
}

// Handler processes one job. A returned error is logged; jobs are not
// retried automatically, the handlers are idempotent and the caller can
// re-trigger the chain by re-uploading.
type Handler func(ctx context.Context, job Job) error

// Queue is an in-process job queue: named handlers, a buffered channel
// and a fixed pool of workers. Delivery is at-least-once within the
// process lifetime; jobs do not survive a restart.
type Queue struct {
	jobs       chan Job
	workers    int
	jobTimeout time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler

	wg sync.WaitGroup
}

// NewQueue creates a queue with the given buffer size and worker count.
func NewQueue(workers, size int, jobTimeout time.Duration) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 64
	}
	return &Queue{
		jobs:       make(chan Job, size),
		workers:    workers,
		jobTimeout: jobTimeout,
		handlers:   make(map[string]Handler),
	}
}

// Register binds a handler to a job name. Registering after Start is
// allowed but jobs enqueued before registration fail.
func (q *Queue) Register(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

// Enqueue submits a job and returns its task id. Fails fast with
// ErrQueueFull rather than blocking the caller.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	job := Job{ID: uuid.New().String(), Name: name, Payload: payload}
	select {
	case q.jobs <- job:
		logging.FromContext(ctx).Debug("job enqueued", "job", name, "task_id", job.ID)
		return job.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return "", fmt.Errorf("enqueue %s: %w", name, ErrQueueFull)
	}
}

// Start launches the worker pool. Workers drain until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
	logging.FromContext(ctx).Info("job queue started", "workers", q.workers, "buffer", cap(q.jobs))
}

// Wait blocks until every worker has stopped. Call after cancelling the
// context passed to Start.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.run(ctx, job)
		}
	}
}

func (q *Queue) run(ctx context.Context, job Job) {
	log := logging.WithFields(ctx, "job", job.Name, "task_id", job.ID)

	q.mu.RLock()
	handler, ok := q.handlers[job.Name]
	q.mu.RUnlock()
	if !ok {
		log.Error("no handler registered for job")
		return
	}

	jobCtx := ctx
	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, q.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := handler(jobCtx, job); err != nil {
		log.Error("job failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	log.Info("job completed", "duration_ms", time.Since(start).Milliseconds())
}
