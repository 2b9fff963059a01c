package job

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-sync/internal/config"
	"github.com/sells-group/catalog-sync/internal/model"
)

// Status is a point-in-time snapshot of the queue.
type Status struct {
	QueueSize    int    `json:"queue_size"`
	IsProcessing bool   `json:"is_processing"`
	CurrentJobID string `json:"current_job_id,omitempty"`
}

// entry pairs a queued job with the options its run should use.
type entry struct {
	job  *model.Job
	opts ExecOptions
}

// Queue runs jobs strictly one at a time in arrival order, pausing between
// universities so no two fetch sequences ever run back to back. A failed job
// never stops the queue; the worker logs it and moves on.
type Queue struct {
	manager *Manager
	delay   time.Duration

	mu         sync.Mutex
	entries    []entry
	processing bool
	currentID  string

	wake chan struct{}
}

// NewQueue creates a queue backed by the given manager.
func NewQueue(manager *Manager, cfg config.QueueConfig) *Queue {
	return &Queue{
		manager: manager,
		delay:   cfg.SubjectDelay(),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue appends a job with its run options and wakes the worker.
func (q *Queue) Enqueue(job *model.Job, opts ExecOptions) {
	q.mu.Lock()
	q.entries = append(q.entries, entry{job: job, opts: opts})
	size := len(q.entries)
	q.mu.Unlock()

	zap.L().Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("university", job.UniversityName),
		zap.Int("queue_size", size),
	)

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start runs the worker loop until the context is canceled. It is intended
// to run in its own goroutine for the lifetime of the process.
func (q *Queue) Start(ctx context.Context) error {
	zap.L().Info("job queue worker started", zap.Duration("subject_delay", q.delay))
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("job queue worker stopping")
			return ctx.Err()
		case <-q.wake:
			q.drain(ctx)
		}
	}
}

// drain processes queued jobs sequentially until the queue is empty.
func (q *Queue) drain(ctx context.Context) {
	for {
		e, remaining := q.pop()
		if e == nil {
			return
		}

		if err := q.manager.Execute(ctx, e.job, e.opts); err != nil {
			// Execute already recorded the failure on the job.
			zap.L().Warn("job failed, continuing with queue",
				zap.String("job_id", e.job.ID),
				zap.Error(err),
			)
		}

		q.finish()

		if remaining > 0 {
			zap.L().Info("waiting before next university",
				zap.Duration("delay", q.delay),
				zap.Int("remaining", remaining),
			)
			if !sleepCtx(ctx, q.delay) {
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// pop removes the head entry, marking the queue busy. It returns nil when
// the queue is empty.
func (q *Queue) pop() (*entry, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		q.processing = false
		q.currentID = ""
		return nil, 0
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	q.processing = true
	q.currentID = e.job.ID
	return &e, len(q.entries)
}

func (q *Queue) finish() {
	q.mu.Lock()
	q.processing = false
	q.currentID = ""
	q.mu.Unlock()
}

// Status reports the queue's current state.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		QueueSize:    len(q.entries),
		IsProcessing: q.processing,
		CurrentJobID: q.currentID,
	}
}

// Clear drops all waiting jobs and returns how many were removed. The job
// currently executing is unaffected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	q.entries = nil
	if n > 0 {
		zap.L().Warn("job queue cleared", zap.Int("dropped", n))
	}
	return n
}

// sleepCtx sleeps for d unless the context ends first. It reports whether
// the full delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
