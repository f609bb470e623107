// Package jobqueue runs database-backed background jobs with at-least-once
// delivery and bounded retries.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"github.com/xxxsen/kbchat/internal/repo"
)

const DefaultMaxAttempts = 3

// Handler executes one job. A nil return completes the job; an error sends
// it back to pending until attempts run out, then marks it failed.
type Handler func(ctx context.Context, payload json.RawMessage) error

type Queue struct {
	jobs        *repo.JobRepo
	handlers    map[string]Handler
	maxAttempts int
}

func New(jobs *repo.JobRepo, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		jobs:        jobs,
		handlers:    make(map[string]Handler),
		maxAttempts: maxAttempts,
	}
}

func (q *Queue) RegisterHandler(jobType string, handler Handler) {
	q.handlers[jobType] = handler
}

// Enqueue persists a pending job and returns its id. The job runs on a
// later poll tick, never inline.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode job payload: %w", err)
	}
	job := &model.Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     string(data),
		Status:      model.JobStatusPending,
		MaxAttempts: q.maxAttempts,
		Ctime:       time.Now().Unix(),
	}
	if err := q.jobs.Create(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Start recovers jobs stranded in running state by a previous process and
// puts them back on the queue without consuming an attempt.
func (q *Queue) Start(ctx context.Context) error {
	requeued, err := q.jobs.RequeueRunning(ctx)
	if err != nil {
		return err
	}
	if requeued > 0 {
		logutil.GetLogger(ctx).Info("requeued stranded jobs", zap.Int64("count", requeued))
	}
	return nil
}

// ProcessNext claims and runs the oldest pending job. Returns ErrNotFound
// when the queue is empty.
func (q *Queue) ProcessNext(ctx context.Context) error {
	job, err := q.jobs.NextPending(ctx)
	if err != nil {
		return err
	}
	logger := logutil.GetLogger(ctx).With(
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Int("attempt", job.Attempts+1),
	)
	if err := q.jobs.MarkRunning(ctx, job.ID); err != nil {
		return err
	}
	job.Attempts++

	handler, ok := q.handlers[job.Type]
	if !ok {
		logger.Error("no handler registered for job type")
		return q.jobs.MarkFailed(ctx, job.ID, "no handler for job type: "+job.Type)
	}

	runErr := q.runHandler(ctx, handler, json.RawMessage(job.Payload))
	if runErr == nil {
		logger.Info("job completed")
		return q.jobs.MarkCompleted(ctx, job.ID)
	}
	if job.Attempts >= job.MaxAttempts {
		logger.Error("job failed permanently", zap.Error(runErr))
		return q.jobs.MarkFailed(ctx, job.ID, runErr.Error())
	}
	logger.Warn("job failed, will retry", zap.Error(runErr))
	return q.jobs.ReturnPending(ctx, job.ID, runErr.Error())
}

// runHandler isolates handler panics so a bad job cannot take down the
// poll loop.
func (q *Queue) runHandler(ctx context.Context, handler Handler, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return handler(ctx, payload)
}

// Worker adapts the queue to the scheduler job interface.
type Worker struct {
	queue *Queue
}

func NewWorker(queue *Queue) *Worker {
	return &Worker{queue: queue}
}

func (w *Worker) Name() string {
	return "job_queue_poll"
}

// Run claims at most one job per tick; the scheduler's single-flight wrap
// keeps long jobs from overlapping with the next tick.
func (w *Worker) Run(ctx context.Context) error {
	err := w.queue.ProcessNext(ctx)
	if appErr.IsNotFound(err) {
		return nil
	}
	return err
}
