package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
)

type JobRepo struct {
	db *sql.DB
}

func NewJobRepo(db *sql.DB) *JobRepo {
	return &JobRepo{db: db}
}

func (r *JobRepo) Create(ctx context.Context, job *model.Job) error {
	data := map[string]interface{}{
		"id":           job.ID,
		"type":         job.Type,
		"payload":      job.Payload,
		"status":       job.Status,
		"attempts":     job.Attempts,
		"max_attempts": job.MaxAttempts,
		"error":        job.Error,
		"ctime":        job.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("jobs", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

var jobColumns = `id, type, payload, status, attempts, max_attempts, error, ctime, started_at, completed_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*model.Job, error) {
	var job model.Job
	if err := row.Scan(
		&job.ID, &job.Type, &job.Payload, &job.Status, &job.Attempts,
		&job.MaxAttempts, &job.Error, &job.Ctime, &job.StartedAt, &job.CompletedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*model.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// NextPending returns the oldest pending job, or ErrNotFound when the queue
// is empty.
func (r *JobRepo) NextPending(ctx context.Context) (*model.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY ctime ASC LIMIT 1`, model.JobStatusPending)
	return scanJob(row)
}

// MarkRunning transitions a job to running and consumes one attempt.
func (r *JobRepo) MarkRunning(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, attempts = attempts + 1, started_at = ? WHERE id = ?
	`, model.JobStatusRunning, time.Now().Unix(), id)
	return err
}

func (r *JobRepo) MarkCompleted(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ? WHERE id = ?
	`, model.JobStatusCompleted, time.Now().Unix(), id)
	return err
}

func (r *JobRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, completed_at = ? WHERE id = ?
	`, model.JobStatusFailed, errMsg, time.Now().Unix(), id)
	return err
}

// ReturnPending puts a failed-but-retryable job back on the queue with the
// error recorded.
func (r *JobRepo) ReturnPending(ctx context.Context, id, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ? WHERE id = ?
	`, model.JobStatusPending, errMsg, id)
	return err
}

// RequeueRunning returns jobs left in running state (process crashed
// mid-handler) to pending without consuming an attempt. Called once at
// worker start.
func (r *JobRepo) RequeueRunning(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, attempts = CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END
		WHERE status = ?
	`, model.JobStatusPending, model.JobStatusRunning)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
