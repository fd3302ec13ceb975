package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethos-works/ethosgraph/internal/domain"
)

type RunJobRepository struct {
	db dbtx
}

func NewRunJobRepository(pool *pgxpool.Pool) *RunJobRepository {
	return &RunJobRepository{db: pool}
}

func NewRunJobRepositoryWithTx(tx pgx.Tx) *RunJobRepository {
	return &RunJobRepository{db: tx}
}

func (r *RunJobRepository) Create(ctx context.Context, job *domain.RunJob) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO run_jobs (id, document_id, status, retries, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.DocumentID, job.Status, job.Retries, nullableString(job.Error), job.CreatedAt,
	)
	return err
}

// ClaimPending atomically claims the oldest pending job and flips it to
// processing. SKIP LOCKED keeps concurrent workers off the same row.
func (r *RunJobRepository) ClaimPending(ctx context.Context) (*domain.RunJob, error) {
	row := r.db.QueryRow(ctx,
		`WITH next_job AS (
		   SELECT id FROM run_jobs
		   WHERE status = $1
		   ORDER BY created_at ASC
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 UPDATE run_jobs SET status = $2
		 FROM next_job
		 WHERE run_jobs.id = next_job.id
		 RETURNING run_jobs.id, run_jobs.document_id, run_jobs.status, run_jobs.retries,
		           run_jobs.error, run_jobs.created_at, run_jobs.processed_at`,
		domain.RunJobStatusPending, domain.RunJobStatusProcessing,
	)
	job, err := scanRunJob(row)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrRunJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *RunJobRepository) GetByID(ctx context.Context, id string) (*domain.RunJob, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, document_id, status, retries, error, created_at, processed_at
		 FROM run_jobs
		 WHERE id = $1`,
		id,
	)
	job, err := scanRunJob(row)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrRunJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *RunJobRepository) MarkCompleted(ctx context.Context, id string, processedAt time.Time) error {
	return r.updateStatus(ctx, id, domain.RunJobStatusCompleted, "", &processedAt)
}

func (r *RunJobRepository) MarkFailed(ctx context.Context, id string, errMsg string, processedAt time.Time) error {
	return r.updateStatus(ctx, id, domain.RunJobStatusFailed, errMsg, &processedAt)
}

// Requeue puts a failed attempt back into pending with the retry counter
// bumped, so the next poll picks it up again.
func (r *RunJobRepository) Requeue(ctx context.Context, id string, errMsg string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE run_jobs
		 SET status = $2, retries = retries + 1, error = $3
		 WHERE id = $1`,
		id, domain.RunJobStatusPending, nullableString(errMsg),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunJobNotFound
	}
	return nil
}

func (r *RunJobRepository) updateStatus(ctx context.Context, id string, status domain.RunJobStatus, errMsg string, processedAt *time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE run_jobs SET status = $2, error = $3, processed_at = $4 WHERE id = $1`,
		id, status, nullableString(errMsg), processedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunJobNotFound
	}
	return nil
}

func scanRunJob(row pgx.Row) (*domain.RunJob, error) {
	var job domain.RunJob
	var errMsg *string
	if err := row.Scan(&job.ID, &job.DocumentID, &job.Status, &job.Retries, &errMsg,
		&job.CreatedAt, &job.ProcessedAt); err != nil {
		return nil, err
	}
	if errMsg != nil {
		job.Error = *errMsg
	}
	return &job, nil
}
