package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ethos-works/ethosgraph/internal/domain"
	"github.com/ethos-works/ethosgraph/internal/service"
)

const (
	// MaxRetries is the maximum number of attempts for a failed run job
	MaxRetries = 3
)

// RunJobRepository defines the interface for run job persistence
type RunJobRepository interface {
	// ClaimPending claims the oldest pending run job
	ClaimPending(ctx context.Context) (*domain.RunJob, error)

	// MarkCompleted marks a run job as completed
	MarkCompleted(ctx context.Context, id string, processedAt time.Time) error

	// MarkFailed marks a run job as permanently failed
	MarkFailed(ctx context.Context, id string, errMsg string, processedAt time.Time) error

	// Requeue puts a failed attempt back into pending with retries bumped
	Requeue(ctx context.Context, id string, errMsg string) error
}

// PipelineRunner executes the extraction pipeline for one document
type PipelineRunner interface {
	Run(ctx context.Context, documentID string) (*service.RunReport, error)
}

// PipelineWorker drains queued extraction run jobs
type PipelineWorker struct {
	repo   RunJobRepository
	runner PipelineRunner
}

// NewPipelineWorker creates a new PipelineWorker instance
func NewPipelineWorker(repo RunJobRepository, runner PipelineRunner) *PipelineWorker {
	return &PipelineWorker{
		repo:   repo,
		runner: runner,
	}
}

// ProcessJobs implements the JobProcessor interface. It drains claimed jobs
// one at a time until the queue is empty or the context is cancelled.
func (w *PipelineWorker) ProcessJobs(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, err := w.repo.ClaimPending(ctx)
		if err == domain.ErrRunJobNotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to claim pending run job: %w", err)
		}

		if err := w.processJob(ctx, job); err != nil {
			log.Printf("Error processing run job %s: %v", job.ID, err)
		}
	}
}

func (w *PipelineWorker) processJob(ctx context.Context, job *domain.RunJob) error {
	log.Printf("Processing run job %s for document %s", job.ID, job.DocumentID)

	report, err := w.runner.Run(ctx, job.DocumentID)
	if err != nil {
		return w.handleJobFailure(ctx, job, err)
	}

	if err := w.repo.MarkCompleted(ctx, job.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark run job completed: %w", err)
	}

	log.Printf("Run job %s completed: %d candidates, %d annotations (skipped %d)",
		job.ID, report.Candidates, report.Annotations, report.Skipped)
	return nil
}

// handleJobFailure requeues transient failures until MaxRetries is reached;
// validation failures and exhausted retries fail the job permanently.
func (w *PipelineWorker) handleJobFailure(ctx context.Context, job *domain.RunJob, jobErr error) error {
	log.Printf("Run job %s failed: %v", job.ID, jobErr)

	retryable := domain.IsTransient(jobErr) && job.Retries+1 < MaxRetries
	if !retryable {
		errMsg := fmt.Sprintf("giving up after %d attempts: %v", job.Retries+1, jobErr)
		if err := w.repo.MarkFailed(ctx, job.ID, errMsg, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to mark run job failed: %w", err)
		}
		return nil
	}

	log.Printf("Run job %s will be retried (attempt %d/%d)", job.ID, job.Retries+1, MaxRetries)
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.repo.Requeue(ctx, job.ID, errMsg); err != nil {
		return fmt.Errorf("failed to requeue run job: %w", err)
	}
	return nil
}
