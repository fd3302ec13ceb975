//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethos-works/ethosgraph/internal/domain"
	"github.com/ethos-works/ethosgraph/internal/testutil"
)

func newRunJob(docID string, createdAt time.Time) *domain.RunJob {
	return &domain.RunJob{
		ID:         uuid.NewString(),
		DocumentID: docID,
		Status:     domain.RunJobStatusPending,
		CreatedAt:  createdAt.UTC().Truncate(time.Microsecond),
	}
}

func TestRunJobRepository_ClaimPending(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	jobRepo := NewRunJobRepository(pool)
	doc := setupDocument(ctx, t, docRepo)

	now := time.Now()
	older := newRunJob(doc.ID, now.Add(-time.Minute))
	newer := newRunJob(doc.ID, now)
	require.NoError(t, jobRepo.Create(ctx, newer))
	require.NoError(t, jobRepo.Create(ctx, older))

	// Claims come oldest first and flip the row to processing.
	claimed, err := jobRepo.ClaimPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, older.ID, claimed.ID)
	assert.Equal(t, domain.RunJobStatusProcessing, claimed.Status)

	claimed, err = jobRepo.ClaimPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, claimed.ID)

	_, err = jobRepo.ClaimPending(ctx)
	assert.ErrorIs(t, err, domain.ErrRunJobNotFound)
}

func TestRunJobRepository_MarkCompleted(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	jobRepo := NewRunJobRepository(pool)
	doc := setupDocument(ctx, t, docRepo)

	job := newRunJob(doc.ID, time.Now())
	require.NoError(t, jobRepo.Create(ctx, job))

	processedAt := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, jobRepo.MarkCompleted(ctx, job.ID, processedAt))

	got, err := jobRepo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunJobStatusCompleted, got.Status)
	require.NotNil(t, got.ProcessedAt)
	assert.Equal(t, processedAt, *got.ProcessedAt)
	assert.Empty(t, got.Error)
}

func TestRunJobRepository_MarkFailed(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	jobRepo := NewRunJobRepository(pool)
	doc := setupDocument(ctx, t, docRepo)

	job := newRunJob(doc.ID, time.Now())
	require.NoError(t, jobRepo.Create(ctx, job))

	require.NoError(t, jobRepo.MarkFailed(ctx, job.ID, "giving up after 3 attempts", time.Now().UTC()))

	got, err := jobRepo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunJobStatusFailed, got.Status)
	assert.Equal(t, "giving up after 3 attempts", got.Error)
}

func TestRunJobRepository_Requeue(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	jobRepo := NewRunJobRepository(pool)
	doc := setupDocument(ctx, t, docRepo)

	job := newRunJob(doc.ID, time.Now())
	require.NoError(t, jobRepo.Create(ctx, job))

	claimed, err := jobRepo.ClaimPending(ctx)
	require.NoError(t, err)
	require.NoError(t, jobRepo.Requeue(ctx, claimed.ID, "retry 1: model timeout"))

	got, err := jobRepo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunJobStatusPending, got.Status)
	assert.Equal(t, 1, got.Retries)
	assert.Equal(t, "retry 1: model timeout", got.Error)

	// The requeued job is claimable again.
	claimed, err = jobRepo.ClaimPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, 1, claimed.Retries)
}

func TestRunJobRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	jobRepo := NewRunJobRepository(pool)

	_, err := jobRepo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrRunJobNotFound)

	assert.ErrorIs(t, jobRepo.Requeue(ctx, uuid.NewString(), "x"), domain.ErrRunJobNotFound)
	assert.ErrorIs(t, jobRepo.MarkCompleted(ctx, uuid.NewString(), time.Now()), domain.ErrRunJobNotFound)
}
