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
	"github.com/ethos-works/ethosgraph/internal/pagination"
	"github.com/ethos-works/ethosgraph/internal/service"
	"github.com/ethos-works/ethosgraph/internal/testutil"
)

func setupDocument(ctx context.Context, t *testing.T, docRepo *DocumentRepository) *domain.Document {
	doc := &domain.Document{
		ID:        uuid.NewString(),
		Title:     "Test Case Narrative",
		Body:      "The engineer discovered a conflict of interest during the review.",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, docRepo.Create(ctx, doc))
	return doc
}

func newAnnotation(docID, lineageID string, version int64, stage domain.ApprovalStage, createdAt time.Time) *domain.Annotation {
	return &domain.Annotation{
		ID:            uuid.NewString(),
		LineageID:     lineageID,
		VersionNumber: version,
		DocumentID:    docID,
		TextSegment:   "conflict of interest",
		SpanStart:     26,
		SpanEnd:       46,
		Category:      domain.CategoryState,
		Confidence:    0.9,
		Stage:         stage,
		CreatedAt:     createdAt.UTC().Truncate(time.Microsecond),
	}
}

func TestAnnotationRepository_AppendVersion(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	annRepo := NewAnnotationRepository(pool)
	doc := setupDocument(ctx, t, docRepo)

	lineageID := uuid.NewString()
	now := time.Now()

	first := newAnnotation(doc.ID, lineageID, 1, domain.StageLLMExtracted, now)
	require.NoError(t, annRepo.AppendVersion(ctx, first, 0))

	current, err := annRepo.GetCurrent(ctx, lineageID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)
	assert.Equal(t, int64(1), current.VersionNumber)
	assert.Equal(t, domain.StageLLMExtracted, current.Stage)

	second := newAnnotation(doc.ID, lineageID, 2, domain.StageLLMApproved, now.Add(time.Second))
	require.NoError(t, annRepo.AppendVersion(ctx, second, 1))

	current, err = annRepo.GetCurrent(ctx, lineageID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), current.VersionNumber)
}

func TestAnnotationRepository_AppendVersion_Conflict(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	annRepo := NewAnnotationRepository(pool)
	doc := setupDocument(ctx, t, docRepo)

	lineageID := uuid.NewString()
	now := time.Now()

	require.NoError(t, annRepo.AppendVersion(ctx, newAnnotation(doc.ID, lineageID, 1, domain.StageLLMExtracted, now), 0))
	require.NoError(t, annRepo.AppendVersion(ctx, newAnnotation(doc.ID, lineageID, 2, domain.StageLLMApproved, now), 1))

	// A second appender still expecting version 1 must lose.
	stale := newAnnotation(doc.ID, lineageID, 2, domain.StageRejected, now)
	err := annRepo.AppendVersion(ctx, stale, 1)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	// The losing write left no trace.
	versions, err := annRepo.ListVersions(ctx, lineageID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

// Two appenders can read the same MAX(version_number) before either inserts;
// the loser then trips the unique constraint instead of the guard. That path
// must surface the same conflict error as the guard.
func TestAnnotationRepository_AppendVersion_UniqueViolation(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	annRepo := NewAnnotationRepository(pool)
	doc := setupDocument(ctx, t, docRepo)

	lineageID := uuid.NewString()
	now := time.Now()

	require.NoError(t, annRepo.AppendVersion(ctx, newAnnotation(doc.ID, lineageID, 1, domain.StageLLMExtracted, now), 0))

	// Claiming version 1 again with a matching expectedVersion slips past
	// the MAX guard and lands on the unique constraint, like the loser of a
	// concurrent append would.
	duplicate := newAnnotation(doc.ID, lineageID, 1, domain.StageLLMApproved, now)
	err := annRepo.AppendVersion(ctx, duplicate, 1)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	versions, err := annRepo.ListVersions(ctx, lineageID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestAnnotationRepository_ListVersions(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	annRepo := NewAnnotationRepository(pool)
	doc := setupDocument(ctx, t, docRepo)

	lineageID := uuid.NewString()
	now := time.Now()
	for v, stage := range []domain.ApprovalStage{
		domain.StageLLMExtracted, domain.StageLLMApproved, domain.StageUserApproved,
	} {
		ann := newAnnotation(doc.ID, lineageID, int64(v+1), stage, now.Add(time.Duration(v)*time.Second))
		require.NoError(t, annRepo.AppendVersion(ctx, ann, int64(v)))
	}

	versions, err := annRepo.ListVersions(ctx, lineageID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i, v := range versions {
		assert.Equal(t, int64(i+1), v.VersionNumber)
	}
	assert.Equal(t, domain.StageUserApproved, versions[2].Stage)

	_, err = annRepo.ListVersions(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrAnnotationNotFound)
}

func TestAnnotationRepository_GetVersion(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	annRepo := NewAnnotationRepository(pool)
	doc := setupDocument(ctx, t, docRepo)

	lineageID := uuid.NewString()
	now := time.Now()
	require.NoError(t, annRepo.AppendVersion(ctx, newAnnotation(doc.ID, lineageID, 1, domain.StageLLMExtracted, now), 0))
	require.NoError(t, annRepo.AppendVersion(ctx, newAnnotation(doc.ID, lineageID, 2, domain.StageLLMApproved, now), 1))

	v1, err := annRepo.GetVersion(ctx, lineageID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StageLLMExtracted, v1.Stage)

	_, err = annRepo.GetVersion(ctx, lineageID, 9)
	assert.ErrorIs(t, err, domain.ErrAnnotationNotFound)
}

func TestAnnotationRepository_ListQueue(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	annRepo := NewAnnotationRepository(pool)
	doc := setupDocument(ctx, t, docRepo)

	base := time.Now().Add(-time.Hour)

	// Three lineages: one still extracted, one approved then edited (current
	// version stays llm_approved), one rejected.
	extracted := uuid.NewString()
	require.NoError(t, annRepo.AppendVersion(ctx, newAnnotation(doc.ID, extracted, 1, domain.StageLLMExtracted, base), 0))

	approved := uuid.NewString()
	require.NoError(t, annRepo.AppendVersion(ctx, newAnnotation(doc.ID, approved, 1, domain.StageLLMExtracted, base.Add(time.Minute)), 0))
	require.NoError(t, annRepo.AppendVersion(ctx, newAnnotation(doc.ID, approved, 2, domain.StageLLMApproved, base.Add(2*time.Minute)), 1))

	rejected := uuid.NewString()
	require.NoError(t, annRepo.AppendVersion(ctx, newAnnotation(doc.ID, rejected, 1, domain.StageLLMExtracted, base.Add(3*time.Minute)), 0))
	require.NoError(t, annRepo.AppendVersion(ctx, newAnnotation(doc.ID, rejected, 2, domain.StageRejected, base.Add(4*time.Minute)), 1))

	t.Run("only current versions appear", func(t *testing.T) {
		page, err := annRepo.ListQueue(ctx, service.QueueFilter{}, nil, 10)
		require.NoError(t, err)
		require.Len(t, page.Items, 3)
		assert.False(t, page.HasMore)

		byLineage := map[string]*domain.Annotation{}
		for _, item := range page.Items {
			byLineage[item.LineageID] = item
		}
		assert.Equal(t, domain.StageLLMApproved, byLineage[approved].Stage)
		assert.Equal(t, int64(2), byLineage[approved].VersionNumber)
	})

	t.Run("stage filter", func(t *testing.T) {
		page, err := annRepo.ListQueue(ctx, service.QueueFilter{Stage: domain.StageLLMExtracted}, nil, 10)
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, extracted, page.Items[0].LineageID)
	})

	t.Run("document filter", func(t *testing.T) {
		page, err := annRepo.ListQueue(ctx, service.QueueFilter{DocumentID: uuid.NewString()}, nil, 10)
		require.NoError(t, err)
		assert.Empty(t, page.Items)
	})

	t.Run("cursor pagination walks the full queue", func(t *testing.T) {
		page, err := annRepo.ListQueue(ctx, service.QueueFilter{}, nil, 2)
		require.NoError(t, err)
		require.Len(t, page.Items, 2)
		require.True(t, page.HasMore)
		require.NotEmpty(t, page.NextCursor)

		cursor, err := pagination.DecodeCursor(page.NextCursor)
		require.NoError(t, err)

		rest, err := annRepo.ListQueue(ctx, service.QueueFilter{}, cursor, 2)
		require.NoError(t, err)
		require.Len(t, rest.Items, 1)
		assert.False(t, rest.HasMore)
		assert.Empty(t, rest.NextCursor)

		seen := map[string]bool{}
		for _, item := range append(page.Items, rest.Items...) {
			seen[item.LineageID] = true
		}
		assert.Len(t, seen, 3)
	})
}
