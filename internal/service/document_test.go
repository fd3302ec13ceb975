package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethos-works/ethosgraph/internal/domain"
)

// MockRunJobRepository is a mock implementation of RunJobRepositoryInterface
type MockRunJobRepository struct {
	mock.Mock
}

func (m *MockRunJobRepository) Create(ctx context.Context, job *domain.RunJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockRunJobRepository) GetByID(ctx context.Context, id string) (*domain.RunJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RunJob), args.Error(1)
}

// MockStorageClient is a mock implementation of StorageClientInterface
type MockStorageClient struct {
	mock.Mock
}

func (m *MockStorageClient) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	args := m.Called(ctx, key, body, contentType)
	return args.Error(0)
}

func (m *MockStorageClient) GetObject(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func TestDocumentService_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("stores a narrative without object storage", func(t *testing.T) {
		docRepo := new(MockDocumentRepository)
		docRepo.On("Create", mock.Anything, mock.MatchedBy(func(d *domain.Document) bool {
			return d.ID == "doc-1" && d.Title == "Case 24-7" && d.Body == "The engineer reported." && d.StorageKey == ""
		})).Return(nil)

		svc := NewDocumentServiceWithUUIDGen(docRepo, new(MockRunJobRepository), nil, NewMockUUIDGenerator("doc-1"))
		doc, err := svc.Ingest(ctx, IngestInput{Title: "Case 24-7", Body: "The engineer reported."})
		require.NoError(t, err)
		assert.Equal(t, "doc-1", doc.ID)
		assert.False(t, doc.CreatedAt.IsZero())
		docRepo.AssertExpectations(t)
	})

	t.Run("archives the raw body when storage is configured", func(t *testing.T) {
		docRepo := new(MockDocumentRepository)
		storage := new(MockStorageClient)
		storage.On("PutObject", mock.Anything, "documents/doc-1.txt", []byte("body text"), "text/plain; charset=utf-8").
			Return(nil)
		docRepo.On("Create", mock.Anything, mock.MatchedBy(func(d *domain.Document) bool {
			return d.StorageKey == "documents/doc-1.txt"
		})).Return(nil)

		svc := NewDocumentServiceWithUUIDGen(docRepo, new(MockRunJobRepository), storage, NewMockUUIDGenerator("doc-1"))
		doc, err := svc.Ingest(ctx, IngestInput{Title: "Case", Body: "body text"})
		require.NoError(t, err)
		assert.Equal(t, "documents/doc-1.txt", doc.StorageKey)
		storage.AssertExpectations(t)
	})

	t.Run("storage failure aborts ingestion", func(t *testing.T) {
		docRepo := new(MockDocumentRepository)
		storage := new(MockStorageClient)
		storage.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(assert.AnError)

		svc := NewDocumentService(docRepo, new(MockRunJobRepository), storage)
		_, err := svc.Ingest(ctx, IngestInput{Title: "Case", Body: "body text"})
		require.Error(t, err)
		docRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("rejects an empty narrative", func(t *testing.T) {
		svc := NewDocumentService(new(MockDocumentRepository), new(MockRunJobRepository), nil)
		_, err := svc.Ingest(ctx, IngestInput{Title: "Case"})
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))
	})
}

func TestDocumentService_QueueRun(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a pending job for an existing document", func(t *testing.T) {
		docRepo := new(MockDocumentRepository)
		docRepo.On("GetByID", mock.Anything, "doc-1").
			Return(&domain.Document{ID: "doc-1", Title: "Case", Body: "text"}, nil)

		jobRepo := new(MockRunJobRepository)
		jobRepo.On("Create", mock.Anything, mock.MatchedBy(func(job *domain.RunJob) bool {
			return job.ID == "job-1" &&
				job.DocumentID == "doc-1" &&
				job.Status == domain.RunJobStatusPending
		})).Return(nil)

		svc := NewDocumentServiceWithUUIDGen(docRepo, jobRepo, nil, NewMockUUIDGenerator("job-1"))
		job, err := svc.QueueRun(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, domain.RunJobStatusPending, job.Status)
		jobRepo.AssertExpectations(t)
	})

	t.Run("refuses to queue a run for an unknown document", func(t *testing.T) {
		docRepo := new(MockDocumentRepository)
		docRepo.On("GetByID", mock.Anything, "missing").
			Return(nil, domain.ErrDocumentNotFound)

		jobRepo := new(MockRunJobRepository)
		svc := NewDocumentService(docRepo, jobRepo, nil)
		_, err := svc.QueueRun(ctx, "missing")
		assert.True(t, domain.IsNotFound(err))
		jobRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}
