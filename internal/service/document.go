package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ethos-works/ethosgraph/internal/domain"
	"github.com/ethos-works/ethosgraph/internal/telemetry"
)

// DocumentRepositoryInterface defines the repository interface for case
// narrative persistence.
type DocumentRepositoryInterface interface {
	Create(ctx context.Context, d *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context) ([]*domain.Document, error)
}

// RunJobRepositoryInterface defines the repository interface for extraction
// run jobs.
type RunJobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.RunJob) error
	GetByID(ctx context.Context, id string) (*domain.RunJob, error)
}

// StorageClientInterface archives raw narrative bodies in object storage.
type StorageClientInterface interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// DocumentService handles ingestion and retrieval of case narratives.
type DocumentService struct {
	documentRepo DocumentRepositoryInterface
	runJobRepo   RunJobRepositoryInterface
	storage      StorageClientInterface
	uuidGen      UUIDGenerator
}

func NewDocumentService(documentRepo DocumentRepositoryInterface, runJobRepo RunJobRepositoryInterface, storage StorageClientInterface) *DocumentService {
	return &DocumentService{
		documentRepo: documentRepo,
		runJobRepo:   runJobRepo,
		storage:      storage,
		uuidGen:      &DefaultUUIDGenerator{},
	}
}

func NewDocumentServiceWithUUIDGen(documentRepo DocumentRepositoryInterface, runJobRepo RunJobRepositoryInterface, storage StorageClientInterface, uuidGen UUIDGenerator) *DocumentService {
	return &DocumentService{
		documentRepo: documentRepo,
		runJobRepo:   runJobRepo,
		storage:      storage,
		uuidGen:      uuidGen,
	}
}

// IngestInput represents the input for ingesting a case narrative.
type IngestInput struct {
	Title string
	Body  string
}

// Ingest stores a new case narrative. When object storage is configured the
// raw body is archived alongside the database row.
func (s *DocumentService) Ingest(ctx context.Context, input IngestInput) (*domain.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "DocumentService.Ingest", telemetry.SpanAttributes{
		Operation: "ingest",
	})
	defer span.End()

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:        s.uuidGen.NewString(),
		Title:     input.Title,
		Body:      input.Body,
		CreatedAt: now,
	}
	if err := domain.ValidateDocument(doc); err != nil {
		return nil, err
	}

	if s.storage != nil {
		key := fmt.Sprintf("documents/%s.txt", doc.ID)
		if err := s.storage.PutObject(ctx, key, []byte(input.Body), "text/plain; charset=utf-8"); err != nil {
			return nil, fmt.Errorf("failed to archive document body: %w", err)
		}
		doc.StorageKey = key
	}

	if err := s.documentRepo.Create(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// GetByID retrieves a case narrative by ID.
func (s *DocumentService) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "DocumentService.GetByID", telemetry.SpanAttributes{
		DocumentID: id,
		Operation:  "get",
	})
	defer span.End()

	return s.documentRepo.GetByID(ctx, id)
}

// List retrieves all case narratives.
func (s *DocumentService) List(ctx context.Context) ([]*domain.Document, error) {
	return s.documentRepo.List(ctx)
}

// QueueRun enqueues a background extraction run for the document and returns
// the created job. Workers pick it up from the run job table.
func (s *DocumentService) QueueRun(ctx context.Context, documentID string) (*domain.RunJob, error) {
	ctx, span := telemetry.StartSpan(ctx, "DocumentService.QueueRun", telemetry.SpanAttributes{
		DocumentID: documentID,
		Operation:  "queue_run",
	})
	defer span.End()

	if _, err := s.documentRepo.GetByID(ctx, documentID); err != nil {
		return nil, err
	}

	job := &domain.RunJob{
		ID:         s.uuidGen.NewString(),
		DocumentID: documentID,
		Status:     domain.RunJobStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.runJobRepo.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// GetRunJob retrieves a queued or finished extraction run job.
func (s *DocumentService) GetRunJob(ctx context.Context, id string) (*domain.RunJob, error) {
	return s.runJobRepo.GetByID(ctx, id)
}
