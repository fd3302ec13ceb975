package service

import (
	"context"
	"time"

	"github.com/ethos-works/ethosgraph/internal/domain"
	"github.com/ethos-works/ethosgraph/internal/pagination"
	"github.com/ethos-works/ethosgraph/internal/telemetry"
)

// QueueFilter narrows the review queue listing. Zero values mean no filter.
type QueueFilter struct {
	Stage      domain.ApprovalStage
	Category   domain.ConceptCategory
	DocumentID string
}

type AnnotationPageResult struct {
	Items      []*domain.Annotation
	NextCursor string
	HasMore    bool
}

// AnnotationRepositoryInterface defines the repository interface for the
// append-only annotation version store.
type AnnotationRepositoryInterface interface {
	AppendVersion(ctx context.Context, a *domain.Annotation, expectedVersion int64) error
	GetCurrent(ctx context.Context, lineageID string) (*domain.Annotation, error)
	GetVersion(ctx context.Context, lineageID string, version int64) (*domain.Annotation, error)
	ListVersions(ctx context.Context, lineageID string) ([]*domain.Annotation, error)
	ListQueue(ctx context.Context, filter QueueFilter, cursor *pagination.Cursor, limit int) (*AnnotationPageResult, error)
}

// AnnotationService drives the review state machine over annotation
// lineages. Every mutation appends a new immutable version guarded by the
// caller's expected_version; a stale expectation surfaces as a conflict
// without writing anything.
type AnnotationService struct {
	annotationRepo AnnotationRepositoryInterface
	uuidGen        UUIDGenerator
}

func NewAnnotationService(annotationRepo AnnotationRepositoryInterface) *AnnotationService {
	return &AnnotationService{
		annotationRepo: annotationRepo,
		uuidGen:        &DefaultUUIDGenerator{},
	}
}

func NewAnnotationServiceWithUUIDGen(annotationRepo AnnotationRepositoryInterface, uuidGen UUIDGenerator) *AnnotationService {
	return &AnnotationService{
		annotationRepo: annotationRepo,
		uuidGen:        uuidGen,
	}
}

// EditInput carries the editable fields of an annotation version. Nil
// pointers keep the current value.
type EditInput struct {
	TextSegment *string
	SpanStart   *int
	SpanEnd     *int
	Category    *domain.ConceptCategory
	ConceptURI  *string
	Confidence  *float64
	Reasoning   *string
}

// Approve advances the lineage one stage (llm_extracted → llm_approved,
// llm_approved → user_approved).
func (s *AnnotationService) Approve(ctx context.Context, lineageID string, expectedVersion int64, actor string) (*domain.Annotation, error) {
	ctx, span := telemetry.StartSpan(ctx, "AnnotationService.Approve", telemetry.SpanAttributes{
		LineageID: lineageID,
		Operation: "approve",
	})
	defer span.End()

	current, err := s.annotationRepo.GetCurrent(ctx, lineageID)
	if err != nil {
		return nil, err
	}
	next, err := domain.NextStage(current.Stage)
	if err != nil {
		return nil, err
	}
	return s.append(ctx, current, expectedVersion, next, actor, EditInput{})
}

// Reject moves the lineage into the rejected terminal stage. Rejected
// lineages stay in the store permanently; reviewers can reopen them.
func (s *AnnotationService) Reject(ctx context.Context, lineageID string, expectedVersion int64, actor, reason string) (*domain.Annotation, error) {
	ctx, span := telemetry.StartSpan(ctx, "AnnotationService.Reject", telemetry.SpanAttributes{
		LineageID: lineageID,
		Operation: "reject",
	})
	defer span.End()

	current, err := s.annotationRepo.GetCurrent(ctx, lineageID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(current.Stage, domain.StageRejected) {
		return nil, domain.ErrTerminalStage
	}
	edit := EditInput{}
	if reason != "" {
		edit.Reasoning = &reason
	}
	return s.append(ctx, current, expectedVersion, domain.StageRejected, actor, edit)
}

// Edit appends a new version with modified fields, keeping the current
// stage. The category is fixed when the lineage is created; changing it
// here would detach the lineage from the pass that produced it, so only
// Reopen accepts a new category. Editing a terminal lineage requires
// Reopen instead.
func (s *AnnotationService) Edit(ctx context.Context, lineageID string, expectedVersion int64, actor string, edit EditInput) (*domain.Annotation, error) {
	ctx, span := telemetry.StartSpan(ctx, "AnnotationService.Edit", telemetry.SpanAttributes{
		LineageID: lineageID,
		Operation: "edit",
	})
	defer span.End()

	if edit.Category != nil {
		return nil, domain.NewDomainError(domain.ErrCodeValidation,
			"category cannot be changed after creation; reopen the lineage to recategorize")
	}

	current, err := s.annotationRepo.GetCurrent(ctx, lineageID)
	if err != nil {
		return nil, err
	}
	if domain.IsTerminalStage(current.Stage) {
		return nil, domain.ErrTerminalStage
	}
	return s.append(ctx, current, expectedVersion, current.Stage, actor, edit)
}

// Reopen takes a terminal lineage back to llm_extracted, optionally with
// edited fields, so review can start over.
func (s *AnnotationService) Reopen(ctx context.Context, lineageID string, expectedVersion int64, actor string, edit EditInput) (*domain.Annotation, error) {
	ctx, span := telemetry.StartSpan(ctx, "AnnotationService.Reopen", telemetry.SpanAttributes{
		LineageID: lineageID,
		Operation: "reopen",
	})
	defer span.End()

	current, err := s.annotationRepo.GetCurrent(ctx, lineageID)
	if err != nil {
		return nil, err
	}
	if !domain.IsTerminalStage(current.Stage) {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidOperation,
			"only terminal lineages can be reopened")
	}
	return s.append(ctx, current, expectedVersion, domain.StageLLMExtracted, actor, edit)
}

// GetCurrent returns the latest version of a lineage.
func (s *AnnotationService) GetCurrent(ctx context.Context, lineageID string) (*domain.Annotation, error) {
	return s.annotationRepo.GetCurrent(ctx, lineageID)
}

// Versions returns the full audit chain of a lineage, oldest first.
func (s *AnnotationService) Versions(ctx context.Context, lineageID string) ([]*domain.Annotation, error) {
	ctx, span := telemetry.StartSpan(ctx, "AnnotationService.Versions", telemetry.SpanAttributes{
		LineageID: lineageID,
		Operation: "versions",
	})
	defer span.End()

	return s.annotationRepo.ListVersions(ctx, lineageID)
}

type QueueInput struct {
	Filter QueueFilter
	Cursor string
	Limit  int
}

// Queue lists the current version of each lineage matching the filter.
func (s *AnnotationService) Queue(ctx context.Context, input QueueInput) (*AnnotationPageResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "AnnotationService.Queue", telemetry.SpanAttributes{
		DocumentID: input.Filter.DocumentID,
		Category:   string(input.Filter.Category),
		Operation:  "queue",
	})
	defer span.End()

	if input.Filter.Stage != "" && !domain.IsValidStage(input.Filter.Stage) {
		return nil, domain.NewDomainError(domain.ErrCodeValidation,
			"invalid approval stage filter: "+string(input.Filter.Stage))
	}
	if input.Filter.Category != "" && !domain.IsValidCategory(input.Filter.Category) {
		return nil, domain.NewDomainError(domain.ErrCodeValidation,
			"invalid category filter: "+string(input.Filter.Category))
	}

	cursor, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "invalid pagination cursor")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	return s.annotationRepo.ListQueue(ctx, input.Filter, cursor, limit)
}

func (s *AnnotationService) append(ctx context.Context, current *domain.Annotation, expectedVersion int64, stage domain.ApprovalStage, actor string, edit EditInput) (*domain.Annotation, error) {
	next := *current
	next.ID = s.uuidGen.NewString()
	next.VersionNumber = expectedVersion + 1
	next.Stage = stage
	next.Actor = actor
	next.CreatedAt = time.Now().UTC()

	if edit.TextSegment != nil {
		next.TextSegment = *edit.TextSegment
	}
	if edit.SpanStart != nil {
		next.SpanStart = *edit.SpanStart
	}
	if edit.SpanEnd != nil {
		next.SpanEnd = *edit.SpanEnd
	}
	if edit.Category != nil {
		next.Category = *edit.Category
	}
	if edit.ConceptURI != nil {
		next.ConceptURI = *edit.ConceptURI
	}
	if edit.Confidence != nil {
		next.Confidence = *edit.Confidence
	}
	if edit.Reasoning != nil {
		next.Reasoning = *edit.Reasoning
	}

	if err := domain.ValidateAnnotation(&next); err != nil {
		return nil, err
	}
	if err := s.annotationRepo.AppendVersion(ctx, &next, expectedVersion); err != nil {
		return nil, err
	}
	return &next, nil
}
