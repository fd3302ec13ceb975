package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethos-works/ethosgraph/internal/domain"
	"github.com/ethos-works/ethosgraph/internal/telemetry"
)

// CommitRecordRepositoryInterface defines the repository interface for
// commit bookkeeping.
type CommitRecordRepositoryInterface interface {
	Upsert(ctx context.Context, rec *domain.CommitRecord) error
	GetByLineage(ctx context.Context, lineageID string) (*domain.CommitRecord, error)
	List(ctx context.Context) ([]*domain.CommitRecord, error)
	MarkMissing(ctx context.Context, lineageID string, missing bool) error
}

// EntityCacheInterface is the slice of the local ontology cache the commit
// and refresh flows touch.
type EntityCacheInterface interface {
	UpsertEntity(ctx context.Context, e *domain.OntologyEntity, syncedAt time.Time) error
	GetByURI(ctx context.Context, uri string) (*domain.CachedEntity, error)
	MarkMissing(ctx context.Context, uri string, missing bool) error
}

// OntologyStoreInterface covers the external store operations used when
// committing and refreshing. Mutations are never auto-retried.
type OntologyStoreInterface interface {
	GetEntity(ctx context.Context, uri string) (*domain.OntologyEntity, error)
	CreateEntity(ctx context.Context, e *domain.OntologyEntity) error
	UpdateEntity(ctx context.Context, e *domain.OntologyEntity) error
}

// CommitService pushes user-approved annotations into the external ontology
// store and keeps the local cache synchronized with it.
type CommitService struct {
	annotationRepo AnnotationRepositoryInterface
	commitRepo     CommitRecordRepositoryInterface
	entityCache    EntityCacheInterface
	store          OntologyStoreInterface
	baseURI        string
	uuidGen        UUIDGenerator
}

func NewCommitService(
	annotationRepo AnnotationRepositoryInterface,
	commitRepo CommitRecordRepositoryInterface,
	entityCache EntityCacheInterface,
	store OntologyStoreInterface,
	baseURI string,
) *CommitService {
	return &CommitService{
		annotationRepo: annotationRepo,
		commitRepo:     commitRepo,
		entityCache:    entityCache,
		store:          store,
		baseURI:        strings.TrimRight(baseURI, "/"),
		uuidGen:        &DefaultUUIDGenerator{},
	}
}

// CommitInput controls how a lineage is committed. Kind is optional: when
// empty the kind is derived from the annotation (a matched concept URI makes
// the commit an individual under that concept, otherwise a new class
// proposal under the category root).
type CommitInput struct {
	LineageID string
	Kind      domain.EntityKind
}

// Commit persists the lineage's concept to the external store. The first
// commit creates the entity; recommitting with an unchanged content hash is
// a no-op; a changed hash updates the external entity. Only user-approved
// lineages are committable.
func (s *CommitService) Commit(ctx context.Context, input CommitInput) (*domain.CommitRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "CommitService.Commit", telemetry.SpanAttributes{
		LineageID: input.LineageID,
		Operation: "commit",
	})
	defer span.End()

	current, err := s.annotationRepo.GetCurrent(ctx, input.LineageID)
	if err != nil {
		return nil, err
	}
	if current.Stage != domain.StageUserApproved {
		return nil, domain.ErrNotApproved
	}

	entity, err := s.buildEntity(current, input.Kind)
	if err != nil {
		return nil, err
	}
	hash := domain.EntityContentHash(entity)

	existing, err := s.commitRepo.GetByLineage(ctx, input.LineageID)
	switch {
	case err == nil:
		if existing.LastKnownHash == hash {
			return existing, nil
		}
		entity.URI = existing.ExternalURI
		entity.Kind = existing.Kind
		hash = domain.EntityContentHash(entity)
		if existing.LastKnownHash == hash {
			return existing, nil
		}
		if err := s.store.UpdateEntity(ctx, entity); err != nil {
			return nil, err
		}
	case err == domain.ErrCommitRecordNotFound:
		if err := s.store.CreateEntity(ctx, entity); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	now := time.Now().UTC()
	rec := &domain.CommitRecord{
		LineageID:     input.LineageID,
		ExternalURI:   entity.URI,
		Kind:          entity.Kind,
		LastSyncedAt:  now,
		LastKnownHash: hash,
	}
	if err := s.commitRepo.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.entityCache.UpsertEntity(ctx, entity, now); err != nil {
		return nil, err
	}
	return rec, nil
}

// Refresh walks every commit record, compares the upstream entity against
// the last known content hash, updates the local cache on drift, and flags
// entities that vanished upstream. Nothing is ever deleted locally.
func (s *CommitService) Refresh(ctx context.Context) (*domain.SyncReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "CommitService.Refresh", telemetry.SpanAttributes{
		Operation: "refresh",
	})
	defer span.End()

	records, err := s.commitRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &domain.SyncReport{}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Checked++

		upstream, err := s.store.GetEntity(ctx, rec.ExternalURI)
		if err == domain.ErrEntityNotFound {
			report.Missing++
			if err := s.commitRepo.MarkMissing(ctx, rec.LineageID, true); err != nil {
				return nil, err
			}
			if err := s.entityCache.MarkMissing(ctx, rec.ExternalURI, true); err != nil && err != domain.ErrEntityNotFound {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		hash := domain.EntityContentHash(upstream)
		if hash == rec.LastKnownHash && !rec.MissingUpstream {
			report.Unchanged++
			continue
		}

		now := time.Now().UTC()
		if hash != rec.LastKnownHash {
			report.Modified++
			report.Drifted = append(report.Drifted, rec.ExternalURI)

			// Field-level diff against the cache before it moves.
			cached, err := s.entityCache.GetByURI(ctx, rec.ExternalURI)
			switch {
			case err == nil:
				report.DriftedFields = append(report.DriftedFields, domain.DiffEntities(&cached.OntologyEntity, upstream))
			case err == domain.ErrEntityNotFound:
				// No local baseline; the hash mismatch alone reports the drift.
			default:
				return nil, err
			}

			if err := s.entityCache.UpsertEntity(ctx, upstream, now); err != nil {
				return nil, err
			}
		} else {
			report.Unchanged++
		}

		rec.LastKnownHash = hash
		rec.LastSyncedAt = now
		rec.MissingUpstream = false
		if err := s.commitRepo.Upsert(ctx, rec); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// buildEntity maps the approved annotation onto an ontology entity. New
// classes hang under the category root; individuals hang under the concept
// they were matched to.
func (s *CommitService) buildEntity(a *domain.Annotation, kind domain.EntityKind) (*domain.OntologyEntity, error) {
	profile, ok := domain.ProfileFor(a.Category)
	if !ok {
		return nil, domain.NewDomainError(domain.ErrCodeValidation,
			fmt.Sprintf("unrecognized concept category: %s", a.Category))
	}

	if kind == "" {
		if a.ConceptURI != "" {
			kind = domain.EntityKindIndividual
		} else {
			kind = domain.EntityKindClass
		}
	}
	if !domain.IsValidEntityKind(kind) {
		return nil, domain.NewDomainError(domain.ErrCodeValidation,
			fmt.Sprintf("invalid entity kind: %s", kind))
	}

	parent := a.ConceptURI
	if parent == "" {
		parent = fmt.Sprintf("%s/%s", s.baseURI, profile.RootFragment)
	}

	return &domain.OntologyEntity{
		URI:        fmt.Sprintf("%s/%s/%s", s.baseURI, profile.RootFragment, s.uuidGen.NewString()),
		Label:      a.TextSegment,
		ParentURI:  parent,
		Kind:       kind,
		Category:   a.Category,
		Definition: a.Reasoning,
	}, nil
}
