package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethos-works/ethosgraph/internal/domain"
	"github.com/ethos-works/ethosgraph/internal/extract"
	"github.com/ethos-works/ethosgraph/internal/match"
	"github.com/ethos-works/ethosgraph/internal/telemetry"
)

// CandidateRepositoryInterface defines the repository interface for raw
// extraction candidates.
type CandidateRepositoryInterface interface {
	CreateBatch(ctx context.Context, cands []domain.ConceptCandidate) error
	ListByDocument(ctx context.Context, documentID string) ([]*domain.ConceptCandidate, error)
	ListLabelsByDocumentAndPass(ctx context.Context, documentID string, before domain.Pass) ([]string, error)
}

// ExtractorInterface runs one per-category extraction call.
type ExtractorInterface interface {
	Extract(ctx context.Context, in extract.Input) (*extract.Result, error)
}

// SplitterInterface decomposes compound candidates into atomic ones.
type SplitterInterface interface {
	SplitAll(ctx context.Context, cands []domain.ConceptCandidate) ([]domain.ConceptCandidate, error)
}

// MatcherInterface classifies atomic candidates against the ontology cache.
type MatcherInterface interface {
	SyncHierarchy(ctx context.Context, category domain.ConceptCategory) error
	Match(ctx context.Context, cand domain.ConceptCandidate) (*match.Result, error)
}

const defaultCategoryConcurrency = 3

// PipelineService runs the full extraction pipeline for one document:
// three strictly ordered passes of per-category extraction, compound
// splitting, ontology matching, and annotation creation.
type PipelineService struct {
	documentRepo   DocumentRepositoryInterface
	candidateRepo  CandidateRepositoryInterface
	annotationRepo AnnotationRepositoryInterface
	extractor      ExtractorInterface
	splitter       SplitterInterface
	matcher        MatcherInterface
	uuidGen        UUIDGenerator
	txRunner       TxRunner
	concurrency    int
}

func NewPipelineService(
	documentRepo DocumentRepositoryInterface,
	candidateRepo CandidateRepositoryInterface,
	annotationRepo AnnotationRepositoryInterface,
	extractor ExtractorInterface,
	splitter SplitterInterface,
	matcher MatcherInterface,
) *PipelineService {
	return &PipelineService{
		documentRepo:   documentRepo,
		candidateRepo:  candidateRepo,
		annotationRepo: annotationRepo,
		extractor:      extractor,
		splitter:       splitter,
		matcher:        matcher,
		uuidGen:        &DefaultUUIDGenerator{},
		concurrency:    defaultCategoryConcurrency,
	}
}

// SetConcurrency bounds the number of categories extracted in parallel
// within a pass.
func (s *PipelineService) SetConcurrency(n int) {
	if n > 0 {
		s.concurrency = n
	}
}

// SetTxRunner makes each pass's candidate and annotation writes commit in a
// single transaction, so a run cancelled mid-pass leaves nothing behind.
func (s *PipelineService) SetTxRunner(runner TxRunner) {
	s.txRunner = runner
}

// RunReport summarizes one pipeline run.
type RunReport struct {
	DocumentID       string   `json:"document_id"`
	Candidates       int      `json:"candidates"`
	Annotations      int      `json:"annotations"`
	Skipped          int      `json:"skipped"`
	LowContext       bool     `json:"low_context"`
	FailedCategories []string `json:"failed_categories,omitempty"`
}

type categoryResult struct {
	category   domain.ConceptCategory
	candidates []domain.ConceptCandidate
	skipped    int
	lowContext bool
	err        error
}

// Run executes the full pipeline for the document. Passes run strictly in
// order; a later pass starts only after the previous one finished. A single
// failing category is isolated and reported, but a pass in which every
// category fails ends the run with a hard error and zero writes for that
// pass.
func (s *PipelineService) Run(ctx context.Context, documentID string) (*RunReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "PipelineService.Run", telemetry.SpanAttributes{
		DocumentID: documentID,
		Operation:  "pipeline_run",
	})
	defer span.End()

	doc, err := s.documentRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	report := &RunReport{DocumentID: documentID}

	for _, pass := range domain.Passes() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		prior, err := s.candidateRepo.ListLabelsByDocumentAndPass(ctx, documentID, pass)
		if err != nil {
			return nil, err
		}

		results := s.runPass(ctx, doc, pass, prior)

		failed := 0
		var passCandidates []domain.ConceptCandidate
		for _, res := range results {
			if res.err != nil {
				log.Printf("pipeline: pass %d category %s failed for document %s: %v",
					pass, res.category, documentID, res.err)
				report.FailedCategories = append(report.FailedCategories, string(res.category))
				failed++
				continue
			}
			passCandidates = append(passCandidates, res.candidates...)
			report.Skipped += res.skipped
			if res.lowContext {
				report.LowContext = true
			}
		}
		if failed == len(results) {
			return nil, domain.NewTransientError(
				fmt.Sprintf("all categories failed in pass %d for document %s", pass, documentID),
				results[0].err)
		}

		// Persist the pass only once the whole pass settled, so cancellation
		// mid-pass leaves no partial writes.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range passCandidates {
			if passCandidates[i].ID == "" {
				passCandidates[i].ID = s.uuidGen.NewString()
			}
		}

		var annotated int
		if s.txRunner != nil {
			err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
				annotated, err = s.persistPass(ctx, doc, passCandidates, repos.Candidates(), repos.Annotations())
				return err
			})
		} else {
			annotated, err = s.persistPass(ctx, doc, passCandidates, s.candidateRepo, s.annotationRepo)
		}
		if err != nil {
			return nil, err
		}
		report.Candidates += len(passCandidates)
		report.Annotations += annotated
	}

	return report, nil
}

// ExtractSlice runs a single slice of the pipeline: one category, or every
// category of one pass. Candidates are persisted and returned, but no
// annotations are created; the slice feeds ad-hoc inspection rather than the
// review queue. When both pass and category are given they must agree.
func (s *PipelineService) ExtractSlice(ctx context.Context, documentID string, pass domain.Pass, category domain.ConceptCategory) ([]domain.ConceptCandidate, error) {
	ctx, span := telemetry.StartSpan(ctx, "PipelineService.ExtractSlice", telemetry.SpanAttributes{
		DocumentID: documentID,
		Operation:  "extract_slice",
	})
	defer span.End()

	if category != "" {
		if !domain.IsValidCategory(category) {
			return nil, domain.NewDomainError(domain.ErrCodeValidation,
				fmt.Sprintf("unrecognized concept category: %s", category))
		}
		if pass != 0 && pass != domain.PassFor(category) {
			return nil, domain.NewDomainError(domain.ErrCodeValidation,
				fmt.Sprintf("category %s belongs to pass %d, not %d", category, domain.PassFor(category), pass))
		}
		pass = domain.PassFor(category)
	}
	if !domain.IsValidPass(pass) {
		return nil, domain.NewDomainError(domain.ErrCodeValidation,
			fmt.Sprintf("invalid extraction pass: %d", pass))
	}

	doc, err := s.documentRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	prior, err := s.candidateRepo.ListLabelsByDocumentAndPass(ctx, documentID, pass)
	if err != nil {
		return nil, err
	}

	var results []categoryResult
	if category != "" {
		results = []categoryResult{s.runCategory(ctx, doc, category, prior)}
	} else {
		results = s.runPass(ctx, doc, pass, prior)
	}

	var candidates []domain.ConceptCandidate
	for _, res := range results {
		if res.err != nil {
			return nil, res.err
		}
		candidates = append(candidates, res.candidates...)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i := range candidates {
		if candidates[i].ID == "" {
			candidates[i].ID = s.uuidGen.NewString()
		}
	}
	if err := s.candidateRepo.CreateBatch(ctx, candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

// runPass extracts and splits every category of the pass, at most
// s.concurrency categories in flight at a time.
func (s *PipelineService) runPass(ctx context.Context, doc *domain.Document, pass domain.Pass, prior []string) []categoryResult {
	categories := domain.CategoriesForPass(pass)
	results := make([]categoryResult, len(categories))

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for i, category := range categories {
		wg.Add(1)
		go func(i int, category domain.ConceptCategory) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = s.runCategory(ctx, doc, category, prior)
		}(i, category)
	}
	wg.Wait()
	return results
}

func (s *PipelineService) runCategory(ctx context.Context, doc *domain.Document, category domain.ConceptCategory, prior []string) categoryResult {
	res := categoryResult{category: category}
	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}

	extracted, err := s.extractor.Extract(ctx, extract.Input{
		Document:      doc,
		Category:      category,
		PriorEntities: prior,
	})
	if err != nil {
		res.err = err
		return res
	}

	atoms, err := s.splitter.SplitAll(ctx, extracted.Candidates)
	if err != nil {
		res.err = err
		return res
	}

	res.candidates = atoms
	res.skipped = extracted.Skipped
	res.lowContext = extracted.LowContext
	return res
}

// persistPass writes the settled pass: the candidate batch plus one new
// annotation lineage per candidate. With a TxRunner the caller hands in
// transaction-bound repositories so the pass commits or rolls back whole.
func (s *PipelineService) persistPass(
	ctx context.Context,
	doc *domain.Document,
	cands []domain.ConceptCandidate,
	candidateRepo CandidateRepositoryInterface,
	annotationRepo AnnotationRepositoryInterface,
) (int, error) {
	if err := candidateRepo.CreateBatch(ctx, cands); err != nil {
		return 0, err
	}
	return s.annotate(ctx, doc, cands, annotationRepo)
}

// annotate matches each atomic candidate and appends the first version of a
// new annotation lineage. Ambiguous matches enter the review queue with the
// scored alternatives serialized for the reviewer; unmatched candidates
// enter without a concept URI as proposals.
func (s *PipelineService) annotate(ctx context.Context, doc *domain.Document, cands []domain.ConceptCandidate, annotationRepo AnnotationRepositoryInterface) (int, error) {
	created := 0
	for _, cand := range cands {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		matched, err := s.matcher.Match(ctx, cand)
		if err != nil {
			return created, err
		}

		ann := &domain.Annotation{
			ID:            s.uuidGen.NewString(),
			LineageID:     s.uuidGen.NewString(),
			VersionNumber: 1,
			DocumentID:    doc.ID,
			TextSegment:   segmentFor(doc, cand),
			SpanStart:     cand.Span.Start,
			SpanEnd:       cand.Span.End,
			Category:      cand.Category,
			Confidence:    cand.Confidence,
			Stage:         domain.StageLLMExtracted,
			Reasoning:     cand.Reasoning,
			CreatedAt:     time.Now().UTC(),
		}

		switch matched.Classification {
		case match.ClassificationExisting:
			ann.ConceptURI = matched.MatchedURI
			ann.Confidence = cand.Confidence * matched.Score
		case match.ClassificationAmbiguous:
			ann.Reasoning = ambiguousReasoning(cand.Reasoning, matched.TopCandidates)
		case match.ClassificationNew:
			// Proposal for a concept the ontology does not have yet.
		}

		if err := domain.ValidateAnnotation(ann); err != nil {
			log.Printf("pipeline: dropping invalid annotation for %q: %v", cand.RawLabel, err)
			continue
		}
		if err := annotationRepo.AppendVersion(ctx, ann, 0); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func segmentFor(doc *domain.Document, cand domain.ConceptCandidate) string {
	runes := []rune(doc.Body)
	if cand.Span.Start >= 0 && cand.Span.End <= len(runes) && cand.Span.Start < cand.Span.End {
		return string(runes[cand.Span.Start:cand.Span.End])
	}
	return cand.RawLabel
}

// ambiguousReasoning serializes the scored alternatives so the reviewer can
// disambiguate from the queue.
func ambiguousReasoning(reasoning string, top []match.ScoredEntity) string {
	type alternative struct {
		URI   string  `json:"uri"`
		Label string  `json:"label"`
		Score float64 `json:"score"`
	}
	alts := make([]alternative, 0, len(top))
	for _, se := range top {
		alts = append(alts, alternative{URI: se.Entity.URI, Label: se.Entity.Label, Score: se.Score})
	}
	payload, err := json.Marshal(alts)
	if err != nil {
		return reasoning
	}
	return fmt.Sprintf("%s\nambiguous_match_candidates: %s", reasoning, payload)
}
