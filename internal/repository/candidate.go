package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethos-works/ethosgraph/internal/domain"
)

type CandidateRepository struct {
	db dbtx
}

func NewCandidateRepository(pool *pgxpool.Pool) *CandidateRepository {
	return &CandidateRepository{db: pool}
}

func NewCandidateRepositoryWithTx(tx pgx.Tx) *CandidateRepository {
	return &CandidateRepository{db: tx}
}

func (r *CandidateRepository) Create(ctx context.Context, c *domain.ConceptCandidate) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO concept_candidates
		 (id, document_id, span_start, span_end, category, raw_label, confidence,
		  pass_number, split_method, parent_compound, reasoning, low_context, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.Span.DocumentID, c.Span.Start, c.Span.End, c.Category, c.RawLabel,
		c.Confidence, c.PassNumber, c.SplitMethod, nullableString(c.ParentCompound),
		c.Reasoning, c.LowContext, c.CreatedAt,
	)
	return err
}

func (r *CandidateRepository) CreateBatch(ctx context.Context, cands []domain.ConceptCandidate) error {
	for i := range cands {
		if err := r.Create(ctx, &cands[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *CandidateRepository) ListByDocument(ctx context.Context, documentID string) ([]*domain.ConceptCandidate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, document_id, span_start, span_end, category, raw_label, confidence,
		        pass_number, split_method, parent_compound, reasoning, low_context, created_at
		 FROM concept_candidates
		 WHERE document_id = $1
		 ORDER BY pass_number ASC, span_start ASC, id ASC`,
		documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandidateRows(rows)
}

// ListLabelsByDocumentAndPass returns distinct labels surfaced for the
// document in earlier passes, used as prompt context for later passes.
func (r *CandidateRepository) ListLabelsByDocumentAndPass(ctx context.Context, documentID string, before domain.Pass) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT raw_label
		 FROM concept_candidates
		 WHERE document_id = $1 AND pass_number < $2
		 ORDER BY raw_label ASC`,
		documentID, before,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

func scanCandidateRows(rows pgx.Rows) ([]*domain.ConceptCandidate, error) {
	var out []*domain.ConceptCandidate
	for rows.Next() {
		var c domain.ConceptCandidate
		var parentCompound *string
		if err := rows.Scan(&c.ID, &c.Span.DocumentID, &c.Span.Start, &c.Span.End,
			&c.Category, &c.RawLabel, &c.Confidence, &c.PassNumber, &c.SplitMethod,
			&parentCompound, &c.Reasoning, &c.LowContext, &c.CreatedAt); err != nil {
			return nil, err
		}
		if parentCompound != nil {
			c.ParentCompound = *parentCompound
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
