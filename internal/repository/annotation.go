package repository

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethos-works/ethosgraph/internal/domain"
	"github.com/ethos-works/ethosgraph/internal/pagination"
	"github.com/ethos-works/ethosgraph/internal/service"
)

type AnnotationRepository struct {
	db dbtx
}

func NewAnnotationRepository(pool *pgxpool.Pool) *AnnotationRepository {
	return &AnnotationRepository{db: pool}
}

func NewAnnotationRepositoryWithTx(tx pgx.Tx) *AnnotationRepository {
	return &AnnotationRepository{db: tx}
}

const annotationColumns = `id, lineage_id, version_number, document_id, text_segment,
	span_start, span_end, category, concept_uri, confidence, stage, reasoning, actor, created_at`

// AppendVersion inserts a new immutable version for the lineage. The insert
// only succeeds when the current max version equals expectedVersion, which
// makes concurrent appenders lose with ErrVersionConflict instead of forking
// the history.
func (r *AnnotationRepository) AppendVersion(ctx context.Context, a *domain.Annotation, expectedVersion int64) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO annotations
		 (id, lineage_id, version_number, document_id, text_segment, span_start, span_end,
		  category, concept_uri, confidence, stage, reasoning, actor, created_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		 WHERE (SELECT COALESCE(MAX(version_number), 0) FROM annotations WHERE lineage_id = $2) = $15`,
		a.ID, a.LineageID, a.VersionNumber, a.DocumentID, a.TextSegment, a.SpanStart, a.SpanEnd,
		a.Category, nullableString(a.ConceptURI), a.Confidence, a.Stage, a.Reasoning, a.Actor,
		a.CreatedAt, expectedVersion,
	)
	if err != nil {
		// Two appenders can both pass the MAX guard; the loser then trips the
		// UNIQUE(lineage_id, version_number) constraint.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrVersionConflict
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

// GetCurrent returns the highest version of the lineage.
func (r *AnnotationRepository) GetCurrent(ctx context.Context, lineageID string) (*domain.Annotation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+annotationColumns+`
		 FROM annotations
		 WHERE lineage_id = $1
		 ORDER BY version_number DESC
		 LIMIT 1`,
		lineageID,
	)
	return scanAnnotation(row)
}

func (r *AnnotationRepository) GetVersion(ctx context.Context, lineageID string, version int64) (*domain.Annotation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+annotationColumns+`
		 FROM annotations
		 WHERE lineage_id = $1 AND version_number = $2`,
		lineageID, version,
	)
	return scanAnnotation(row)
}

// ListVersions returns the full history of the lineage, oldest first.
func (r *AnnotationRepository) ListVersions(ctx context.Context, lineageID string) ([]*domain.Annotation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+annotationColumns+`
		 FROM annotations
		 WHERE lineage_id = $1
		 ORDER BY version_number ASC`,
		lineageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	anns, err := scanAnnotationRows(rows)
	if err != nil {
		return nil, err
	}
	if len(anns) == 0 {
		return nil, domain.ErrAnnotationNotFound
	}
	return anns, nil
}

// ListQueue returns the current version of each lineage matching the filter,
// ordered by lineage creation time for stable cursor pagination.
func (r *AnnotationRepository) ListQueue(ctx context.Context, filter service.QueueFilter, cursor *pagination.Cursor, limit int) (*service.AnnotationPageResult, error) {
	query := `SELECT ` + annotationColumns + ` FROM (
		SELECT DISTINCT ON (lineage_id) ` + annotationColumns + `
		FROM annotations
		ORDER BY lineage_id, version_number DESC
	) current
	WHERE 1=1`

	args := []any{}
	idx := 1

	if filter.Stage != "" {
		query += ` AND stage = $` + strconv.Itoa(idx)
		args = append(args, filter.Stage)
		idx++
	}
	if filter.Category != "" {
		query += ` AND category = $` + strconv.Itoa(idx)
		args = append(args, filter.Category)
		idx++
	}
	if filter.DocumentID != "" {
		query += ` AND document_id = $` + strconv.Itoa(idx)
		args = append(args, filter.DocumentID)
		idx++
	}
	if cursor != nil {
		query += ` AND (created_at, id) > ($` + strconv.Itoa(idx) + `, $` + strconv.Itoa(idx+1) + `)`
		args = append(args, cursor.Timestamp, cursor.LastID)
		idx += 2
	}

	query += ` ORDER BY created_at ASC, id ASC LIMIT $` + strconv.Itoa(idx)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanAnnotationRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	nextCursor := ""
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.CreatedAt)
	}

	return &service.AnnotationPageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func scanAnnotation(row pgx.Row) (*domain.Annotation, error) {
	var a domain.Annotation
	var conceptURI *string
	err := row.Scan(&a.ID, &a.LineageID, &a.VersionNumber, &a.DocumentID, &a.TextSegment,
		&a.SpanStart, &a.SpanEnd, &a.Category, &conceptURI, &a.Confidence, &a.Stage,
		&a.Reasoning, &a.Actor, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrAnnotationNotFound
	}
	if err != nil {
		return nil, err
	}
	if conceptURI != nil {
		a.ConceptURI = *conceptURI
	}
	return &a, nil
}

func scanAnnotationRows(rows pgx.Rows) ([]*domain.Annotation, error) {
	var out []*domain.Annotation
	for rows.Next() {
		var a domain.Annotation
		var conceptURI *string
		if err := rows.Scan(&a.ID, &a.LineageID, &a.VersionNumber, &a.DocumentID, &a.TextSegment,
			&a.SpanStart, &a.SpanEnd, &a.Category, &conceptURI, &a.Confidence, &a.Stage,
			&a.Reasoning, &a.Actor, &a.CreatedAt); err != nil {
			return nil, err
		}
		if conceptURI != nil {
			a.ConceptURI = *conceptURI
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
