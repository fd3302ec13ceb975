package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/ethos-works/ethosgraph/internal/domain"
	"github.com/ethos-works/ethosgraph/internal/match"
)

// EntityCacheRepository stores the local mirror of the upstream ontology
// hierarchy together with label embeddings for similarity search.
type EntityCacheRepository struct {
	db dbtx
}

func NewEntityCacheRepository(pool *pgxpool.Pool) *EntityCacheRepository {
	return &EntityCacheRepository{db: pool}
}

func NewEntityCacheRepositoryWithTx(tx pgx.Tx) *EntityCacheRepository {
	return &EntityCacheRepository{db: tx}
}

// UpsertEntity refreshes the cached entity. When the definition or label
// changed since the last sync the stored embedding is cleared so it gets
// recomputed on the next sync pass.
func (r *EntityCacheRepository) UpsertEntity(ctx context.Context, e *domain.OntologyEntity, syncedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO entity_cache
		 (uri, label, normalized_label, parent_uri, kind, category, definition, missing_upstream, synced_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)
		 ON CONFLICT (uri) DO UPDATE SET
		   label = EXCLUDED.label,
		   normalized_label = EXCLUDED.normalized_label,
		   parent_uri = EXCLUDED.parent_uri,
		   kind = EXCLUDED.kind,
		   category = EXCLUDED.category,
		   definition = EXCLUDED.definition,
		   missing_upstream = false,
		   synced_at = EXCLUDED.synced_at,
		   embedding = CASE
		     WHEN entity_cache.label = EXCLUDED.label AND entity_cache.definition = EXCLUDED.definition
		     THEN entity_cache.embedding
		     ELSE NULL
		   END`,
		e.URI, e.Label, match.NormalizeLabel(e.Label), nullableString(e.ParentURI),
		e.Kind, e.Category, e.Definition, syncedAt,
	)
	return err
}

func (r *EntityCacheRepository) GetByURI(ctx context.Context, uri string) (*domain.CachedEntity, error) {
	row := r.db.QueryRow(ctx,
		`SELECT uri, label, parent_uri, kind, category, definition, missing_upstream, synced_at
		 FROM entity_cache
		 WHERE uri = $1`,
		uri,
	)
	return scanCachedEntity(row)
}

// GetByNormalizedLabel returns the cached entity whose normalized label
// exactly matches, scoped to a category. Ties resolve to the smallest URI.
func (r *EntityCacheRepository) GetByNormalizedLabel(ctx context.Context, category domain.ConceptCategory, normalized string) (*domain.CachedEntity, error) {
	row := r.db.QueryRow(ctx,
		`SELECT uri, label, parent_uri, kind, category, definition, missing_upstream, synced_at
		 FROM entity_cache
		 WHERE category = $1 AND normalized_label = $2
		 ORDER BY uri ASC
		 LIMIT 1`,
		category, normalized,
	)
	return scanCachedEntity(row)
}

// SearchByEmbedding returns the topK nearest entities by cosine similarity.
// Score is 1 - cosine distance; ordering is score descending with URI as a
// deterministic tiebreak.
func (r *EntityCacheRepository) SearchByEmbedding(ctx context.Context, category domain.ConceptCategory, embedding []float32, topK int) ([]match.ScoredEntity, error) {
	rows, err := r.db.Query(ctx,
		`SELECT uri, label, parent_uri, kind, category, definition, missing_upstream, synced_at,
		        1.0 - (embedding <=> $2) AS score
		 FROM entity_cache
		 WHERE category = $1 AND embedding IS NOT NULL
		 ORDER BY score DESC, uri ASC
		 LIMIT $3`,
		category, pgvector.NewVector(embedding), topK,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []match.ScoredEntity
	for rows.Next() {
		var se match.ScoredEntity
		var parentURI *string
		var missing bool
		var syncedAt time.Time
		if err := rows.Scan(&se.Entity.URI, &se.Entity.Label, &parentURI, &se.Entity.Kind,
			&se.Entity.Category, &se.Entity.Definition, &missing, &syncedAt, &se.Score); err != nil {
			return nil, err
		}
		if parentURI != nil {
			se.Entity.ParentURI = *parentURI
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

// ListWithoutEmbedding returns entities whose embedding still needs computing.
func (r *EntityCacheRepository) ListWithoutEmbedding(ctx context.Context, category domain.ConceptCategory, limit int) ([]domain.CachedEntity, error) {
	rows, err := r.db.Query(ctx,
		`SELECT uri, label, parent_uri, kind, category, definition, missing_upstream, synced_at
		 FROM entity_cache
		 WHERE category = $1 AND embedding IS NULL
		 ORDER BY uri ASC
		 LIMIT $2`,
		category, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CachedEntity
	for rows.Next() {
		e, err := scanCachedEntityRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *EntityCacheRepository) UpdateEmbedding(ctx context.Context, uri string, embedding []float32) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE entity_cache SET embedding = $2 WHERE uri = $1`,
		uri, pgvector.NewVector(embedding),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEntityNotFound
	}
	return nil
}

func (r *EntityCacheRepository) MarkMissing(ctx context.Context, uri string, missing bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE entity_cache SET missing_upstream = $2 WHERE uri = $1`,
		uri, missing,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEntityNotFound
	}
	return nil
}

func scanCachedEntity(row pgx.Row) (*domain.CachedEntity, error) {
	var e domain.CachedEntity
	var parentURI *string
	err := row.Scan(&e.URI, &e.Label, &parentURI, &e.Kind, &e.Category, &e.Definition,
		&e.MissingUpstream, &e.SyncedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	if parentURI != nil {
		e.ParentURI = *parentURI
	}
	return &e, nil
}

func scanCachedEntityRows(rows pgx.Rows) (*domain.CachedEntity, error) {
	var e domain.CachedEntity
	var parentURI *string
	if err := rows.Scan(&e.URI, &e.Label, &parentURI, &e.Kind, &e.Category, &e.Definition,
		&e.MissingUpstream, &e.SyncedAt); err != nil {
		return nil, err
	}
	if parentURI != nil {
		e.ParentURI = *parentURI
	}
	return &e, nil
}
