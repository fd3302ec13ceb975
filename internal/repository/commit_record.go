package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethos-works/ethosgraph/internal/domain"
)

type CommitRecordRepository struct {
	db dbtx
}

func NewCommitRecordRepository(pool *pgxpool.Pool) *CommitRecordRepository {
	return &CommitRecordRepository{db: pool}
}

func NewCommitRecordRepositoryWithTx(tx pgx.Tx) *CommitRecordRepository {
	return &CommitRecordRepository{db: tx}
}

func (r *CommitRecordRepository) Upsert(ctx context.Context, rec *domain.CommitRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO commit_records
		 (lineage_id, external_uri, kind, last_synced_at, last_known_hash, missing_upstream)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (lineage_id) DO UPDATE SET
		   external_uri = EXCLUDED.external_uri,
		   kind = EXCLUDED.kind,
		   last_synced_at = EXCLUDED.last_synced_at,
		   last_known_hash = EXCLUDED.last_known_hash,
		   missing_upstream = EXCLUDED.missing_upstream`,
		rec.LineageID, rec.ExternalURI, rec.Kind, rec.LastSyncedAt, rec.LastKnownHash, rec.MissingUpstream,
	)
	return err
}

func (r *CommitRecordRepository) GetByLineage(ctx context.Context, lineageID string) (*domain.CommitRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT lineage_id, external_uri, kind, last_synced_at, last_known_hash, missing_upstream
		 FROM commit_records
		 WHERE lineage_id = $1`,
		lineageID,
	)
	var rec domain.CommitRecord
	err := row.Scan(&rec.LineageID, &rec.ExternalURI, &rec.Kind, &rec.LastSyncedAt,
		&rec.LastKnownHash, &rec.MissingUpstream)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrCommitRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *CommitRecordRepository) List(ctx context.Context) ([]*domain.CommitRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT lineage_id, external_uri, kind, last_synced_at, last_known_hash, missing_upstream
		 FROM commit_records
		 ORDER BY lineage_id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.CommitRecord
	for rows.Next() {
		var rec domain.CommitRecord
		if err := rows.Scan(&rec.LineageID, &rec.ExternalURI, &rec.Kind, &rec.LastSyncedAt,
			&rec.LastKnownHash, &rec.MissingUpstream); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *CommitRecordRepository) MarkMissing(ctx context.Context, lineageID string, missing bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE commit_records SET missing_upstream = $2 WHERE lineage_id = $1`,
		lineageID, missing,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCommitRecordNotFound
	}
	return nil
}
