package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethos-works/ethosgraph/internal/domain"
)

type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO documents (id, title, body, storage_key, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.Title, d.Body, nullableString(d.StorageKey), d.CreatedAt,
	)
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	var d domain.Document
	var storageKey *string
	err := r.db.QueryRow(ctx,
		`SELECT id, title, body, storage_key, created_at
		 FROM documents WHERE id = $1`,
		id,
	).Scan(&d.ID, &d.Title, &d.Body, &storageKey, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	if storageKey != nil {
		d.StorageKey = *storageKey
	}
	return &d, nil
}

func (r *DocumentRepository) List(ctx context.Context) ([]*domain.Document, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title, body, storage_key, created_at
		 FROM documents ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		var d domain.Document
		var storageKey *string
		if err := rows.Scan(&d.ID, &d.Title, &d.Body, &storageKey, &d.CreatedAt); err != nil {
			return nil, err
		}
		if storageKey != nil {
			d.StorageKey = *storageKey
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}
