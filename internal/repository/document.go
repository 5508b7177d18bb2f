package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const documentColumns = `id, filename, size_bytes, pages, content_hash, mime_type, storage_key,
	status, last_stage, failure_reason, chunk_count, created_at, updated_at`

// DocumentRepository stores documents in Postgres.
type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func (r *DocumentRepository) Register(ctx context.Context, d *domain.Document) error {
	if err := domain.ValidateDocument(d); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid document", err)
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		d.ID, d.Filename, d.Size, d.Pages, d.ContentHash, d.MimeType, d.StorageKey,
		d.Status, d.LastStage, nullableString(d.FailureReason), d.ChunkCount, d.CreatedAt, d.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateDocument
	}
	return err
}

func (r *DocumentRepository) Get(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	d, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *DocumentRepository) List(ctx context.Context) ([]*domain.Document, error) {
	rows, err := r.db.Query(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []*domain.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateStatus records a transition. Working stages also become the
// document's last stage; failed keeps the last stage and stores reason.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, reason string) error {
	if !domain.IsValidDocumentStatus(status) {
		return domain.NewDomainError(domain.ErrCodeValidation, "invalid document status: "+string(status))
	}

	var query string
	args := []any{id, status, time.Now().UTC()}
	if status == domain.DocumentStatusFailed {
		query = `UPDATE documents SET status = $2, updated_at = $3, failure_reason = $4 WHERE id = $1`
		args = append(args, nullableString(reason))
	} else {
		query = `UPDATE documents SET status = $2, updated_at = $3, last_stage = $2, failure_reason = NULL WHERE id = $1`
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) SetChunkCount(ctx context.Context, id string, n int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE documents SET chunk_count = $2, updated_at = $3 WHERE id = $1`,
		id, n, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// Delete removes a document. Its chunks go with it.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) DeleteAll(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `DELETE FROM documents RETURNING id`)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	var reason *string
	err := row.Scan(
		&d.ID, &d.Filename, &d.Size, &d.Pages, &d.ContentHash, &d.MimeType, &d.StorageKey,
		&d.Status, &d.LastStage, &reason, &d.ChunkCount, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		d.FailureReason = *reason
	}
	return &d, nil
}
