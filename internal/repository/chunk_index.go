package repository

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkIndex is a pgvector-backed vector index. Vectors are stored
// L2-normalized, so cosine distance ranks them the same as inner product.
type ChunkIndex struct {
	db dbtx
	tx *TxRunner
}

func NewChunkIndex(pool *pgxpool.Pool) *ChunkIndex {
	return &ChunkIndex{db: pool, tx: NewTxRunner(pool)}
}

// Insert stores entries in one transaction. While no chunk is stored the
// index adopts the dimension and tag of the batch; afterwards a mismatch
// rejects the whole batch.
func (r *ChunkIndex) Insert(ctx context.Context, tag string, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	dim := len(entries[0].Vector)
	for _, e := range entries {
		if dim == 0 || len(e.Vector) != dim {
			return domain.ErrDimensionMismatch.Wrap(
				fmt.Errorf("%s has dimension %d, batch expects %d", e.ChunkID, len(e.Vector), dim))
		}
	}

	return r.tx.WithTx(ctx, func(tx pgx.Tx) error {
		var pinnedDim *int
		var pinnedTag *string
		err := tx.QueryRow(ctx,
			`SELECT dimension, provider_tag FROM index_meta WHERE id FOR UPDATE`,
		).Scan(&pinnedDim, &pinnedTag)
		if err != nil {
			return fmt.Errorf("failed to read index metadata: %w", err)
		}

		var occupied bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chunks)`).Scan(&occupied); err != nil {
			return err
		}

		if occupied && pinnedDim != nil && pinnedTag != nil {
			if *pinnedTag != tag {
				return domain.ErrProviderMismatch.Wrap(
					fmt.Errorf("tag %q does not match index tag %q", tag, *pinnedTag))
			}
			if *pinnedDim != dim {
				return domain.ErrDimensionMismatch.Wrap(
					fmt.Errorf("dimension %d does not match index dimension %d", dim, *pinnedDim))
			}
		} else {
			if _, err := tx.Exec(ctx,
				`UPDATE index_meta SET dimension = $1, provider_tag = $2 WHERE id`, dim, tag,
			); err != nil {
				return err
			}
		}

		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(
				`INSERT INTO chunks (document_id, chunk_index, page, content, embedding)
				 VALUES ($1, $2, $3, $4, $5)`,
				e.DocumentID, e.Seq, e.Page, e.Text, pgvector.NewVector(e.Vector),
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (r *ChunkIndex) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *ChunkIndex) DeleteAll(ctx context.Context) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM chunks`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Search ranks chunks by cosine similarity to query. Ties keep insertion
// order.
func (r *ChunkIndex) Search(ctx context.Context, query []float32, k int, documentID string) ([]domain.SearchHit, error) {
	if k <= 0 {
		return []domain.SearchHit{}, nil
	}

	var pinnedDim *int
	if err := r.db.QueryRow(ctx, `SELECT dimension FROM index_meta WHERE id`).Scan(&pinnedDim); err != nil {
		return nil, fmt.Errorf("failed to read index metadata: %w", err)
	}
	if pinnedDim != nil && *pinnedDim != len(query) {
		return nil, domain.ErrDimensionMismatch.Wrap(
			fmt.Errorf("query has dimension %d, index expects %d", len(query), *pinnedDim))
	}

	rows, err := r.db.Query(ctx,
		`SELECT document_id, chunk_index, page, content, 1 - (embedding <=> $1) AS score
		 FROM chunks
		 WHERE ($3 = '' OR document_id = $3)
		 ORDER BY embedding <=> $1, seq
		 LIMIT $2`,
		pgvector.NewVector(query), k, documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := []domain.SearchHit{}
	for rows.Next() {
		var h domain.SearchHit
		var score float64
		if err := rows.Scan(&h.DocumentID, &h.Seq, &h.Page, &h.Text, &score); err != nil {
			return nil, err
		}
		h.ChunkID = domain.ChunkID(h.DocumentID, h.Seq)
		h.Score = float32(score)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (r *ChunkIndex) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&n)
	return n, err
}
