package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-retrieval/internal/annotations"
	"github.com/kozaktomas/face-retrieval/internal/facematch"
)

// AnnotationRepository stores annotation sets keyed by name.
type AnnotationRepository struct {
	pool *Pool
}

// NewAnnotationRepository creates a new PostgreSQL annotation repository
func NewAnnotationRepository(pool *Pool) *AnnotationRepository {
	return &AnnotationRepository{pool: pool}
}

// Save replaces the set stored under key.
func (r *AnnotationRepository) Save(ctx context.Context, key string, records []annotations.Record) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO annotation_sets (set_key) VALUES ($1)
		ON CONFLICT (set_key) DO UPDATE SET updated_at = NOW()
	`, key); err != nil {
		return fmt.Errorf("upsert annotation set: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM annotations WHERE set_key = $1", key); err != nil {
		return fmt.Errorf("clear annotation set: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO annotations (set_key, position, path, x1, y1, x2, y2, anno, uri, score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return fmt.Errorf("prepare annotation insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx, key, i, rec.Path,
			rec.ROI.X1, rec.ROI.Y1, rec.ROI.X2, rec.ROI.Y2,
			rec.Anno, rec.URI, rec.Score,
		); err != nil {
			return fmt.Errorf("insert annotation %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit annotation set: %w", err)
	}
	return nil
}

// Load returns the set stored under key in insertion order.
func (r *AnnotationRepository) Load(ctx context.Context, key string) ([]annotations.Record, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM annotation_sets WHERE set_key = $1)", key).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check annotation set: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", annotations.ErrNotFound, key)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT path, x1, y1, x2, y2, anno, uri, score
		FROM annotations
		WHERE set_key = $1
		ORDER BY position
	`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []annotations.Record{}
	for rows.Next() {
		var rec annotations.Record
		var box facematch.Box
		if err := rows.Scan(&rec.Path, &box.X1, &box.Y1, &box.X2, &box.Y2, &rec.Anno, &rec.URI, &rec.Score); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		rec.ROI = box
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return records, nil
}

// Delete removes the set stored under key.
func (r *AnnotationRepository) Delete(ctx context.Context, key string) error {
	res, err := r.pool.db.ExecContext(ctx, "DELETE FROM annotation_sets WHERE set_key = $1", key)
	if err != nil {
		return fmt.Errorf("delete annotation set: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete annotation set: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", annotations.ErrNotFound, key)
	}
	return nil
}

var _ annotations.Store = (*AnnotationRepository)(nil)
