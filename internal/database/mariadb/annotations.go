package mariadb

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-retrieval/internal/annotations"
)

// AnnotationRepository stores annotation sets keyed by name.
type AnnotationRepository struct {
	pool *Pool
}

// NewAnnotationRepository creates a new MariaDB annotation repository
func NewAnnotationRepository(pool *Pool) *AnnotationRepository {
	return &AnnotationRepository{pool: pool}
}

// Save replaces the set stored under key.
func (r *AnnotationRepository) Save(ctx context.Context, key string, records []annotations.Record) error {
	tx, err := r.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO annotation_sets (set_key) VALUES (?) ON DUPLICATE KEY UPDATE updated_at = CURRENT_TIMESTAMP",
		key,
	); err != nil {
		return fmt.Errorf("upsert annotation set: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM annotations WHERE set_key = ?", key); err != nil {
		return fmt.Errorf("clear annotation set: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO annotations (set_key, position, path, x1, y1, x2, y2, anno, uri, score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
	var n int
	if err := r.pool.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM annotation_sets WHERE set_key = ?", key,
	).Scan(&n); err != nil {
		return nil, fmt.Errorf("check annotation set: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", annotations.ErrNotFound, key)
	}

	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT path, x1, y1, x2, y2, anno, uri, score
		FROM annotations
		WHERE set_key = ?
		ORDER BY position
	`, key)
	if err != nil {
		return nil, fmt.Errorf("query annotations: %w", err)
	}
	defer rows.Close()

	records := []annotations.Record{}
	for rows.Next() {
		var rec annotations.Record
		if err := rows.Scan(&rec.Path, &rec.ROI.X1, &rec.ROI.Y1, &rec.ROI.X2, &rec.ROI.Y2,
			&rec.Anno, &rec.URI, &rec.Score); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return records, nil
}

var _ annotations.Store = (*AnnotationRepository)(nil)
