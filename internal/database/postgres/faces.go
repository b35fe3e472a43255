package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-retrieval/internal/dataset"
	"github.com/kozaktomas/face-retrieval/internal/facematch"
)

// MirroredFace is one dataset entry read back from the mirror.
type MirroredFace struct {
	Position int
	Path     string
	ROI      facematch.Box
	Distance float64
}

// FaceMirror copies a loaded dataset into the dataset_faces table so it can be
// queried with pgvector.
type FaceMirror struct {
	pool      *Pool
	batchSize int
}

// NewFaceMirror creates a mirror writing batchSize rows per transaction.
func NewFaceMirror(pool *Pool, batchSize int) *FaceMirror {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &FaceMirror{pool: pool, batchSize: batchSize}
}

// Push replaces the mirrored rows of name with idx. onBatch, if set, is called with
// the number of rows written after each batch.
func (m *FaceMirror) Push(ctx context.Context, name string, idx *dataset.Index, onBatch func(n int)) error {
	if !idx.HasFingerprints() {
		return errors.New("dataset has no fingerprints to mirror")
	}

	if _, err := m.pool.db.ExecContext(ctx, "DELETE FROM dataset_faces WHERE dataset = $1", name); err != nil {
		return fmt.Errorf("clear mirrored dataset: %w", err)
	}

	for start := 0; start < idx.Len(); start += m.batchSize {
		end := min(start+m.batchSize, idx.Len())
		if err := m.insertBatch(ctx, name, idx, start, end); err != nil {
			return err
		}
		if onBatch != nil {
			onBatch(end - start)
		}
	}
	return nil
}

func (m *FaceMirror) insertBatch(ctx context.Context, name string, idx *dataset.Index, start, end int) error {
	tx, err := m.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dataset_faces (dataset, position, path, x1, y1, x2, y2, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("prepare face insert: %w", err)
	}
	defer stmt.Close()

	for i := start; i < end; i++ {
		roi := idx.ROIs[i]
		if _, err := stmt.ExecContext(ctx, name, i, idx.Paths[i],
			roi.X1, roi.Y1, roi.X2, roi.Y2,
			pgvector.NewVector(idx.Fingerprints[i]),
		); err != nil {
			return fmt.Errorf("insert face %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit face batch: %w", err)
	}
	return nil
}

// Count returns the number of mirrored rows for name.
func (m *FaceMirror) Count(ctx context.Context, name string) (int, error) {
	var count int
	err := m.pool.QueryRow(ctx, "SELECT COUNT(*) FROM dataset_faces WHERE dataset = $1", name).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count mirrored faces: %w", err)
	}
	return count, nil
}

// Nearest returns the k mirrored faces closest to query by Euclidean distance.
func (m *FaceMirror) Nearest(ctx context.Context, name string, query []float32, k int) ([]MirroredFace, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT position, path, x1, y1, x2, y2, embedding <-> $2 AS distance
		FROM dataset_faces
		WHERE dataset = $1
		ORDER BY embedding <-> $2, position
		LIMIT $3
	`, name, pgvector.NewVector(query), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MirroredFace
	for rows.Next() {
		var f MirroredFace
		if err := rows.Scan(&f.Position, &f.Path, &f.ROI.X1, &f.ROI.Y1, &f.ROI.X2, &f.ROI.Y2, &f.Distance); err != nil {
			return nil, fmt.Errorf("scan mirrored face: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mirrored faces: %w", err)
	}
	return out, nil
}
