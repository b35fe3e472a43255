//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/face-retrieval/internal/annotations"
	"github.com/kozaktomas/face-retrieval/internal/config"
	"github.com/kozaktomas/face-retrieval/internal/dataset"
	"github.com/kozaktomas/face-retrieval/internal/facematch"
	"github.com/kozaktomas/face-retrieval/internal/fingerprint"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, applied, err := Open(ctx, cfg)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to open pool: %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("expected 2 applied migrations, got %v", applied)
	}

	cleanup := func() {
		_ = pool.Close()
		_ = container.Terminate(ctx)
	}
	return pool, cleanup
}

func TestPostgres(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		applied, err := pool.Migrate(ctx)
		if err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		if len(applied) != 0 {
			t.Errorf("expected no pending migrations, got %v", applied)
		}
		versions, err := pool.MigrationsApplied(ctx)
		if err != nil {
			t.Fatalf("MigrationsApplied: %v", err)
		}
		if len(versions) != 2 || versions[0] != "001_annotations.sql" {
			t.Errorf("unexpected versions %v", versions)
		}
	})

	t.Run("AnnotationsRoundTrip", func(t *testing.T) {
		repo := NewAnnotationRepository(pool)
		records := []annotations.Record{
			{Path: "/img/a.jpg", ROI: facematch.Box{X1: 10, Y1: 20, X2: 60, Y2: 100}, Anno: annotations.Positive, URI: -1},
			{Path: "/img/b.jpg", ROI: facematch.Box{X1: 1, Y1: 2, X2: 3, Y2: 4}, Anno: annotations.Negative, URI: 42, Score: 0.5},
		}

		if err := repo.Save(ctx, "set-1", records); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := repo.Load(ctx, "set-1")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(got) != 2 || got[0] != records[0] || got[1] != records[1] {
			t.Errorf("round trip mismatch: %+v", got)
		}

		// Saving again replaces the set.
		if err := repo.Save(ctx, "set-1", records[:1]); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err = repo.Load(ctx, "set-1")
		if err != nil || len(got) != 1 {
			t.Errorf("expected 1 record after replace, got %d (%v)", len(got), err)
		}

		if err := repo.Save(ctx, "empty", nil); err != nil {
			t.Fatalf("Save empty: %v", err)
		}
		got, err = repo.Load(ctx, "empty")
		if err != nil || len(got) != 0 {
			t.Errorf("expected empty set, got %v (%v)", got, err)
		}

		if _, err := repo.Load(ctx, "missing"); !errors.Is(err, annotations.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.Delete(ctx, "set-1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := repo.Delete(ctx, "set-1"); !errors.Is(err, annotations.ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("FaceMirror", func(t *testing.T) {
		idx := &dataset.Index{
			Paths: []string{"a.jpg", "b.jpg", "c.jpg"},
			ROIs:  []facematch.Box{{X2: 1, Y2: 1}, {X2: 2, Y2: 2}, {X2: 3, Y2: 3}},
			Fingerprints: []fingerprint.Fingerprint{
				{1, 0, 0},
				{0, 1, 0},
				{0.9, 0.1, 0},
			},
		}

		mirror := NewFaceMirror(pool, 2)
		var batches []int
		if err := mirror.Push(ctx, "faces", idx, func(n int) { batches = append(batches, n) }); err != nil {
			t.Fatalf("Push: %v", err)
		}
		if len(batches) != 2 || batches[0] != 2 || batches[1] != 1 {
			t.Errorf("unexpected batches %v", batches)
		}

		n, err := mirror.Count(ctx, "faces")
		if err != nil || n != 3 {
			t.Fatalf("Count = %d, %v", n, err)
		}

		nearest, err := mirror.Nearest(ctx, "faces", []float32{1, 0, 0}, 2)
		if err != nil {
			t.Fatalf("Nearest: %v", err)
		}
		if len(nearest) != 2 || nearest[0].Path != "a.jpg" || nearest[1].Path != "c.jpg" {
			t.Errorf("unexpected nearest %+v", nearest)
		}
		if nearest[0].Distance != 0 {
			t.Errorf("expected distance 0 for exact match, got %v", nearest[0].Distance)
		}

		// Pushing again replaces rather than duplicates.
		if err := mirror.Push(ctx, "faces", idx, nil); err != nil {
			t.Fatalf("Push: %v", err)
		}
		if n, _ := mirror.Count(ctx, "faces"); n != 3 {
			t.Errorf("expected 3 rows after re-push, got %d", n)
		}
	})
}
