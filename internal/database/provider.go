// Package database selects and opens the annotation store backend.
package database

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-retrieval/internal/annotations"
	"github.com/kozaktomas/face-retrieval/internal/config"
	"github.com/kozaktomas/face-retrieval/internal/database/mariadb"
	"github.com/kozaktomas/face-retrieval/internal/database/postgres"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenAnnotationStore opens the backend named by cfg.Annotations.Backend. The
// returned closer releases its connections.
func OpenAnnotationStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (annotations.Store, io.Closer, error) {
	switch cfg.Annotations.Backend {
	case config.BackendFile, "":
		return annotations.NewFileStore(), nopCloser{}, nil

	case config.BackendPostgres:
		pool, applied, err := postgres.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		for _, m := range applied {
			log.Info("applied migration", zap.String("migration", m))
		}
		return postgres.NewAnnotationRepository(pool), pool, nil

	case config.BackendMariaDB:
		pool, err := mariadb.NewPool(ctx, cfg.Database.MariaDBDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.EnsureSchema(ctx); err != nil {
			_ = pool.Close()
			return nil, nil, err
		}
		return mariadb.NewAnnotationRepository(pool), pool, nil
	}
	return nil, nil, fmt.Errorf("unknown annotations backend %q", cfg.Annotations.Backend)
}
