package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-retrieval/internal/annotations"
	"github.com/kozaktomas/face-retrieval/internal/config"
)

func TestOpenAnnotationStore_File(t *testing.T) {
	cfg := &config.Config{Annotations: config.AnnotationsConfig{Backend: config.BackendFile}}

	store, closer, err := OpenAnnotationStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer closer.Close()

	assert.IsType(t, &annotations.FileStore{}, store)
}

func TestOpenAnnotationStore_Unknown(t *testing.T) {
	cfg := &config.Config{Annotations: config.AnnotationsConfig{Backend: "s3"}}

	_, _, err := OpenAnnotationStore(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "unknown annotations backend")
}

func TestOpenAnnotationStore_MissingDSN(t *testing.T) {
	for _, backend := range []string{config.BackendPostgres, config.BackendMariaDB} {
		t.Run(backend, func(t *testing.T) {
			cfg := &config.Config{Annotations: config.AnnotationsConfig{Backend: backend}}

			_, _, err := OpenAnnotationStore(context.Background(), cfg, zap.NewNop())
			assert.Error(t, err)
		})
	}
}
