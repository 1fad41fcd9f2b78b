package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "analysisStream", cfg.AnalysisStream)
	require.Equal(t, "dispatchStream", cfg.DispatchStream)
	require.Equal(t, "analyzers", cfg.AnalysisGroup)
	require.Equal(t, ":3000", cfg.IngesterPort)
	require.Equal(t, ":4000", cfg.GraphPort)
	require.Positive(t, cfg.Parallelism)
	require.False(t, cfg.Archive.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://queue:6379/1")
	t.Setenv("GRAPH_BACKEND", "POSTGRES")
	t.Setenv("GRAPH_PG_DSN", "postgres://doraemon@db/graph")
	t.Setenv("INGESTER_PORT", "8080")
	t.Setenv("ANALYSIS_PARALLELISM", "4")
	t.Setenv("ARCHIVE_S3_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_ROOT_USER", "minioadmin")
	t.Setenv("MINIO_ROOT_PASSWORD", "minioadmin")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "redis://queue:6379/1", cfg.RedisURL)
	require.Equal(t, "postgres", cfg.GraphBackend)
	require.Equal(t, ":8080", cfg.IngesterPort, "bare ports gain a colon")
	require.Equal(t, 4, cfg.Parallelism)
	require.True(t, cfg.Archive.Enabled)
	require.Equal(t, "minioadmin", cfg.Archive.AccessKey)
	require.NoError(t, cfg.ValidateGraph())
}

func TestUnknownBackendFails(t *testing.T) {
	t.Setenv("GRAPH_BACKEND", "dynamodb")
	_, err := Load()
	require.Error(t, err)
}

func TestValidation(t *testing.T) {
	t.Setenv("GRAPH_BACKEND", "neo4j")
	t.Setenv("NEO4J_URI", "")
	cfg, err := Load()
	require.NoError(t, err)
	require.Error(t, cfg.ValidateGraph())
	require.Error(t, cfg.ValidateIngester())

	t.Setenv("NEO4J_URI", "bolt://graph:7687")
	t.Setenv("INGESTER_SECRET", "hunter2")
	cfg, err = Load()
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateGraph())
	require.NoError(t, cfg.ValidateIngester())
}

func TestBadParallelismFallsBack(t *testing.T) {
	t.Setenv("ANALYSIS_PARALLELISM", "zero")
	cfg, err := Load()
	require.NoError(t, err)
	require.Positive(t, cfg.Parallelism)

	t.Setenv("ANALYSIS_PARALLELISM", "-3")
	cfg, err = Load()
	require.NoError(t, err)
	require.Positive(t, cfg.Parallelism)
}
