// Package config loads the process configuration from the environment, with
// an optional .env file for local development. Load rejects an unknown graph
// backend; ValidateGraph and ValidateIngester check what each binary needs,
// and missing required settings are startup failures.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the full environment surface shared by the three binaries.
type Config struct {
	RedisURL       string
	AnalysisStream string
	DispatchStream string
	AnalysisGroup  string

	GraphBackend  string // neo4j | postgres | memory
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	GraphPgDSN    string

	GraphServiceURL string
	GraphPort       string
	IngesterPort    string
	IngesterSecret  string

	GitHubToken string
	ReposDir    string
	Parallelism int

	Archive ArchiveConfig
}

// ArchiveConfig mirrors the object-storage settings; Enabled is derived from
// the endpoint being set.
type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Load reads the environment once. godotenv is best-effort: a missing .env
// is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		RedisURL:        getenv("REDIS_URL", "redis://localhost:6379"),
		AnalysisStream:  getenv("ANALYSIS_STREAM", "analysisStream"),
		DispatchStream:  getenv("DISPATCH_STREAM", "dispatchStream"),
		AnalysisGroup:   getenv("ANALYSIS_GROUP", "analyzers"),
		GraphBackend:    strings.ToLower(getenv("GRAPH_BACKEND", "neo4j")),
		Neo4jURI:        getenv("NEO4J_URI", ""),
		Neo4jUser:       getenv("NEO4J_USER", "neo4j"),
		Neo4jPassword:   getenv("NEO4J_PASSWORD", ""),
		GraphPgDSN:      getenv("GRAPH_PG_DSN", ""),
		GraphServiceURL: getenv("GRAPH_SERVICE_URL", "http://localhost:4000"),
		GraphPort:       port(getenv("GRAPH_PORT", ":4000")),
		IngesterPort:    port(getenv("INGESTER_PORT", ":3000")),
		IngesterSecret:  getenv("INGESTER_SECRET", ""),
		GitHubToken:     getenv("GITHUB_TOKEN", ""),
		ReposDir:        getenv("REPOS_DIR", defaultReposDir()),
		Parallelism:     intenv("ANALYSIS_PARALLELISM", defaultParallelism()),
		Archive:         loadArchive(),
	}
	switch cfg.GraphBackend {
	case "neo4j", "postgres", "memory":
	default:
		return nil, fmt.Errorf("config: unknown GRAPH_BACKEND %q", cfg.GraphBackend)
	}
	return cfg, nil
}

// ValidateGraph checks the settings the selected graph backend requires.
func (c *Config) ValidateGraph() error {
	switch c.GraphBackend {
	case "neo4j":
		if c.Neo4jURI == "" {
			return fmt.Errorf("config: NEO4J_URI is required for the neo4j backend")
		}
	case "postgres":
		if c.GraphPgDSN == "" {
			return fmt.Errorf("config: GRAPH_PG_DSN is required for the postgres backend")
		}
	}
	return nil
}

// ValidateIngester checks what the trigger endpoint requires.
func (c *Config) ValidateIngester() error {
	if c.IngesterSecret == "" {
		return fmt.Errorf("config: INGESTER_SECRET is required")
	}
	return nil
}

func loadArchive() ArchiveConfig {
	endpoint := getenv("ARCHIVE_S3_ENDPOINT", "")
	return ArchiveConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    getenv("ARCHIVE_S3_REGION", "us-east-1"),
		AccessKey: firstNonEmpty(getenv("ARCHIVE_S3_ACCESS_KEY", ""), getenv("MINIO_ROOT_USER", "")),
		SecretKey: firstNonEmpty(getenv("ARCHIVE_S3_SECRET_KEY", ""), getenv("MINIO_ROOT_PASSWORD", "")),
		Bucket:    getenv("ARCHIVE_S3_BUCKET", "doraemon-results"),
		UseSSL:    boolenv("ARCHIVE_S3_USE_SSL", false),
	}
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intenv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func boolenv(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func port(v string) string {
	if strings.HasPrefix(v, ":") {
		return v
	}
	return ":" + v
}

func defaultReposDir() string {
	if wd, err := os.Getwd(); err == nil {
		return wd + string(os.PathSeparator) + "repos"
	}
	return "repos"
}

func defaultParallelism() int {
	n := runtime.NumCPU()
	if n < 2 {
		return 2
	}
	if n > 16 {
		return 16
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
