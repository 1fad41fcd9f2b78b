// Package backend opens the graph store selected by configuration.
package backend

import (
	"context"
	"fmt"

	"doraemon/internal/config"
	"doraemon/internal/graph"
	"doraemon/internal/graph/memory"
	"doraemon/internal/graph/neo4jstore"
	"doraemon/internal/graph/pgstore"
)

// Open connects the configured backend and installs its constraints.
func Open(ctx context.Context, cfg *config.Config) (graph.Store, error) {
	var (
		store graph.Store
		err   error
	)
	switch cfg.GraphBackend {
	case "neo4j":
		store, err = neo4jstore.New(ctx, neo4jstore.Config{
			URI:      cfg.Neo4jURI,
			User:     cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
		})
	case "postgres":
		store, err = pgstore.New(ctx, cfg.GraphPgDSN)
	case "memory":
		store = memory.New()
	default:
		return nil, fmt.Errorf("backend: unknown graph backend %q", cfg.GraphBackend)
	}
	if err != nil {
		return nil, err
	}
	if err := store.EnsureConstraints(ctx); err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	return store, nil
}
