// Package neo4jstore implements the graph store on a Neo4j database.
//
// Schema: (:File {id, repo, name}) unique on (id, repo),
// (:Repository {name, lastAnalyzedSha}) unique on name, and
// (:File)-[:IMPORTS]->(:File). Every operation runs inside one managed
// transaction so failures leave the stored graph untouched.
package neo4jstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"doraemon/internal/graph"
	"doraemon/internal/types"
)

// Store talks to Neo4j through a single driver created at startup.
type Store struct {
	driver neo4j.DriverWithContext
}

// Config carries the connection settings for the Neo4j backend.
type Config struct {
	URI      string
	User     string
	Password string
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, fmt.Errorf("neo4jstore: uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4jstore: init driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4jstore: verify connectivity: %w (%w)", err, graph.ErrUnavailable)
	}
	return &Store{driver: driver}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) write(ctx context.Context, cypher string, params map[string]any) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return wrapErr(err)
}

func (s *Store) readNodes(ctx context.Context, repo, cypher string, params map[string]any) ([]types.FileNode, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		nodes := make([]types.FileNode, 0, len(records))
		for _, rec := range records {
			nodes = append(nodes, types.FileNode{
				Repo: repo,
				Path: stringValue(rec.Values[0]),
				Name: stringValue(rec.Values[1]),
			})
		}
		return nodes, nil
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	return out.([]types.FileNode), nil
}

func (s *Store) RepoExists(ctx context.Context, repo string) (bool, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			`RETURN EXISTS { MATCH (:Repository {name: $repo}) } OR EXISTS { MATCH (:File {repo: $repo}) } AS present`,
			map[string]any{"repo": repo})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		present, _ := rec.Values[0].(bool)
		return present, nil
	})
	if err != nil {
		return false, wrapErr(err)
	}
	return out.(bool), nil
}

func (s *Store) GetLastAnalyzedSha(ctx context.Context, repo string) (string, bool, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			`MATCH (r:Repository {name: $repo}) RETURN r.lastAnalyzedSha AS sha`,
			map[string]any{"repo": repo})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return "", nil
		}
		return stringValue(records[0].Values[0]), nil
	})
	if err != nil {
		return "", false, wrapErr(err)
	}
	sha := out.(string)
	return sha, sha != "", nil
}

func (s *Store) SetLastAnalyzedSha(ctx context.Context, repo, sha string) error {
	return s.write(ctx,
		`MERGE (r:Repository {name: $repo}) SET r.lastAnalyzedSha = $sha`,
		map[string]any{"repo": repo, "sha": sha})
}

func (s *Store) UpsertFile(ctx context.Context, repo, path, name string) error {
	return s.write(ctx,
		`MERGE (f:File {id: $path, repo: $repo}) SET f.name = $name`,
		map[string]any{"repo": repo, "path": path, "name": name})
}

func (s *Store) DeleteFile(ctx context.Context, repo, path string) error {
	return s.write(ctx,
		`MATCH (f:File {id: $path, repo: $repo}) DETACH DELETE f`,
		map[string]any{"repo": repo, "path": path})
}

func (s *Store) UpsertEdge(ctx context.Context, repo, fromPath, toPath, toName string) error {
	// The source node is merged in the same transaction: a concurrent
	// DeleteFile of the source cannot leave the new edge orphaned.
	return s.write(ctx,
		`MERGE (src:File {id: $from, repo: $repo})
		   ON CREATE SET src.name = $fromName
		 MERGE (dst:File {id: $to, repo: $repo})
		 SET dst.name = $toName
		 MERGE (src)-[:IMPORTS]->(dst)`,
		map[string]any{
			"repo":     repo,
			"from":     fromPath,
			"fromName": types.Basename(fromPath),
			"to":       toPath,
			"toName":   toName,
		})
}

func (s *Store) DeleteOutgoingEdges(ctx context.Context, repo, path string) error {
	return s.write(ctx,
		`MATCH (:File {id: $path, repo: $repo})-[e:IMPORTS]->() DELETE e`,
		map[string]any{"repo": repo, "path": path})
}

func (s *Store) Dependencies(ctx context.Context, repo, path string) ([]types.FileNode, error) {
	return s.readNodes(ctx, repo,
		`MATCH (:File {id: $path, repo: $repo})-[:IMPORTS]->(d:File)
		 RETURN d.id, d.name ORDER BY d.id`,
		map[string]any{"repo": repo, "path": path})
}

func (s *Store) Dependents(ctx context.Context, repo, path string) ([]types.FileNode, error) {
	return s.readNodes(ctx, repo,
		`MATCH (:File {id: $path, repo: $repo})<-[:IMPORTS]-(d:File)
		 RETURN d.id, d.name ORDER BY d.id`,
		map[string]any{"repo": repo, "path": path})
}

func (s *Store) RecursiveDependents(ctx context.Context, repo, path string) ([]types.FileNode, error) {
	// Variable-length expansion; DISTINCT collapses the many paths a cyclic
	// subgraph produces. A cycle back to the start node would return it as d;
	// the WHERE clause drops it.
	return s.readNodes(ctx, repo,
		`MATCH (f:File {id: $path, repo: $repo})<-[:IMPORTS*1..]-(d:File)
		 WHERE d <> f
		 RETURN DISTINCT d.id, d.name ORDER BY d.id`,
		map[string]any{"repo": repo, "path": path})
}

func (s *Store) FullGraph(ctx context.Context, repo string) (types.GraphSnapshot, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var snap types.GraphSnapshot

		res, err := tx.Run(ctx,
			`MATCH (f:File {repo: $repo}) RETURN f.id, f.name ORDER BY f.id`,
			map[string]any{"repo": repo})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			snap.Files = append(snap.Files, types.FileNode{
				Repo: repo,
				Path: stringValue(rec.Values[0]),
				Name: stringValue(rec.Values[1]),
			})
		}

		res, err = tx.Run(ctx,
			`MATCH (a:File {repo: $repo})-[:IMPORTS]->(b:File {repo: $repo})
			 RETURN a.id, b.id ORDER BY a.id, b.id`,
			map[string]any{"repo": repo})
		if err != nil {
			return nil, err
		}
		records, err = res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			snap.Edges = append(snap.Edges, types.ImportEdge{
				Repo: repo,
				From: stringValue(rec.Values[0]),
				To:   stringValue(rec.Values[1]),
			})
		}
		return snap, nil
	})
	if err != nil {
		return types.GraphSnapshot{}, wrapErr(err)
	}
	return out.(types.GraphSnapshot), nil
}

func (s *Store) EnsureConstraints(ctx context.Context) error {
	if err := s.dropLegacyFileConstraint(ctx); err != nil {
		return err
	}
	ddl := []string{
		`CREATE CONSTRAINT file_repo_path IF NOT EXISTS
		 FOR (f:File) REQUIRE (f.id, f.repo) IS UNIQUE`,
		`CREATE CONSTRAINT repository_name IF NOT EXISTS
		 FOR (r:Repository) REQUIRE r.name IS UNIQUE`,
	}
	for _, stmt := range ddl {
		if err := s.write(ctx, stmt, nil); err != nil {
			return fmt.Errorf("neo4jstore: ensure constraints: %w", err)
		}
	}
	return nil
}

// dropLegacyFileConstraint removes the historical single-property uniqueness
// on File.id. It would reject the same path appearing in two repositories.
func (s *Store) dropLegacyFileConstraint(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			`SHOW CONSTRAINTS YIELD name, labelsOrTypes, properties
			 WHERE labelsOrTypes = ['File'] AND properties = ['id']
			 RETURN name`, nil)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			name := stringValue(rec.Values[0])
			if name == "" || strings.ContainsAny(name, "`;") {
				continue
			}
			drop, err := tx.Run(ctx, fmt.Sprintf("DROP CONSTRAINT `%s` IF EXISTS", name), nil)
			if err != nil {
				return nil, err
			}
			if _, err := drop.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4jstore: drop legacy constraint: %w", wrapErr(err))
	}
	return nil
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if neo4j.IsNeo4jError(err) {
		if strings.Contains(err.Error(), "ConstraintValidationFailed") {
			return fmt.Errorf("%w: %w", graph.ErrConstraint, err)
		}
		return err
	}
	// Non-server errors are transport-level: connection refused, timeouts,
	// closed driver.
	return fmt.Errorf("%w: %w", graph.ErrUnavailable, err)
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
