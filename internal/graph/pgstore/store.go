// Package pgstore implements the graph store on PostgreSQL. Transitive
// dependents are served by a recursive CTE; UNION (not UNION ALL) makes the
// expansion terminate on cyclic subgraphs.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"doraemon/internal/graph"
	"doraemon/internal/types"
)

// Store is a graph store backed by three relational tables: repositories,
// files and imports.
type Store struct {
	db *sql.DB
}

// New opens a pooled connection and pings it.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgstore: ping: %w (%w)", err, graph.ErrUnavailable)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close(context.Context) error { return s.db.Close() }

func (s *Store) EnsureConstraints(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS repositories (
			name TEXT PRIMARY KEY,
			last_analyzed_sha TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			repo TEXT NOT NULL,
			path TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (repo, path)
		)`,
		`CREATE TABLE IF NOT EXISTS imports (
			repo TEXT NOT NULL,
			from_path TEXT NOT NULL,
			to_path TEXT NOT NULL,
			PRIMARY KEY (repo, from_path, to_path)
		)`,
		`CREATE INDEX IF NOT EXISTS imports_repo_to_path ON imports (repo, to_path)`,
		// Legacy schema kept files unique on path alone, which breaks the
		// moment two repositories share a path. Drop it if present.
		`ALTER TABLE files DROP CONSTRAINT IF EXISTS files_path_key`,
		`DROP INDEX IF EXISTS files_path_key`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrapErr(fmt.Errorf("pgstore: ensure constraints: %w", err))
		}
	}
	return nil
}

func (s *Store) RepoExists(ctx context.Context, repo string) (bool, error) {
	var present bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM repositories WHERE name = $1)
		     OR EXISTS (SELECT 1 FROM files WHERE repo = $1)`, repo).Scan(&present)
	if err != nil {
		return false, wrapErr(err)
	}
	return present, nil
}

func (s *Store) GetLastAnalyzedSha(ctx context.Context, repo string) (string, bool, error) {
	var sha string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_analyzed_sha FROM repositories WHERE name = $1`, repo).Scan(&sha)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr(err)
	}
	return sha, sha != "", nil
}

func (s *Store) SetLastAnalyzedSha(ctx context.Context, repo, sha string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (name, last_analyzed_sha) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET last_analyzed_sha = EXCLUDED.last_analyzed_sha`,
		repo, sha)
	return wrapErr(err)
}

func (s *Store) UpsertFile(ctx context.Context, repo, path, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (repo, path, name) VALUES ($1, $2, $3)
		 ON CONFLICT (repo, path) DO UPDATE SET name = EXCLUDED.name`,
		repo, path, name)
	return wrapErr(err)
}

func (s *Store) DeleteFile(ctx context.Context, repo, path string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM imports WHERE repo = $1 AND (from_path = $2 OR to_path = $2)`,
			repo, path); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM files WHERE repo = $1 AND path = $2`, repo, path)
		return err
	})
}

func (s *Store) UpsertEdge(ctx context.Context, repo, fromPath, toPath, toName string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO files (repo, path, name) VALUES ($1, $2, $3)
			 ON CONFLICT (repo, path) DO NOTHING`,
			repo, fromPath, types.Basename(fromPath)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO files (repo, path, name) VALUES ($1, $2, $3)
			 ON CONFLICT (repo, path) DO UPDATE SET name = EXCLUDED.name`,
			repo, toPath, toName); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO imports (repo, from_path, to_path) VALUES ($1, $2, $3)
			 ON CONFLICT (repo, from_path, to_path) DO NOTHING`,
			repo, fromPath, toPath)
		return err
	})
}

func (s *Store) DeleteOutgoingEdges(ctx context.Context, repo, path string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM imports WHERE repo = $1 AND from_path = $2`, repo, path)
	return wrapErr(err)
}

func (s *Store) Dependencies(ctx context.Context, repo, path string) ([]types.FileNode, error) {
	return s.queryNodes(ctx, repo,
		`SELECT f.path, f.name FROM imports i
		 JOIN files f ON f.repo = i.repo AND f.path = i.to_path
		 WHERE i.repo = $1 AND i.from_path = $2 ORDER BY f.path`,
		repo, path)
}

func (s *Store) Dependents(ctx context.Context, repo, path string) ([]types.FileNode, error) {
	return s.queryNodes(ctx, repo,
		`SELECT f.path, f.name FROM imports i
		 JOIN files f ON f.repo = i.repo AND f.path = i.from_path
		 WHERE i.repo = $1 AND i.to_path = $2 ORDER BY f.path`,
		repo, path)
}

func (s *Store) RecursiveDependents(ctx context.Context, repo, path string) ([]types.FileNode, error) {
	return s.queryNodes(ctx, repo,
		`WITH RECURSIVE dependents (path) AS (
			SELECT from_path FROM imports WHERE repo = $1 AND to_path = $2
			UNION
			SELECT i.from_path FROM imports i
			JOIN dependents d ON i.to_path = d.path
			WHERE i.repo = $1
		 )
		 SELECT f.path, f.name FROM dependents d
		 JOIN files f ON f.repo = $1 AND f.path = d.path
		 WHERE d.path <> $2
		 ORDER BY f.path`,
		repo, path)
}

func (s *Store) FullGraph(ctx context.Context, repo string) (types.GraphSnapshot, error) {
	var snap types.GraphSnapshot
	files, err := s.queryNodes(ctx, repo,
		`SELECT path, name FROM files WHERE repo = $1 ORDER BY path`, repo)
	if err != nil {
		return snap, err
	}
	snap.Files = files

	rows, err := s.db.QueryContext(ctx,
		`SELECT from_path, to_path FROM imports WHERE repo = $1 ORDER BY from_path, to_path`, repo)
	if err != nil {
		return snap, wrapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var e types.ImportEdge
		e.Repo = repo
		if err := rows.Scan(&e.From, &e.To); err != nil {
			return snap, wrapErr(err)
		}
		snap.Edges = append(snap.Edges, e)
	}
	return snap, wrapErr(rows.Err())
}

func (s *Store) queryNodes(ctx context.Context, repo, query string, args ...any) ([]types.FileNode, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []types.FileNode
	for rows.Next() {
		n := types.FileNode{Repo: repo}
		if err := rows.Scan(&n.Path, &n.Name); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, n)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return wrapErr(err)
	}
	return wrapErr(tx.Commit())
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return fmt.Errorf("%w: %w", graph.ErrConstraint, err)
		}
		return err
	}
	return fmt.Errorf("%w: %w", graph.ErrUnavailable, err)
}
