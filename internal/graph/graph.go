// Package graph defines the storage contract for the per-repository import
// graph. Implementations live in subpackages (neo4j, postgres, memory) and
// must keep every mutation idempotent: jobs are delivered at least once and
// may replay any sequence of operations.
package graph

import (
	"context"
	"errors"

	"doraemon/internal/types"
)

var (
	// ErrUnavailable wraps transport failures talking to the backing store.
	ErrUnavailable = errors.New("graph: store unavailable")
	// ErrConstraint wraps uniqueness-constraint violations.
	ErrConstraint = errors.New("graph: constraint conflict")
)

// Store persists file nodes and IMPORTS edges keyed by (repo, path).
//
// All mutations are idempotent and each runs in a single transaction;
// a failed call leaves stored state unchanged.
type Store interface {
	// RepoExists reports whether any state is stored for repo.
	RepoExists(ctx context.Context, repo string) (bool, error)

	// GetLastAnalyzedSha reads the repo record. ok=false means the repo is
	// unknown to the store.
	GetLastAnalyzedSha(ctx context.Context, repo string) (sha string, ok bool, err error)

	// SetLastAnalyzedSha upserts the repo record.
	SetLastAnalyzedSha(ctx context.Context, repo, sha string) error

	// UpsertFile creates the file if missing, else updates its name. Edges
	// incident to an existing file are left untouched.
	UpsertFile(ctx context.Context, repo, path, name string) error

	// DeleteFile removes the file and every incident edge. Deleting a
	// missing file is a success.
	DeleteFile(ctx context.Context, repo, path string) error

	// UpsertEdge ensures both endpoints exist and exactly one IMPORTS edge
	// from fromPath to toPath. The source endpoint is ensured in the same
	// transaction so a concurrent delete cannot leave an orphan edge.
	UpsertEdge(ctx context.Context, repo, fromPath, toPath, toName string) error

	// DeleteOutgoingEdges removes all IMPORTS edges leaving path. The node
	// itself is kept.
	DeleteOutgoingEdges(ctx context.Context, repo, path string) error

	// Dependencies returns the files path imports, one hop.
	Dependencies(ctx context.Context, repo, path string) ([]types.FileNode, error)

	// Dependents returns the files importing path, one hop.
	Dependents(ctx context.Context, repo, path string) ([]types.FileNode, error)

	// RecursiveDependents returns every file reachable by following IMPORTS
	// edges backwards one or more hops from path. Cycles are tolerated;
	// each file appears at most once and path itself is excluded.
	RecursiveDependents(ctx context.Context, repo, path string) ([]types.FileNode, error)

	// FullGraph returns all nodes and edges stored for repo.
	FullGraph(ctx context.Context, repo string) (types.GraphSnapshot, error)

	// EnsureConstraints installs the composite (repo, path) uniqueness on
	// files and the name uniqueness on repos, dropping the legacy
	// single-property file constraint first if present. Safe to call
	// repeatedly; run at startup.
	EnsureConstraints(ctx context.Context) error

	// Close releases the underlying driver.
	Close(ctx context.Context) error
}
