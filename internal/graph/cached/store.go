// Package cached decorates a graph store with an LRU cache over its read
// queries. Any file or edge mutation bumps the owning repo's generation, which makes every
// cached entry for that repo unreachable; the LRU evicts them over time.
package cached

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"doraemon/internal/graph"
	"doraemon/internal/types"
)

const defaultEntries = 4096

// Store wraps an inner graph store with read-query caching.
type Store struct {
	inner graph.Store

	mu  sync.Mutex
	gen map[string]uint64

	nodes *lru.Cache[string, []types.FileNode]
}

func New(inner graph.Store) (*Store, error) {
	cache, err := lru.New[string, []types.FileNode](defaultEntries)
	if err != nil {
		return nil, fmt.Errorf("cached: init lru: %w", err)
	}
	return &Store{
		inner: inner,
		gen:   make(map[string]uint64),
		nodes: cache,
	}, nil
}

func (s *Store) generation(repo string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[repo]
}

func (s *Store) invalidate(repo string) {
	s.mu.Lock()
	s.gen[repo]++
	s.mu.Unlock()
}

func (s *Store) key(kind, repo, path string) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%d", kind, repo, path, s.generation(repo))
}

func (s *Store) cachedNodes(ctx context.Context, kind, repo, path string,
	load func(context.Context, string, string) ([]types.FileNode, error)) ([]types.FileNode, error) {
	key := s.key(kind, repo, path)
	if v, ok := s.nodes.Get(key); ok {
		return v, nil
	}
	v, err := load(ctx, repo, path)
	if err != nil {
		return nil, err
	}
	s.nodes.Add(key, v)
	return v, nil
}

func (s *Store) Dependencies(ctx context.Context, repo, path string) ([]types.FileNode, error) {
	return s.cachedNodes(ctx, "dependencies", repo, path, s.inner.Dependencies)
}

func (s *Store) Dependents(ctx context.Context, repo, path string) ([]types.FileNode, error) {
	return s.cachedNodes(ctx, "dependents", repo, path, s.inner.Dependents)
}

func (s *Store) RecursiveDependents(ctx context.Context, repo, path string) ([]types.FileNode, error) {
	return s.cachedNodes(ctx, "recursive", repo, path, s.inner.RecursiveDependents)
}

func (s *Store) RepoExists(ctx context.Context, repo string) (bool, error) {
	return s.inner.RepoExists(ctx, repo)
}

func (s *Store) GetLastAnalyzedSha(ctx context.Context, repo string) (string, bool, error) {
	return s.inner.GetLastAnalyzedSha(ctx, repo)
}

func (s *Store) SetLastAnalyzedSha(ctx context.Context, repo, sha string) error {
	return s.inner.SetLastAnalyzedSha(ctx, repo, sha)
}

func (s *Store) UpsertFile(ctx context.Context, repo, path, name string) error {
	s.invalidate(repo)
	return s.inner.UpsertFile(ctx, repo, path, name)
}

func (s *Store) DeleteFile(ctx context.Context, repo, path string) error {
	s.invalidate(repo)
	return s.inner.DeleteFile(ctx, repo, path)
}

func (s *Store) UpsertEdge(ctx context.Context, repo, fromPath, toPath, toName string) error {
	s.invalidate(repo)
	return s.inner.UpsertEdge(ctx, repo, fromPath, toPath, toName)
}

func (s *Store) DeleteOutgoingEdges(ctx context.Context, repo, path string) error {
	s.invalidate(repo)
	return s.inner.DeleteOutgoingEdges(ctx, repo, path)
}

func (s *Store) FullGraph(ctx context.Context, repo string) (types.GraphSnapshot, error) {
	return s.inner.FullGraph(ctx, repo)
}

func (s *Store) EnsureConstraints(ctx context.Context) error {
	return s.inner.EnsureConstraints(ctx)
}

func (s *Store) Close(ctx context.Context) error { return s.inner.Close(ctx) }
