// Package memory holds an in-process graph store used by tests and
// single-process development. It mirrors the transactional semantics of the
// persistent backends under one mutex.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"doraemon/internal/types"
)

type fileKey struct {
	repo string
	path string
}

type edgeKey struct {
	repo string
	from string
	to   string
}

// Store is a threadsafe in-memory graph store.
type Store struct {
	mu    sync.RWMutex
	repos map[string]string // repo -> lastAnalyzedSha
	files map[fileKey]string
	edges map[edgeKey]struct{}
}

func New() *Store {
	return &Store{
		repos: make(map[string]string),
		files: make(map[fileKey]string),
		edges: make(map[edgeKey]struct{}),
	}
}

func (s *Store) RepoExists(_ context.Context, repo string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.repos[repo]; ok {
		return true, nil
	}
	for k := range s.files {
		if k.repo == repo {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetLastAnalyzedSha(_ context.Context, repo string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sha, ok := s.repos[repo]
	return sha, ok, nil
}

func (s *Store) SetLastAnalyzedSha(_ context.Context, repo, sha string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[repo] = sha
	return nil
}

func (s *Store) UpsertFile(_ context.Context, repo, path, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fileKey{repo, path}] = name
	return nil
}

func (s *Store) DeleteFile(_ context.Context, repo, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, fileKey{repo, path})
	for k := range s.edges {
		if k.repo == repo && (k.from == path || k.to == path) {
			delete(s.edges, k)
		}
	}
	return nil
}

func (s *Store) UpsertEdge(_ context.Context, repo, fromPath, toPath, toName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[fileKey{repo, fromPath}]; !ok {
		s.files[fileKey{repo, fromPath}] = types.Basename(fromPath)
	}
	if _, ok := s.files[fileKey{repo, toPath}]; !ok || toName != "" {
		s.files[fileKey{repo, toPath}] = toName
	}
	s.edges[edgeKey{repo, fromPath, toPath}] = struct{}{}
	return nil
}

func (s *Store) DeleteOutgoingEdges(_ context.Context, repo, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.edges {
		if k.repo == repo && k.from == path {
			delete(s.edges, k)
		}
	}
	return nil
}

func (s *Store) Dependencies(_ context.Context, repo, path string) ([]types.FileNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.FileNode
	for k := range s.edges {
		if k.repo == repo && k.from == path {
			out = append(out, s.nodeLocked(repo, k.to))
		}
	}
	sortNodes(out)
	return out, nil
}

func (s *Store) Dependents(_ context.Context, repo, path string) ([]types.FileNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.FileNode
	for k := range s.edges {
		if k.repo == repo && k.to == path {
			out = append(out, s.nodeLocked(repo, k.from))
		}
	}
	sortNodes(out)
	return out, nil
}

func (s *Store) RecursiveDependents(_ context.Context, repo, path string) ([]types.FileNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reverse := make(map[string][]string)
	for k := range s.edges {
		if k.repo == repo {
			reverse[k.to] = append(reverse[k.to], k.from)
		}
	}

	visited := map[string]struct{}{path: {}}
	queue := []string{path}
	var out []types.FileNode
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range reverse[cur] {
			if _, seen := visited[dep]; seen {
				continue
			}
			visited[dep] = struct{}{}
			out = append(out, s.nodeLocked(repo, dep))
			queue = append(queue, dep)
		}
	}
	sortNodes(out)
	return out, nil
}

func (s *Store) FullGraph(_ context.Context, repo string) (types.GraphSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var snap types.GraphSnapshot
	for k, name := range s.files {
		if k.repo == repo {
			snap.Files = append(snap.Files, types.FileNode{Repo: repo, Path: k.path, Name: name})
		}
	}
	for k := range s.edges {
		if k.repo == repo {
			snap.Edges = append(snap.Edges, types.ImportEdge{Repo: repo, From: k.from, To: k.to})
		}
	}
	sortNodes(snap.Files)
	sort.Slice(snap.Edges, func(i, j int) bool {
		if snap.Edges[i].From != snap.Edges[j].From {
			return snap.Edges[i].From < snap.Edges[j].From
		}
		return snap.Edges[i].To < snap.Edges[j].To
	})
	return snap, nil
}

func (s *Store) EnsureConstraints(context.Context) error { return nil }

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) nodeLocked(repo, path string) types.FileNode {
	name := s.files[fileKey{repo, path}]
	if strings.TrimSpace(name) == "" {
		name = types.Basename(path)
	}
	return types.FileNode{Repo: repo, Path: path, Name: name}
}

func sortNodes(in []types.FileNode) {
	sort.Slice(in, func(i, j int) bool { return in[i].Path < in[j].Path })
}
