package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"doraemon/internal/types"
)

const repo = "acme/widget"

func paths(nodes []types.FileNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Path)
	}
	return out
}

func TestUpsertFileIsIdempotentAndKeepsEdges(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.UpsertFile(ctx, repo, "src/a.ts", "a.ts"))
	require.NoError(t, s.UpsertEdge(ctx, repo, "src/a.ts", "src/b.ts", "b.ts"))
	require.NoError(t, s.UpsertFile(ctx, repo, "src/a.ts", "a.ts"))
	require.NoError(t, s.UpsertFile(ctx, repo, "src/a.ts", "renamed.ts"))

	snap, err := s.FullGraph(ctx, repo)
	require.NoError(t, err)
	require.Len(t, snap.Files, 2, "one file per (repo, path)")
	require.Len(t, snap.Edges, 1)
	require.Equal(t, "renamed.ts", snap.Files[0].Name)
}

func TestDeleteFileRemovesIncidentEdges(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.UpsertEdge(ctx, repo, "a.ts", "b.ts", "b.ts"))
	require.NoError(t, s.UpsertEdge(ctx, repo, "c.ts", "b.ts", "b.ts"))
	require.NoError(t, s.UpsertEdge(ctx, repo, "b.ts", "d.ts", "d.ts"))

	require.NoError(t, s.DeleteFile(ctx, repo, "b.ts"))
	// Deleting again is a success.
	require.NoError(t, s.DeleteFile(ctx, repo, "b.ts"))

	snap, err := s.FullGraph(ctx, repo)
	require.NoError(t, err)
	require.Empty(t, snap.Edges)
	require.Equal(t, []string{"a.ts", "c.ts", "d.ts"}, paths(snap.Files))
}

func TestUpsertEdgeForbidsMultiEdges(t *testing.T) {
	ctx := context.Background()
	s := New()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.UpsertEdge(ctx, repo, "a.ts", "b.ts", "b.ts"))
	}
	snap, err := s.FullGraph(ctx, repo)
	require.NoError(t, err)
	require.Len(t, snap.Edges, 1)
}

func TestDeleteOutgoingEdgesKeepsNodeAndInbound(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.UpsertEdge(ctx, repo, "a.ts", "b.ts", "b.ts"))
	require.NoError(t, s.UpsertEdge(ctx, repo, "a.ts", "c.ts", "c.ts"))
	require.NoError(t, s.UpsertEdge(ctx, repo, "d.ts", "a.ts", "a.ts"))

	require.NoError(t, s.DeleteOutgoingEdges(ctx, repo, "a.ts"))

	deps, err := s.Dependencies(ctx, repo, "a.ts")
	require.NoError(t, err)
	require.Empty(t, deps)

	dependents, err := s.Dependents(ctx, repo, "a.ts")
	require.NoError(t, err)
	require.Equal(t, []string{"d.ts"}, paths(dependents))
}

func TestRecursiveDependentsHandlesCycles(t *testing.T) {
	ctx := context.Background()
	s := New()

	// a <-> b mutual import plus c -> a.
	require.NoError(t, s.UpsertEdge(ctx, repo, "a.ts", "b.ts", "b.ts"))
	require.NoError(t, s.UpsertEdge(ctx, repo, "b.ts", "a.ts", "a.ts"))
	require.NoError(t, s.UpsertEdge(ctx, repo, "c.ts", "a.ts", "a.ts"))

	got, err := s.RecursiveDependents(ctx, repo, "a.ts")
	require.NoError(t, err)
	require.Equal(t, []string{"b.ts", "c.ts"}, paths(got), "excludes a.ts itself, dedupes the cycle")
}

func TestRecursiveDependentsMultiHop(t *testing.T) {
	ctx := context.Background()
	s := New()

	// c -> a -> (leaf), b -> a; d imports c so d is a second-hop dependent of a.
	require.NoError(t, s.UpsertEdge(ctx, repo, "b.ts", "a.ts", "a.ts"))
	require.NoError(t, s.UpsertEdge(ctx, repo, "c.ts", "a.ts", "a.ts"))
	require.NoError(t, s.UpsertEdge(ctx, repo, "d.ts", "c.ts", "c.ts"))

	got, err := s.RecursiveDependents(ctx, repo, "a.ts")
	require.NoError(t, err)
	require.Equal(t, []string{"b.ts", "c.ts", "d.ts"}, paths(got))
}

func TestReposAreIsolatedByKey(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.UpsertEdge(ctx, "acme/widget", "a.ts", "b.ts", "b.ts"))
	require.NoError(t, s.UpsertEdge(ctx, "acme/gadget", "a.ts", "b.ts", "b.ts"))

	require.NoError(t, s.DeleteFile(ctx, "acme/gadget", "a.ts"))

	snap, err := s.FullGraph(ctx, "acme/widget")
	require.NoError(t, err)
	require.Len(t, snap.Files, 2)
	require.Len(t, snap.Edges, 1)
}

func TestLastAnalyzedShaRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, ok, err := s.GetLastAnalyzedSha(ctx, repo)
	require.NoError(t, err)
	require.False(t, ok)

	exists, err := s.RepoExists(ctx, repo)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, s.SetLastAnalyzedSha(ctx, repo, "abc123"))
	require.NoError(t, s.SetLastAnalyzedSha(ctx, repo, "abc123"))

	sha, ok, err := s.GetLastAnalyzedSha(ctx, repo)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc123", sha)

	exists, err = s.RepoExists(ctx, repo)
	require.NoError(t, err)
	require.True(t, exists)
}
