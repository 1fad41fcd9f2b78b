package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"doraemon/internal/graph/memory"
	"doraemon/internal/types"
)

// fakeSource models the forge and the local mirror in memory. Clone
// materializes remoteFiles on disk so full analysis can enumerate them.
type fakeSource struct {
	mu sync.Mutex

	base        string
	head        string
	headErr     error
	remoteFiles []string
	diffs       map[string][]types.DiffEntry

	cloned      bool
	fetches     int
	checkouts   []string
	unshallowed chan struct{}
}

func newFakeSource(t *testing.T) *fakeSource {
	return &fakeSource{
		base:        t.TempDir(),
		diffs:       make(map[string][]types.DiffEntry),
		unshallowed: make(chan struct{}, 8),
	}
}

func (f *fakeSource) LatestSha(context.Context, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

func (f *fakeSource) WorkTree(repo string) string {
	return filepath.Join(f.base, filepath.FromSlash(repo))
}

func (f *fakeSource) MirrorExists(repo string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cloned
}

func (f *fakeSource) Clone(_ context.Context, _, repo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rel := range f.remoteFiles {
		p := filepath.Join(f.WorkTree(repo), filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte("export {}\n"), 0o644); err != nil {
			return err
		}
	}
	f.cloned = true
	return nil
}

func (f *fakeSource) Unshallow(context.Context, string) error {
	f.unshallowed <- struct{}{}
	return nil
}

func (f *fakeSource) Fetch(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return nil
}

func (f *fakeSource) Checkout(_ context.Context, _, sha string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, sha)
	return nil
}

func (f *fakeSource) Diff(_ context.Context, _, oldSha, newSha string) ([]types.DiffEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.diffs[oldSha+".."+newSha]
	if !ok {
		return nil, fmt.Errorf("no diff for %s..%s", oldSha, newSha)
	}
	return d, nil
}

// fakeExtractor serves import lists from a map keyed by repo-relative path.
type fakeExtractor struct {
	mu      sync.Mutex
	imports map[string][]string
}

func (f *fakeExtractor) set(path string, targets ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.imports == nil {
		f.imports = make(map[string][]string)
	}
	f.imports[path] = targets
}

func (f *fakeExtractor) Imports(_, rel string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.imports[rel], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func job(sha string) types.AnalysisJob {
	return types.AnalysisJob{
		RepoURL: "https://github.com/acme/widget.git",
		Sha:     sha,
		Event:   "push",
	}
}

func edgeSet(t *testing.T, snap types.GraphSnapshot) map[string]struct{} {
	t.Helper()
	out := make(map[string]struct{}, len(snap.Edges))
	for _, e := range snap.Edges {
		out[e.From+"->"+e.To] = struct{}{}
	}
	return out
}

func TestFirstAnalysisBuildsGraphFromScratch(t *testing.T) {
	store := memory.New()
	src := newFakeSource(t)
	src.head = "X"
	src.remoteFiles = []string{"a.ts", "b.ts"}
	ex := &fakeExtractor{}
	ex.set("a.ts", "b.ts")

	a := New(store, src, ex, testLogger())
	res := a.Process(context.Background(), job("X"))
	a.Wait()

	require.Equal(t, types.StatusSuccess, res.Status)
	require.Equal(t, "acme/widget", res.RepoName)
	require.Equal(t, "X", res.Sha)
	require.Empty(t, res.AffectedFiles, "no baseline to diff against")

	sha, ok, err := store.GetLastAnalyzedSha(context.Background(), "acme/widget")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "X", sha)

	snap, err := store.FullGraph(context.Background(), "acme/widget")
	require.NoError(t, err)
	require.Len(t, snap.Files, 2)
	require.Equal(t, map[string]struct{}{"a.ts->b.ts": {}}, edgeSet(t, snap))

	select {
	case <-src.unshallowed:
	default:
		t.Fatal("expected background unshallow after full analysis")
	}
}

func TestNoChangeLeavesStoreUntouched(t *testing.T) {
	store := memory.New()
	src := newFakeSource(t)
	src.head = "X"
	src.remoteFiles = []string{"a.ts", "b.ts"}
	ex := &fakeExtractor{}
	ex.set("a.ts", "b.ts")

	a := New(store, src, ex, testLogger())
	first := a.Process(context.Background(), job("X"))
	require.Equal(t, types.StatusSuccess, first.Status)
	before, err := store.FullGraph(context.Background(), "acme/widget")
	require.NoError(t, err)

	res := a.Process(context.Background(), job("X"))
	a.Wait()
	require.Equal(t, types.StatusNoChange, res.Status)
	require.Empty(t, res.AffectedFiles)

	after, err := store.FullGraph(context.Background(), "acme/widget")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestIncrementalAddAndModify(t *testing.T) {
	store := memory.New()
	src := newFakeSource(t)
	src.head = "X"
	src.remoteFiles = []string{"a.ts", "b.ts"}
	ex := &fakeExtractor{}
	ex.set("a.ts", "b.ts")

	a := New(store, src, ex, testLogger())
	require.Equal(t, types.StatusSuccess, a.Process(context.Background(), job("X")).Status)

	// Remote advances to Y: c.ts added, a.ts now imports b and c, c imports b.
	src.mu.Lock()
	src.head = "Y"
	src.diffs["X..Y"] = []types.DiffEntry{
		{Status: types.DiffAdded, Path: "c.ts"},
		{Status: types.DiffModified, Path: "a.ts"},
	}
	src.mu.Unlock()
	ex.set("a.ts", "b.ts", "c.ts")
	ex.set("c.ts", "b.ts")

	res := a.Process(context.Background(), job("Y"))
	a.Wait()
	require.Equal(t, types.StatusSuccess, res.Status)
	require.Equal(t, []string{"a.ts", "c.ts"}, res.AffectedFiles,
		"the only dependent (a.ts, of c.ts) is itself directly changed")

	sha, _, err := store.GetLastAnalyzedSha(context.Background(), "acme/widget")
	require.NoError(t, err)
	require.Equal(t, "Y", sha)

	snap, err := store.FullGraph(context.Background(), "acme/widget")
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{
		"a.ts->b.ts": {},
		"a.ts->c.ts": {},
		"c.ts->b.ts": {},
	}, edgeSet(t, snap))
}

func TestIncrementalDeleteDropsNodeAndEdges(t *testing.T) {
	store := memory.New()
	src := newFakeSource(t)
	src.head = "X"
	src.remoteFiles = []string{"a.ts", "b.ts", "c.ts"}
	ex := &fakeExtractor{}
	ex.set("a.ts", "b.ts", "c.ts")
	ex.set("c.ts", "b.ts")

	a := New(store, src, ex, testLogger())
	require.Equal(t, types.StatusSuccess, a.Process(context.Background(), job("X")).Status)

	src.mu.Lock()
	src.head = "Z"
	src.diffs["X..Z"] = []types.DiffEntry{
		{Status: types.DiffDeleted, Path: "c.ts"},
		{Status: types.DiffModified, Path: "a.ts"},
	}
	src.mu.Unlock()
	ex.set("a.ts", "b.ts")

	res := a.Process(context.Background(), job("Z"))
	a.Wait()
	require.Equal(t, types.StatusSuccess, res.Status)
	require.Contains(t, res.AffectedFiles, "a.ts")

	snap, err := store.FullGraph(context.Background(), "acme/widget")
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{"a.ts->b.ts": {}}, edgeSet(t, snap))
	for _, f := range snap.Files {
		require.NotEqual(t, "c.ts", f.Path)
	}
}

func TestBlastRadiusIncludesRecursiveDependents(t *testing.T) {
	store := memory.New()
	src := newFakeSource(t)
	src.head = "X"
	// app -> feature -> util; a change to util affects all three.
	src.remoteFiles = []string{"app.ts", "feature.ts", "util.ts"}
	ex := &fakeExtractor{}
	ex.set("app.ts", "feature.ts")
	ex.set("feature.ts", "util.ts")

	a := New(store, src, ex, testLogger())
	require.Equal(t, types.StatusSuccess, a.Process(context.Background(), job("X")).Status)

	src.mu.Lock()
	src.head = "Y"
	src.diffs["X..Y"] = []types.DiffEntry{{Status: types.DiffModified, Path: "util.ts"}}
	src.mu.Unlock()
	ex.set("util.ts")

	res := a.Process(context.Background(), job("Y"))
	a.Wait()
	require.Equal(t, types.StatusSuccess, res.Status)
	require.Equal(t, []string{"app.ts", "feature.ts", "util.ts"}, res.AffectedFiles)
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	store := memory.New()
	src := newFakeSource(t)
	src.head = "X"
	src.remoteFiles = []string{"a.ts", "b.ts"}
	ex := &fakeExtractor{}
	ex.set("a.ts", "b.ts")

	a := New(store, src, ex, testLogger())
	require.Equal(t, types.StatusSuccess, a.Process(context.Background(), job("X")).Status)
	after1, err := store.FullGraph(context.Background(), "acme/widget")
	require.NoError(t, err)

	// The Y job is delivered twice: the first delivery runs the X..Y
	// incremental, the redelivery finds lastAnalyzedSha already at Y and
	// takes the no-change path. a.ts keeps its imports, so the graph matches
	// the one stored at X.
	src.mu.Lock()
	src.diffs["X..X"] = nil
	src.head = "Y"
	src.diffs["X..Y"] = []types.DiffEntry{{Status: types.DiffModified, Path: "a.ts"}}
	src.mu.Unlock()

	res1 := a.Process(context.Background(), job("Y"))
	src.mu.Lock()
	src.diffs["Y..Y"] = nil
	src.mu.Unlock()
	res2 := a.Process(context.Background(), job("Y"))
	a.Wait()

	require.Equal(t, types.StatusSuccess, res1.Status)
	require.Equal(t, types.StatusNoChange, res2.Status)

	after2, err := store.FullGraph(context.Background(), "acme/widget")
	require.NoError(t, err)
	require.Equal(t, after1, after2)
}

func TestMalformedURLPublishesFailure(t *testing.T) {
	a := New(memory.New(), newFakeSource(t), &fakeExtractor{}, testLogger())
	res := a.Process(context.Background(), types.AnalysisJob{
		RepoURL: "not a url", Sha: "X", Event: "push",
	})
	require.Equal(t, types.StatusFailure, res.Status)
	require.Equal(t, "invalid repository url", res.Error)
	require.NotNil(t, res.AffectedFiles)
	require.Empty(t, res.AffectedFiles)
}

func TestRemoteLookupFailurePublishesFailure(t *testing.T) {
	src := newFakeSource(t)
	src.headErr = fmt.Errorf("github is down")
	a := New(memory.New(), src, &fakeExtractor{}, testLogger())

	res := a.Process(context.Background(), job("X"))
	require.Equal(t, types.StatusFailure, res.Status)
	require.Equal(t, "remote commit lookup failed", res.Error)
}

func TestIncrementalWithoutMirrorFails(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.SetLastAnalyzedSha(context.Background(), "acme/widget", "X"))
	src := newFakeSource(t)
	src.head = "Y"

	a := New(store, src, &fakeExtractor{}, testLogger())
	res := a.Process(context.Background(), job("Y"))
	require.Equal(t, types.StatusFailure, res.Status)
}

func TestSplitDiff(t *testing.T) {
	tests := []struct {
		name        string
		entries     []types.DiffEntry
		wantDeleted []string
		wantChanged map[string]bool
	}{
		{
			name: "basic statuses",
			entries: []types.DiffEntry{
				{Status: types.DiffAdded, Path: "a.ts"},
				{Status: types.DiffModified, Path: "b.ts"},
				{Status: types.DiffDeleted, Path: "c.ts"},
			},
			wantDeleted: []string{"c.ts"},
			wantChanged: map[string]bool{"a.ts": false, "b.ts": true},
		},
		{
			name: "rename is delete plus add",
			entries: []types.DiffEntry{
				{Status: types.DiffRenamed, Path: "old.ts", NewPath: "new.ts"},
			},
			wantDeleted: []string{"old.ts"},
			wantChanged: map[string]bool{"new.ts": false},
		},
		{
			name: "rename without new side degrades to modify",
			entries: []types.DiffEntry{
				{Status: types.DiffRenamed, Path: "old.ts"},
			},
			wantChanged: map[string]bool{"old.ts": true},
		},
		{
			name: "copy modifies the new side only",
			entries: []types.DiffEntry{
				{Status: types.DiffCopied, Path: "src.ts", NewPath: "copy.ts"},
			},
			wantChanged: map[string]bool{"copy.ts": true},
		},
		{
			name: "non-source and excluded paths are ignored",
			entries: []types.DiffEntry{
				{Status: types.DiffModified, Path: "README.md"},
				{Status: types.DiffAdded, Path: "node_modules/x/index.js"},
				{Status: types.DiffDeleted, Path: "image.png"},
			},
			wantChanged: map[string]bool{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deleted, changed := splitDiff(tt.entries)
			sort.Strings(deleted)
			require.Equal(t, tt.wantDeleted, deleted)
			require.Equal(t, tt.wantChanged, changed)
		})
	}
}
