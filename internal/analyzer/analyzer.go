// Package analyzer reconciles a repository's stored import graph with the
// latest remote commit and computes the blast radius of the change. One
// Process call handles one job from receipt to a single dispatch result;
// every store mutation it performs is idempotent, so redelivered or racing
// jobs converge instead of corrupting the graph.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"doraemon/internal/extract"
	"doraemon/internal/graph"
	"doraemon/internal/source"
	"doraemon/internal/types"
)

const defaultParallelism = 8

// Analyzer processes analysis jobs against one graph store and one source
// provider.
type Analyzer struct {
	store       graph.Store
	src         source.Provider
	extractor   extract.Extractor
	log         *slog.Logger
	parallelism int

	// unshallowTimeout bounds the fire-and-forget history deepening after a
	// full analysis.
	unshallowTimeout time.Duration

	// wg tracks background deepening so tests and shutdown can drain it.
	wg sync.WaitGroup
}

type Option func(*Analyzer)

// WithParallelism bounds the per-file fan-out inside one job.
func WithParallelism(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.parallelism = n
		}
	}
}

func New(store graph.Store, src source.Provider, ex extract.Extractor, log *slog.Logger, opts ...Option) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	a := &Analyzer{
		store:            store,
		src:              src,
		extractor:        ex,
		log:              log,
		parallelism:      defaultParallelism,
		unshallowTimeout: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Wait blocks until background work spawned by earlier jobs has finished.
func (a *Analyzer) Wait() { a.wg.Wait() }

// Process runs one job to a terminal state and returns the single dispatch
// result for it. It never panics the worker: every error path degrades to a
// failure result with a publicly safe message.
func (a *Analyzer) Process(ctx context.Context, job types.AnalysisJob) types.DispatchResult {
	repoName, err := job.RepoName()
	if err != nil {
		a.log.Warn("analyzer: malformed repo url", "url", job.RepoURL, "err", err)
		return failure("", job.Sha, "invalid repository url")
	}
	log := a.log.With("repo", repoName)

	owner, name, _ := strings.Cut(repoName, "/")
	remoteSha, err := a.src.LatestSha(ctx, owner, name)
	if err != nil {
		log.Warn("analyzer: remote sha lookup failed", "err", err)
		return failure(repoName, job.Sha, "remote commit lookup failed")
	}

	localSha, known, err := a.store.GetLastAnalyzedSha(ctx, repoName)
	if err != nil {
		log.Warn("analyzer: store read failed", "err", err)
		return failure(repoName, remoteSha, "graph store unavailable")
	}

	if known && localSha == remoteSha {
		log.Info("analyzer: no change", "sha", remoteSha)
		return types.DispatchResult{
			RepoName:      repoName,
			Sha:           remoteSha,
			Status:        types.StatusNoChange,
			AffectedFiles: []string{},
		}
	}

	var directlyChanged []string
	if known {
		directlyChanged, err = a.incremental(ctx, log, repoName, localSha, remoteSha)
	} else {
		err = a.fullAnalysis(ctx, log, repoName, job.RepoURL, remoteSha)
	}
	if err != nil {
		log.Warn("analyzer: analysis failed", "err", err)
		return failure(repoName, remoteSha, publicMessage(err))
	}

	if err := a.store.SetLastAnalyzedSha(ctx, repoName, remoteSha); err != nil {
		log.Warn("analyzer: commit of analyzed sha failed", "err", err)
		return failure(repoName, remoteSha, "graph store unavailable")
	}

	affected := a.blastRadius(ctx, log, repoName, directlyChanged)
	log.Info("analyzer: analysis complete",
		"sha", remoteSha,
		"directly_changed", len(directlyChanged),
		"affected", len(affected))
	return types.DispatchResult{
		RepoName:      repoName,
		Sha:           remoteSha,
		Status:        types.StatusSuccess,
		AffectedFiles: affected,
	}
}

// incremental reconciles the stored graph with the diff between the last
// analyzed commit and the remote head. The deletion pass completes before
// any mutation runs: a file deleted in the same diff must not linger as an
// import target.
func (a *Analyzer) incremental(ctx context.Context, log *slog.Logger, repo, oldSha, newSha string) ([]string, error) {
	if !a.src.MirrorExists(repo) {
		return nil, fmt.Errorf("analyzer: no local mirror for %s", repo)
	}
	if err := a.src.Fetch(ctx, repo); err != nil {
		return nil, err
	}
	entries, err := a.src.Diff(ctx, repo, oldSha, newSha)
	if err != nil {
		return nil, err
	}
	if err := a.src.Checkout(ctx, repo, newSha); err != nil {
		return nil, err
	}

	deleted, changed := splitDiff(entries)

	for _, path := range deleted {
		if err := a.store.DeleteFile(ctx, repo, path); err != nil {
			return nil, err
		}
	}

	if err := a.upsertFiles(ctx, repo, changed, true); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(changed))
	for path := range changed {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	log.Info("analyzer: incremental update applied",
		"old", oldSha, "new", newSha,
		"deleted", len(deleted), "changed", len(paths))
	return paths, nil
}

// fullAnalysis builds the graph from scratch at the remote head: shallow
// clone, enumerate, upsert every file's imports. The mirror is deepened to
// full history in the background afterwards so later jobs can diff.
func (a *Analyzer) fullAnalysis(ctx context.Context, log *slog.Logger, repo, repoURL, sha string) error {
	if a.src.MirrorExists(repo) {
		if err := a.src.Fetch(ctx, repo); err != nil {
			return err
		}
		if err := a.src.Checkout(ctx, repo, sha); err != nil {
			return err
		}
	} else if err := a.src.Clone(ctx, repoURL, repo); err != nil {
		return err
	}

	files, err := extract.ListSourceFiles(a.src.WorkTree(repo))
	if err != nil {
		return fmt.Errorf("analyzer: enumerate %s: %w", repo, err)
	}
	changed := make(map[string]bool, len(files))
	for _, f := range files {
		changed[f] = false // no stale edges to clear on a fresh graph
	}
	if err := a.upsertFiles(ctx, repo, changed, false); err != nil {
		return err
	}
	log.Info("analyzer: full analysis stored", "sha", sha, "files", len(files))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.unshallowTimeout)
		defer cancel()
		if err := a.src.Unshallow(bg, repo); err != nil {
			log.Warn("analyzer: background unshallow failed", "err", err)
		}
	}()
	return nil
}

// upsertFiles re-resolves imports for each changed file, bounded-parallel.
// Each file's updates form a logically atomic sequence; files do not share
// transactions. changed maps each path to whether its previous outgoing edges
// must be dropped before re-creation (the modified half of a diff);
// clearStale enables that dropping.
func (a *Analyzer) upsertFiles(ctx context.Context, repo string, changed map[string]bool, clearStale bool) error {
	root := a.src.WorkTree(repo)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallelism)
	for path, modified := range changed {
		g.Go(func() error {
			if clearStale && modified {
				if err := a.store.DeleteOutgoingEdges(gctx, repo, path); err != nil {
					return err
				}
			}
			if err := a.store.UpsertFile(gctx, repo, path, types.Basename(path)); err != nil {
				return err
			}
			imports, err := a.extractor.Imports(root, path)
			if err != nil {
				return err
			}
			for _, target := range imports {
				if err := a.store.UpsertEdge(gctx, repo, path, target, types.Basename(target)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// splitDiff maps raw diff entries onto the deletion and mutation passes,
// restricted to extractor-resolvable files outside excluded subtrees.
// Renames become a delete of the old path plus an add of the new one;
// copies a modify of the new path. The changed map records whether each
// path needs its stale outgoing edges cleared (true for modifies).
func splitDiff(entries []types.DiffEntry) (deleted []string, changed map[string]bool) {
	changed = make(map[string]bool)
	track := func(p string) bool { return extract.IsSourceFile(p) && !extract.Excluded(p) }
	for _, e := range entries {
		switch e.Status {
		case types.DiffDeleted:
			if track(e.Path) {
				deleted = append(deleted, e.Path)
			}
		case types.DiffAdded:
			if track(e.Path) {
				changed[e.Path] = false
			}
		case types.DiffModified:
			if track(e.Path) {
				changed[e.Path] = true
			}
		case types.DiffRenamed:
			if e.NewPath == "" {
				if track(e.Path) {
					changed[e.Path] = true
				}
				continue
			}
			if track(e.Path) {
				deleted = append(deleted, e.Path)
			}
			if track(e.NewPath) {
				changed[e.NewPath] = false
			}
		case types.DiffCopied:
			target := e.NewPath
			if target == "" {
				target = e.Path
			}
			if track(target) {
				changed[target] = true
			}
		}
	}
	return deleted, changed
}

// blastRadius unions the directly changed files with their recursive
// dependents. A failed dependents query contributes nothing and the job
// still succeeds.
func (a *Analyzer) blastRadius(ctx context.Context, log *slog.Logger, repo string, directlyChanged []string) []string {
	affected := make(map[string]struct{}, len(directlyChanged))
	for _, p := range directlyChanged {
		affected[p] = struct{}{}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallelism)
	for _, p := range directlyChanged {
		g.Go(func() error {
			nodes, err := a.store.RecursiveDependents(gctx, repo, p)
			if err != nil {
				log.Warn("analyzer: dependents query failed, contributing empty set",
					"path", p, "err", err)
				return nil
			}
			mu.Lock()
			for _, n := range nodes {
				affected[n.Path] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]string, 0, len(affected))
	for p := range affected {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func failure(repo, sha, msg string) types.DispatchResult {
	return types.DispatchResult{
		RepoName:      repo,
		Sha:           sha,
		Status:        types.StatusFailure,
		AffectedFiles: []string{},
		Error:         msg,
	}
}

// publicMessage keeps internal detail (paths, DSNs, git stderr) out of the
// dispatch stream.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, source.ErrRemote):
		return "remote unavailable"
	case errors.Is(err, graph.ErrUnavailable):
		return "graph store unavailable"
	case errors.Is(err, graph.ErrConstraint):
		return "graph store conflict"
	default:
		return "analysis failed"
	}
}
