// Package source abstracts the remote forge and the worker-local repository
// mirror. The analyzer only sees this contract; git and the GitHub API live
// in subpackages.
package source

import (
	"context"
	"errors"

	"doraemon/internal/types"
)

// ErrRemote wraps forge and git-transport failures.
var ErrRemote = errors.New("source: remote unavailable")

// Provider is the analyzer's view of a repository's source: commit lookup on
// the forge plus a local mirror it has exclusive use of for the duration of
// a job.
type Provider interface {
	// LatestSha resolves the head commit of the default branch.
	LatestSha(ctx context.Context, owner, name string) (string, error)

	// MirrorExists reports whether a local mirror of repo is present.
	MirrorExists(repo string) bool

	// Clone creates a shallow (depth 1) mirror of repoURL.
	Clone(ctx context.Context, repoURL, repo string) error

	// Unshallow deepens a shallow mirror to full history.
	Unshallow(ctx context.Context, repo string) error

	// Fetch updates the mirror from its remote.
	Fetch(ctx context.Context, repo string) error

	// Diff lists the name-status records between two commits. Rename and
	// copy records carry both sides.
	Diff(ctx context.Context, repo, oldSha, newSha string) ([]types.DiffEntry, error)

	// Checkout forces the working tree to sha.
	Checkout(ctx context.Context, repo, sha string) error

	// WorkTree returns the mirror's working-tree directory.
	WorkTree(repo string) string
}

// Forge is the commit-lookup half of a Provider.
type Forge interface {
	LatestSha(ctx context.Context, owner, name string) (string, error)
}

// MirrorOps is the local-mirror half of a Provider.
type MirrorOps interface {
	MirrorExists(repo string) bool
	Clone(ctx context.Context, repoURL, repo string) error
	Unshallow(ctx context.Context, repo string) error
	Fetch(ctx context.Context, repo string) error
	Diff(ctx context.Context, repo, oldSha, newSha string) ([]types.DiffEntry, error)
	Checkout(ctx context.Context, repo, sha string) error
	WorkTree(repo string) string
}

type combined struct {
	Forge
	MirrorOps
}

// Combine joins a forge client and a mirror into one Provider.
func Combine(f Forge, m MirrorOps) Provider {
	return combined{Forge: f, MirrorOps: m}
}
