// Package gitcli implements the mirror half of source.Provider by shelling
// out to the git CLI. One provider instance owns one base directory; jobs on
// a worker never share a repo directory concurrently.
package gitcli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"doraemon/internal/source"
	"doraemon/internal/types"
)

// runGit is injectable in tests.
var runGit = func(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s (%w)",
			strings.Join(args, " "), err, strings.TrimSpace(string(out)), source.ErrRemote)
	}
	return string(out), nil
}

// Mirror manages local clones under a base directory, one subdirectory per
// owner/name.
type Mirror struct {
	base string
}

func NewMirror(base string) (*Mirror, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, fmt.Errorf("gitcli: base directory is required")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("gitcli: resolve base: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("gitcli: mkdir base: %w", err)
	}
	return &Mirror{base: abs}, nil
}

// WorkTree maps "owner/name" onto <base>/owner/name.
func (m *Mirror) WorkTree(repo string) string {
	return filepath.Join(m.base, filepath.FromSlash(repo))
}

func (m *Mirror) MirrorExists(repo string) bool {
	fi, err := os.Stat(filepath.Join(m.WorkTree(repo), ".git"))
	return err == nil && fi.IsDir()
}

func (m *Mirror) Clone(ctx context.Context, repoURL, repo string) error {
	dir := m.WorkTree(repo)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("gitcli: mkdir: %w", err)
	}
	_, err := runGit(ctx, "clone", "--depth", "1", repoURL, dir)
	return err
}

func (m *Mirror) Unshallow(ctx context.Context, repo string) error {
	_, err := runGit(ctx, "-C", m.WorkTree(repo), "fetch", "--unshallow")
	if err != nil && strings.Contains(err.Error(), "on a complete repository") {
		// Already full history.
		return nil
	}
	return err
}

func (m *Mirror) Fetch(ctx context.Context, repo string) error {
	_, err := runGit(ctx, "-C", m.WorkTree(repo), "fetch", "origin")
	return err
}

func (m *Mirror) Checkout(ctx context.Context, repo, sha string) error {
	_, err := runGit(ctx, "-C", m.WorkTree(repo), "checkout", "--force", "--detach", sha)
	return err
}

func (m *Mirror) Diff(ctx context.Context, repo, oldSha, newSha string) ([]types.DiffEntry, error) {
	out, err := runGit(ctx, "-C", m.WorkTree(repo), "diff", "--name-status", oldSha, newSha)
	if err != nil {
		return nil, err
	}
	return ParseNameStatus(out)
}

// ParseNameStatus decodes `git diff --name-status` output. Each line is a
// status field followed by one path, or two for rename/copy records
// (R<score>\told\tnew). Only the first character of the status is kept.
func ParseNameStatus(out string) ([]types.DiffEntry, error) {
	var entries []types.DiffEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return nil, fmt.Errorf("gitcli: malformed diff line %q", line)
		}
		status := strings.TrimSpace(fields[0])
		if status == "" {
			return nil, fmt.Errorf("gitcli: malformed diff line %q", line)
		}
		e := types.DiffEntry{
			Status: types.DiffStatus(status[0]),
			Path:   filepath.ToSlash(strings.TrimSpace(fields[1])),
		}
		if len(fields) >= 3 {
			e.NewPath = filepath.ToSlash(strings.TrimSpace(fields[2]))
		}
		entries = append(entries, e)
	}
	return entries, nil
}
