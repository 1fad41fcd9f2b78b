package types

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// AnalysisJob is the payload carried on the analysis stream. One job asks the
// fleet to reconcile a repository's import graph with the latest remote commit.
type AnalysisJob struct {
	RepoURL    string    `json:"repoUrl"`
	Sha        string    `json:"sha"`
	Event      string    `json:"event"`
	PRNumber   *int      `json:"prNumber"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Validate reports whether the job carries the fields an analysis needs.
func (j AnalysisJob) Validate() error {
	if strings.TrimSpace(j.RepoURL) == "" {
		return fmt.Errorf("types: repoUrl is required")
	}
	if strings.TrimSpace(j.Sha) == "" {
		return fmt.Errorf("types: sha is required")
	}
	if strings.TrimSpace(j.Event) == "" {
		return fmt.Errorf("types: event is required")
	}
	return nil
}

// RepoName derives the canonical owner/name pair from the job's repo URL,
// stripping a trailing ".git". Both https and ssh GitHub URL forms are
// accepted.
func (j AnalysisJob) RepoName() (string, error) {
	return ParseRepoName(j.RepoURL)
}

// ParseRepoName converts a repository URL into "owner/name".
func ParseRepoName(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("types: repo url is required")
	}
	if strings.HasPrefix(raw, "git@") {
		// git@github.com:owner/name.git
		_, after, ok := strings.Cut(raw, ":")
		if !ok {
			return "", fmt.Errorf("types: invalid repo url %q", raw)
		}
		return splitOwnerName(after, raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("types: invalid repo url %q: %w", raw, err)
	}
	return splitOwnerName(u.Path, raw)
}

func splitOwnerName(p, raw string) (string, error) {
	p = strings.Trim(strings.TrimSuffix(strings.TrimSpace(p), ".git"), "/")
	parts := strings.Split(p, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("types: invalid repo url %q: want owner/name", raw)
	}
	return parts[0] + "/" + parts[1], nil
}

// Dispatch statuses published on the dispatch stream.
const (
	StatusSuccess  = "success"
	StatusNoChange = "no-change"
	StatusFailure  = "failure"
)

// DispatchResult is the payload published on the dispatch stream after a job
// reaches a terminal state.
type DispatchResult struct {
	RepoName      string   `json:"repoName"`
	Sha           string   `json:"sha"`
	Status        string   `json:"status"`
	AffectedFiles []string `json:"affectedFiles"`
	Error         string   `json:"error,omitempty"`
}

// FileNode is a source file tracked inside one repository. Identity is the
// (Repo, Path) pair; Name is the basename, stored redundantly for display.
type FileNode struct {
	Repo string `json:"repo"`
	Path string `json:"id"`
	Name string `json:"name"`
}

// ImportEdge is a directed IMPORTS relation between two files of one repo.
type ImportEdge struct {
	Repo string `json:"repo"`
	From string `json:"from"`
	To   string `json:"to"`
}

// GraphSnapshot is the full stored graph of one repository.
type GraphSnapshot struct {
	Files []FileNode   `json:"files"`
	Edges []ImportEdge `json:"edges"`
}

// Basename returns the final path element of a repo-relative file path.
func Basename(p string) string {
	return path.Base(strings.ReplaceAll(p, "\\", "/"))
}

// DiffStatus is the one-character version-control status of a diff entry.
type DiffStatus byte

const (
	DiffAdded    DiffStatus = 'A'
	DiffModified DiffStatus = 'M'
	DiffDeleted  DiffStatus = 'D'
	DiffRenamed  DiffStatus = 'R'
	DiffCopied   DiffStatus = 'C'
)

// DiffEntry is one record of a commit-range diff. NewPath is set only for
// rename/copy records, which carry both sides.
type DiffEntry struct {
	Status  DiffStatus `json:"status"`
	Path    string     `json:"path"`
	NewPath string     `json:"new_path,omitempty"`
}
