// Package extract defines the import-extraction contract and the shared
// specifier resolution rules: which files count as source, and how a
// relative import specifier maps onto a repo-relative path.
package extract

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Extractor resolves the in-repo files a source file imports. Paths in and
// out are repo-relative with forward slashes.
type Extractor interface {
	Imports(root, relPath string) ([]string, error)
}

// sourceExts are the extensions the extractor understands.
var sourceExts = map[string]bool{
	".js":  true,
	".jsx": true,
	".ts":  true,
	".tsx": true,
	".mjs": true,
	".cjs": true,
}

// skipDirs are subtrees never scanned and never valid import targets.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
	".next":        true,
	".cache":       true,
}

// IsSourceFile reports whether path has an extension the extractor resolves.
func IsSourceFile(p string) bool {
	return sourceExts[strings.ToLower(path.Ext(p))]
}

// Excluded reports whether the repo-relative path sits under a skipped
// subtree such as node_modules.
func Excluded(rel string) bool {
	for _, part := range strings.Split(path.Clean(rel), "/") {
		if skipDirs[part] {
			return true
		}
	}
	return false
}

// ListSourceFiles walks root and returns every source file outside the
// excluded subtrees, repo-relative with forward slashes.
func ListSourceFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[filepath.Base(p)] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if IsSourceFile(rel) {
			out = append(out, rel)
		}
		return nil
	})
	return out, err
}

// resolutionExts is the probe order for extensionless specifiers, matching
// the Node/TypeScript resolution most JS repos rely on.
var resolutionExts = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}

// ResolveSpecifier maps an import specifier found in relPath onto a
// repo-relative file path. Bare (package) specifiers, specifiers escaping
// the repo root, and targets under excluded subtrees resolve to "".
func ResolveSpecifier(root, relPath, spec string) string {
	spec = strings.TrimSpace(spec)
	if !strings.HasPrefix(spec, "./") && !strings.HasPrefix(spec, "../") {
		return ""
	}

	base := path.Dir(relPath)
	target := path.Clean(path.Join(base, spec))
	if target == ".." || strings.HasPrefix(target, "../") {
		return ""
	}
	if Excluded(target) {
		return ""
	}

	for _, cand := range candidates(target) {
		abs := filepath.Join(root, filepath.FromSlash(cand))
		if fi, err := os.Stat(abs); err == nil && !fi.IsDir() {
			return cand
		}
	}
	return ""
}

func candidates(target string) []string {
	var out []string
	if IsSourceFile(target) {
		out = append(out, target)
	}
	for _, ext := range resolutionExts {
		out = append(out, target+ext)
	}
	for _, ext := range resolutionExts {
		out = append(out, target+"/index"+ext)
	}
	return out
}
