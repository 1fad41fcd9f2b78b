// Package tsx extracts import specifiers from JavaScript and TypeScript
// sources with tree-sitter. It recognizes static imports, re-exports,
// require calls and dynamic import() calls.
package tsx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"doraemon/internal/extract"
)

const importQuery = `
(import_statement source: (string) @spec)
(export_statement source: (string) @spec)
(call_expression
  function: (identifier) @fn
  arguments: (arguments (string) @spec))
(call_expression
  function: (import)
  arguments: (arguments (string) @spec))
`

// Extractor parses source files and resolves their in-repo imports. A single
// bad specifier never fails the file: it is logged and skipped.
type Extractor struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{log: log}
}

func languageFor(rel string) *sitter.Language {
	switch strings.ToLower(path.Ext(rel)) {
	case ".ts":
		return typescript.GetLanguage()
	case ".tsx":
		return tsx.GetLanguage()
	default:
		return javascript.GetLanguage()
	}
}

// Imports returns the repo-relative files rel imports, deduplicated,
// excluding self-imports and anything outside the repo root.
func (e *Extractor) Imports(root, rel string) ([]string, error) {
	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("tsx: read %s: %w", rel, err)
	}

	specs, err := e.specifiers(rel, content)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []string
	for _, spec := range specs {
		resolved := extract.ResolveSpecifier(root, rel, spec)
		if resolved == "" {
			if strings.HasPrefix(spec, ".") {
				e.log.Debug("tsx: unresolved relative import", "file", rel, "specifier", spec)
			}
			continue
		}
		if resolved == rel {
			continue
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		out = append(out, resolved)
	}
	return out, nil
}

// specifiers parses the file and returns every raw import specifier string.
func (e *Extractor) specifiers(rel string, content []byte) ([]string, error) {
	lang := languageFor(rel)

	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("tsx: parse %s: %w", rel, err)
	}
	defer tree.Close()

	query, err := sitter.NewQuery([]byte(importQuery), lang)
	if err != nil {
		return nil, fmt.Errorf("tsx: compile query: %w", err)
	}
	defer query.Close()

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(query, tree.RootNode())

	var specs []string
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		var fn, spec string
		for _, c := range match.Captures {
			switch query.CaptureNameForId(c.Index) {
			case "fn":
				fn = c.Node.Content(content)
			case "spec":
				spec = c.Node.Content(content)
			}
		}
		// The identifier-call pattern matches every call; keep require only.
		if fn != "" && fn != "require" {
			continue
		}
		if s, ok := unquote(spec); ok {
			specs = append(specs, s)
		}
	}
	return specs, nil
}

// unquote strips the surrounding quote characters of a string literal.
// Template literals with interpolation are not static specifiers.
func unquote(raw string) (string, bool) {
	if len(raw) < 2 {
		return "", false
	}
	first, last := raw[0], raw[len(raw)-1]
	if first != last || (first != '\'' && first != '"' && first != '`') {
		return "", false
	}
	inner := raw[1 : len(raw)-1]
	if strings.Contains(inner, "${") {
		return "", false
	}
	return inner, inner != ""
}
