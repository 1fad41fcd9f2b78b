package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("export {}\n"), 0o644))
}

func TestListSourceFilesSkipsExcludedTrees(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.ts")
	writeFile(t, root, "src/b.tsx")
	writeFile(t, root, "node_modules/pkg/index.js")
	writeFile(t, root, "dist/bundle.js")
	writeFile(t, root, "README.md")

	got, err := ListSourceFiles(root)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"src/a.ts", "src/b.tsx"}, got)
}

func TestResolveSpecifier(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.ts")
	writeFile(t, root, "src/b.ts")
	writeFile(t, root, "src/util/index.ts")
	writeFile(t, root, "lib/c.js")
	writeFile(t, root, "node_modules/lodash/index.js")

	tests := []struct {
		name string
		from string
		spec string
		want string
	}{
		{"sibling without extension", "src/a.ts", "./b", "src/b.ts"},
		{"explicit extension", "src/a.ts", "./b.ts", "src/b.ts"},
		{"directory index", "src/a.ts", "./util", "src/util/index.ts"},
		{"parent traversal", "src/a.ts", "../lib/c", "lib/c.js"},
		{"bare package specifier", "src/a.ts", "lodash", ""},
		{"escapes repo root", "src/a.ts", "../../etc/passwd", ""},
		{"into node_modules", "src/a.ts", "../node_modules/lodash/index", ""},
		{"missing target", "src/a.ts", "./nope", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ResolveSpecifier(root, tt.from, tt.spec))
		})
	}
}

func TestExcluded(t *testing.T) {
	require.True(t, Excluded("node_modules/react/index.js"))
	require.True(t, Excluded("packages/app/node_modules/x.js"))
	require.False(t, Excluded("src/node_modules.ts"))
}

func TestIsSourceFile(t *testing.T) {
	require.True(t, IsSourceFile("a.ts"))
	require.True(t, IsSourceFile("a.TSX"))
	require.True(t, IsSourceFile("x/y.cjs"))
	require.False(t, IsSourceFile("a.css"))
	require.False(t, IsSourceFile("Makefile"))
}
