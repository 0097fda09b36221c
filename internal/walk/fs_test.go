package walk_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/CZERTAINLY/Runner/internal/walk"
	"github.com/stretchr/testify/require"
)

func TestFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	creat(t, root, "demo/task.go")
	creat(t, root, "demo/deployment.yml")
	creat(t, root, "other/nested/deep/job.go")
	creat(t, root, "other/README.md")
	creat(t, root, "UPPER.GO")
	require.NoError(t, os.Symlink(filepath.Join(root, "demo", "task.go"), filepath.Join(root, "link.go")))

	var got []string
	for path, err := range walk.Files(t.Context(), root, ".go") {
		require.NoError(t, err)
		require.True(t, filepath.IsAbs(path))
		got = append(got, path)
	}

	require.ElementsMatch(t, []string{
		filepath.Join(root, "demo", "task.go"),
		filepath.Join(root, "other", "nested", "deep", "job.go"),
		filepath.Join(root, "UPPER.GO"),
		filepath.Join(root, "link.go"),
	}, got)
}

func TestFiles_Mounted(t *testing.T) {
	t.Parallel()

	// the layout of a mounted ConfigMap
	root := t.TempDir()
	creat(t, root, "demo/..2025_01_01_00_00_00.000/task.go")
	require.NoError(t, os.Symlink("..2025_01_01_00_00_00.000", filepath.Join(root, "demo", "..data")))
	require.NoError(t, os.Symlink(filepath.Join("..data", "task.go"), filepath.Join(root, "demo", "task.go")))
	require.NoError(t, os.Symlink(filepath.Join(root, "demo"), filepath.Join(root, "loop.go")))

	var got []string
	for path, err := range walk.Files(t.Context(), root, ".go") {
		require.NoError(t, err)
		got = append(got, path)
	}
	require.Equal(t, []string{filepath.Join(root, "demo", "task.go")}, got)
}

func TestFiles_Missing(t *testing.T) {
	t.Parallel()

	var got []string
	for path, err := range walk.Files(t.Context(), filepath.Join(t.TempDir(), "missing"), ".go") {
		require.NoError(t, err)
		got = append(got, path)
	}
	require.Empty(t, got)
}

func TestFiles_Canceled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	creat(t, root, "a/task.go")
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	var errs []error
	for path, err := range walk.Files(ctx, root, ".go") {
		require.Empty(t, path)
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], context.Canceled)
}

func TestFS(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	creat(t, root, "a/one")
	creat(t, root, "b/two")

	var names []string
	for entry, err := range walk.FS(t.Context(), os.DirFS(root), root) {
		require.NoError(t, err)
		info, err := entry.Stat()
		require.NoError(t, err)
		require.True(t, info.Mode().IsRegular())
		names = append(names, entry.Path())
	}
	slices.Sort(names)
	require.Equal(t, []string{filepath.Join(root, "a", "one"), filepath.Join(root, "b", "two")}, names)
}

func creat(t *testing.T, root, name string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}
