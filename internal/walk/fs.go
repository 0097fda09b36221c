package walk

import (
	"context"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Entry is a regular file found by a walk.
type Entry interface {
	// Path is prefixed by the name of the walked filesystem.
	Path() string
	Stat() (fs.FileInfo, error)
}

// Files recursively walks the directory root and returns the absolute path of
// every regular file with extension ext. Directories which can't be read are
// logged and skipped. The only error yielded is the one of canceled ctx.
func Files(ctx context.Context, root, ext string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		abs, err := filepath.Abs(root)
		if err != nil {
			yield("", err)
			return
		}
		for entry, err := range FS(ctx, os.DirFS(abs), abs) {
			if err != nil {
				slog.WarnContext(ctx, "skipping", "path", entry.Path(), "err", err)
				continue
			}
			if !strings.EqualFold(filepath.Ext(entry.Path()), ext) {
				continue
			}
			if !yield(entry.Path(), nil) {
				return
			}
		}
		if ctx.Err() != nil {
			yield("", ctx.Err())
		}
	}
}

// FS recursively walks the filesystem rooted at root and return a handle for every regular file found.
// Or an error if file information retrieval fails.
// Each Entry's Path() is prefixed with name of a filesystem. In most cases it'll be an absolute
// path to the file. Symlinks to regular files are followed, symlinks to directories are not.
// Directories named ..* are skipped, those hold the versioned data of a mounted ConfigMap or
// Secret, which is reachable through the symlinks already.
func FS(ctx context.Context, root fs.FS, name string) iter.Seq2[Entry, error] {
	if root == nil {
		panic("root is nil")
	}

	return func(yield func(Entry, error) bool) {
		fn := func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			var entry = fsEntry{
				abspath: filepath.Join(name, filepath.FromSlash(path)),
			}
			var yieldErr error
			if err != nil {
				yieldErr = err
			} else if d.IsDir() {
				if path != "." && strings.HasPrefix(d.Name(), "..") {
					return fs.SkipDir
				}
				return nil
			} else {
				info, err := stat(root, path, d)
				if err != nil {
					entry.infoErr = err
					yieldErr = err
				} else {
					if !info.Mode().IsRegular() {
						return nil
					}
					entry.info = info
				}
			}

			if !yield(entry, yieldErr) {
				return fs.SkipAll
			}
			return nil
		}
		_ = fs.WalkDir(root, ".", fn)
	}
}

func stat(root fs.FS, path string, d fs.DirEntry) (fs.FileInfo, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		return fs.Stat(root, path)
	}
	return d.Info()
}

type fsEntry struct {
	abspath string
	info    fs.FileInfo
	infoErr error
}

func (e fsEntry) Path() string {
	return e.abspath
}

func (e fsEntry) Stat() (fs.FileInfo, error) {
	return e.info, e.infoErr
}
