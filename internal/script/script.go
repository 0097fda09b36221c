// Package script loads Go source files with an embedded interpreter and
// invokes their functions and methods by name.
//
// Every Load creates a new interpreter, so two units never share globals,
// symbol tables or caches, even when they are loaded from the same file.
package script

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"

	"github.com/CZERTAINLY/Runner/internal/deploy"
	"github.com/CZERTAINLY/Runner/internal/model"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Host loads script units. It is safe for concurrent use.
type Host struct {
	libPath string
	stdout  io.Writer
	stderr  io.Writer
}

type Option func(*Host)

// WithLibPath sets a GOPATH like directory with auxiliary packages under
// src/. It is used for every load.
func WithLibPath(dir string) Option {
	return func(h *Host) {
		h.libPath = dir
	}
}

// WithOutput redirects standard output and error of the scripts.
func WithOutput(w io.Writer) Option {
	return func(h *Host) {
		h.stdout = w
		h.stderr = w
	}
}

func NewHost(opts ...Option) *Host {
	h := &Host{
		stdout: io.Discard,
		stderr: io.Discard,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Unit is a loaded script file. It is owned by a single job and must not be
// used concurrently.
type Unit struct {
	Dir     string
	File    string
	Package string

	interp *interp.Interpreter
}

// Path returns the path of the loaded file.
func (u *Unit) Path() string {
	return filepath.Join(u.Dir, u.File)
}

// Load finds entry among the immediate entries of dir and evaluates it in a
// fresh interpreter.
func (h *Host) Load(ctx context.Context, dir, entry string) (*Unit, error) {
	if err := h.find(dir, entry); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, entry)

	pkg, err := packageName(path)
	if err != nil {
		return nil, &LoadError{File: entry, Err: err}
	}

	i := interp.New(interp.Options{
		GoPath: h.libPath,
		Stdout: h.stdout,
		Stderr: h.stderr,
		Args:   []string{path},
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, &LoadError{File: entry, Err: err}
	}
	if err := evalPath(ctx, i, path); err != nil {
		return nil, &LoadError{File: entry, Err: err}
	}

	return &Unit{
		Dir:     dir,
		File:    entry,
		Package: pkg,
		interp:  i,
	}, nil
}

func (h *Host) find(dir, entry string) error {
	if entry == "" || filepath.Base(entry) != entry {
		return fmt.Errorf("%q: %w", entry, model.ErrEntryPointNotFound)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%s: %w", entry, model.ErrEntryPointNotFound)
	}
	for _, e := range entries {
		if e.Name() == entry && deploy.IsRegular(dir, e) {
			return nil
		}
	}
	return fmt.Errorf("%s: %w", entry, model.ErrEntryPointNotFound)
}

// evalPath turns panics of the interpreter itself into errors
func evalPath(ctx context.Context, i *interp.Interpreter, path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = i.EvalPathWithContext(ctx, path)
	return err
}

func packageName(path string) (string, error) {
	f, err := parser.ParseFile(token.NewFileSet(), path, nil, parser.PackageClauseOnly)
	if err != nil {
		return "", err
	}
	return f.Name.Name, nil
}

// LoadError is returned when a file can't be compiled by the interpreter.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return e.File + ": " + e.Err.Error()
}

func (e *LoadError) Unwrap() []error {
	return []error{e.Err, model.ErrLoad}
}
