// Package deploy reads the deployment descriptor which gates the execution
// of a job directory.
//
// A descriptor is a YAML mapping stored in a file whose name ends with
// deployment.yml:
//
//	status: active
//	file-name: task.go
//	class-name: Task
//	method: Run
package deploy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/CZERTAINLY/Runner/internal/model"
	"gopkg.in/yaml.v3"
)

// Suffix identifies a descriptor file.
const Suffix = "deployment.yml"

const statusActive = "active"

// Descriptor is a parsed deployment descriptor. It is read fresh on every
// execution and never cached.
type Descriptor struct {
	Status    string
	FileName  string
	ClassName string
	Method    string
}

// Active is true when status is case-insensitively "active". An absent
// status is inactive.
func (d Descriptor) Active() bool {
	return strings.EqualFold(strings.TrimSpace(d.Status), statusActive)
}

// Gate returns model.ErrDeploymentInactive unless the descriptor is active.
func (d Descriptor) Gate() error {
	if d.Active() {
		return nil
	}
	return fmt.Errorf("status %q: %w", d.Status, model.ErrDeploymentInactive)
}

// Entries lists the immediate entries of a job directory. A directory
// without any entry is model.ErrNoExecutableFiles.
func Entries(dir string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, errors.Join(model.ErrNoExecutableFiles, err))
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, model.ErrNoExecutableFiles)
	}
	return entries, nil
}

// Find returns the name of the first entry of dir whose name ends with
// deployment.yml and which is a regular file or a symlink to one.
func Find(dir string, entries []fs.DirEntry) (string, bool) {
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), Suffix) {
			continue
		}
		if IsRegular(dir, e) {
			return e.Name(), true
		}
	}
	return "", false
}

// IsRegular reports whether the entry e of dir is a regular file. Symlinks
// are followed, mounted ConfigMaps and Secrets are made of them.
func IsRegular(dir string, e fs.DirEntry) bool {
	switch {
	case e.Type().IsRegular():
		return true
	case e.Type()&fs.ModeSymlink != 0:
		info, err := os.Stat(filepath.Join(dir, e.Name()))
		return err == nil && info.Mode().IsRegular()
	default:
		return false
	}
}

// Read locates and parses the descriptor of dir. A missing directory, an
// empty one or one without a descriptor is model.ErrDescriptorMissing,
// malformed content is model.ErrDescriptorParse.
func Read(dir string) (Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Descriptor{}, fmt.Errorf("reading %s: %w", dir, errors.Join(model.ErrDescriptorMissing, err))
	}
	return ReadEntries(dir, entries)
}

// ReadEntries is Read for a directory whose entries were already listed.
func ReadEntries(dir string, entries []fs.DirEntry) (Descriptor, error) {
	name, ok := Find(dir, entries)
	if !ok {
		return Descriptor{}, fmt.Errorf("%s in %s: %w", Suffix, dir, model.ErrDescriptorMissing)
	}
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return Descriptor{}, fmt.Errorf("reading %s: %w", name, errors.Join(model.ErrDescriptorMissing, err))
	}
	return Parse(b)
}

// Resolve reads the descriptor of dir and returns whether the job is active
// and the name of its entry file.
func Resolve(dir string) (active bool, entry string, err error) {
	d, err := Read(dir)
	if err != nil {
		return false, "", err
	}
	return d.Active(), d.FileName, nil
}

// Parse decodes a descriptor document. Scalar values of any YAML type are
// read in their textual form, unknown keys are ignored.
func Parse(b []byte) (Descriptor, error) {
	var doc yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Descriptor{}, parseErr(errors.New("empty document"))
		}
		return Descriptor{}, parseErr(err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return Descriptor{}, parseErr(errors.New("expected a single document"))
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return Descriptor{}, parseErr(fmt.Errorf("line %d: expected a mapping", root.Line))
	}

	var d Descriptor
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		var dest *string
		switch key.Value {
		case "status":
			dest = &d.Status
		case "file-name":
			dest = &d.FileName
		case "class-name":
			dest = &d.ClassName
		case "method":
			dest = &d.Method
		default:
			continue
		}
		if value.Kind == yaml.AliasNode && value.Alias != nil {
			value = value.Alias
		}
		if value.Kind != yaml.ScalarNode {
			return Descriptor{}, parseErr(fmt.Errorf("line %d: %s must be a scalar", value.Line, key.Value))
		}
		if value.Tag == "!!null" {
			continue
		}
		*dest = value.Value
	}
	return d, nil
}

// parseErr keeps the message of the underlying error, so it can be reported
// as is.
func parseErr(err error) error {
	return &ParseError{err: err}
}

type ParseError struct {
	err error
}

func (e *ParseError) Error() string {
	return e.err.Error()
}

func (e *ParseError) Unwrap() []error {
	return []error{e.err, model.ErrDescriptorParse}
}
