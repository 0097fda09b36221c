package engine

import (
	"context"
	"path/filepath"

	"github.com/CZERTAINLY/Runner/internal/deploy"
	"github.com/CZERTAINLY/Runner/internal/model"
)

// Discovery is a script found by the batch scan.
type Discovery struct {
	Path   string            `json:"path"`
	Dir    string            `json:"dir"`
	Status model.Status      `json:"status"` // ACTIVE or STOP
	Deploy deploy.Descriptor `json:"-"`
}

// Check reads only the descriptor next to the script and tags it ACTIVE or
// STOP. A script without a readable descriptor is STOP and the error is
// returned.
func (e *Engine) Check(_ context.Context, scriptPath string) (Discovery, error) {
	d := Discovery{
		Path:   scriptPath,
		Dir:    filepath.Dir(scriptPath),
		Status: model.StatusStop,
	}
	desc, err := deploy.Read(d.Dir)
	if err != nil {
		return d, err
	}
	d.Deploy = desc
	if desc.Active() {
		d.Status = model.StatusActive
	}
	return d, nil
}

// Client returns the client owning the directory of d, relative to the root.
func (e *Engine) Client(d Discovery) (string, error) {
	return filepath.Rel(e.root, d.Dir)
}
