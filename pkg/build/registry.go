package build

import (
	"errors"
	"path/filepath"
	"sync"
)

// Registry hands out at most one open workspace per root directory
type Registry struct {
	opts Options

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewRegistry returns a registry opening workspaces with opts
func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:       opts,
		workspaces: make(map[string]*Workspace),
	}
}

// Get returns the workspace rooted at root, opening it on first use
func (r *Registry) Get(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workspaces[abs]; ok && !w.Closed() {
		return w, nil
	}
	w, err := Open(abs, r.opts)
	if err != nil {
		return nil, err
	}
	r.workspaces[abs] = w
	return w, nil
}

// Close closes and forgets the workspace rooted at root
func (r *Registry) Close(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	r.mu.Lock()
	w, ok := r.workspaces[abs]
	delete(r.workspaces, abs)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return w.Close()
}

// CloseAll closes every workspace
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	workspaces := r.workspaces
	r.workspaces = make(map[string]*Workspace)
	r.mu.Unlock()

	var errs []error
	for _, w := range workspaces {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
