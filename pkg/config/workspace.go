package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/lathe/pkg/repository"
)

const (
	// ConfigDir is the workspace configuration directory
	ConfigDir = "cnf"
	// WorkspaceFileName is the workspace configuration file inside ConfigDir
	WorkspaceFileName = "workspace.yaml"
)

// WorkspaceFile is the parsed cnf/workspace.yaml. Workspace wide property
// defaults live in the same file and are read by the build package so that
// their source lines are kept.
type WorkspaceFile struct {
	Repositories []repository.Config `yaml:"repositories"`
	Releases     ReleasesConfig      `yaml:"releases"`

	// Path is the file the configuration was read from, empty for defaults
	Path string `yaml:"-"`
}

// WorkspaceFilePath returns cnf/workspace.yaml under root
func WorkspaceFilePath(root string) string {
	return filepath.Join(root, ConfigDir, WorkspaceFileName)
}

// LoadWorkspaceFile reads the workspace configuration. A missing file
// yields an empty configuration.
func LoadWorkspaceFile(root string) (*WorkspaceFile, error) {
	path := WorkspaceFilePath(root)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &WorkspaceFile{}, nil
		}
		return nil, fmt.Errorf("failed to read workspace file: %w", err)
	}

	var wf WorkspaceFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	wf.Path = path

	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &wf, nil
}

// Validate checks repository declarations for errors and duplicate names
func (w *WorkspaceFile) Validate() error {
	seen := make(map[string]bool)
	for _, r := range w.Repositories {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate repository name %q", r.Name)
		}
		seen[r.Name] = true
	}
	if w.Releases.Driver != "" && !contains(releaseDrivers, w.Releases.Driver) {
		return fmt.Errorf("invalid release index driver: %s", w.Releases.Driver)
	}
	return nil
}
