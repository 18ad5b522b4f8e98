package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/platinummonkey/lathe/pkg/version"
)

// APISuffix is appended to an artifact path to name its API document
const APISuffix = ".api.json"

// ErrNoAPI is returned when an artifact carries no API document
var ErrNoAPI = errors.New("no API document")

// Element kinds
const (
	KindInterface = "interface"
	KindClass     = "class"
	KindMethod    = "method"
	KindField     = "field"
	KindConstant  = "constant"
)

// Element is a node of an exported API tree
type Element struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Signature string `json:"signature,omitempty"`
	// Value is the value of a constant
	Value    string `json:"value,omitempty"`
	Abstract bool   `json:"abstract,omitempty"`
	// Provider marks an interface implemented only by its provider, so
	// abstract additions do not break consumers
	Provider bool      `json:"provider,omitempty"`
	Members  []Element `json:"members,omitempty"`
}

// Key identifies an element among its siblings
func (e Element) Key() string {
	return e.Kind + ":" + e.Name + e.Signature
}

// Package is one exported package
type Package struct {
	Name     string          `json:"name"`
	Version  version.Version `json:"version"`
	Digest   string          `json:"digest,omitempty"`
	Elements []Element       `json:"elements,omitempty"`
}

// API is the exported surface of one artifact
type API struct {
	Bsn      string          `json:"bsn"`
	Version  version.Version `json:"version"`
	Packages []Package       `json:"packages"`
}

// Package returns the named package or nil
func (a *API) Package(name string) *Package {
	for i := range a.Packages {
		if a.Packages[i].Name == name {
			return &a.Packages[i]
		}
	}
	return nil
}

// LoadAPI reads an API document
func LoadAPI(path string) (*API, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNoAPI)
		}
		return nil, err
	}
	var api API
	if err := json.Unmarshal(data, &api); err != nil {
		return nil, fmt.Errorf("failed to parse API document %s: %w", path, err)
	}
	return &api, nil
}

// WriteAPI writes an API document
func WriteAPI(path string, api *API) error {
	data, err := json.MarshalIndent(api, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
