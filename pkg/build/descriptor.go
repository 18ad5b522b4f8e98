package build

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/lathe/pkg/report"
)

// DescriptorFile marks a project directory
const DescriptorFile = "project.yaml"

// Property keys
const (
	PropBsn          = "bsn"
	PropVersion      = "version"
	PropBuildpath    = "buildpath"
	PropTestpath     = "testpath"
	PropRunpath      = "runpath"
	PropRunbundles   = "runbundles"
	PropRunfw        = "runfw"
	PropDependson    = "dependson"
	PropSrc          = "src"
	PropBin          = "bin"
	PropTarget       = "target"
	PropNoBundles    = "nobundles"
	PropBaseline     = "baseline"
	PropBaselineRepo = "baselinerepo"
	PropPackages     = "packages"
	PropReleaseRepo  = "releaserepo"
)

// Property is a descriptor value with its source position
type Property struct {
	Key   string
	Value string
	File  string
	Line  int
}

// Location returns the source position of the property
func (p Property) Location() report.Location {
	return report.Location{File: p.File, Line: p.Line, Header: p.Key}
}

// Descriptor holds the properties of a project or of the workspace. A
// descriptor may inherit from a parent whose values apply when a key is
// not set locally.
type Descriptor struct {
	path     string
	props    map[string]Property
	packages map[string]Property
	parent   *Descriptor
}

// LoadDescriptor reads a descriptor file. When section is not empty the
// properties are read from that top level key. A missing file yields an
// empty descriptor.
func LoadDescriptor(path, section string) (*Descriptor, error) {
	d := &Descriptor{
		path:     path,
		props:    make(map[string]Property),
		packages: make(map[string]Property),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return d, nil
		}
		return nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigurationError{
			Location: &report.Location{File: path},
			Text:     DescriptorFile,
			Err:      err,
		}
	}
	if len(doc.Content) == 0 {
		return d, nil
	}

	root := doc.Content[0]
	if section != "" {
		root = mappingValue(root, section)
		if root == nil {
			return d, nil
		}
	}
	if root.Kind != yaml.MappingNode {
		return nil, &ConfigurationError{
			Location: &report.Location{File: path, Line: root.Line},
			Text:     section,
			Err:      fmt.Errorf("expected a mapping"),
		}
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if key.Value == PropPackages && section == "" {
			if err := d.loadPackages(value); err != nil {
				return nil, err
			}
			continue
		}
		text, err := scalarText(value)
		if err != nil {
			return nil, &ConfigurationError{
				Location: &report.Location{File: path, Line: value.Line, Header: key.Value},
				Text:     key.Value,
				Err:      err,
			}
		}
		d.props[key.Value] = Property{Key: key.Value, Value: text, File: path, Line: key.Line}
	}
	return d, nil
}

func (d *Descriptor) loadPackages(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return &ConfigurationError{
			Location: &report.Location{File: d.path, Line: node.Line, Header: PropPackages},
			Text:     PropPackages,
			Err:      fmt.Errorf("expected a mapping of package to version"),
		}
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		d.packages[key.Value] = Property{Key: key.Value, Value: value.Value, File: d.path, Line: value.Line}
	}
	return nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// scalarText renders a scalar as is and a sequence of scalars as a clause
// list
func scalarText(node *yaml.Node) (string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Value, nil
	case yaml.SequenceNode:
		parts := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return "", fmt.Errorf("sequence entries must be scalars")
			}
			parts = append(parts, item.Value)
		}
		return strings.Join(parts, ", "), nil
	}
	return "", fmt.Errorf("unsupported value")
}

// Path returns the file the descriptor was read from
func (d *Descriptor) Path() string {
	return d.path
}

// WithParent sets the descriptor inherited from
func (d *Descriptor) WithParent(parent *Descriptor) *Descriptor {
	d.parent = parent
	return d
}

// Property looks a key up locally then in the parent chain
func (d *Descriptor) Property(key string) (Property, bool) {
	for cur := d; cur != nil; cur = cur.parent {
		if p, ok := cur.props[key]; ok {
			return p, true
		}
	}
	return Property{}, false
}

// Get returns the value of key or fallback
func (d *Descriptor) Get(key, fallback string) string {
	if p, ok := d.Property(key); ok && p.Value != "" {
		return p.Value
	}
	return fallback
}

// Has reports whether key is set
func (d *Descriptor) Has(key string) bool {
	_, ok := d.Property(key)
	return ok
}

// Location returns where key is declared or the descriptor file
func (d *Descriptor) Location(key string) report.Location {
	if p, ok := d.Property(key); ok {
		return p.Location()
	}
	return report.Location{File: d.path, Header: key}
}

// Keys returns the locally and inherited keys, sorted
func (d *Descriptor) Keys() []string {
	seen := make(map[string]bool)
	for cur := d; cur != nil; cur = cur.parent {
		for k := range cur.props {
			seen[k] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package returns the declared version of an exported package
func (d *Descriptor) Package(name string) (Property, bool) {
	p, ok := d.packages[name]
	return p, ok
}
