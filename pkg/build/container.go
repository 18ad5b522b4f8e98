package build

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/platinummonkey/lathe/pkg/clause"
	"github.com/platinummonkey/lathe/pkg/download"
)

// ContainerType tags what a container resolved to
type ContainerType int

const (
	// TypeProject is the output of a workspace project
	TypeProject ContainerType = iota
	// TypeRepo is an artifact served by a repository plugin
	TypeRepo
	// TypeExternal is a plain file outside any repository
	TypeExternal
	// TypeLibrary lists further clauses or files to resolve
	TypeLibrary
	// TypeError carries a resolution failure
	TypeError
)

func (t ContainerType) String() string {
	return []string{"PROJECT", "REPO", "EXTERNAL", "LIBRARY", "ERROR"}[t]
}

// LibraryExt marks a text file listing clauses
const LibraryExt = ".lib"

// memberResolver resolves one clause of a library file
type memberResolver func(ctx context.Context, c clause.Clause) (*Container, error)

// Container is a resolved path entry
type Container struct {
	typ     ContainerType
	bsn     string
	version string
	// owner is the name of the project that resolved the container
	owner string
	// project names the providing workspace project of a TypeProject
	project string
	file    string
	blocker *download.Blocker
	err     string
	attrs   map[string]string
	resolve memberResolver

	mu   sync.Mutex
	late map[string]string
}

func newContainer(typ ContainerType, owner, bsn, ver, file string, attrs map[string]string) *Container {
	if file != "" {
		if abs, err := filepath.Abs(file); err == nil {
			file = abs
		}
	}
	return &Container{
		typ:     typ,
		bsn:     bsn,
		version: ver,
		owner:   owner,
		file:    file,
		attrs:   copyAttrs(attrs),
	}
}

func errorContainer(owner, bsn, ver, msg string, attrs map[string]string) *Container {
	c := newContainer(TypeError, owner, bsn, ver, "", attrs)
	c.err = msg
	return c
}

func copyAttrs(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// Type returns the container type
func (c *Container) Type() ContainerType { return c.typ }

// Bsn returns the symbolic name
func (c *Container) Bsn() string { return c.bsn }

// Version returns the version text the container was resolved with
func (c *Container) Version() string { return c.version }

// Owner returns the name of the project that resolved the container
func (c *Container) Owner() string { return c.owner }

// Project returns the providing project name of a TypeProject container
func (c *Container) Project() string { return c.project }

// Error returns the failure message of a TypeError container
func (c *Container) Error() string { return c.err }

// Attributes returns a copy of the clause attributes
func (c *Container) Attributes() map[string]string { return copyAttrs(c.attrs) }

// Attr returns one clause attribute
func (c *Container) Attr(key string) string { return c.attrs[key] }

// Path returns the resolved path without waiting for a download
func (c *Container) Path() string { return c.file }

// File returns the resolved file, waiting for a pending download
func (c *Container) File(ctx context.Context) (string, error) {
	if c.typ == TypeError {
		return "", fmt.Errorf("%s", c.err)
	}
	if c.blocker == nil {
		return c.file, nil
	}
	return c.blocker.FileContext(ctx)
}

// SetLate caches a lazily computed attribute
func (c *Container) SetLate(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.late == nil {
		c.late = make(map[string]string)
	}
	c.late[key] = value
}

// Late returns a cached lazily computed attribute
func (c *Container) Late(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.late[key]
	return v, ok
}

// Key identifies the container by its resolved path. Containers without a
// file are identified by their clause.
func (c *Container) Key() string {
	if c.file != "" {
		return c.file
	}
	return c.typ.String() + ":" + c.bsn + ";version=" + c.version
}

func (c *Container) String() string {
	if c.typ == TypeError {
		return fmt.Sprintf("%s;version=%s [ERROR %s]", c.bsn, c.version, c.err)
	}
	return fmt.Sprintf("%s;version=%s [%s %s]", c.bsn, c.version, c.typ, c.file)
}

// Members expands a library. A directory library yields the files it
// contains, a library file yields its clauses resolved by the owner.
// Other containers yield themselves.
func (c *Container) Members(ctx context.Context) ([]*Container, error) {
	if c.typ != TypeLibrary {
		return []*Container{c}, nil
	}

	file, err := c.File(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return []*Container{errorContainer(c.owner, c.bsn, c.version, err.Error(), c.attrs)}, nil
	}

	info, err := os.Stat(file)
	if err != nil {
		return []*Container{errorContainer(c.owner, c.bsn, c.version,
			"library does not exist: "+file, c.attrs)}, nil
	}
	if info.IsDir() {
		return c.directoryMembers(file)
	}
	return c.fileMembers(ctx, file)
}

func (c *Container) directoryMembers(dir string) ([]*Container, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []*Container{errorContainer(c.owner, c.bsn, c.version, err.Error(), c.attrs)}, nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]*Container, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		typ := TypeExternal
		if strings.HasSuffix(name, LibraryExt) {
			typ = TypeLibrary
		}
		m := newContainer(typ, c.owner, name, "file", path, nil)
		m.resolve = c.resolve
		out = append(out, m)
	}
	return out, nil
}

func (c *Container) fileMembers(ctx context.Context, file string) ([]*Container, error) {
	f, err := os.Open(file)
	if err != nil {
		return []*Container{errorContainer(c.owner, c.bsn, c.version, err.Error(), c.attrs)}, nil
	}
	defer f.Close()

	var out []*Container
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		clauses, err := clause.Parse(text)
		if err != nil {
			out = append(out, errorContainer(c.owner, c.bsn, c.version,
				fmt.Sprintf("%s:%d: %v", file, line, err), c.attrs))
			continue
		}
		for _, cl := range clauses {
			if c.resolve == nil {
				out = append(out, errorContainer(c.owner, cl.Key(), cl.Attr("version", ""),
					"library members cannot be resolved outside a project", cl.Attrs))
				continue
			}
			m, err := c.resolve(ctx, cl)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read library %s: %w", file, err)
	}
	return out, nil
}

// Flatten expands libraries recursively into a duplicate free list in
// first seen order. The result contains no TypeLibrary entries. A library
// that includes itself is expanded once.
func Flatten(ctx context.Context, containers []*Container) ([]*Container, error) {
	var (
		out       []*Container
		seen      = make(map[string]bool)
		libraries = make(map[string]bool)
	)

	var walk func([]*Container) error
	walk = func(cs []*Container) error {
		for _, c := range cs {
			if c.typ == TypeLibrary {
				if libraries[c.Key()] {
					continue
				}
				libraries[c.Key()] = true
				members, err := c.Members(ctx)
				if err != nil {
					return err
				}
				if err := walk(members); err != nil {
					return err
				}
				continue
			}
			if seen[c.Key()] {
				continue
			}
			seen[c.Key()] = true
			out = append(out, c)
		}
		return nil
	}

	if err := walk(containers); err != nil {
		return nil, err
	}
	return out, nil
}
