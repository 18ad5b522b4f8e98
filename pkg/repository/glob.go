package repository

import (
	"sync"

	"github.com/gobwas/glob"
)

var (
	globMu    sync.RWMutex
	globCache = map[string]glob.Glob{}
)

func compile(pattern string) (glob.Glob, error) {
	globMu.RLock()
	g, ok := globCache[pattern]
	globMu.RUnlock()
	if ok {
		return g, nil
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	globMu.Lock()
	globCache[pattern] = g
	globMu.Unlock()
	return g, nil
}

// Match reports whether name matches a glob pattern. An empty pattern
// matches everything and an invalid pattern only matches itself.
func Match(pattern, name string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	g, err := compile(pattern)
	if err != nil {
		return pattern == name
	}
	return g.Match(name)
}

// Filter keeps the plugins whose name matches pattern, preserving order
func Filter(plugins []Plugin, pattern string) []Plugin {
	if pattern == "" {
		return plugins
	}
	var out []Plugin
	for _, p := range plugins {
		if Match(pattern, p.Name()) {
			out = append(out, p)
		}
	}
	return out
}
