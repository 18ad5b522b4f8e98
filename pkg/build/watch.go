package build

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lathe/pkg/config"
	"github.com/platinummonkey/lathe/pkg/observability"
)

// Watcher follows file system changes below a workspace root. New or
// removed directories invalidate project discovery, descriptor edits
// reload the project and workspace.yaml edits refresh the workspace.
type Watcher struct {
	ws  *Workspace
	fs  *fsnotify.Watcher
	log logrus.FieldLogger
	wg  sync.WaitGroup
}

// NewWatcher starts watching the root of w
func NewWatcher(w *Workspace) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	watcher := &Watcher{
		ws:  w,
		fs:  fsw,
		log: w.log.WithField("component", "watcher"),
	}

	if err := fsw.Add(w.root); err != nil {
		fsw.Close()
		return nil, err
	}
	if err := watcher.addIfDir(filepath.Join(w.root, config.ConfigDir)); err != nil {
		watcher.log.WithError(err).Warn("Failed to watch configuration directory")
	}
	for _, name := range w.discover() {
		watcher.addProject(name)
	}

	watcher.wg.Add(1)
	go watcher.run()
	return watcher, nil
}

func (wt *Watcher) addIfDir(path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil
	}
	return wt.fs.Add(path)
}

// addProject watches a project directory and its source tree
func (wt *Watcher) addProject(name string) {
	dir := filepath.Join(wt.ws.root, name)
	if err := wt.fs.Add(dir); err != nil {
		wt.log.WithError(err).WithField("project", name).Warn("Failed to watch project")
		return
	}
	src := filepath.Join(dir, "src")
	if p, ok := wt.ws.loaded(name); ok {
		src = p.SourceDir()
	}
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return wt.fs.Add(path)
		}
		return nil
	})
	if err != nil {
		wt.log.WithError(err).WithField("project", name).Warn("Failed to watch sources")
	}
}

func (wt *Watcher) run() {
	defer wt.wg.Done()
	for {
		select {
		case event, ok := <-wt.fs.Events:
			if !ok {
				return
			}
			wt.dispatch(event)
		case err, ok := <-wt.fs.Errors:
			if !ok {
				return
			}
			wt.log.WithError(err).Warn("Watcher error")
		}
	}
}

// dispatch handles one event, a panic drops the event and keeps watching
func (wt *Watcher) dispatch(event fsnotify.Event) {
	defer observability.RecoverPanic(wt.log, "workspace watcher")
	wt.handle(event)
}

func (wt *Watcher) handle(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	w := wt.ws
	path := event.Name

	// events are applied between top level operations
	w.opMu.Lock()
	defer w.opMu.Unlock()

	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	log := wt.log.WithFields(logrus.Fields{"path": rel, "op": event.Op.String()})

	switch {
	case path == config.WorkspaceFilePath(w.root):
		log.Info("Workspace configuration changed")
		if err := w.Refresh(); err != nil {
			log.WithError(err).Error("Failed to refresh workspace")
		}

	case len(parts) == 1:
		if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
			return
		}
		log.Debug("Workspace directory changed")
		w.invalidateDiscovery()
		if event.Op&fsnotify.Create != 0 {
			if parts[0] == config.ConfigDir {
				_ = wt.addIfDir(path)
			} else if w.isProjectDir(parts[0]) {
				wt.addProject(parts[0])
			}
		}

	case len(parts) == 2 && parts[1] == DescriptorFile:
		if event.Op&fsnotify.Create != 0 {
			w.invalidateDiscovery()
		}
		if p, ok := w.loaded(parts[0]); ok {
			if err := p.PropertiesChanged(); err != nil {
				log.WithError(err).Warn("Failed to reload project descriptor")
			}
		}

	default:
		p, ok := w.loaded(parts[0])
		if !ok || !within(p.SourceDir(), path) {
			return
		}
		if event.Op&fsnotify.Create != 0 {
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				_ = wt.fs.Add(path)
			}
		}
		log.Debug("Source changed")
		p.SetChanged()
	}

	w.ChangedFile(path)
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// Close stops the watcher
func (wt *Watcher) Close() error {
	err := wt.fs.Close()
	wt.wg.Wait()
	return err
}
