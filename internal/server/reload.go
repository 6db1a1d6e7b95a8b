package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long the reloader waits after the last change.
const reloadDebounce = 500 * time.Millisecond

// Reloader reloads the policy when one of its files changes. It watches
// the parent directories, so a file replaced by rename (editors, config
// map symlink swaps) is seen as well as one written in place.
type Reloader struct {
	watcher *fsnotify.Watcher
	server  *Server
	files   map[string]bool
	paths   []string
}

// NewReloader creates a watcher for the given files. Empty paths and
// files whose directory does not exist are skipped.
func NewReloader(server *Server, paths []string) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	r := &Reloader{watcher: watcher, server: server, files: make(map[string]bool)}
	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		dir := filepath.Dir(abs)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if !dirs[dir] {
			if err := watcher.Add(dir); err != nil {
				watcher.Close()
				return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
			}
			dirs[dir] = true
		}
		if !r.files[abs] {
			r.files[abs] = true
			r.paths = append(r.paths, abs)
		}
	}
	return r, nil
}

// Paths returns the files being watched, as absolute paths.
func (r *Reloader) Paths() []string {
	return r.paths
}

// relevant reports whether an event changes the content of a watched file.
func (r *Reloader) relevant(ev fsnotify.Event) bool {
	if !r.files[filepath.Clean(ev.Name)] {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// Run reloads the policy after changes settle. Blocks until ctx is
// cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	log := r.server.log
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if !r.relevant(ev) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			name := ev.Name
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := r.server.ReloadPolicy(); err != nil {
					log.Error("hot-reload failed, keeping loaded policy", "file", name, "error", err)
					return
				}
				log.Info("policy reloaded", "file", name, "policy_hash", r.server.LoadedPolicyHash())
			})

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("file watcher error", "error", err)
		}
	}
}
