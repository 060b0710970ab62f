package profile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads every *.yaml/*.yml file in Dir into a Registry, replacing
// the original C implementation's key=value ".profile" format
// (original_source/src/transcprofile.c) with the pack's idiomatic YAML.
type Loader struct {
	Dir      string
	Registry *Registry
	Logger   *slog.Logger
}

// NewLoader constructs a Loader for dir, writing into registry.
func NewLoader(dir string, registry *Registry, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{Dir: dir, Registry: registry, Logger: logger}
}

// Load reads Dir and atomically replaces the registry's contents. Called
// at startup and by Refresh.
func (l *Loader) Load() error {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return fmt.Errorf("profile: reading directory %s: %w", l.Dir, err)
	}

	records := make(map[string]*Record)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		path := filepath.Join(l.Dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			l.Logger.Warn("profile: skipping unreadable file", "path", path, "error", err)
			continue
		}

		var rec Record
		if err := yaml.Unmarshal(data, &rec); err != nil {
			l.Logger.Warn("profile: skipping malformed profile", "path", path, "error", err)
			continue
		}
		rec.Name = name
		records[name] = &rec
	}

	l.Registry.Replace(records)
	l.Logger.Info("profile: loaded profiles", "dir", l.Dir, "count", len(records))
	return nil
}

// Watch starts an fsnotify watch on Dir and calls Load on every
// create/write/remove/rename event until ctx is cancelled. Errors from
// individual reloads are logged, not propagated, matching the scheduler's
// "hot reload failures do not crash the daemon" posture.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("profile: creating watcher: %w", err)
	}
	if err := watcher.Add(l.Dir); err != nil {
		watcher.Close()
		return fmt.Errorf("profile: watching %s: %w", l.Dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := l.Load(); err != nil {
					l.Logger.Error("profile: reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.Logger.Error("profile: watcher error", "error", err)
			}
		}
	}()

	return nil
}
