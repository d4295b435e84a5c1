package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrManifestNotFound is returned when no manifest is registered for an id.
var ErrManifestNotFound = errors.New("manifest not found")

// Registry holds channel manifests loaded from disk or registered
// in-process. Reads dominate; the map is guarded by an RWMutex.
type Registry struct {
	dir    string
	logger *slog.Logger

	mu        sync.RWMutex
	manifests map[string]*ChannelManifest

	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewRegistry creates a registry backed by the given manifest directory.
// An empty dir is allowed for in-process registration only.
func NewRegistry(dir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		dir:       dir,
		logger:    logger.With("component", "manifest_registry"),
		manifests: make(map[string]*ChannelManifest),
	}
}

// Load reads every *_manifest.json under the registry directory.
// Invalid documents are skipped with a warning; a missing directory is
// not an error.
func (r *Registry) Load() error {
	if r.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read manifest dir: %w", err)
	}

	loaded := make(map[string]*ChannelManifest)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, "_manifest.json") {
			continue
		}
		m, err := loadFile(filepath.Join(r.dir, name))
		if err != nil {
			r.logger.Warn("skipping invalid manifest", "file", name, "error", err)
			continue
		}
		loaded[m.ID] = m
	}

	r.mu.Lock()
	r.manifests = loaded
	r.mu.Unlock()

	r.logger.Info("manifests loaded", "count", len(loaded), "dir", r.dir)
	return nil
}

func loadFile(path string) (*ChannelManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateDocument(raw); err != nil {
		return nil, err
	}
	var m ChannelManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Register installs a manifest in-process, replacing any loaded one with
// the same id. Used by tests and embedded setups.
func (r *Registry) Register(m *ChannelManifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.manifests[m.ID] = m
	r.mu.Unlock()
	return nil
}

// Get returns the manifest registered for id.
func (r *Registry) Get(id string) (*ChannelManifest, error) {
	r.mu.RLock()
	m, ok := r.manifests[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, id)
	}
	return m, nil
}

// List returns all manifests sorted by id.
func (r *Registry) List() []*ChannelManifest {
	r.mu.RLock()
	out := make([]*ChannelManifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ValidateConfig validates cfg against the manifest registered for id.
func (r *Registry) ValidateConfig(id string, cfg map[string]string) error {
	m, err := r.Get(id)
	if err != nil {
		return err
	}
	return m.ValidateConfig(cfg)
}

// Reload reparses manifests from disk.
func (r *Registry) Reload() error {
	return r.Load()
}

// Watch reloads the registry whenever the manifest directory changes.
// Events are debounced so editors that write in multiple steps trigger a
// single reload.
func (r *Registry) Watch(ctx context.Context) error {
	if r.dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("manifest watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.watchCancel = cancel

	r.watchWg.Add(1)
	go func() {
		defer r.watchWg.Done()
		defer watcher.Close()

		var mu sync.Mutex
		var timer *time.Timer
		scheduleReload := func() {
			mu.Lock()
			defer mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, func() {
				if err := r.Reload(); err != nil {
					r.logger.Warn("manifest reload failed", "error", err)
				}
			})
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("manifest watch error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher, if running.
func (r *Registry) Close() {
	if r.watchCancel != nil {
		r.watchCancel()
	}
	r.watchWg.Wait()
}
