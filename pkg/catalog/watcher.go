package catalog

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher monitors the tool catalog file and reloads the registry when it
// changes. Editors typically replace files via rename, so the parent
// directory is watched and events are filtered by path.
type Watcher struct {
	watcher          *fsnotify.Watcher
	catalogPath      string
	serversPath      string
	registry         *Registry
	debounceInterval time.Duration

	done       chan struct{}
	stopOnce   sync.Once
	debounceMu sync.Mutex
	debounce   *time.Timer
}

// NewWatcher creates a catalog watcher. serversPath may be empty.
func NewWatcher(registry *Registry, catalogPath, serversPath string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:          fw,
		catalogPath:      filepath.Clean(catalogPath),
		serversPath:      filepath.Clean(serversPath),
		registry:         registry,
		debounceInterval: 200 * time.Millisecond,
		done:             make(chan struct{}),
	}, nil
}

// Start begins watching the catalog directory.
func (w *Watcher) Start() error {
	dirs := map[string]struct{}{filepath.Dir(w.catalogPath): {}}
	if w.serversPath != "." {
		dirs[filepath.Dir(w.serversPath)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go w.eventLoop()

	log.Info().Str("path", w.catalogPath).Msg("Catalog watcher started")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.debounceMu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounceMu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Catalog watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	path := filepath.Clean(event.Name)
	return path == w.catalogPath || path == w.serversPath
}

// scheduleReload debounces bursts of write events into a single reload.
func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.debounceInterval, w.reload)
}

func (w *Watcher) reload() {
	tools, err := LoadToolsFile(w.catalogPath)
	if err != nil {
		log.Error().Err(err).Msg("Catalog reload failed, keeping previous catalog")
		return
	}

	var servers []ServerProfile
	if w.serversPath != "." {
		servers, err = LoadServersFile(w.serversPath)
		if err != nil {
			log.Error().Err(err).Msg("Server profile reload failed, keeping previous catalog")
			return
		}
	}

	if err := w.registry.Replace(tools, servers); err != nil {
		log.Error().Err(err).Msg("Catalog reload rejected")
		return
	}

	log.Info().Int("tools", len(tools)).Msg("Tool catalog reloaded")
}
