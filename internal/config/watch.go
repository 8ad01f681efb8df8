package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a Config from a YAML file whenever it changes on
// disk, the way an encryption gateway re-reads rotated credential files
// without a restart. A fresh SchemaMap is rebuilt on every reload so
// readers always observe a consistent snapshot.
type Watcher struct {
	mu     sync.RWMutex
	path   string
	cfg    *Config
	schema *SchemaMap
	fsw    *fsnotify.Watcher
	onLoad func(*Config, error)

	closeOnce sync.Once
	done      chan struct{}
}

// NewWatcher loads path once and begins watching it for changes. onLoad,
// if non-nil, is invoked after every (re)load, including the first.
func NewWatcher(path string, onLoad func(*Config, error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{path: path, fsw: fsw, onLoad: onLoad, done: make(chan struct{})}
	w.reload()
	go w.run()
	return w, nil
}

func (w *Watcher) reload() {
	cfg, err := LoadFile(w.path)
	if err != nil {
		if w.onLoad != nil {
			w.onLoad(nil, err)
		}
		return
	}

	w.mu.Lock()
	w.cfg = cfg
	w.schema = NewSchemaMap(cfg)
	w.mu.Unlock()

	if w.onLoad != nil {
		w.onLoad(cfg, nil)
	}
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case <-w.fsw.Errors:
			// Errors from the underlying notify backend don't invalidate
			// the last good config; the next successful event still
			// reloads normally.
		case <-w.done:
			return
		}
	}
}

// Config returns the most recently loaded configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// SchemaMap returns the SchemaMap built from the most recent load.
func (w *Watcher) SchemaMap() *SchemaMap {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.schema
}

// Close stops watching and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return w.fsw.Close()
}
