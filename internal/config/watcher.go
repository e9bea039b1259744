package config

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Subscriber receives the freshly loaded Config each time the watched file
// changes.
type Subscriber func(Config)

// Watcher fires Subscribers on a cooperatively-scheduled queue fed by an
// inotify-backed file watch, matching the config-watcher thread role the
// core names as an external collaborator.
type Watcher struct {
	path   string
	fsw    *fsnotify.Watcher
	logger *slog.Logger

	mu          sync.Mutex
	current     Config
	subscribers []Subscriber
}

// NewWatcher loads path once and begins watching its containing directory
// (watching the directory, not the file itself, survives editors that
// replace the file via rename-into-place rather than an in-place write).
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		path:    path,
		fsw:     fsw,
		logger:  logger,
		current: Load(path),
	}, nil
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Subscribe registers fn to be called, on the Run goroutine, with every
// Config reload from this point forward.
func (w *Watcher) Subscribe(fn Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, fn)
}

// Run processes fsnotify events until the watcher is closed. It is the
// cooperatively-scheduled queue: every subscriber callback runs on this one
// goroutine, never concurrently with another reload.
func (w *Watcher) Run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg := Load(w.path)
	w.mu.Lock()
	w.current = cfg
	subs := append([]Subscriber(nil), w.subscribers...)
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path)
	for _, sub := range subs {
		sub(cfg)
	}
}

// Close stops the watch. Run returns once its event channels drain.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
