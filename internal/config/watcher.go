package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceDelay coalesces editor save bursts into one reload.
const debounceDelay = 500 * time.Millisecond

// Watcher hot-reloads the configuration file in development. Callbacks
// receive the freshly loaded config after every successful reload.
type Watcher struct {
	path      string
	logger    *zap.Logger
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stopOnce  sync.Once

	mu        sync.RWMutex
	current   *Config
	callbacks []func(*Config)
}

// NewWatcher starts watching the config file. Outside development no file
// watcher is created and Current simply returns the initial config.
func NewWatcher(path string, initial *Config, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		path:    path,
		logger:  logger,
		current: initial,
		stopCh:  make(chan struct{}),
	}
	if initial.Environment != Development || path == "" {
		return w, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(path); err != nil {
		_ = fsWatcher.Close()
		logger.Warn("config file not watchable, hot reload disabled",
			zap.String("path", path), zap.Error(err))
		return w, nil
	}
	w.watcher = fsWatcher
	go w.loop()
	logger.Info("config hot reload enabled", zap.String("path", path))
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers a callback invoked after each successful reload.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *Watcher) loop() {
	defer w.watcher.Close()
	var debounce *time.Timer

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous",
			zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = cfg
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("configuration reloaded", zap.String("path", w.path))
	for _, fn := range callbacks {
		fn(cfg)
	}
}
