package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Overrides is the YAML-file overlay applied on top of the environment
// configuration. Only operational tunables are overridable; backend
// selection and AWS wiring stay fixed for the process lifetime.
type Overrides struct {
	LogLevel *string `yaml:"log_level"`

	Snapshots *struct {
		EveryNEvents *int `yaml:"every_n_events"`
		MaxAgeHours  *int `yaml:"max_age_hours"`
	} `yaml:"snapshots"`

	Projections *struct {
		ReorderWindow   *int `yaml:"reorder_window"`
		CacheTTLSeconds *int `yaml:"cache_ttl_seconds"`
	} `yaml:"projections"`

	Fetch *struct {
		MaxEvents *int `yaml:"max_events"`
		TimeoutMS *int `yaml:"timeout_ms"`
	} `yaml:"fetch"`
}

// ApplyOverrides returns a copy of cfg with the YAML overlay applied.
// A missing file is not an error; a malformed file is.
func ApplyOverrides(cfg Config, path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var overrides Overrides
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return cfg, err
	}

	if overrides.LogLevel != nil {
		cfg.LogLevel = *overrides.LogLevel
	}
	if overrides.Snapshots != nil {
		if overrides.Snapshots.EveryNEvents != nil {
			cfg.Snapshots.EveryNEvents = *overrides.Snapshots.EveryNEvents
		}
		if overrides.Snapshots.MaxAgeHours != nil {
			cfg.Snapshots.MaxAgeHours = *overrides.Snapshots.MaxAgeHours
		}
	}
	if overrides.Projections != nil {
		if overrides.Projections.ReorderWindow != nil {
			cfg.Projections.ReorderWindow = *overrides.Projections.ReorderWindow
		}
		if overrides.Projections.CacheTTLSeconds != nil {
			cfg.Projections.CacheTTLSeconds = *overrides.Projections.CacheTTLSeconds
		}
	}
	if overrides.Fetch != nil {
		if overrides.Fetch.MaxEvents != nil {
			cfg.Fetch.MaxEvents = *overrides.Fetch.MaxEvents
		}
		if overrides.Fetch.TimeoutMS != nil {
			cfg.Fetch.TimeoutMS = *overrides.Fetch.TimeoutMS
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ChangeCallback is invoked with the old and new configuration after a
// successful hot reload
type ChangeCallback func(oldConfig, newConfig Config)

// Watcher hot-reloads the overrides file on change. Editors often replace
// files via rename, so the parent directory is watched rather than the file.
type Watcher struct {
	base      Config
	path      string
	watcher   *fsnotify.Watcher
	logger    *zap.Logger
	callbacks []ChangeCallback

	mu      sync.RWMutex
	current Config

	done chan struct{}
	once sync.Once
}

// NewWatcher creates a watcher over the overrides file. The base config is
// what the environment produced; the watcher keeps base-plus-overlay current.
func NewWatcher(base Config, path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	current, err := ApplyOverrides(base, path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		base:    base,
		path:    path,
		watcher: fsw,
		logger:  logger,
		current: current,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Current returns the latest configuration
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked after each successful reload
func (w *Watcher) OnChange(cb ChangeCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Close stops watching
func (w *Watcher) Close() {
	w.once.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) run() {
	// Debounce bursts of events from a single save
	var timer *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(100*time.Millisecond, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	next, err := ApplyOverrides(w.base, w.path)
	if err != nil {
		w.logger.Warn("ignoring invalid config overrides",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = next
	callbacks := make([]ChangeCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("configuration reloaded", zap.String("path", w.path))
	for _, cb := range callbacks {
		cb(old, next)
	}
}
