// Package config loads Kestrel configuration from YAML with hot-reload
// support for scoring thresholds.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Loader reads a YAML config file and watches it for changes. Only the
// scoring thresholds are applied on reload; topology changes (repository
// driver, cache type, event bus) require a restart.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *domain.Config
	onChange []func(*domain.Config)
	watcher  *fsnotify.Watcher
}

// NewLoader creates a Loader and performs the initial load. An empty path
// skips file loading and uses tier defaults plus environment overrides.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the current (latest) configuration.
func (l *Loader) Config() *domain.Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Thresholds returns the current scoring thresholds. Safe to call
// concurrently with a reload.
func (l *Loader) Thresholds() domain.Thresholds {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current.Scoring.Thresholds
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*domain.Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file
// changes. Call the returned stop function to clean up. Watch is a no-op
// when no config file path was given.
func (l *Loader) Watch() (stop func(), err error) {
	if l.path == "" {
		return func() {}, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}
	l.watcher = w

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					cfg, err := l.load()
					if err != nil {
						slog.Warn("config reload failed, keeping previous config",
							"path", l.path,
							"error", err,
						)
						continue
					}
					l.apply(cfg)
					slog.Info("config reloaded",
						"path", l.path,
						"fraud_threshold", cfg.Scoring.Thresholds.FraudScore,
						"review_threshold", cfg.Scoring.Thresholds.ReviewScore,
					)
				}
			case <-w.Errors:
				// Ignore watcher errors.
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// Reload forces an immediate re-read of the config file.
func (l *Loader) Reload() (*domain.Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.apply(cfg)
	return cfg, nil
}

func (l *Loader) apply(cfg *domain.Config) {
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*domain.Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
}

func (l *Loader) load() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
	}

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", l.path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies environment overrides on top of the file values.
func applyEnv(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_DELEGATE_URL"); v != "" {
		cfg.Delegate.BaseURL = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
}

func applyDefaults(cfg *domain.Config) {
	if cfg.Scoring.Thresholds.FraudScore == 0 {
		cfg.Scoring.Thresholds = domain.DefaultThresholds()
	}
	if cfg.Scoring.BatchWorkers == 0 {
		cfg.Scoring.BatchWorkers = 8
	}
	if cfg.Delegate.SingleTimeout == 0 {
		cfg.Delegate.SingleTimeout = domain.DefaultSingleTimeout
	}
	if cfg.Delegate.BatchTimeout == 0 {
		cfg.Delegate.BatchTimeout = domain.DefaultBatchTimeout
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
}

func validate(cfg *domain.Config) error {
	th := cfg.Scoring.Thresholds
	if th.FraudScore < 0 || th.FraudScore > 100 {
		return fmt.Errorf("fraud threshold out of range: %d", th.FraudScore)
	}
	if th.ReviewScore < 0 || th.ReviewScore >= th.FraudScore {
		return fmt.Errorf("review threshold %d must be below fraud threshold %d", th.ReviewScore, th.FraudScore)
	}
	if cfg.Scoring.BatchWorkers < 1 {
		return fmt.Errorf("batch workers must be positive: %d", cfg.Scoring.BatchWorkers)
	}
	return nil
}
