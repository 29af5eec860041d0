package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/wikifront/internal/config"
	"github.com/tjfontaine/wikifront/internal/jobs"
	"github.com/tjfontaine/wikifront/internal/storage"
)

// Option is a functional option for configuring a Wiki.
type Option func(*Wiki) error

// WithFileConfig reads config.yaml-style settings from path and reloads
// them when the file is written.
func WithFileConfig(path string) Option {
	return func(w *Wiki) error {
		watcher, err := config.NewWatcher(path, w.logger)
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		w.watcher = watcher
		return nil
	}
}

// WithConfig uses a fixed configuration. Nothing is reloaded.
func WithConfig(cfg *config.Config) Option {
	return func(w *Wiki) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		w.static = cfg
		return nil
	}
}

// WithStore uses an already opened store instead of the one named by the
// storage section. The caller keeps ownership and closes it.
func WithStore(store storage.Factory) Option {
	return func(w *Wiki) error {
		if store == nil {
			return fmt.Errorf("store cannot be nil")
		}
		w.store = store
		w.ownsStore = false
		return nil
	}
}

// WithInvoker replaces the HTTP client that requests asynchronous job runs.
func WithInvoker(inv jobs.Invoker) Option {
	return func(w *Wiki) error {
		w.invoker = inv
		return nil
	}
}

// WithLogger sets the logger. Options after it see the new logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Wiki) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		w.logger = logger
		return nil
	}
}
