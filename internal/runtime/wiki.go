// Package runtime assembles the wiki front end from configuration and
// manages its lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/wikifront/internal/config"
	"github.com/tjfontaine/wikifront/internal/jobs"
	"github.com/tjfontaine/wikifront/internal/lifecycle"
	"github.com/tjfontaine/wikifront/internal/server"
	"github.com/tjfontaine/wikifront/internal/storage"
)

// Wiki is the main entry point for running the front end.
// It owns configuration, the data store, the HTTP server and every
// pipeline built from the configuration over its lifetime.
type Wiki struct {
	// Dependencies (injected via options)
	watcher   *config.Watcher
	static    *config.Config
	store     storage.Factory
	ownsStore bool
	invoker   jobs.Invoker
	logger    *slog.Logger

	// Internal state
	server  *server.Server
	current *pipeline
	retired []*lifecycle.Coordinator

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	mu     sync.RWMutex
}

// New creates a Wiki with the given options.
func New(opts ...Option) (*Wiki, error) {
	w := &Wiki{
		logger:    slog.Default(),
		ownsStore: true,
	}

	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if w.watcher == nil && w.static == nil {
		return nil, fmt.Errorf("configuration required (use WithFileConfig or WithConfig)")
	}

	return w, nil
}

// Init loads configuration, opens the store and builds the request
// pipeline without listening. Start calls it when needed.
func (w *Wiki) Init(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.init(ctx)
}

func (w *Wiki) init(ctx context.Context) error {
	if w.current != nil {
		return nil
	}

	cfg := w.static
	if w.watcher != nil {
		var err error
		cfg, err = w.watcher.Load(ctx)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	if w.store == nil {
		store, err := openStore(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		w.store = store
	}

	p, err := w.assemble(cfg)
	if err != nil {
		return err
	}

	w.server = server.New(cfg.Server.Port, w.logger, nil,
		config.Duration(cfg.Server.RequestTimeout, 0),
		server.Routes{ScriptPath: cfg.Server.ScriptPath, ArticlePath: articleRoute(cfg)})
	w.server.SetHandler(p.handler)
	w.current = p
	return nil
}

func articleRoute(cfg *config.Config) string {
	if !cfg.Server.UsePathInfo {
		return ""
	}
	return cfg.Server.ArticlePath
}

// Handler returns the root HTTP handler. Init must have succeeded.
func (w *Wiki) Handler() http.Handler {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.server == nil {
		return nil
	}
	return w.server.Router
}

// Config returns the configuration of the live pipeline.
func (w *Wiki) Config() *config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.current == nil {
		return nil
	}
	return w.current.cfg
}

// Runner returns the job runner of the live pipeline.
func (w *Wiki) Runner() *jobs.Runner {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.current == nil {
		return nil
	}
	return w.current.runner
}

// Start builds the pipeline and serves it on the configured port.
func (w *Wiki) Start(ctx context.Context) error {
	if err := w.Init(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", w.Config().Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return w.Serve(ctx, ln)
}

// Serve builds the pipeline if needed and accepts connections on ln. It
// returns once serving has started; Wait reports how serving ended.
func (w *Wiki) Serve(ctx context.Context, ln net.Listener) error {
	if err := w.Init(ctx); err != nil {
		ln.Close()
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.group != nil {
		ln.Close()
		return fmt.Errorf("wiki already started")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.group, _ = errgroup.WithContext(w.ctx)

	srv := w.server
	w.group.Go(func() error {
		return srv.Serve(ln)
	})

	if w.watcher != nil {
		if err := w.watcher.Watch(w.ctx, w.onConfigChange); err != nil {
			w.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}

	w.logger.Info("wiki started",
		slog.String("addr", ln.Addr().String()),
		slog.String("server", w.current.cfg.Server.Server),
		slog.String("storage", w.current.cfg.Storage.Type))
	return nil
}

// Wait blocks until the server stops and returns its error.
func (w *Wiki) Wait() error {
	w.mu.RLock()
	g := w.group
	w.mu.RUnlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Shutdown stops the server, waits for post-response work of every
// pipeline and closes owned resources.
func (w *Wiki) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.logger.Info("shutting down wiki")

	if w.cancel != nil {
		w.cancel()
	}

	var errs []error
	if w.server != nil {
		if err := w.server.Shutdown(ctx); err != nil {
			w.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if w.group != nil {
		if err := w.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	for _, c := range w.retired {
		c.Wait()
	}
	if w.current != nil {
		w.current.coord.Wait()
	}

	if w.watcher != nil {
		if err := w.watcher.Close(); err != nil {
			w.logger.Error("failed to close config watcher", slog.String("error", err.Error()))
		}
	}

	if w.ownsStore && w.store != nil {
		if err := w.store.Close(); err != nil {
			w.logger.Error("failed to close store", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	w.logger.Info("wiki shutdown complete")
	return errors.Join(errs...)
}

func (w *Wiki) onConfigChange(cfg *config.Config) {
	w.logger.Info("config changed, reloading")
	if err := w.Reload(cfg); err != nil {
		w.logger.Error("failed to reload", slog.String("error", err.Error()))
	}
}

// Reload rebuilds the pipeline for cfg and swaps it in. The store, port
// and routes stay as they were started.
func (w *Wiki) Reload(cfg *config.Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		return fmt.Errorf("wiki not initialized")
	}
	if cfg.Storage != w.current.cfg.Storage || cfg.Server.Port != w.current.cfg.Server.Port {
		w.logger.Warn("storage and port changes apply after restart")
	}

	p, err := w.assemble(cfg)
	if err != nil {
		return fmt.Errorf("rebuild pipeline: %w", err)
	}

	w.server.SetHandler(p.handler)
	w.retired = append(w.retired, w.current.coord)
	w.current = p

	w.logger.Info("reload complete",
		slog.Int("hooks", len(cfg.Hooks)),
		slog.Int("users", len(cfg.Users)))
	return nil
}
