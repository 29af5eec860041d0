package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tjfontaine/wikifront/internal/access"
	"github.com/tjfontaine/wikifront/internal/action"
	"github.com/tjfontaine/wikifront/internal/article"
	"github.com/tjfontaine/wikifront/internal/auth"
	"github.com/tjfontaine/wikifront/internal/config"
	"github.com/tjfontaine/wikifront/internal/hooks"
	"github.com/tjfontaine/wikifront/internal/jobs"
	"github.com/tjfontaine/wikifront/internal/lifecycle"
	"github.com/tjfontaine/wikifront/internal/output"
	"github.com/tjfontaine/wikifront/internal/page"
	"github.com/tjfontaine/wikifront/internal/permission"
	"github.com/tjfontaine/wikifront/internal/redirect"
	"github.com/tjfontaine/wikifront/internal/resolve"
	"github.com/tjfontaine/wikifront/internal/server"
	"github.com/tjfontaine/wikifront/internal/special"
	"github.com/tjfontaine/wikifront/internal/storage"
	"github.com/tjfontaine/wikifront/internal/storage/memory"
	"github.com/tjfontaine/wikifront/internal/storage/sqlite"
	"github.com/tjfontaine/wikifront/internal/title"
	"github.com/tjfontaine/wikifront/internal/variant"
)

// Software is reported by Special:Version.
const Software = "wikifront"

// pipeline is everything built from one configuration.
type pipeline struct {
	cfg     *config.Config
	codec   *title.Codec
	runner  *jobs.Runner
	coord   *lifecycle.Coordinator
	handler http.Handler
}

// openStore opens the backend named by the storage section.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Factory, error) {
	switch cfg.Type {
	case "sqlite":
		store, err := sqlite.New(ctx, cfg.SQLite.Path, cfg.SQLite.JobsPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case "memory", "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// NewCodec builds the title codec for cfg.
func NewCodec(cfg *config.Config) *title.Codec {
	namespaces := make(map[int]string, len(cfg.Namespaces))
	for _, ns := range cfg.Namespaces {
		namespaces[ns.ID] = ns.Name
	}
	interwiki := make(map[string]title.Interwiki, len(cfg.Interwiki))
	for _, iw := range cfg.Interwiki {
		interwiki[iw.Prefix] = title.Interwiki{URL: iw.URL, Local: iw.Local}
	}
	return title.NewCodec(title.Options{
		Server:          cfg.Server.Server,
		CanonicalServer: cfg.Server.CanonicalServer,
		InternalServer:  cfg.Server.InternalServer,
		ScriptPath:      cfg.Server.ScriptPath,
		ArticlePath:     cfg.Server.ArticlePath,
		MainPage:        cfg.Site.MainPage,
		CapitalLinks:    cfg.Site.CapitalLinks,
		Namespaces:      namespaces,
		Interwiki:       interwiki,
	})
}

// NewRunner builds a job runner with the built-in job types registered.
func NewRunner(cfg *config.Config, codec *title.Codec, store storage.Factory, logger *slog.Logger) *jobs.Runner {
	runner := jobs.NewRunner(store, cfg.Jobs.MaxAttempts, logger)
	runner.Register(jobs.TypeRefreshLinks, jobs.NewLinkRefresher(codec))
	runner.Register(jobs.TypeNull, jobs.Null)
	return runner
}

func users(cfgs []config.UserConfig) []*auth.User {
	out := make([]*auth.User, 0, len(cfgs))
	for _, u := range cfgs {
		out = append(out, &auth.User{
			Name:       u.Name,
			Groups:     u.Groups,
			ForceHTTPS: u.ForceHTTPS,
			KeyHash:    u.KeyHash,
		})
	}
	return out
}

// assemble wires every stage for cfg over the shared store.
func (w *Wiki) assemble(cfg *config.Config) (*pipeline, error) {
	codec := NewCodec(cfg)

	hr, err := hooks.NewRegistryFromConfig(cfg.Hooks, w.logger)
	if err != nil {
		return nil, fmt.Errorf("build hooks: %w", err)
	}

	policy, err := permission.NewPolicy(codec, cfg.Permissions)
	if err != nil {
		return nil, fmt.Errorf("build permission policy: %w", err)
	}

	runner := NewRunner(cfg, codec, w.store, w.logger)
	links := jobs.NewLinkRefresher(codec)

	specials := special.NewRegistry()
	special.RegisterDefaults(specials, special.Env{
		Codec:     codec,
		Runner:    runner,
		SecretKey: cfg.Jobs.SecretKey,
		ReadOnly:  cfg.Site.ReadOnly != "",
		Hooks:     hr,
		Software:  Software,
		Logger:    w.logger,
	})

	loader := page.NewLoader(codec)
	actions := action.NewRegistry(cfg.Site.DisabledActions...)
	action.RegisterDefaults(actions, &action.Env{
		Codec:  codec,
		Loader: loader,
		Links:  links,
		Logger: w.logger,
		Now:    time.Now,
	})
	if err := actions.Validate(); err != nil {
		return nil, fmt.Errorf("build actions: %w", err)
	}

	invoker := w.invoker
	if invoker == nil {
		invoker = jobs.NewHTTPInvoker(
			config.Duration(cfg.Jobs.ConnectTimeout, 100*time.Millisecond),
			config.Duration(cfg.Jobs.WriteTimeout, time.Second),
		)
	}
	trigger := jobs.NewTrigger(jobs.TriggerConfig{
		Rate:      cfg.Jobs.RunRate,
		Async:     cfg.Jobs.RunAsync,
		SecretKey: cfg.Jobs.SecretKey,
		ReadOnly:  cfg.Site.ReadOnly != "",
	}, codec, runner, invoker, w.logger)

	cdn := cfg.Site.CDN
	stages := lifecycle.Stages{
		Codec:    codec,
		Store:    w.store,
		Hooks:    hr,
		Resolver: resolve.NewResolver(codec, variant.FromConfig(codec, cfg.Site.Variants)),
		Normalizer: redirect.NewNormalizer(codec, hr.TestCanonicalRedirect, specials, redirect.Options{
			MaxAge:      cdn.RedirectMaxAge,
			UsePathInfo: cfg.Server.UsePathInfo,
		}),
		Gate:        access.NewGate(codec, policy),
		Initializer: article.NewInitializer(loader, hr.InitializeArticleMaybeRedirect, cfg.Site.DisableHardRedirects),
		Dispatcher: action.NewDispatcher(codec, actions, policy, hr, action.DispatcherOptions{
			CDN:       cdn.Enabled,
			CDNMaxAge: cdn.MaxAge,
			ReadOnly:  cfg.Site.ReadOnly,
		}),
		Special: specials,
		Trigger: trigger,
		Skin:    output.NewSkin(cfg.Site.Name, codec.LocalURL(codec.MainPage(), "")),
	}

	coord := lifecycle.New(stages, lifecycle.Options{
		CDN:               cdn.Enabled,
		ForceHTTPS:        cfg.Server.ForceHTTPS,
		MaxAgeLagged:      cdn.MaxAgeLagged,
		StickTTL:          time.Duration(cfg.Site.DatacenterStickTTL) * time.Second,
		MaxWriteDuration:  config.Duration(cfg.Site.MaxWriteDuration, 0),
		DeferPostResponse: cfg.Server.DeferPostResponse,
	}, w.logger)

	// Users reload with the pipeline.
	handler := server.PrincipalMiddleware(auth.NewAuthenticator(users(cfg.Users)))(coord)

	return &pipeline{
		cfg:     cfg,
		codec:   codec,
		runner:  runner,
		coord:   coord,
		handler: handler,
	}, nil
}
