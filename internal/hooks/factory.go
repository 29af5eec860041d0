package hooks

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/wikifront/internal/config"
)

// NewRegistryFromConfig builds a registry with a webhook hook for each
// configured entry.
func NewRegistryFromConfig(cfgs []config.HookConfig, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry()

	for _, hc := range cfgs {
		wc, err := webhookConfig(hc, logger)
		if err != nil {
			return nil, fmt.Errorf("hook %s: %w", hc.Name, err)
		}

		switch wc.Point {
		case BeforeInitialize:
			r.BeforeInitialize.Add(NewWebhook[BeforeInitializeInput](wc), hc.Order)
		case TestCanonicalRedirect:
			r.TestCanonicalRedirect.Add(NewWebhook[CanonicalRedirectInput](wc), hc.Order)
		case InitializeArticleMaybeRedirect:
			r.InitializeArticleMaybeRedirect.Add(NewWebhook[MaybeRedirectInput](wc), hc.Order)
		case MediaWikiPerformAction:
			r.MediaWikiPerformAction.Add(NewWebhook[PerformActionInput](wc), hc.Order)
		case UnknownAction:
			r.UnknownAction.Add(NewWebhook[UnknownActionInput](wc), hc.Order)
		case BeforeHTTPSRedirect:
			r.BeforeHTTPSRedirect.Add(NewWebhook[HTTPSRedirectInput](wc), hc.Order)
		default:
			return nil, fmt.Errorf("hook %s: unknown point %q", hc.Name, hc.Point)
		}
	}

	return r, nil
}

func webhookConfig(cfg config.HookConfig, logger *slog.Logger) (WebhookConfig, error) {
	if cfg.URL == "" {
		return WebhookConfig{}, fmt.Errorf("url is required")
	}

	timeout := 2 * time.Second // Default
	if cfg.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(cfg.Timeout)
		if err != nil {
			return WebhookConfig{}, fmt.Errorf("invalid timeout %q: %w", cfg.Timeout, err)
		}
	}

	var onError Outcome
	switch cfg.OnError {
	case "", "continue":
		onError = Continue
	case "veto":
		onError = Veto
	default:
		return WebhookConfig{}, fmt.Errorf("invalid on_error %q (must be 'continue' or 'veto')", cfg.OnError)
	}

	return WebhookConfig{
		Name:    cfg.Name,
		Point:   Point(cfg.Point),
		URL:     cfg.URL,
		Timeout: timeout,
		OnError: onError,
		Retries: cfg.Retries,
		Headers: cfg.Headers,
		Logger:  logger,
	}, nil
}
