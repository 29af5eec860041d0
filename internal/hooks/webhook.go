package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// defaultRetryInterval is the first delay between webhook attempts.
const defaultRetryInterval = 100 * time.Millisecond

// Webhook calls an external HTTP endpoint to decide for one extension point.
type Webhook[In any] struct {
	name    string
	point   Point
	url     string
	timeout time.Duration
	onError Outcome // Decision to return when the endpoint cannot be reached
	retries int
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger

	// retryInterval is the first backoff delay; later ones grow from it.
	retryInterval time.Duration
}

// WebhookConfig configures a webhook hook.
type WebhookConfig struct {
	Name    string
	Point   Point
	URL     string
	Timeout time.Duration
	OnError Outcome // continue or veto (default: continue)
	Retries int
	Headers map[string]string
	Client  *http.Client
	Logger  *slog.Logger

	// RetryInterval is the first delay between attempts (default 100ms).
	RetryInterval time.Duration
}

// NewWebhook creates a new webhook hook.
func NewWebhook[In any](cfg WebhookConfig) *Webhook[In] {
	onError := cfg.OnError
	if onError == "" {
		onError = Continue
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}

	return &Webhook[In]{
		name:    cfg.Name,
		point:   cfg.Point,
		url:     cfg.URL,
		timeout: cfg.Timeout,
		onError: onError,
		retries: cfg.Retries,
		headers: cfg.Headers,
		client:  client,
		logger:  logger,

		retryInterval: retryInterval,
	}
}

// Name returns the hook identifier.
func (h *Webhook[In]) Name() string {
	return h.name
}

type webhookRequest[In any] struct {
	Point Point `json:"point"`
	Input In    `json:"input"`
}

// Handle executes the webhook call.
func (h *Webhook[In]) Handle(ctx context.Context, in In) (Decision, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = h.retryInterval
	policy.MaxElapsedTime = 0

	var d Decision
	lastErr := backoff.Retry(func() error {
		var err error
		d, err = h.doRequest(ctx, in)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(h.retries, 0))), ctx))
	if lastErr == nil {
		return d, nil
	}

	h.logger.Warn("hook webhook failed",
		slog.String("hook", h.name),
		slog.String("point", string(h.point)),
		slog.String("on_error", string(h.onError)),
		slog.String("error", lastErr.Error()))

	// All retries failed - apply onError behavior
	switch h.onError {
	case Continue:
		return Decision{Outcome: Continue}, nil
	case Veto:
		return Decision{Outcome: Veto, Reason: fmt.Sprintf("webhook error: %v", lastErr)}, nil
	default:
		return Decision{}, fmt.Errorf("webhook hook %s failed: %w", h.name, lastErr)
	}
}

func (h *Webhook[In]) doRequest(ctx context.Context, in In) (Decision, error) {
	body, err := json.Marshal(webhookRequest[In]{Point: h.point, Input: in})
	if err != nil {
		return Decision{}, fmt.Errorf("marshal hook input: %w", err)
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Decision{}, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Decision{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Decision{}, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var d Decision
	if err := json.Unmarshal(respBody, &d); err != nil {
		return Decision{}, fmt.Errorf("unmarshal hook decision: %w", err)
	}

	switch d.Outcome {
	case Continue, Veto, Override:
	case "":
		d.Outcome = Continue
	default:
		return Decision{}, fmt.Errorf("invalid decision from webhook: %s", d.Outcome)
	}

	return d, nil
}

// Ensure Webhook implements the interface.
var _ Hook[UnknownActionInput] = (*Webhook[UnknownActionInput])(nil)
