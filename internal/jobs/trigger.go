package jobs

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tjfontaine/wikifront/internal/storage"
	"github.com/tjfontaine/wikifront/internal/title"
)

// SignatureTTL is how long a trigger request stays valid.
const SignatureTTL = 5 * time.Second

// Result says how a Trigger call ended.
type Result string

const (
	ResultSkipped      Result = "skipped"
	ResultNotSelected  Result = "not-selected"
	ResultRanSync      Result = "ran-sync"
	ResultNoJobs       Result = "no-jobs"
	ResultCheckFailed  Result = "check-failed"
	ResultInvoked      Result = "invoked"
	ResultInvokeFailed Result = "invoke-failed"
)

// Invoker sends the signed run-jobs request and reports the response status.
type Invoker interface {
	Invoke(ctx context.Context, url string) (int, error)
}

// HTTPInvoker posts with tight timeouts and never reads the response body.
type HTTPInvoker struct {
	client *http.Client
}

// NewHTTPInvoker bounds the connect and the wait for the status line.
func NewHTTPInvoker(connectTimeout, writeTimeout time.Duration) *HTTPInvoker {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &HTTPInvoker{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   writeTimeout,
				ResponseHeaderTimeout: writeTimeout,
				DisableKeepAlives:     true,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// NewClientInvoker posts through client as given.
func NewClientInvoker(client *http.Client) *HTTPInvoker {
	return &HTTPInvoker{client: client}
}

func (i *HTTPInvoker) Invoke(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
	if err != nil {
		return 0, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// TriggerConfig is the job-trigger policy.
type TriggerConfig struct {
	// Rate is the number of jobs to run per request; fractions are
	// probabilities.
	Rate      float64
	Async     bool
	SecretKey string
	ReadOnly  bool
}

// Trigger runs or requests background jobs after ordinary requests.
type Trigger struct {
	cfg     TriggerConfig
	codec   *title.Codec
	runner  *Runner
	invoker Invoker
	logger  *slog.Logger

	rand     func() float64
	now      func() time.Time
	observer func(Result)
}

func NewTrigger(cfg TriggerConfig, codec *title.Codec, runner *Runner, invoker Invoker, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{
		cfg:     cfg,
		codec:   codec,
		runner:  runner,
		invoker: invoker,
		logger:  logger.With(slog.String("component", "runjobs")),
		rand:    rand.Float64,
		now:     time.Now,
	}
}

// SetRand replaces the source of the uniform draw in [0, 1).
func (t *Trigger) SetRand(fn func() float64) { t.rand = fn }

// SetClock replaces the time source used for signature expiry.
func (t *Trigger) SetClock(now func() time.Time) { t.now = now }

// OnResult registers a callback for every Trigger outcome.
func (t *Trigger) OnResult(fn func(Result)) { t.observer = fn }

// Trigger is best effort: every failure is logged and none is returned.
func (t *Trigger) Trigger(ctx context.Context, current title.Title, queue storage.JobQueue) Result {
	res := t.trigger(ctx, current, queue)
	if t.observer != nil {
		t.observer(res)
	}
	return res
}

func (t *Trigger) trigger(ctx context.Context, current title.Title, queue storage.JobQueue) Result {
	if current.IsSpecial("RunJobs") || t.cfg.Rate <= 0 || t.cfg.ReadOnly {
		return ResultSkipped
	}

	n := int(t.cfg.Rate)
	if t.cfg.Rate < 1 {
		if t.rand() >= t.cfg.Rate {
			return ResultNotSelected
		}
		n = 1
	}

	if !t.cfg.Async {
		res := t.runner.Run(ctx, RunOptions{MaxJobs: n})
		t.logger.Info("ran jobs in process",
			slog.Int("jobs", len(res.Jobs)),
			slog.String("reached", res.Reached))
		return ResultRanSync
	}

	has, err := queue.HasJobs(ctx, "")
	if err != nil {
		t.logger.Error("failed to check job queue", slog.String("error", err.Error()))
		return ResultCheckFailed
	}
	if !has {
		return ResultNoJobs
	}

	target := t.URL(n)
	t.logger.Info("running jobs via request",
		slog.Int("maxjobs", n),
		slog.String("url", target))

	status, err := t.invoker.Invoke(ctx, target)
	if err == nil && status != http.StatusAccepted {
		err = errors.New("received status " + strconv.Itoa(status))
	}
	if err != nil {
		t.logger.Error("failed to start job runner", slog.String("error", err.Error()))
		return ResultInvokeFailed
	}
	return ResultInvoked
}

// URL is the signed canonical run-jobs URL for n jobs.
func (t *Trigger) URL(n int) string {
	query := url.Values{
		"title":     {"Special:RunJobs"},
		"tasks":     {"jobs"},
		"maxjobs":   {strconv.Itoa(n)},
		"sigexpiry": {strconv.FormatInt(t.now().Add(SignatureTTL).Unix(), 10)},
	}
	query.Set("signature", Signature(query, t.cfg.SecretKey))
	return t.codec.CanonicalScriptURL(title.EncodeQuery(query))
}
