package special

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/tjfontaine/wikifront/internal/deferred"
	"github.com/tjfontaine/wikifront/internal/jobs"
	"github.com/tjfontaine/wikifront/internal/request"
)

var (
	runJobsRequired = []string{"title", "tasks", "signature", "sigexpiry"}
	runJobsOptional = []string{"maxjobs", "maxtime", "type", "async"}
)

// RunJobs executes queued jobs for a signed POST from the job trigger.
// Async requests are answered with 202 before the jobs run.
type RunJobs struct {
	Runner    *jobs.Runner
	SecretKey string
	ReadOnly  bool
	Logger    *slog.Logger
	Now       func() time.Time
}

func (*RunJobs) Name() string { return "RunJobs" }

func (p *RunJobs) Execute(ctx context.Context, rc *request.Context, sub string) error {
	out := rc.Output()
	out.Disable()
	req := rc.Request

	if p.ReadOnly {
		plain(rc, http.StatusLocked, "Wiki is in read-only mode.")
		return nil
	}
	if !req.WasPosted() {
		plain(rc, http.StatusBadRequest, "Request must be POSTed.")
		return nil
	}

	var missing []string
	for _, k := range runJobsRequired {
		if !req.Check(k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		plain(rc, http.StatusBadRequest, "Missing parameters: "+strings.Join(missing, ", "))
		return nil
	}

	signed := url.Values{}
	for _, k := range slices.Concat(runJobsRequired, runJobsOptional) {
		if req.Check(k) {
			signed.Set(k, req.Val(k, ""))
		}
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	if !jobs.Verify(signed, p.SecretKey, signed.Get("signature")) || req.Int("sigexpiry") < now().Unix() {
		plain(rc, http.StatusBadRequest, "Invalid or stale signature provided.")
		return nil
	}

	opts := jobs.RunOptions{
		Type:    req.Val("type", ""),
		MaxJobs: int(req.Int("maxjobs")),
		MaxTime: 30 * time.Second,
	}
	if req.Check("maxtime") {
		opts.MaxTime = time.Duration(req.Int("maxtime")) * time.Second
	}
	runJobs := slices.Contains(strings.Split(req.Val("tasks", ""), "|"), "jobs")

	async := !req.Check("async") || req.Bool("async")
	if async {
		out.SetStatus(http.StatusAccepted)
		out.SetRaw("text/plain; charset=utf-8", nil)
		if runJobs {
			rc.Deferred().Add(deferred.PostSend, deferred.Func(func(ctx context.Context) error {
				p.run(ctx, opts)
				return nil
			}))
		}
		return nil
	}

	res := jobs.RunResult{Jobs: []jobs.JobResult{}}
	if runJobs {
		res = p.run(ctx, opts)
	}
	body, err := json.Marshal(res)
	if err != nil {
		return err
	}
	out.SetRaw("application/json; charset=utf-8", body)
	return nil
}

func (p *RunJobs) run(ctx context.Context, opts jobs.RunOptions) jobs.RunResult {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	res := p.Runner.Run(ctx, opts)
	logger.Info("jobs run",
		slog.String("component", "runjobs"),
		slog.Int("jobs", len(res.Jobs)),
		slog.String("reached", res.Reached))
	return res
}

func plain(rc *request.Context, status int, msg string) {
	out := rc.Output()
	out.SetStatus(status)
	out.SetRaw("text/plain; charset=utf-8", []byte(msg+"\n"))
}
