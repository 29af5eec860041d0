package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tjfontaine/wikifront/internal/storage"
)

// Executor runs one job type inside the runner's session.
type Executor interface {
	Run(ctx context.Context, sess storage.Session, job *storage.Job) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, sess storage.Session, job *storage.Job) error

func (f ExecutorFunc) Run(ctx context.Context, sess storage.Session, job *storage.Job) error {
	return f(ctx, sess, job)
}

// Why a run stopped.
const (
	ReachedNoneReady = "none-ready"
	ReachedJobLimit  = "job-limit"
	ReachedTimeLimit = "time-limit"
	ReachedError     = "queue-error"
)

// RunOptions bounds one run.
type RunOptions struct {
	// Type restricts the run to one job type; empty means any.
	Type    string
	MaxJobs int
	MaxTime time.Duration
}

// JobResult describes one executed job.
type JobResult struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	TimeMS int64  `json:"time"`
}

// RunResult is the outcome of Runner.Run.
type RunResult struct {
	Jobs    []JobResult `json:"jobs"`
	Reached string      `json:"reached"`
}

// Runner pops and executes jobs, one storage session per job.
type Runner struct {
	factory     storage.Factory
	maxAttempts int
	logger      *slog.Logger

	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRunner(factory storage.Factory, maxAttempts int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		factory:     factory,
		maxAttempts: maxAttempts,
		logger:      logger,
		executors:   make(map[string]Executor),
	}
}

// Register installs the executor for a job type.
func (r *Runner) Register(typ string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[typ] = e
}

func (r *Runner) executor(typ string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[typ]
	return e, ok
}

// Run executes jobs until the queue is empty or a limit is reached.
func (r *Runner) Run(ctx context.Context, opts RunOptions) RunResult {
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = 1
	}
	if opts.MaxTime <= 0 {
		opts.MaxTime = 30 * time.Second
	}
	start := time.Now()
	res := RunResult{Jobs: []JobResult{}}

	for {
		if len(res.Jobs) >= opts.MaxJobs {
			res.Reached = ReachedJobLimit
			return res
		}
		if time.Since(start) >= opts.MaxTime {
			res.Reached = ReachedTimeLimit
			return res
		}

		jr, err := r.runOne(ctx, opts.Type)
		if errors.Is(err, storage.ErrNotFound) {
			res.Reached = ReachedNoneReady
			return res
		}
		if err != nil {
			r.logger.Error("job queue error", slog.String("error", err.Error()))
			res.Reached = ReachedError
			return res
		}
		res.Jobs = append(res.Jobs, jr)
	}
}

func (r *Runner) runOne(ctx context.Context, typ string) (JobResult, error) {
	sess, err := r.factory.Begin(ctx)
	if err != nil {
		return JobResult{}, err
	}
	defer func() {
		if err := sess.Shutdown(ctx); err != nil {
			r.logger.Warn("job session shutdown failed", slog.String("error", err.Error()))
		}
	}()

	job, err := sess.Jobs().Pop(ctx, typ)
	if err != nil {
		return JobResult{}, err
	}

	start := time.Now()
	jr := JobResult{Type: job.Type, Status: "ok"}
	runErr := r.execute(ctx, sess, job)
	jr.TimeMS = time.Since(start).Milliseconds()

	if runErr == nil {
		if err := sess.Jobs().Ack(ctx, job); err != nil {
			return jr, err
		}
		if err := sess.CommitAll(ctx, storage.CommitOptions{}); err != nil {
			runErr = fmt.Errorf("commit: %w", err)
		}
	}
	if runErr != nil {
		jr.Status = "failed"
		jr.Error = runErr.Error()
		r.logger.Warn("job failed",
			slog.String("type", job.Type),
			slog.Int64("id", job.ID),
			slog.Int("attempt", job.Attempts+1),
			slog.String("error", runErr.Error()))

		if err := sess.Rollback(ctx); err != nil {
			return jr, err
		}
		if err := sess.Jobs().Nack(ctx, job, r.maxAttempts); err != nil {
			return jr, err
		}
		if err := sess.CommitAll(ctx, storage.CommitOptions{}); err != nil {
			return jr, err
		}
		return jr, nil
	}

	r.logger.Info("job done",
		slog.String("type", job.Type),
		slog.Int64("id", job.ID),
		slog.Int64("time_ms", jr.TimeMS))
	return jr, nil
}

func (r *Runner) execute(ctx context.Context, sess storage.Session, job *storage.Job) (err error) {
	e, ok := r.executor(job.Type)
	if !ok {
		return fmt.Errorf("unrecognized job type %q", job.Type)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return e.Run(ctx, sess, job)
}
