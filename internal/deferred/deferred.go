// Package deferred queues work that runs after the main request work: once
// before the response is sent and once after it.
package deferred

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tjfontaine/wikifront/internal/storage"
)

// Stage selects when an update runs.
type Stage int

const (
	// PreSend updates run before output and may still affect it.
	PreSend Stage = iota
	// PostSend updates run after the client has the response.
	PostSend
)

func (s Stage) String() string {
	if s == PreSend {
		return "presend"
	}
	return "postsend"
}

// Update is one unit of deferred work.
type Update interface {
	Do(ctx context.Context) error
}

// Enqueueable updates can be turned into a job when running them fails.
type Enqueueable interface {
	Update
	AsJob() *storage.Job
}

// Func adapts a function to Update.
type Func func(ctx context.Context) error

func (f Func) Do(ctx context.Context) error { return f(ctx) }

// EnqueueFunc receives jobs made from failed enqueueable updates.
type EnqueueFunc func(ctx context.Context, jobs ...*storage.Job) error

// Queue holds the updates of one request. It is not safe for concurrent use.
type Queue struct {
	updates map[Stage][]Update
	logger  *slog.Logger
}

// NewQueue returns an empty queue.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{updates: make(map[Stage][]Update), logger: logger}
}

func (q *Queue) Add(stage Stage, u Update) {
	q.updates[stage] = append(q.updates[stage], u)
}

// Len reports the number of pending updates for stage.
func (q *Queue) Len(stage Stage) int { return len(q.updates[stage]) }

// Run drains stage, including updates added while it runs. A failed
// enqueueable update is handed to enqueue as a job; other failures are
// logged and collected.
func (q *Queue) Run(ctx context.Context, stage Stage, enqueue EnqueueFunc) error {
	var errs []error
	for len(q.updates[stage]) > 0 {
		batch := q.updates[stage]
		q.updates[stage] = nil
		for _, u := range batch {
			if err := q.runOne(ctx, u); err != nil {
				if e, ok := u.(Enqueueable); ok && enqueue != nil {
					job := e.AsJob()
					qerr := enqueue(ctx, job)
					if qerr == nil {
						q.logger.Info("deferred update converted to job",
							slog.String("stage", stage.String()),
							slog.String("job", job.Type),
							slog.String("error", err.Error()))
						continue
					}
					err = errors.Join(err, qerr)
				}
				q.logger.Error("deferred update failed",
					slog.String("stage", stage.String()),
					slog.String("error", err.Error()))
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (q *Queue) runOne(ctx context.Context, u Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deferred update panicked: %v", r)
		}
	}()
	return u.Do(ctx)
}
