package jobs

import (
	"context"

	"github.com/tjfontaine/wikifront/internal/storage"
)

// LazyBuffer collects jobs during a request; they reach the queue only
// after the response is sent.
type LazyBuffer struct {
	jobs []*storage.Job
}

func (b *LazyBuffer) Push(jobs ...*storage.Job) {
	b.jobs = append(b.jobs, jobs...)
}

func (b *LazyBuffer) Len() int { return len(b.jobs) }

// Flush pushes the buffered jobs to q and empties the buffer. The buffer
// keeps its jobs when the push fails.
func (b *LazyBuffer) Flush(ctx context.Context, q storage.JobQueue) error {
	if len(b.jobs) == 0 {
		return nil
	}
	if err := q.Push(ctx, b.jobs...); err != nil {
		return err
	}
	b.jobs = nil
	return nil
}
