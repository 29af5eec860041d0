package deferred

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/wikifront/internal/storage"
)

type failingLinksUpdate struct{ calls int }

func (u *failingLinksUpdate) Do(ctx context.Context) error {
	u.calls++
	return errors.New("replica gone")
}

func (u *failingLinksUpdate) AsJob() *storage.Job {
	return &storage.Job{Type: "refreshLinks", DBKey: "Foo"}
}

func TestQueue_RunsStagesSeparately(t *testing.T) {
	q := NewQueue(nil)
	var order []string
	q.Add(PostSend, Func(func(ctx context.Context) error { order = append(order, "post"); return nil }))
	q.Add(PreSend, Func(func(ctx context.Context) error { order = append(order, "pre"); return nil }))

	require.NoError(t, q.Run(context.Background(), PreSend, nil))
	assert.Equal(t, []string{"pre"}, order)
	assert.Equal(t, 1, q.Len(PostSend))

	require.NoError(t, q.Run(context.Background(), PostSend, nil))
	assert.Equal(t, []string{"pre", "post"}, order)
	assert.Zero(t, q.Len(PostSend))
}

func TestQueue_NestedAdds(t *testing.T) {
	q := NewQueue(nil)
	ran := 0
	q.Add(PostSend, Func(func(ctx context.Context) error {
		ran++
		q.Add(PostSend, Func(func(ctx context.Context) error { ran++; return nil }))
		return nil
	}))
	require.NoError(t, q.Run(context.Background(), PostSend, nil))
	assert.Equal(t, 2, ran)
}

func TestQueue_FailedEnqueueableBecomesJob(t *testing.T) {
	q := NewQueue(nil)
	u := &failingLinksUpdate{}
	q.Add(PostSend, u)

	var pushed []*storage.Job
	err := q.Run(context.Background(), PostSend, func(ctx context.Context, jobs ...*storage.Job) error {
		pushed = append(pushed, jobs...)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, pushed, 1)
	assert.Equal(t, "refreshLinks", pushed[0].Type)
	assert.Equal(t, 1, u.calls)
}

func TestQueue_FailuresAndPanicsAreCollected(t *testing.T) {
	q := NewQueue(nil)
	boom := errors.New("boom")
	ran := false
	q.Add(PreSend, Func(func(ctx context.Context) error { return boom }))
	q.Add(PreSend, Func(func(ctx context.Context) error { panic("bad update") }))
	q.Add(PreSend, Func(func(ctx context.Context) error { ran = true; return nil }))

	err := q.Run(context.Background(), PreSend, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad update")
	assert.True(t, ran, "later updates still run")
}
