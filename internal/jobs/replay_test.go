package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tjfontaine/wikifront/internal/testutil"
	"github.com/tjfontaine/wikifront/internal/title"
)

// The cassette holds the responses of a live Special:RunJobs endpoint: an
// accepted run and a rejected signature.
func TestTrigger_ReplayedRunJobsEndpoint(t *testing.T) {
	r, stop := testutil.NewVCRRecorder(t, "runjobs_trigger")
	defer stop()

	inv := NewClientInvoker(testutil.VCRHTTPClient(r))
	foo := newCodec().MakeTitle(title.NSMain, "Foo")

	accepted := newTrigger(TriggerConfig{Rate: 1, Async: true, SecretKey: "s3cret"}, inv)
	assert.Equal(t, ResultInvoked, accepted.Trigger(context.Background(), foo, &fakeQueue{has: true}))

	// A 400 from the runner is a failed invoke, not an error for the page.
	rejected := newTrigger(TriggerConfig{Rate: 2, Async: true, SecretKey: "s3cret"}, inv)
	assert.Equal(t, ResultInvokeFailed, rejected.Trigger(context.Background(), foo, &fakeQueue{has: true}))
}
