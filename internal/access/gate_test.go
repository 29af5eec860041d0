package access

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/wikifront/internal/auth"
	"github.com/tjfontaine/wikifront/internal/output"
	"github.com/tjfontaine/wikifront/internal/request"
	"github.com/tjfontaine/wikifront/internal/title"
	"github.com/tjfontaine/wikifront/internal/wikierr"
)

// recordingEngine denies every title listed in deny and records calls.
type recordingEngine struct {
	deny  map[string]bool
	calls []string
}

func (e *recordingEngine) CheckRead(ctx context.Context, t title.Title, u *auth.User) []string {
	e.calls = append(e.calls, t.PrefixedDBKey())
	if e.deny[t.PrefixedDBKey()] {
		return []string{"badaccess-group0"}
	}
	return nil
}

func (e *recordingEngine) Check(ctx context.Context, right string, t title.Title, u *auth.User) []string {
	return e.CheckRead(ctx, t, u)
}

func newContext(t title.Title) *request.Context {
	r := httptest.NewRequest(http.MethodGet, "/wiki/"+t.PrefixedDBKey(), nil)
	rc := request.NewContext(request.New(r, ""), nil, output.NewPage(output.Options{}), nil, nil)
	rc.SetTitle(t)
	return rc
}

func TestGateAllows(t *testing.T) {
	codec := title.NewCodec(title.Options{})
	engine := &recordingEngine{}
	rc := newContext(codec.MakeTitle(title.NSMain, "Foo"))

	require.NoError(t, NewGate(codec, engine).Check(context.Background(), rc))
	got, _ := rc.Title()
	assert.Equal(t, "Foo", got.PrefixedDBKey())
	assert.Equal(t, []string{"Foo"}, engine.calls)
}

func TestGateMasksTitleBeforeDenying(t *testing.T) {
	codec := title.NewCodec(title.Options{})
	engine := &recordingEngine{deny: map[string]bool{"Bar": true}}
	rc := newContext(codec.MakeTitle(title.NSMain, "Bar"))

	err := NewGate(codec, engine).Check(context.Background(), rc)
	require.Error(t, err)
	assert.True(t, wikierr.IsDenied(err))

	got, _ := rc.Title()
	assert.True(t, codec.IsBadTitle(got))

	ep, ok := wikierr.AsErrorPage(err)
	require.True(t, ok)
	out := rc.Output()
	ep.Report(out)
	assert.Equal(t, http.StatusForbidden, out.Status())
	assert.False(t, strings.Contains(out.Body(), "Bar"))
	assert.NotContains(t, err.Error(), "Bar")
}

func TestGateSkipsRunJobs(t *testing.T) {
	codec := title.NewCodec(title.Options{})
	engine := &recordingEngine{deny: map[string]bool{"Special:RunJobs": true}}
	rc := newContext(codec.SpecialTitle("RunJobs", ""))

	require.NoError(t, NewGate(codec, engine).Check(context.Background(), rc))
	assert.Empty(t, engine.calls)
}
