// Package access is the read gate in front of every routed request.
package access

import (
	"context"

	"github.com/tjfontaine/wikifront/internal/permission"
	"github.com/tjfontaine/wikifront/internal/request"
	"github.com/tjfontaine/wikifront/internal/title"
	"github.com/tjfontaine/wikifront/internal/wikierr"
)

// Gate checks the read permission of the request's current title.
type Gate struct {
	codec  *title.Codec
	engine permission.Engine
}

func NewGate(codec *title.Codec, engine permission.Engine) *Gate {
	return &Gate{codec: codec, engine: engine}
}

// Check returns a *wikierr.PermissionError on denial. The context title is
// replaced by the bad title sentinel first, so nothing rendered afterwards
// can reveal what was asked for. Special:RunJobs authenticates by signature
// and is not checked here.
func (g *Gate) Check(ctx context.Context, rc *request.Context) error {
	t, ok := rc.Title()
	if !ok || t.IsSpecial("RunJobs") {
		return nil
	}
	errs := g.engine.CheckRead(ctx, t, rc.User())
	if len(errs) == 0 {
		return nil
	}
	rc.SetTitle(g.codec.BadTitle())
	return &wikierr.PermissionError{Action: "read", Errors: errs}
}
