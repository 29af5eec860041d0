package request

import (
	"github.com/tjfontaine/wikifront/internal/auth"
	"github.com/tjfontaine/wikifront/internal/deferred"
	"github.com/tjfontaine/wikifront/internal/jobs"
	"github.com/tjfontaine/wikifront/internal/output"
	"github.com/tjfontaine/wikifront/internal/page"
	"github.com/tjfontaine/wikifront/internal/storage"
	"github.com/tjfontaine/wikifront/internal/title"
)

// Phase is a state of the request lifecycle.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseRouting
	PhaseDispatching
	PhasePreCommit
	PhaseOutput
	PhasePostResponse
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseRouting:
		return "routing"
	case PhaseDispatching:
		return "dispatching"
	case PhasePreCommit:
		return "precommit"
	case PhaseOutput:
		return "output"
	case PhasePostResponse:
		return "postresponse"
	case PhaseTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Context is the mutable state of one request. It is owned by the
// lifecycle coordinator; stages receive it and read or write through it.
// It is not safe for concurrent use.
type Context struct {
	Request *WebRequest

	title    title.Title
	hasTitle bool
	article  *page.Article

	user    *auth.User
	out     *output.Page
	session storage.Session
	updates *deferred.Queue
	lazy    jobs.LazyBuffer

	action    string
	hasAction bool

	variantText string
	phases      []Phase
}

// NewContext binds the collaborators of one request.
func NewContext(req *WebRequest, user *auth.User, out *output.Page, sess storage.Session, updates *deferred.Queue) *Context {
	if user == nil {
		user = auth.Anonymous()
	}
	return &Context{
		Request: req,
		user:    user,
		out:     out,
		session: sess,
		updates: updates,
		phases:  []Phase{PhaseInit},
	}
}

// Title is the current title; ok is false before routing sets one.
func (c *Context) Title() (t title.Title, ok bool) { return c.title, c.hasTitle }

// SetTitle rebinds the current title.
func (c *Context) SetTitle(t title.Title) {
	c.title = t
	c.hasTitle = true
}

func (c *Context) Article() *page.Article { return c.article }

// SetArticle replaces the current article; the previous one is dropped.
func (c *Context) SetArticle(a *page.Article) { c.article = a }

func (c *Context) User() *auth.User { return c.user }

func (c *Context) Output() *output.Page { return c.out }

func (c *Context) Session() storage.Session { return c.session }

func (c *Context) Deferred() *deferred.Queue { return c.updates }

// LazyJobs collects jobs pushed to the queue after the response.
func (c *Context) LazyJobs() *jobs.LazyBuffer { return &c.lazy }

// Action returns the cached action name, if resolved.
func (c *Context) Action() (string, bool) { return c.action, c.hasAction }

// SetAction caches the resolved action name for the rest of the request.
func (c *Context) SetAction(name string) {
	c.action = name
	c.hasAction = true
}

// VariantText is the title text rewritten by variant resolution, or "".
func (c *Context) VariantText() string { return c.variantText }

func (c *Context) SetVariantText(s string) { c.variantText = s }

// Enter records a transition into p.
func (c *Context) Enter(p Phase) { c.phases = append(c.phases, p) }

// Phase is the current lifecycle phase.
func (c *Context) Phase() Phase { return c.phases[len(c.phases)-1] }

// Phases lists every phase entered so far, in order.
func (c *Context) Phases() []Phase { return append([]Phase(nil), c.phases...) }
